// Package domain define contratos e tipos de domínio para coordenação de trabalho
// em processo: vagas de admissão, reciclagem de objetos, diagnóstico e estatísticas.
//
// Este pacote não depende de implementações concretas.
// A intenção é permitir testes de unidade puros e desacoplar as regras de
// coalescência/admissão dos detalhes de infraestrutura (semáforo, fila, redis).
package domain
