// Package application contém os casos de uso de coordenação: coalescência de
// trabalho por chave (Debouncer), admissão com timeout (ConcurrencyService) e
// entrega de lotes por frame (FrameChannel).
//
// Ele depende apenas do pacote domain; implementações concretas (semáforo,
// fila de reciclagem) são injetadas pelo pacote coordination.
package application
