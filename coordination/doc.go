// Package coordination monta os primitivos de coordenação de trabalho em processo.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos (SlotPool, RecycleQueue, DiagnosticSink, StatsStore, Result)
//   - application: casos de uso (Debouncer, FrameChannel, ConcurrencyService) sem infraestrutura
//   - infra: implementações concretas (AdmissionSlots, RecycleChannel, pools, LogSink, stats)
//   - coordination (este pacote): wiring das camadas + opções compartilhadas
//
// Fluxo típico:
//
//  1. Produtores chamam FrameChannel.WriteFramePacketData de qualquer goroutine
//  2. Um papel "relógio" chama EndFrameAndEnqueue uma vez por ciclo
//  3. O consumidor chama ReadFrame, devolvendo o pacote anterior para reciclagem
//  4. Trabalho derivado por chave passa por Debouncer.EventuallyOnce, que
//     coalesce duplicatas e admite execuções sob o orçamento de AdmissionSlots
//
// O binário cmd/coordinator exercita esse fluxo e é configurado por variáveis
// de ambiente (MIN_DELAY, MAX_FRAMES, PRODUCERS, STATS_ENABLED, ...).
package coordination
