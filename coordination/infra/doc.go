// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - AdmissionSlots: semáforo de contagem com capacidade ajustável (domain.SlotPool)
//   - RecycleChannel: fila limitada com pool de reciclagem (domain.RecycleQueue)
//   - SyncPool/HeapPool/FuncPolicy: pools e políticas de reciclagem
//   - LogSink: diagnóstico via zerolog, com throttle por mensagem (Store, x/time/rate)
//   - MemoryStatsStore/RedisStatsStore: estatísticas best-effort
package infra
