// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - BurstLimiter: limite de rajada usando golang.org/x/time/rate
//   - PostgresConnector: aquisição de conexões via database/sql + lib/pq
//   - *StatsStore: sinks de eventos de admissão (memória, Redis, Kafka, Prometheus)
package infra
