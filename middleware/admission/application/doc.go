// Package application contém os casos de uso de admissão: a fila de prioridade
// (Queue) e o gateway de conexões (Gateway).
//
// Ele depende apenas do pacote domain e não conhece net/http nem drivers.
// Ex.: Gateway.Acquire(ctx) decide entre conectar direto, enfileirar ou rejeitar.
package application
