package domain

import (
	"context"
	"time"
)

// QueueStats é um snapshot somente-leitura da fila.
type QueueStats struct {
	ActiveRequests        int `json:"activeRequests"`
	QueueLength           int `json:"queueLength"`
	MaxConcurrentRequests int `json:"maxConcurrentRequests"`
	MaxQueueSize          int `json:"maxQueueSize"`

	Dispatched int64 `json:"dispatched"`
	Rejected   int64 `json:"rejected"`
	Dropped    int64 `json:"dropped"`
	TimedOut   int64 `json:"timedOut"`
	Retried    int64 `json:"retried"`
}

// ConnectionStats acumula contadores do gateway; só zeram ao reiniciar o processo.
type ConnectionStats struct {
	PendingAcquires   int   `json:"pendingAcquires"`
	ActiveConnections int64 `json:"activeConnections"`
	TotalCreated      int64 `json:"totalCreated"`
	TotalReleased     int64 `json:"totalReleased"`
	ConnectionErrors  int64 `json:"connectionErrors"`
	SlowQueries       int64 `json:"slowQueries"`

	RequestsInWindow int       `json:"requestsInWindow"`
	WindowStart      time.Time `json:"windowStart"`
}

// Outcome é o resultado de uma decisão de admissão.
type Outcome string

const (
	OutcomeDirect         Outcome = "direct"
	OutcomeQueued         Outcome = "queued"
	OutcomeDispatched     Outcome = "dispatched"
	OutcomeBusy           Outcome = "busy"
	OutcomeQueueFull      Outcome = "queue_full"
	OutcomeOverloaded     Outcome = "overloaded"
	OutcomeDropped        Outcome = "dropped"
	OutcomeTimedOut       Outcome = "timed_out"
	OutcomeTooManyPending Outcome = "too_many_pending"
	OutcomeFailed         Outcome = "failed"
)

// StatsEvent representa um evento de decisão de admissão.
//
// Source identifica o componente ("queue" ou "gateway").
//
// Observação: cuidado com cardinalidade ao persistir Source/Priority em bases
// como Redis/Prometheus.
type StatsEvent struct {
	Source   string
	Outcome  Outcome
	Priority Priority

	At time.Time
}

// StatsStore é a estratégia de persistência para estatísticas de admissão.
//
// Implementações podem armazenar em Redis, Kafka, Prometheus, memória, etc.
// Quem chama deve tratar erro como best-effort (não derrubar a requisição).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
