package domain

import "errors"

var (
	// Congestionamento: o sistema está se protegendo. O chamador pode tentar de novo.
	ErrBusy           = errors.New("admission: busy")
	ErrQueueFull      = errors.New("admission: queue full")
	ErrOverloaded     = errors.New("admission: overloaded")
	ErrTooManyPending = errors.New("admission: too many pending connection acquires")

	// ErrDropped é entregue ao item despejado para abrir espaço a um de prioridade elevada.
	ErrDropped = errors.New("admission: dropped from queue")

	// ErrTimedOutInQueue: esperou demais na fila. Nunca é re-tentado automaticamente.
	ErrTimedOutInQueue = errors.New("admission: timed out in queue")
	// ErrOperationTimeout: executou demais. Re-tentado até MaxRetries.
	ErrOperationTimeout = errors.New("admission: operation timed out")

	ErrShuttingDown  = errors.New("admission: shutting down")
	ErrInvalidConfig = errors.New("admission: invalid config")
)

// IsCongestion indica erro de proteção de carga (Busy, QueueFull, Overloaded,
// TooManyPending, Dropped).
func IsCongestion(err error) bool {
	return errors.Is(err, ErrBusy) ||
		errors.Is(err, ErrQueueFull) ||
		errors.Is(err, ErrOverloaded) ||
		errors.Is(err, ErrTooManyPending) ||
		errors.Is(err, ErrDropped)
}

// IsTimeout indica timeout de espera na fila ou de execução.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimedOutInQueue) || errors.Is(err, ErrOperationTimeout)
}
