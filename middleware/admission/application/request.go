package application

import (
	"sort"
	"time"

	"db-admission-gateway/middleware/admission/domain"
)

type queuedRequest struct {
	id         string
	op         domain.Operation
	priority   domain.Priority
	enqueuedAt time.Time
	seq        uint64
	retryCount int

	// timer expira a espera na fila; parado em toda saída da fila.
	timer   *time.Timer
	settled bool
	future  *Future
}

func (r *queuedRequest) stopTimer() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// before reporta se a deve ser atendido antes de b:
// prioridade desc, depois chegada asc.
func before(a, b *queuedRequest) bool {
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	if !a.enqueuedAt.Equal(b.enqueuedAt) {
		return a.enqueuedAt.Before(b.enqueuedAt)
	}
	return a.seq < b.seq
}

// insertSorted mantém pending ordenado.
func insertSorted(pending []*queuedRequest, req *queuedRequest) []*queuedRequest {
	i := sort.Search(len(pending), func(i int) bool { return before(req, pending[i]) })
	pending = append(pending, nil)
	copy(pending[i+1:], pending[i:])
	pending[i] = req
	return pending
}

// evictionCandidate retorna o item mais antigo da menor prioridade presente,
// desde que essa prioridade esteja abaixo de elevated. -1 se não houver.
func evictionCandidate(pending []*queuedRequest, elevated domain.Priority) int {
	if len(pending) == 0 {
		return -1
	}
	lowest := pending[len(pending)-1].priority
	if lowest >= elevated {
		return -1
	}
	i := len(pending) - 1
	for i > 0 && pending[i-1].priority == lowest {
		i--
	}
	return i
}
