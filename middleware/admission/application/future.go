package application

import (
	"context"
	"sync"
)

// Future é o resultado de uma operação submetida à fila.
// É resolvido exatamente uma vez.
type Future struct {
	once sync.Once
	done chan struct{}
	val  any
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(val any, err error) bool {
	resolved := false
	f.once.Do(func() {
		f.val, f.err = val, err
		close(f.done)
		resolved = true
	})
	return resolved
}

// Done fecha quando o Future é resolvido.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait bloqueia até o resultado ou até ctx encerrar.
//
// Encerrar ctx não cancela a operação: ela continua na fila (ou executando)
// e será resolvida normalmente.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
