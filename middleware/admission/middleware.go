package admission

import (
	"net/http"

	"db-admission-gateway/middleware/admission/domain"
)

// QueueStatser é o que o Middleware lê para os headers de carga.
type QueueStatser interface {
	Stats() domain.QueueStats
}

type Options struct {
	PriorityFn     PriorityFunc
	PriorityHeader string
	ElevatedPaths  []string

	// Queue, se definida junto com AddAdmissionHeaders, alimenta
	// X-Admission-Active e X-Admission-Queued.
	Queue               QueueStatser
	AddAdmissionHeaders bool
}

// Middleware classifica a prioridade do request e a guarda no contexto para os
// handlers que submetem trabalho à fila.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.PriorityFn == nil {
		opts.PriorityFn = DefaultPriorityFunc(opts.PriorityHeader, opts.ElevatedPaths...)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := opts.PriorityFn(r)

			if opts.AddAdmissionHeaders {
				w.Header().Set("X-Admission-Priority", p.String())
				if opts.Queue != nil {
					s := opts.Queue.Stats()
					w.Header().Set("X-Admission-Active", formatInt(s.ActiveRequests))
					w.Header().Set("X-Admission-Queued", formatInt(s.QueueLength))
				}
			}

			next.ServeHTTP(w, r.WithContext(WithPriority(r.Context(), p)))
		})
	}
}
