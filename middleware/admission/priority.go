package admission

import (
	"context"
	"net/http"
	"strings"

	"db-admission-gateway/middleware/admission/domain"
)

// PriorityFunc classifica a prioridade de um request.
type PriorityFunc func(r *http.Request) domain.Priority

type priorityKey struct{}

// WithPriority guarda p no contexto.
func WithPriority(ctx context.Context, p domain.Priority) context.Context {
	return context.WithValue(ctx, priorityKey{}, p)
}

// PriorityFromContext devolve a prioridade classificada pelo Middleware.
// Sem classificação, retorna PriorityNormal e false.
func PriorityFromContext(ctx context.Context) (domain.Priority, bool) {
	p, ok := ctx.Value(priorityKey{}).(domain.Priority)
	if !ok {
		return domain.PriorityNormal, false
	}
	return p, true
}

// DefaultPriorityFunc usa o valor do header (nome da classe ou inteiro) quando
// presente e válido. Sem header, requests cujo path começa com um dos prefixos
// em elevatedPaths recebem PriorityElevated; o resto, PriorityNormal.
func DefaultPriorityFunc(header string, elevatedPaths ...string) PriorityFunc {
	return func(r *http.Request) domain.Priority {
		if header != "" {
			v := strings.ToLower(strings.TrimSpace(r.Header.Get(header)))
			if v != "" {
				if p, ok := domain.ParsePriority(v); ok {
					return p
				}
			}
		}

		for _, prefix := range elevatedPaths {
			if prefix != "" && strings.HasPrefix(r.URL.Path, prefix) {
				return domain.PriorityElevated
			}
		}
		return domain.PriorityNormal
	}
}
