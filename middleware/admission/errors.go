package admission

import (
	"context"
	"errors"
	"net/http"
	"time"

	"db-admission-gateway/middleware/admission/domain"
)

// StatusFor traduz um erro de admissão para status HTTP.
//
// Congestionamento, timeouts e shutdown viram 503 (o cliente pode tentar de
// novo). Contexto do cliente encerrado vira 408; o resto é 500.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case domain.IsCongestion(err), domain.IsTimeout(err), errors.Is(err, domain.ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}

// WriteError responde o erro com o status de StatusFor. Em 503, adiciona
// Retry-After (retryAfter <= 0 usa 1s).
func WriteError(w http.ResponseWriter, err error, retryAfter time.Duration) {
	status := StatusFor(err)
	if status == http.StatusServiceUnavailable {
		if retryAfter <= 0 {
			retryAfter = time.Second
		}
		w.Header().Set("Retry-After", formatSeconds(retryAfter))
	}
	http.Error(w, http.StatusText(status), status)
}
