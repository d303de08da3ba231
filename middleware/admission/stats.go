package admission

import (
	"encoding/json"
	"net/http"

	"db-admission-gateway/middleware/admission/domain"
)

type ConnectionStatser interface {
	Stats() domain.ConnectionStats
}

type statsResponse struct {
	Queue       domain.QueueStats      `json:"queue"`
	Connections domain.ConnectionStats `json:"connections"`
}

// StatsHandler responde com os snapshots da fila e do gateway em JSON.
func StatsHandler(q QueueStatser, g ConnectionStatser) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var resp statsResponse
		if q != nil {
			resp.Queue = q.Stats()
		}
		if g != nil {
			resp.Connections = g.Stats()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
}
