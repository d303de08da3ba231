package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"db-admission-gateway/middleware/admission"
	"db-admission-gateway/middleware/admission/application"
	"db-admission-gateway/middleware/admission/domain"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

type server struct {
	queue   *application.Queue
	gateway *application.Gateway
	metrics prometheus.Gatherer
	log     log.FieldLogger

	retryAfter time.Duration
	probeQuery string
}

func (s *server) routes(opts admission.Options) http.Handler {
	r := mux.NewRouter()
	r.Use(admission.Middleware(opts))

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	r.Handle("/stats", admission.StatsHandler(s.queue, s.gateway)).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	r.HandleFunc("/v1/query", s.handleQuery).Methods(http.MethodPost)
	r.HandleFunc("/admin/config", s.handleConfig).Methods(http.MethodPatch)
	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady confirma que o banco responde passando pela admissão com prioridade elevada.
func (s *server) handleReady(w http.ResponseWriter, r *http.Request) {
	_, err := s.gateway.Do(r.Context(), domain.PriorityElevated, func(ctx context.Context, conn domain.Conn) (any, error) {
		return conn.ExecContext(ctx, "SELECT 1")
	})
	if err != nil {
		s.log.WithError(err).Warn("readiness check failed")
		admission.WriteError(w, err, s.retryAfter)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type queryResponse struct {
	Priority string `json:"priority"`
	Rows     int    `json:"rows"`
	Elapsed  string `json:"elapsed"`
}

func (s *server) handleQuery(w http.ResponseWriter, r *http.Request) {
	p, _ := admission.PriorityFromContext(r.Context())
	start := time.Now()

	val, err := s.gateway.Do(r.Context(), p, func(ctx context.Context, conn domain.Conn) (any, error) {
		rows, err := conn.QueryContext(ctx, s.probeQuery)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		n := 0
		for rows.Next() {
			n++
		}
		return n, rows.Err()
	})
	if err != nil {
		entry := s.log.WithError(err).WithField("priority", p)
		if domain.IsCongestion(err) || domain.IsTimeout(err) {
			entry.Debug("query not admitted")
		} else {
			entry.Error("query failed")
		}
		admission.WriteError(w, err, s.retryAfter)
		return
	}

	writeJSON(w, http.StatusOK, queryResponse{
		Priority: p.String(),
		Rows:     val.(int),
		Elapsed:  time.Since(start).String(),
	})
}

// handleConfig aplica um domain.ConfigPatch (JSON; durações em nanossegundos).
func (s *server) handleConfig(w http.ResponseWriter, r *http.Request) {
	var patch domain.ConfigPatch
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&patch); err != nil {
		http.Error(w, "invalid config patch: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.gateway.UpdateConfig(patch); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, http.StatusOK, s.queue.Stats())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
