package application

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// StartReporter emite periodicamente um snapshot dos contadores de conexão.
// Pare cancelando o contexto ou chamando Close.
func (g *Gateway) StartReporter(ctx context.Context) {
	g.mu.Lock()
	every := g.cfg.ReportInterval
	g.mu.Unlock()
	if every <= 0 {
		return
	}

	g.reportMu.Lock()
	defer g.reportMu.Unlock()
	if g.stopReport != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	g.stopReport = cancel
	g.reportDone = make(chan struct{})

	t := time.NewTicker(every)
	go func(done chan struct{}) {
		defer close(done)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				g.report()
			}
		}
	}(g.reportDone)
}

func (g *Gateway) report() {
	s := g.Stats()
	q := g.queue.Stats()
	g.log.WithFields(log.Fields{
		"active":           s.ActiveConnections,
		"total_created":    s.TotalCreated,
		"total_released":   s.TotalReleased,
		"errors":           s.ConnectionErrors,
		"pending_acquires": s.PendingAcquires,
		"queue_active":     q.ActiveRequests,
		"queue_length":     q.QueueLength,
	}).Info("connection pool stats")
}

// Close para o reporter. A Queue pertence a quem a criou e não é fechada aqui.
func (g *Gateway) Close() {
	g.reportMu.Lock()
	cancel, done := g.stopReport, g.reportDone
	g.stopReport, g.reportDone = nil, nil
	g.reportMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}
