package application

import (
	"context"
	"database/sql/driver"
	"errors"
	"sync"
	"time"

	"db-admission-gateway/middleware/admission/domain"

	log "github.com/sirupsen/logrus"
)

// Gateway controla o acesso à primitiva de aquisição de conexões do pool.
//
// Caminho rápido: dentro do limite de rajada e abaixo do teto de aquisições
// pendentes, conecta direto. Rajada excedida: a aquisição vira uma Operation
// com prioridade normal na Queue. Toda conexão devolvida é instrumentada.
//
// Gateway implementa domain.Connector, então quem chama não precisa saber dele.
type Gateway struct {
	connector domain.Connector
	queue     *Queue
	burst     domain.BurstLimiter

	mu          sync.Mutex
	cfg         domain.Config
	counters    domain.ConnectionStats
	windowStart time.Time
	inWindow    int

	log   log.FieldLogger
	stats domain.StatsStore

	reportMu   sync.Mutex
	stopReport context.CancelFunc
	reportDone chan struct{}
}

type GatewayOption func(*Gateway)

func WithGatewayLogger(l log.FieldLogger) GatewayOption {
	return func(g *Gateway) { g.log = l }
}

func WithGatewayStats(s domain.StatsStore) GatewayOption {
	return func(g *Gateway) { g.stats = s }
}

// WithBurstLimiter define o limitador de rajada. Sem ele, todo acquire usa o
// caminho rápido (sujeito apenas ao teto de pendentes).
func WithBurstLimiter(b domain.BurstLimiter) GatewayOption {
	return func(g *Gateway) { g.burst = b }
}

// NewGateway instala em q o descarte de conexões que chegaram depois do
// timeout da operação que as pediu.
func NewGateway(connector domain.Connector, q *Queue, cfg domain.Config, opts ...GatewayOption) (*Gateway, error) {
	if connector == nil {
		return nil, errors.New("admission: nil connector")
	}
	if q == nil {
		return nil, errors.New("admission: nil queue")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	g := &Gateway{
		connector:   connector,
		queue:       q,
		cfg:         cfg,
		windowStart: time.Now(),
		log:         log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	q.SetDiscard(g.releaseLate)
	return g, nil
}

// Connect implementa domain.Connector.
func (g *Gateway) Connect(ctx context.Context) (domain.Conn, error) {
	return g.Acquire(ctx)
}

// Acquire obtém uma conexão instrumentada.
//
// Erros possíveis: ErrTooManyPending, os erros de admissão da Queue
// (ErrQueueFull, ErrTimedOutInQueue, ...) ou o erro original do driver.
func (g *Gateway) Acquire(ctx context.Context) (domain.Conn, error) {
	fast, err := g.admitFast()
	if err != nil {
		return nil, err
	}
	if !fast {
		return g.acquireQueued(ctx)
	}
	return g.connect(ctx)
}

// admitFast decide o caminho da aquisição. O teto de pendentes é checado antes
// do limite de rajada, para que uma recusa não consuma ficha da rajada.
// Com fast=true, PendingAcquires já foi reservado.
func (g *Gateway) admitFast() (fast bool, err error) {
	g.mu.Lock()
	g.countAttemptLocked(time.Now())
	if err := g.reservePendingLocked(); err != nil {
		g.mu.Unlock()
		g.record(domain.OutcomeTooManyPending)
		return false, err
	}
	if g.burst != nil && !g.burst.Allow() {
		g.counters.PendingAcquires--
		g.mu.Unlock()
		return false, nil
	}
	g.mu.Unlock()

	g.record(domain.OutcomeDirect)
	return true, nil
}

func (g *Gateway) acquireQueued(ctx context.Context) (domain.Conn, error) {
	fut := g.queue.Submit(func(opCtx context.Context) (any, error) {
		conn, err := g.acquireInQueue(opCtx)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}, domain.PriorityNormal)
	g.record(domain.OutcomeQueued)

	val, err := fut.Wait(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			go g.releaseAbandoned(fut)
		}
		return nil, err
	}
	return val.(domain.Conn), nil
}

// acquireInQueue conecta de dentro de uma operação já admitida pela fila.
func (g *Gateway) acquireInQueue(ctx context.Context) (domain.Conn, error) {
	g.mu.Lock()
	err := g.reservePendingLocked()
	g.mu.Unlock()
	if err != nil {
		g.record(domain.OutcomeTooManyPending)
		return nil, err
	}
	return g.connect(ctx)
}

// Do executa fn com uma conexão e a devolve ao fim, inclusive em panic
// (driver.ErrBadConn descarta a conexão).
//
// Segue a mesma admissão de Acquire: dentro da rajada conecta direto; fora dela
// a aquisição e fn rodam numa única operação da fila com prioridade p, sem uma
// segunda passagem pela fila. Só falhas de aquisição seguem a política de retry;
// o erro de fn volta ao chamador sem nova execução.
func (g *Gateway) Do(ctx context.Context, p domain.Priority, fn func(ctx context.Context, conn domain.Conn) (any, error)) (any, error) {
	fast, err := g.admitFast()
	if err != nil {
		return nil, err
	}
	if fast {
		conn, err := g.connect(ctx)
		if err != nil {
			return nil, err
		}
		return runWithConn(ctx, conn, fn)
	}

	g.record(domain.OutcomeQueued)
	out, err := g.queue.Enqueue(ctx, func(opCtx context.Context) (any, error) {
		conn, err := g.acquireInQueue(opCtx)
		if err != nil {
			return nil, err
		}
		val, err := runWithConn(opCtx, conn, fn)
		return doResult{val: val, err: err}, nil
	}, p)
	if err != nil {
		return nil, err
	}
	res := out.(doResult)
	return res.val, res.err
}

// doResult carrega o resultado de fn pela fila sem que o erro dele conte como
// falha da operação.
type doResult struct {
	val any
	err error
}

func runWithConn(ctx context.Context, conn domain.Conn, fn func(ctx context.Context, conn domain.Conn) (any, error)) (val any, err error) {
	defer func() {
		if r := recover(); r != nil {
			conn.Release(driver.ErrBadConn)
			panic(r)
		}
		if errors.Is(err, driver.ErrBadConn) {
			conn.Release(err)
		} else {
			conn.Release(nil)
		}
	}()
	return fn(ctx, conn)
}

// reservePendingLocked aplica o teto rígido de aquisições em andamento no driver.
func (g *Gateway) reservePendingLocked() error {
	if g.counters.PendingAcquires >= g.cfg.PendingCap() {
		g.log.WithFields(log.Fields{
			"pending":   g.counters.PendingAcquires,
			"max":       g.cfg.PendingCap(),
			"active":    g.counters.ActiveConnections,
			"in_window": g.inWindow,
		}).Warn("connection acquire rejected: too many pending")
		return domain.ErrTooManyPending
	}
	g.counters.PendingAcquires++
	return nil
}

// connect chama o driver. PendingAcquires já foi incrementado por quem chama.
func (g *Gateway) connect(ctx context.Context) (domain.Conn, error) {
	g.mu.Lock()
	timeout := g.cfg.ConnectTimeout
	g.mu.Unlock()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	raw, err := g.connector.Connect(ctx)

	g.mu.Lock()
	g.counters.PendingAcquires--
	if err != nil {
		g.counters.ConnectionErrors++
		errs := g.counters.ConnectionErrors
		g.mu.Unlock()
		g.log.WithError(err).WithField("errors", errs).Error("connection acquire failed")
		g.record(domain.OutcomeFailed)
		return nil, err
	}
	g.counters.ActiveConnections++
	g.counters.TotalCreated++
	g.mu.Unlock()

	return newInstrumentedConn(g, raw), nil
}

func (g *Gateway) onRelease() {
	g.mu.Lock()
	g.counters.ActiveConnections--
	g.counters.TotalReleased++
	g.mu.Unlock()
}

func (g *Gateway) onQuery(query string, elapsed time.Duration, err error) {
	g.mu.Lock()
	slow := g.cfg.SlowQueryThreshold > 0 && elapsed > g.cfg.SlowQueryThreshold
	if slow {
		g.counters.SlowQueries++
	}
	if err != nil {
		g.counters.ConnectionErrors++
	}
	g.mu.Unlock()

	if slow {
		g.log.WithFields(log.Fields{
			"query":   truncate(query, 200),
			"elapsed": elapsed,
		}).Warn("slow query")
	}
	if err != nil {
		g.log.WithError(err).WithField("query", truncate(query, 200)).Debug("query failed")
	}
}

// releaseLate devolve conexões que chegaram depois do timeout da operação.
func (g *Gateway) releaseLate(v any) {
	if c, ok := v.(domain.Conn); ok {
		g.log.Debug("releasing connection acquired after operation timeout")
		c.Release(nil)
	}
}

// releaseAbandoned espera uma aquisição cujo chamador desistiu e devolve a conexão.
func (g *Gateway) releaseAbandoned(fut *Future) {
	<-fut.Done()
	val, err := fut.Wait(context.Background())
	if err != nil {
		return
	}
	g.releaseLate(val)
}

// countAttemptLocked mantém a janela fixa de observação reportada em Stats.
func (g *Gateway) countAttemptLocked(now time.Time) {
	if now.Sub(g.windowStart) >= g.cfg.BurstWindow {
		g.windowStart = now
		g.inWindow = 0
	}
	g.inWindow++
}

// Stats retorna um snapshot sem efeitos colaterais.
func (g *Gateway) Stats() domain.ConnectionStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.counters
	s.RequestsInWindow = g.inWindow
	s.WindowStart = g.windowStart
	return s
}

// Queue retorna a fila usada no caminho lento.
func (g *Gateway) Queue() *Queue { return g.queue }

// UpdateConfig aplica o patch no gateway e na fila associada.
func (g *Gateway) UpdateConfig(p domain.ConfigPatch) error {
	g.mu.Lock()
	next := g.cfg.Apply(p)
	g.mu.Unlock()
	if err := next.Validate(); err != nil {
		return err
	}
	if err := g.queue.UpdateConfig(p); err != nil {
		return err
	}

	g.mu.Lock()
	g.cfg = next
	g.mu.Unlock()
	if g.burst != nil && (p.BurstWindow != nil || p.BurstLimit != nil) {
		g.burst.Resize(next.BurstWindow, next.BurstLimit)
	}
	g.log.WithField("config", next).Info("admission config updated")
	return nil
}

func (g *Gateway) record(o domain.Outcome) {
	if g.stats == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), statsRecordTimeout)
	defer cancel()
	ev := domain.StatsEvent{Source: "gateway", Outcome: o, Priority: domain.PriorityNormal, At: time.Now()}
	if err := g.stats.Record(ctx, ev); err != nil {
		g.log.WithError(err).Debug("stats record failed")
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
