package application

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"db-admission-gateway/middleware/admission/domain"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const statsRecordTimeout = 250 * time.Millisecond

// Queue é uma fila de admissão limitada e ordenada por prioridade.
//
// Ela não sabe nada sobre banco de dados: executa Operations arbitrárias
// respeitando MaxConcurrentRequests, MaxQueueSize, timeout de espera,
// timeout de execução e retry com atraso linear.
type Queue struct {
	mu      sync.Mutex
	cfg     domain.Config
	active  int
	pending []*queuedRequest
	index   map[string]*queuedRequest
	seq     uint64
	closed  bool

	dispatched int64
	rejected   int64
	dropped    int64
	timedOut   int64
	retried    int64

	log     log.FieldLogger
	stats   domain.StatsStore
	discard func(any)
}

type QueueOption func(*Queue)

func WithQueueLogger(l log.FieldLogger) QueueOption {
	return func(q *Queue) { q.log = l }
}

func WithQueueStats(s domain.StatsStore) QueueOption {
	return func(q *Queue) { q.stats = s }
}

// WithDiscard registra quem recebe resultados que chegaram depois do timeout
// da operação (ex.: uma conexão que precisa ser devolvida).
func WithDiscard(fn func(any)) QueueOption {
	return func(q *Queue) { q.discard = fn }
}

func NewQueue(cfg domain.Config, opts ...QueueOption) *Queue {
	q := &Queue{
		cfg:   cfg,
		index: make(map[string]*queuedRequest),
		log:   log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// SetDiscard troca o destino dos resultados tardios. Usado pelo gateway.
func (q *Queue) SetDiscard(fn func(any)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.discard = fn
}

// Enqueue submete op e espera o resultado (ou ctx encerrar).
func (q *Queue) Enqueue(ctx context.Context, op domain.Operation, priority domain.Priority) (any, error) {
	return q.Submit(op, priority).Wait(ctx)
}

// Submit aplica a política de admissão e devolve o Future da operação.
// Rejeições resolvem o Future imediatamente com um erro tipado.
func (q *Queue) Submit(op domain.Operation, priority domain.Priority) *Future {
	req := &queuedRequest{
		id:       uuid.NewString(),
		op:       op,
		priority: priority,
		future:   newFuture(),
	}

	q.mu.Lock()
	events, err := q.admitLocked(req)
	if err != nil {
		q.settleLocked(req, nil, err)
	}
	active, queued := q.active, len(q.pending)
	q.mu.Unlock()

	if err != nil {
		q.warnRejected(err, priority, active, queued)
	}
	q.record(events...)
	return req.future
}

// admitLocked decide entre rejeitar, despejar, enfileirar ou executar direto.
func (q *Queue) admitLocked(req *queuedRequest) ([]domain.StatsEvent, error) {
	cfg := q.cfg
	if q.closed {
		return nil, domain.ErrShuttingDown
	}

	if q.active >= cfg.MaxConcurrentRequests && req.priority < cfg.ShedBelow {
		q.rejected++
		return []domain.StatsEvent{q.event(domain.OutcomeBusy, req.priority)}, domain.ErrBusy
	}

	// Vaga livre e ninguém esperando: executa sem passar por pending.
	if q.active < cfg.MaxConcurrentRequests && len(q.pending) == 0 {
		q.startLocked(req)
		return []domain.StatsEvent{q.event(domain.OutcomeDispatched, req.priority)}, nil
	}

	var events []domain.StatsEvent
	if len(q.pending) >= cfg.MaxQueueSize {
		if req.priority < cfg.ElevatedPriority {
			q.rejected++
			return []domain.StatsEvent{q.event(domain.OutcomeQueueFull, req.priority)}, domain.ErrQueueFull
		}
		i := evictionCandidate(q.pending, cfg.ElevatedPriority)
		if i < 0 {
			q.rejected++
			return []domain.StatsEvent{q.event(domain.OutcomeOverloaded, req.priority)}, domain.ErrOverloaded
		}
		victim := q.pending[i]
		q.removeLocked(victim)
		q.dropped++
		q.settleLocked(victim, nil, domain.ErrDropped)
		q.log.WithFields(log.Fields{
			"id":       victim.id,
			"priority": victim.priority,
			"for":      req.priority,
		}).Warn("queued request dropped for elevated request")
		events = append(events, q.event(domain.OutcomeDropped, victim.priority))
	}

	req.enqueuedAt = time.Now()
	req.seq = q.seq
	q.seq++
	q.pending = insertSorted(q.pending, req)
	q.index[req.id] = req
	req.timer = time.AfterFunc(cfg.RequestTimeout, func() { q.expire(req) })
	events = append(events, q.event(domain.OutcomeQueued, req.priority))

	q.dispatchLocked()
	return events, nil
}

// dispatchLocked inicia itens enquanto houver vaga.
func (q *Queue) dispatchLocked() {
	for !q.closed && q.active < q.cfg.MaxConcurrentRequests && len(q.pending) > 0 {
		req := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		delete(q.index, req.id)
		req.stopTimer()
		q.startLocked(req)
	}
}

func (q *Queue) startLocked(req *queuedRequest) {
	q.active++
	q.dispatched++
	go q.run(req, q.cfg.OperationTimeout)
}

type opResult struct {
	val any
	err error
}

// run executa a operação disputando contra OperationTimeout.
func (q *Queue) run(req *queuedRequest, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ch := make(chan opResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- opResult{err: fmt.Errorf("admission: operation panic: %v", r)}
			}
		}()
		val, err := req.op(ctx)
		ch <- opResult{val: val, err: err}
	}()

	var res opResult
	select {
	case res = <-ch:
		res.err = operationError(res.err, ctx.Err())
	case <-ctx.Done():
		res = opResult{err: domain.ErrOperationTimeout}
		go q.discardLate(ch)
	}
	q.finish(req, res)
}

// operationError marca como ErrOperationTimeout só o erro que é o próprio prazo
// estourado. Qualquer outro erro (ex.: do driver) volta intacto, mesmo que tenha
// chegado depois do prazo.
func operationError(err, ctxErr error) error {
	if err == nil {
		return nil
	}
	if errors.Is(ctxErr, context.DeadlineExceeded) && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", domain.ErrOperationTimeout, err)
	}
	return err
}

func (q *Queue) discardLate(ch <-chan opResult) {
	res := <-ch
	if res.err != nil || res.val == nil {
		return
	}
	q.mu.Lock()
	discard := q.discard
	q.mu.Unlock()
	if discard != nil {
		discard(res.val)
	}
}

// finish libera a vaga e decide entre resolver ou re-tentar.
func (q *Queue) finish(req *queuedRequest, res opResult) {
	var events []domain.StatsEvent

	q.mu.Lock()
	q.active--
	switch {
	case res.err == nil:
		q.settleLocked(req, res.val, nil)
	case req.retryCount < q.cfg.MaxRetries && !q.closed:
		req.retryCount++
		q.retried++
		delay := q.cfg.RetryBaseDelay * time.Duration(req.retryCount)
		q.log.WithFields(log.Fields{
			"id":      req.id,
			"attempt": req.retryCount,
			"delay":   delay,
			"error":   res.err,
		}).Debug("operation failed, retrying")
		time.AfterFunc(delay, func() { q.retry(req) })
	default:
		q.settleLocked(req, nil, res.err)
		events = append(events, q.event(domain.OutcomeFailed, req.priority))
	}
	q.dispatchLocked()
	q.mu.Unlock()

	q.record(events...)
}

// retry re-entra no mesmo caminho de admissão de um enqueue novo.
func (q *Queue) retry(req *queuedRequest) {
	q.mu.Lock()
	events, err := q.admitLocked(req)
	if err != nil {
		q.settleLocked(req, nil, err)
	}
	active, queued := q.active, len(q.pending)
	q.mu.Unlock()

	if err != nil {
		q.warnRejected(err, req.priority, active, queued)
	}
	q.record(events...)
}

// expire remove um item que esperou além de RequestTimeout.
func (q *Queue) expire(req *queuedRequest) {
	q.mu.Lock()
	if cur, ok := q.index[req.id]; !ok || cur != req {
		// já despachado, despejado ou resolvido
		q.mu.Unlock()
		return
	}
	q.removeLocked(req)
	q.timedOut++
	q.settleLocked(req, nil, domain.ErrTimedOutInQueue)
	q.dispatchLocked()
	active, queued := q.active, len(q.pending)
	q.mu.Unlock()

	q.log.WithFields(log.Fields{
		"id":       req.id,
		"priority": req.priority,
		"waited":   time.Since(req.enqueuedAt),
		"active":   active,
		"queued":   queued,
	}).Warn("request timed out in queue")
	q.record(q.event(domain.OutcomeTimedOut, req.priority))
}

func (q *Queue) removeLocked(req *queuedRequest) {
	if i := slices.Index(q.pending, req); i >= 0 {
		q.pending = slices.Delete(q.pending, i, i+1)
	}
	delete(q.index, req.id)
	req.stopTimer()
}

func (q *Queue) settleLocked(req *queuedRequest, val any, err error) {
	if req.settled {
		return
	}
	req.settled = true
	req.stopTimer()
	delete(q.index, req.id)
	req.future.resolve(val, err)
}

// Stats retorna um snapshot sem efeitos colaterais.
func (q *Queue) Stats() domain.QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return domain.QueueStats{
		ActiveRequests:        q.active,
		QueueLength:           len(q.pending),
		MaxConcurrentRequests: q.cfg.MaxConcurrentRequests,
		MaxQueueSize:          q.cfg.MaxQueueSize,
		Dispatched:            q.dispatched,
		Rejected:              q.rejected,
		Dropped:               q.dropped,
		TimedOut:              q.timedOut,
		Retried:               q.retried,
	}
}

// UpdateConfig aplica novos limites às próximas decisões de admissão.
// Itens já enfileirados mantêm seus timeouts.
func (q *Queue) UpdateConfig(p domain.ConfigPatch) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	next := q.cfg.Apply(p)
	if err := next.Validate(); err != nil {
		return err
	}
	q.cfg = next
	q.dispatchLocked()
	return nil
}

// Close recusa trabalho novo e resolve os itens pendentes com ErrShuttingDown.
// Operações em execução terminam normalmente, sem novas tentativas.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	for _, req := range q.pending {
		q.settleLocked(req, nil, domain.ErrShuttingDown)
	}
	q.pending = nil
}

func (q *Queue) event(o domain.Outcome, p domain.Priority) domain.StatsEvent {
	return domain.StatsEvent{Source: "queue", Outcome: o, Priority: p, At: time.Now()}
}

func (q *Queue) record(events ...domain.StatsEvent) {
	if q.stats == nil || len(events) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), statsRecordTimeout)
	defer cancel()
	for _, ev := range events {
		if err := q.stats.Record(ctx, ev); err != nil {
			q.log.WithError(err).Debug("stats record failed")
		}
	}
}

// warnRejected registra congestionamento como aviso, com a carga atual.
func (q *Queue) warnRejected(err error, p domain.Priority, active, queued int) {
	q.log.WithFields(log.Fields{
		"reason":   err.Error(),
		"priority": p,
		"active":   active,
		"queued":   queued,
	}).Warn("request rejected")
}
