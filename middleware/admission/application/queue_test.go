package application

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"db-admission-gateway/middleware/admission/domain"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() domain.Config {
	cfg := domain.DefaultConfig()
	cfg.MaxConcurrentRequests = 2
	cfg.MaxQueueSize = 1
	cfg.RequestTimeout = 2 * time.Second
	cfg.OperationTimeout = 2 * time.Second
	cfg.MaxRetries = 0
	cfg.RetryBaseDelay = time.Millisecond
	return cfg
}

func newTestQueue(cfg domain.Config, opts ...QueueOption) *Queue {
	logger, _ := test.NewNullLogger()
	return NewQueue(cfg, append([]QueueOption{WithQueueLogger(logger)}, opts...)...)
}

// blockingOp segura a vaga até release fechar.
func blockingOp(release <-chan struct{}, val any) domain.Operation {
	return func(ctx context.Context) (any, error) {
		select {
		case <-release:
			return val, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func sleepOp(d time.Duration, val any) domain.Operation {
	return func(ctx context.Context) (any, error) {
		time.Sleep(d)
		return val, nil
	}
}

func waitResult(t *testing.T, f *Future) (any, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	val, err := f.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "future was never settled")
	return val, err
}

func settledNow(f *Future) bool {
	select {
	case <-f.Done():
		return true
	default:
		return false
	}
}

func TestQueue_TwoRunOneQueuedOneRejected(t *testing.T) {
	q := newTestQueue(testConfig())

	futures := make([]*Future, 4)
	for i := range futures {
		futures[i] = q.Submit(sleepOp(50*time.Millisecond, i), domain.PriorityNormal)
	}

	require.True(t, settledNow(futures[3]), "4th request should be rejected immediately")
	_, err := waitResult(t, futures[3])
	require.ErrorIs(t, err, domain.ErrQueueFull)

	st := q.Stats()
	assert.Equal(t, 2, st.ActiveRequests)
	assert.Equal(t, 1, st.QueueLength)

	for i := 0; i < 3; i++ {
		val, err := waitResult(t, futures[i])
		require.NoError(t, err)
		assert.Equal(t, i, val)
	}
	st = q.Stats()
	assert.Equal(t, 0, st.ActiveRequests)
	assert.Equal(t, 0, st.QueueLength)
	assert.EqualValues(t, 3, st.Dispatched)
	assert.EqualValues(t, 1, st.Rejected)
}

func TestQueue_ElevatedEvictsQueuedNormal(t *testing.T) {
	q := newTestQueue(testConfig())
	release := make(chan struct{})

	f1 := q.Submit(blockingOp(release, 1), domain.PriorityNormal)
	f2 := q.Submit(blockingOp(release, 2), domain.PriorityNormal)
	f3 := q.Submit(blockingOp(release, 3), domain.PriorityNormal)
	f4 := q.Submit(blockingOp(release, 4), domain.PriorityElevated)

	_, err := waitResult(t, f3)
	require.ErrorIs(t, err, domain.ErrDropped)
	assert.False(t, settledNow(f4))

	st := q.Stats()
	assert.Equal(t, 2, st.ActiveRequests)
	assert.Equal(t, 1, st.QueueLength)
	assert.EqualValues(t, 1, st.Dropped)

	close(release)
	for i, f := range []*Future{f1, f2, f4} {
		_, err := waitResult(t, f)
		require.NoError(t, err, "future %d", i)
	}
}

func TestQueue_ElevatedRejectedWhenOnlyElevatedQueued(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentRequests = 1
	q := newTestQueue(cfg)
	release := make(chan struct{})
	defer close(release)

	q.Submit(blockingOp(release, nil), domain.PriorityNormal)
	queued := q.Submit(blockingOp(release, nil), domain.PriorityElevated)
	f := q.Submit(blockingOp(release, nil), domain.PriorityElevated)

	_, err := waitResult(t, f)
	require.ErrorIs(t, err, domain.ErrOverloaded)
	assert.False(t, settledNow(queued))
}

func TestQueue_BusyRejectsLowPriorityWhenSaturated(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentRequests = 1
	q := newTestQueue(cfg)
	release := make(chan struct{})
	defer close(release)

	q.Submit(blockingOp(release, nil), domain.PriorityNormal)
	f := q.Submit(blockingOp(release, nil), domain.PriorityLow)

	require.True(t, settledNow(f))
	_, err := waitResult(t, f)
	require.ErrorIs(t, err, domain.ErrBusy)
	assert.True(t, domain.IsCongestion(err))
	assert.Equal(t, 0, q.Stats().QueueLength)
}

func TestQueue_ElevatedDispatchesBeforeEarlierNormal(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentRequests = 1
	cfg.MaxQueueSize = 5
	q := newTestQueue(cfg)

	var mu sync.Mutex
	var order []string
	track := func(name string) domain.Operation {
		return func(ctx context.Context) (any, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return name, nil
		}
	}

	release := make(chan struct{})
	first := q.Submit(blockingOp(release, nil), domain.PriorityNormal)
	a := q.Submit(track("A"), domain.PriorityNormal)
	time.Sleep(time.Millisecond)
	b := q.Submit(track("B"), domain.PriorityElevated)

	close(release)
	for _, f := range []*Future{first, a, b} {
		_, err := waitResult(t, f)
		require.NoError(t, err)
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"B", "A"}, order)
}

func TestQueue_TimesOutWhileWaiting(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentRequests = 1
	cfg.RequestTimeout = 20 * time.Millisecond
	q := newTestQueue(cfg)
	release := make(chan struct{})
	defer close(release)

	q.Submit(blockingOp(release, nil), domain.PriorityNormal)
	var ran atomic.Bool
	f := q.Submit(func(ctx context.Context) (any, error) {
		ran.Store(true)
		return nil, nil
	}, domain.PriorityNormal)

	_, err := waitResult(t, f)
	require.ErrorIs(t, err, domain.ErrTimedOutInQueue)
	assert.True(t, domain.IsTimeout(err))
	assert.False(t, ran.Load())

	st := q.Stats()
	assert.Equal(t, 0, st.QueueLength)
	assert.EqualValues(t, 1, st.TimedOut)
}

func TestQueue_TimeoutRacingDispatchSettlesOnce(t *testing.T) {
	for i := 0; i < 30; i++ {
		cfg := testConfig()
		cfg.MaxConcurrentRequests = 1
		cfg.RequestTimeout = 5 * time.Millisecond
		q := newTestQueue(cfg)

		q.Submit(sleepOp(5*time.Millisecond, nil), domain.PriorityNormal)
		var runs atomic.Int32
		f := q.Submit(func(ctx context.Context) (any, error) {
			runs.Add(1)
			return "ran", nil
		}, domain.PriorityNormal)

		val, err := waitResult(t, f)
		if err != nil {
			require.ErrorIs(t, err, domain.ErrTimedOutInQueue)
			assert.EqualValues(t, 0, runs.Load())
		} else {
			assert.Equal(t, "ran", val)
			assert.EqualValues(t, 1, runs.Load())
		}

		require.Eventually(t, func() bool { return q.Stats().ActiveRequests == 0 }, time.Second, time.Millisecond)
		st := q.Stats()
		assert.Equal(t, 0, st.QueueLength)
		assert.EqualValues(t, 1, int64(runs.Load())+st.TimedOut)
	}
}

func TestQueue_RetryCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 2
	q := newTestQueue(cfg)

	boom := errors.New("boom")
	var attempts atomic.Int32
	f := q.Submit(func(ctx context.Context) (any, error) {
		attempts.Add(1)
		return nil, boom
	}, domain.PriorityNormal)

	_, err := waitResult(t, f)
	require.ErrorIs(t, err, boom)
	assert.EqualValues(t, 3, attempts.Load())
	assert.EqualValues(t, 2, q.Stats().Retried)
}

func TestQueue_RetrySucceedsAfterTransientFailure(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 3
	q := newTestQueue(cfg)

	var attempts atomic.Int32
	f := q.Submit(func(ctx context.Context) (any, error) {
		if attempts.Add(1) < 2 {
			return nil, errors.New("transient")
		}
		return "ok", nil
	}, domain.PriorityNormal)

	val, err := waitResult(t, f)
	require.NoError(t, err)
	assert.Equal(t, "ok", val)
	assert.EqualValues(t, 2, attempts.Load())
}

func TestQueue_OperationTimeoutIsRetriedThenFails(t *testing.T) {
	cfg := testConfig()
	cfg.OperationTimeout = 10 * time.Millisecond
	cfg.MaxRetries = 1
	q := newTestQueue(cfg)

	var attempts atomic.Int32
	f := q.Submit(func(ctx context.Context) (any, error) {
		attempts.Add(1)
		time.Sleep(100 * time.Millisecond)
		return "too late", nil
	}, domain.PriorityNormal)

	_, err := waitResult(t, f)
	require.ErrorIs(t, err, domain.ErrOperationTimeout)
	assert.EqualValues(t, 2, attempts.Load())
	assert.Equal(t, 0, q.Stats().ActiveRequests)
}

func TestQueue_LateResultIsDiscarded(t *testing.T) {
	cfg := testConfig()
	cfg.OperationTimeout = 10 * time.Millisecond
	discarded := make(chan any, 1)
	q := newTestQueue(cfg, WithDiscard(func(v any) { discarded <- v }))

	f := q.Submit(sleepOp(30*time.Millisecond, "late"), domain.PriorityNormal)
	_, err := waitResult(t, f)
	require.ErrorIs(t, err, domain.ErrOperationTimeout)

	select {
	case v := <-discarded:
		assert.Equal(t, "late", v)
	case <-time.After(time.Second):
		t.Fatal("late result was not discarded")
	}
}

func TestQueue_ConcurrencyNeverExceedsLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentRequests = 3
	cfg.MaxQueueSize = 100
	q := newTestQueue(cfg)

	var running, peak atomic.Int32
	op := func(ctx context.Context) (any, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		running.Add(-1)
		return nil, nil
	}

	futures := make([]*Future, 50)
	for i := range futures {
		futures[i] = q.Submit(op, domain.PriorityNormal)
		st := q.Stats()
		require.LessOrEqual(t, st.ActiveRequests, cfg.MaxConcurrentRequests)
		require.LessOrEqual(t, st.QueueLength, cfg.MaxQueueSize)
	}
	for _, f := range futures {
		_, err := waitResult(t, f)
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestQueue_PanicIsReportedAsFailure(t *testing.T) {
	q := newTestQueue(testConfig())

	f := q.Submit(func(ctx context.Context) (any, error) {
		panic("kaboom")
	}, domain.PriorityNormal)

	_, err := waitResult(t, f)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
	assert.Equal(t, 0, q.Stats().ActiveRequests)
}

func TestQueue_UpdateConfigDispatchesWaiting(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentRequests = 1
	q := newTestQueue(cfg)
	release := make(chan struct{})
	defer close(release)

	q.Submit(blockingOp(release, nil), domain.PriorityNormal)
	f := q.Submit(sleepOp(0, "second"), domain.PriorityNormal)
	assert.Equal(t, 1, q.Stats().QueueLength)

	two := 2
	require.NoError(t, q.UpdateConfig(domain.ConfigPatch{MaxConcurrentRequests: &two}))
	val, err := waitResult(t, f)
	require.NoError(t, err)
	assert.Equal(t, "second", val)
	assert.Equal(t, 2, q.Stats().MaxConcurrentRequests)

	zero := 0
	err = q.UpdateConfig(domain.ConfigPatch{MaxConcurrentRequests: &zero})
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
	assert.Equal(t, 2, q.Stats().MaxConcurrentRequests)
}

func TestQueue_CloseRejectsPendingAndNewWork(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentRequests = 1
	q := newTestQueue(cfg)
	release := make(chan struct{})

	running := q.Submit(blockingOp(release, "done"), domain.PriorityNormal)
	waiting := q.Submit(blockingOp(release, nil), domain.PriorityNormal)

	q.Close()
	_, err := waitResult(t, waiting)
	require.ErrorIs(t, err, domain.ErrShuttingDown)

	_, err = waitResult(t, q.Submit(sleepOp(0, nil), domain.PriorityElevated))
	require.ErrorIs(t, err, domain.ErrShuttingDown)

	close(release)
	val, err := waitResult(t, running)
	require.NoError(t, err)
	assert.Equal(t, "done", val)
}

func TestQueue_EnqueueReturnsCtxErrorButKeepsRunning(t *testing.T) {
	q := newTestQueue(testConfig())
	release := make(chan struct{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := q.Enqueue(ctx, blockingOp(release, nil), domain.PriorityNormal)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, q.Stats().ActiveRequests)

	close(release)
	require.Eventually(t, func() bool { return q.Stats().ActiveRequests == 0 }, time.Second, time.Millisecond)
}

type recordingStats struct {
	mu     sync.Mutex
	events []domain.StatsEvent
}

func (r *recordingStats) Record(_ context.Context, ev domain.StatsEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingStats) outcomes() []domain.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Outcome, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Outcome)
	}
	return out
}

func TestQueue_RecordsAdmissionOutcomes(t *testing.T) {
	stats := &recordingStats{}
	q := newTestQueue(testConfig(), WithQueueStats(stats))
	release := make(chan struct{})

	q.Submit(blockingOp(release, nil), domain.PriorityNormal)
	q.Submit(blockingOp(release, nil), domain.PriorityNormal)
	q.Submit(blockingOp(release, nil), domain.PriorityNormal)
	q.Submit(blockingOp(release, nil), domain.PriorityNormal)
	close(release)

	assert.Equal(t, []domain.Outcome{
		domain.OutcomeDispatched,
		domain.OutcomeDispatched,
		domain.OutcomeQueued,
		domain.OutcomeQueueFull,
	}, stats.outcomes())
}

func TestOperationError_KeepsDriverErrorsVerbatim(t *testing.T) {
	driverErr := errors.New("pq: canceling statement due to user request")

	assert.Same(t, driverErr, operationError(driverErr, context.DeadlineExceeded))
	assert.Same(t, driverErr, operationError(driverErr, nil))
	assert.NoError(t, operationError(nil, context.DeadlineExceeded))

	err := operationError(context.DeadlineExceeded, context.DeadlineExceeded)
	assert.ErrorIs(t, err, domain.ErrOperationTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Same(t, context.DeadlineExceeded, operationError(context.DeadlineExceeded, nil),
		"a deadline from the caller's own context is not an operation timeout")
}

func TestQueue_DeadlineErrorFromOperationIsTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.OperationTimeout = 5 * time.Millisecond
	q := newTestQueue(cfg)

	f := q.Submit(func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, domain.PriorityNormal)

	_, err := waitResult(t, f)
	require.ErrorIs(t, err, domain.ErrOperationTimeout)
}
