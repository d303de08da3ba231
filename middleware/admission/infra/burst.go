package infra

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// BurstLimiter é o limite de rajada do gateway: até limit aquisições por window,
// como token bucket (golang.org/x/time/rate) que repõe uma ficha a cada window/limit.
//
// Implementa domain.BurstLimiter.
type BurstLimiter struct {
	mu     sync.Mutex
	lim    *rate.Limiter
	window time.Duration
	limit  int
}

func NewBurstLimiter(window time.Duration, limit int) *BurstLimiter {
	b := &BurstLimiter{}
	b.lim = rate.NewLimiter(everyFor(window, limit), burstFor(limit))
	b.window, b.limit = window, limit
	return b
}

func (b *BurstLimiter) Allow() bool {
	return b.lim.Allow()
}

// Resize troca a taxa e o burst sem perder as fichas já consumidas.
func (b *BurstLimiter) Resize(window time.Duration, limit int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.window, b.limit = window, limit
	b.lim.SetLimit(everyFor(window, limit))
	b.lim.SetBurst(burstFor(limit))
}

// Tokens retorna quantas aquisições ainda cabem na rajada agora.
func (b *BurstLimiter) Tokens() float64 {
	return b.lim.Tokens()
}

func (b *BurstLimiter) Window() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.window
}

func (b *BurstLimiter) Limit() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.limit
}

func everyFor(window time.Duration, limit int) rate.Limit {
	if limit <= 0 {
		return 0
	}
	if window <= 0 {
		return rate.Inf
	}
	return rate.Every(window / time.Duration(limit))
}

func burstFor(limit int) int {
	if limit < 0 {
		return 0
	}
	return limit
}
