package infra

import (
	"context"
	"maps"
	"sync"

	"db-admission-gateway/middleware/admission/domain"
)

// MemoryStatsStore conta eventos de admissão em memória.
// Útil para testes e para o endpoint /stats em desenvolvimento.
//
// Não faz expiração e não é indicada para produção.
type MemoryStatsStore struct {
	mu         sync.Mutex
	byOutcome  map[domain.Outcome]int64
	bySource   map[string]map[domain.Outcome]int64
	byPriority map[domain.Priority]int64
}

func NewMemoryStatsStore() *MemoryStatsStore {
	return &MemoryStatsStore{
		byOutcome:  make(map[domain.Outcome]int64),
		bySource:   make(map[string]map[domain.Outcome]int64),
		byPriority: make(map[domain.Priority]int64),
	}
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byOutcome[ev.Outcome]++
	src := s.bySource[ev.Source]
	if src == nil {
		src = make(map[domain.Outcome]int64)
		s.bySource[ev.Source] = src
	}
	src[ev.Outcome]++
	s.byPriority[ev.Priority]++
	return nil
}

func (s *MemoryStatsStore) Count(o domain.Outcome) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byOutcome[o]
}

func (s *MemoryStatsStore) ByOutcome() map[domain.Outcome]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.byOutcome)
}

func (s *MemoryStatsStore) BySource(source string) map[domain.Outcome]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.Outcome]int64, len(s.bySource[source]))
	maps.Copy(out, s.bySource[source])
	return out
}

func (s *MemoryStatsStore) ByPriority() map[domain.Priority]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.byPriority)
}
