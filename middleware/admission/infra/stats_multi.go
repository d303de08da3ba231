package infra

import (
	"context"
	"errors"

	"db-admission-gateway/middleware/admission/domain"
)

// MultiStatsStore repassa cada evento para todos os sinks. Um sink com erro
// não impede os demais; os erros voltam combinados.
type MultiStatsStore []domain.StatsStore

func NewMultiStatsStore(stores ...domain.StatsStore) MultiStatsStore {
	out := make(MultiStatsStore, 0, len(stores))
	for _, s := range stores {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m MultiStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
