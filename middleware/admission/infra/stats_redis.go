package infra

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"db-admission-gateway/middleware/admission/domain"

	"github.com/redis/go-redis/v9"
)

// RedisStatsStore agrega eventos de admissão em hashes do Redis, permitindo
// somar vários processos do gateway.
//
// Layout:
//
//	<prefix>:total                hash outcome -> contador (não expira)
//	<prefix>:minute:YYYYMMDDhhmm  hash outcome -> contador (expira em ttl)
//	<prefix>:source               hash "<source>:<outcome>" -> contador
type RedisStatsStore struct {
	rdb redis.Cmdable

	prefix string
	// ttl aplica apenas nas chaves de série temporal.
	ttl time.Duration

	bucket string // "minute" (padrão) ou "none"
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func NewRedisStatsStore(rdb redis.Cmdable, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "admission:stats",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	field := string(ev.Outcome)

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.TotalKey(), field, 1)

	if s.bucket == "minute" {
		bucketKey := s.MinuteKey(at)
		pipe.HIncrBy(ctx, bucketKey, field, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, bucketKey, s.ttl)
		}
	}

	if src := strings.TrimSpace(ev.Source); src != "" {
		pipe.HIncrBy(ctx, s.prefix+":source", src+":"+field, 1)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis stats: %w", err)
	}
	return nil
}

func (s *RedisStatsStore) TotalKey() string {
	return s.prefix + ":total"
}

func (s *RedisStatsStore) MinuteKey(at time.Time) string {
	return fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
}

// Totals lê os contadores cumulativos por outcome.
func (s *RedisStatsStore) Totals(ctx context.Context) (map[domain.Outcome]int64, error) {
	raw, err := s.rdb.HGetAll(ctx, s.TotalKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis stats: %w", err)
	}
	out := make(map[domain.Outcome]int64, len(raw))
	for k, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[domain.Outcome(k)] = n
	}
	return out, nil
}
