package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"db-admission-gateway/middleware/admission/domain"

	"github.com/segmentio/kafka-go"
)

// MessageWriter é o subconjunto de *kafka.Writer usado pelo sink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaStatsStore publica cada evento de admissão como JSON num tópico,
// com o outcome como chave de partição.
type KafkaStatsStore struct {
	w MessageWriter
}

type kafkaStatsMessage struct {
	Source   string `json:"source"`
	Outcome  string `json:"outcome"`
	Priority int    `json:"priority"`
	At       int64  `json:"at"`
}

// NewKafkaWriter monta o writer assíncrono usado em produção.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	if topic == "" {
		topic = "admission.stats"
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
	}
}

func NewKafkaStatsStore(w MessageWriter) *KafkaStatsStore {
	return &KafkaStatsStore{w: w}
}

func (s *KafkaStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.w == nil {
		return nil
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	data, err := json.Marshal(kafkaStatsMessage{
		Source:   ev.Source,
		Outcome:  string(ev.Outcome),
		Priority: int(ev.Priority),
		At:       at.UnixMilli(),
	})
	if err != nil {
		return err
	}
	msg := kafka.Message{Key: []byte(ev.Outcome), Value: data, Time: at}
	if err := s.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka stats: %w", err)
	}
	return nil
}

func (s *KafkaStatsStore) Close() error {
	if s == nil || s.w == nil {
		return nil
	}
	return s.w.Close()
}
