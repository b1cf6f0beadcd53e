package ingest

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
)

// KafkaSource reads a platform topic shared by all sessions and keeps only
// the payloads addressed to its session.
type KafkaSource struct {
	r         *kafka.Reader
	sessionID string
}

func NewKafkaSource(brokers []string, topic, groupID, sessionID string) *KafkaSource {
	return &KafkaSource{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     brokers,
			Topic:       topic,
			GroupID:     groupID,
			StartOffset: kafka.LastOffset,
			MinBytes:    1,
			MaxBytes:    1e6,
		}),
		sessionID: sessionID,
	}
}

func (s *KafkaSource) Fetch(ctx context.Context) ([]Payload, error) {
	m, err := s.r.ReadMessage(ctx)
	if err != nil {
		return nil, err
	}
	var p Payload
	if err := json.Unmarshal(m.Value, &p); err != nil {
		// Not a comment; skip it.
		return nil, nil
	}
	if p.SessionID != s.sessionID {
		return nil, nil
	}
	return []Payload{p}, nil
}

func (s *KafkaSource) Close() error { return s.r.Close() }
