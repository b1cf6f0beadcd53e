package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// Producer 把订单事件写入订单 Topic。
type Producer struct {
	w *kafka.Writer
}

// NewProducer 以订单号作为 key：同一订单的事件落在同一分区，消费者按提交顺序看到。
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			MaxAttempts:  5,
			WriteTimeout: 5 * time.Second,
			ReadTimeout:  5 * time.Second,
			BatchTimeout: 20 * time.Millisecond,
		},
	}
}

func (p *Producer) Close() error { return p.w.Close() }

// Publish 同步写入 msgs。事件名放在 header 里，消费者无需解码 body 即可过滤。
func (p *Producer) Publish(ctx context.Context, msgs ...OrderMessage) error {
	out := make([]kafka.Message, 0, len(msgs))
	for _, m := range msgs {
		km, err := kafkaMessage(m)
		if err != nil {
			return err
		}
		out = append(out, km)
	}
	return p.w.WriteMessages(ctx, out...)
}

func kafkaMessage(m OrderMessage) (kafka.Message, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:     []byte(m.OrderNo),
		Value:   b,
		Headers: []kafka.Header{{Key: "event", Value: []byte(m.Event)}},
		Time:    m.OccurredAt,
	}, nil
}
