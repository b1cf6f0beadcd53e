package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"live_commerce/internal/live"
	"live_commerce/internal/model"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// PaymentApplier 是消费者依赖的会话管理器能力。
type PaymentApplier interface {
	ApplyPayment(ctx context.Context, orderNo string, to model.PaymentStatus) (*model.Order, error)
}

// PaymentConsumer 消费支付服务发布的支付状态变更。
// 重复投递无害：只有 pending 的支付会被推进。
type PaymentConsumer struct {
	r   *kafka.Reader
	app PaymentApplier
	log *zap.Logger
}

func NewPaymentConsumer(brokers []string, topic, groupID string, app PaymentApplier, log *zap.Logger) *PaymentConsumer {
	return &PaymentConsumer{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1e3,
			MaxBytes: 1e6,
		}),
		app: app,
		log: log,
	}
}

func (c *PaymentConsumer) Close() error { return c.r.Close() }

func (c *PaymentConsumer) Run(ctx context.Context) {
	for {
		m, err := c.r.ReadMessage(ctx)
		if err != nil {
			return
		}
		if err := handlePayment(ctx, c.app, m.Value); err != nil {
			c.log.Warn("payment event skipped", zap.Int64("offset", m.Offset), zap.Error(err))
		}
	}
}

// handlePayment 忽略本服务未创建的订单。
func handlePayment(ctx context.Context, app PaymentApplier, value []byte) error {
	var msg PaymentMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return fmt.Errorf("unmarshal payment event: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	if _, err := app.ApplyPayment(ctx, msg.OrderNo, msg.Status); err != nil {
		if errors.Is(err, live.ErrNotFound) {
			return nil
		}
		return err
	}
	return nil
}
