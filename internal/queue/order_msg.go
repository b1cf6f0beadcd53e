package queue

import (
	"fmt"
	"time"

	"live_commerce/internal/model"
	rediskey "live_commerce/pkg/redis"

	"github.com/shopspring/decimal"
)

// outbox Stream 与订单 Topic 上的事件类型
const (
	EventOrderCreated   = "order.created"
	EventPaymentUpdated = "payment.updated"
)

// OrderMessage 发布到 Kafka 的订单事件
type OrderMessage struct {
	Event         string              `json:"event"`
	OrderNo       string              `json:"order_id"`
	SessionID     string              `json:"live_session_id,omitempty"`
	ViewerID      string              `json:"viewer_id"`
	CatalogCode   string              `json:"saree_code"`
	Source        model.OrderSource   `json:"source"`
	Platform      string              `json:"platform,omitempty"`
	Amount        decimal.Decimal     `json:"amount"`
	PaymentStatus model.PaymentStatus `json:"payment_status"`
	OccurredAt    time.Time           `json:"occurred_at"`
}

func NewOrderMessage(event string, o *model.Order, at time.Time) OrderMessage {
	m := OrderMessage{
		Event:         event,
		OrderNo:       o.OrderNo,
		ViewerID:      o.ViewerID,
		CatalogCode:   o.CatalogCode,
		Source:        o.Source,
		Platform:      o.Platform,
		Amount:        o.Amount,
		PaymentStatus: o.PaymentStatus,
		OccurredAt:    at.UTC(),
	}
	if o.SessionID != nil {
		m.SessionID = *o.SessionID
	}
	return m
}

// Validate 拒绝消费者无法处理的消息。
func (m OrderMessage) Validate() error {
	if m.Event != EventOrderCreated && m.Event != EventPaymentUpdated {
		return fmt.Errorf("unknown event %q", m.Event)
	}
	if m.OrderNo == "" {
		return fmt.Errorf("order_id is required")
	}
	if m.CatalogCode == "" {
		return fmt.Errorf("saree_code is required")
	}
	if m.Amount.IsNegative() {
		return fmt.Errorf("amount must be >= 0")
	}
	if !m.PaymentStatus.Valid() {
		return fmt.Errorf("invalid payment_status %q", m.PaymentStatus)
	}
	return nil
}

// streamValues 把 m 展开为 outbox Stream 字段。
func (m OrderMessage) streamValues() map[string]any {
	return map[string]any{
		"event":           m.Event,
		"order_id":        m.OrderNo,
		"live_session_id": m.SessionID,
		"viewer_id":       m.ViewerID,
		"saree_code":      m.CatalogCode,
		"source":          string(m.Source),
		"platform":        m.Platform,
		"amount":          m.Amount.String(),
		"payment_status":  string(m.PaymentStatus),
		"occurred_at":     m.OccurredAt.Format(time.RFC3339Nano),
	}
}

// parseOrderEvent 是 streamValues 的逆过程。
func parseOrderEvent(values map[string]interface{}) (OrderMessage, error) {
	var m OrderMessage
	fields := []struct {
		key string
		dst *string
	}{
		{"event", &m.Event},
		{"order_id", &m.OrderNo},
		{"viewer_id", &m.ViewerID},
		{"saree_code", &m.CatalogCode},
	}
	for _, f := range fields {
		v, err := rediskey.StreamString(values, f.key)
		if err != nil {
			return OrderMessage{}, err
		}
		*f.dst = v
	}
	m.SessionID, _ = rediskey.StreamString(values, "live_session_id")
	m.Platform, _ = rediskey.StreamString(values, "platform")
	source, _ := rediskey.StreamString(values, "source")
	m.Source = model.OrderSource(source)

	amountStr, err := rediskey.StreamString(values, "amount")
	if err != nil {
		return OrderMessage{}, err
	}
	if m.Amount, err = decimal.NewFromString(amountStr); err != nil {
		return OrderMessage{}, fmt.Errorf("invalid amount %q", amountStr)
	}
	status, err := rediskey.StreamString(values, "payment_status")
	if err != nil {
		return OrderMessage{}, err
	}
	m.PaymentStatus = model.PaymentStatus(status)
	if ts, err := rediskey.StreamString(values, "occurred_at"); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			m.OccurredAt = t
		}
	}

	if err := m.Validate(); err != nil {
		return OrderMessage{}, err
	}
	return m, nil
}

// PaymentMessage 支付服务上报的支付状态变更
type PaymentMessage struct {
	OrderNo   string              `json:"order_id"`
	Status    model.PaymentStatus `json:"payment_status"`
	Reference string              `json:"reference,omitempty"`
}

func (m PaymentMessage) Validate() error {
	if m.OrderNo == "" {
		return fmt.Errorf("order_id is required")
	}
	if m.Status != model.PaymentCompleted && m.Status != model.PaymentFailed {
		return fmt.Errorf("payment_status must be completed or failed, got %q", m.Status)
	}
	return nil
}
