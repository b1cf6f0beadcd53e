package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus 由支付服务上报，只有 pending 可以流转
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// Valid reports whether s is a known payment status.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentCompleted, PaymentFailed:
		return true
	}
	return false
}

// OrderStatus 履约状态
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
	OrderShipped   OrderStatus = "shipped"
	OrderDelivered OrderStatus = "delivered"
	OrderCancelled OrderStatus = "cancelled"
)

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderConfirmed, OrderShipped, OrderDelivered, OrderCancelled:
		return true
	}
	return false
}

// OrderSource 区分评论自动建单与卖家手工录单
type OrderSource string

const (
	OrderSourceComment OrderSource = "comment"
	OrderSourceManual  OrderSource = "manual"
)

// Order 直播订单，只做状态流转不删除，因此没有 DeletedAt。
//
// idx_order_dedup 是 (会话, 观众, 款号) 去重的持久化兜底；无会话订单 session 为 NULL，不受约束。
type Order struct {
	ID        uint      `gorm:"primarykey" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	OrderNo     string  `gorm:"size:64;uniqueIndex;not null" json:"order_id"`
	SessionID   *string `gorm:"size:36;uniqueIndex:idx_order_dedup,priority:1" json:"live_session_id"`
	ViewerID    string  `gorm:"size:128;not null;uniqueIndex:idx_order_dedup,priority:2" json:"viewer_id"`
	CatalogCode string  `gorm:"size:64;not null;index;uniqueIndex:idx_order_dedup,priority:3" json:"saree_code"`
	RepeatSeq   int     `gorm:"not null;default:0;uniqueIndex:idx_order_dedup,priority:4" json:"repeat_seq"`

	Source    OrderSource `gorm:"size:16;not null" json:"source"`
	Platform  string      `gorm:"size:32" json:"platform,omitempty"`
	CommentID *uint       `json:"comment_id,omitempty"`

	CustomerName  string `gorm:"size:128" json:"customer_name"`
	PhoneNumber   string `gorm:"size:32" json:"phone_number"`
	Address       string `gorm:"size:512" json:"address"`
	PaymentMethod string `gorm:"size:32" json:"payment_method"`

	Amount        decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"amount"`
	PaymentStatus PaymentStatus   `gorm:"size:16;not null;index" json:"payment_status"`
	Status        OrderStatus     `gorm:"size:16;not null;index" json:"order_status"`
}

func (Order) TableName() string { return "orders" }
