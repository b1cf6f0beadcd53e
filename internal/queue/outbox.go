package queue

import (
	"context"
	"sync/atomic"
	"time"

	"live_commerce/internal/model"
	rediskey "live_commerce/pkg/redis"

	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Outbox 接收会话 worker 已提交的订单事件，异步追加到 Redis outbox Stream。
// 入队永不阻塞：缓冲满时丢弃并计数，订单行本身才是事实来源。
type Outbox struct {
	rdb    *rd.Client
	stream string
	maxLen int64
	ch     chan OrderMessage
	log    *zap.Logger
	now    func() time.Time

	dropped atomic.Int64
}

func NewOutbox(rdb *rd.Client, stream string, maxLen int64, buffer int, log *zap.Logger) *Outbox {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Outbox{
		rdb:    rdb,
		stream: stream,
		maxLen: maxLen,
		ch:     make(chan OrderMessage, buffer),
		log:    log,
		now:    time.Now,
	}
}

func (o *Outbox) OrderCreated(order *model.Order) {
	o.enqueue(NewOrderMessage(EventOrderCreated, order, o.now()))
}

func (o *Outbox) PaymentUpdated(order *model.Order) {
	o.enqueue(NewOrderMessage(EventPaymentUpdated, order, o.now()))
}

func (o *Outbox) enqueue(m OrderMessage) {
	select {
	case o.ch <- m:
	default:
		o.dropped.Add(1)
		o.log.Warn("outbox full, dropping order event", zap.String("event", m.Event), zap.String("order_no", m.OrderNo))
	}
}

// Dropped 返回因缓冲满而丢弃的事件数。
func (o *Outbox) Dropped() int64 { return o.dropped.Load() }

// Run 持续写入直到 ctx 结束，退出前把剩余事件刷完。
func (o *Outbox) Run(ctx context.Context) {
	for {
		select {
		case m := <-o.ch:
			o.append(ctx, m)
		case <-ctx.Done():
			o.flush()
			return
		}
	}
}

func (o *Outbox) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case m := <-o.ch:
			o.append(ctx, m)
		default:
			return
		}
	}
}

func (o *Outbox) append(ctx context.Context, m OrderMessage) {
	if _, err := rediskey.Append(ctx, o.rdb, o.stream, o.maxLen, m.streamValues()); err != nil {
		o.log.Error("outbox append failed", zap.String("event", m.Event), zap.String("order_no", m.OrderNo), zap.Error(err))
	}
}
