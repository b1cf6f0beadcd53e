package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	rd "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *rd.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestOutbox_EnqueueNeverBlocks(t *testing.T) {
	o := NewOutbox(nil, "live:order_events", 1000, 2, zap.NewNop())
	o.OrderCreated(testOrder())
	o.PaymentUpdated(testOrder())
	o.OrderCreated(testOrder())

	assert.Equal(t, int64(1), o.Dropped())
	first := <-o.ch
	second := <-o.ch
	assert.Equal(t, EventOrderCreated, first.Event)
	assert.Equal(t, EventPaymentUpdated, second.Event)
}

func TestOutbox_AppendsToStream(t *testing.T) {
	_, rdb := newTestRedis(t)
	const stream = "live:order_events"
	o := NewOutbox(rdb, stream, 1000, 8, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		o.Run(ctx)
		close(done)
	}()

	o.OrderCreated(testOrder())
	o.PaymentUpdated(testOrder())
	require.Eventually(t, func() bool {
		n, err := rdb.XLen(context.Background(), stream).Result()
		return err == nil && n == 2
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	entries, err := rdb.XRange(context.Background(), stream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	first, err := parseOrderEvent(entries[0].Values)
	require.NoError(t, err)
	assert.Equal(t, EventOrderCreated, first.Event)
	assert.Equal(t, testOrder().OrderNo, first.OrderNo)
	second, err := parseOrderEvent(entries[1].Values)
	require.NoError(t, err)
	assert.Equal(t, EventPaymentUpdated, second.Event)
}
