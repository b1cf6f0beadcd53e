package live

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestAggregator(t *testing.T) {
	a := NewAggregator()
	a.CommentCommitted()
	a.CommentCommitted()
	a.OrderCreated()
	a.PaymentCompleted(decimal.RequireFromString("1299.99"))
	a.PaymentCompleted(decimal.RequireFromString("0.01"))

	s := a.Snapshot()
	assert.Equal(t, int64(2), s.CommentCount)
	assert.Equal(t, int64(1), s.TotalOrders)
	assert.True(t, s.TotalRevenue.Equal(decimal.RequireFromString("1300")))

	a.Reset(Stats{TotalOrders: 7, TotalRevenue: decimal.Zero})
	assert.Equal(t, int64(7), a.Snapshot().TotalOrders)
	assert.Equal(t, int64(0), a.Snapshot().CommentCount)
}
