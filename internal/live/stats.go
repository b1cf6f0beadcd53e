package live

import (
	"sync/atomic"

	"github.com/shopspring/decimal"
)

// Stats is the fold of a session's committed comments and orders.
// TotalRevenue only counts orders whose payment completed.
type Stats struct {
	TotalOrders  int64           `json:"total_orders"`
	TotalRevenue decimal.Decimal `json:"total_revenue"`
	CommentCount int64           `json:"comment_count"`
}

// Aggregator has exactly one writer: the session worker while the session is
// running, the manager under the session lock afterwards. Reads are lock-free.
type Aggregator struct {
	cur atomic.Pointer[Stats]
}

func NewAggregator() *Aggregator {
	a := &Aggregator{}
	a.cur.Store(&Stats{TotalRevenue: decimal.Zero})
	return a
}

func (a *Aggregator) Snapshot() Stats { return *a.cur.Load() }

func (a *Aggregator) CommentCommitted() {
	s := *a.cur.Load()
	s.CommentCount++
	a.cur.Store(&s)
}

func (a *Aggregator) OrderCreated() {
	s := *a.cur.Load()
	s.TotalOrders++
	a.cur.Store(&s)
}

func (a *Aggregator) PaymentCompleted(amount decimal.Decimal) {
	s := *a.cur.Load()
	s.TotalRevenue = s.TotalRevenue.Add(amount)
	a.cur.Store(&s)
}

// Reset replaces the running totals, used after a re-fold from storage.
func (a *Aggregator) Reset(s Stats) {
	a.cur.Store(&s)
}
