package live

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"live_commerce/internal/catalog"
	"live_commerce/internal/model"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"
)

// memStore is a Store kept in maps, with the same dedup backstop as the
// database schema.
type memStore struct {
	mu       sync.Mutex
	sessions map[string]model.LiveSession
	comments []model.Comment
	pins     []model.PinnedCode
	orders   []model.Order

	failComments bool
	failSaves    bool
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string]model.LiveSession)}
}

func (s *memStore) CreateSession(_ context.Context, ls *model.LiveSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[ls.ID]; ok {
		return Errorf(ErrAlreadyExists, "session %s exists", ls.ID)
	}
	s.sessions[ls.ID] = *ls
	return nil
}

func (s *memStore) SaveSession(_ context.Context, ls *model.LiveSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSaves {
		return errors.New("session table unavailable")
	}
	if _, ok := s.sessions[ls.ID]; !ok {
		return Errorf(ErrNotFound, "session %s not found", ls.ID)
	}
	s.sessions[ls.ID] = *ls
	return nil
}

func (s *memStore) GetSession(_ context.Context, id string) (*model.LiveSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls, ok := s.sessions[id]
	if !ok {
		return nil, Errorf(ErrNotFound, "session %s not found", id)
	}
	return &ls, nil
}

func (s *memStore) ListSessions(context.Context) ([]model.LiveSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.LiveSession, 0, len(s.sessions))
	for _, ls := range s.sessions {
		out = append(out, ls)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func (s *memStore) ListSessionsByStatus(ctx context.Context, status model.SessionStatus) ([]model.LiveSession, error) {
	all, _ := s.ListSessions(ctx)
	var out []model.LiveSession
	for _, ls := range all {
		if ls.Status == status {
			out = append(out, ls)
		}
	}
	return out, nil
}

func (s *memStore) SaveComment(_ context.Context, c *model.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failComments {
		return context.DeadlineExceeded
	}
	c.ID = uint(len(s.comments) + 1)
	s.comments = append(s.comments, *c)
	return nil
}

func (s *memStore) ListComments(_ context.Context, sessionID string, limit int) ([]model.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Comment
	for _, c := range s.comments {
		if c.SessionID == sessionID {
			out = append(out, c)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *memStore) SavePin(_ context.Context, p *model.PinnedCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = uint(len(s.pins) + 1)
	s.pins = append(s.pins, *p)
	return nil
}

func (s *memStore) LatestPin(_ context.Context, sessionID string) (*model.PinnedCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.pins) - 1; i >= 0; i-- {
		if s.pins[i].SessionID == sessionID {
			p := s.pins[i]
			return &p, nil
		}
	}
	return nil, nil
}

func (s *memStore) CreateOrder(_ context.Context, o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.orders {
		if o.SessionID != nil && e.SessionID != nil && *e.SessionID == *o.SessionID &&
			e.ViewerID == o.ViewerID && e.CatalogCode == o.CatalogCode && e.RepeatSeq == o.RepeatSeq {
			return Errorf(ErrAlreadyExists, "duplicate order")
		}
	}
	o.ID = uint(len(s.orders) + 1)
	s.orders = append(s.orders, *o)
	return nil
}

func (s *memStore) GetOrder(_ context.Context, orderNo string) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.OrderNo == orderNo {
			return &o, nil
		}
	}
	return nil, Errorf(ErrNotFound, "order %s not found", orderNo)
}

func (s *memStore) ListOrders(_ context.Context, f OrderFilter) ([]model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Order
	for _, o := range s.orders {
		if f.SessionID != "" && (o.SessionID == nil || *o.SessionID != f.SessionID) {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (s *memStore) SessionOrderKeys(_ context.Context, sessionID string) ([]OrderKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []OrderKey
	for _, o := range s.orders {
		if o.SessionID != nil && *o.SessionID == sessionID {
			out = append(out, OrderKey{ViewerID: o.ViewerID, CatalogCode: o.CatalogCode, RepeatSeq: o.RepeatSeq})
		}
	}
	return out, nil
}

func (s *memStore) TransitionPayment(_ context.Context, orderNo string, to model.PaymentStatus) (*model.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.orders {
		if s.orders[i].OrderNo != orderNo {
			continue
		}
		changed := s.orders[i].PaymentStatus == model.PaymentPending
		if changed {
			s.orders[i].PaymentStatus = to
		}
		o := s.orders[i]
		return &o, changed, nil
	}
	return nil, false, Errorf(ErrNotFound, "order %s not found", orderNo)
}

func (s *memStore) UpdateOrderStatus(_ context.Context, orderNo string, status model.OrderStatus) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.orders {
		if s.orders[i].OrderNo == orderNo {
			s.orders[i].Status = status
			o := s.orders[i]
			return &o, nil
		}
	}
	return nil, Errorf(ErrNotFound, "order %s not found", orderNo)
}

func (s *memStore) FoldStats(_ context.Context, sessionID string) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{TotalRevenue: decimal.Zero}
	for _, o := range s.orders {
		if o.SessionID == nil || *o.SessionID != sessionID {
			continue
		}
		st.TotalOrders++
		if o.PaymentStatus == model.PaymentCompleted {
			st.TotalRevenue = st.TotalRevenue.Add(o.Amount)
		}
	}
	for _, c := range s.comments {
		if c.SessionID == sessionID {
			st.CommentCount++
		}
	}
	return st, nil
}

func (s *memStore) sessionOrders(sessionID string) []model.Order {
	out, _ := s.ListOrders(context.Background(), OrderFilter{SessionID: sessionID})
	return out
}

type staticCatalog struct{ snap *catalog.Snapshot }

func (c staticCatalog) Snapshot() *catalog.Snapshot { return c.snap }

func testCatalog() staticCatalog {
	return staticCatalog{snap: catalog.NewSnapshot([]catalog.Item{
		{Code: "SKU-101", Name: "Kanjivaram silk", Price: decimal.RequireFromString("1500"), Stock: 5},
		{Code: "SKU-202", Name: "Banarasi georgette", Price: decimal.RequireFromString("2200.50"), Stock: 3},
		{Code: "SKU-303", Name: "Chanderi cotton", Price: decimal.RequireFromString("900"), Stock: 0},
	}, time.Now())}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Ingest.Rate = 0
	cfg.ReorderWindow = 5 * time.Millisecond
	return cfg
}

func newTestManager(t *testing.T, store Store, sources SourceFactory) *Manager {
	t.Helper()
	m := NewManager(Options{
		Store:   store,
		Catalog: testCatalog(),
		Sources: sources,
		Logger:  zaptest.NewLogger(t),
		Config:  testConfig(),
	})
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}
