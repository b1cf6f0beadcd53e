package live

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"live_commerce/internal/ingest"
	"live_commerce/internal/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SourceFactory opens the comment feed of one platform for one session.
type SourceFactory interface {
	NewSource(sessionID, platform string) (ingest.Source, error)
}

// Observer receives pipeline counters. Calls happen on hot paths and must be
// cheap.
type Observer interface {
	CommentProcessed(platform string)
	Matched(rule MatchRule)
	OrderCreated(source model.OrderSource)
	OrderSkipped(reason string)
	ConnectionState(platform string, state model.ConnectionState)
	PipelineFault()
	SessionsActive(n int)
}

type nopObserver struct{}

func (nopObserver) CommentProcessed(string)                       {}
func (nopObserver) Matched(MatchRule)                             {}
func (nopObserver) OrderCreated(model.OrderSource)                {}
func (nopObserver) OrderSkipped(string)                           {}
func (nopObserver) ConnectionState(string, model.ConnectionState) {}
func (nopObserver) PipelineFault()                                {}
func (nopObserver) SessionsActive(int)                            {}

// NopObserver ignores everything.
var NopObserver Observer = nopObserver{}

// Config tunes the per-session pipeline.
type Config struct {
	// Platforms lists the platform kinds a session may use.
	Platforms        []string
	Ingest           ingest.Config
	ReorderWindow    time.Duration
	PipelineBuffer   int
	CommentHistory   int
	SubscriberBuffer int
}

func DefaultConfig() Config {
	return Config{
		Platforms:        []string{model.PlatformFacebook, model.PlatformYouTube, model.PlatformInstagram},
		Ingest:           ingest.DefaultConfig(),
		ReorderWindow:    200 * time.Millisecond,
		PipelineBuffer:   256,
		CommentHistory:   500,
		SubscriberBuffer: 64,
	}
}

type Options struct {
	Store    Store
	Catalog  CatalogView
	Sources  SourceFactory
	Events   OrderEventSink
	Observer Observer
	Logger   *zap.Logger
	Config   Config
	Now      func() time.Time
}

// Manager owns the lifecycle of every live session in this process.
type Manager struct {
	store   Store
	catalog CatalogView
	sources SourceFactory
	events  OrderEventSink
	obs     Observer
	log     *zap.Logger
	cfg     Config
	now     func() time.Time

	allowed map[string]bool

	mu       sync.RWMutex
	sessions map[string]*session
}

func NewManager(opts Options) *Manager {
	m := &Manager{
		store:    opts.Store,
		catalog:  opts.Catalog,
		sources:  opts.Sources,
		events:   opts.Events,
		obs:      opts.Observer,
		log:      opts.Logger,
		cfg:      opts.Config,
		now:      opts.Now,
		allowed:  make(map[string]bool),
		sessions: make(map[string]*session),
	}
	if m.sources == nil {
		m.sources = ingest.PushFactory{}
	}
	if m.events == nil {
		m.events = NopEventSink
	}
	if m.obs == nil {
		m.obs = NopObserver
	}
	if m.log == nil {
		m.log = zap.NewNop()
	}
	if m.now == nil {
		m.now = time.Now
	}
	if len(m.cfg.Platforms) == 0 {
		m.cfg.Platforms = DefaultConfig().Platforms
	}
	for _, p := range m.cfg.Platforms {
		m.allowed[p] = true
	}
	return m
}

// StartSession persists a new active session and starts its pipeline.
func (m *Manager) StartSession(ctx context.Context, title string, platforms []string) (SessionView, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return SessionView{}, Errorf(ErrInvalidInput, "title is required")
	}
	kinds, err := m.platformKinds(platforms)
	if err != nil {
		return SessionView{}, err
	}

	id := uuid.NewString()
	sources := make(map[string]ingest.Source, len(kinds))
	closeAll := func() {
		for _, src := range sources {
			_ = src.Close()
		}
	}
	for _, p := range kinds {
		src, err := m.sources.NewSource(id, p)
		if err != nil {
			closeAll()
			return SessionView{}, Errorf(ErrPlatformDegraded, "open %s feed: %v", p, err)
		}
		sources[p] = src
	}

	row := &model.LiveSession{
		ID:        id,
		Title:     title,
		Platforms: model.PlatformList(kinds),
		Status:    model.SessionActive,
		StartedAt: m.now(),
	}
	if err := m.store.CreateSession(ctx, row); err != nil {
		closeAll()
		return SessionView{}, err
	}

	s := newSession(m, row)
	s.start(sources)

	m.mu.Lock()
	m.sessions[id] = s
	n := len(m.sessions)
	m.mu.Unlock()
	m.obs.SessionsActive(n)

	s.log.Info("session started", zap.String("title", title), zap.Strings("platforms", kinds))
	return s.view(), nil
}

func (m *Manager) platformKinds(platforms []string) ([]string, error) {
	if len(platforms) == 0 {
		return nil, Errorf(ErrInvalidInput, "at least one platform is required")
	}
	seen := make(map[string]bool, len(platforms))
	kinds := make([]string, 0, len(platforms))
	for _, p := range platforms {
		k := strings.ToLower(strings.TrimSpace(p))
		if !m.allowed[k] {
			return nil, Errorf(ErrInvalidInput, "unknown platform %q", p)
		}
		if seen[k] {
			return nil, Errorf(ErrInvalidInput, "duplicate platform %q", p)
		}
		seen[k] = true
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func (m *Manager) running(id string) *session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// EndSession drains the session and freezes its stats. Ending an ended
// session returns its final view.
func (m *Manager) EndSession(ctx context.Context, id string) (SessionView, error) {
	s := m.running(id)
	if s == nil {
		return m.storedView(ctx, id)
	}
	if err := s.end(ctx); err != nil {
		return SessionView{}, err
	}
	v := s.view()

	m.mu.Lock()
	if m.sessions[id] == s {
		delete(m.sessions, id)
	}
	n := len(m.sessions)
	m.mu.Unlock()
	m.obs.SessionsActive(n)
	return v, nil
}

// GetSession never waits on the pipeline.
func (m *Manager) GetSession(ctx context.Context, id string) (SessionView, error) {
	if s := m.running(id); s != nil {
		return s.view(), nil
	}
	return m.storedView(ctx, id)
}

func (m *Manager) storedView(ctx context.Context, id string) (SessionView, error) {
	row, err := m.store.GetSession(ctx, id)
	if err != nil {
		return SessionView{}, err
	}
	v := viewFromRow(row)
	pin, err := m.store.LatestPin(ctx, id)
	if err != nil {
		return SessionView{}, err
	}
	if pin != nil {
		code := pin.Code
		v.PinnedCode = &code
	}
	return v, nil
}

// ListSessions returns every known session, newest first. Running sessions
// report live stats.
func (m *Manager) ListSessions(ctx context.Context) ([]SessionView, error) {
	rows, err := m.store.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]SessionView, 0, len(rows))
	for i := range rows {
		if s := m.running(rows[i].ID); s != nil {
			out = append(out, s.view())
			continue
		}
		out = append(out, viewFromRow(&rows[i]))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

// Comments returns the processed comments of a session in pipeline order.
func (m *Manager) Comments(ctx context.Context, id string) ([]CommentView, error) {
	if s := m.running(id); s != nil {
		return s.comments.snapshot(), nil
	}
	if _, err := m.store.GetSession(ctx, id); err != nil {
		return nil, err
	}
	rows, err := m.store.ListComments(ctx, id, m.cfg.CommentHistory)
	if err != nil {
		return nil, err
	}
	out := make([]CommentView, 0, len(rows))
	for i := range rows {
		out = append(out, commentView(&rows[i]))
	}
	return out, nil
}

// Subscribe streams new comment views of a running session. The channel is
// closed when the session ends or cancel is called.
func (m *Manager) Subscribe(ctx context.Context, id string) (<-chan CommentView, func(), error) {
	s := m.running(id)
	if s == nil {
		if _, err := m.store.GetSession(ctx, id); err != nil {
			return nil, nil, err
		}
		return nil, nil, Errorf(ErrSessionEnded, "session %s has ended", id)
	}
	ch, cancel, ok := s.hub.subscribe(m.cfg.SubscriberBuffer)
	if !ok {
		return nil, nil, Errorf(ErrSessionEnded, "session %s has ended", id)
	}
	return ch, cancel, nil
}

// PinCode features code in a running session.
func (m *Manager) PinCode(ctx context.Context, id, code string) (*model.PinnedCode, error) {
	s, err := m.active(ctx, id)
	if err != nil {
		return nil, err
	}
	pin, err := s.pins.Pin(ctx, code)
	if err != nil {
		return nil, err
	}
	s.log.Info("code pinned", zap.String("code", pin.Code))
	return pin, nil
}

// PushComment feeds a webhook-delivered comment to the session's ingester.
func (m *Manager) PushComment(ctx context.Context, id, platform string, p ingest.Payload) error {
	s, err := m.active(ctx, id)
	if err != nil {
		return err
	}
	src, ok := s.push[strings.ToLower(platform)]
	if !ok {
		return Errorf(ErrInvalidInput, "session %s has no webhook feed for %q", id, platform)
	}
	p.SessionID = id
	switch err := src.Push(p); {
	case errors.Is(err, ingest.ErrPushClosed):
		return Errorf(ErrSessionEnded, "session %s has ended", id)
	case errors.Is(err, ingest.ErrPushBufferFull):
		return Errorf(ErrPlatformDegraded, "%s feed is saturated", platform)
	default:
		return err
	}
}

// active returns the running session or SessionEnded/NotFound.
func (m *Manager) active(ctx context.Context, id string) (*session, error) {
	s := m.running(id)
	if s != nil && s.accepting() {
		return s, nil
	}
	if s != nil {
		return nil, Errorf(ErrSessionEnded, "session %s has ended", id)
	}
	if _, err := m.store.GetSession(ctx, id); err != nil {
		return nil, err
	}
	return nil, Errorf(ErrSessionEnded, "session %s has ended", id)
}

// ApplyPayment moves an order's payment out of pending. Orders of running
// sessions are updated by their session worker so revenue is counted once.
func (m *Manager) ApplyPayment(ctx context.Context, orderNo string, to model.PaymentStatus) (*model.Order, error) {
	if to != model.PaymentCompleted && to != model.PaymentFailed {
		return nil, Errorf(ErrInvalidInput, "payment status %q is not a transition target", to)
	}
	o, err := m.store.GetOrder(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	if o.SessionID != nil {
		if s := m.running(*o.SessionID); s != nil {
			return s.payment(ctx, orderNo, to)
		}
	}

	o, changed, err := m.store.TransitionPayment(ctx, orderNo, to)
	if err != nil {
		return nil, err
	}
	if !changed {
		return o, nil
	}
	m.events.PaymentUpdated(o)
	if o.SessionID != nil && to == model.PaymentCompleted {
		if err := m.checkpoint(ctx, *o.SessionID); err != nil {
			m.log.Error("checkpoint after late payment failed",
				zap.String("session_id", *o.SessionID), zap.Error(err))
		}
	}
	return o, nil
}

// checkpoint re-folds a stored session's totals into its row.
func (m *Manager) checkpoint(ctx context.Context, id string) error {
	row, err := m.store.GetSession(ctx, id)
	if err != nil {
		return err
	}
	st, err := m.store.FoldStats(ctx, id)
	if err != nil {
		return err
	}
	row.TotalOrders = st.TotalOrders
	row.TotalRevenue = st.TotalRevenue
	row.CommentCount = st.CommentCount
	return m.store.SaveSession(ctx, row)
}

// CreateManualOrder records a seller-entered order. With a session id it goes
// through that session's worker and its dedup index.
func (m *Manager) CreateManualOrder(ctx context.Context, req ManualOrder) (*model.Order, error) {
	req.ViewerID = strings.TrimSpace(req.ViewerID)
	req.CatalogCode = strings.TrimSpace(req.CatalogCode)
	if req.CatalogCode == "" {
		return nil, Errorf(ErrInvalidInput, "saree_code is required")
	}
	if req.ViewerID == "" {
		req.ViewerID = strings.TrimSpace(req.PhoneNumber)
	}
	if req.ViewerID == "" {
		return nil, Errorf(ErrInvalidInput, "viewer_id or phone_number is required")
	}

	if req.SessionID != "" {
		s, err := m.active(ctx, req.SessionID)
		if err != nil {
			return nil, err
		}
		return s.manualOrder(ctx, req)
	}

	item, ok := m.catalog.Snapshot().Lookup(req.CatalogCode)
	if !ok {
		return nil, Errorf(ErrUnknownCode, "catalog code %q not found", req.CatalogCode)
	}
	if item.Stock <= 0 {
		return nil, Errorf(ErrCatalogUnavailable, "catalog code %s is out of stock", item.Code)
	}
	o := newOrder(nil, req.ViewerID, item.Code, m.now())
	applyManual(o, req)
	o.Amount = item.Price
	if err := m.store.CreateOrder(ctx, o); err != nil {
		return nil, err
	}
	m.events.OrderCreated(o)
	m.obs.OrderCreated(o.Source)
	return o, nil
}

func (m *Manager) Orders(ctx context.Context, f OrderFilter) ([]model.Order, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, Errorf(ErrInvalidInput, "unknown order status %q", f.Status)
	}
	return m.store.ListOrders(ctx, f)
}

func (m *Manager) Order(ctx context.Context, orderNo string) (*model.Order, error) {
	return m.store.GetOrder(ctx, orderNo)
}

// UpdateOrderStatus changes fulfillment status only; payment and stats are
// untouched.
func (m *Manager) UpdateOrderStatus(ctx context.Context, orderNo string, status model.OrderStatus) (*model.Order, error) {
	if !status.Valid() {
		return nil, Errorf(ErrInvalidInput, "unknown order status %q", status)
	}
	return m.store.UpdateOrderStatus(ctx, orderNo, status)
}

// Recover ends sessions a previous process left running. Their feeds cannot
// be resumed, so their totals are re-folded from storage and frozen.
func (m *Manager) Recover(ctx context.Context) error {
	for _, st := range []model.SessionStatus{model.SessionCreated, model.SessionActive} {
		rows, err := m.store.ListSessionsByStatus(ctx, st)
		if err != nil {
			return err
		}
		for i := range rows {
			row := &rows[i]
			if m.running(row.ID) != nil {
				continue
			}
			stats, err := m.store.FoldStats(ctx, row.ID)
			if err != nil {
				return err
			}
			now := m.now()
			row.Status = model.SessionEnded
			row.EndedAt = &now
			row.TotalOrders = stats.TotalOrders
			row.TotalRevenue = stats.TotalRevenue
			row.CommentCount = stats.CommentCount
			if err := m.store.SaveSession(ctx, row); err != nil {
				return err
			}
			m.log.Warn("ended orphaned session",
				zap.String("session_id", row.ID), zap.Int64("orders", stats.TotalOrders))
		}
	}
	return nil
}

// Shutdown ends every running session.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	var errs []error
	for _, id := range ids {
		if _, err := m.EndSession(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
