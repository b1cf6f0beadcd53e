package live

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"live_commerce/internal/ingest"
	"live_commerce/internal/model"

	"go.uber.org/zap"
)

var errWorkerGone = errors.New("session worker stopped")

type command struct {
	fn    func(ctx context.Context) error
	reply chan error
}

// session is the per-session actor. Pipeline state (dedup index, stats
// writes, comment log) is only touched by the worker goroutine while it runs,
// and by end/afterEnd under mu once it has stopped.
type session struct {
	id        string
	title     string
	platforms []string
	startedAt time.Time

	m   *Manager
	log *zap.Logger

	status   atomic.Value // model.SessionStatus
	endedAt  atomic.Pointer[time.Time]
	draining atomic.Bool

	stats    *Aggregator
	pins     *PinManager
	creator  *OrderCreator
	comments *commentLog
	hub      *hub

	ingesters []*ingest.Ingester
	push      map[string]*ingest.PushSource
	cancel    context.CancelFunc
	control   chan command
	done      chan struct{}

	mu     sync.Mutex
	faults atomic.Int64

	// beforeProcess runs ahead of every comment; tests use it to inject faults.
	beforeProcess func(c *model.Comment)
}

func newSession(m *Manager, row *model.LiveSession) *session {
	log := m.log.With(zap.String("session_id", row.ID))
	s := &session{
		id:        row.ID,
		title:     row.Title,
		platforms: append([]string(nil), row.Platforms...),
		startedAt: row.StartedAt,
		m:         m,
		log:       log,
		stats:     NewAggregator(),
		pins:      NewPinManager(row.ID, m.catalog, m.store, m.now),
		creator:   NewOrderCreator(row.ID, m.store, m.catalog, m.events, m.now, log),
		comments:  newCommentLog(m.cfg.CommentHistory),
		hub:       newHub(),
		push:      make(map[string]*ingest.PushSource),
		control:   make(chan command),
		done:      make(chan struct{}),
	}
	s.status.Store(row.Status)
	return s
}

// start wires ingesters -> router -> worker.
func (s *session) start(sources map[string]ingest.Source) {
	ictx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	inputs := make([]<-chan model.Comment, 0, len(s.platforms))
	for _, p := range s.platforms {
		src := sources[p]
		if ps, ok := src.(*ingest.PushSource); ok {
			s.push[p] = ps
		}
		ing := ingest.New(s.id, p, src, s.m.cfg.Ingest, ingest.Hooks{
			OnState:  s.connectionChanged,
			OnClosed: s.connectionClosed,
			Now:      s.m.now,
		}, s.m.log.Named("ingest"))
		s.ingesters = append(s.ingesters, ing)
		inputs = append(inputs, ing.Out())
		go ing.Run(ictx)
	}

	r := NewRouter(inputs, s.m.cfg.ReorderWindow, s.m.cfg.PipelineBuffer, s.m.now)
	go r.Run()
	// The worker context is never cancelled: ending a session drains it.
	go s.run(context.Background(), r.Out())
}

func (s *session) currentStatus() model.SessionStatus {
	return s.status.Load().(model.SessionStatus)
}

// accepting reports whether the pipeline still takes pins and orders. It
// turns false as soon as end starts draining, even if the final checkpoint
// later fails.
func (s *session) accepting() bool {
	return !s.draining.Load() && s.currentStatus() != model.SessionEnded
}

func (s *session) connectionChanged(platform string, state model.ConnectionState) {
	s.m.obs.ConnectionState(platform, state)
	s.log.Info("platform connection changed", zap.String("platform", platform), zap.String("state", string(state)))
}

// connectionClosed isolates the failure to one platform; the session goes on.
func (s *session) connectionClosed(platform string, err error) {
	s.log.Warn("platform connection closed, session continues",
		zap.String("platform", platform), zap.Error(Errorf(ErrPlatformDegraded, "%s: %v", platform, err)))
}

func (s *session) run(ctx context.Context, in <-chan model.Comment) {
	defer close(s.done)
	for {
		err := s.consume(ctx, in)
		if err == nil {
			return
		}
		s.faults.Add(1)
		s.m.obs.PipelineFault()
		s.log.Error("session worker crashed, respawning", zap.Error(err))
		if rerr := s.recoverState(ctx); rerr != nil {
			s.log.Error("re-fold after crash failed, keeping in-memory state", zap.Error(rerr))
		}
	}
}

// consume returns nil once in is closed and drained, or a PipelineFault when
// processing panicked. The event being processed at that moment is dropped.
func (s *session) consume(ctx context.Context, in <-chan model.Comment) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Errorf(ErrPipelineFault, "worker panic: %v", r)
		}
	}()
	for {
		select {
		case c, ok := <-in:
			if !ok {
				return nil
			}
			s.handleComment(ctx, c)
		case cmd := <-s.control:
			s.handleCommand(ctx, cmd)
		}
	}
}

func (s *session) handleCommand(ctx context.Context, cmd command) {
	defer func() {
		if r := recover(); r != nil {
			cmd.reply <- Errorf(ErrPipelineFault, "command panic: %v", r)
			panic(r)
		}
	}()
	cmd.reply <- cmd.fn(ctx)
}

func (s *session) handleComment(ctx context.Context, c model.Comment) {
	if s.beforeProcess != nil {
		s.beforeProcess(&c)
	}

	ev, matched := Match(&c, s.pins.Current(), s.m.catalog.Snapshot())
	if matched {
		code := ev.Code
		c.MatchedCode = &code
		c.MatchRule = string(ev.Rule)
	}
	if err := s.m.store.SaveComment(ctx, &c); err != nil {
		s.log.Error("dropping comment, store failed",
			zap.String("platform", c.Platform), zap.Int64("seq", c.Seq), zap.Error(err))
		return
	}
	s.stats.CommentCommitted()
	s.m.obs.CommentProcessed(c.Platform)

	view := commentView(&c)
	s.comments.append(view)
	s.hub.publish(view)

	if !matched {
		return
	}
	s.m.obs.Matched(ev.Rule)
	ev.Comment = &c

	o, created, err := s.creator.FromMatch(ctx, ev)
	switch {
	case err != nil:
		reason := "store_error"
		var le *Error
		if errors.As(err, &le) {
			reason = le.Code
		}
		s.m.obs.OrderSkipped(reason)
		s.log.Warn("match dropped, order not created",
			zap.String("code", ev.Code), zap.String("viewer_id", c.ViewerID), zap.Error(err))
	case !created:
		s.m.obs.OrderSkipped("duplicate")
		s.log.Debug("duplicate intent ignored", zap.String("code", ev.Code), zap.String("viewer_id", c.ViewerID))
	default:
		s.stats.OrderCreated()
		s.m.obs.OrderCreated(o.Source)
		s.log.Info("order auto-created",
			zap.String("order_no", o.OrderNo), zap.String("code", o.CatalogCode),
			zap.String("viewer_id", o.ViewerID), zap.String("rule", string(ev.Rule)))
	}
}

// recoverState rebuilds the worker's state from committed rows.
func (s *session) recoverState(ctx context.Context) error {
	st, err := s.m.store.FoldStats(ctx, s.id)
	if err != nil {
		return err
	}
	if err := s.creator.Load(ctx); err != nil {
		return err
	}
	s.stats.Reset(st)
	return nil
}

// exec runs fn on the worker. errWorkerGone means the worker already drained.
func (s *session) exec(ctx context.Context, fn func(ctx context.Context) error) error {
	cmd := command{fn: fn, reply: make(chan error, 1)}
	select {
	case s.control <- cmd:
	case <-s.done:
		return errWorkerGone
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-cmd.reply
}

func (s *session) applyPayment(ctx context.Context, orderNo string, to model.PaymentStatus) (*model.Order, error) {
	o, changed, err := s.m.store.TransitionPayment(ctx, orderNo, to)
	if err != nil {
		return nil, err
	}
	if changed {
		if to == model.PaymentCompleted {
			s.stats.PaymentCompleted(o.Amount)
		}
		s.m.events.PaymentUpdated(o)
	}
	return o, nil
}

func (s *session) payment(ctx context.Context, orderNo string, to model.PaymentStatus) (*model.Order, error) {
	var out *model.Order
	err := s.exec(ctx, func(ctx context.Context) error {
		o, err := s.applyPayment(ctx, orderNo, to)
		out = o
		return err
	})
	if !errors.Is(err, errWorkerGone) {
		return out, err
	}

	// The worker is gone; late confirmations still count towards revenue.
	s.mu.Lock()
	defer s.mu.Unlock()
	o, err := s.applyPayment(ctx, orderNo, to)
	if err != nil {
		return nil, err
	}
	if s.currentStatus() == model.SessionEnded {
		// The manager also checkpoints late payments once this session has left
		// the registry; only a re-fold from storage is safe to write.
		if err := s.m.checkpoint(ctx, s.id); err != nil {
			s.log.Error("checkpoint after late payment failed", zap.Error(err))
		}
	}
	return o, nil
}

func (s *session) manualOrder(ctx context.Context, req ManualOrder) (*model.Order, error) {
	var out *model.Order
	err := s.exec(ctx, func(ctx context.Context) error {
		o, err := s.creator.Manual(ctx, req)
		if err != nil {
			return err
		}
		s.stats.OrderCreated()
		s.m.obs.OrderCreated(o.Source)
		out = o
		return nil
	})
	if errors.Is(err, errWorkerGone) {
		return nil, Errorf(ErrSessionEnded, "session %s has ended", s.id)
	}
	return out, err
}

// end stops ingestion, drains the pipeline and checkpoints the final stats.
// A retry after a failed checkpoint only repeats the write.
func (s *session) end(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentStatus() == model.SessionEnded {
		return nil
	}

	s.draining.Store(true)
	for _, p := range s.push {
		_ = p.Close()
	}
	s.cancel()
	<-s.done
	s.hub.closeAll()

	now := s.m.now()
	row := s.row()
	row.Status = model.SessionEnded
	row.EndedAt = &now
	if err := s.m.store.SaveSession(ctx, row); err != nil {
		return err
	}
	s.endedAt.Store(&now)
	s.status.Store(model.SessionEnded)
	s.log.Info("session ended",
		zap.Int64("orders", row.TotalOrders), zap.String("revenue", row.TotalRevenue.String()),
		zap.Int64("comments", row.CommentCount))
	return nil
}

func (s *session) row() *model.LiveSession {
	st := s.stats.Snapshot()
	return &model.LiveSession{
		ID:           s.id,
		Title:        s.title,
		Platforms:    model.PlatformList(append([]string(nil), s.platforms...)),
		Status:       s.currentStatus(),
		StartedAt:    s.startedAt,
		EndedAt:      s.endedAt.Load(),
		TotalOrders:  st.TotalOrders,
		TotalRevenue: st.TotalRevenue,
		CommentCount: st.CommentCount,
	}
}

func (s *session) view() SessionView {
	v := SessionView{
		ID:        s.id,
		Title:     s.title,
		Platforms: append([]string(nil), s.platforms...),
		Status:    s.currentStatus(),
		Stats:     s.stats.Snapshot(),
		StartedAt: s.startedAt,
		EndedAt:   s.endedAt.Load(),
	}
	if pin := s.pins.Current(); pin != nil {
		code := pin.Code
		v.PinnedCode = &code
	}
	for _, ing := range s.ingesters {
		v.Connections = append(v.Connections, ing.Connection())
	}
	return v
}
