package ingest

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"live_commerce/internal/catalog"
	"live_commerce/internal/model"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var validate = validator.New()

// Config bounds one ingester.
type Config struct {
	Buffer  int     // capacity of the channel towards the router
	Rate    float64 // comments per second
	Burst   int
	Backoff Backoff
}

func DefaultConfig() Config {
	return Config{Buffer: 256, Rate: 200, Burst: 50, Backoff: DefaultBackoff()}
}

// Hooks let the session manager observe an ingester without sharing its state.
type Hooks struct {
	OnState  func(platform string, state model.ConnectionState)
	OnClosed func(platform string, err error)
	Now      func() time.Time
}

// Ingester owns one PlatformConnection: it pulls payloads from its source,
// turns them into Comments with a strictly increasing sequence number and a
// non-decreasing arrival time, and hands them to the router.
type Ingester struct {
	sessionID string
	platform  string
	src       Source
	out       chan model.Comment
	limiter   *rate.Limiter
	backoff   Backoff
	hooks     Hooks
	log       *zap.Logger

	state    atomic.Value // model.ConnectionState
	lastErr  atomic.Value // string
	received atomic.Int64
	dropped  atomic.Int64

	// owned by Run
	seq         int64
	lastArrival time.Time
}

func New(sessionID, platform string, src Source, cfg Config, hooks Hooks, log *zap.Logger) *Ingester {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	limit := rate.Limit(cfg.Rate)
	if cfg.Rate <= 0 {
		limit = rate.Inf
	}
	if hooks.Now == nil {
		hooks.Now = time.Now
	}
	in := &Ingester{
		sessionID: sessionID,
		platform:  platform,
		src:       src,
		out:       make(chan model.Comment, cfg.Buffer),
		limiter:   rate.NewLimiter(limit, cfg.Burst),
		backoff:   cfg.Backoff,
		hooks:     hooks,
		log:       log.With(zap.String("session_id", sessionID), zap.String("platform", platform)),
	}
	in.state.Store(model.ConnConnecting)
	in.lastErr.Store("")
	return in
}

// Out is closed when Run returns.
func (in *Ingester) Out() <-chan model.Comment { return in.out }

func (in *Ingester) Platform() string { return in.platform }

func (in *Ingester) State() model.ConnectionState { return in.state.Load().(model.ConnectionState) }

// Connection returns a copy of the connection health.
func (in *Ingester) Connection() model.PlatformConnection {
	return model.PlatformConnection{
		SessionID: in.sessionID,
		Platform:  in.platform,
		State:     in.State(),
		Received:  in.received.Load(),
		Dropped:   in.dropped.Load(),
		LastError: in.lastErr.Load().(string),
	}
}

// Run reads until ctx is done or the source fails for good. Payloads already
// fetched when ctx ends are still delivered.
func (in *Ingester) Run(ctx context.Context) {
	defer close(in.out)
	defer func() {
		if err := in.src.Close(); err != nil {
			in.log.Debug("close source", zap.Error(err))
		}
	}()

	attempt := 0
	for {
		batch, err := in.src.Fetch(ctx)
		pressured := in.deliver(ctx, batch)
		if ctx.Err() != nil {
			if err == nil {
				// Cancelled after a successful fetch; take what is still buffered.
				rest, _ := in.src.Fetch(ctx)
				in.deliver(ctx, rest)
			}
			in.setState(model.ConnClosed, "")
			return
		}
		if err != nil {
			if isPermanent(err) {
				in.fail(err)
				return
			}
			attempt++
			if attempt > in.backoff.MaxAttempts {
				in.fail(fmt.Errorf("giving up after %d attempts: %w", attempt-1, err))
				return
			}
			in.setState(model.ConnDegraded, err.Error())
			delay := in.backoff.Delay(attempt)
			in.log.Warn("comment feed error, backing off",
				zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
			if !sleep(ctx, delay) {
				in.setState(model.ConnClosed, "")
				return
			}
			continue
		}
		attempt = 0
		if !pressured && in.State() != model.ConnStreaming {
			in.setState(model.ConnStreaming, "")
		}
	}
}

// deliver reports whether the rate bound or a full channel slowed it down.
func (in *Ingester) deliver(ctx context.Context, batch []Payload) (pressured bool) {
	for _, p := range batch {
		if err := validate.Struct(p); err != nil {
			in.dropped.Add(1)
			in.log.Debug("dropping invalid payload", zap.Error(err))
			continue
		}
		if ctx.Err() == nil && !in.limiter.Allow() {
			pressured = true
			in.setState(model.ConnDegraded, "comment rate above bound")
			// On cancel the rest of the batch goes through unthrottled.
			_ = in.limiter.Wait(ctx)
		}
		c := in.normalize(p)
		select {
		case in.out <- c:
		default:
			pressured = true
			in.setState(model.ConnDegraded, "router backpressure")
			in.out <- c
		}
		in.received.Add(1)
	}
	return pressured
}

func (in *Ingester) normalize(p Payload) model.Comment {
	arrived := in.hooks.Now()
	if arrived.Before(in.lastArrival) {
		arrived = in.lastArrival
	}
	in.lastArrival = arrived
	in.seq++

	username := p.Username
	if username == "" {
		username = p.ViewerID
	}
	return model.Comment{
		SessionID:      in.sessionID,
		Platform:       in.platform,
		Seq:            in.seq,
		ViewerID:       p.ViewerID,
		Username:       username,
		RawText:        p.Text,
		NormalizedText: catalog.Normalize(p.Text),
		ArrivedAt:      arrived,
	}
}

func (in *Ingester) fail(err error) {
	in.setState(model.ConnClosed, err.Error())
	in.log.Error("comment feed closed", zap.Error(err))
	if in.hooks.OnClosed != nil {
		in.hooks.OnClosed(in.platform, err)
	}
}

func (in *Ingester) setState(s model.ConnectionState, reason string) {
	if reason != "" {
		in.lastErr.Store(reason)
	}
	prev := in.state.Swap(s)
	if prev == s {
		return
	}
	if in.hooks.OnState != nil {
		in.hooks.OnState(in.platform, s)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
