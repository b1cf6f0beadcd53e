package live

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"live_commerce/internal/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrderEventSink receives committed order changes. Implementations must not
// block the caller.
type OrderEventSink interface {
	OrderCreated(o *model.Order)
	PaymentUpdated(o *model.Order)
}

type nopSink struct{}

func (nopSink) OrderCreated(*model.Order)   {}
func (nopSink) PaymentUpdated(*model.Order) {}

// NopEventSink drops every event.
var NopEventSink OrderEventSink = nopSink{}

type dedupKey struct {
	viewer string
	code   string
}

// ManualOrder is a seller-entered order.
type ManualOrder struct {
	SessionID     string
	ViewerID      string
	CatalogCode   string
	CustomerName  string
	PhoneNumber   string
	Address       string
	PaymentMethod string
	AllowRepeat   bool
}

// OrderCreator turns match events into orders for one session. It is driven
// by the session worker only, which makes the dedup index single-owner.
type OrderCreator struct {
	sessionID string
	store     Store
	catalog   CatalogView
	events    OrderEventSink
	now       func() time.Time
	log       *zap.Logger

	// latest repeat_seq per key
	seen map[dedupKey]int
}

func NewOrderCreator(sessionID string, store Store, cv CatalogView, events OrderEventSink, now func() time.Time, log *zap.Logger) *OrderCreator {
	return &OrderCreator{
		sessionID: sessionID,
		store:     store,
		catalog:   cv,
		events:    events,
		now:       now,
		log:       log,
		seen:      make(map[dedupKey]int),
	}
}

// Load rebuilds the dedup index from committed orders.
func (c *OrderCreator) Load(ctx context.Context) error {
	keys, err := c.store.SessionOrderKeys(ctx, c.sessionID)
	if err != nil {
		return fmt.Errorf("load order keys: %w", err)
	}
	seen := make(map[dedupKey]int, len(keys))
	for _, k := range keys {
		dk := dedupKey{viewer: k.ViewerID, code: k.CatalogCode}
		if prev, ok := seen[dk]; !ok || k.RepeatSeq > prev {
			seen[dk] = k.RepeatSeq
		}
	}
	c.seen = seen
	return nil
}

// FromMatch creates the order for ev. created is false when the dedup key
// already has an order; that is not an error.
func (c *OrderCreator) FromMatch(ctx context.Context, ev MatchEvent) (o *model.Order, created bool, err error) {
	key := dedupKey{viewer: ev.Comment.ViewerID, code: ev.Code}
	if _, dup := c.seen[key]; dup {
		return nil, false, nil
	}

	item, ok := c.catalog.Snapshot().Lookup(ev.Code)
	if !ok || item.Stock <= 0 {
		return nil, false, Errorf(ErrCatalogUnavailable, "catalog code %s is out of stock", ev.Code)
	}

	sid := c.sessionID
	o = newOrder(&sid, ev.Comment.ViewerID, item.Code, c.now())
	o.Amount = item.Price
	o.Source = model.OrderSourceComment
	o.Platform = ev.Comment.Platform
	o.CustomerName = ev.Comment.Username
	if ev.Comment.ID != 0 {
		id := ev.Comment.ID
		o.CommentID = &id
	}

	if err := c.commit(ctx, key, o); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return o, true, nil
}

// Manual creates a seller-entered order inside this session. Without
// AllowRepeat an existing order for the key is reported as ErrAlreadyExists.
func (c *OrderCreator) Manual(ctx context.Context, req ManualOrder) (*model.Order, error) {
	item, ok := c.catalog.Snapshot().Lookup(req.CatalogCode)
	if !ok {
		return nil, Errorf(ErrUnknownCode, "catalog code %q not found", req.CatalogCode)
	}
	if item.Stock <= 0 {
		return nil, Errorf(ErrCatalogUnavailable, "catalog code %s is out of stock", item.Code)
	}

	key := dedupKey{viewer: req.ViewerID, code: item.Code}
	seq := 0
	if prev, dup := c.seen[key]; dup {
		if !req.AllowRepeat {
			return nil, Errorf(ErrAlreadyExists, "viewer %s already ordered %s in this session", req.ViewerID, item.Code)
		}
		seq = prev + 1
	}

	sid := c.sessionID
	o := newOrder(&sid, req.ViewerID, item.Code, c.now())
	applyManual(o, req)
	o.Amount = item.Price
	o.RepeatSeq = seq
	if err := c.commit(ctx, key, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (c *OrderCreator) commit(ctx context.Context, key dedupKey, o *model.Order) error {
	if err := c.store.CreateOrder(ctx, o); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			// Storage knows a key this worker did not; adopt it.
			if prev, ok := c.seen[key]; !ok || o.RepeatSeq > prev {
				c.seen[key] = o.RepeatSeq
			}
		}
		return err
	}
	c.seen[key] = o.RepeatSeq
	c.events.OrderCreated(o)
	return nil
}

func newOrder(sessionID *string, viewerID, code string, now time.Time) *model.Order {
	return &model.Order{
		OrderNo:       newOrderNo(now),
		SessionID:     sessionID,
		ViewerID:      viewerID,
		CatalogCode:   code,
		PaymentStatus: model.PaymentPending,
		Status:        model.OrderPending,
		CreatedAt:     now,
	}
}

func applyManual(o *model.Order, req ManualOrder) {
	o.Source = model.OrderSourceManual
	o.CustomerName = req.CustomerName
	o.PhoneNumber = req.PhoneNumber
	o.Address = req.Address
	o.PaymentMethod = req.PaymentMethod
}

// newOrderNo yields ORD-YYYYMMDD-XXXXXXXX.
func newOrderNo(now time.Time) string {
	return fmt.Sprintf("ORD-%s-%s", now.UTC().Format("20060102"), strings.ToUpper(uuid.NewString()[:8]))
}
