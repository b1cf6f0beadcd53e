package live

import (
	"context"

	"live_commerce/internal/model"
)

// OrderKey is the stored part of a dedup key plus its repeat counter.
type OrderKey struct {
	ViewerID    string
	CatalogCode string
	RepeatSeq   int
}

// OrderFilter narrows ListOrders. Zero values mean "any".
type OrderFilter struct {
	SessionID string
	Status    model.OrderStatus
	Limit     int
}

// Store is the durable side of the orchestrator. Not-found lookups return
// ErrNotFound; a dedup index violation on CreateOrder returns ErrAlreadyExists.
type Store interface {
	CreateSession(ctx context.Context, s *model.LiveSession) error
	SaveSession(ctx context.Context, s *model.LiveSession) error
	GetSession(ctx context.Context, id string) (*model.LiveSession, error)
	ListSessions(ctx context.Context) ([]model.LiveSession, error)
	ListSessionsByStatus(ctx context.Context, status model.SessionStatus) ([]model.LiveSession, error)

	SaveComment(ctx context.Context, c *model.Comment) error
	ListComments(ctx context.Context, sessionID string, limit int) ([]model.Comment, error)

	SavePin(ctx context.Context, p *model.PinnedCode) error
	LatestPin(ctx context.Context, sessionID string) (*model.PinnedCode, error)

	CreateOrder(ctx context.Context, o *model.Order) error
	GetOrder(ctx context.Context, orderNo string) (*model.Order, error)
	ListOrders(ctx context.Context, f OrderFilter) ([]model.Order, error)
	SessionOrderKeys(ctx context.Context, sessionID string) ([]OrderKey, error)
	// TransitionPayment moves an order out of pending. changed is false when the
	// order had already left pending, in which case nothing is written.
	TransitionPayment(ctx context.Context, orderNo string, to model.PaymentStatus) (o *model.Order, changed bool, err error)
	UpdateOrderStatus(ctx context.Context, orderNo string, status model.OrderStatus) (*model.Order, error)

	// FoldStats recomputes a session's stats from committed orders and comments.
	FoldStats(ctx context.Context, sessionID string) (Stats, error)
}
