package ingest

import (
	"context"
	"errors"
	"time"
)

// Payload is a comment as the platform feeds deliver it, already normalized
// into one shape across platforms.
type Payload struct {
	SessionID string    `json:"session_id"`
	ViewerID  string    `json:"viewer_id" validate:"required,max=128"`
	Username  string    `json:"username" validate:"max=128"`
	Text      string    `json:"text" validate:"required,max=2000"`
	SentAt    time.Time `json:"sent_at"`
}

// Source is one platform's comment feed for one session.
//
// Fetch blocks until payloads are available, ctx is done or the feed fails;
// it may return an empty batch after an idle poll. When ctx is done it returns
// whatever was already buffered together with ctx.Err(), so accepted comments
// are not lost on shutdown.
type Source interface {
	Fetch(ctx context.Context) ([]Payload, error)
	Close() error
}

// ErrFeedClosed is returned by a source that will never yield again. The
// ingester treats it as unrecoverable.
var ErrFeedClosed = errors.New("comment feed closed")

// Permanent marks err as unrecoverable for the ingester.
func Permanent(err error) error { return &permanentError{err: err} }

type permanentError struct{ err error }

func (e *permanentError) Error() string { return "permanent: " + e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func isPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p) || errors.Is(err, ErrFeedClosed)
}
