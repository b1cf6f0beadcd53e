package live

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"live_commerce/internal/catalog"
	"live_commerce/internal/model"
)

// CatalogView hands out the current immutable catalog snapshot.
type CatalogView interface {
	Snapshot() *catalog.Snapshot
}

// PinManager holds the currently featured code of one session. Writers are
// serialized; readers only load an atomic pointer.
type PinManager struct {
	sessionID string
	catalog   CatalogView
	store     Store
	now       func() time.Time

	mu      sync.Mutex
	current atomic.Pointer[model.PinnedCode]
}

func NewPinManager(sessionID string, cv CatalogView, store Store, now func() time.Time) *PinManager {
	return &PinManager{sessionID: sessionID, catalog: cv, store: store, now: now}
}

// Pin supersedes the current pin. Nothing changes if the code is unknown or
// the audit row cannot be written.
func (p *PinManager) Pin(ctx context.Context, code string) (*model.PinnedCode, error) {
	item, ok := p.catalog.Snapshot().Lookup(code)
	if !ok {
		return nil, Errorf(ErrUnknownCode, "catalog code %q not found", code)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	pin := &model.PinnedCode{
		SessionID: p.sessionID,
		Code:      item.Code,
		PinnedAt:  p.now(),
	}
	if err := p.store.SavePin(ctx, pin); err != nil {
		return nil, err
	}
	p.current.Store(pin)
	return pin, nil
}

// Current returns the authoritative pin or nil.
func (p *PinManager) Current() *model.PinnedCode { return p.current.Load() }
