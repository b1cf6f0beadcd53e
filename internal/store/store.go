package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"live_commerce/internal/live"
	"live_commerce/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// GormStore implements live.Store on top of gorm.
type GormStore struct {
	db *gorm.DB
}

var _ live.Store = (*GormStore)(nil)

func New(db *gorm.DB) *GormStore { return &GormStore{db: db} }

func (s *GormStore) CreateSession(ctx context.Context, ls *model.LiveSession) error {
	if err := s.db.WithContext(ctx).Create(ls).Error; err != nil {
		if isUniqueViolation(err) {
			return live.Errorf(live.ErrAlreadyExists, "session %s already exists", ls.ID)
		}
		return err
	}
	return nil
}

// SaveSession writes the lifecycle fields and the stats checkpoint.
func (s *GormStore) SaveSession(ctx context.Context, ls *model.LiveSession) error {
	res := s.db.WithContext(ctx).Model(&model.LiveSession{}).
		Where("id = ?", ls.ID).
		Updates(map[string]any{
			"status":        ls.Status,
			"ended_at":      ls.EndedAt,
			"total_orders":  ls.TotalOrders,
			"total_revenue": ls.TotalRevenue,
			"comment_count": ls.CommentCount,
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return live.Errorf(live.ErrNotFound, "session %s not found", ls.ID)
	}
	return nil
}

func (s *GormStore) GetSession(ctx context.Context, id string) (*model.LiveSession, error) {
	var ls model.LiveSession
	if err := s.db.WithContext(ctx).First(&ls, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, live.Errorf(live.ErrNotFound, "session %s not found", id)
		}
		return nil, err
	}
	return &ls, nil
}

func (s *GormStore) ListSessions(ctx context.Context) ([]model.LiveSession, error) {
	var out []model.LiveSession
	err := s.db.WithContext(ctx).Order("started_at DESC").Find(&out).Error
	return out, err
}

func (s *GormStore) ListSessionsByStatus(ctx context.Context, status model.SessionStatus) ([]model.LiveSession, error) {
	var out []model.LiveSession
	err := s.db.WithContext(ctx).Where("status = ?", status).Order("started_at").Find(&out).Error
	return out, err
}

func (s *GormStore) SaveComment(ctx context.Context, c *model.Comment) error {
	return s.db.WithContext(ctx).Create(c).Error
}

// ListComments returns the newest limit comments in processing order.
func (s *GormStore) ListComments(ctx context.Context, sessionID string, limit int) ([]model.Comment, error) {
	q := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []model.Comment
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *GormStore) SavePin(ctx context.Context, p *model.PinnedCode) error {
	return s.db.WithContext(ctx).Create(p).Error
}

// LatestPin returns nil, nil when the session never pinned anything.
func (s *GormStore) LatestPin(ctx context.Context, sessionID string) (*model.PinnedCode, error) {
	var p model.PinnedCode
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("pinned_at DESC, id DESC").
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *GormStore) CreateOrder(ctx context.Context, o *model.Order) error {
	if err := s.db.WithContext(ctx).Create(o).Error; err != nil {
		if isUniqueViolation(err) {
			return live.Errorf(live.ErrAlreadyExists, "order for viewer %s and code %s already exists", o.ViewerID, o.CatalogCode)
		}
		return err
	}
	return nil
}

func (s *GormStore) GetOrder(ctx context.Context, orderNo string) (*model.Order, error) {
	var o model.Order
	if err := s.db.WithContext(ctx).First(&o, "order_no = ?", orderNo).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, live.Errorf(live.ErrNotFound, "order %s not found", orderNo)
		}
		return nil, err
	}
	return &o, nil
}

func (s *GormStore) ListOrders(ctx context.Context, f live.OrderFilter) ([]model.Order, error) {
	q := s.db.WithContext(ctx).Order("id DESC")
	if f.SessionID != "" {
		q = q.Where("session_id = ?", f.SessionID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var out []model.Order
	err := q.Find(&out).Error
	return out, err
}

func (s *GormStore) SessionOrderKeys(ctx context.Context, sessionID string) ([]live.OrderKey, error) {
	var rows []struct {
		ViewerID    string
		CatalogCode string
		RepeatSeq   int
	}
	err := s.db.WithContext(ctx).Model(&model.Order{}).
		Select("viewer_id, catalog_code, repeat_seq").
		Where("session_id = ?", sessionID).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]live.OrderKey, 0, len(rows))
	for _, r := range rows {
		out = append(out, live.OrderKey{ViewerID: r.ViewerID, CatalogCode: r.CatalogCode, RepeatSeq: r.RepeatSeq})
	}
	return out, nil
}

// TransitionPayment only ever updates a pending order, so a redelivered
// payment event cannot be counted twice.
func (s *GormStore) TransitionPayment(ctx context.Context, orderNo string, to model.PaymentStatus) (*model.Order, bool, error) {
	res := s.db.WithContext(ctx).Model(&model.Order{}).
		Where("order_no = ? AND payment_status = ?", orderNo, model.PaymentPending).
		Updates(map[string]any{"payment_status": to, "updated_at": time.Now()})
	if res.Error != nil {
		return nil, false, res.Error
	}
	o, err := s.GetOrder(ctx, orderNo)
	if err != nil {
		return nil, false, err
	}
	return o, res.RowsAffected > 0, nil
}

func (s *GormStore) UpdateOrderStatus(ctx context.Context, orderNo string, status model.OrderStatus) (*model.Order, error) {
	res := s.db.WithContext(ctx).Model(&model.Order{}).
		Where("order_no = ?", orderNo).
		Updates(map[string]any{"status": status, "updated_at": time.Now()})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, live.Errorf(live.ErrNotFound, "order %s not found", orderNo)
	}
	return s.GetOrder(ctx, orderNo)
}

// FoldStats recomputes the stats of a session from committed rows.
func (s *GormStore) FoldStats(ctx context.Context, sessionID string) (live.Stats, error) {
	var st live.Stats
	db := s.db.WithContext(ctx)

	if err := db.Model(&model.Order{}).Where("session_id = ?", sessionID).Count(&st.TotalOrders).Error; err != nil {
		return live.Stats{}, err
	}
	if err := db.Model(&model.Comment{}).Where("session_id = ?", sessionID).Count(&st.CommentCount).Error; err != nil {
		return live.Stats{}, err
	}

	var revenue decimal.NullDecimal
	err := db.Model(&model.Order{}).
		Select("SUM(amount)").
		Where("session_id = ? AND payment_status = ?", sessionID, model.PaymentCompleted).
		Row().Scan(&revenue)
	if err != nil {
		return live.Stats{}, err
	}
	st.TotalRevenue = decimal.Zero
	if revenue.Valid {
		st.TotalRevenue = revenue.Decimal.Round(2)
	}
	return st, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE") || strings.Contains(msg, "unique")
}
