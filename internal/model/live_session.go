package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SessionStatus only moves forward: created -> active -> ended.
type SessionStatus string

const (
	SessionCreated SessionStatus = "created"
	SessionActive  SessionStatus = "active"
	SessionEnded   SessionStatus = "ended"
)

// Platform kinds a session can broadcast to.
const (
	PlatformFacebook  = "facebook"
	PlatformYouTube   = "youtube"
	PlatformInstagram = "instagram"
)

// PlatformList is stored as a JSON array column.
type PlatformList []string

func (p PlatformList) Value() (driver.Value, error) {
	if p == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(p))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (p *PlatformList) Scan(value any) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*p = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("unsupported platform list type %T", value)
	}
	return json.Unmarshal(raw, (*[]string)(p))
}

// LiveSession is retained forever as a historical record. The total_* columns
// are a checkpoint of the stats fold, written when the session ends.
type LiveSession struct {
	ID        string    `gorm:"primarykey;size:36" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Title     string        `gorm:"size:255;not null" json:"title"`
	Platforms PlatformList  `gorm:"type:text;not null" json:"platforms"`
	Status    SessionStatus `gorm:"size:16;not null;index" json:"status"`
	StartedAt time.Time     `gorm:"not null" json:"started_at"`
	EndedAt   *time.Time    `json:"ended_at"`

	TotalOrders  int64           `gorm:"not null;default:0" json:"total_orders"`
	TotalRevenue decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"total_revenue"`
	CommentCount int64           `gorm:"not null;default:0" json:"comment_count"`
}

func (LiveSession) TableName() string { return "live_sessions" }

// PinnedCode rows form the pin audit trail; the latest one per session wins.
type PinnedCode struct {
	ID        uint      `gorm:"primarykey" json:"-"`
	SessionID string    `gorm:"size:36;not null;index" json:"session_id"`
	Code      string    `gorm:"size:64;not null" json:"saree_code"`
	PinnedAt  time.Time `gorm:"not null;index" json:"pinned_at"`
}

func (PinnedCode) TableName() string { return "pinned_codes" }
