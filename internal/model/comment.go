package model

import "time"

// Comment is immutable once stored. MatchedCode and MatchRule record what the
// intent matcher decided for it.
type Comment struct {
	ID        uint   `gorm:"primarykey" json:"-"`
	SessionID string `gorm:"size:36;not null;index:idx_comment_session_seq,priority:1" json:"session_id"`
	Platform  string `gorm:"size:32;not null;index:idx_comment_session_seq,priority:2" json:"platform"`
	Seq       int64  `gorm:"not null;index:idx_comment_session_seq,priority:3" json:"seq"`

	ViewerID       string    `gorm:"size:128;not null" json:"viewer_id"`
	Username       string    `gorm:"size:128" json:"username"`
	RawText        string    `gorm:"size:2000;not null" json:"raw_text"`
	NormalizedText string    `gorm:"size:2000" json:"normalized_text"`
	ArrivedAt      time.Time `gorm:"not null;index" json:"arrived_at"`

	MatchedCode *string `gorm:"size:64" json:"matched_code"`
	MatchRule   string  `gorm:"size:16" json:"match_rule,omitempty"`
}

func (Comment) TableName() string { return "comments" }

// ConnectionState is the health of one platform connection.
type ConnectionState string

const (
	ConnConnecting ConnectionState = "connecting"
	ConnStreaming  ConnectionState = "streaming"
	ConnDegraded   ConnectionState = "degraded"
	ConnClosed     ConnectionState = "closed"
)

// PlatformConnection is owned by its ingester; everyone else reads copies.
type PlatformConnection struct {
	SessionID string          `json:"session_id"`
	Platform  string          `json:"platform"`
	State     ConnectionState `json:"state"`
	Received  int64           `json:"received"`
	Dropped   int64           `json:"dropped"`
	LastError string          `json:"last_error,omitempty"`
}
