package live

import (
	"sync"
	"sync/atomic"
	"time"

	"live_commerce/internal/model"
)

// CommentView is what polling clients and websocket subscribers see.
type CommentView struct {
	Username       string    `json:"username"`
	CommentText    string    `json:"comment_text"`
	MatchedKeyword *string   `json:"matched_keyword"`
	Platform       string    `json:"platform"`
	Timestamp      time.Time `json:"timestamp"`
}

func commentView(c *model.Comment) CommentView {
	return CommentView{
		Username:       c.Username,
		CommentText:    c.RawText,
		MatchedKeyword: c.MatchedCode,
		Platform:       c.Platform,
		Timestamp:      c.ArrivedAt,
	}
}

// SessionView is a read-only snapshot of a session.
type SessionView struct {
	ID          string                     `json:"id"`
	Title       string                     `json:"title"`
	Platforms   []string                   `json:"platforms"`
	Status      model.SessionStatus        `json:"status"`
	Stats       Stats                      `json:"stats"`
	StartedAt   time.Time                  `json:"started_at"`
	EndedAt     *time.Time                 `json:"ended_at"`
	PinnedCode  *string                    `json:"pinned_code"`
	Connections []model.PlatformConnection `json:"connections"`
}

func viewFromRow(row *model.LiveSession) SessionView {
	return SessionView{
		ID:        row.ID,
		Title:     row.Title,
		Platforms: append([]string(nil), row.Platforms...),
		Status:    row.Status,
		Stats: Stats{
			TotalOrders:  row.TotalOrders,
			TotalRevenue: row.TotalRevenue,
			CommentCount: row.CommentCount,
		},
		StartedAt: row.StartedAt,
		EndedAt:   row.EndedAt,
	}
}

// commentLog keeps the newest comments of a running session. The writer
// publishes a new slice header after every append; readers get a prefix that
// later appends never touch.
type commentLog struct {
	limit int
	cur   atomic.Pointer[[]CommentView]
}

func newCommentLog(limit int) *commentLog {
	l := &commentLog{limit: limit}
	empty := []CommentView{}
	l.cur.Store(&empty)
	return l
}

func (l *commentLog) append(v CommentView) {
	next := append(*l.cur.Load(), v)
	if l.limit > 0 && len(next) > l.limit {
		next = next[len(next)-l.limit:]
	}
	l.cur.Store(&next)
}

func (l *commentLog) snapshot() []CommentView {
	s := *l.cur.Load()
	return s[:len(s):len(s)]
}

// hub fans new comment views out to websocket subscribers. Slow subscribers
// miss views rather than stall the session worker.
type hub struct {
	mu     sync.Mutex
	next   int
	subs   map[int]chan CommentView
	closed bool
}

func newHub() *hub { return &hub{subs: make(map[int]chan CommentView)} }

func (h *hub) subscribe(buffer int) (<-chan CommentView, func(), bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, nil, false
	}
	id := h.next
	h.next++
	ch := make(chan CommentView, buffer)
	h.subs[id] = ch
	return ch, func() { h.unsubscribe(id) }, true
}

func (h *hub) unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

func (h *hub) publish(v CommentView) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- v:
		default:
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
