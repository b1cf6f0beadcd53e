package ingest

import (
	"context"
	"time"

	rediskey "live_commerce/pkg/redis"

	rd "github.com/redis/go-redis/v9"
)

// RedisStreamSource tails the per-session, per-platform comment stream that
// the platform bridge writes to.
type RedisStreamSource struct {
	rdb    *rd.Client
	stream string
	lastID string
	count  int64
	block  time.Duration
}

func NewRedisStreamSource(rdb *rd.Client, sessionID, platform string, block time.Duration) *RedisStreamSource {
	return &RedisStreamSource{
		rdb:    rdb,
		stream: rediskey.CommentStreamKey(sessionID, platform),
		lastID: "0",
		count:  64,
		block:  block,
	}
}

// Fetch may return an empty batch when the block window passes quietly.
func (s *RedisStreamSource) Fetch(ctx context.Context) ([]Payload, error) {
	msgs, err := rediskey.ReadStream(ctx, s.rdb, s.stream, s.lastID, s.count, s.block)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	out := make([]Payload, 0, len(msgs))
	for _, m := range msgs {
		s.lastID = m.ID
		out = append(out, payloadFromStream(m.Values))
	}
	return out, nil
}

func (s *RedisStreamSource) Close() error { return nil }

// payloadFromStream leaves missing fields empty; validation drops such entries.
func payloadFromStream(values map[string]interface{}) Payload {
	var p Payload
	p.SessionID, _ = rediskey.StreamString(values, "session_id")
	p.ViewerID, _ = rediskey.StreamString(values, "viewer_id")
	p.Username, _ = rediskey.StreamString(values, "username")
	p.Text, _ = rediskey.StreamString(values, "text")
	if ts, err := rediskey.StreamString(values, "sent_at"); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			p.SentAt = t
		}
	}
	return p
}
