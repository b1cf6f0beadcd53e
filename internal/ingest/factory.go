package ingest

import (
	"fmt"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// PushFactory gives every platform a webhook-fed source.
type PushFactory struct {
	Size  int
	Batch int
}

func (f PushFactory) NewSource(sessionID, platform string) (Source, error) {
	return NewPushSource(f.Size, f.Batch), nil
}

// RedisFactory tails one stream per session and platform.
type RedisFactory struct {
	Client *rd.Client
	Block  time.Duration
}

func (f RedisFactory) NewSource(sessionID, platform string) (Source, error) {
	if f.Client == nil {
		return nil, fmt.Errorf("redis client not configured")
	}
	return NewRedisStreamSource(f.Client, sessionID, platform, f.Block), nil
}

// KafkaFactory reads the topic "<TopicPrefix><platform>". Each session joins
// its own consumer group so sessions never split partitions between them.
type KafkaFactory struct {
	Brokers     []string
	TopicPrefix string
	GroupPrefix string
}

func (f KafkaFactory) NewSource(sessionID, platform string) (Source, error) {
	if len(f.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	topic := f.TopicPrefix + platform
	group := fmt.Sprintf("%s-%s-%s", f.GroupPrefix, platform, sessionID)
	return NewKafkaSource(f.Brokers, topic, group, sessionID), nil
}
