package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// ReadStream 读取 lastID 之后的条目；阻塞窗口内没有新消息时返回空且无错误。
func ReadStream(ctx context.Context, rdb *rd.Client, stream, lastID string, count int64, block time.Duration) ([]rd.XMessage, error) {
	streams, err := rdb.XRead(ctx, &rd.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   count,
		Block:   block,
	}).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]rd.XMessage, 0, count)
	for _, s := range streams {
		out = append(out, s.Messages...)
	}
	return out, nil
}

// Append 追加一条，并把 Stream 近似裁剪到 maxLen。
func Append(ctx context.Context, rdb *rd.Client, stream string, maxLen int64, values map[string]any) (string, error) {
	return rdb.XAdd(ctx, &rd.XAddArgs{
		Stream: stream,
		MaxLen: maxLen,
		Approx: true,
		Values: values,
	}).Result()
}

// StreamString 把 Stream 字段统一读成字符串（兼容客户端解码出的各种类型）。
func StreamString(values map[string]interface{}, key string) (string, error) {
	switch v := values[key].(type) {
	case nil:
		return "", fmt.Errorf("missing field %s", key)
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case int, int64, uint64, float64:
		return fmt.Sprint(v), nil
	default:
		return "", fmt.Errorf("unsupported field type %s: %T", key, v)
	}
}
