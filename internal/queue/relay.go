package queue

import (
	"context"
	"errors"
	"strings"
	"time"

	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type publisher interface {
	Publish(ctx context.Context, msgs ...OrderMessage) error
}

// Relay 把 outbox Stream 转发到 Kafka。整批被 Kafka 接收后才 ACK；
// 失败时条目留在 pending 列表，下一轮重新读取。
type Relay struct {
	rdb      *rd.Client
	producer publisher
	log      *zap.Logger

	stream   string
	group    string
	consumer string

	batch      int64
	block      time.Duration
	retryDelay time.Duration
	pubTimeout time.Duration
}

func NewRelay(rdb *rd.Client, producer *Producer, stream, group, consumer string, log *zap.Logger) *Relay {
	return &Relay{
		rdb:        rdb,
		producer:   producer,
		log:        log,
		stream:     stream,
		group:      group,
		consumer:   consumer,
		batch:      32,
		block:      2 * time.Second,
		retryDelay: 250 * time.Millisecond,
		pubTimeout: 5 * time.Second,
	}
}

func (r *Relay) Run(ctx context.Context) {
	if err := r.ensureGroup(ctx); err != nil {
		r.log.Error("relay ensure group failed", zap.Error(err))
		return
	}
	for ctx.Err() == nil {
		if err := r.step(ctx); err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			r.log.Warn("relay step failed, will retry", zap.Error(err))
			sleepCtx(ctx, r.retryDelay)
		}
	}
}

// step 转发一批：先处理自己的 pending（重启后不丢），再读新消息。
func (r *Relay) step(ctx context.Context) error {
	// block 为负数时不带 BLOCK，读历史立即返回
	entries, err := r.read(ctx, "0", -1)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		if entries, err = r.read(ctx, ">", r.block); err != nil {
			return err
		}
	}
	if len(entries) == 0 {
		return nil
	}

	msgs, ids, bad := decodeEntries(entries)
	for id, perr := range bad {
		r.log.Warn("relay dropping malformed entry", zap.String("id", id), zap.Error(perr))
	}
	if len(msgs) > 0 {
		pubCtx, cancel := context.WithTimeout(ctx, r.pubTimeout)
		err := r.producer.Publish(pubCtx, msgs...)
		cancel()
		if err != nil {
			// 脏数据照常 ACK，其余保持 pending
			ids = ids[:0]
			for id := range bad {
				ids = append(ids, id)
			}
			if ackErr := r.ack(ctx, ids); ackErr != nil {
				r.log.Warn("relay ack malformed failed", zap.Error(ackErr))
			}
			return err
		}
	}
	return r.ack(ctx, ids)
}

// decodeEntries 把一批条目拆成可发布的消息和无法解析的条目；ids 按 Stream 顺序包含两者。
func decodeEntries(entries []rd.XMessage) (msgs []OrderMessage, ids []string, bad map[string]error) {
	bad = map[string]error{}
	for _, xm := range entries {
		ids = append(ids, xm.ID)
		m, err := parseOrderEvent(xm.Values)
		if err != nil {
			bad[xm.ID] = err
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, ids, bad
}

func (r *Relay) ensureGroup(ctx context.Context) error {
	err := r.rdb.XGroupCreateMkStream(ctx, r.stream, r.group, "0").Err()
	if err == nil || strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return err
}

func (r *Relay) read(ctx context.Context, from string, block time.Duration) ([]rd.XMessage, error) {
	res, err := r.rdb.XReadGroup(ctx, &rd.XReadGroupArgs{
		Group:    r.group,
		Consumer: r.consumer,
		Streams:  []string{r.stream, from},
		Count:    r.batch,
		Block:    block,
	}).Result()
	if errors.Is(err, rd.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []rd.XMessage
	for _, s := range res {
		out = append(out, s.Messages...)
	}
	return out, nil
}

// ack 在一个事务里 XACK + XDEL。
func (r *Relay) ack(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pipe := r.rdb.TxPipeline()
	pipe.XAck(ctx, r.stream, r.group, ids...)
	pipe.XDel(ctx, r.stream, ids...)
	_, err := pipe.Exec(ctx)
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
