package redis

import (
	"context"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// luaReleaseIfOwner 仅当 value 仍是 owner 时才删除，避免过期后误删他人的占用。
const luaReleaseIfOwner = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`

// ClaimOnce 为 owner 抢占 key（SETNX），返回本次是否抢到。
func ClaimOnce(ctx context.Context, rdb *rd.Client, key, owner string, ttl time.Duration) (bool, error) {
	return rdb.SetNX(ctx, key, owner, ttl).Result()
}

// ReleaseClaim 释放占用，便于重试时重新抢占。
func ReleaseClaim(ctx context.Context, rdb *rd.Client, key, owner string) error {
	_, err := rdb.Eval(ctx, luaReleaseIfOwner, []string{key}, owner).Int()
	return err
}
