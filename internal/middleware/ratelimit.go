package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	rediskey "live_commerce/pkg/redis"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// slidingWindow：ZSET 滑动窗口限流脚本（原子操作）
// KEYS[1]=限流key，ARGV：当前毫秒、窗口毫秒、limit、member
// 返回：{是否放行(1/0), 窗口内请求数}
var slidingWindow = rd.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window)
local n = redis.call('ZCARD', KEYS[1])
if n >= limit then
  return {0, n}
end
redis.call('ZADD', KEYS[1], now, ARGV[4])
redis.call('PEXPIRE', KEYS[1], window)
return {1, n + 1}
`)

// RedisRateLimit 按 scope + 会话 + 客户端 IP 限流。未配置 Redis 或 Redis 出错时放行（降级）。
func RedisRateLimit(rdb *rd.Client, scope string, limit int, window time.Duration, log *zap.Logger) gin.HandlerFunc {
	if window < time.Millisecond {
		window = time.Second
	}
	return func(c *gin.Context) {
		if rdb == nil {
			c.Next()
			return
		}

		key := rediskey.RateLimitKey(scope, subjectOf(c))
		now := time.Now()
		res, err := slidingWindow.Run(c.Request.Context(), rdb, []string{key},
			now.UnixMilli(), window.Milliseconds(), limit,
			fmt.Sprintf("%d-%s", now.UnixNano(), c.ClientIP())).Int64Slice()
		if err != nil || len(res) != 2 {
			log.Warn("rate limiter unavailable, letting request through", zap.String("key", key), zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(max(int64(limit)-res[1], 0), 10))
		if res[0] == 0 {
			c.Header("Retry-After", strconv.Itoa(int((window+time.Second-1)/time.Second)))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code": http.StatusTooManyRequests,
				"msg":  "too many requests, slow down",
			})
			return
		}
		c.Next()
	}
}

// subjectOf 路径里有会话 id 时按会话区分客户端。
func subjectOf(c *gin.Context) string {
	if id := c.Param("id"); id != "" {
		return id + ":" + c.ClientIP()
	}
	return c.ClientIP()
}
