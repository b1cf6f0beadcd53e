package redis

import "fmt"

// CommentStreamKey 平台桥接写入某场直播规范化评论的 Stream
func CommentStreamKey(sessionID, platform string) string {
	return fmt.Sprintf("live:comments:%s:%s", sessionID, platform)
}

// RateLimitKey 某调用方在某路由组上的滑动窗口
func RateLimitKey(scope, subject string) string {
	return fmt.Sprintf("live:rate_limit:%s:%s", scope, subject)
}

// OrderEventStreamKey 订单事件默认 outbox Stream
func OrderEventStreamKey() string {
	return "live:order_events"
}

// WebhookEventKey 支付 webhook 单次投递 id 的去重 key
func WebhookEventKey(eventID string) string {
	return fmt.Sprintf("live:webhook_event:%s", eventID)
}
