package router

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"live_commerce/internal/model"
	rediskey "live_commerce/pkg/redis"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// SignatureHeader carries the hex HMAC-SHA256 of the raw webhook body.
	SignatureHeader = "X-Payment-Signature"
	// EventIDHeader identifies one webhook delivery across retries.
	EventIDHeader = "X-Payment-Event-Id"

	maxWebhookBody = 64 << 10
	eventClaimTTL  = 24 * time.Hour
)

// paymentEvent is the subset of the payment gateway's webhook we read. The
// gateway echoes our order id back as the link's reference_id.
type paymentEvent struct {
	Event   string `json:"event"`
	Payload struct {
		PaymentLink struct {
			Entity struct {
				ID          string `json:"id"`
				ReferenceID string `json:"reference_id"`
			} `json:"entity"`
		} `json:"payment_link"`
		Payment struct {
			Entity struct {
				ID    string            `json:"id"`
				Notes map[string]string `json:"notes"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// orderAndStatus resolves the order reference and target status. ok is false
// for events that do not move a payment.
func (e *paymentEvent) orderAndStatus() (orderNo string, to model.PaymentStatus, ok bool) {
	orderNo = e.Payload.PaymentLink.Entity.ReferenceID
	if orderNo == "" {
		orderNo = e.Payload.Payment.Entity.Notes["order_id"]
	}
	switch e.Event {
	case "payment_link.paid":
		to = model.PaymentCompleted
	case "payment_link.failed", "payment.failed":
		to = model.PaymentFailed
	default:
		return "", "", false
	}
	return orderNo, to, orderNo != ""
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (h *handlers) paymentWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		badRequest(c, "unreadable body")
		return
	}
	if h.webhookSecret != "" {
		got := c.GetHeader(SignatureHeader)
		if !hmac.Equal([]byte(got), []byte(sign(h.webhookSecret, body))) {
			badRequest(c, "invalid signature")
			return
		}
	}

	var ev paymentEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		badRequest(c, "invalid payload: "+err.Error())
		return
	}
	orderNo, to, ok := ev.orderAndStatus()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	ctx := c.Request.Context()
	release := func() {}
	if id := c.GetHeader(EventIDHeader); id != "" && h.rdb != nil {
		key, owner := rediskey.WebhookEventKey(id), uuid.NewString()
		claimed, err := rediskey.ClaimOnce(ctx, h.rdb, key, owner, eventClaimTTL)
		switch {
		case err != nil:
			h.log.Warn("webhook dedup unavailable", zap.String("event_id", id), zap.Error(err))
		case !claimed:
			c.JSON(http.StatusOK, gin.H{"status": "duplicate"})
			return
		default:
			release = func() {
				if err := rediskey.ReleaseClaim(ctx, h.rdb, key, owner); err != nil {
					h.log.Warn("release webhook claim", zap.String("event_id", id), zap.Error(err))
				}
			}
		}
	}

	o, err := h.m.ApplyPayment(ctx, orderNo, to)
	if err != nil {
		// Let the gateway's retry through.
		release()
		fail(c, err)
		return
	}
	// A paid order is confirmed unless the seller already moved it on.
	if o.PaymentStatus == model.PaymentCompleted && o.Status == model.OrderPending {
		if _, err := h.m.UpdateOrderStatus(ctx, orderNo, model.OrderConfirmed); err != nil {
			h.log.Warn("confirm paid order", zap.String("order_no", orderNo), zap.Error(err))
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}
