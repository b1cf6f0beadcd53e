package router

import (
	"errors"
	"net/http"

	"live_commerce/internal/config"
	"live_commerce/internal/live"
	"live_commerce/internal/logger"
	"live_commerce/internal/middleware"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deps is everything the HTTP surface needs. Redis and Metrics are optional.
type Deps struct {
	Manager *live.Manager
	Redis   *rd.Client
	Metrics http.Handler
	Config  *config.Config
	Logger  *zap.Logger
}

type handlers struct {
	m             *live.Manager
	rdb           *rd.Client
	log           *zap.Logger
	webhookSecret string
}

// Setup registers every route. API routes are mounted under /api and again
// at the root, since clients use both.
func Setup(r *gin.Engine, d Deps) {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	h := &handlers{m: d.Manager, rdb: d.Redis, log: log, webhookSecret: d.Config.Payment.WebhookSecret}

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics))
	}

	feedLimit := middleware.RedisRateLimit(d.Redis, "feed",
		d.Config.RateLimit.FeedLimit, d.Config.RateLimit.FeedWindow, log.Named("ratelimit"))

	for _, g := range []*gin.RouterGroup{r.Group("/api"), r.Group("")} {
		sessions := g.Group("/live/sessions")
		collection(sessions, http.MethodPost, h.createSession)
		collection(sessions, http.MethodGet, h.listSessions)
		sessions.GET("/:id", h.getSession)
		sessions.POST("/:id/end", h.endSession)
		sessions.POST("/:id/pin", h.pinCode)
		sessions.GET("/:id/comments", h.listComments)
		sessions.GET("/:id/comments/ws", h.streamComments)
		sessions.POST("/:id/feed/:platform", feedLimit, h.pushComment)

		orders := g.Group("/orders")
		collection(orders, http.MethodPost, h.createOrder)
		collection(orders, http.MethodGet, h.listOrders)
		orders.GET("/:order_id", h.getOrder)
		orders.PUT("/:order_id/status", h.updateOrderStatus)

		g.POST("/payments/webhook", h.paymentWebhook)
	}
}

// collection registers a handler on a group root with and without the
// trailing slash.
func collection(g *gin.RouterGroup, method string, h gin.HandlerFunc) {
	g.Handle(method, "", h)
	g.Handle(method, "/", h)
}

// fail writes err as {"code", "msg"} with the status its kind maps to.
func fail(c *gin.Context, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		logger.FromGin(c).Error("request failed", zap.Error(err))
	}
	c.AbortWithStatusJSON(status, gin.H{"code": status, "msg": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "msg": msg})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, live.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, live.ErrNotFound), errors.Is(err, live.ErrUnknownCode):
		return http.StatusNotFound
	case errors.Is(err, live.ErrSessionEnded),
		errors.Is(err, live.ErrCatalogUnavailable),
		errors.Is(err, live.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, live.ErrPlatformDegraded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
