package router

import (
	"net/http"
	"time"

	"live_commerce/internal/ingest"
	"live_commerce/internal/live"
	"live_commerce/internal/model"

	"github.com/gin-gonic/gin"
)

// sessionDTO is the session shape the seller dashboard polls.
type sessionDTO struct {
	ID           string              `json:"id"`
	Title        string              `json:"title"`
	Platforms    []string            `json:"platforms"`
	Status       model.SessionStatus `json:"status"`
	TotalOrders  int64               `json:"total_orders"`
	TotalRevenue float64             `json:"total_revenue"`
}

func toSessionDTO(v live.SessionView) sessionDTO {
	return sessionDTO{
		ID:           v.ID,
		Title:        v.Title,
		Platforms:    v.Platforms,
		Status:       v.Status,
		TotalOrders:  v.Stats.TotalOrders,
		TotalRevenue: v.Stats.TotalRevenue.InexactFloat64(),
	}
}

type sessionDetailDTO struct {
	sessionDTO
	CommentCount int64                      `json:"comment_count"`
	PinnedCode   *string                    `json:"pinned_code"`
	StartedAt    time.Time                  `json:"started_at"`
	EndedAt      *time.Time                 `json:"ended_at"`
	Connections  []model.PlatformConnection `json:"connections"`
}

func (h *handlers) createSession(c *gin.Context) {
	var req struct {
		Platforms []string `json:"platforms" binding:"required,min=1"`
		Title     string   `json:"title" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	v, err := h.m.StartSession(c.Request.Context(), req.Title, req.Platforms)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toSessionDTO(v))
}

func (h *handlers) listSessions(c *gin.Context) {
	views, err := h.m.ListSessions(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]sessionDTO, 0, len(views))
	for _, v := range views {
		out = append(out, toSessionDTO(v))
	}
	c.JSON(http.StatusOK, out)
}

func (h *handlers) getSession(c *gin.Context) {
	v, err := h.m.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	conns := v.Connections
	if conns == nil {
		conns = []model.PlatformConnection{}
	}
	c.JSON(http.StatusOK, sessionDetailDTO{
		sessionDTO:   toSessionDTO(v),
		CommentCount: v.Stats.CommentCount,
		PinnedCode:   v.PinnedCode,
		StartedAt:    v.StartedAt,
		EndedAt:      v.EndedAt,
		Connections:  conns,
	})
}

func (h *handlers) endSession(c *gin.Context) {
	v, err := h.m.EndSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Live session ended", "session": toSessionDTO(v)})
}

func (h *handlers) pinCode(c *gin.Context) {
	code := c.Query("saree_code")
	if code == "" {
		badRequest(c, "saree_code is required")
		return
	}
	pin, err := h.m.PinCode(c.Request.Context(), c.Param("id"), code)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Code pinned", "saree_code": pin.Code, "pinned_at": pin.PinnedAt})
}

func (h *handlers) listComments(c *gin.Context) {
	views, err := h.m.Comments(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	if views == nil {
		views = []live.CommentView{}
	}
	c.JSON(http.StatusOK, views)
}

// pushComment accepts one comment from a platform webhook. Shape validation
// happens in the ingester; a payload it rejects is counted as dropped.
func (h *handlers) pushComment(c *gin.Context) {
	var p ingest.Payload
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.m.PushComment(c.Request.Context(), c.Param("id"), c.Param("platform"), p); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"code": 0, "msg": "accepted"})
}
