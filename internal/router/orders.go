package router

import (
	"net/http"
	"time"

	"live_commerce/internal/live"
	"live_commerce/internal/model"

	"github.com/gin-gonic/gin"
)

type orderDTO struct {
	OrderID       string              `json:"order_id"`
	LiveSessionID *string             `json:"live_session_id"`
	ViewerID      string              `json:"viewer_id"`
	SareeCode     string              `json:"saree_code"`
	Source        model.OrderSource   `json:"source"`
	Platform      string              `json:"platform,omitempty"`
	CustomerName  string              `json:"customer_name"`
	PhoneNumber   string              `json:"phone_number"`
	Address       string              `json:"address"`
	PaymentMethod string              `json:"payment_method"`
	PaymentStatus model.PaymentStatus `json:"payment_status"`
	OrderStatus   model.OrderStatus   `json:"order_status"`
	Amount        float64             `json:"amount"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

func toOrderDTO(o *model.Order) orderDTO {
	return orderDTO{
		OrderID:       o.OrderNo,
		LiveSessionID: o.SessionID,
		ViewerID:      o.ViewerID,
		SareeCode:     o.CatalogCode,
		Source:        o.Source,
		Platform:      o.Platform,
		CustomerName:  o.CustomerName,
		PhoneNumber:   o.PhoneNumber,
		Address:       o.Address,
		PaymentMethod: o.PaymentMethod,
		PaymentStatus: o.PaymentStatus,
		OrderStatus:   o.Status,
		Amount:        o.Amount.InexactFloat64(),
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
}

func (h *handlers) createOrder(c *gin.Context) {
	var req struct {
		SareeCode     string `json:"saree_code" binding:"required"`
		ViewerID      string `json:"viewer_id"`
		CustomerName  string `json:"customer_name" binding:"required"`
		PhoneNumber   string `json:"phone_number" binding:"required"`
		Address       string `json:"address"`
		PaymentMethod string `json:"payment_method" binding:"max=32"`
		AllowRepeat   bool   `json:"allow_repeat"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	o, err := h.m.CreateManualOrder(c.Request.Context(), live.ManualOrder{
		SessionID:     c.Query("live_session_id"),
		ViewerID:      req.ViewerID,
		CatalogCode:   req.SareeCode,
		CustomerName:  req.CustomerName,
		PhoneNumber:   req.PhoneNumber,
		Address:       req.Address,
		PaymentMethod: req.PaymentMethod,
		AllowRepeat:   req.AllowRepeat,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderDTO(o))
}

func (h *handlers) listOrders(c *gin.Context) {
	orders, err := h.m.Orders(c.Request.Context(), live.OrderFilter{
		SessionID: c.Query("live_session_id"),
		Status:    model.OrderStatus(c.Query("status")),
		Limit:     500,
	})
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]orderDTO, 0, len(orders))
	for i := range orders {
		out = append(out, toOrderDTO(&orders[i]))
	}
	c.JSON(http.StatusOK, out)
}

func (h *handlers) getOrder(c *gin.Context) {
	o, err := h.m.Order(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderDTO(o))
}

func (h *handlers) updateOrderStatus(c *gin.Context) {
	status := model.OrderStatus(c.Query("order_status"))
	if status == "" {
		badRequest(c, "order_status is required")
		return
	}
	if _, err := h.m.UpdateOrderStatus(c.Request.Context(), c.Param("order_id"), status); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Order status updated successfully"})
}
