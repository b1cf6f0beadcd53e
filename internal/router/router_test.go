package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"live_commerce/internal/catalog"
	"live_commerce/internal/config"
	"live_commerce/internal/live"
	"live_commerce/internal/metrics"
	"live_commerce/internal/model"
	"live_commerce/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	rd "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testSecret = "test-secret"

type staticCatalog struct{ snap *catalog.Snapshot }

func (c staticCatalog) Snapshot() *catalog.Snapshot { return c.snap }

type testServer struct {
	engine  *gin.Engine
	manager *live.Manager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithRedis(t, nil)
}

func newTestServerWithRedis(t *testing.T, rdb *rd.Client) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := store.Open(config.DatabaseConfig{
		Driver:       "sqlite",
		DSN:          fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
		MaxOpenConns: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(db) })

	cfg, err := config.FromViper(viper.New())
	require.NoError(t, err)
	cfg.Payment.WebhookSecret = testSecret

	pipeline := live.DefaultConfig()
	pipeline.Ingest.Rate = 0
	pipeline.ReorderWindow = 5 * time.Millisecond

	log := zaptest.NewLogger(t)
	collector := metrics.New()
	m := live.NewManager(live.Options{
		Store: store.New(db),
		Catalog: staticCatalog{snap: catalog.NewSnapshot([]catalog.Item{
			{Code: "SKU-101", Name: "Kanjivaram silk", Price: decimal.RequireFromString("1500"), Stock: 5},
			{Code: "SKU-303", Name: "Chanderi cotton", Price: decimal.RequireFromString("900"), Stock: 0},
		}, time.Now())},
		Observer: collector,
		Logger:   log,
		Config:   pipeline,
	})
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	r := gin.New()
	Setup(r, Deps{Manager: m, Redis: rdb, Metrics: collector.Handler(), Config: cfg, Logger: log})
	return &testServer{engine: r, manager: m}
}

func (s *testServer) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	var rdr *bytes.Reader
	switch b := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case []byte:
		rdr = bytes.NewReader(b)
	default:
		raw, _ := json.Marshal(b)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func (s *testServer) createSession(t *testing.T, prefix string) sessionDTO {
	t.Helper()
	w := s.do(http.MethodPost, prefix+"/live/sessions/", gin.H{
		"title":     "Diwali saree drop",
		"platforms": []string{"facebook", "youtube"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var got sessionDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	return got
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestPing(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodGet, "/ping", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"msg":"pong"}`, w.Body.String())
}

func TestSessions_CreateShape(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/api/live/sessions/", gin.H{"title": "Evening", "platforms": []string{"facebook"}})
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.ElementsMatch(t,
		[]string{"id", "title", "platforms", "status", "total_orders", "total_revenue"},
		keys(body))
	assert.Equal(t, "active", body["status"])
	assert.Equal(t, float64(0), body["total_revenue"])

	// bare mount and no trailing slash
	w = s.do(http.MethodPost, "/live/sessions", gin.H{"title": "Evening", "platforms": []string{"youtube"}})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSessions_CreateValidation(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/api/live/sessions/", []byte(`{"title":"x"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, float64(400), decodeBody(t, w)["code"])

	w = s.do(http.MethodPost, "/api/live/sessions/", gin.H{"title": "x", "platforms": []string{"myspace"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessions_ListAndDetail(t *testing.T) {
	s := newTestServer(t)
	a := s.createSession(t, "/api")
	b := s.createSession(t, "/api")

	w := s.do(http.MethodGet, "/api/live/sessions/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []sessionDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	ids := []string{}
	for _, v := range list {
		ids = append(ids, v.ID)
	}
	assert.ElementsMatch(t, []string{a.ID, b.ID}, ids)

	w = s.do(http.MethodGet, "/api/live/sessions/"+a.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	detail := decodeBody(t, w)
	assert.Equal(t, a.ID, detail["id"])
	assert.Contains(t, detail, "connections")
	assert.Nil(t, detail["pinned_code"])

	w = s.do(http.MethodGet, "/api/live/sessions/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessions_EndIdempotent(t *testing.T) {
	s := newTestServer(t)
	sess := s.createSession(t, "/api")

	for i := 0; i < 2; i++ {
		w := s.do(http.MethodPost, "/api/live/sessions/"+sess.ID+"/end", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}
	w := s.do(http.MethodPost, "/api/live/sessions/unknown/end", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodGet, "/api/live/sessions/"+sess.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ended", decodeBody(t, w)["status"])
}

func TestSessions_Pin(t *testing.T) {
	s := newTestServer(t)
	sess := s.createSession(t, "/api")
	base := "/api/live/sessions/" + sess.ID + "/pin"

	w := s.do(http.MethodPost, base+"?saree_code=sku-101", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "SKU-101", decodeBody(t, w)["saree_code"])

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, base+"?saree_code=SKU-999", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, base, nil).Code)

	s.do(http.MethodPost, "/api/live/sessions/"+sess.ID+"/end", nil)
	assert.Equal(t, http.StatusConflict, s.do(http.MethodPost, base+"?saree_code=SKU-101", nil).Code)
}

func TestFeed_CommentBecomesOrder(t *testing.T) {
	s := newTestServer(t)
	sess := s.createSession(t, "/api")
	feed := "/api/live/sessions/" + sess.ID + "/feed/"

	w := s.do(http.MethodPost, feed+"facebook", gin.H{"viewer_id": "v1", "username": "Asha", "text": "SKU-101 please"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	w = s.do(http.MethodPost, feed+"youtube", gin.H{"viewer_id": "v2", "username": "Ravi", "text": "what a colour"})
	require.Equal(t, http.StatusAccepted, w.Code)

	w = s.do(http.MethodPost, feed+"instagram", gin.H{"viewer_id": "v3", "text": "SKU-101"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "platform not connected")

	w = s.do(http.MethodPost, "/api/live/sessions/"+sess.ID+"/end", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/api/live/sessions/"+sess.ID+"/comments", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var comments []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &comments))
	require.Len(t, comments, 2)
	for _, c := range comments {
		assert.ElementsMatch(t,
			[]string{"username", "comment_text", "matched_keyword", "platform", "timestamp"}, keys(c))
	}

	w = s.do(http.MethodGet, "/api/orders/?live_session_id="+sess.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var orders []orderDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &orders))
	require.Len(t, orders, 1)
	assert.Equal(t, "SKU-101", orders[0].SareeCode)
	assert.Equal(t, model.OrderSourceComment, orders[0].Source)
	assert.Equal(t, 1500.0, orders[0].Amount)

	w = s.do(http.MethodPost, feed+"facebook", gin.H{"viewer_id": "v1", "text": "late"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestOrders_ManualAndStatus(t *testing.T) {
	s := newTestServer(t)
	sess := s.createSession(t, "/api")
	order := gin.H{"saree_code": "SKU-101", "customer_name": "Meera", "phone_number": "+919800000000", "address": "Chennai"}

	w := s.do(http.MethodPost, "/api/orders/?live_session_id="+sess.ID, order)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var created orderDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.True(t, strings.HasPrefix(created.OrderID, "ORD-"))
	assert.Equal(t, model.OrderSourceManual, created.Source)

	w = s.do(http.MethodPost, "/api/orders/?live_session_id="+sess.ID, order)
	assert.Equal(t, http.StatusConflict, w.Code, "same viewer and code")

	w = s.do(http.MethodPost, "/api/orders/", gin.H{"saree_code": "SKU-303", "customer_name": "Meera", "phone_number": "1"})
	assert.Equal(t, http.StatusConflict, w.Code, "out of stock")
	w = s.do(http.MethodPost, "/api/orders/", gin.H{"saree_code": "SKU-999", "customer_name": "Meera", "phone_number": "1"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = s.do(http.MethodPost, "/api/orders/", gin.H{"saree_code": "SKU-101"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/api/orders/"+created.OrderID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodPut, "/api/orders/"+created.OrderID+"/status?order_status=shipped", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(http.MethodPut, "/api/orders/"+created.OrderID+"/status?order_status=lost", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(http.MethodPut, "/api/orders/ORD-missing/status?order_status=shipped", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodGet, "/orders?status=shipped", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var shipped []orderDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &shipped))
	require.Len(t, shipped, 1)
	assert.Equal(t, created.OrderID, shipped[0].OrderID)
}

func paidEvent(orderNo string) []byte {
	return []byte(fmt.Sprintf(
		`{"event":"payment_link.paid","payload":{"payment_link":{"entity":{"id":"plink_1","reference_id":%q}}}}`,
		orderNo))
}

func TestPaymentWebhook(t *testing.T) {
	s := newTestServer(t)
	sess := s.createSession(t, "/api")
	w := s.do(http.MethodPost, "/api/orders/?live_session_id="+sess.ID,
		gin.H{"saree_code": "SKU-101", "customer_name": "Meera", "phone_number": "1"})
	require.Equal(t, http.StatusOK, w.Code)
	var created orderDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	body := paidEvent(created.OrderID)

	w = s.do(http.MethodPost, "/api/payments/webhook", body, SignatureHeader, "bad")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	for i := 0; i < 2; i++ {
		w = s.do(http.MethodPost, "/api/payments/webhook", body, SignatureHeader, sign(testSecret, body))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	w = s.do(http.MethodGet, "/api/orders/"+created.OrderID, nil)
	var got orderDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, model.PaymentCompleted, got.PaymentStatus)
	assert.Equal(t, model.OrderConfirmed, got.OrderStatus)

	w = s.do(http.MethodGet, "/api/live/sessions/"+sess.ID, nil)
	assert.Equal(t, 1500.0, decodeBody(t, w)["total_revenue"], "redelivery counted once")

	other := []byte(`{"event":"payment.captured"}`)
	w = s.do(http.MethodPost, "/api/payments/webhook", other, SignatureHeader, sign(testSecret, other))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ignored", decodeBody(t, w)["status"])

	missing := paidEvent("ORD-missing")
	w = s.do(http.MethodPost, "/api/payments/webhook", missing, SignatureHeader, sign(testSecret, missing))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPaymentWebhook_DedupFailsOpen(t *testing.T) {
	rdb := rd.NewClient(&rd.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	t.Cleanup(func() { _ = rdb.Close() })
	s := newTestServerWithRedis(t, rdb)

	w := s.do(http.MethodPost, "/api/orders/",
		gin.H{"saree_code": "SKU-101", "customer_name": "Meera", "phone_number": "1"})
	require.Equal(t, http.StatusOK, w.Code)
	var created orderDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	body := paidEvent(created.OrderID)
	w = s.do(http.MethodPost, "/api/payments/webhook", body,
		SignatureHeader, sign(testSecret, body), EventIDHeader, "evt_1")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "success", decodeBody(t, w)["status"])
}

func TestPaymentWebhook_DedupByEventID(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	s := newTestServerWithRedis(t, rdb)

	w := s.do(http.MethodPost, "/api/orders/",
		gin.H{"saree_code": "SKU-101", "customer_name": "Meera", "phone_number": "1"})
	require.Equal(t, http.StatusOK, w.Code)
	var created orderDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	body := paidEvent(created.OrderID)
	w = s.do(http.MethodPost, "/api/payments/webhook", body,
		SignatureHeader, sign(testSecret, body), EventIDHeader, "evt_1")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "success", decodeBody(t, w)["status"])

	w = s.do(http.MethodPost, "/api/payments/webhook", body,
		SignatureHeader, sign(testSecret, body), EventIDHeader, "evt_1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "duplicate", decodeBody(t, w)["status"])

	// a failed delivery gives its claim back so the gateway can retry
	missing := paidEvent("ORD-missing")
	w = s.do(http.MethodPost, "/api/payments/webhook", missing,
		SignatureHeader, sign(testSecret, missing), EventIDHeader, "evt_2")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.True(t, mr.Exists("live:webhook_event:evt_1"))
	assert.False(t, mr.Exists("live:webhook_event:evt_2"))
}

func TestPaymentEvent_OrderAndStatus(t *testing.T) {
	tests := []struct {
		body   string
		order  string
		status model.PaymentStatus
		ok     bool
	}{
		{`{"event":"payment_link.paid","payload":{"payment_link":{"entity":{"reference_id":"ORD-1"}}}}`, "ORD-1", model.PaymentCompleted, true},
		{`{"event":"payment_link.failed","payload":{"payment_link":{"entity":{"reference_id":"ORD-2"}}}}`, "ORD-2", model.PaymentFailed, true},
		{`{"event":"payment.failed","payload":{"payment":{"entity":{"notes":{"order_id":"ORD-3"}}}}}`, "ORD-3", model.PaymentFailed, true},
		{`{"event":"payment_link.paid"}`, "", model.PaymentCompleted, false},
		{`{"event":"refund.created"}`, "", "", false},
	}
	for _, tt := range tests {
		var ev paymentEvent
		require.NoError(t, json.Unmarshal([]byte(tt.body), &ev))
		order, status, ok := ev.orderAndStatus()
		assert.Equal(t, tt.ok, ok, tt.body)
		if tt.ok {
			assert.Equal(t, tt.order, order)
			assert.Equal(t, tt.status, status)
		}
	}
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusOf(live.ErrInvalidInput))
	assert.Equal(t, http.StatusNotFound, statusOf(live.Errorf(live.ErrUnknownCode, "x")))
	assert.Equal(t, http.StatusConflict, statusOf(fmt.Errorf("wrap: %w", live.ErrSessionEnded)))
	assert.Equal(t, http.StatusConflict, statusOf(live.ErrCatalogUnavailable))
	assert.Equal(t, http.StatusServiceUnavailable, statusOf(live.ErrPlatformDegraded))
	assert.Equal(t, http.StatusInternalServerError, statusOf(assert.AnError))
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.createSession(t, "/api")
	w := s.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "live_commerce_sessions_active 1")
}

func TestCommentsWebsocket(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.engine)
	defer srv.Close()
	sess := s.createSession(t, "/api")

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/live/sessions/" + sess.ID + "/comments/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// the subscription exists before the upgrade completes
	w := s.do(http.MethodPost, "/api/live/sessions/"+sess.ID+"/feed/facebook",
		gin.H{"viewer_id": "v1", "username": "Asha", "text": "SKU-101"})
	require.Equal(t, http.StatusAccepted, w.Code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var v live.CommentView
	require.NoError(t, conn.ReadJSON(&v))
	assert.Equal(t, "Asha", v.Username)
	require.NotNil(t, v.MatchedKeyword)
	assert.Equal(t, "SKU-101", *v.MatchedKeyword)

	s.do(http.MethodPost, "/api/live/sessions/"+sess.ID+"/end", nil)
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "%v", err)

	w = s.do(http.MethodGet, "/api/live/sessions/"+sess.ID+"/comments/ws", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
