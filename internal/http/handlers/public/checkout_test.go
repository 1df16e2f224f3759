package public

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pickupdrop/checkout/internal/backend"
	"github.com/pickupdrop/checkout/internal/config"
	"github.com/pickupdrop/checkout/internal/constants"
	"github.com/pickupdrop/checkout/internal/models"
	"github.com/pickupdrop/checkout/internal/payment/hosted"
	"github.com/pickupdrop/checkout/internal/provider"
	"github.com/pickupdrop/checkout/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type memoryStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memoryStore) Get(_ context.Context, namespace, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.data[namespace+"/"+key]
	return value, ok, nil
}

func (m *memoryStore) Put(_ context.Context, namespace, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[namespace+"/"+key] = append([]byte(nil), value...)
	return nil
}

func (m *memoryStore) Delete(_ context.Context, namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, namespace+"/"+key)
	return nil
}

type fakeBackend struct {
	createCalls atomic.Int32
	orderStatus string
}

func (f *fakeBackend) RefreshToken(context.Context, string) (*backend.TokenPair, error) {
	return nil, backend.ErrUnauthorized
}

func (f *fakeBackend) CreateOrder(context.Context, string, backend.CreateOrderRequest) (*backend.CreateOrderResult, error) {
	f.createCalls.Add(1)
	return &backend.CreateOrderResult{
		StatusCode:       http.StatusCreated,
		OrderReference:   "ORD-1",
		AuthorizationURL: "https://pay.example.com/abc",
		GatewayReference: "GW-1",
	}, nil
}

func (f *fakeBackend) GetOrder(_ context.Context, _ string, reference string) (*models.Order, error) {
	return &models.Order{Reference: reference, Status: f.orderStatus}, nil
}

func (f *fakeBackend) VerifyPayment(context.Context, string, string) (*backend.VerifyResult, error) {
	return &backend.VerifyResult{Success: true, OrderReference: "ORD-1"}, nil
}

func (f *fakeBackend) MarkDiscountRedeemed(context.Context, string, string) error {
	return errors.New("not expected")
}

type envelope struct {
	StatusCode int             `json:"status_code"`
	Msg        string          `json:"msg"`
	Data       json.RawMessage `json:"data"`
}

type handlerFixture struct {
	t       *testing.T
	engine  *gin.Engine
	backend *fakeBackend
	session string
}

var handlerSeq atomic.Int64

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	fake := &fakeBackend{orderStatus: constants.OrderStatusInitiated}
	manager := service.NewCheckoutManager(&memoryStore{data: map[string][]byte{}}, fake, hosted.New(&hosted.Config{}), nil, service.CheckoutOptions{})
	h := New(&provider.Container{
		Config:          &config.Config{Server: config.ServerConfig{FrontendURL: "https://shop.example/"}},
		CheckoutManager: manager,
	})

	withSession := func(c *gin.Context) {
		if id := c.GetHeader(constants.SessionHeader); id != "" {
			c.Set(constants.SessionContextKey, id)
		}
		c.Next()
	}
	r := gin.New()
	api := r.Group("/api/v1", withSession)
	api.PUT("/session", h.PutSession)
	api.GET("/cart", h.GetCart)
	api.PUT("/cart", h.PutCart)
	api.POST("/checkout/summary", h.PreviewSummary)
	api.POST("/checkout/submit", h.SubmitCheckout)
	api.GET("/checkout/pending", h.GetPending)
	api.DELETE("/checkout/pending", h.AbandonCheckout)
	api.GET("/checkout/callback", h.CheckoutCallback)
	api.GET("/orders/:reference/status", h.GetOrderStatus)

	return &handlerFixture{
		t:       t,
		engine:  r,
		backend: fake,
		session: fmt.Sprintf("http-sess-%d", handlerSeq.Add(1)),
	}
}

func (f *handlerFixture) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	f.t.Helper()
	var payload []byte
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			f.t.Fatalf("marshal body failed: %v", err)
		}
		payload = raw
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if f.session != "" {
		req.Header.Set(constants.SessionHeader, f.session)
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func (f *handlerFixture) envelope(w *httptest.ResponseRecorder) envelope {
	f.t.Helper()
	var resp envelope
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		f.t.Fatalf("unmarshal response failed: %v body=%s", err, w.Body.String())
	}
	return resp
}

func (f *handlerFixture) login() {
	f.t.Helper()
	w := f.do(http.MethodPut, "/api/v1/session", gin.H{
		"access_token":  signedToken(f.t, time.Now().Add(time.Hour)),
		"refresh_token": signedToken(f.t, time.Now().Add(24*time.Hour)),
	})
	if resp := f.envelope(w); resp.StatusCode != 0 {
		f.t.Fatalf("login failed: %+v", resp)
	}
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix(), "user_id": 7})
	signed, err := token.SignedString([]byte("http-secret"))
	if err != nil {
		t.Fatalf("sign token failed: %v", err)
	}
	return signed
}

func checkoutBody() gin.H {
	return gin.H{
		"items": []gin.H{
			{"service_id": "svc-wash", "unit_price": "50", "quantity": 2},
		},
		"phone":    "+234 801-234-5678",
		"delivery": gin.H{"region": "Lagos", "area": "Ikeja", "fee": "20"},
		"use_same": true,
	}
}

func TestPutSessionSetsCookie(t *testing.T) {
	f := newHandlerFixture(t)
	w := f.do(http.MethodPut, "/api/v1/session", gin.H{
		"access_token":  signedToken(t, time.Now().Add(time.Hour)),
		"refresh_token": signedToken(t, time.Now().Add(24*time.Hour)),
	})
	if resp := f.envelope(w); resp.StatusCode != 0 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	found := false
	for _, cookie := range w.Result().Cookies() {
		if cookie.Name == constants.SessionCookie && cookie.Value == f.session {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected session cookie to be set")
	}
}

func TestPutSessionRejectsMissingRefreshToken(t *testing.T) {
	f := newHandlerFixture(t)
	resp := f.envelope(f.do(http.MethodPut, "/api/v1/session", gin.H{"access_token": "a"}))
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %+v", resp)
	}
}

func TestHandlersRequireSession(t *testing.T) {
	f := newHandlerFixture(t)
	f.session = ""
	resp := f.envelope(f.do(http.MethodGet, "/api/v1/cart", nil))
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400 without session, got %+v", resp)
	}
}

func TestPreviewSummary(t *testing.T) {
	f := newHandlerFixture(t)
	body := checkoutBody()
	body["discounts"] = []gin.H{{"id": "d-1", "kind": "signup", "percentage": "10", "eligible": true}}
	resp := f.envelope(f.do(http.MethodPost, "/api/v1/checkout/summary", body))
	if resp.StatusCode != 0 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	var data struct {
		Summary struct {
			Subtotal string `json:"subtotal"`
			Total    string `json:"total"`
		} `json:"summary"`
		Discounts []struct {
			Type string `json:"type"`
		} `json:"discounts"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		t.Fatalf("unmarshal data failed: %v", err)
	}
	if data.Summary.Subtotal != "100.00" || data.Summary.Total != "130.00" {
		t.Fatalf("unexpected summary: %+v", data.Summary)
	}
	if len(data.Discounts) != 1 || data.Discounts[0].Type != "signup" {
		t.Fatalf("unexpected discounts: %+v", data.Discounts)
	}
	if f.backend.createCalls.Load() != 0 {
		t.Fatalf("preview must not create orders")
	}
}

func TestSubmitRedirectsToGateway(t *testing.T) {
	f := newHandlerFixture(t)
	f.login()

	resp := f.envelope(f.do(http.MethodPost, "/api/v1/checkout/submit", checkoutBody()))
	if resp.StatusCode != 0 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	var data SubmitResponse
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		t.Fatalf("unmarshal data failed: %v", err)
	}
	if data.Action != service.SubmitRedirected || data.URL != "https://pay.example.com/abc" || data.OrderReference != "ORD-1" {
		t.Fatalf("unexpected submit response: %+v", data)
	}

	pending := f.envelope(f.do(http.MethodGet, "/api/v1/checkout/pending", nil))
	var pendingData PendingResponse
	if err := json.Unmarshal(pending.Data, &pendingData); err != nil {
		t.Fatalf("unmarshal pending failed: %v", err)
	}
	if pendingData.Pending == nil || pendingData.Pending.OrderReference != "ORD-1" {
		t.Fatalf("expected pending order recorded, got %+v", pendingData.Pending)
	}
}

func TestSubmitUsesSavedCartAndDraft(t *testing.T) {
	f := newHandlerFixture(t)
	f.login()

	saved := checkoutBody()
	cart := f.envelope(f.do(http.MethodPut, "/api/v1/cart", gin.H{
		"items": saved["items"],
		"draft": gin.H{"phone": saved["phone"], "delivery": saved["delivery"], "use_same": true},
	}))
	if cart.StatusCode != 0 {
		t.Fatalf("save cart failed: %+v", cart)
	}

	resp := f.envelope(f.do(http.MethodPost, "/api/v1/checkout/submit", gin.H{}))
	if resp.StatusCode != 0 {
		t.Fatalf("submit with saved cart failed: %+v", resp)
	}
	if f.backend.createCalls.Load() != 1 {
		t.Fatalf("expected one create call, got %d", f.backend.createCalls.Load())
	}
}

func TestSubmitEmptyCart(t *testing.T) {
	f := newHandlerFixture(t)
	f.login()
	body := checkoutBody()
	body["items"] = []gin.H{}

	resp := f.envelope(f.do(http.MethodPost, "/api/v1/checkout/submit", body))
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %+v", resp)
	}
	if f.backend.createCalls.Load() != 0 {
		t.Fatalf("validation failure must not reach the backend")
	}
}

func TestSubmitWithoutLoginRoutesToLogin(t *testing.T) {
	f := newHandlerFixture(t)

	resp := f.envelope(f.do(http.MethodPost, "/api/v1/checkout/submit", checkoutBody()))
	if resp.StatusCode != 401 {
		t.Fatalf("expected 401, got %+v", resp)
	}
	var data SubmitResponse
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		t.Fatalf("unmarshal data failed: %v", err)
	}
	if data.Route == nil || data.Route.Name != constants.RouteLogin || data.Path != "/login?redirect=%2Fcheckout" {
		t.Fatalf("expected login route, got %+v", data)
	}
}

func TestCallbackRedirectsToOrderDetail(t *testing.T) {
	f := newHandlerFixture(t)
	f.login()
	f.do(http.MethodPost, "/api/v1/checkout/submit", checkoutBody())

	w := f.do(http.MethodGet, "/api/v1/checkout/callback?reference=CO123&trxref=CO123", nil)
	if w.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", w.Code)
	}
	if got := w.Header().Get("Location"); got != "https://shop.example/orders/ORD-1?payment=success" {
		t.Fatalf("unexpected location: %s", got)
	}
}

func TestCallbackWithoutSessionFallsBackToCheckout(t *testing.T) {
	f := newHandlerFixture(t)
	f.session = ""

	w := f.do(http.MethodGet, "/api/v1/checkout/callback?reference=CO123", nil)
	if w.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", w.Code)
	}
	if got := w.Header().Get("Location"); got != "https://shop.example/checkout" {
		t.Fatalf("unexpected location: %s", got)
	}
}

func TestOrderStatusCleansUpOnSettlement(t *testing.T) {
	f := newHandlerFixture(t)
	f.login()
	f.do(http.MethodPost, "/api/v1/checkout/submit", checkoutBody())
	f.backend.orderStatus = constants.OrderStatusFulfilled

	resp := f.envelope(f.do(http.MethodGet, "/api/v1/orders/ORD-1/status", nil))
	if resp.StatusCode != 0 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	var result service.PollResult
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		t.Fatalf("unmarshal data failed: %v", err)
	}
	if !result.Settled || !result.CleanedUp {
		t.Fatalf("expected settled cleanup, got %+v", result)
	}

	cart := f.envelope(f.do(http.MethodGet, "/api/v1/cart", nil))
	var cartData CartResponse
	if err := json.Unmarshal(cart.Data, &cartData); err != nil {
		t.Fatalf("unmarshal cart failed: %v", err)
	}
	if len(cartData.Items) != 0 {
		t.Fatalf("expected cart cleared after settlement, got %+v", cartData.Items)
	}
}

func TestAbandonClearsPending(t *testing.T) {
	f := newHandlerFixture(t)
	f.login()
	f.do(http.MethodPost, "/api/v1/checkout/submit", checkoutBody())

	if resp := f.envelope(f.do(http.MethodDelete, "/api/v1/checkout/pending", nil)); resp.StatusCode != 0 {
		t.Fatalf("abandon failed: %+v", resp)
	}
	pending := f.envelope(f.do(http.MethodGet, "/api/v1/checkout/pending", nil))
	var data PendingResponse
	if err := json.Unmarshal(pending.Data, &data); err != nil {
		t.Fatalf("unmarshal pending failed: %v", err)
	}
	if data.Pending != nil {
		t.Fatalf("expected pending cleared, got %+v", data.Pending)
	}
}
