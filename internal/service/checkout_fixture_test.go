package service

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pickupdrop/checkout/internal/backend"
	"github.com/pickupdrop/checkout/internal/constants"
	"github.com/pickupdrop/checkout/internal/models"
	"github.com/pickupdrop/checkout/internal/payment/hosted"
	"github.com/pickupdrop/checkout/internal/queue"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
)

type memoryBackend struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{data: make(map[string][]byte)}
}

func (b *memoryBackend) Get(_ context.Context, namespace, key string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	value, ok := b.data[namespace+"/"+key]
	return value, ok, nil
}

func (b *memoryBackend) Put(_ context.Context, namespace, key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[namespace+"/"+key] = append([]byte(nil), value...)
	return nil
}

func (b *memoryBackend) Delete(_ context.Context, namespace, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, namespace+"/"+key)
	return nil
}

type stubCommerce struct {
	refreshCalls atomic.Int32
	createCalls  atomic.Int32
	getCalls     atomic.Int32
	verifyCalls  atomic.Int32
	markCalls    atomic.Int32

	mu         sync.Mutex
	lastCreate backend.CreateOrderRequest

	refreshFn  func(refreshToken string) (*backend.TokenPair, error)
	createFn   func(req backend.CreateOrderRequest) (*backend.CreateOrderResult, error)
	getOrderFn func(reference string) (*models.Order, error)
	verifyFn   func(reference string) (*backend.VerifyResult, error)
	markFn     func(discountID string) error
}

func newStubCommerce(t *testing.T) *stubCommerce {
	return &stubCommerce{
		refreshFn: func(string) (*backend.TokenPair, error) {
			return &backend.TokenPair{
				AccessToken:  mintToken(t, time.Now().Add(time.Hour)),
				RefreshToken: mintToken(t, time.Now().Add(24*time.Hour)),
			}, nil
		},
		createFn: func(backend.CreateOrderRequest) (*backend.CreateOrderResult, error) {
			return &backend.CreateOrderResult{
				StatusCode:       http.StatusCreated,
				OrderReference:   "ORD-1",
				AuthorizationURL: "https://pay.example.com/abc",
				GatewayReference: "GW-1",
			}, nil
		},
		getOrderFn: func(reference string) (*models.Order, error) {
			return &models.Order{Reference: reference, Status: constants.OrderStatusInitiated}, nil
		},
		verifyFn: func(string) (*backend.VerifyResult, error) {
			return &backend.VerifyResult{Success: true, OrderReference: "ORD-1"}, nil
		},
		markFn: func(string) error { return nil },
	}
}

func (s *stubCommerce) RefreshToken(_ context.Context, refreshToken string) (*backend.TokenPair, error) {
	s.refreshCalls.Add(1)
	return s.refreshFn(refreshToken)
}

func (s *stubCommerce) CreateOrder(_ context.Context, _ string, req backend.CreateOrderRequest) (*backend.CreateOrderResult, error) {
	s.createCalls.Add(1)
	s.mu.Lock()
	s.lastCreate = req
	s.mu.Unlock()
	return s.createFn(req)
}

func (s *stubCommerce) GetOrder(_ context.Context, _ string, reference string) (*models.Order, error) {
	s.getCalls.Add(1)
	return s.getOrderFn(reference)
}

func (s *stubCommerce) VerifyPayment(_ context.Context, _ string, reference string) (*backend.VerifyResult, error) {
	s.verifyCalls.Add(1)
	return s.verifyFn(reference)
}

func (s *stubCommerce) MarkDiscountRedeemed(_ context.Context, _ string, discountID string) error {
	s.markCalls.Add(1)
	return s.markFn(discountID)
}

type stubScheduler struct {
	mu       sync.Mutex
	payloads []queue.OrderStatusPollPayload
}

func (s *stubScheduler) EnqueueOrderStatusPoll(payload queue.OrderStatusPollPayload, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, payload)
	return nil
}

type checkoutFixture struct {
	t         *testing.T
	ctx       context.Context
	commerce  *stubCommerce
	scheduler *stubScheduler
	checkout  *Checkout
}

var fixtureSeq atomic.Int64

func newCheckoutFixture(t *testing.T, gateway PaymentGateway) *checkoutFixture {
	t.Helper()
	if gateway == nil {
		gateway = hosted.New(&hosted.Config{})
	}
	commerce := newStubCommerce(t)
	scheduler := &stubScheduler{}
	manager := NewCheckoutManager(newMemoryBackend(), commerce, gateway, scheduler, CheckoutOptions{PollDelay: time.Second})
	checkout, err := manager.Session(fmt.Sprintf("sess-%d", fixtureSeq.Add(1)))
	if err != nil {
		t.Fatalf("create checkout session failed: %v", err)
	}
	return &checkoutFixture{
		t:         t,
		ctx:       context.Background(),
		commerce:  commerce,
		scheduler: scheduler,
		checkout:  checkout,
	}
}

// login 写入有效凭证：access 1 小时，refresh 1 天
func (f *checkoutFixture) login() {
	f.t.Helper()
	access := mintToken(f.t, time.Now().Add(time.Hour))
	refresh := mintToken(f.t, time.Now().Add(24*time.Hour))
	if _, err := f.checkout.Guard.SetSession(f.ctx, access, refresh); err != nil {
		f.t.Fatalf("set session failed: %v", err)
	}
}

func (f *checkoutFixture) snapshot() *models.CheckoutSnapshot {
	f.t.Helper()
	snapshot, err := f.checkout.Store.Load(f.ctx)
	if err != nil {
		f.t.Fatalf("load snapshot failed: %v", err)
	}
	return snapshot
}

func mintToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp":     exp.Unix(),
		"user_id": 7,
	})
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token failed: %v", err)
	}
	return signed
}

// scenarioInput 50.00 × 2，配送费 20.00，取件同地址，注册折扣 10%
func scenarioInput() SubmitInput {
	return SubmitInput{
		Cart: []models.CartItem{
			{ServiceID: "svc-wash", UnitPrice: models.NewMoneyFromFloat(50), Quantity: 2},
		},
		Phone:    "+234 801-234-5678",
		Delivery: &models.LocationFee{Region: "Lagos", Area: "Ikeja", Fee: models.NewMoneyFromFloat(20)},
		UseSame:  true,
		Discounts: []models.DiscountRecord{
			{ID: "d-signup", Kind: constants.DiscountKindSignup, Percentage: decimal.NewFromInt(10), Eligible: true},
		},
	}
}

type spyNavigator struct {
	NavigationRecorder
	onRedirect func()
}

func (p *spyNavigator) Redirect(ctx context.Context, target string) error {
	if p.onRedirect != nil {
		p.onRedirect()
	}
	return p.NavigationRecorder.Redirect(ctx, target)
}
