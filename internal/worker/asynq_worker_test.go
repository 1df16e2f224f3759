package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pickupdrop/checkout/internal/backend"
	"github.com/pickupdrop/checkout/internal/config"
	"github.com/pickupdrop/checkout/internal/constants"
	"github.com/pickupdrop/checkout/internal/models"
	"github.com/pickupdrop/checkout/internal/payment/hosted"
	"github.com/pickupdrop/checkout/internal/queue"
	"github.com/pickupdrop/checkout/internal/repository"
	"github.com/pickupdrop/checkout/internal/service"

	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/hibiken/asynq"
	"gorm.io/gorm"
)

type fakeCommerce struct {
	getCalls atomic.Int32
	status   string
	getErr   error
}

func (f *fakeCommerce) RefreshToken(context.Context, string) (*backend.TokenPair, error) {
	return nil, backend.ErrUnauthorized
}

func (f *fakeCommerce) CreateOrder(context.Context, string, backend.CreateOrderRequest) (*backend.CreateOrderResult, error) {
	return nil, errors.New("not used")
}

func (f *fakeCommerce) GetOrder(_ context.Context, _ string, reference string) (*models.Order, error) {
	f.getCalls.Add(1)
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &models.Order{Reference: reference, Status: f.status}, nil
}

func (f *fakeCommerce) VerifyPayment(context.Context, string, string) (*backend.VerifyResult, error) {
	return nil, errors.New("not used")
}

func (f *fakeCommerce) MarkDiscountRedeemed(context.Context, string, string) error {
	return nil
}

type recordingScheduler struct {
	mu       sync.Mutex
	payloads []queue.OrderStatusPollPayload
	delays   []time.Duration
}

func (s *recordingScheduler) EnqueueOrderStatusPoll(payload queue.OrderStatusPollPayload, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, payload)
	s.delays = append(s.delays, delay)
	return nil
}

func (s *recordingScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payloads)
}

type workerFixture struct {
	ctx       context.Context
	commerce  *fakeCommerce
	scheduler *recordingScheduler
	manager   *service.CheckoutManager
	consumer  *Consumer
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:worker_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	repo := repository.NewCheckoutEntryRepository(db)
	commerce := &fakeCommerce{status: constants.OrderStatusInitiated}
	scheduler := &recordingScheduler{}
	manager := service.NewCheckoutManager(repo, commerce, hosted.New(&hosted.Config{}), scheduler, service.CheckoutOptions{})
	return &workerFixture{
		ctx:       context.Background(),
		commerce:  commerce,
		scheduler: scheduler,
		manager:   manager,
		consumer: &Consumer{
			Manager:   manager,
			Scheduler: scheduler,
			Sessions:  repo,
			Poller:    config.PollerConfig{IntervalSeconds: 10, MaxAttempts: 3},
		},
	}
}

// seedPending 登录并记录一个待结算订单
func (f *workerFixture) seedPending(t *testing.T, sessionID, orderReference string) *service.Checkout {
	t.Helper()
	checkout, err := f.manager.Session(sessionID)
	if err != nil {
		t.Fatalf("create session failed: %v", err)
	}
	access := signToken(t, time.Now().Add(time.Hour))
	refresh := signToken(t, time.Now().Add(24*time.Hour))
	if _, err := checkout.Guard.SetSession(f.ctx, access, refresh); err != nil {
		t.Fatalf("set session failed: %v", err)
	}
	if orderReference != "" {
		if _, err := checkout.Pending.MarkPending(f.ctx, orderReference, "GW-1", models.NewMoneyFromFloat(110)); err != nil {
			t.Fatalf("mark pending failed: %v", err)
		}
	}
	return checkout
}

func signToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix(), "user_id": 7})
	signed, err := token.SignedString([]byte("worker-secret"))
	if err != nil {
		t.Fatalf("sign token failed: %v", err)
	}
	return signed
}

func pollTask(t *testing.T, payload queue.OrderStatusPollPayload) *asynq.Task {
	t.Helper()
	task, err := queue.NewOrderStatusPollTask(payload)
	if err != nil {
		t.Fatalf("build task failed: %v", err)
	}
	return task
}

func TestOrderStatusPollReschedulesWhilePending(t *testing.T) {
	f := newWorkerFixture(t)
	f.seedPending(t, "sess-a", "ORD-1")

	payload := queue.OrderStatusPollPayload{SessionID: "sess-a", OrderReference: "ORD-1", Attempt: 1}
	if err := f.consumer.handleOrderStatusPoll(f.ctx, pollTask(t, payload)); err != nil {
		t.Fatalf("handle poll failed: %v", err)
	}
	if f.commerce.getCalls.Load() != 1 {
		t.Fatalf("expected one order lookup, got %d", f.commerce.getCalls.Load())
	}
	if f.scheduler.count() != 1 {
		t.Fatalf("expected one reschedule, got %d", f.scheduler.count())
	}
	if got := f.scheduler.payloads[0]; got.Attempt != 2 || got.OrderReference != "ORD-1" {
		t.Fatalf("unexpected rescheduled payload: %+v", got)
	}
	if f.scheduler.delays[0] != 10*time.Second {
		t.Fatalf("unexpected reschedule delay: %s", f.scheduler.delays[0])
	}
}

func TestOrderStatusPollGivesUpAtLimit(t *testing.T) {
	f := newWorkerFixture(t)
	f.seedPending(t, "sess-b", "ORD-1")

	payload := queue.OrderStatusPollPayload{SessionID: "sess-b", OrderReference: "ORD-1", Attempt: 3}
	if err := f.consumer.handleOrderStatusPoll(f.ctx, pollTask(t, payload)); err != nil {
		t.Fatalf("handle poll failed: %v", err)
	}
	if f.scheduler.count() != 0 {
		t.Fatalf("expected no reschedule at attempt limit, got %d", f.scheduler.count())
	}
}

func TestOrderStatusPollCleansUpOnSettlement(t *testing.T) {
	f := newWorkerFixture(t)
	checkout := f.seedPending(t, "sess-c", "ORD-1")
	f.commerce.status = constants.OrderStatusProcessing

	payload := queue.OrderStatusPollPayload{SessionID: "sess-c", OrderReference: "ORD-1", Attempt: 1}
	if err := f.consumer.handleOrderStatusPoll(f.ctx, pollTask(t, payload)); err != nil {
		t.Fatalf("handle poll failed: %v", err)
	}
	if f.scheduler.count() != 0 {
		t.Fatalf("settled order must not be rescheduled")
	}
	pending, err := checkout.Pending.Read(f.ctx)
	if err != nil {
		t.Fatalf("read pending failed: %v", err)
	}
	if pending != nil {
		t.Fatalf("expected pending order cleared, got %+v", pending)
	}
	snapshot, err := checkout.Snapshot(f.ctx)
	if err != nil {
		t.Fatalf("load snapshot failed: %v", err)
	}
	if snapshot.Session == nil || snapshot.Session.RefreshToken == "" {
		t.Fatalf("tokens must survive settlement cleanup")
	}
}

func TestOrderStatusPollSkipsUntrackedOrder(t *testing.T) {
	f := newWorkerFixture(t)
	f.seedPending(t, "sess-d", "")

	payload := queue.OrderStatusPollPayload{SessionID: "sess-d", OrderReference: "ORD-9", Attempt: 1}
	if err := f.consumer.handleOrderStatusPoll(f.ctx, pollTask(t, payload)); err != nil {
		t.Fatalf("handle poll failed: %v", err)
	}
	if f.commerce.getCalls.Load() != 0 {
		t.Fatalf("untracked order must not hit the backend")
	}
	if f.scheduler.count() != 0 {
		t.Fatalf("untracked order must not be rescheduled")
	}
}

func TestOrderStatusPollNetworkFailureReschedules(t *testing.T) {
	f := newWorkerFixture(t)
	f.seedPending(t, "sess-e", "ORD-1")
	f.commerce.getErr = fmt.Errorf("%w: timeout", backend.ErrRequestFailed)

	payload := queue.OrderStatusPollPayload{SessionID: "sess-e", OrderReference: "ORD-1", Attempt: 1}
	if err := f.consumer.handleOrderStatusPoll(f.ctx, pollTask(t, payload)); err != nil {
		t.Fatalf("handle poll failed: %v", err)
	}
	if f.scheduler.count() != 1 {
		t.Fatalf("expected reschedule after network failure, got %d", f.scheduler.count())
	}
}

func TestOrderStatusPollNotFoundStops(t *testing.T) {
	f := newWorkerFixture(t)
	f.seedPending(t, "sess-f", "ORD-1")
	f.commerce.getErr = fmt.Errorf("%w: status 404", backend.ErrNotFound)

	payload := queue.OrderStatusPollPayload{SessionID: "sess-f", OrderReference: "ORD-1", Attempt: 1}
	if err := f.consumer.handleOrderStatusPoll(f.ctx, pollTask(t, payload)); err != nil {
		t.Fatalf("handle poll failed: %v", err)
	}
	if f.scheduler.count() != 0 {
		t.Fatalf("missing order must not be rescheduled")
	}
}

func TestOrderStatusPollRejectsInvalidPayload(t *testing.T) {
	f := newWorkerFixture(t)
	task := asynq.NewTask(queue.TaskOrderStatusPoll, []byte(`{"session_id":""}`))
	if err := f.consumer.handleOrderStatusPoll(f.ctx, task); err == nil {
		t.Fatalf("expected invalid payload error")
	}
}

func TestSweepStaleSessionsPollsPendingOnly(t *testing.T) {
	f := newWorkerFixture(t)
	settled := f.seedPending(t, "sess-g", "ORD-7")
	f.seedPending(t, "sess-h", "")
	f.commerce.status = constants.OrderStatusFulfilled

	polled, err := f.consumer.SweepStaleSessions(f.ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if polled != 1 {
		t.Fatalf("expected one session polled, got %d", polled)
	}
	if f.commerce.getCalls.Load() != 1 {
		t.Fatalf("expected one order lookup, got %d", f.commerce.getCalls.Load())
	}
	pending, err := settled.Pending.Read(f.ctx)
	if err != nil {
		t.Fatalf("read pending failed: %v", err)
	}
	if pending != nil {
		t.Fatalf("expected swept pending order cleared")
	}
	if f.scheduler.count() != 0 {
		t.Fatalf("sweep must not reschedule")
	}
}

func TestSweepStaleSessionsIgnoresFreshSessions(t *testing.T) {
	f := newWorkerFixture(t)
	f.seedPending(t, "sess-i", "ORD-1")

	polled, err := f.consumer.SweepStaleSessions(f.ctx, time.Now())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if polled != 0 || f.commerce.getCalls.Load() != 0 {
		t.Fatalf("fresh sessions must not be swept, polled=%d", polled)
	}
}
