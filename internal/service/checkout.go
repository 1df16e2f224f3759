package service

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pickupdrop/checkout/internal/backend"
	"github.com/pickupdrop/checkout/internal/constants"
	"github.com/pickupdrop/checkout/internal/models"
	"github.com/pickupdrop/checkout/internal/payment/hosted"
	"github.com/pickupdrop/checkout/internal/queue"
	"github.com/pickupdrop/checkout/internal/store"
)

// CommerceBackend 商城后端接口
type CommerceBackend interface {
	TokenRefresher
	CreateOrder(ctx context.Context, accessToken string, input backend.CreateOrderRequest) (*backend.CreateOrderResult, error)
	GetOrder(ctx context.Context, accessToken, reference string) (*models.Order, error)
	VerifyPayment(ctx context.Context, accessToken, reference string) (*backend.VerifyResult, error)
	MarkDiscountRedeemed(ctx context.Context, accessToken, discountID string) error
}

// PaymentGateway 托管跳转支付网关
type PaymentGateway interface {
	Ready() error
	AuthorizationURL(raw string) (string, error)
	CallbackURL() string
	ParseReturn(query url.Values) hosted.ReturnMarkers
}

// PollScheduler 订单状态轮询调度
type PollScheduler interface {
	EnqueueOrderStatusPoll(payload queue.OrderStatusPollPayload, delay time.Duration) error
}

// CheckoutOptions 结算流程参数
type CheckoutOptions struct {
	RefreshThreshold time.Duration
	ContinuePath     string
	PollDelay        time.Duration
	// IdleTTL 会话组件空闲超过该时间后回收，MaxSessions 为进程内缓存上限
	IdleTTL     time.Duration
	MaxSessions int
}

const (
	defaultSessionIdleTTL = 30 * time.Minute
	defaultMaxSessions    = 10000
)

// Checkout 单个会话的结算编排组件
type Checkout struct {
	SessionID  string
	Store      *store.CheckoutStore
	Guard      *SessionGuard
	Pending    *PendingOrderTracker
	Submitter  *OrderSubmitter
	Handoff    *GatewayHandoff
	Reconciler *CallbackReconciler
	Poller     *OrderStatusPoller
	Attempt    *AttemptState
	Leave      *LeaveGuard
}

// CheckoutManager 按会话维护结算编排组件，提交状态只存在于进程内。
// 空闲组件按 IdleTTL 回收，超过 MaxSessions 时回收最久未使用的；提交中的组件不回收。
type CheckoutManager struct {
	storeBackend store.Backend
	backend      CommerceBackend
	gateway      PaymentGateway
	scheduler    PollScheduler
	opts         CheckoutOptions
	now          func() time.Time

	mu        sync.Mutex
	sessions  map[string]*managedCheckout
	lastPrune time.Time
}

type managedCheckout struct {
	checkout *Checkout
	lastUsed time.Time
}

// NewCheckoutManager 创建结算管理器
func NewCheckoutManager(storeBackend store.Backend, commerce CommerceBackend, gateway PaymentGateway, scheduler PollScheduler, opts CheckoutOptions) *CheckoutManager {
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = defaultSessionIdleTTL
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = defaultMaxSessions
	}
	return &CheckoutManager{
		storeBackend: storeBackend,
		backend:      commerce,
		gateway:      gateway,
		scheduler:    scheduler,
		opts:         opts,
		now:          time.Now,
		sessions:     make(map[string]*managedCheckout),
	}
}

// Session 获取会话对应的结算组件，不存在时创建
func (m *CheckoutManager) Session(sessionID string) (*Checkout, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, ErrSessionRequired
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if existing, ok := m.sessions[sessionID]; ok {
		existing.lastUsed = now
		return existing.checkout, nil
	}
	st, err := store.NewCheckoutStore(m.storeBackend, sessionID)
	if err != nil {
		return nil, err
	}
	if now.Sub(m.lastPrune) >= m.opts.IdleTTL || len(m.sessions) >= m.opts.MaxSessions {
		m.pruneLocked(now)
	}
	checkout := m.assemble(st)
	m.sessions[sessionID] = &managedCheckout{checkout: checkout, lastUsed: now}
	return checkout, nil
}

// pruneLocked 回收空闲组件，达到上限时按最近使用时间回收
func (m *CheckoutManager) pruneLocked(now time.Time) {
	m.lastPrune = now
	var candidates []string
	for id, entry := range m.sessions {
		if !entry.checkout.evictable() {
			continue
		}
		if now.Sub(entry.lastUsed) >= m.opts.IdleTTL {
			delete(m.sessions, id)
			continue
		}
		candidates = append(candidates, id)
	}
	// 一次回收到容量的九成，避免每次新建都排序
	target := m.opts.MaxSessions * 9 / 10
	if target >= m.opts.MaxSessions {
		target = m.opts.MaxSessions - 1
	}
	overflow := len(m.sessions) - target
	if len(m.sessions) < m.opts.MaxSessions || overflow <= 0 {
		return
	}
	sort.Slice(candidates, func(i, j int) bool {
		return m.sessions[candidates[i]].lastUsed.Before(m.sessions[candidates[j]].lastUsed)
	})
	for _, id := range candidates {
		if overflow <= 0 {
			return
		}
		delete(m.sessions, id)
		overflow--
	}
}

func (m *CheckoutManager) assemble(st *store.CheckoutStore) *Checkout {
	attempt := &AttemptState{}
	leave := &LeaveGuard{}
	guard := NewSessionGuard(st, m.backend, m.opts.RefreshThreshold, m.opts.ContinuePath)
	tracker := NewPendingOrderTracker(st)
	poller := NewOrderStatusPoller(st, guard, m.backend)
	handoff := NewGatewayHandoff(HandoffDeps{
		Store:     st,
		Tracker:   tracker,
		Backend:   m.backend,
		Gateway:   m.gateway,
		Scheduler: m.scheduler,
		PollDelay: m.opts.PollDelay,
		Attempt:   attempt,
		Leave:     leave,
	})
	return &Checkout{
		SessionID:  st.Namespace(),
		Store:      st,
		Guard:      guard,
		Pending:    tracker,
		Submitter:  NewOrderSubmitter(st, guard, m.backend, m.gateway, handoff, attempt),
		Handoff:    handoff,
		Reconciler: NewCallbackReconciler(st, tracker, guard, m.backend, m.gateway, poller, attempt),
		Poller:     poller,
		Attempt:    attempt,
		Leave:      leave,
	}
}

// evictable 没有进行中的提交，也没有正在进行的网关跳转
func (c *Checkout) evictable() bool {
	return c.Attempt.Load() != constants.AttemptStateSubmitting && !c.Leave.Armed()
}

// SaveCart 保存购物车与结算草稿
func (c *Checkout) SaveCart(ctx context.Context, items []models.CartItem, draft *models.CheckoutDraft) (*models.CheckoutSnapshot, error) {
	return c.Store.Update(ctx, func(snapshot *models.CheckoutSnapshot) error {
		snapshot.Cart = items
		if draft != nil {
			snapshot.Draft = draft
		}
		return nil
	})
}

// Snapshot 读取会话快照
func (c *Checkout) Snapshot(ctx context.Context) (*models.CheckoutSnapshot, error) {
	return c.Store.Load(ctx)
}

// Abandon 主动放弃结算，凭证保留
func (c *Checkout) Abandon(ctx context.Context) error {
	if err := c.Store.Abandon(ctx); err != nil {
		return err
	}
	if c.Attempt.Reset() {
		c.Leave.Release()
	}
	return nil
}

// TracksOrder 会话是否仍在跟踪该订单（待结算或最近下单）
func (c *Checkout) TracksOrder(ctx context.Context, reference string) (bool, error) {
	snapshot, err := c.Store.Load(ctx)
	if err != nil {
		return false, err
	}
	return tracksOrder(snapshot, strings.TrimSpace(reference)), nil
}
