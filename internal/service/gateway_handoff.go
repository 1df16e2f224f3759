package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pickupdrop/checkout/internal/constants"
	"github.com/pickupdrop/checkout/internal/logger"
	"github.com/pickupdrop/checkout/internal/models"
	"github.com/pickupdrop/checkout/internal/queue"
	"github.com/pickupdrop/checkout/internal/store"

	"go.uber.org/zap"
)

// HandoffDeps 网关跳转依赖
type HandoffDeps struct {
	Store     *store.CheckoutStore
	Tracker   *PendingOrderTracker
	Backend   CommerceBackend
	Gateway   PaymentGateway
	Scheduler PollScheduler
	PollDelay time.Duration
	Attempt   *AttemptState
	Leave     *LeaveGuard
}

// GatewayHandoff 持久化待结算订单后把控制权交给外部支付网关
type GatewayHandoff struct {
	deps HandoffDeps
	now  func() time.Time
}

// HandoffInput 跳转输入
type HandoffInput struct {
	AuthorizationURL     string
	OrderReference       string
	GatewayReference     string
	TransactionReference string
	Summary              *models.OrderSummary
	AccessToken          string
	Navigator            Navigator
}

// NewGatewayHandoff 创建网关跳转组件
func NewGatewayHandoff(deps HandoffDeps) *GatewayHandoff {
	if deps.Attempt == nil {
		deps.Attempt = &AttemptState{}
	}
	if deps.Leave == nil {
		deps.Leave = &LeaveGuard{}
	}
	return &GatewayHandoff{deps: deps, now: time.Now}
}

// Handoff 依次写入待结算订单、标记积分折扣、清空购物车，然后跳转网关。
// 待结算订单写入失败时不跳转。返回实际跳转的地址。
func (h *GatewayHandoff) Handoff(ctx context.Context, input HandoffInput) (string, error) {
	log := logger.ForSession(ctx, h.deps.Store.Namespace(),
		"transaction_ref", input.TransactionReference,
		"order_reference", input.OrderReference,
	)
	target, err := h.deps.Gateway.AuthorizationURL(input.AuthorizationURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	h.deps.Leave.Arm()
	defer h.deps.Leave.Release()

	summary := input.Summary
	if summary == nil {
		summary = &models.OrderSummary{}
	}
	if _, err := h.deps.Tracker.MarkPending(ctx, input.OrderReference, input.GatewayReference, summary.Total); err != nil {
		log.Errorw("checkout_handoff_pending_persist_failed", "error", err)
		return "", fmt.Errorf("%w: %v", ErrPendingPersistFailed, err)
	}

	h.markRedeemedPoints(ctx, input, summary, log)

	if _, err := h.deps.Store.Update(ctx, func(snapshot *models.CheckoutSnapshot) error {
		snapshot.Cart = nil
		snapshot.LastOrder = &models.LastOrderSnapshot{
			OrderReference:       input.OrderReference,
			TransactionReference: input.TransactionReference,
			Subtotal:             summary.Subtotal,
			DeliveryFee:          summary.DeliveryFee,
			PickupFee:            summary.PickupFee,
			Total:                summary.Total,
			CreatedAt:            h.now(),
		}
		return nil
	}); err != nil {
		log.Warnw("checkout_handoff_cart_clear_failed", "error", err)
	}

	h.schedulePoll(input.OrderReference, log)

	h.deps.Attempt.MarkRedirecting()
	if err := navigatorOrDiscard(input.Navigator).Redirect(ctx, target); err != nil {
		h.deps.Attempt.AbortRedirect()
		log.Errorw("checkout_handoff_redirect_failed", "error", err)
		return "", fmt.Errorf("%w: redirect failed: %v", ErrGatewayUnavailable, err)
	}
	log.Infow("checkout_handoff_redirected", "gateway_reference", input.GatewayReference)
	return target, nil
}

func (h *GatewayHandoff) markRedeemedPoints(ctx context.Context, input HandoffInput, summary *models.OrderSummary, log *zap.SugaredLogger) {
	applied, ok := summary.DiscountByKind(constants.DiscountKindRedeemedPoints)
	if !ok || strings.TrimSpace(applied.Record.ID) == "" || !applied.Amount.IsPositive() {
		return
	}
	if err := h.deps.Backend.MarkDiscountRedeemed(ctx, input.AccessToken, applied.Record.ID); err != nil {
		log.Warnw("checkout_handoff_redeem_mark_failed", "discount_id", applied.Record.ID, "error", err)
	}
}

func (h *GatewayHandoff) schedulePoll(orderReference string, log *zap.SugaredLogger) {
	if h.deps.Scheduler == nil {
		return
	}
	payload := queue.OrderStatusPollPayload{
		SessionID:      h.deps.Store.Namespace(),
		OrderReference: orderReference,
		Attempt:        1,
	}
	if err := h.deps.Scheduler.EnqueueOrderStatusPoll(payload, h.deps.PollDelay); err != nil {
		log.Warnw("checkout_handoff_poll_enqueue_failed", "error", err)
	}
}
