package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/pickupdrop/checkout/internal/backend"
	"github.com/pickupdrop/checkout/internal/constants"
	"github.com/pickupdrop/checkout/internal/logger"
	"github.com/pickupdrop/checkout/internal/models"
	"github.com/pickupdrop/checkout/internal/store"

	"go.uber.org/zap"
)

// 回跳处理结果
const (
	ResolutionPaid          = "paid"
	ResolutionPaymentFailed = "payment_failed"
	ResolutionCancelled     = "cancelled"
	ResolutionOrderExists   = "order_exists"
	ResolutionAmbiguous     = "ambiguous"
	ResolutionAuthExpired   = "auth_expired"
)

// CallbackParams 网关回跳参数
type CallbackParams struct {
	Query     url.Values
	Navigator Navigator
}

// Resolution 回跳处理决策
type Resolution struct {
	Outcome              string       `json:"outcome"`
	Route                models.Route `json:"route"`
	OrderReference       string       `json:"order_reference,omitempty"`
	TransactionReference string       `json:"transaction_reference,omitempty"`
	Message              string       `json:"message,omitempty"`
}

// CallbackReconciler 处理网关回跳，决定跳转目标并驱动清理
type CallbackReconciler struct {
	store   *store.CheckoutStore
	tracker *PendingOrderTracker
	guard   *SessionGuard
	backend CommerceBackend
	gateway PaymentGateway
	poller  *OrderStatusPoller
	attempt *AttemptState
}

// NewCallbackReconciler 创建回跳处理组件
func NewCallbackReconciler(st *store.CheckoutStore, tracker *PendingOrderTracker, guard *SessionGuard, commerce CommerceBackend, gateway PaymentGateway, poller *OrderStatusPoller, attempt *AttemptState) *CallbackReconciler {
	if attempt == nil {
		attempt = &AttemptState{}
	}
	return &CallbackReconciler{
		store:   st,
		tracker: tracker,
		guard:   guard,
		backend: commerce,
		gateway: gateway,
		poller:  poller,
		attempt: attempt,
	}
}

// Reconcile 根据回跳标记与待结算订单决定结果。
// 任何分支都会给出跳转目标；校验接口失败时返回的错误包含 ErrReconciliationAmbiguous。
func (r *CallbackReconciler) Reconcile(ctx context.Context, params CallbackParams) (*Resolution, error) {
	r.attempt.Reset()
	nav := navigatorOrDiscard(params.Navigator)
	markers := r.gateway.ParseReturn(params.Query)
	log := logger.ForSession(ctx, r.store.Namespace(), "transaction_ref", markers.TransactionReference)

	pending, err := r.tracker.Read(ctx)
	if err != nil {
		log.Warnw("checkout_callback_pending_read_failed", "error", err)
		pending = nil
	}

	if !markers.HasTransaction() {
		return r.resolveCancelled(ctx, nav, pending, log)
	}

	session, err := r.guard.EnsureValidSession(ctx)
	if err != nil {
		if errors.Is(err, ErrAuthExpired) {
			return r.resolveAuthExpired(ctx, nav, err)
		}
		return r.resolveAmbiguous(ctx, nav, pending, markers.TransactionReference, err, log)
	}

	verify, err := r.backend.VerifyPayment(ctx, session.AccessToken, markers.TransactionReference)
	if err != nil {
		if errors.Is(err, backend.ErrUnauthorized) {
			return r.resolveAuthExpired(ctx, nav, fmt.Errorf("%w: %v", ErrAuthExpired, err))
		}
		return r.resolveAmbiguous(ctx, nav, pending, markers.TransactionReference, err, log)
	}

	if verify.Success {
		orderReference := verify.OrderReference
		if orderReference == "" && pending != nil {
			orderReference = pending.OrderReference
		}
		if err := r.tracker.Clear(ctx); err != nil {
			log.Warnw("checkout_callback_pending_clear_failed", "error", err)
		}
		res := &Resolution{
			Outcome:              ResolutionPaid,
			OrderReference:       orderReference,
			TransactionReference: markers.TransactionReference,
			Message:              verify.Message,
		}
		if orderReference == "" {
			res.Route = OrdersRoute(constants.PaymentMarkerOK)
		} else {
			res.Route = OrderDetailRoute(orderReference, constants.PaymentMarkerOK)
			r.confirmSettlement(ctx, orderReference, log)
		}
		log.Infow("checkout_callback_paid", "order_reference", orderReference, "gateway_status", markers.Status)
		return r.finish(ctx, nav, res), nil
	}

	res := &Resolution{
		Outcome:              ResolutionPaymentFailed,
		OrderReference:       verify.OrderReference,
		TransactionReference: markers.TransactionReference,
		Message:              verify.Message,
	}
	if verify.OrderReference != "" {
		res.Route = OrderDetailRoute(verify.OrderReference, constants.PaymentMarkerFailed)
	} else {
		res.Route = CheckoutRoute()
	}
	log.Infow("checkout_callback_payment_failed", "order_reference", verify.OrderReference, "message", verify.Message)
	return r.finish(ctx, nav, res), nil
}

// resolveCancelled 没有交易标记：用户在网关取消
func (r *CallbackReconciler) resolveCancelled(ctx context.Context, nav Navigator, pending *models.PendingOrder, log *zap.SugaredLogger) (*Resolution, error) {
	if pending == nil {
		return r.finish(ctx, nav, &Resolution{Outcome: ResolutionCancelled, Route: CheckoutRoute()}), nil
	}
	session, err := r.guard.EnsureValidSession(ctx)
	if err != nil {
		if errors.Is(err, ErrAuthExpired) {
			return r.resolveAuthExpired(ctx, nav, err)
		}
		return r.resolveAmbiguous(ctx, nav, pending, "", err, log)
	}
	order, err := r.backend.GetOrder(ctx, session.AccessToken, pending.OrderReference)
	switch {
	case err == nil:
		marker := ""
		if order.IsSettled() {
			marker = constants.PaymentMarkerOK
			r.confirmSettlement(ctx, pending.OrderReference, log)
		}
		log.Infow("checkout_callback_cancelled_order_exists", "order_reference", pending.OrderReference, "status", order.Status)
		return r.finish(ctx, nav, &Resolution{
			Outcome:        ResolutionOrderExists,
			Route:          OrderDetailRoute(pending.OrderReference, marker),
			OrderReference: pending.OrderReference,
		}), nil
	case errors.Is(err, backend.ErrNotFound):
		if clearErr := r.tracker.Clear(ctx); clearErr != nil {
			log.Warnw("checkout_callback_pending_clear_failed", "error", clearErr)
		}
		return r.finish(ctx, nav, &Resolution{Outcome: ResolutionCancelled, Route: CheckoutRoute()}), nil
	case errors.Is(err, backend.ErrUnauthorized):
		return r.resolveAuthExpired(ctx, nav, fmt.Errorf("%w: %v", ErrAuthExpired, err))
	default:
		return r.resolveAmbiguous(ctx, nav, pending, "", err, log)
	}
}

// resolveAmbiguous 无法确认结果时回落到待结算订单详情，否则回到结算页
func (r *CallbackReconciler) resolveAmbiguous(ctx context.Context, nav Navigator, pending *models.PendingOrder, transactionReference string, cause error, log *zap.SugaredLogger) (*Resolution, error) {
	res := &Resolution{
		Outcome:              ResolutionAmbiguous,
		Route:                CheckoutRoute(),
		TransactionReference: transactionReference,
	}
	if pending != nil {
		res.Route = OrderDetailRoute(pending.OrderReference, "")
		res.OrderReference = pending.OrderReference
	}
	log.Warnw("checkout_callback_ambiguous", "route", res.Route.Name, "error", cause)
	return r.finish(ctx, nav, res), fmt.Errorf("%w: %v", ErrReconciliationAmbiguous, cause)
}

func (r *CallbackReconciler) resolveAuthExpired(ctx context.Context, nav Navigator, cause error) (*Resolution, error) {
	route := r.guard.Expire(ctx)
	return r.finish(ctx, nav, &Resolution{Outcome: ResolutionAuthExpired, Route: route}), cause
}

// confirmSettlement 立即确认一次订单状态，清理仅在已结算时发生
func (r *CallbackReconciler) confirmSettlement(ctx context.Context, orderReference string, log *zap.SugaredLogger) {
	if r.poller == nil {
		return
	}
	if _, err := r.poller.Poll(ctx, orderReference); err != nil {
		log.Warnw("checkout_callback_settlement_check_failed", "order_reference", orderReference, "error", err)
	}
}

func (r *CallbackReconciler) finish(ctx context.Context, nav Navigator, res *Resolution) *Resolution {
	if err := nav.Navigate(ctx, res.Route); err != nil {
		logger.ForSession(ctx, r.store.Namespace()).Warnw("checkout_navigate_failed", "route", res.Route.Name, "error", err)
	}
	return res
}
