package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pickupdrop/checkout/internal/backend"
	"github.com/pickupdrop/checkout/internal/logger"
	"github.com/pickupdrop/checkout/internal/models"
	"github.com/pickupdrop/checkout/internal/store"
)

// PollResult 订单状态轮询结果
type PollResult struct {
	Order     *models.Order `json:"order"`
	Settled   bool          `json:"settled"`
	Terminal  bool          `json:"terminal"`
	CleanedUp bool          `json:"cleaned_up"`
}

// OrderStatusPoller 按订单号确认结算，仅在 PROCESSING/FULFILLED 时清理本地结算状态
type OrderStatusPoller struct {
	store   *store.CheckoutStore
	guard   *SessionGuard
	backend CommerceBackend
}

// NewOrderStatusPoller 创建订单状态轮询组件
func NewOrderStatusPoller(st *store.CheckoutStore, guard *SessionGuard, commerce CommerceBackend) *OrderStatusPoller {
	return &OrderStatusPoller{store: st, guard: guard, backend: commerce}
}

// Poll 查询一次订单状态
func (p *OrderStatusPoller) Poll(ctx context.Context, reference string) (*PollResult, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, ErrOrderReferenceRequired
	}
	session, err := p.guard.EnsureValidSession(ctx)
	if err != nil {
		return nil, err
	}
	order, err := p.backend.GetOrder(ctx, session.AccessToken, reference)
	if err != nil {
		switch {
		case errors.Is(err, backend.ErrUnauthorized):
			return nil, fmt.Errorf("%w: %v", ErrAuthExpired, err)
		case errors.Is(err, backend.ErrNotFound):
			return nil, err
		default:
			return nil, fmt.Errorf("%w: %v", ErrNetworkFailure, err)
		}
	}

	result := &PollResult{
		Order:    order,
		Settled:  order.IsSettled(),
		Terminal: order.IsTerminalFailure(),
	}
	if !result.Settled {
		return result, nil
	}

	snapshot, err := p.store.Load(ctx)
	if err != nil {
		return result, err
	}
	if !tracksOrder(snapshot, reference) {
		return result, nil
	}
	if _, err := p.store.Update(ctx, func(current *models.CheckoutSnapshot) error {
		result.CleanedUp = tracksOrder(current, reference)
		if result.CleanedUp {
			current.ClearCheckoutState()
		}
		return nil
	}); err != nil {
		return result, err
	}
	if result.CleanedUp {
		logger.ForSession(ctx, p.store.Namespace(), "order_reference", reference).Infow("checkout_settlement_cleaned", "status", order.Status)
	}
	return result, nil
}

// tracksOrder 快照中的待结算订单或最近下单是否对应该订单
func tracksOrder(snapshot *models.CheckoutSnapshot, reference string) bool {
	if snapshot == nil {
		return false
	}
	if snapshot.Pending != nil && snapshot.Pending.OrderReference == reference {
		return true
	}
	return snapshot.LastOrder != nil && snapshot.LastOrder.OrderReference == reference
}
