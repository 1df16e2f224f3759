package service

import (
	"context"
	"strings"
	"time"

	"github.com/pickupdrop/checkout/internal/models"
	"github.com/pickupdrop/checkout/internal/store"
)

// PendingOrderTracker 记录等待网关结算的订单，写入持久化存储以跨越页面跳转
type PendingOrderTracker struct {
	store *store.CheckoutStore
	now   func() time.Time
}

// NewPendingOrderTracker 创建待结算订单记录器
func NewPendingOrderTracker(st *store.CheckoutStore) *PendingOrderTracker {
	return &PendingOrderTracker{store: st, now: time.Now}
}

// MarkPending 写入待结算订单，覆盖之前的记录
func (t *PendingOrderTracker) MarkPending(ctx context.Context, orderReference, gatewayReference string, amount models.Money) (*models.PendingOrder, error) {
	orderReference = strings.TrimSpace(orderReference)
	if orderReference == "" {
		return nil, ErrOrderReferenceRequired
	}
	pending := &models.PendingOrder{
		OrderReference:   orderReference,
		GatewayReference: strings.TrimSpace(gatewayReference),
		Amount:           amount,
		CreatedAt:        t.now(),
	}
	if _, err := t.store.Update(ctx, func(snapshot *models.CheckoutSnapshot) error {
		snapshot.Pending = pending
		return nil
	}); err != nil {
		return nil, err
	}
	return pending, nil
}

// Clear 删除待结算订单
func (t *PendingOrderTracker) Clear(ctx context.Context) error {
	_, err := t.store.Update(ctx, func(snapshot *models.CheckoutSnapshot) error {
		snapshot.Pending = nil
		return nil
	})
	return err
}

// Read 读取待结算订单，不存在时返回 nil
func (t *PendingOrderTracker) Read(ctx context.Context) (*models.PendingOrder, error) {
	snapshot, err := t.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	return snapshot.Pending, nil
}
