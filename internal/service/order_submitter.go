package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pickupdrop/checkout/internal/backend"
	"github.com/pickupdrop/checkout/internal/constants"
	"github.com/pickupdrop/checkout/internal/logger"
	"github.com/pickupdrop/checkout/internal/models"
	"github.com/pickupdrop/checkout/internal/store"

	"github.com/google/uuid"
)

// 提交结果动作
const (
	SubmitRedirected = "redirect"
	SubmitNavigated  = "navigate"
	SubmitIgnored    = "ignored"
)

// SubmitInput 提交订单输入
type SubmitInput struct {
	Cart       []models.CartItem
	Phone      string
	Delivery   *models.LocationFee
	Pickup     *models.LocationFee
	UseSame    bool
	PickupSlot string
	Discounts  []models.DiscountRecord
	Promotion  *models.DiscountRecord
	// Summary 为空时按上述字段重新计算
	Summary   *models.OrderSummary
	Navigator Navigator
}

// SubmitOutcome 提交结果；已做出跳转决策时与错误一同返回
type SubmitOutcome struct {
	Action               string        `json:"action"`
	RedirectURL          string        `json:"url,omitempty"`
	Route                *models.Route `json:"route,omitempty"`
	TransactionReference string        `json:"transaction_reference,omitempty"`
	OrderReference       string        `json:"order_reference,omitempty"`
}

// OrderSubmitter 单会话单飞的下单组件
type OrderSubmitter struct {
	store        *store.CheckoutStore
	guard        *SessionGuard
	backend      CommerceBackend
	gateway      PaymentGateway
	handoff      *GatewayHandoff
	attempt      *AttemptState
	now          func() time.Time
	newReference func(time.Time) string
}

// NewOrderSubmitter 创建下单组件
func NewOrderSubmitter(st *store.CheckoutStore, guard *SessionGuard, commerce CommerceBackend, gateway PaymentGateway, handoff *GatewayHandoff, attempt *AttemptState) *OrderSubmitter {
	if attempt == nil {
		attempt = &AttemptState{}
	}
	return &OrderSubmitter{
		store:        st,
		guard:        guard,
		backend:      commerce,
		gateway:      gateway,
		handoff:      handoff,
		attempt:      attempt,
		now:          time.Now,
		newReference: newTransactionReference,
	}
}

// Submit 提交订单。已有提交在进行时直接返回 SubmitIgnored，不发起任何请求。
func (s *OrderSubmitter) Submit(ctx context.Context, input SubmitInput) (*SubmitOutcome, error) {
	if !s.attempt.TryBegin() {
		return &SubmitOutcome{Action: SubmitIgnored}, nil
	}
	defer s.attempt.Release()
	nav := navigatorOrDiscard(input.Navigator)

	summary := input.Summary
	if summary == nil {
		summary = CalculateSummary(SummaryInput{
			Cart:      input.Cart,
			Delivery:  input.Delivery,
			Pickup:    input.Pickup,
			UseSame:   input.UseSame,
			Discounts: input.Discounts,
			Promotion: input.Promotion,
		})
	}
	phone, err := validateSubmitInput(input, summary)
	if err != nil {
		return nil, err
	}

	reference := s.newReference(s.now())
	log := logger.ForSession(ctx, s.store.Namespace(), "transaction_ref", reference)

	if err := s.gateway.Ready(); err != nil {
		cause := fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		s.recordFailedAttempt(ctx, reference, summary, input.Cart, cause)
		return nil, cause
	}

	session, err := s.guard.EnsureValidSession(ctx)
	if err != nil {
		s.recordFailedAttempt(ctx, reference, summary, input.Cart, err)
		if errors.Is(err, ErrAuthExpired) {
			return s.expire(ctx, nav, err)
		}
		return nil, err
	}

	discounts := BuildDiscountPayload(summary, EligibilityFromRecords(input.Discounts, input.Promotion))
	request := buildCreateOrderRequest(input, summary, discounts, phone, reference, session.UserID, s.gateway.CallbackURL())
	log.Infow("checkout_submit_start", "total", summary.Total.String(), "discount_count", len(discounts))

	result, err := s.backend.CreateOrder(ctx, session.AccessToken, request)
	if err != nil {
		var cause error
		switch {
		case errors.Is(err, backend.ErrUnauthorized):
			cause = fmt.Errorf("%w: %v", ErrAuthExpired, err)
		case errors.Is(err, backend.ErrRejected):
			cause = fmt.Errorf("%w: %v", ErrOrderRejected, err)
		default:
			cause = fmt.Errorf("%w: %v", ErrNetworkFailure, err)
		}
		s.recordFailedAttempt(ctx, reference, summary, input.Cart, cause)
		if errors.Is(cause, ErrAuthExpired) {
			return s.expire(ctx, nav, cause)
		}
		return nil, cause
	}

	if result.StatusCode != http.StatusCreated || result.OrderReference == "" || result.AuthorizationURL == "" {
		cause := fmt.Errorf("%w: status %d", ErrOrderCreationAmbiguous, result.StatusCode)
		s.recordFailedAttempt(ctx, reference, summary, input.Cart, cause)
		return s.navigate(ctx, nav, OrdersRoute(""), reference, result.OrderReference, cause)
	}

	target, err := s.handoff.Handoff(ctx, HandoffInput{
		AuthorizationURL:     result.AuthorizationURL,
		OrderReference:       result.OrderReference,
		GatewayReference:     result.GatewayReference,
		TransactionReference: reference,
		Summary:              summary,
		AccessToken:          session.AccessToken,
		Navigator:            nav,
	})
	if err != nil {
		s.recordFailedAttempt(ctx, reference, summary, input.Cart, err)
		return s.navigate(ctx, nav, OrdersRoute(""), reference, result.OrderReference, err)
	}

	log.Infow("checkout_submit_redirected", "order_reference", result.OrderReference)
	return &SubmitOutcome{
		Action:               SubmitRedirected,
		RedirectURL:          target,
		TransactionReference: reference,
		OrderReference:       result.OrderReference,
	}, nil
}

func (s *OrderSubmitter) expire(ctx context.Context, nav Navigator, cause error) (*SubmitOutcome, error) {
	route := s.guard.Expire(ctx)
	if err := nav.Navigate(ctx, route); err != nil {
		logger.ForSession(ctx, s.store.Namespace()).Warnw("checkout_navigate_failed", "route", route.Name, "error", err)
	}
	return &SubmitOutcome{Action: SubmitNavigated, Route: &route}, cause
}

func (s *OrderSubmitter) navigate(ctx context.Context, nav Navigator, route models.Route, reference, orderReference string, cause error) (*SubmitOutcome, error) {
	if err := nav.Navigate(ctx, route); err != nil {
		logger.ForSession(ctx, s.store.Namespace()).Warnw("checkout_navigate_failed", "route", route.Name, "error", err)
	}
	return &SubmitOutcome{
		Action:               SubmitNavigated,
		Route:                &route,
		TransactionReference: reference,
		OrderReference:       orderReference,
	}, cause
}

// recordFailedAttempt 保存失败快照，只保留最近若干条
func (s *OrderSubmitter) recordFailedAttempt(ctx context.Context, reference string, summary *models.OrderSummary, cart []models.CartItem, cause error) {
	log := logger.ForSession(ctx, s.store.Namespace(), "transaction_ref", reference)
	log.Errorw("checkout_submit_failed", "error", cause)
	attempt := models.FailedAttempt{
		TransactionReference: reference,
		Summary:              *summary,
		Cart:                 append([]models.CartItem(nil), cart...),
		Error:                cause.Error(),
		CreatedAt:            s.now(),
	}
	if _, err := s.store.Update(ctx, func(snapshot *models.CheckoutSnapshot) error {
		snapshot.FailedAttempts = append(snapshot.FailedAttempts, attempt)
		if overflow := len(snapshot.FailedAttempts) - constants.FailedAttemptHistoryLimit; overflow > 0 {
			snapshot.FailedAttempts = snapshot.FailedAttempts[overflow:]
		}
		return nil
	}); err != nil {
		log.Warnw("checkout_failed_attempt_persist_failed", "error", err)
	}
}

func validateSubmitInput(input SubmitInput, summary *models.OrderSummary) (string, error) {
	if len(input.Cart) == 0 || !summary.Subtotal.IsPositive() {
		return "", ErrCartEmpty
	}
	if input.Delivery.IsZero() {
		return "", ErrDeliveryLocationRequired
	}
	if !input.UseSame && input.Pickup.IsZero() {
		return "", ErrPickupLocationRequired
	}
	phone, ok := NormalizePhone(input.Phone)
	if !ok {
		return "", ErrPhoneInvalid
	}
	return phone, nil
}

// NormalizePhone 去掉空格、短横线与括号，允许前导 +，数字位数 8 到 15
func NormalizePhone(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	var b strings.Builder
	digits := 0
	for i, r := range raw {
		switch {
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			digits++
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return "", false
		}
	}
	if digits < 8 || digits > 15 {
		return "", false
	}
	return b.String(), true
}

func buildCreateOrderRequest(input SubmitInput, summary *models.OrderSummary, discounts []models.DiscountPayload, phone, reference, userID, callbackURL string) backend.CreateOrderRequest {
	pickup := input.Pickup
	if input.UseSame && input.Delivery != nil {
		same := *input.Delivery
		pickup = &same
	}
	items := make([]backend.OrderItemPayload, 0, len(input.Cart))
	for _, item := range input.Cart {
		if item.Quantity <= 0 {
			continue
		}
		items = append(items, backend.OrderItemPayload{
			ServiceID: item.ServiceID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return backend.CreateOrderRequest{
		UserID:               userID,
		DeliveryLocation:     input.Delivery,
		PickupLocation:       pickup,
		Items:                items,
		Subtotal:             summary.Subtotal,
		DeliveryFee:          summary.DeliveryFee,
		PickupFee:            summary.PickupFee,
		TotalBeforeDiscounts: summary.TotalBeforeDiscounts,
		Total:                summary.Total,
		Phone:                phone,
		Discounts:            discounts,
		PickupSlot:           strings.TrimSpace(input.PickupSlot),
		TransactionReference: reference,
		CallbackURL:          callbackURL,
	}
}

// newTransactionReference 时间戳加随机后缀
func newTransactionReference(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:10]
	return fmt.Sprintf("CO%s%s", now.UTC().Format("20060102150405"), suffix)
}
