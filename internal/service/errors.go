package service

import (
	"errors"
	"fmt"
)

// 结算流程错误定义
var (
	ErrSessionRequired         = errors.New("checkout session id is required")
	ErrAuthExpired             = errors.New("auth session expired")
	ErrSessionPersistFailed    = errors.New("refreshed session persist failed")
	ErrValidationFailure       = errors.New("checkout validation failed")
	ErrNetworkFailure          = errors.New("checkout network failure")
	ErrOrderRejected           = errors.New("order rejected by backend")
	ErrOrderCreationAmbiguous  = errors.New("order creation result ambiguous")
	ErrGatewayUnavailable      = errors.New("payment gateway unavailable")
	ErrPendingPersistFailed    = errors.New("pending order persist failed")
	ErrReconciliationAmbiguous = errors.New("payment reconciliation ambiguous")
	ErrOrderReferenceRequired  = errors.New("order reference is required")
)

// 本地校验错误，均可用 errors.Is 归类到 ErrValidationFailure
var (
	ErrCartEmpty                = fmt.Errorf("%w: cart is empty", ErrValidationFailure)
	ErrDeliveryLocationRequired = fmt.Errorf("%w: delivery location is required", ErrValidationFailure)
	ErrPickupLocationRequired   = fmt.Errorf("%w: pickup location is required", ErrValidationFailure)
	ErrPhoneInvalid             = fmt.Errorf("%w: phone number is invalid", ErrValidationFailure)
)
