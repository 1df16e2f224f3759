package constants

// 订单状态常量（由后端维护）
const (
	OrderStatusInitiated  = "INITIATED"
	OrderStatusProcessing = "PROCESSING"
	OrderStatusFulfilled  = "FULFILLED"
	OrderStatusFailed     = "FAILED"
	OrderStatusCancelled  = "CANCELLED"
)

// 折扣类型常量
const (
	DiscountKindSignup         = "signup"
	DiscountKindReferral       = "referral"
	DiscountKindRedeemedPoints = "redeemed_points"
	DiscountKindPromotion      = "promotion"
)

// DiscountKindOrder 折扣在摘要与请求体中的固定顺序
var DiscountKindOrder = []string{
	DiscountKindSignup,
	DiscountKindReferral,
	DiscountKindRedeemedPoints,
	DiscountKindPromotion,
}

// 结算尝试状态常量
const (
	AttemptStateIdle        int32 = 0
	AttemptStateSubmitting  int32 = 1
	AttemptStateRedirecting int32 = 2
)

// 页面路由常量
const (
	RouteCheckout    = "checkout"
	RouteOrders      = "orders"
	RouteOrderDetail = "order_detail"
	RouteLogin       = "login"
)

// 路由参数与查询标记常量
const (
	RouteParamReference = "reference"
	QueryPaymentMarker  = "payment"
	QueryRedirect       = "redirect"
	PaymentMarkerOK     = "success"
	PaymentMarkerFailed = "failed"
)

// 网关回跳参数常量
const (
	GatewayQueryReference = "reference"
	GatewayQueryTrxRef    = "trxref"
	GatewayQueryStatus    = "status"
)

// 支付网关提供方常量
const (
	GatewayProviderHosted = "hosted"
)

// 持久化存储驱动常量
const (
	StoreDriverSQLite   = "sqlite"
	StoreDriverPostgres = "postgres"
	StoreDriverRedis    = "redis"
)

// 持久化键常量
const (
	StoreKeySnapshot = "checkout_snapshot"
)

// 失败快照保留条数
const (
	FailedAttemptHistoryLimit = 10
)

// 队列常量
const (
	QueueDefault         = "default"
	TaskOrderStatusPoll  = "checkout:order_status_poll"
	RedisPrefixDefault   = "co"
	SessionHeader        = "X-Checkout-Session"
	SessionCookie        = "checkout_session"
	SessionContextKey    = "checkout_session_id"
	RequestIDContextKey  = "request_id"
	DefaultContinuePath  = "/checkout"
	DefaultCurrencyScale = 2
)
