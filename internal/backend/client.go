package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pickupdrop/checkout/internal/config"
	"github.com/pickupdrop/checkout/internal/models"

	"github.com/cenkalti/backoff/v5"
)

var (
	ErrConfigInvalid   = errors.New("backend config invalid")
	ErrRequestFailed   = errors.New("backend request failed")
	ErrResponseInvalid = errors.New("backend response invalid")
	ErrUnauthorized    = errors.New("backend unauthorized")
	ErrNotFound        = errors.New("backend resource not found")
	ErrRejected        = errors.New("backend rejected request")
)

// Client 商城后端 HTTP 客户端
type Client struct {
	baseURL    string
	endpoints  config.BackendEndpoints
	httpClient *http.Client
	timeout    time.Duration
	retryMax   int
	retryStep  time.Duration
}

// NewClient 创建后端客户端
func NewClient(cfg config.BackendConfig, httpClient *http.Client) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("%w: base_url is required", ErrConfigInvalid)
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("%w: base_url is invalid", ErrConfigInvalid)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	retryMax := cfg.RetryMaxAttempts
	if retryMax <= 0 {
		retryMax = 1
	}
	return &Client{
		baseURL:    baseURL,
		endpoints:  normalizeEndpoints(cfg.Endpoints),
		httpClient: httpClient,
		timeout:    cfg.Timeout(),
		retryMax:   retryMax,
		retryStep:  cfg.RetryStep(),
	}, nil
}

// TokenPair 刷新后的凭证
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// OrderItemPayload 下单条目
type OrderItemPayload struct {
	ServiceID string       `json:"service"`
	Quantity  int          `json:"quantity"`
	UnitPrice models.Money `json:"unit_price"`
}

// CreateOrderRequest 下单请求体
type CreateOrderRequest struct {
	UserID               string                   `json:"user,omitempty"`
	DeliveryLocation     *models.LocationFee      `json:"delivery_location"`
	PickupLocation       *models.LocationFee      `json:"pickup_location"`
	Items                []OrderItemPayload       `json:"items"`
	Subtotal             models.Money             `json:"subtotal"`
	DeliveryFee          models.Money             `json:"delivery_fee"`
	PickupFee            models.Money             `json:"pickup_fee"`
	TotalBeforeDiscounts models.Money             `json:"total_before_discounts"`
	Total                models.Money             `json:"total"`
	Phone                string                   `json:"phone"`
	Discounts            []models.DiscountPayload `json:"discounts"`
	PickupSlot           string                   `json:"pickup_slot,omitempty"`
	TransactionReference string                   `json:"transaction_ref"`
	CallbackURL          string                   `json:"callback_url,omitempty"`
}

// CreateOrderResult 下单响应
type CreateOrderResult struct {
	StatusCode       int
	OrderReference   string
	AuthorizationURL string
	GatewayReference string
	Raw              map[string]interface{}
}

// VerifyResult 支付校验结果
type VerifyResult struct {
	Success        bool
	Message        string
	OrderReference string
	Raw            map[string]interface{}
}

// RefreshToken 用 refresh token 换取新的凭证对
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: refresh token is empty", ErrUnauthorized)
	}
	body, err := json.Marshal(map[string]string{"refresh": refreshToken})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal refresh request failed", ErrRequestFailed)
	}
	respBody, statusCode, err := c.doJSONRequest(ctx, http.MethodPost, c.endpoints.TokenRefresh, "", body, nil)
	if err != nil {
		return nil, err
	}
	if statusCode == http.StatusUnauthorized || statusCode == http.StatusBadRequest || statusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: refresh status %d", ErrUnauthorized, statusCode)
	}
	if err := classifyStatus(statusCode, "refresh"); err != nil {
		return nil, err
	}
	raw, err := decodeObject(respBody)
	if err != nil {
		return nil, err
	}
	pair := &TokenPair{
		AccessToken:  pickFirstNonEmpty(readString(raw, "access"), readString(raw, "access_token")),
		RefreshToken: pickFirstNonEmpty(readString(raw, "refresh"), readString(raw, "refresh_token")),
	}
	if pair.AccessToken == "" {
		return nil, fmt.Errorf("%w: access token is missing", ErrResponseInvalid)
	}
	if pair.RefreshToken == "" {
		pair.RefreshToken = refreshToken
	}
	return pair, nil
}

// CreateOrder 提交订单，不做自动重试
func (c *Client) CreateOrder(ctx context.Context, accessToken string, input CreateOrderRequest) (*CreateOrderResult, error) {
	body, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal order request failed", ErrRequestFailed)
	}
	headers := map[string]string{}
	if ref := strings.TrimSpace(input.TransactionReference); ref != "" {
		headers["Idempotency-Key"] = ref
	}
	respBody, statusCode, err := c.doJSONRequest(ctx, http.MethodPost, c.endpoints.CreateOrder, accessToken, body, headers)
	if err != nil {
		return nil, err
	}
	if err := classifyStatus(statusCode, "create order"); err != nil {
		if errors.Is(err, ErrRejected) {
			return nil, fmt.Errorf("%w: %s", err, readMessage(respBody))
		}
		return nil, err
	}
	result := &CreateOrderResult{StatusCode: statusCode}
	raw, err := decodeObject(respBody)
	if err != nil {
		// 2xx 但响应体不可解析，订单可能已创建
		return result, nil
	}
	result.Raw = raw
	result.OrderReference = pickFirstNonEmpty(
		readString(raw, "order_reference"),
		readString(raw, "order_id"),
		readString(raw, "data", "order_reference"),
		readString(raw, "data", "order_id"),
	)
	result.AuthorizationURL = pickFirstNonEmpty(
		readString(raw, "authorization_url"),
		readString(raw, "data", "authorization_url"),
	)
	result.GatewayReference = pickFirstNonEmpty(
		readString(raw, "reference"),
		readString(raw, "data", "reference"),
	)
	return result, nil
}

// GetOrder 按订单号查询订单状态，网络类错误按线性退避重试
func (c *Client) GetOrder(ctx context.Context, accessToken, reference string) (*models.Order, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, fmt.Errorf("%w: order reference is empty", ErrRejected)
	}
	endpoint := fmt.Sprintf(c.endpoints.OrderStatus, url.PathEscape(reference))
	return retryIdempotent(ctx, c, func() (*models.Order, error) {
		respBody, statusCode, err := c.doJSONRequest(ctx, http.MethodGet, endpoint, accessToken, nil, nil)
		if err != nil {
			return nil, err
		}
		if err := classifyStatus(statusCode, "order status"); err != nil {
			return nil, err
		}
		raw, err := decodeObject(respBody)
		if err != nil {
			return nil, err
		}
		order := &models.Order{
			Reference: pickFirstNonEmpty(readString(raw, "reference"), readString(raw, "order_reference"), reference),
			Status:    strings.ToUpper(pickFirstNonEmpty(readString(raw, "status"), readString(raw, "data", "status"))),
		}
		if total := pickFirstNonEmpty(readString(raw, "total"), readString(raw, "total_amount")); total != "" {
			if parsed, err := models.NewMoneyFromString(total); err == nil {
				order.Total = parsed
			}
		}
		if order.Status == "" {
			return nil, fmt.Errorf("%w: order status is missing", ErrResponseInvalid)
		}
		return order, nil
	})
}

// VerifyPayment 按交易号校验支付结果，网络类错误按线性退避重试
func (c *Client) VerifyPayment(ctx context.Context, accessToken, reference string) (*VerifyResult, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, fmt.Errorf("%w: transaction reference is empty", ErrRejected)
	}
	body, err := json.Marshal(map[string]string{"reference": reference})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal verify request failed", ErrRequestFailed)
	}
	return retryIdempotent(ctx, c, func() (*VerifyResult, error) {
		respBody, statusCode, err := c.doJSONRequest(ctx, http.MethodPost, c.endpoints.VerifyPayment, accessToken, body, nil)
		if err != nil {
			return nil, err
		}
		// 校验失败时后端可能返回 4xx 并附带订单号
		if statusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: verify status %d", ErrUnauthorized, statusCode)
		}
		if statusCode >= 500 {
			return nil, fmt.Errorf("%w: verify status %d", ErrRequestFailed, statusCode)
		}
		raw, err := decodeObject(respBody)
		if err != nil {
			return nil, err
		}
		result := &VerifyResult{
			Success:        statusCode >= 200 && statusCode < 300 && verifySucceeded(raw),
			Message:        readString(raw, "message"),
			OrderReference: pickFirstNonEmpty(readString(raw, "order_reference"), readString(raw, "order_id"), readString(raw, "data", "order_reference")),
			Raw:            raw,
		}
		return result, nil
	})
}

// MarkDiscountRedeemed 标记积分折扣已使用
func (c *Client) MarkDiscountRedeemed(ctx context.Context, accessToken, discountID string) error {
	discountID = strings.TrimSpace(discountID)
	if discountID == "" {
		return fmt.Errorf("%w: discount id is empty", ErrRejected)
	}
	body, err := json.Marshal(map[string]bool{"is_applied": true})
	if err != nil {
		return fmt.Errorf("%w: marshal discount request failed", ErrRequestFailed)
	}
	endpoint := fmt.Sprintf(c.endpoints.RedeemDiscount, url.PathEscape(discountID))
	_, statusCode, err := c.doJSONRequest(ctx, http.MethodPatch, endpoint, accessToken, body, nil)
	if err != nil {
		return err
	}
	return classifyStatus(statusCode, "redeem discount")
}

func (c *Client) doJSONRequest(ctx context.Context, method, endpoint, token string, body []byte, headers map[string]string) ([]byte, int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := c.withDefaultTimeout(ctx)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: build request failed", ErrRequestFailed)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: http request failed: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: read response failed", ErrRequestFailed)
	}
	return respBody, resp.StatusCode, nil
}

func (c *Client) withDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func classifyStatus(statusCode int, action string) error {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s status %d", ErrUnauthorized, action, statusCode)
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s status %d", ErrNotFound, action, statusCode)
	case statusCode >= 500:
		return fmt.Errorf("%w: %s status %d", ErrRequestFailed, action, statusCode)
	default:
		return fmt.Errorf("%w: %s status %d", ErrRejected, action, statusCode)
	}
}

func normalizeEndpoints(e config.BackendEndpoints) config.BackendEndpoints {
	if strings.TrimSpace(e.TokenRefresh) == "" {
		e.TokenRefresh = "/auth/token/refresh/"
	}
	if strings.TrimSpace(e.CreateOrder) == "" {
		e.CreateOrder = "/orders/"
	}
	if !strings.Contains(e.OrderStatus, "%s") {
		e.OrderStatus = "/orders/%s/"
	}
	if strings.TrimSpace(e.VerifyPayment) == "" {
		e.VerifyPayment = "/payments/verify/"
	}
	if !strings.Contains(e.RedeemDiscount, "%s") {
		e.RedeemDiscount = "/discounts/%s/"
	}
	return e
}

func decodeObject(body []byte) (map[string]interface{}, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("%w: empty response body", ErrResponseInvalid)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode response failed", ErrResponseInvalid)
	}
	return raw, nil
}

func readMessage(body []byte) string {
	raw, err := decodeObject(body)
	if err != nil {
		return strings.TrimSpace(string(body))
	}
	return pickFirstNonEmpty(readString(raw, "message"), readString(raw, "detail"), readString(raw, "error"))
}

func pickFirstNonEmpty(values ...string) string {
	for _, val := range values {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func readString(raw map[string]interface{}, path ...string) string {
	if raw == nil {
		return ""
	}
	var current interface{} = raw
	for _, seg := range path {
		if idx, err := strconv.Atoi(seg); err == nil {
			arr, ok := current.([]interface{})
			if !ok || idx < 0 || idx >= len(arr) {
				return ""
			}
			current = arr[idx]
			continue
		}
		next, ok := current.(map[string]interface{})
		if !ok {
			return ""
		}
		current = next[seg]
	}
	switch v := current.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// verifySucceeded 依次读取 success、data.status、status。
// 外层 status 在网关风格的响应里只表示接口调用成功，存在 data.status 时以其为准。
func verifySucceeded(raw map[string]interface{}) bool {
	if raw == nil {
		return false
	}
	if value, ok := raw["success"]; ok {
		return isSuccessValue(value)
	}
	if data, ok := raw["data"].(map[string]interface{}); ok {
		if value, ok := data["status"]; ok {
			return isSuccessValue(value)
		}
	}
	return isSuccessValue(raw["status"])
}

func isSuccessValue(value interface{}) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "success", "successful", "succeeded", "paid", "completed":
			return true
		}
	}
	return false
}

// linearBackOff 第 n 次重试前等待 n 个步长
type linearBackOff struct {
	step    time.Duration
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return time.Duration(b.attempt) * b.step
}

func (b *linearBackOff) Reset() {
	b.attempt = 0
}

func retryIdempotent[T any](ctx context.Context, c *Client, op func() (T, error)) (T, error) {
	return backoff.Retry(ctx, func() (T, error) {
		value, err := op()
		if err != nil && !errors.Is(err, ErrRequestFailed) {
			return value, backoff.Permanent(err)
		}
		return value, err
	},
		backoff.WithBackOff(&linearBackOff{step: c.retryStep}),
		backoff.WithMaxTries(uint(c.retryMax)),
	)
}
