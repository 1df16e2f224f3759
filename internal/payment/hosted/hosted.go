package hosted

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/pickupdrop/checkout/internal/config"
	"github.com/pickupdrop/checkout/internal/constants"
)

var (
	ErrConfigInvalid       = errors.New("hosted gateway config invalid")
	ErrNotReady            = errors.New("hosted gateway not ready")
	ErrAuthorizationURL    = errors.New("hosted gateway authorization url invalid")
	ErrUnsupportedProvider = errors.New("hosted gateway provider unsupported")
)

// Config 托管跳转支付配置。
type Config struct {
	Provider     string
	CallbackURL  string
	AllowedHosts []string
}

// ReturnMarkers 网关回跳携带的标记，Status 已归一为 success/failed/cancelled/pending，无法识别时保留原值
type ReturnMarkers struct {
	TransactionReference string
	Status               string
}

// HasTransaction 是否携带交易号，未携带视为用户取消
func (m ReturnMarkers) HasTransaction() bool {
	return strings.TrimSpace(m.TransactionReference) != ""
}

// Gateway 托管跳转支付网关
type Gateway struct {
	cfg *Config
}

// ConfigFrom 从应用配置构造网关配置
func ConfigFrom(gateway config.GatewayConfig) *Config {
	cfg := &Config{
		Provider:     gateway.Provider,
		CallbackURL:  gateway.CallbackURL,
		AllowedHosts: append([]string(nil), gateway.AllowedHosts...),
	}
	cfg.normalize()
	return cfg
}

// ValidateConfig 校验配置。
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrConfigInvalid)
	}
	if cfg.Provider != constants.GatewayProviderHosted {
		return fmt.Errorf("%w: %s", ErrUnsupportedProvider, cfg.Provider)
	}
	if cfg.CallbackURL != "" {
		if _, err := url.ParseRequestURI(cfg.CallbackURL); err != nil {
			return fmt.Errorf("%w: callback_url is invalid", ErrConfigInvalid)
		}
	}
	return nil
}

// New 创建网关，配置不合法时网关保持未就绪
func New(cfg *Config) *Gateway {
	if cfg != nil {
		cfg.normalize()
	}
	return &Gateway{cfg: cfg}
}

// Ready 网关是否可以发起跳转。
func (g *Gateway) Ready() error {
	if g == nil || g.cfg == nil {
		return fmt.Errorf("%w: config missing", ErrNotReady)
	}
	if err := ValidateConfig(g.cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrNotReady, err)
	}
	return nil
}

// CallbackURL 网关回跳地址。
func (g *Gateway) CallbackURL() string {
	if g == nil || g.cfg == nil {
		return ""
	}
	return g.cfg.CallbackURL
}

// AuthorizationURL 校验后端返回的支付地址，仅允许 https 与白名单域名
func (g *Gateway) AuthorizationURL(raw string) (string, error) {
	if err := g.Ready(); err != nil {
		return "", err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrAuthorizationURL)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: parse failed", ErrAuthorizationURL)
	}
	if !strings.EqualFold(parsed.Scheme, "https") || parsed.Host == "" {
		return "", fmt.Errorf("%w: must be absolute https url", ErrAuthorizationURL)
	}
	if len(g.cfg.AllowedHosts) > 0 && !hostAllowed(parsed.Hostname(), g.cfg.AllowedHosts) {
		return "", fmt.Errorf("%w: host %s not allowed", ErrAuthorizationURL, parsed.Hostname())
	}
	return parsed.String(), nil
}

// ParseReturn 解析网关回跳参数，reference 优先于 trxref
func (g *Gateway) ParseReturn(query url.Values) ReturnMarkers {
	markers := ReturnMarkers{
		TransactionReference: pickFirstNonEmpty(
			query.Get(constants.GatewayQueryReference),
			query.Get(constants.GatewayQueryTrxRef),
		),
		Status: strings.ToLower(strings.TrimSpace(query.Get(constants.GatewayQueryStatus))),
	}
	if status, ok := ToPaymentStatus(markers.Status); ok {
		markers.Status = status
	}
	return markers
}

// ToPaymentStatus 将回跳状态标记映射为内部支付状态。
func ToPaymentStatus(status string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "success", "successful", "completed", "paid":
		return "success", true
	case "failed", "declined", "abandoned", "reversed":
		return "failed", true
	case "cancelled", "canceled":
		return "cancelled", true
	case "pending", "ongoing", "processing":
		return "pending", true
	}
	return "", false
}

func (c *Config) normalize() {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	if c.Provider == "" {
		c.Provider = constants.GatewayProviderHosted
	}
	c.CallbackURL = strings.TrimSpace(c.CallbackURL)
	hosts := make([]string, 0, len(c.AllowedHosts))
	for _, host := range c.AllowedHosts {
		host = strings.ToLower(strings.TrimSpace(host))
		if host != "" {
			hosts = append(hosts, host)
		}
	}
	c.AllowedHosts = hosts
}

func hostAllowed(host string, allowed []string) bool {
	host = strings.ToLower(strings.TrimSpace(host))
	for _, item := range allowed {
		if host == item || strings.HasSuffix(host, "."+item) {
			return true
		}
	}
	return false
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
