package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pickupdrop/checkout/internal/backend"
	"github.com/pickupdrop/checkout/internal/logger"
	"github.com/pickupdrop/checkout/internal/models"
	"github.com/pickupdrop/checkout/internal/store"

	"github.com/golang-jwt/jwt/v5"
)

var errTokenWithoutExpiry = errors.New("token has no exp claim")

// TokenRefresher 用 refresh token 换取新凭证
type TokenRefresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (*backend.TokenPair, error)
}

// backendTokenClaims 后端签发的 JWT 声明，本地只读取不校验签名
type backendTokenClaims struct {
	UserID interface{} `json:"user_id"`
	jwt.RegisteredClaims
}

// SessionGuard 在每次受保护调用前确保 access token 可用
type SessionGuard struct {
	store        *store.CheckoutStore
	refresher    TokenRefresher
	threshold    time.Duration
	continuePath string
	now          func() time.Time

	mu sync.Mutex
	// unsaved 刷新成功但未能写入存储的凭证，replaces 为它替换掉的 refresh token
	unsaved  *models.AuthSession
	replaces string
}

// NewSessionGuard 创建会话守卫
func NewSessionGuard(st *store.CheckoutStore, refresher TokenRefresher, threshold time.Duration, continuePath string) *SessionGuard {
	if threshold <= 0 {
		threshold = time.Minute
	}
	return &SessionGuard{
		store:        st,
		refresher:    refresher,
		threshold:    threshold,
		continuePath: continuePath,
		now:          time.Now,
	}
}

// SetSession 保存登录得到的凭证对
func (g *SessionGuard) SetSession(ctx context.Context, accessToken, refreshToken string) (*models.AuthSession, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: refresh token is required", ErrValidationFailure)
	}
	session := buildSession(accessToken, refreshToken, "")

	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.persist(ctx, session); err != nil {
		return nil, err
	}
	g.unsaved = nil
	return session, nil
}

// EnsureValidSession 返回可用的会话，必要时刷新凭证。
// 每次都从存储读取凭证，其他进程刷新或重新登录后这里能立即看到。
// refresh token 无法解析或已过期时直接返回 ErrAuthExpired，不发起网络请求。
func (g *SessionGuard) EnsureValidSession(ctx context.Context) (*models.AuthSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	session, err := g.current(ctx)
	if err != nil {
		return nil, err
	}
	if !session.HasRefreshToken() {
		return nil, fmt.Errorf("%w: no refresh token", ErrAuthExpired)
	}

	now := g.now()
	refreshExpiry, err := tokenExpiry(session.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("%w: refresh token undecodable: %v", ErrAuthExpired, err)
	}
	if !refreshExpiry.After(now) {
		return nil, fmt.Errorf("%w: refresh token expired", ErrAuthExpired)
	}
	if !g.needsRefresh(session, refreshExpiry, now) {
		return session, nil
	}

	log := logger.ForSession(ctx, g.store.Namespace())
	if g.refresher == nil {
		return nil, fmt.Errorf("%w: token refresher missing", ErrAuthExpired)
	}
	pair, err := g.refresher.RefreshToken(ctx, session.RefreshToken)
	if err != nil {
		if rotated := g.rotatedElsewhere(ctx, session.RefreshToken); rotated != nil {
			log.Infow("session_refresh_superseded", "error", err)
			return rotated, nil
		}
		log.Warnw("session_refresh_failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrAuthExpired, err)
	}
	refreshed := buildSession(pair.AccessToken, pair.RefreshToken, session.UserID)
	if err := g.persist(ctx, refreshed); err != nil {
		g.unsaved = refreshed
		g.replaces = session.RefreshToken
		log.Errorw("session_refresh_persist_failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrSessionPersistFailed, err)
	}
	log.Infow("session_refreshed", "expiry", refreshed.Expiry)
	return refreshed, nil
}

// current 读取存储中的凭证。上次刷新未能落盘且存储仍是被替换的旧凭证时，先补写新凭证。
func (g *SessionGuard) current(ctx context.Context) (*models.AuthSession, error) {
	snapshot, err := g.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	stored := snapshot.Session
	if g.unsaved == nil {
		return stored, nil
	}
	if stored == nil || stored.RefreshToken != g.replaces {
		g.unsaved = nil
		return stored, nil
	}
	if err := g.persist(ctx, g.unsaved); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionPersistFailed, err)
	}
	session := g.unsaved
	g.unsaved = nil
	return session, nil
}

// rotatedElsewhere 刷新被拒绝时，存储中的凭证若已被其他进程轮换则直接使用
func (g *SessionGuard) rotatedElsewhere(ctx context.Context, used string) *models.AuthSession {
	snapshot, err := g.store.Load(ctx)
	if err != nil || snapshot.Session == nil {
		return nil
	}
	stored := snapshot.Session
	if !stored.HasRefreshToken() || stored.RefreshToken == used {
		return nil
	}
	if expiry, err := tokenExpiry(stored.RefreshToken); err != nil || !expiry.After(g.now()) {
		return nil
	}
	return stored
}

// Expire 凭证失效：强制登出并返回携带继续结算路径的登录页
func (g *SessionGuard) Expire(ctx context.Context) models.Route {
	if err := g.Logout(ctx); err != nil {
		logger.ForSession(ctx, g.store.Namespace()).Warnw("session_force_logout_failed", "error", err)
	}
	return LoginRoute(g.continuePath)
}

// Logout 清除凭证
func (g *SessionGuard) Logout(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.unsaved = nil
	return g.store.Logout(ctx)
}

func (g *SessionGuard) needsRefresh(session *models.AuthSession, refreshExpiry, now time.Time) bool {
	if refreshExpiry.Sub(now) < g.threshold {
		return true
	}
	if strings.TrimSpace(session.AccessToken) == "" {
		return true
	}
	accessExpiry, err := tokenExpiry(session.AccessToken)
	if err != nil {
		return true
	}
	return accessExpiry.Sub(now) < g.threshold
}

func (g *SessionGuard) persist(ctx context.Context, session *models.AuthSession) error {
	_, err := g.store.Update(ctx, func(snapshot *models.CheckoutSnapshot) error {
		snapshot.Session = session
		return nil
	})
	return err
}

func buildSession(accessToken, refreshToken, fallbackUserID string) *models.AuthSession {
	session := &models.AuthSession{
		AccessToken:  strings.TrimSpace(accessToken),
		RefreshToken: strings.TrimSpace(refreshToken),
		UserID:       fallbackUserID,
	}
	if claims, err := parseTokenClaims(session.AccessToken); err == nil {
		if claims.ExpiresAt != nil {
			session.Expiry = claims.ExpiresAt.Time
		}
		if claims.UserID != nil {
			session.UserID = fmt.Sprint(claims.UserID)
		}
	}
	return session
}

func tokenExpiry(token string) (time.Time, error) {
	claims, err := parseTokenClaims(token)
	if err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, errTokenWithoutExpiry
	}
	return claims.ExpiresAt.Time, nil
}

func parseTokenClaims(token string) (*backendTokenClaims, error) {
	claims := &backendTokenClaims{}
	if _, _, err := jwt.NewParser(jwt.WithJSONNumber()).ParseUnverified(strings.TrimSpace(token), claims); err != nil {
		return nil, err
	}
	return claims, nil
}
