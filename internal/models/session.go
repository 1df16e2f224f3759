package models

import (
	"strings"
	"time"
)

// AuthSession 登录凭证，在一次结算尝试内原地刷新
type AuthSession struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Expiry       time.Time `json:"expiry"`
	UserID       string    `json:"user_id,omitempty"`
}

// HasRefreshToken 是否持有 refresh token
func (s *AuthSession) HasRefreshToken() bool {
	return s != nil && strings.TrimSpace(s.RefreshToken) != ""
}
