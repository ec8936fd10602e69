package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// Token types carried in TokenClaims.Type
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

type TokenClaims struct {
	Type      string `json:"type"`
	AccountID string `json:"account_id"`
	Phone     string `json:"phone,omitempty"`
	jwt.RegisteredClaims
}

// AuthResponse is returned after a successful login or refresh.
type AuthResponse struct {
	AccessToken  string                 `json:"access_token"`
	RefreshToken string                 `json:"refresh_token"`
	ExpiresIn    int64                  `json:"expires_in"`
	Account      *AccountResponse       `json:"account"`
	Decision     *LoginSecurityDecision `json:"decision,omitempty"`
}
