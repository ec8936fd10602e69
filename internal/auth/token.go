package auth

import (
	"fmt"
	"time"

	"github.com/el7lm/smartlogin/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenIssuer = "smartlogin"

// TokenManager issues and validates HS256 access and refresh tokens.
type TokenManager struct {
	secret             []byte
	accessTokenExpiry  time.Duration
	refreshTokenExpiry time.Duration
	now                func() time.Time
}

func NewTokenManager(secret string, accessExpiry, refreshExpiry time.Duration) *TokenManager {
	return &TokenManager{
		secret:             []byte(secret),
		accessTokenExpiry:  accessExpiry,
		refreshTokenExpiry: refreshExpiry,
		now:                time.Now,
	}
}

func (tm *TokenManager) AccessTokenExpiry() time.Duration {
	return tm.accessTokenExpiry
}

// GenerateAccessToken creates a short-lived access token with a unique JTI
func (tm *TokenManager) GenerateAccessToken(accountID, phone string) (string, error) {
	return tm.generate(models.TokenTypeAccess, accountID, phone, tm.accessTokenExpiry)
}

// GenerateRefreshToken creates a long-lived refresh token with a unique JTI
func (tm *TokenManager) GenerateRefreshToken(accountID, phone string) (string, error) {
	return tm.generate(models.TokenTypeRefresh, accountID, phone, tm.refreshTokenExpiry)
}

func (tm *TokenManager) generate(tokenType, accountID, phone string, expiry time.Duration) (string, error) {
	now := tm.now()
	claims := &models.TokenClaims{
		Type:      tokenType,
		AccountID: accountID,
		Phone:     phone,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    tokenIssuer,
			Subject:   accountID,
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}
	return tokenString, nil
}

// ValidateToken verifies a token and returns its claims
func (tm *TokenManager) ValidateToken(tokenString string) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (interface{}, error) {
			return tm.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(tm.now),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, models.ErrUnauthorized
	}

	if claims.Type != models.TokenTypeAccess && claims.Type != models.TokenTypeRefresh {
		return nil, fmt.Errorf("invalid token: unknown type %q", claims.Type)
	}
	if claims.AccountID == "" {
		return nil, fmt.Errorf("invalid token: missing account id")
	}

	return claims, nil
}
