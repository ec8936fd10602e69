package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/el7lm/smartlogin/internal/auth"
	"github.com/el7lm/smartlogin/internal/models"
	"github.com/el7lm/smartlogin/internal/services"
	pkghttp "github.com/el7lm/smartlogin/pkg/http"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds access token claims to request context for testing authenticated endpoints
func WithAuthContext(req *http.Request, accountID, phone string) *http.Request {
	claims := &models.TokenClaims{
		AccountID: accountID,
		Phone:     phone,
		Type:      models.TokenTypeAccess,
	}
	ctx := context.WithValue(req.Context(), auth.UserContextKey, claims)
	return req.WithContext(ctx)
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	RegisterFunc     func(ctx context.Context, in services.RegisterInput) (*models.AccountResponse, error)
	CheckLoginFunc   func(ctx context.Context, phone, deviceFingerprint, ipAddress string) models.LoginSecurityDecision
	RequestOTPFunc   func(ctx context.Context, phone, deviceFingerprint, ipAddress string) (models.LoginSecurityDecision, error)
	LoginFunc        func(ctx context.Context, in services.LoginInput) (*models.AuthResponse, error)
	RefreshTokenFunc func(ctx context.Context, refreshToken string) (*models.AuthResponse, error)
	LogoutFunc       func(ctx context.Context, accessClaims *models.TokenClaims, refreshToken string) error
}

func (m *MockAuthService) Register(ctx context.Context, in services.RegisterInput) (*models.AccountResponse, error) {
	if m.RegisterFunc == nil {
		return nil, models.ErrConflict
	}
	return m.RegisterFunc(ctx, in)
}

func (m *MockAuthService) CheckLogin(ctx context.Context, phone, deviceFingerprint, ipAddress string) models.LoginSecurityDecision {
	if m.CheckLoginFunc == nil {
		return models.LoginSecurityDecision{
			Method:      models.AuthMethodOTP,
			Reason:      models.ReasonNewUser,
			OTPRequired: true,
		}
	}
	return m.CheckLoginFunc(ctx, phone, deviceFingerprint, ipAddress)
}

func (m *MockAuthService) RequestOTP(ctx context.Context, phone, deviceFingerprint, ipAddress string) (models.LoginSecurityDecision, error) {
	if m.RequestOTPFunc == nil {
		return m.CheckLogin(ctx, phone, deviceFingerprint, ipAddress), nil
	}
	return m.RequestOTPFunc(ctx, phone, deviceFingerprint, ipAddress)
}

func (m *MockAuthService) Login(ctx context.Context, in services.LoginInput) (*models.AuthResponse, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.LoginFunc(ctx, in)
}

func (m *MockAuthService) RefreshToken(ctx context.Context, refreshToken string) (*models.AuthResponse, error) {
	if m.RefreshTokenFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.RefreshTokenFunc(ctx, refreshToken)
}

func (m *MockAuthService) Logout(ctx context.Context, accessClaims *models.TokenClaims, refreshToken string) error {
	if m.LogoutFunc == nil {
		return nil
	}
	return m.LogoutFunc(ctx, accessClaims, refreshToken)
}

// MockSecurityService implements SecurityServiceInterface for testing
type MockSecurityService struct {
	ProfileFunc          func(ctx context.Context, phone string) (*models.SecurityProfile, error)
	SetOTPPreferenceFunc func(ctx context.Context, phone string, requiresOTP bool) error
}

func (m *MockSecurityService) Profile(ctx context.Context, phone string) (*models.SecurityProfile, error) {
	if m.ProfileFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.ProfileFunc(ctx, phone)
}

func (m *MockSecurityService) SetOTPPreference(ctx context.Context, phone string, requiresOTP bool) error {
	if m.SetOTPPreferenceFunc == nil {
		return nil
	}
	return m.SetOTPPreferenceFunc(ctx, phone, requiresOTP)
}
