package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/el7lm/smartlogin/internal/auth"
	"github.com/el7lm/smartlogin/internal/models"
	"github.com/el7lm/smartlogin/internal/services"
	pkgauth "github.com/el7lm/smartlogin/pkg/auth"
	pkghttp "github.com/el7lm/smartlogin/pkg/http"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Register(ctx context.Context, in services.RegisterInput) (*models.AccountResponse, error)
	CheckLogin(ctx context.Context, phone, deviceFingerprint, ipAddress string) models.LoginSecurityDecision
	RequestOTP(ctx context.Context, phone, deviceFingerprint, ipAddress string) (models.LoginSecurityDecision, error)
	Login(ctx context.Context, in services.LoginInput) (*models.AuthResponse, error)
	RefreshToken(ctx context.Context, refreshToken string) (*models.AuthResponse, error)
	Logout(ctx context.Context, accessClaims *models.TokenClaims, refreshToken string) error
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service  AuthServiceInterface
	ipConfig *pkghttp.IPConfig
}

func NewAuthHandler(service AuthServiceInterface, ipConfig *pkghttp.IPConfig) *AuthHandler {
	return &AuthHandler{
		service:  service,
		ipConfig: ipConfig,
	}
}

// Request DTOs

type RegisterRequest struct {
	Phone    string `json:"phone" validate:"required,e164"`
	Password string `json:"password" validate:"required,max=72"`
	Name     string `json:"name" validate:"required,min=1,max=100"`
	Email    string `json:"email" validate:"omitempty,email"`
}

type PhoneRequest struct {
	Phone string `json:"phone" validate:"required,e164"`
}

type LoginRequest struct {
	Phone    string `json:"phone" validate:"required,e164"`
	Password string `json:"password" validate:"required"`
	OTPCode  string `json:"otp_code" validate:"omitempty,numeric,min=6,max=8"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// OTPSentResponse is returned by SendOTP whether or not a code went out.
type OTPSentResponse struct {
	Message  string                       `json:"message"`
	Decision models.LoginSecurityDecision `json:"decision"`
}

// decodeAndValidate decodes the JSON body into dst, normalises any phone
// field and validates the result. It writes the 400 itself.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}, phone *string) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return false
	}

	if phone != nil {
		if normalized := services.NormalizePhone(*phone); normalized != "" {
			*phone = normalized
		}
	}

	if err := ValidateRequest(dst); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return false
	}
	return true
}

// Register handles account registration
// @Router /auth/register [post]
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeAndValidate(w, r, &req, &req.Phone) {
		return
	}

	account, err := h.service.Register(r.Context(), services.RegisterInput{
		Phone:    req.Phone,
		Password: req.Password,
		Name:     strings.TrimSpace(req.Name),
		Email:    req.Email,
	})
	if err != nil {
		switch {
		case errors.Is(err, models.ErrWeakPassword):
			pkghttp.WriteErrorWithDetails(w, http.StatusBadRequest, "weak_password",
				"Password does not meet requirements", pkgauth.ValidatePasswordStrength(req.Password).Message)
		case errors.Is(err, models.ErrConflict):
			pkghttp.WriteConflict(w, "Phone number is already registered")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Invalid phone number")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, account)
}

// CheckLogin tells the client which credentials the next login needs
// @Router /auth/login/check [post]
func (h *AuthHandler) CheckLogin(w http.ResponseWriter, r *http.Request) {
	var req PhoneRequest
	if !decodeAndValidate(w, r, &req, &req.Phone) {
		return
	}

	decision := h.service.CheckLogin(r.Context(), req.Phone, pkgauth.FingerprintFromRequest(r), pkghttp.ExtractClientIP(r, h.ipConfig))
	pkghttp.WriteJSON(w, http.StatusOK, decision)
}

// SendOTP issues a one-time code when the login decision requires one
// @Router /auth/otp/send [post]
func (h *AuthHandler) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req PhoneRequest
	if !decodeAndValidate(w, r, &req, &req.Phone) {
		return
	}

	decision, err := h.service.RequestOTP(r.Context(), req.Phone, pkgauth.FingerprintFromRequest(r), pkghttp.ExtractClientIP(r, h.ipConfig))
	if err != nil {
		if errors.Is(err, models.ErrBadRequest) {
			pkghttp.WriteBadRequest(w, "No delivery address on file for this account")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusAccepted, OTPSentResponse{
		Message:  decision.Message,
		Decision: decision,
	})
}

// Login authenticates with a password and, when required, an OTP
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeAndValidate(w, r, &req, &req.Phone) {
		return
	}

	authResp, err := h.service.Login(r.Context(), services.LoginInput{
		Phone:             req.Phone,
		Password:          req.Password,
		OTPCode:           req.OTPCode,
		DeviceFingerprint: pkgauth.FingerprintFromRequest(r),
		IPAddress:         pkghttp.ExtractClientIP(r, h.ipConfig),
	})
	if err != nil {
		var otpErr *services.OTPRequiredError
		switch {
		case errors.As(err, &otpErr):
			pkghttp.WriteOTPRequired(w, otpErr.Decision.Message, otpErr.Decision)
		case errors.Is(err, models.ErrOTPInvalid):
			pkghttp.WriteError(w, http.StatusUnauthorized, "invalid_otp", "Invalid verification code")
		case errors.Is(err, models.ErrOTPExpired):
			pkghttp.WriteError(w, http.StatusUnauthorized, "otp_expired", "Verification code expired, request a new one")
		case errors.Is(err, models.ErrOTPAttemptsExceeded):
			pkghttp.WriteTooManyRequests(w, "Too many invalid codes, request a new one")
		case errors.Is(err, models.ErrUnauthorized),
			errors.Is(err, models.ErrAccountDisabled):
			// Same answer for unknown phone, wrong password and disabled account
			pkghttp.WriteUnauthorized(w, "Authentication failed")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, authResp)
}

// RefreshToken handles token refresh
// @Router /auth/refresh [post]
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if !decodeAndValidate(w, r, &req, nil) {
		return
	}

	authResp, err := h.service.RefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, models.ErrUnauthorized) {
			pkghttp.WriteUnauthorized(w, "Authentication failed")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, authResp)
}

// Logout revokes the access token and, when supplied, the refresh token
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil || claims.Type != models.TokenTypeAccess {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	// The body is optional.
	var req LogoutRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			pkghttp.WriteBadRequest(w, "Invalid request body")
			return
		}
	}

	if err := h.service.Logout(r.Context(), claims, req.RefreshToken); err != nil {
		if errors.Is(err, models.ErrUnauthorized) {
			pkghttp.WriteUnauthorized(w, "Invalid token")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
