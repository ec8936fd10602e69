package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/el7lm/smartlogin/internal/auth"
	"github.com/el7lm/smartlogin/internal/models"
	pkgauth "github.com/el7lm/smartlogin/pkg/auth"
	pkghttp "github.com/el7lm/smartlogin/pkg/http"
)

// SecurityServiceInterface exposes the caller's own security profile.
type SecurityServiceInterface interface {
	Profile(ctx context.Context, phone string) (*models.SecurityProfile, error)
	SetOTPPreference(ctx context.Context, phone string, requiresOTP bool) error
}

type SecurityHandler struct {
	service SecurityServiceInterface
}

func NewSecurityHandler(service SecurityServiceInterface) *SecurityHandler {
	return &SecurityHandler{service: service}
}

type PasswordStrengthRequest struct {
	Password string `json:"password" validate:"required"`
}

type OTPPreferenceRequest struct {
	RequiresOTP *bool `json:"requires_otp" validate:"required"`
}

type OTPPreferenceResponse struct {
	RequiresOTP bool `json:"requires_otp"`
}

// PasswordStrength reports whether a candidate password would be accepted
// @Router /auth/password/strength [post]
func (h *SecurityHandler) PasswordStrength(w http.ResponseWriter, r *http.Request) {
	var req PasswordStrengthRequest
	if !decodeAndValidate(w, r, &req, nil) {
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, pkgauth.ValidatePasswordStrength(req.Password))
}

// GetProfile returns the authenticated account's security profile
// @Router /security/profile [get]
func (h *SecurityHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil || claims.Phone == "" {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	profile, err := h.service.Profile(r.Context(), claims.Phone)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "Security profile not found")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, profile)
}

// SetOTPPreference lets the account holder require an OTP on every login
// @Router /security/otp-preference [put]
func (h *SecurityHandler) SetOTPPreference(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil || claims.Phone == "" {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req OTPPreferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(&req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.SetOTPPreference(r.Context(), claims.Phone, *req.RequiresOTP); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "Security profile not found")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, OTPPreferenceResponse{RequiresOTP: *req.RequiresOTP})
}
