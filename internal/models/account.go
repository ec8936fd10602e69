package models

import "time"

// Account statuses
const (
	AccountStatusActive   = "active"
	AccountStatusDisabled = "disabled"
)

// Account owns the password credential for a phone number. Its security
// profile lives alongside it, keyed by the same phone.
type Account struct {
	ID           string
	Phone        string
	Name         string
	Email        *string
	PasswordHash string
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AccountResponse is the public view of an Account.
type AccountResponse struct {
	ID        string    `json:"id"`
	Phone     string    `json:"phone"`
	Name      string    `json:"name"`
	Email     *string   `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (a *Account) ToResponse() *AccountResponse {
	return &AccountResponse{
		ID:        a.ID,
		Phone:     a.Phone,
		Name:      a.Name,
		Email:     a.Email,
		CreatedAt: a.CreatedAt,
	}
}

func (a *Account) IsActive() bool {
	return a.Status == "" || a.Status == AccountStatusActive
}
