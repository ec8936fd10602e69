package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/el7lm/smartlogin/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

// MockAccountRepository implements AccountRepository for testing
type MockAccountRepository struct {
	CreateFunc     func(ctx context.Context, account *models.Account) (*models.Account, error)
	GetByPhoneFunc func(ctx context.Context, phone string) (*models.Account, error)
	GetByIDFunc    func(ctx context.Context, id string) (*models.Account, error)
	DeleteFunc     func(ctx context.Context, id string) error
}

func (m *MockAccountRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, account)
	}
	return nil, models.ErrInternalServer
}

func (m *MockAccountRepository) GetByPhone(ctx context.Context, phone string) (*models.Account, error) {
	if m.GetByPhoneFunc != nil {
		return m.GetByPhoneFunc(ctx, phone)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountRepository) Delete(ctx context.Context, id string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id)
	}
	return nil
}

// MockProfileCreator implements ProfileCreator for testing
type MockProfileCreator struct {
	CreateFunc func(ctx context.Context, profile *models.SecurityProfile) error
}

func (m *MockProfileCreator) Create(ctx context.Context, profile *models.SecurityProfile) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, profile)
	}
	return nil
}

// MockTokenRevocationRepository implements TokenRevocationRepository for testing
type MockTokenRevocationRepository struct {
	RevokeTokenFunc    func(ctx context.Context, jti, accountID, tokenType string, expiresAt time.Time, reason string) error
	IsTokenRevokedFunc func(ctx context.Context, jti string) (bool, error)
}

func (m *MockTokenRevocationRepository) RevokeToken(ctx context.Context, jti, accountID, tokenType string, expiresAt time.Time, reason string) error {
	if m.RevokeTokenFunc != nil {
		return m.RevokeTokenFunc(ctx, jti, accountID, tokenType, expiresAt, reason)
	}
	return nil
}

func (m *MockTokenRevocationRepository) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if m.IsTokenRevokedFunc != nil {
		return m.IsTokenRevokedFunc(ctx, jti)
	}
	return false, nil
}

// MockLoginSecurity implements LoginSecurity for testing. Decide defaults to
// the password path; recorded attempts are kept in Attempts.
type MockLoginSecurity struct {
	DecideFunc func(ctx context.Context, phone, deviceFingerprint, ipAddress string) models.LoginSecurityDecision

	mu       sync.Mutex
	Attempts []RecordedAttempt
	Verified []string
}

// RecordedAttempt is one RecordAttempt call seen by MockLoginSecurity.
type RecordedAttempt struct {
	Phone   string
	Success bool
	Device  string
	IP      string
}

func (m *MockLoginSecurity) Decide(ctx context.Context, phone, deviceFingerprint, ipAddress string) models.LoginSecurityDecision {
	if m.DecideFunc != nil {
		return m.DecideFunc(ctx, phone, deviceFingerprint, ipAddress)
	}
	return NewPasswordDecision()
}

func (m *MockLoginSecurity) RecordAttempt(ctx context.Context, phone string, success bool, deviceFingerprint, ipAddress string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Attempts = append(m.Attempts, RecordedAttempt{Phone: phone, Success: success, Device: deviceFingerprint, IP: ipAddress})
}

func (m *MockLoginSecurity) MarkPhoneVerified(ctx context.Context, phone string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Verified = append(m.Verified, phone)
}

// MockOTPIssuer implements OTPIssuer for testing
type MockOTPIssuer struct {
	IssueFunc  func(ctx context.Context, recipient OTPRecipient) (*models.OTPChallenge, error)
	VerifyFunc func(ctx context.Context, phone, code string) error
}

func (m *MockOTPIssuer) Issue(ctx context.Context, recipient OTPRecipient) (*models.OTPChallenge, error) {
	if m.IssueFunc != nil {
		return m.IssueFunc(ctx, recipient)
	}
	return &models.OTPChallenge{Phone: recipient.Phone, Channel: models.OTPChannelSMS}, nil
}

func (m *MockOTPIssuer) Verify(ctx context.Context, phone, code string) error {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, phone, code)
	}
	return models.ErrOTPInvalid
}

// MockOTPSender implements OTPSender and remembers the last code it sent.
type MockOTPSender struct {
	SendOTPFunc func(ctx context.Context, recipient OTPRecipient, code string, expiresAt time.Time) error

	mu       sync.Mutex
	LastCode string
	Sent     int
}

func (m *MockOTPSender) SendOTP(ctx context.Context, recipient OTPRecipient, code string, expiresAt time.Time) error {
	m.mu.Lock()
	m.LastCode = code
	m.Sent++
	m.mu.Unlock()
	if m.SendOTPFunc != nil {
		return m.SendOTPFunc(ctx, recipient, code, expiresAt)
	}
	return nil
}

func (m *MockOTPSender) Channel() string {
	return models.OTPChannelSMS
}

// InMemoryOTPChallengeStore implements OTPChallengeStore over a map.
type InMemoryOTPChallengeStore struct {
	mu         sync.Mutex
	challenges map[string]models.OTPChallenge
}

func NewInMemoryOTPChallengeStore() *InMemoryOTPChallengeStore {
	return &InMemoryOTPChallengeStore{challenges: make(map[string]models.OTPChallenge)}
}

func (s *InMemoryOTPChallengeStore) Save(ctx context.Context, challenge *models.OTPChallenge, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[challenge.Phone] = *challenge
	return nil
}

func (s *InMemoryOTPChallengeStore) Get(ctx context.Context, phone string) (*models.OTPChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[phone]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &c, nil
}

func (s *InMemoryOTPChallengeStore) IncrementAttempts(ctx context.Context, phone string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[phone]
	if !ok {
		return 0, models.ErrNotFound
	}
	c.Attempts++
	s.challenges[phone] = c
	return c.Attempts, nil
}

func (s *InMemoryOTPChallengeStore) Delete(ctx context.Context, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.challenges, phone)
	return nil
}

// MockSecurityProfileStore implements SecurityProfileStore with Func fields.
type MockSecurityProfileStore struct {
	FindByPhoneFunc func(ctx context.Context, phone string) (*models.SecurityProfile, error)
	UpdateFunc      func(ctx context.Context, phone string, fn func(*models.SecurityProfile) error) error
}

func (m *MockSecurityProfileStore) FindByPhone(ctx context.Context, phone string) (*models.SecurityProfile, error) {
	if m.FindByPhoneFunc != nil {
		return m.FindByPhoneFunc(ctx, phone)
	}
	return nil, models.ErrNotFound
}

func (m *MockSecurityProfileStore) Update(ctx context.Context, phone string, fn func(*models.SecurityProfile) error) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, phone, fn)
	}
	return models.ErrNotFound
}

// InMemoryProfileStore implements SecurityProfileStore and ProfileCreator.
// Profiles are copied on the way in and out so callers never share state.
type InMemoryProfileStore struct {
	mu       sync.Mutex
	profiles map[string]*models.SecurityProfile
}

func NewInMemoryProfileStore(profiles ...*models.SecurityProfile) *InMemoryProfileStore {
	s := &InMemoryProfileStore{profiles: make(map[string]*models.SecurityProfile)}
	for _, p := range profiles {
		s.profiles[p.Phone] = cloneProfile(p)
	}
	return s
}

func (s *InMemoryProfileStore) Create(ctx context.Context, profile *models.SecurityProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[profile.Phone]; ok {
		return models.ErrConflict
	}
	s.profiles[profile.Phone] = cloneProfile(profile)
	return nil
}

func (s *InMemoryProfileStore) FindByPhone(ctx context.Context, phone string) (*models.SecurityProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[phone]
	if !ok {
		return nil, models.ErrNotFound
	}
	return cloneProfile(p), nil
}

func (s *InMemoryProfileStore) Update(ctx context.Context, phone string, fn func(*models.SecurityProfile) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[phone]
	if !ok {
		return models.ErrNotFound
	}
	working := cloneProfile(p)
	if err := fn(working); err != nil {
		return err
	}
	working.Version++
	s.profiles[phone] = working
	return nil
}

func cloneProfile(p *models.SecurityProfile) *models.SecurityProfile {
	c := *p
	if p.LastLogin != nil {
		lastLogin := *p.LastLogin
		c.LastLogin = &lastLogin
	}
	c.TrustedDevices = append([]string(nil), p.TrustedDevices...)
	return &c
}

// RecordingPublisher implements SecurityEventPublisher and keeps every event.
type RecordingPublisher struct {
	Err error

	mu     sync.Mutex
	Events []models.SecurityEvent
}

func (p *RecordingPublisher) Publish(ctx context.Context, event models.SecurityEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Events = append(p.Events, event)
	return p.Err
}

func (p *RecordingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, 0, len(p.Events))
	for _, e := range p.Events {
		types = append(types, e.Type)
	}
	return types
}

// NewTestAccount creates an active account with the given password hash
func NewTestAccount(id, phone, passwordHash string) *models.Account {
	now := time.Now()
	return &models.Account{
		ID:           id,
		Phone:        phone,
		Name:         "Test Player",
		PasswordHash: passwordHash,
		Status:       models.AccountStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// NewTrustedProfile creates a profile that passes every rule for device
func NewTrustedProfile(phone, device string, lastLogin time.Time) *models.SecurityProfile {
	p := models.NewSecurityProfile(phone, lastLogin.Add(-90*24*time.Hour))
	p.SuccessfulLogins = 3
	p.TotalLogins = 3
	p.LastLogin = &lastLogin
	p.LastLoginDevice = device
	p.TrustedDevices = []string{device}
	p.SecurityLevel = models.SecurityLevelTrusted
	p.PhoneVerified = true
	return p
}

func NewPasswordDecision() models.LoginSecurityDecision {
	return models.LoginSecurityDecision{
		Method:    models.AuthMethodPassword,
		Reason:    models.ReasonUserChoice,
		CanBypass: true,
	}
}

func NewOTPDecision(reason models.DecisionReason) models.LoginSecurityDecision {
	return models.LoginSecurityDecision{
		Method:      models.AuthMethodOTP,
		Reason:      reason,
		OTPRequired: true,
	}
}

// NewTokenClaims builds claims that expire in 15 minutes
func NewTokenClaims(accountID, phone, tokenType string) *models.TokenClaims {
	now := time.Now()
	return &models.TokenClaims{
		Type:      tokenType,
		AccountID: accountID,
		Phone:     phone,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        fmt.Sprintf("jti_%s_%s_%d", accountID, tokenType, now.UnixNano()),
			ExpiresAt: jwt.NewNumericDate(now.Add(15 * time.Minute)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
}
