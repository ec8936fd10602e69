package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/el7lm/smartlogin/internal/config"
	"github.com/el7lm/smartlogin/internal/models"
	pkglogger "github.com/el7lm/smartlogin/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPhone  = "+201001234567"
	testDevice = "deviceA"
	testIP     = "198.51.100.7"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newTestLoginSecurityService(store SecurityProfileStore, publisher SecurityEventPublisher) *LoginSecurityService {
	logger := slog.Default()
	svc := NewLoginSecurityService(store, DefaultSecurityPolicy(), publisher, pkglogger.NewAuditLogger(logger), logger)
	svc.now = func() time.Time { return testNow }
	return svc
}

func failures(n int, since time.Duration) []models.LoginAttempt {
	attempts := make([]models.LoginAttempt, 0, n)
	for i := 0; i < n; i++ {
		attempts = append(attempts, models.LoginAttempt{
			Timestamp:  testNow.Add(-since + time.Duration(i)*time.Minute),
			Success:    false,
			DeviceInfo: "deviceB",
			Location:   models.UnknownLocation,
		})
	}
	return attempts
}

// ============================================================================
// Decide
// ============================================================================

func TestLoginSecurityService_Decide_NoProfile(t *testing.T) {
	svc := newTestLoginSecurityService(NewInMemoryProfileStore(), nil)

	decision := svc.Decide(context.Background(), testPhone, testDevice, testIP)

	assert.Equal(t, models.AuthMethodOTP, decision.Method)
	assert.Equal(t, models.ReasonNewUser, decision.Reason)
	assert.True(t, decision.OTPRequired)
	assert.False(t, decision.CanBypass)
	assert.NotEmpty(t, decision.Message)
}

func TestLoginSecurityService_Decide_NilProfileTreatedAsMissing(t *testing.T) {
	store := &MockSecurityProfileStore{
		FindByPhoneFunc: func(ctx context.Context, phone string) (*models.SecurityProfile, error) {
			return nil, nil
		},
	}
	svc := newTestLoginSecurityService(store, nil)

	decision := svc.Decide(context.Background(), testPhone, testDevice, testIP)

	assert.Equal(t, models.ReasonNewUser, decision.Reason)
	assert.True(t, decision.OTPRequired)
}

func TestLoginSecurityService_Decide_StoreFailureFailsSafe(t *testing.T) {
	store := &MockSecurityProfileStore{
		FindByPhoneFunc: func(ctx context.Context, phone string) (*models.SecurityProfile, error) {
			return nil, errors.New("connection refused")
		},
	}
	svc := newTestLoginSecurityService(store, nil)

	decision := svc.Decide(context.Background(), testPhone, testDevice, testIP)

	assert.Equal(t, models.AuthMethodOTP, decision.Method)
	assert.Equal(t, models.ReasonNewUser, decision.Reason)
	assert.True(t, decision.OTPRequired)
	assert.False(t, decision.CanBypass)
}

func TestLoginSecurityService_Decide_ProgressMessage(t *testing.T) {
	for successful := 0; successful < 3; successful++ {
		t.Run(fmt.Sprintf("successful_%d", successful), func(t *testing.T) {
			profile := NewTrustedProfile(testPhone, testDevice, testNow.Add(-time.Hour))
			profile.SuccessfulLogins = successful

			svc := newTestLoginSecurityService(NewInMemoryProfileStore(profile), nil)
			decision := svc.Decide(context.Background(), testPhone, testDevice, testIP)

			assert.Equal(t, models.AuthMethodOTP, decision.Method)
			assert.Equal(t, models.ReasonNewUser, decision.Reason)
			assert.True(t, decision.OTPRequired)
			assert.Contains(t, decision.Message, fmt.Sprintf("%d من 3", successful+1))
		})
	}
}

func TestLoginSecurityService_Decide_ThirdVerificationScenario(t *testing.T) {
	profile := models.NewSecurityProfile(testPhone, testNow.Add(-48*time.Hour))
	profile.SuccessfulLogins = 2

	svc := newTestLoginSecurityService(NewInMemoryProfileStore(profile), nil)
	decision := svc.Decide(context.Background(), testPhone, testDevice, testIP)

	assert.Equal(t, models.AuthMethodOTP, decision.Method)
	assert.Equal(t, models.ReasonNewUser, decision.Reason)
	assert.Contains(t, decision.Message, "3 من 3")
}

func TestLoginSecurityService_Decide_NewDevice(t *testing.T) {
	// Logged in yesterday, but from another device.
	profile := NewTrustedProfile(testPhone, "deviceB", testNow.Add(-24*time.Hour))
	profile.SuccessfulLogins = 7

	svc := newTestLoginSecurityService(NewInMemoryProfileStore(profile), nil)
	decision := svc.Decide(context.Background(), testPhone, testDevice, testIP)

	assert.Equal(t, models.AuthMethodOTP, decision.Method)
	assert.Equal(t, models.ReasonNewDevice, decision.Reason)
	assert.False(t, decision.CanBypass)
}

func TestLoginSecurityService_Decide_LongAbsence(t *testing.T) {
	tests := []struct {
		name      string
		lastLogin *time.Time
		want      models.DecisionReason
	}{
		{"never logged in", nil, models.ReasonLongAbsence},
		{"just over thirty days", ptrTime(testNow.Add(-30*24*time.Hour - time.Second)), models.ReasonLongAbsence},
		{"exactly thirty days", ptrTime(testNow.Add(-30 * 24 * time.Hour)), models.ReasonUserChoice},
		{"twenty nine days", ptrTime(testNow.Add(-29 * 24 * time.Hour)), models.ReasonUserChoice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profile := NewTrustedProfile(testPhone, testDevice, testNow)
			profile.LastLogin = tt.lastLogin

			svc := newTestLoginSecurityService(NewInMemoryProfileStore(profile), nil)
			decision := svc.Decide(context.Background(), testPhone, testDevice, testIP)

			assert.Equal(t, tt.want, decision.Reason)
			assert.Equal(t, tt.want == models.ReasonLongAbsence, decision.OTPRequired)
		})
	}
}

func TestLoginSecurityService_Decide_SuspiciousActivity(t *testing.T) {
	profile := NewTrustedProfile(testPhone, testDevice, testNow.Add(-5*24*time.Hour))
	profile.SuccessfulLogins = 5
	profile.LoginAttempts = models.NewAttemptHistory(failures(4, 50*time.Minute))

	svc := newTestLoginSecurityService(NewInMemoryProfileStore(profile), nil)
	decision := svc.Decide(context.Background(), testPhone, testDevice, testIP)

	assert.Equal(t, models.AuthMethodOTP, decision.Method)
	assert.Equal(t, models.ReasonSuspiciousActivity, decision.Reason)
	assert.True(t, decision.OTPRequired)
	assert.False(t, decision.CanBypass)
}

func TestLoginSecurityService_Decide_FailureWindow(t *testing.T) {
	tests := []struct {
		name     string
		attempts []models.LoginAttempt
		want     models.DecisionReason
	}{
		{"two recent failures", failures(2, 10*time.Minute), models.ReasonUserChoice},
		{"three recent failures", failures(3, 10*time.Minute), models.ReasonSuspiciousActivity},
		{"failures older than an hour", failures(5, 3*time.Hour), models.ReasonUserChoice},
		{
			"recent successes do not count",
			[]models.LoginAttempt{
				{Timestamp: testNow.Add(-5 * time.Minute), Success: true},
				{Timestamp: testNow.Add(-4 * time.Minute), Success: true},
				{Timestamp: testNow.Add(-3 * time.Minute), Success: true},
			},
			models.ReasonUserChoice,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profile := NewTrustedProfile(testPhone, testDevice, testNow.Add(-time.Hour))
			profile.LoginAttempts = models.NewAttemptHistory(tt.attempts)

			svc := newTestLoginSecurityService(NewInMemoryProfileStore(profile), nil)
			decision := svc.Decide(context.Background(), testPhone, testDevice, testIP)

			assert.Equal(t, tt.want, decision.Reason)
		})
	}
}

func TestLoginSecurityService_Decide_PasswordAllowed(t *testing.T) {
	profile := NewTrustedProfile(testPhone, testDevice, testNow.Add(-2*24*time.Hour))
	profile.LoginAttempts = models.NewAttemptHistory(failures(2, 30*time.Minute))

	svc := newTestLoginSecurityService(NewInMemoryProfileStore(profile), nil)
	decision := svc.Decide(context.Background(), testPhone, testDevice, testIP)

	assert.Equal(t, models.AuthMethodPassword, decision.Method)
	assert.Equal(t, models.ReasonUserChoice, decision.Reason)
	assert.False(t, decision.OTPRequired)
	assert.True(t, decision.CanBypass)
}

func TestLoginSecurityService_Decide_RuleOrder(t *testing.T) {
	// Every rule matches; the earliest must win.
	profile := models.NewSecurityProfile(testPhone, testNow.Add(-90*24*time.Hour))
	profile.SuccessfulLogins = 1
	profile.LoginAttempts = models.NewAttemptHistory(failures(5, 20*time.Minute))

	svc := newTestLoginSecurityService(NewInMemoryProfileStore(profile), nil)
	assert.Equal(t, models.ReasonNewUser, svc.Decide(context.Background(), testPhone, testDevice, testIP).Reason)

	profile.SuccessfulLogins = 4
	svc = newTestLoginSecurityService(NewInMemoryProfileStore(profile), nil)
	assert.Equal(t, models.ReasonNewDevice, svc.Decide(context.Background(), testPhone, testDevice, testIP).Reason)

	profile.TrustedDevices = []string{testDevice}
	svc = newTestLoginSecurityService(NewInMemoryProfileStore(profile), nil)
	assert.Equal(t, models.ReasonLongAbsence, svc.Decide(context.Background(), testPhone, testDevice, testIP).Reason)

	profile.LastLogin = ptrTime(testNow.Add(-time.Hour))
	svc = newTestLoginSecurityService(NewInMemoryProfileStore(profile), nil)
	assert.Equal(t, models.ReasonSuspiciousActivity, svc.Decide(context.Background(), testPhone, testDevice, testIP).Reason)
}

func TestLoginSecurityService_Decide_OTPPreferenceOnlyTightens(t *testing.T) {
	t.Run("preference forces otp on the trusted path", func(t *testing.T) {
		profile := NewTrustedProfile(testPhone, testDevice, testNow.Add(-time.Hour))
		profile.RequiresOTP = true

		svc := newTestLoginSecurityService(NewInMemoryProfileStore(profile), nil)
		decision := svc.Decide(context.Background(), testPhone, testDevice, testIP)

		assert.Equal(t, models.AuthMethodOTP, decision.Method)
		assert.Equal(t, models.ReasonUserChoice, decision.Reason)
		assert.True(t, decision.OTPRequired)
		assert.False(t, decision.CanBypass)
	})

	t.Run("bypass flag cannot skip earlier rules", func(t *testing.T) {
		profile := NewTrustedProfile(testPhone, "deviceB", testNow.Add(-time.Hour))
		profile.OTPBypassEnabled = true

		svc := newTestLoginSecurityService(NewInMemoryProfileStore(profile), nil)
		decision := svc.Decide(context.Background(), testPhone, testDevice, testIP)

		assert.Equal(t, models.ReasonNewDevice, decision.Reason)
		assert.True(t, decision.OTPRequired)
	})
}

func TestLoginSecurityService_Decide_DoesNotMutate(t *testing.T) {
	profile := NewTrustedProfile(testPhone, testDevice, testNow.Add(-time.Hour))
	store := NewInMemoryProfileStore(profile)
	svc := newTestLoginSecurityService(store, nil)

	before, err := store.FindByPhone(context.Background(), testPhone)
	require.NoError(t, err)

	svc.Decide(context.Background(), testPhone, testDevice, testIP)
	svc.Decide(context.Background(), testPhone, "deviceZ", testIP)

	after, err := store.FindByPhone(context.Background(), testPhone)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestLoginSecurityService_Decide_PublishesEvent(t *testing.T) {
	publisher := &RecordingPublisher{}
	svc := newTestLoginSecurityService(NewInMemoryProfileStore(), publisher)

	svc.Decide(context.Background(), testPhone, testDevice, testIP)

	require.Len(t, publisher.Events, 1)
	event := publisher.Events[0]
	assert.Equal(t, models.EventLoginDecision, event.Type)
	assert.Equal(t, testPhone, event.Phone)
	assert.Equal(t, models.ReasonNewUser, event.Reason)
	assert.Equal(t, testNow, event.OccurredAt)
}

func TestLoginSecurityService_Decide_PublisherFailureIgnored(t *testing.T) {
	publisher := &RecordingPublisher{Err: errors.New("broker down")}
	profile := NewTrustedProfile(testPhone, testDevice, testNow.Add(-time.Hour))
	svc := newTestLoginSecurityService(NewInMemoryProfileStore(profile), publisher)

	decision := svc.Decide(context.Background(), testPhone, testDevice, testIP)

	assert.Equal(t, models.AuthMethodPassword, decision.Method)
}

// ============================================================================
// RecordAttempt
// ============================================================================

func TestLoginSecurityService_RecordAttempt_Success(t *testing.T) {
	profile := models.NewSecurityProfile(testPhone, testNow.Add(-time.Hour))
	store := NewInMemoryProfileStore(profile)
	svc := newTestLoginSecurityService(store, nil)

	svc.RecordAttempt(context.Background(), testPhone, true, testDevice, testIP)

	got, err := store.FindByPhone(context.Background(), testPhone)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TotalLogins)
	assert.Equal(t, 1, got.SuccessfulLogins)
	require.NotNil(t, got.LastLogin)
	assert.Equal(t, testNow, *got.LastLogin)
	assert.Equal(t, testDevice, got.LastLoginDevice)
	assert.Equal(t, testIP, got.LastLoginIP)
	assert.Empty(t, got.TrustedDevices)
	assert.Equal(t, models.SecurityLevelNew, got.SecurityLevel)

	attempts := got.LoginAttempts.Attempts()
	require.Len(t, attempts, 1)
	assert.Equal(t, models.LoginAttempt{
		Timestamp:  testNow,
		Success:    true,
		DeviceInfo: testDevice,
		IPAddress:  testIP,
		Location:   models.UnknownLocation,
	}, attempts[0])
}

func TestLoginSecurityService_RecordAttempt_FailureUpdatesOriginOnly(t *testing.T) {
	lastLogin := testNow.Add(-48 * time.Hour)
	profile := NewTrustedProfile(testPhone, testDevice, lastLogin)
	store := NewInMemoryProfileStore(profile)
	svc := newTestLoginSecurityService(store, nil)

	svc.RecordAttempt(context.Background(), testPhone, false, "deviceX", "203.0.113.9")

	got, err := store.FindByPhone(context.Background(), testPhone)
	require.NoError(t, err)
	assert.Equal(t, 4, got.TotalLogins)
	assert.Equal(t, 3, got.SuccessfulLogins)
	assert.Equal(t, lastLogin, *got.LastLogin)
	assert.Equal(t, "deviceX", got.LastLoginDevice)
	assert.Equal(t, "203.0.113.9", got.LastLoginIP)
	assert.NotContains(t, got.TrustedDevices, "deviceX")
}

func TestLoginSecurityService_RecordAttempt_ThirdSuccessTrustsDevice(t *testing.T) {
	profile := models.NewSecurityProfile(testPhone, testNow.Add(-time.Hour))
	profile.SuccessfulLogins = 2
	profile.TotalLogins = 2
	store := NewInMemoryProfileStore(profile)
	publisher := &RecordingPublisher{}
	svc := newTestLoginSecurityService(store, publisher)

	svc.RecordAttempt(context.Background(), testPhone, true, testDevice, testIP)

	got, err := store.FindByPhone(context.Background(), testPhone)
	require.NoError(t, err)
	assert.Equal(t, 3, got.SuccessfulLogins)
	assert.Equal(t, []string{testDevice}, got.TrustedDevices)
	assert.Equal(t, models.SecurityLevelTrusted, got.SecurityLevel)
	assert.Equal(t, []string{models.EventLoginAttempt, models.EventDeviceTrusted}, publisher.Types())

	svc.RecordAttempt(context.Background(), testPhone, true, testDevice, testIP)

	got, err = store.FindByPhone(context.Background(), testPhone)
	require.NoError(t, err)
	assert.Equal(t, 4, got.SuccessfulLogins)
	assert.Equal(t, []string{testDevice}, got.TrustedDevices)
	assert.Equal(t, []string{models.EventLoginAttempt, models.EventDeviceTrusted, models.EventLoginAttempt}, publisher.Types())
}

func TestLoginSecurityService_RecordAttempt_TrustsAdditionalDevice(t *testing.T) {
	profile := NewTrustedProfile(testPhone, testDevice, testNow.Add(-time.Hour))
	store := NewInMemoryProfileStore(profile)
	svc := newTestLoginSecurityService(store, nil)

	svc.RecordAttempt(context.Background(), testPhone, true, "deviceB", testIP)

	got, err := store.FindByPhone(context.Background(), testPhone)
	require.NoError(t, err)
	assert.Equal(t, []string{testDevice, "deviceB"}, got.TrustedDevices)
}

func TestLoginSecurityService_RecordAttempt_TenFailuresCapHistory(t *testing.T) {
	profile := NewTrustedProfile(testPhone, testDevice, testNow.Add(-time.Hour))
	profile.LoginAttempts = models.NewAttemptHistory([]models.LoginAttempt{
		{Timestamp: testNow.Add(-2 * time.Hour), Success: true, DeviceInfo: testDevice},
		{Timestamp: testNow.Add(-time.Hour), Success: true, DeviceInfo: testDevice},
	})
	store := NewInMemoryProfileStore(profile)
	svc := newTestLoginSecurityService(store, nil)

	for i := 0; i < 10; i++ {
		now := testNow.Add(time.Duration(i) * time.Second)
		svc.now = func() time.Time { return now }
		svc.RecordAttempt(context.Background(), testPhone, false, "deviceX", testIP)
	}

	got, err := store.FindByPhone(context.Background(), testPhone)
	require.NoError(t, err)
	assert.Equal(t, 13, got.TotalLogins)
	assert.Equal(t, 3, got.SuccessfulLogins)

	attempts := got.LoginAttempts.Attempts()
	require.Len(t, attempts, models.MaxLoginAttempts)
	for i, a := range attempts {
		assert.False(t, a.Success)
		assert.Equal(t, "deviceX", a.DeviceInfo)
		assert.Equal(t, testNow.Add(time.Duration(i)*time.Second), a.Timestamp)
	}
}

func TestLoginSecurityService_RecordAttempt_HistoryNeverExceedsCapacity(t *testing.T) {
	store := NewInMemoryProfileStore(models.NewSecurityProfile(testPhone, testNow))
	svc := newTestLoginSecurityService(store, nil)

	for i := 0; i < 25; i++ {
		svc.RecordAttempt(context.Background(), testPhone, i%3 == 0, testDevice, testIP)

		got, err := store.FindByPhone(context.Background(), testPhone)
		require.NoError(t, err)
		assert.LessOrEqual(t, got.LoginAttempts.Len(), models.MaxLoginAttempts)
	}
}

func TestLoginSecurityService_RecordAttempt_MissingProfileIsNoop(t *testing.T) {
	store := NewInMemoryProfileStore()
	publisher := &RecordingPublisher{}
	svc := newTestLoginSecurityService(store, publisher)

	svc.RecordAttempt(context.Background(), testPhone, true, testDevice, testIP)

	_, err := store.FindByPhone(context.Background(), testPhone)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Empty(t, publisher.Events)
}

func TestLoginSecurityService_RecordAttempt_StoreFailureSwallowed(t *testing.T) {
	store := &MockSecurityProfileStore{
		UpdateFunc: func(ctx context.Context, phone string, fn func(*models.SecurityProfile) error) error {
			return errors.New("write timeout")
		},
	}
	publisher := &RecordingPublisher{}
	svc := newTestLoginSecurityService(store, publisher)

	assert.NotPanics(t, func() {
		svc.RecordAttempt(context.Background(), testPhone, true, testDevice, testIP)
	})
	assert.Empty(t, publisher.Events)
}

func TestLoginSecurityService_RecordAttempt_ConcurrentUpdatesNotLost(t *testing.T) {
	store := NewInMemoryProfileStore(models.NewSecurityProfile(testPhone, testNow))
	svc := newTestLoginSecurityService(store, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(success bool) {
			defer wg.Done()
			svc.RecordAttempt(context.Background(), testPhone, success, testDevice, testIP)
		}(i%2 == 0)
	}
	wg.Wait()

	got, err := store.FindByPhone(context.Background(), testPhone)
	require.NoError(t, err)
	assert.Equal(t, 20, got.TotalLogins)
	assert.Equal(t, 10, got.SuccessfulLogins)
	assert.Equal(t, []string{testDevice}, got.TrustedDevices)
}

// ============================================================================
// SetOTPPreference / MarkPhoneVerified / Profile
// ============================================================================

func TestLoginSecurityService_SetOTPPreference(t *testing.T) {
	store := NewInMemoryProfileStore(NewTrustedProfile(testPhone, testDevice, testNow.Add(-time.Hour)))
	publisher := &RecordingPublisher{}
	svc := newTestLoginSecurityService(store, publisher)

	require.NoError(t, svc.SetOTPPreference(context.Background(), testPhone, true))

	got, err := store.FindByPhone(context.Background(), testPhone)
	require.NoError(t, err)
	assert.True(t, got.RequiresOTP)
	assert.False(t, got.OTPBypassEnabled)
	assert.Equal(t, []string{models.EventOTPPreferenceChange}, publisher.Types())

	require.NoError(t, svc.SetOTPPreference(context.Background(), testPhone, false))

	got, err = store.FindByPhone(context.Background(), testPhone)
	require.NoError(t, err)
	assert.False(t, got.RequiresOTP)
	assert.True(t, got.OTPBypassEnabled)
}

func TestLoginSecurityService_SetOTPPreference_MissingProfile(t *testing.T) {
	svc := newTestLoginSecurityService(NewInMemoryProfileStore(), nil)

	err := svc.SetOTPPreference(context.Background(), testPhone, true)

	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestLoginSecurityService_MarkPhoneVerified(t *testing.T) {
	store := NewInMemoryProfileStore(models.NewSecurityProfile(testPhone, testNow))
	svc := newTestLoginSecurityService(store, nil)

	svc.MarkPhoneVerified(context.Background(), testPhone)

	got, err := store.FindByPhone(context.Background(), testPhone)
	require.NoError(t, err)
	assert.True(t, got.PhoneVerified)
}

func TestLoginSecurityService_Profile(t *testing.T) {
	store := NewInMemoryProfileStore(NewTrustedProfile(testPhone, testDevice, testNow))
	svc := newTestLoginSecurityService(store, nil)

	profile, err := svc.Profile(context.Background(), testPhone)
	require.NoError(t, err)
	assert.Equal(t, testPhone, profile.Phone)

	_, err = svc.Profile(context.Background(), "+966500000000")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSecurityPolicyFromConfig(t *testing.T) {
	policy := SecurityPolicyFromConfig(config.LoginSecurityConfig{
		TrustThreshold:     5,
		LongAbsence:        14 * 24 * time.Hour,
		SuspiciousWindow:   30 * time.Minute,
		SuspiciousFailures: 2,
	})

	assert.Equal(t, 5, policy.TrustThreshold)
	assert.Equal(t, 14*24*time.Hour, policy.LongAbsence)
	assert.Equal(t, 30*time.Minute, policy.SuspiciousWindow)
	assert.Equal(t, 2, policy.SuspiciousFailures)
}

func ptrTime(t time.Time) *time.Time {
	return &t
}
