package config

import (
	"strings"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret-32-characters-long!")
	t.Setenv("DB_PASSWORD", "test")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	durations := []struct {
		name     string
		actual   time.Duration
		expected time.Duration
	}{
		{"ReadTimeout", cfg.Server.ReadTimeout, 15 * time.Second},
		{"WriteTimeout", cfg.Server.WriteTimeout, 15 * time.Second},
		{"IdleTimeout", cfg.Server.IdleTimeout, 60 * time.Second},
		{"LongAbsence", cfg.LoginSecurity.LongAbsence, 30 * 24 * time.Hour},
		{"SuspiciousWindow", cfg.LoginSecurity.SuspiciousWindow, 60 * time.Minute},
		{"OTPExpiry", cfg.OTP.Expiry, 5 * time.Minute},
	}
	for _, tt := range durations {
		if tt.actual != tt.expected {
			t.Errorf("%s: got %v, want %v", tt.name, tt.actual, tt.expected)
		}
	}

	if cfg.LoginSecurity.TrustThreshold != 3 {
		t.Errorf("TrustThreshold: got %d, want 3", cfg.LoginSecurity.TrustThreshold)
	}
	if cfg.LoginSecurity.SuspiciousFailures != 3 {
		t.Errorf("SuspiciousFailures: got %d, want 3", cfg.LoginSecurity.SuspiciousFailures)
	}
	if cfg.LoginSecurity.ProfileStore != ProfileStorePostgres {
		t.Errorf("ProfileStore: got %q, want %q", cfg.LoginSecurity.ProfileStore, ProfileStorePostgres)
	}
	if cfg.OTP.Sender != OTPSenderLog {
		t.Errorf("OTP.Sender: got %q, want %q", cfg.OTP.Sender, OTPSenderLog)
	}
	if cfg.Events.Enabled {
		t.Error("Events.Enabled: got true, want false")
	}
}

func TestLoad_CustomLoginSecurity(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PROFILE_STORE", "DynamoDB")
	t.Setenv("LOGIN_TRUST_THRESHOLD", "5")
	t.Setenv("LOGIN_LONG_ABSENCE", "168h")
	t.Setenv("LOGIN_SUSPICIOUS_WINDOW", "30m")
	t.Setenv("LOGIN_SUSPICIOUS_FAILURES", "4")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	ls := cfg.LoginSecurity
	if ls.ProfileStore != ProfileStoreDynamoDB {
		t.Errorf("ProfileStore: got %q", ls.ProfileStore)
	}
	if ls.TrustThreshold != 5 || ls.SuspiciousFailures != 4 {
		t.Errorf("thresholds: got %d/%d, want 5/4", ls.TrustThreshold, ls.SuspiciousFailures)
	}
	if ls.LongAbsence != 7*24*time.Hour || ls.SuspiciousWindow != 30*time.Minute {
		t.Errorf("windows: got %v/%v", ls.LongAbsence, ls.SuspiciousWindow)
	}
}

func TestLoad_InvalidDurationFallsBack(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SERVER_READ_TIMEOUT", "not-a-duration")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("ReadTimeout with invalid value: got %v, want %v", cfg.Server.ReadTimeout, 15*time.Second)
	}
}

func TestLoad_ZeroTimeoutHonored(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SERVER_READ_TIMEOUT", "0s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}
	if cfg.Server.ReadTimeout != 0 {
		t.Errorf("ReadTimeout with 0s: got %v, want 0", cfg.Server.ReadTimeout)
	}
}

func TestLoad_ListsAreTrimmed(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}
	if got := strings.Join(cfg.Events.Brokers, ","); got != "k1:9092,k2:9092" {
		t.Errorf("Brokers: got %q", got)
	}
	if len(cfg.Server.TrustedProxies) != 1 {
		t.Errorf("TrustedProxies: got %v", cfg.Server.TrustedProxies)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"missing jwt secret", map[string]string{"JWT_SECRET": "", "DB_PASSWORD": "x"}, "JWT_SECRET is required"},
		{"missing db password", map[string]string{"JWT_SECRET": "test-secret-32-characters-long!", "DB_PASSWORD": ""}, "DB_PASSWORD"},
		{"short secret in production", map[string]string{"JWT_SECRET": "only-twenty-chars!!", "DB_PASSWORD": "x", "ENV": "production"}, "at least 32"},
		{"unknown profile store", map[string]string{"PROFILE_STORE": "mongo"}, "PROFILE_STORE"},
		{"zero trust threshold", map[string]string{"LOGIN_TRUST_THRESHOLD": "0"}, "LOGIN_TRUST_THRESHOLD"},
		{"bad otp digits", map[string]string{"OTP_DIGITS": "4"}, "OTP_DIGITS"},
		{"unknown otp sender", map[string]string{"OTP_SENDER": "pigeon"}, "OTP_SENDER"},
		{"blank otp issuer", map[string]string{"OTP_ISSUER": "   "}, "OTP_ISSUER"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			if err == nil {
				t.Fatalf("Load() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}
