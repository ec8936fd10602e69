package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/el7lm/smartlogin/internal/database"
	"github.com/el7lm/smartlogin/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"
)

// ProfileRepository stores security profiles in Postgres. Updates lock the
// row for the duration of the read-modify-write.
type ProfileRepository struct {
	db *database.DB
}

func NewProfileRepository(db *database.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

const profileColumns = `phone, phone_verified, total_logins, successful_logins, last_login,
	last_login_device, last_login_ip, trusted_devices, login_attempts,
	security_level, requires_otp, otp_bypass_enabled, version, created_at, updated_at`

func scanProfileRow(scanner rowScanner) (*models.SecurityProfile, error) {
	var p models.SecurityProfile
	var attempts []byte

	err := scanner.Scan(
		&p.Phone, &p.PhoneVerified, &p.TotalLogins, &p.SuccessfulLogins, &p.LastLogin,
		&p.LastLoginDevice, &p.LastLoginIP, pq.Array(&p.TrustedDevices), &attempts,
		&p.SecurityLevel, &p.RequiresOTP, &p.OTPBypassEnabled, &p.Version,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if len(attempts) > 0 {
		if err := json.Unmarshal(attempts, &p.LoginAttempts); err != nil {
			return nil, fmt.Errorf("failed to decode login attempts for profile: %w", err)
		}
	}
	if p.TrustedDevices == nil {
		p.TrustedDevices = []string{}
	}
	if p.SecurityLevel == "" {
		p.SecurityLevel = models.SecurityLevelNew
	}

	return &p, nil
}

// Create inserts a new profile. A profile already stored for the phone
// yields models.ErrConflict.
func (r *ProfileRepository) Create(ctx context.Context, profile *models.SecurityProfile) error {
	attempts, err := json.Marshal(profile.LoginAttempts)
	if err != nil {
		return fmt.Errorf("failed to encode login attempts: %w", err)
	}

	query := `
		INSERT INTO security_profiles (` + profileColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 1, $13, $14)
	`

	_, err = r.db.Pool.Exec(ctx, query,
		profile.Phone, profile.PhoneVerified, profile.TotalLogins, profile.SuccessfulLogins, profile.LastLogin,
		profile.LastLoginDevice, profile.LastLoginIP, pq.Array(trustedDevices(profile)), attempts,
		securityLevel(profile), profile.RequiresOTP, profile.OTPBypassEnabled,
		profile.CreatedAt, profile.UpdatedAt,
	)
	if err != nil {
		return database.MapPostgresError(err)
	}

	profile.Version = 1
	return nil
}

func (r *ProfileRepository) FindByPhone(ctx context.Context, phone string) (*models.SecurityProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM security_profiles WHERE phone = $1`
	return scanProfileRow(r.db.Pool.QueryRow(ctx, query, phone))
}

// Update applies fn to the current profile inside a transaction that holds
// the row lock, so concurrent updates for the same phone serialise.
func (r *ProfileRepository) Update(ctx context.Context, phone string, fn func(*models.SecurityProfile) error) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		query := `SELECT ` + profileColumns + ` FROM security_profiles WHERE phone = $1 FOR UPDATE`

		profile, err := scanProfileRow(tx.QueryRow(ctx, query, phone))
		if err != nil {
			return err
		}

		if err := fn(profile); err != nil {
			return err
		}

		attempts, err := json.Marshal(profile.LoginAttempts)
		if err != nil {
			return fmt.Errorf("failed to encode login attempts: %w", err)
		}

		update := `
			UPDATE security_profiles SET
				phone_verified = $2, total_logins = $3, successful_logins = $4, last_login = $5,
				last_login_device = $6, last_login_ip = $7, trusted_devices = $8, login_attempts = $9,
				security_level = $10, requires_otp = $11, otp_bypass_enabled = $12,
				version = version + 1, updated_at = $13
			WHERE phone = $1 AND version = $14
		`

		result, err := tx.Exec(ctx, update,
			phone, profile.PhoneVerified, profile.TotalLogins, profile.SuccessfulLogins, profile.LastLogin,
			profile.LastLoginDevice, profile.LastLoginIP, pq.Array(trustedDevices(profile)), attempts,
			securityLevel(profile), profile.RequiresOTP, profile.OTPBypassEnabled,
			profile.UpdatedAt, profile.Version,
		)
		if err != nil {
			return database.MapPostgresError(err)
		}
		if result.RowsAffected() == 0 {
			return models.ErrVersionConflict
		}

		return nil
	})
}

func trustedDevices(p *models.SecurityProfile) []string {
	if p.TrustedDevices == nil {
		return []string{}
	}
	return p.TrustedDevices
}

func securityLevel(p *models.SecurityProfile) string {
	if p.SecurityLevel == "" {
		return string(models.SecurityLevelNew)
	}
	return string(p.SecurityLevel)
}
