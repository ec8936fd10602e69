package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/el7lm/smartlogin/internal/database"
	"github.com/el7lm/smartlogin/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AccountRepository struct {
	pool *pgxpool.Pool
}

func NewAccountRepository(db *database.DB) *AccountRepository {
	return &AccountRepository{pool: db.Pool}
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const accountColumns = `id, phone, name, email, password_hash, status, created_at, updated_at`

func scanAccountRow(scanner rowScanner) (*models.Account, error) {
	var account models.Account

	err := scanner.Scan(
		&account.ID, &account.Phone, &account.Name, &account.Email,
		&account.PasswordHash, &account.Status,
		&account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &account, nil
}

func (r *AccountRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	account.ID = uuid.New().String()

	now := time.Now()
	account.CreatedAt = now
	account.UpdatedAt = now

	if account.Status == "" {
		account.Status = models.AccountStatusActive
	}

	query := `
		INSERT INTO accounts (id, phone, name, email, password_hash, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + accountColumns

	created, err := scanAccountRow(r.pool.QueryRow(ctx, query,
		account.ID, account.Phone, account.Name, account.Email,
		account.PasswordHash, account.Status,
		account.CreatedAt, account.UpdatedAt,
	))
	if err != nil {
		return nil, err
	}

	return created, nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, models.ErrNotFound
	}

	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccountRow(r.pool.QueryRow(ctx, query, id))
}

func (r *AccountRepository) GetByPhone(ctx context.Context, phone string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE phone = $1`
	return scanAccountRow(r.pool.QueryRow(ctx, query, phone))
}

func (r *AccountRepository) Delete(ctx context.Context, id string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", database.MapPostgresError(err))
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
