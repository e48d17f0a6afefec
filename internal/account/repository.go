package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for account persistence.
// This abstraction allows different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// Account CRUD
	GetByID(ctx context.Context, id string) (*Account, error)
	List(ctx context.Context) ([]Account, error)
	ListEnabled(ctx context.Context) ([]Account, error)
	Create(ctx context.Context, acc *Account) error
	Update(ctx context.Context, acc *Account) error
	Delete(ctx context.Context, id string) error

	// Providers
	GetProvider(ctx context.Context, id string) (*Provider, error)
	ListProviders(ctx context.Context) ([]Provider, error)
	CreateProvider(ctx context.Context, p *Provider) error
}

// accountColumns is the SELECT column list for account queries.
const accountColumns = `id, name, provider_id, credits, secret, enabled,
			last_execution_at, created_at, updated_at`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByID retrieves an account by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	acc, err := scanAccountRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying account by id: %w", err)
	}
	return acc, nil
}

// List retrieves all accounts ordered by name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts ORDER BY name`
	return r.queryAccounts(ctx, query)
}

// ListEnabled retrieves all enabled accounts ordered by name.
func (r *SQLiteRepository) ListEnabled(ctx context.Context) ([]Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE enabled = 1 ORDER BY name`
	return r.queryAccounts(ctx, query)
}

// Create inserts a new account.
func (r *SQLiteRepository) Create(ctx context.Context, acc *Account) error {
	now := time.Now().UTC()
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = now
	}
	acc.UpdatedAt = now

	query := `
		INSERT INTO accounts (
			id, name, provider_id, credits, secret, enabled,
			last_execution_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		acc.ID,
		acc.Name,
		acc.ProviderID,
		acc.Credits,
		nullableString(acc.Secret),
		boolToInt(acc.Enabled),
		nullableTime(acc.LastExecutionAt),
		acc.CreatedAt.Format(time.RFC3339),
		acc.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrExists
		}
		return fmt.Errorf("inserting account: %w", err)
	}
	return nil
}

// Update modifies an existing account.
func (r *SQLiteRepository) Update(ctx context.Context, acc *Account) error {
	acc.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE accounts SET
			name = ?, provider_id = ?, credits = ?, secret = ?, enabled = ?,
			last_execution_at = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		acc.Name,
		acc.ProviderID,
		acc.Credits,
		nullableString(acc.Secret),
		boolToInt(acc.Enabled),
		nullableTime(acc.LastExecutionAt),
		acc.UpdatedAt.Format(time.RFC3339),
		acc.ID,
	)
	if err != nil {
		return fmt.Errorf("updating account: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes an account by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM accounts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting account: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetProvider retrieves a provider by ID.
func (r *SQLiteRepository) GetProvider(ctx context.Context, id string) (*Provider, error) {
	query := `SELECT id, name, default_secret, created_at, updated_at FROM providers WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	p, err := scanProviderRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, fmt.Errorf("querying provider: %w", err)
	}
	return p, nil
}

// ListProviders retrieves all providers ordered by name.
func (r *SQLiteRepository) ListProviders(ctx context.Context) ([]Provider, error) {
	query := `SELECT id, name, default_secret, created_at, updated_at FROM providers ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying providers: %w", err)
	}
	defer rows.Close()

	var providers []Provider
	for rows.Next() {
		p, scanErr := scanProviderRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning provider: %w", scanErr)
		}
		providers = append(providers, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating providers: %w", err)
	}
	return providers, nil
}

// CreateProvider inserts a new provider.
func (r *SQLiteRepository) CreateProvider(ctx context.Context, p *Provider) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	query := `
		INSERT INTO providers (id, name, default_secret, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		p.ID,
		p.Name,
		nullableString(p.DefaultSecret),
		p.CreatedAt.Format(time.RFC3339),
		p.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrExists
		}
		return fmt.Errorf("inserting provider: %w", err)
	}
	return nil
}

// queryAccounts executes a query and returns a slice of accounts.
func (r *SQLiteRepository) queryAccounts(ctx context.Context, query string, args ...any) ([]Account, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		acc, scanErr := scanAccountRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning account: %w", scanErr)
		}
		accounts = append(accounts, *acc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating accounts: %w", err)
	}
	return accounts, nil
}

// ─── Row Scanning Helpers ───────────────────────────────────────────────────

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccountRow(scanner rowScanner) (*Account, error) {
	var a Account
	var secret, lastExecutionAt sql.NullString
	var enabled int
	var createdAt, updatedAt string

	err := scanner.Scan(
		&a.ID,
		&a.Name,
		&a.ProviderID,
		&a.Credits,
		&secret,
		&enabled,
		&lastExecutionAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if secret.Valid {
		a.Secret = &secret.String
	}
	a.Enabled = enabled != 0

	if lastExecutionAt.Valid {
		if t, parseErr := time.Parse(time.RFC3339, lastExecutionAt.String); parseErr == nil {
			a.LastExecutionAt = &t
		}
	}
	if t, parseErr := time.Parse(time.RFC3339, createdAt); parseErr == nil {
		a.CreatedAt = t
	}
	if t, parseErr := time.Parse(time.RFC3339, updatedAt); parseErr == nil {
		a.UpdatedAt = t
	}

	return &a, nil
}

func scanProviderRow(scanner rowScanner) (*Provider, error) {
	var p Provider
	var defaultSecret sql.NullString
	var createdAt, updatedAt string

	err := scanner.Scan(
		&p.ID,
		&p.Name,
		&defaultSecret,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if defaultSecret.Valid {
		p.DefaultSecret = &defaultSecret.String
	}
	if t, parseErr := time.Parse(time.RFC3339, createdAt); parseErr == nil {
		p.CreatedAt = t
	}
	if t, parseErr := time.Parse(time.RFC3339, updatedAt); parseErr == nil {
		p.UpdatedAt = t
	}

	return &p, nil
}

// ─── SQL Helpers ────────────────────────────────────────────────────────────

func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
