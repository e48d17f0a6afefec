package preset

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for preset persistence.
// This abstraction allows different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Preset, error)
	List(ctx context.Context) ([]Preset, error)
	Create(ctx context.Context, p *Preset) error
	Update(ctx context.Context, p *Preset) error
	Delete(ctx context.Context, id string) error
}

// presetColumns is the SELECT column list for preset queries.
const presetColumns = `id, name, app_package, actions, variables, created_at, updated_at`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByID retrieves a preset by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Preset, error) {
	query := `SELECT ` + presetColumns + ` FROM presets WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	p, err := scanPresetRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying preset by id: %w", err)
	}
	return p, nil
}

// List retrieves all presets ordered by name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Preset, error) {
	query := `SELECT ` + presetColumns + ` FROM presets ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying presets: %w", err)
	}
	defer rows.Close()

	var presets []Preset
	for rows.Next() {
		p, scanErr := scanPresetRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning preset: %w", scanErr)
		}
		presets = append(presets, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating presets: %w", err)
	}
	return presets, nil
}

// Create inserts a new preset.
func (r *SQLiteRepository) Create(ctx context.Context, p *Preset) error {
	actionsJSON, variablesJSON, err := marshalPresetFields(p)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	query := `
		INSERT INTO presets (id, name, app_package, actions, variables, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		p.ID,
		p.Name,
		p.AppPackage,
		actionsJSON,
		variablesJSON,
		p.CreatedAt.Format(time.RFC3339),
		p.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrExists
		}
		return fmt.Errorf("inserting preset: %w", err)
	}
	return nil
}

// Update modifies an existing preset.
func (r *SQLiteRepository) Update(ctx context.Context, p *Preset) error {
	actionsJSON, variablesJSON, err := marshalPresetFields(p)
	if err != nil {
		return err
	}

	p.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE presets SET
			name = ?, app_package = ?, actions = ?, variables = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		p.Name,
		p.AppPackage,
		actionsJSON,
		variablesJSON,
		p.UpdatedAt.Format(time.RFC3339),
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("updating preset: %w", err)
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

// Delete removes a preset by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM presets WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting preset: %w", err)
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

// ─── Row Scanning Helpers ───────────────────────────────────────────────────

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPresetRow(scanner rowScanner) (*Preset, error) {
	var p Preset
	var actionsJSON, variablesJSON string
	var createdAt, updatedAt string

	err := scanner.Scan(
		&p.ID,
		&p.Name,
		&p.AppPackage,
		&actionsJSON,
		&variablesJSON,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if actionsJSON != "" && actionsJSON != "[]" {
		if jsonErr := json.Unmarshal([]byte(actionsJSON), &p.Actions); jsonErr != nil {
			return nil, fmt.Errorf("unmarshalling actions: %w", jsonErr)
		}
	}
	if p.Actions == nil {
		p.Actions = []Action{}
	}

	if variablesJSON != "" && variablesJSON != "[]" {
		if jsonErr := json.Unmarshal([]byte(variablesJSON), &p.Variables); jsonErr != nil {
			return nil, fmt.Errorf("unmarshalling variables: %w", jsonErr)
		}
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

func marshalPresetFields(p *Preset) (actionsJSON, variablesJSON string, err error) {
	actions, err := json.Marshal(p.Actions)
	if err != nil {
		return "", "", fmt.Errorf("marshalling actions: %w", err)
	}
	variables, err := json.Marshal(p.Variables)
	if err != nil {
		return "", "", fmt.Errorf("marshalling variables: %w", err)
	}
	if p.Variables == nil {
		variables = []byte("[]")
	}
	return string(actions), string(variables), nil
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
