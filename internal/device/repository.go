package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for device persistence.
// This abstraction allows different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// Device CRUD
	GetByID(ctx context.Context, id string) (*Device, error)
	GetBySerial(ctx context.Context, serial string) (*Device, error)
	List(ctx context.Context) ([]Device, error)
	ListByAgent(ctx context.Context, agentID string) ([]Device, error)
	Create(ctx context.Context, d *Device) error
	Update(ctx context.Context, d *Device) error
	Delete(ctx context.Context, id string) error

	// Leasing
	ListAvailable(ctx context.Context) ([]Device, error)
	Lease(ctx context.Context, id string, at time.Time) error
	Release(ctx context.Context, id string) error
	SetStatus(ctx context.Context, id string, status Status) error

	// Agents
	GetAgent(ctx context.Context, id string) (*Agent, error)
	UpsertAgent(ctx context.Context, a *Agent) error
}

// deviceColumns is the SELECT column list for device queries.
const deviceColumns = `id, name, serial, address, status, enabled,
			last_used_at, agent_id, created_at, updated_at`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByID retrieves a device by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	d, err := scanDeviceRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return d, nil
}

// GetBySerial retrieves a device by its serial.
func (r *SQLiteRepository) GetBySerial(ctx context.Context, serial string) (*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE serial = ?`

	row := r.db.QueryRowContext(ctx, query, serial)
	d, err := scanDeviceRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying device by serial: %w", err)
	}
	return d, nil
}

// List retrieves all devices ordered by name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices ORDER BY name`
	return r.queryDevices(ctx, query)
}

// ListByAgent retrieves all devices reported by a specific agent.
func (r *SQLiteRepository) ListByAgent(ctx context.Context, agentID string) ([]Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE agent_id = ? ORDER BY name`
	return r.queryDevices(ctx, query, agentID)
}

// ListAvailable retrieves devices that can be leased, least recently used
// first. Devices never used (NULL last_used_at) sort before all others.
func (r *SQLiteRepository) ListAvailable(ctx context.Context) ([]Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices
		WHERE status = 'online' AND enabled = 1
		ORDER BY last_used_at IS NOT NULL, last_used_at ASC`
	return r.queryDevices(ctx, query)
}

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, d *Device) error {
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	if d.Status == "" {
		d.Status = StatusOffline
	}

	query := `
		INSERT INTO devices (
			id, name, serial, address, status, enabled,
			last_used_at, agent_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		d.ID,
		d.Name,
		d.Serial,
		d.Address,
		string(d.Status),
		boolToInt(d.Enabled),
		nullableTime(d.LastUsedAt),
		nullableString(d.AgentID),
		d.CreatedAt.Format(time.RFC3339),
		d.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// Update modifies an existing device.
func (r *SQLiteRepository) Update(ctx context.Context, d *Device) error {
	d.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE devices SET
			name = ?, serial = ?, address = ?, status = ?, enabled = ?,
			last_used_at = ?, agent_id = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		d.Name,
		d.Serial,
		d.Address,
		string(d.Status),
		boolToInt(d.Enabled),
		nullableTime(d.LastUsedAt),
		nullableString(d.AgentID),
		d.UpdatedAt.Format(time.RFC3339),
		d.ID,
	)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
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

// Delete removes a device by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
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

// Lease marks a device busy and stamps last_used_at, but only if the
// device is still online and enabled. The conditional UPDATE plus the
// RowsAffected check makes the transition atomic: a device can move
// online -> busy exactly once however many callers race on it.
func (r *SQLiteRepository) Lease(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE devices SET
			status = 'busy', last_used_at = ?, updated_at = ?
		WHERE id = ? AND status = 'online' AND enabled = 1`

	stamp := at.UTC().Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx, query, stamp, stamp, id)
	if err != nil {
		return fmt.Errorf("leasing device: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotLeasable
	}
	return nil
}

// Release returns a leased device to the pool. Devices in busy or error
// state go back to online; any other state is left untouched so an agent
// heartbeat that marked the device offline mid-execution wins.
func (r *SQLiteRepository) Release(ctx context.Context, id string) error {
	query := `
		UPDATE devices SET status = 'online', updated_at = ?
		WHERE id = ? AND status IN ('busy', 'error')`

	_, err := r.db.ExecContext(ctx, query, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("releasing device: %w", err)
	}
	return nil
}

// SetStatus updates a device's status unconditionally.
func (r *SQLiteRepository) SetStatus(ctx context.Context, id string, status Status) error {
	query := `UPDATE devices SET status = ?, updated_at = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		string(status),
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("setting device status: %w", err)
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

// GetAgent retrieves an agent by ID.
func (r *SQLiteRepository) GetAgent(ctx context.Context, id string) (*Agent, error) {
	query := `SELECT id, name, last_seen_at, registered_at FROM agents WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)

	var a Agent
	var lastSeenAt sql.NullString
	var registeredAt string
	err := row.Scan(&a.ID, &a.Name, &lastSeenAt, &registeredAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAgentNotFound
		}
		return nil, fmt.Errorf("querying agent: %w", err)
	}

	if lastSeenAt.Valid {
		if t, parseErr := time.Parse(time.RFC3339, lastSeenAt.String); parseErr == nil {
			a.LastSeenAt = &t
		}
	}
	if t, parseErr := time.Parse(time.RFC3339, registeredAt); parseErr == nil {
		a.RegisteredAt = t
	}
	return &a, nil
}

// UpsertAgent inserts an agent or refreshes its name and last-seen time.
func (r *SQLiteRepository) UpsertAgent(ctx context.Context, a *Agent) error {
	if a.RegisteredAt.IsZero() {
		a.RegisteredAt = time.Now().UTC()
	}

	query := `
		INSERT INTO agents (id, name, last_seen_at, registered_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			last_seen_at = excluded.last_seen_at`

	_, err := r.db.ExecContext(ctx, query,
		a.ID,
		a.Name,
		nullableTime(a.LastSeenAt),
		a.RegisteredAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting agent: %w", err)
	}
	return nil
}

// queryDevices executes a query and returns a slice of devices.
func (r *SQLiteRepository) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, scanErr := scanDeviceRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning device: %w", scanErr)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// ─── Row Scanning Helpers ───────────────────────────────────────────────────

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeviceRow(scanner rowScanner) (*Device, error) {
	var d Device
	var status string
	var enabled int
	var lastUsedAt, agentID sql.NullString
	var createdAt, updatedAt string

	err := scanner.Scan(
		&d.ID,
		&d.Name,
		&d.Serial,
		&d.Address,
		&status,
		&enabled,
		&lastUsedAt,
		&agentID,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Status = Status(status)
	d.Enabled = enabled != 0

	if lastUsedAt.Valid {
		if t, parseErr := time.Parse(time.RFC3339, lastUsedAt.String); parseErr == nil {
			d.LastUsedAt = &t
		}
	}
	if agentID.Valid {
		d.AgentID = &agentID.String
	}
	if t, parseErr := time.Parse(time.RFC3339, createdAt); parseErr == nil {
		d.CreatedAt = t
	}
	if t, parseErr := time.Parse(time.RFC3339, updatedAt); parseErr == nil {
		d.UpdatedAt = t
	}

	return &d, nil
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
