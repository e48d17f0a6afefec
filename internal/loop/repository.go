package loop

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for loop and history persistence.
// History entries are write-once: Create and list, never update.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Loop, error)
	List(ctx context.Context) ([]Loop, error)
	ListRunnable(ctx context.Context) ([]Loop, error)
	Create(ctx context.Context, l *Loop) error
	Update(ctx context.Context, l *Loop) error
	Delete(ctx context.Context, id string) error

	CreateHistory(ctx context.Context, h *HistoryEntry) error
	ListHistory(ctx context.Context, loopID string, limit int) ([]HistoryEntry, error)
	PruneHistory(ctx context.Context, before time.Time) (int64, error)
}

// loopColumns is the SELECT column list for loop queries.
const loopColumns = `id, name, strategy, mode, preset_id, shared_preset_ids,
	default_preset_ids, account_preset_ids, specific_account_ids,
	min_credits, max_credits, require_online_device, skip_already_ran_today,
	delay_between_executions, max_executions_per_day, executions_today, last_reset_date,
	current_preset_index, current_account_id, last_account_id, account_states,
	consecutive_failures, max_consecutive_failures, status, is_enabled,
	total_executions, last_execution_at, created_at, updated_at`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByID retrieves a loop by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Loop, error) {
	query := `SELECT ` + loopColumns + ` FROM loops WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	l, err := scanLoopRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying loop by id: %w", err)
	}
	return l, nil
}

// List retrieves all loops ordered by name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Loop, error) {
	return r.queryLoops(ctx, `SELECT `+loopColumns+` FROM loops ORDER BY name`)
}

// ListRunnable retrieves loops that can produce work: enabled and active.
func (r *SQLiteRepository) ListRunnable(ctx context.Context) ([]Loop, error) {
	query := `SELECT ` + loopColumns + ` FROM loops
		WHERE is_enabled = 1 AND status = 'active' ORDER BY name`
	return r.queryLoops(ctx, query)
}

func (r *SQLiteRepository) queryLoops(ctx context.Context, query string, args ...any) ([]Loop, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying loops: %w", err)
	}
	defer rows.Close()

	var loops []Loop
	for rows.Next() {
		l, scanErr := scanLoopRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning loop: %w", scanErr)
		}
		loops = append(loops, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating loops: %w", err)
	}
	return loops, nil
}

// Create inserts a new loop.
func (r *SQLiteRepository) Create(ctx context.Context, l *Loop) error {
	fields, err := marshalLoopFields(l)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	l.UpdatedAt = now
	if l.Status == "" {
		l.Status = StatusActive
	}

	query := `
		INSERT INTO loops (id, name, strategy, mode, preset_id, shared_preset_ids,
			default_preset_ids, account_preset_ids, specific_account_ids,
			min_credits, max_credits, require_online_device, skip_already_ran_today,
			delay_between_executions, max_executions_per_day, executions_today, last_reset_date,
			current_preset_index, current_account_id, last_account_id, account_states,
			consecutive_failures, max_consecutive_failures, status, is_enabled,
			total_executions, last_execution_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		l.ID,
		l.Name,
		string(l.Strategy),
		string(l.Mode),
		nullableString(l.PresetID),
		fields.sharedPresets,
		fields.defaultPresets,
		fields.accountPresets,
		fields.specificAccounts,
		nullableFloat(l.MinCredits),
		nullableFloat(l.MaxCredits),
		boolToInt(l.RequireOnlineDevice),
		boolToInt(l.SkipAlreadyRanToday),
		l.DelayBetweenExecutions,
		l.MaxExecutionsPerDay,
		l.ExecutionsToday,
		emptyAsNull(l.LastResetDate),
		l.CurrentPresetIndex,
		nullableString(l.CurrentAccountID),
		nullableString(l.LastAccountID),
		fields.accountStates,
		l.ConsecutiveFailures,
		l.MaxConsecutiveFailures,
		string(l.Status),
		boolToInt(l.IsEnabled),
		l.TotalExecutions,
		nullableTime(l.LastExecutionAt),
		l.CreatedAt.Format(time.RFC3339),
		l.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrExists
		}
		return fmt.Errorf("inserting loop: %w", err)
	}
	return nil
}

// Update modifies an existing loop, including its rotation state.
func (r *SQLiteRepository) Update(ctx context.Context, l *Loop) error {
	fields, err := marshalLoopFields(l)
	if err != nil {
		return err
	}

	l.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE loops SET
			name = ?, strategy = ?, mode = ?, preset_id = ?, shared_preset_ids = ?,
			default_preset_ids = ?, account_preset_ids = ?, specific_account_ids = ?,
			min_credits = ?, max_credits = ?, require_online_device = ?, skip_already_ran_today = ?,
			delay_between_executions = ?, max_executions_per_day = ?, executions_today = ?, last_reset_date = ?,
			current_preset_index = ?, current_account_id = ?, last_account_id = ?, account_states = ?,
			consecutive_failures = ?, max_consecutive_failures = ?, status = ?, is_enabled = ?,
			total_executions = ?, last_execution_at = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		l.Name,
		string(l.Strategy),
		string(l.Mode),
		nullableString(l.PresetID),
		fields.sharedPresets,
		fields.defaultPresets,
		fields.accountPresets,
		fields.specificAccounts,
		nullableFloat(l.MinCredits),
		nullableFloat(l.MaxCredits),
		boolToInt(l.RequireOnlineDevice),
		boolToInt(l.SkipAlreadyRanToday),
		l.DelayBetweenExecutions,
		l.MaxExecutionsPerDay,
		l.ExecutionsToday,
		emptyAsNull(l.LastResetDate),
		l.CurrentPresetIndex,
		nullableString(l.CurrentAccountID),
		nullableString(l.LastAccountID),
		fields.accountStates,
		l.ConsecutiveFailures,
		l.MaxConsecutiveFailures,
		string(l.Status),
		boolToInt(l.IsEnabled),
		l.TotalExecutions,
		nullableTime(l.LastExecutionAt),
		l.UpdatedAt.Format(time.RFC3339),
		l.ID,
	)
	if err != nil {
		return fmt.Errorf("updating loop: %w", err)
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

// Delete removes a loop by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM loops WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting loop: %w", err)
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

// ─── History ────────────────────────────────────────────────────────────────

// CreateHistory appends one audit record. Entries are never updated.
func (r *SQLiteRepository) CreateHistory(ctx context.Context, h *HistoryEntry) error {
	if h.ID == "" {
		h.ID = GenerateID()
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO loop_history (id, loop_id, account_id, preset_id, execution_id,
			outcome, selection_mode, credits_before, credits_after, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		h.ID,
		h.LoopID,
		emptyAsNull(h.AccountID),
		emptyAsNull(h.PresetID),
		emptyAsNull(h.ExecutionID),
		h.Outcome,
		h.SelectionMode,
		nullableFloat(h.CreditsBefore),
		nullableFloat(h.CreditsAfter),
		h.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting loop history: %w", err)
	}
	return nil
}

// PruneHistory deletes audit records older than the cutoff and returns
// how many were removed.
func (r *SQLiteRepository) PruneHistory(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM loop_history WHERE created_at < ?`,
		before.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("pruning loop history: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning loop history: %w", err)
	}
	return removed, nil
}

// ListHistory retrieves a loop's audit records, newest first.
// A non-positive limit returns all entries.
func (r *SQLiteRepository) ListHistory(ctx context.Context, loopID string, limit int) ([]HistoryEntry, error) {
	query := `
		SELECT id, loop_id, account_id, preset_id, execution_id,
			outcome, selection_mode, credits_before, credits_after, created_at
		FROM loop_history WHERE loop_id = ? ORDER BY created_at DESC`
	args := []any{loopID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying loop history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		var accountID, presetID, executionID sql.NullString
		var creditsBefore, creditsAfter sql.NullFloat64
		var createdAt string

		err := rows.Scan(
			&h.ID,
			&h.LoopID,
			&accountID,
			&presetID,
			&executionID,
			&h.Outcome,
			&h.SelectionMode,
			&creditsBefore,
			&creditsAfter,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning loop history: %w", err)
		}

		h.AccountID = accountID.String
		h.PresetID = presetID.String
		h.ExecutionID = executionID.String
		if creditsBefore.Valid {
			h.CreditsBefore = &creditsBefore.Float64
		}
		if creditsAfter.Valid {
			h.CreditsAfter = &creditsAfter.Float64
		}
		if t, parseErr := time.Parse(time.RFC3339, createdAt); parseErr == nil {
			h.CreatedAt = t
		}

		entries = append(entries, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating loop history: %w", err)
	}
	return entries, nil
}

// ─── Row Scanning Helpers ───────────────────────────────────────────────────

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanLoopRow(scanner rowScanner) (*Loop, error) {
	var l Loop
	var strategy, mode, status string
	var presetID, currentAccountID, lastAccountID, lastResetDate sql.NullString
	var sharedPresets, defaultPresets, accountPresets, specificAccounts, accountStates string
	var minCredits, maxCredits sql.NullFloat64
	var requireDevice, skipRanToday, isEnabled int
	var lastExecutionAt sql.NullString
	var createdAt, updatedAt string

	err := scanner.Scan(
		&l.ID,
		&l.Name,
		&strategy,
		&mode,
		&presetID,
		&sharedPresets,
		&defaultPresets,
		&accountPresets,
		&specificAccounts,
		&minCredits,
		&maxCredits,
		&requireDevice,
		&skipRanToday,
		&l.DelayBetweenExecutions,
		&l.MaxExecutionsPerDay,
		&l.ExecutionsToday,
		&lastResetDate,
		&l.CurrentPresetIndex,
		&currentAccountID,
		&lastAccountID,
		&accountStates,
		&l.ConsecutiveFailures,
		&l.MaxConsecutiveFailures,
		&status,
		&isEnabled,
		&l.TotalExecutions,
		&lastExecutionAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	l.Strategy = Strategy(strategy)
	l.Mode = Mode(mode)
	l.Status = Status(status)
	l.RequireOnlineDevice = requireDevice != 0
	l.SkipAlreadyRanToday = skipRanToday != 0
	l.IsEnabled = isEnabled != 0
	l.LastResetDate = lastResetDate.String

	if presetID.Valid {
		l.PresetID = &presetID.String
	}
	if currentAccountID.Valid {
		l.CurrentAccountID = &currentAccountID.String
	}
	if lastAccountID.Valid {
		l.LastAccountID = &lastAccountID.String
	}
	if minCredits.Valid {
		l.MinCredits = &minCredits.Float64
	}
	if maxCredits.Valid {
		l.MaxCredits = &maxCredits.Float64
	}

	if err := unmarshalJSONColumn(sharedPresets, &l.SharedPresetIDs); err != nil {
		return nil, fmt.Errorf("unmarshalling shared_preset_ids: %w", err)
	}
	if err := unmarshalJSONColumn(defaultPresets, &l.DefaultPresetIDs); err != nil {
		return nil, fmt.Errorf("unmarshalling default_preset_ids: %w", err)
	}
	if err := unmarshalJSONColumn(accountPresets, &l.AccountPresetIDs); err != nil {
		return nil, fmt.Errorf("unmarshalling account_preset_ids: %w", err)
	}
	if err := unmarshalJSONColumn(specificAccounts, &l.SpecificAccountIDs); err != nil {
		return nil, fmt.Errorf("unmarshalling specific_account_ids: %w", err)
	}
	if err := unmarshalJSONColumn(accountStates, &l.AccountStates); err != nil {
		return nil, fmt.Errorf("unmarshalling account_states: %w", err)
	}
	if l.AccountStates == nil {
		l.AccountStates = make(map[string]AccountState)
	}

	if lastExecutionAt.Valid {
		if t, parseErr := time.Parse(time.RFC3339, lastExecutionAt.String); parseErr == nil {
			l.LastExecutionAt = &t
		}
	}
	if t, parseErr := time.Parse(time.RFC3339, createdAt); parseErr == nil {
		l.CreatedAt = t
	}
	if t, parseErr := time.Parse(time.RFC3339, updatedAt); parseErr == nil {
		l.UpdatedAt = t
	}

	return &l, nil
}

func unmarshalJSONColumn(raw string, dest any) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dest)
}

// ─── SQL Helpers ────────────────────────────────────────────────────────────

type loopJSONFields struct {
	sharedPresets    string
	defaultPresets   string
	accountPresets   string
	specificAccounts string
	accountStates    string
}

func marshalLoopFields(l *Loop) (*loopJSONFields, error) {
	var fields loopJSONFields
	var err error

	if fields.sharedPresets, err = marshalJSONColumn(l.SharedPresetIDs, "[]"); err != nil {
		return nil, fmt.Errorf("marshalling shared_preset_ids: %w", err)
	}
	if fields.defaultPresets, err = marshalJSONColumn(l.DefaultPresetIDs, "[]"); err != nil {
		return nil, fmt.Errorf("marshalling default_preset_ids: %w", err)
	}
	if fields.accountPresets, err = marshalJSONColumn(l.AccountPresetIDs, "{}"); err != nil {
		return nil, fmt.Errorf("marshalling account_preset_ids: %w", err)
	}
	if fields.specificAccounts, err = marshalJSONColumn(l.SpecificAccountIDs, "[]"); err != nil {
		return nil, fmt.Errorf("marshalling specific_account_ids: %w", err)
	}
	if fields.accountStates, err = marshalJSONColumn(l.AccountStates, "{}"); err != nil {
		return nil, fmt.Errorf("marshalling account_states: %w", err)
	}
	return &fields, nil
}

func marshalJSONColumn(v any, empty string) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	s := string(raw)
	if s == "null" {
		return empty, nil
	}
	return s, nil
}

func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func emptyAsNull(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullableFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
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
