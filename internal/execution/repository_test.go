package execution

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ═══════════════════════════════════════════════════════════════════════════
// Test helpers
// ═══════════════════════════════════════════════════════════════════════════

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schema := `
		CREATE TABLE executions (
			id                   TEXT PRIMARY KEY,
			preset_id            TEXT NOT NULL,
			account_id           TEXT,
			device_id            TEXT,
			loop_id              TEXT,
			status               TEXT NOT NULL DEFAULT 'pending',
			current_action_index INTEGER NOT NULL DEFAULT 0,
			total_actions        INTEGER NOT NULL DEFAULT 0,
			error_action_index   INTEGER,
			error_details        TEXT,
			retry_count          INTEGER NOT NULL DEFAULT 0,
			max_retries          INTEGER NOT NULL DEFAULT 0,
			started_at           TEXT,
			finished_at          TEXT,
			created_at           TEXT NOT NULL,
			updated_at           TEXT NOT NULL
		);`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("creating schema: %v", err)
	}
	return db
}

func testExecution(id string) *Execution {
	accountID := "a1"
	return &Execution{
		ID:           id,
		PresetID:     "p1",
		AccountID:    &accountID,
		Status:       StatusPending,
		TotalActions: 5,
		MaxRetries:   2,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// CRUD tests
// ═══════════════════════════════════════════════════════════════════════════

func TestCreateAndGet(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, testExecution("e1")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repo.GetByID(ctx, "e1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("Status = %q, want %q", got.Status, StatusPending)
	}
	if got.AccountID == nil || *got.AccountID != "a1" {
		t.Errorf("AccountID = %v, want a1", got.AccountID)
	}
	if got.DeviceID != nil {
		t.Errorf("DeviceID = %v, want nil", got.DeviceID)
	}
	if got.TotalActions != 5 {
		t.Errorf("TotalActions = %d, want 5", got.TotalActions)
	}
}

func TestGetByID_NotFound(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))

	_, err := repo.GetByID(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() error = %v, want ErrNotFound", err)
	}
}

func TestCreate_Duplicate(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, testExecution("e1")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.Create(ctx, testExecution("e1")); !errors.Is(err, ErrExists) {
		t.Errorf("Create() duplicate error = %v, want ErrExists", err)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Status transition tests
// ═══════════════════════════════════════════════════════════════════════════

func TestLifecycleHappyPath(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	if err := repo.Create(ctx, testExecution("e1")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.SetDevice(ctx, "e1", "d1"); err != nil {
		t.Fatalf("SetDevice() error = %v", err)
	}
	if err := repo.MarkRunning(ctx, "e1", now); err != nil {
		t.Fatalf("MarkRunning() error = %v", err)
	}
	if err := repo.UpdateProgress(ctx, "e1", 3); err != nil {
		t.Fatalf("UpdateProgress() error = %v", err)
	}
	if err := repo.MarkCompleted(ctx, "e1", now.Add(time.Minute), 5); err != nil {
		t.Fatalf("MarkCompleted() error = %v", err)
	}

	got, err := repo.GetByID(ctx, "e1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != StatusCompleted {
		t.Errorf("Status = %q, want %q", got.Status, StatusCompleted)
	}
	if got.DeviceID == nil || *got.DeviceID != "d1" {
		t.Errorf("DeviceID = %v, want d1", got.DeviceID)
	}
	if got.CurrentActionIndex != 5 {
		t.Errorf("CurrentActionIndex = %d, want 5", got.CurrentActionIndex)
	}
	if got.StartedAt == nil || got.FinishedAt == nil {
		t.Error("StartedAt/FinishedAt not recorded")
	}
}

func TestMarkRunning_OnlyFromPending(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	if err := repo.Create(ctx, testExecution("e1")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.MarkRunning(ctx, "e1", now); err != nil {
		t.Fatalf("MarkRunning() error = %v", err)
	}

	// Second attempt must fail: running is not pending.
	err := repo.MarkRunning(ctx, "e1", now)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("MarkRunning() twice error = %v, want ErrInvalidTransition", err)
	}

	if err := repo.MarkRunning(ctx, "missing", now); !errors.Is(err, ErrNotFound) {
		t.Errorf("MarkRunning() missing error = %v, want ErrNotFound", err)
	}
}

func TestTerminalIsImmutable(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	if err := repo.Create(ctx, testExecution("e1")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.MarkRunning(ctx, "e1", now); err != nil {
		t.Fatalf("MarkRunning() error = %v", err)
	}
	if err := repo.MarkCompleted(ctx, "e1", now, 5); err != nil {
		t.Fatalf("MarkCompleted() error = %v", err)
	}

	transitions := map[string]error{
		"MarkRunning":    repo.MarkRunning(ctx, "e1", now),
		"MarkCompleted":  repo.MarkCompleted(ctx, "e1", now, 5),
		"MarkFailed":     repo.MarkFailed(ctx, "e1", now, 0, nil),
		"MarkCancelled":  repo.MarkCancelled(ctx, "e1", now),
		"UpdateProgress": repo.UpdateProgress(ctx, "e1", 1),
		"SetDevice":      repo.SetDevice(ctx, "e1", "d2"),
	}
	for name, err := range transitions {
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("%s on completed execution error = %v, want ErrInvalidTransition", name, err)
		}
	}
}

func TestMarkFailed_RecordsErrorLocus(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	if err := repo.Create(ctx, testExecution("e1")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.MarkRunning(ctx, "e1", now); err != nil {
		t.Fatalf("MarkRunning() error = %v", err)
	}

	details := &ErrorDetails{
		ActionType:   "wait_for_element",
		ActionParams: map[string]any{"text": "Next", "timeout": float64(10)},
		ActionIndex:  2,
		ActionPath:   "[2][1]",
		Message:      "element not found after 10s",
	}
	if err := repo.MarkFailed(ctx, "e1", now, 2, details); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}

	got, err := repo.GetByID(ctx, "e1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != StatusFailed {
		t.Errorf("Status = %q, want %q", got.Status, StatusFailed)
	}
	if got.ErrorActionIndex == nil || *got.ErrorActionIndex != 2 {
		t.Errorf("ErrorActionIndex = %v, want 2", got.ErrorActionIndex)
	}
	if got.ErrorDetails == nil {
		t.Fatal("ErrorDetails not persisted")
	}
	if got.ErrorDetails.ActionPath != "[2][1]" {
		t.Errorf("ActionPath = %q, want %q", got.ErrorDetails.ActionPath, "[2][1]")
	}
	if got.ErrorDetails.ActionParams["timeout"] != float64(10) {
		t.Errorf("timeout param = %v, want 10", got.ErrorDetails.ActionParams["timeout"])
	}
}

func TestMarkCancelled_FromPending(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, testExecution("e1")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.MarkCancelled(ctx, "e1", time.Now().UTC()); err != nil {
		t.Fatalf("MarkCancelled() error = %v", err)
	}

	got, err := repo.GetByID(ctx, "e1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != StatusCancelled {
		t.Errorf("Status = %q, want %q", got.Status, StatusCancelled)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Retry tests
// ═══════════════════════════════════════════════════════════════════════════

func TestCreateRetry(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	src := testExecution("e1")
	loopID := "l1"
	src.LoopID = &loopID
	if err := repo.Create(ctx, src); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.SetDevice(ctx, "e1", "d1"); err != nil {
		t.Fatalf("SetDevice() error = %v", err)
	}
	if err := repo.MarkRunning(ctx, "e1", now); err != nil {
		t.Fatalf("MarkRunning() error = %v", err)
	}
	if err := repo.MarkFailed(ctx, "e1", now, 1, nil); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}

	retry, err := repo.CreateRetry(ctx, "e1")
	if err != nil {
		t.Fatalf("CreateRetry() error = %v", err)
	}
	if retry.ID == "" || retry.ID == "e1" {
		t.Errorf("retry ID = %q, want fresh id", retry.ID)
	}
	if retry.Status != StatusPending {
		t.Errorf("retry Status = %q, want %q", retry.Status, StatusPending)
	}
	if retry.RetryCount != 1 {
		t.Errorf("retry RetryCount = %d, want 1", retry.RetryCount)
	}
	if retry.DeviceID != nil {
		t.Errorf("retry DeviceID = %v, want nil (device assigned at run time)", retry.DeviceID)
	}
	if retry.LoopID == nil || *retry.LoopID != "l1" {
		t.Errorf("retry LoopID = %v, want l1", retry.LoopID)
	}

	// Source stays terminal and untouched.
	source, err := repo.GetByID(ctx, "e1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if source.Status != StatusFailed || source.RetryCount != 0 {
		t.Errorf("source mutated: status=%q retry_count=%d", source.Status, source.RetryCount)
	}
}

func TestCreateRetry_NotRetryable(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	tests := []struct {
		name  string
		setup func(id string)
	}{
		{
			name: "completed execution",
			setup: func(id string) {
				repo.Create(ctx, testExecution(id))
				repo.MarkRunning(ctx, id, now)
				repo.MarkCompleted(ctx, id, now, 5)
			},
		},
		{
			name: "retry budget exhausted",
			setup: func(id string) {
				e := testExecution(id)
				e.RetryCount = 2 // MaxRetries is 2
				repo.Create(ctx, e)
				repo.MarkRunning(ctx, id, now)
				repo.MarkFailed(ctx, id, now, 0, nil)
			},
		},
		{
			name: "still pending",
			setup: func(id string) {
				repo.Create(ctx, testExecution(id))
			},
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := "e" + string(rune('a'+i))
			tt.setup(id)

			_, err := repo.CreateRetry(ctx, id)
			if !errors.Is(err, ErrNotRetryable) {
				t.Errorf("CreateRetry() error = %v, want ErrNotRetryable", err)
			}
		})
	}
}

func TestListByStatus(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))
	ctx := context.Background()

	for _, id := range []string{"e1", "e2", "e3"} {
		if err := repo.Create(ctx, testExecution(id)); err != nil {
			t.Fatalf("Create(%s) error = %v", id, err)
		}
	}
	if err := repo.MarkRunning(ctx, "e2", time.Now().UTC()); err != nil {
		t.Fatalf("MarkRunning() error = %v", err)
	}

	pending, err := repo.ListByStatus(ctx, StatusPending, 0)
	if err != nil {
		t.Fatalf("ListByStatus() error = %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("len(pending) = %d, want 2", len(pending))
	}

	running, err := repo.ListByStatus(ctx, StatusRunning, 0)
	if err != nil {
		t.Fatalf("ListByStatus() error = %v", err)
	}
	if len(running) != 1 || running[0].ID != "e2" {
		t.Errorf("running = %v, want [e2]", running)
	}
}

func TestListByLoop(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))
	ctx := context.Background()

	loopID := "l1"
	for _, id := range []string{"e1", "e2"} {
		e := testExecution(id)
		e.LoopID = &loopID
		if err := repo.Create(ctx, e); err != nil {
			t.Fatalf("Create(%s) error = %v", id, err)
		}
	}
	if err := repo.Create(ctx, testExecution("e3")); err != nil {
		t.Fatalf("Create(e3) error = %v", err)
	}

	got, err := repo.ListByLoop(ctx, "l1", 0)
	if err != nil {
		t.Fatalf("ListByLoop() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("len(got) = %d, want 2", len(got))
	}
}
