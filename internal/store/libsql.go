package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/flowkit/pkg/schema"
)

// LibSQLStore implements WorkflowRepository and ExecutionStore using libSQL
// (embedded SQLite fork). Records are stored as JSON documents in a single
// column per table, which keeps nested step sequences and full step history
// lossless without a relational mapping.
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate applies all pending schema migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return applyMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- WorkflowRepository ---

func (s *LibSQLStore) Save(ctx context.Context, wf *schema.Workflow) error {
	if wf == nil || wf.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "workflow must have an id")
	}
	def, err := json.Marshal(wf)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "marshal workflow").WithCause(err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, name, version, definition, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, version=excluded.version,
		 definition=excluded.definition, updated_at=excluded.updated_at`,
		wf.ID, wf.Name, wf.Version, string(def), time.Now().UTC(),
	)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "save workflow").WithCause(err)
	}
	return nil
}

func (s *LibSQLStore) Get(ctx context.Context, id string) (*schema.Workflow, error) {
	var defJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT definition FROM workflows WHERE id = ?`, id,
	).Scan(&defJSON)
	if err == sql.ErrNoRows {
		return nil, notFound("workflow", id)
	}
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "get workflow").WithCause(err)
	}
	wf := &schema.Workflow{}
	if err := json.Unmarshal([]byte(defJSON), wf); err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "unmarshal workflow").WithCause(err)
	}
	return wf, nil
}

func (s *LibSQLStore) List(ctx context.Context) ([]*schema.Workflow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT definition FROM workflows ORDER BY created_at`)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "list workflows").WithCause(err)
	}
	defer rows.Close()

	var out []*schema.Workflow
	for rows.Next() {
		var defJSON string
		if err := rows.Scan(&defJSON); err != nil {
			return nil, schema.NewError(schema.ErrCodeStore, "scan workflow").WithCause(err)
		}
		wf := &schema.Workflow{}
		if err := json.Unmarshal([]byte(defJSON), wf); err != nil {
			return nil, schema.NewError(schema.ErrCodeStore, "unmarshal workflow").WithCause(err)
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "delete workflow").WithCause(err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return notFound("workflow", id)
	}
	return nil
}

// --- ExecutionStore ---

type libsqlExecutions struct {
	s *LibSQLStore
}

// Executions returns the ExecutionStore view of this LibSQLStore.
func (s *LibSQLStore) Executions() ExecutionStore {
	return &libsqlExecutions{s: s}
}

func (l *libsqlExecutions) Save(ctx context.Context, exec *schema.WorkflowExecution) error {
	if exec == nil || exec.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "execution must have an id")
	}
	snapshot, err := json.Marshal(exec)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "marshal execution").WithCause(err)
	}
	var endTime any
	if exec.EndTime != nil {
		endTime = *exec.EndTime
	}
	_, err = l.s.db.ExecContext(ctx,
		`INSERT INTO executions (id, workflow_id, status, current_step, snapshot, start_time, end_time, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status=excluded.status, current_step=excluded.current_step,
		 snapshot=excluded.snapshot, end_time=excluded.end_time, updated_at=excluded.updated_at`,
		exec.ID, exec.WorkflowID, string(exec.Status), exec.CurrentStep,
		string(snapshot), exec.StartTime, endTime, time.Now().UTC(),
	)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "save execution").WithCause(err)
	}
	return nil
}

func (l *libsqlExecutions) Load(ctx context.Context, id string) (*schema.WorkflowExecution, error) {
	var snapshot string
	err := l.s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM executions WHERE id = ?`, id,
	).Scan(&snapshot)
	if err == sql.ErrNoRows {
		return nil, notFound("execution", id)
	}
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "load execution").WithCause(err)
	}
	exec := &schema.WorkflowExecution{}
	if err := json.Unmarshal([]byte(snapshot), exec); err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "unmarshal execution").WithCause(err)
	}
	return exec, nil
}

func (l *libsqlExecutions) List(ctx context.Context, filter ExecutionFilter) ([]*schema.WorkflowExecution, error) {
	query := `SELECT snapshot FROM executions`
	var conds []string
	var args []any
	if filter.WorkflowID != "" {
		conds = append(conds, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Status != nil {
		conds = append(conds, "status = ?")
		args = append(args, string(*filter.Status))
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY start_time"
	if filter.Limit > 0 || filter.Offset > 0 {
		// SQLite needs a LIMIT clause for OFFSET; -1 means unbounded.
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		query += fmt.Sprintf(" LIMIT %d", limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := l.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "list executions").WithCause(err)
	}
	defer rows.Close()

	var out []*schema.WorkflowExecution
	for rows.Next() {
		var snapshot string
		if err := rows.Scan(&snapshot); err != nil {
			return nil, schema.NewError(schema.ErrCodeStore, "scan execution").WithCause(err)
		}
		exec := &schema.WorkflowExecution{}
		if err := json.Unmarshal([]byte(snapshot), exec); err != nil {
			return nil, schema.NewError(schema.ErrCodeStore, "unmarshal execution").WithCause(err)
		}
		out = append(out, exec)
	}
	return out, rows.Err()
}

func (l *libsqlExecutions) Delete(ctx context.Context, id string) error {
	res, err := l.s.db.ExecContext(ctx, `DELETE FROM executions WHERE id = ?`, id)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "delete execution").WithCause(err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return notFound("execution", id)
	}
	return nil
}

var (
	_ WorkflowRepository = (*LibSQLStore)(nil)
	_ ExecutionStore     = (*libsqlExecutions)(nil)
)
