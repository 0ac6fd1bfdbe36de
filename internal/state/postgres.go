package state

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ShayCichocki/docweave/pkg/models"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

// dbtx is satisfied by both *sqlx.DB and *sqlx.Tx.
type dbtx interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// PostgresStore is the Postgres-backed Store.
type PostgresStore struct {
	db  dbtx
	dsn string
}

// NewPostgresStore connects to dsn, a postgres:// URL.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{db: db, dsn: dsn}, nil
}

// MigratePostgres applies the embedded migrations to dsn.
func MigratePostgres(dsn string) error {
	src, err := iofs.New(postgresMigrations, "migrations/postgres")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("initialize migrations: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Migrate applies pending migrations.
func (s *PostgresStore) Migrate() error {
	return MigratePostgres(s.dsn)
}

// Begin starts a transaction and returns a store bound to it.
func (s *PostgresStore) Begin(ctx context.Context) (*PostgresStore, error) {
	db, ok := s.db.(*sqlx.DB)
	if !ok {
		return nil, fmt.Errorf("cannot begin transaction: already in a transaction")
	}
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &PostgresStore{db: tx, dsn: s.dsn}, nil
}

// Commit commits a store returned by Begin.
func (s *PostgresStore) Commit() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Commit()
	}
	return fmt.Errorf("cannot commit: not a transaction")
}

// Rollback aborts a store returned by Begin.
func (s *PostgresStore) Rollback() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Rollback()
	}
	return fmt.Errorf("cannot rollback: not a transaction")
}

// Close closes the connection pool. It is a no-op on a transaction.
func (s *PostgresStore) Close() error {
	if db, ok := s.db.(*sqlx.DB); ok {
		return db.Close()
	}
	return nil
}

// inTx runs fn in a transaction, or directly when s already is one.
func (s *PostgresStore) inTx(ctx context.Context, fn func(tx *PostgresStore) error) error {
	if _, ok := s.db.(*sqlx.Tx); ok {
		return fn(s)
	}
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Put stores out under (requestID, task), replacing any previous value.
func (s *PostgresStore) Put(ctx context.Context, requestID, task string, out models.Output, ttl time.Duration) error {
	value, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO results (request_id, task, value, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (request_id, task) DO UPDATE SET
			value = EXCLUDED.value,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at`,
		requestID, task, string(value), now, expiry(now, ttl))
	if err != nil {
		return fmt.Errorf("put result %s: %w", models.ResultKey(requestID, task), err)
	}
	return nil
}

// Get returns the live value, or ErrNotFound.
func (s *PostgresStore) Get(ctx context.Context, requestID, task string) (models.Output, error) {
	var value []byte
	err := s.db.GetContext(ctx, &value, `
		SELECT value FROM results
		WHERE request_id = $1 AND task = $2 AND (expires_at IS NULL OR expires_at > now())`,
		requestID, task)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Output{}, ErrNotFound
	}
	if err != nil {
		return models.Output{}, fmt.Errorf("get result %s: %w", models.ResultKey(requestID, task), err)
	}
	var out models.Output
	if err := json.Unmarshal(value, &out); err != nil {
		return models.Output{}, fmt.Errorf("unmarshal result: %w", err)
	}
	return out, nil
}

// Exists reports whether a live value is stored.
func (s *PostgresStore) Exists(ctx context.Context, requestID, task string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM results
			WHERE request_id = $1 AND task = $2 AND (expires_at IS NULL OR expires_at > now())
		)`, requestID, task)
	if err != nil {
		return false, fmt.Errorf("check result: %w", err)
	}
	return exists, nil
}

// PurgeExpired deletes results that expired at or before now.
func (s *PostgresStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM results WHERE expires_at IS NOT NULL AND expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge expired results: %w", err)
	}
	return res.RowsAffected()
}

type pgRequestRow struct {
	ID        string    `db:"id"`
	Type      string    `db:"type"`
	Params    []byte    `db:"params"`
	State     string    `db:"state"`
	Error     string    `db:"error"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r pgRequestRow) toModel() (models.Request, error) {
	req := models.Request{
		ID:        r.ID,
		Type:      r.Type,
		State:     models.RequestState(r.State),
		Error:     r.Error,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if err := json.Unmarshal(r.Params, &req.Params); err != nil {
		return models.Request{}, fmt.Errorf("unmarshal params: %w", err)
	}
	return req, nil
}

// CreateRequest inserts a new request record.
func (s *PostgresStore) CreateRequest(ctx context.Context, r *models.Request) error {
	params, err := json.Marshal(r.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO requests (id, type, params, state, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.Type, string(params), string(r.State), r.Error, r.CreatedAt.UTC(), r.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return nil
}

// GetRequest retrieves a request by ID, or ErrNotFound.
func (s *PostgresStore) GetRequest(ctx context.Context, id string) (*models.Request, error) {
	var row pgRequestRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, type, params, state, error, created_at, updated_at FROM requests WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	req, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// UpdateRequestState sets the state and error message of a request.
func (s *PostgresStore) UpdateRequestState(ctx context.Context, id string, state models.RequestState, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE requests SET state = $1, error = $2, updated_at = CURRENT_TIMESTAMP WHERE id = $3`,
		string(state), errMsg, id)
	if err != nil {
		return fmt.Errorf("update request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRequests lists requests, newest first.
func (s *PostgresStore) ListRequests(ctx context.Context, filter RequestFilter) ([]models.Request, error) {
	states := make([]string, len(filter.States))
	for i, st := range filter.States {
		states[i] = string(st)
	}
	query := `
		SELECT id, type, params, state, error, created_at, updated_at FROM requests
		WHERE (cardinality($1::text[]) = 0 OR state = ANY($1::text[]))
		  AND ($2::text = '' OR type = $2::text)
		ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	var rows []pgRequestRow
	err := s.db.SelectContext(ctx, &rows, query, pq.Array(states), filter.Type)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}

	out := make([]models.Request, 0, len(rows))
	for _, row := range rows {
		req, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}

// DeleteRequest removes a request with its runs and results.
func (s *PostgresStore) DeleteRequest(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *PostgresStore) error {
		if _, err := tx.db.ExecContext(ctx, `DELETE FROM results WHERE request_id = $1`, id); err != nil {
			return fmt.Errorf("delete results: %w", err)
		}
		if _, err := tx.db.ExecContext(ctx, `DELETE FROM requests WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete request: %w", err)
		}
		return nil
	})
}

// PurgeRequests deletes terminal requests last updated before cutoff.
func (s *PostgresStore) PurgeRequests(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	err := s.inTx(ctx, func(tx *PostgresStore) error {
		var ids []string
		if err := tx.db.SelectContext(ctx, &ids, `
			SELECT id FROM requests
			WHERE state IN ('succeeded','failed','cancelled') AND updated_at < $1`, cutoff.UTC()); err != nil {
			return fmt.Errorf("find stale requests: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}
		if _, err := tx.db.ExecContext(ctx, `DELETE FROM results WHERE request_id = ANY($1)`, pq.Array(ids)); err != nil {
			return fmt.Errorf("purge results: %w", err)
		}
		res, err := tx.db.ExecContext(ctx, `DELETE FROM requests WHERE id = ANY($1)`, pq.Array(ids))
		if err != nil {
			return fmt.Errorf("purge requests: %w", err)
		}
		count, err = res.RowsAffected()
		return err
	})
	return count, err
}

// SaveRun inserts or replaces a run.
func (s *PostgresStore) SaveRun(ctx context.Context, run models.TaskRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_runs (request_id, task, state, attempts, started_at, ended_at, result_ref, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (request_id, task) DO UPDATE SET
			state = EXCLUDED.state,
			attempts = EXCLUDED.attempts,
			started_at = EXCLUDED.started_at,
			ended_at = EXCLUDED.ended_at,
			result_ref = EXCLUDED.result_ref,
			error = EXCLUDED.error`,
		run.RequestID, run.Task, string(run.State), run.Attempts, run.StartedAt, run.EndedAt, run.ResultRef, run.Error)
	if err != nil {
		return fmt.Errorf("save run %s: %w", models.ResultKey(run.RequestID, run.Task), err)
	}
	return nil
}

// ListRuns returns the runs of a request ordered by task name.
func (s *PostgresStore) ListRuns(ctx context.Context, requestID string) ([]models.TaskRun, error) {
	var runs []models.TaskRun
	err := s.db.SelectContext(ctx, &runs, `
		SELECT request_id, task, state, attempts, started_at, ended_at, result_ref, error
		FROM task_runs WHERE request_id = $1 ORDER BY task`, requestID)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}
