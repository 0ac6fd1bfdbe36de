package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ShayCichocki/docweave/pkg/models"
)

// CreateRequest inserts a new request record.
func (db *DB) CreateRequest(ctx context.Context, r *models.Request) error {
	params, err := json.Marshal(r.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	_, err = db.Exec(ctx, `
		INSERT INTO requests (id, type, params, state, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Type, string(params), string(r.State), r.Error, formatTime(r.CreatedAt), formatTime(r.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return nil
}

// GetRequest retrieves a request by ID, or ErrNotFound.
func (db *DB) GetRequest(ctx context.Context, id string) (*models.Request, error) {
	row := db.QueryRow(ctx, `
		SELECT id, type, params, state, error, created_at, updated_at
		FROM requests WHERE id = ?
	`, id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	return r, nil
}

// UpdateRequestState sets the state and error message of a request.
func (db *DB) UpdateRequestState(ctx context.Context, id string, state models.RequestState, errMsg string) error {
	res, err := db.Exec(ctx, `
		UPDATE requests SET state = ?, error = ?, updated_at = ? WHERE id = ?
	`, string(state), errMsg, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRequests lists requests, newest first.
func (db *DB) ListRequests(ctx context.Context, filter RequestFilter) ([]models.Request, error) {
	query := `SELECT id, type, params, state, error, created_at, updated_at FROM requests`
	var where []string
	var args []any
	if len(filter.States) > 0 {
		marks := make([]string, len(filter.States))
		for i, s := range filter.States {
			marks[i] = "?"
			args = append(args, string(s))
		}
		where = append(where, "state IN ("+strings.Join(marks, ",")+")")
	}
	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, filter.Type)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	var requests []models.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		requests = append(requests, *r)
	}
	return requests, rows.Err()
}

// DeleteRequest removes a request, its runs and its results.
func (db *DB) DeleteRequest(ctx context.Context, id string) error {
	return db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM results WHERE request_id = ?`, id); err != nil {
			return fmt.Errorf("delete results: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM task_runs WHERE request_id = ?`, id); err != nil {
			return fmt.Errorf("delete runs: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM requests WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete request: %w", err)
		}
		return nil
	})
}

// PurgeRequests deletes terminal requests last updated before cutoff.
// Returns the number of requests deleted.
func (db *DB) PurgeRequests(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	err := db.Transaction(ctx, func(tx *sql.Tx) error {
		const stale = `SELECT id FROM requests WHERE state IN ('succeeded','failed','cancelled') AND updated_at < ?`
		c := formatTime(cutoff)
		if _, err := tx.ExecContext(ctx, `DELETE FROM results WHERE request_id IN (`+stale+`)`, c); err != nil {
			return fmt.Errorf("purge results: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM task_runs WHERE request_id IN (`+stale+`)`, c); err != nil {
			return fmt.Errorf("purge runs: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM requests WHERE id IN (`+stale+`)`, c)
		if err != nil {
			return fmt.Errorf("purge requests: %w", err)
		}
		count, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		return nil
	})
	return count, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*models.Request, error) {
	var r models.Request
	var params, createdAt, updatedAt string
	if err := row.Scan(&r.ID, &r.Type, &params, &r.State, &r.Error, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(params), &r.Params); err != nil {
		return nil, fmt.Errorf("unmarshal params: %w", err)
	}
	r.CreatedAt, _ = parseTime(createdAt)
	r.UpdatedAt, _ = parseTime(updatedAt)
	return &r, nil
}
