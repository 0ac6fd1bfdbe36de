package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ShayCichocki/docweave/pkg/models"
)

// Put stores out under (requestID, task), replacing any previous value.
// A ttl of zero or less stores the value without expiry.
func (db *DB) Put(ctx context.Context, requestID, task string, out models.Output, ttl time.Duration) error {
	value, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	now := time.Now()
	_, err = db.Exec(ctx, `
		INSERT INTO results (request_id, task, value, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (request_id, task) DO UPDATE SET
			value = excluded.value,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at
	`, requestID, task, string(value), formatTime(now), nullableTime(expiry(now, ttl)))
	if err != nil {
		return fmt.Errorf("put result %s: %w", models.ResultKey(requestID, task), err)
	}
	return nil
}

// Get returns the live value for (requestID, task), or ErrNotFound if it is
// missing or expired.
func (db *DB) Get(ctx context.Context, requestID, task string) (models.Output, error) {
	var value string
	err := db.QueryRow(ctx, `
		SELECT value FROM results
		WHERE request_id = ? AND task = ? AND (expires_at IS NULL OR expires_at > ?)
	`, requestID, task, formatTime(time.Now())).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Output{}, ErrNotFound
	}
	if err != nil {
		return models.Output{}, fmt.Errorf("get result %s: %w", models.ResultKey(requestID, task), err)
	}

	var out models.Output
	if err := json.Unmarshal([]byte(value), &out); err != nil {
		return models.Output{}, fmt.Errorf("unmarshal result: %w", err)
	}
	return out, nil
}

// Exists reports whether a live value is stored for (requestID, task).
func (db *DB) Exists(ctx context.Context, requestID, task string) (bool, error) {
	var n int
	err := db.QueryRow(ctx, `
		SELECT COUNT(*) FROM results
		WHERE request_id = ? AND task = ? AND (expires_at IS NULL OR expires_at > ?)
	`, requestID, task, formatTime(time.Now())).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check result: %w", err)
	}
	return n > 0, nil
}

// PurgeExpired deletes results that expired at or before now.
func (db *DB) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := db.Exec(ctx, `
		DELETE FROM results WHERE expires_at IS NOT NULL AND expires_at <= ?
	`, formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("purge expired results: %w", err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return count, nil
}
