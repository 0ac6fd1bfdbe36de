package state

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ShayCichocki/docweave/pkg/models"
)

// SaveRun inserts or replaces the run for (RequestID, Task).
func (db *DB) SaveRun(ctx context.Context, run models.TaskRun) error {
	_, err := db.Exec(ctx, `
		INSERT INTO task_runs (request_id, task, state, attempts, started_at, ended_at, result_ref, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (request_id, task) DO UPDATE SET
			state = excluded.state,
			attempts = excluded.attempts,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at,
			result_ref = excluded.result_ref,
			error = excluded.error
	`, run.RequestID, run.Task, string(run.State), run.Attempts,
		nullableTime(run.StartedAt), nullableTime(run.EndedAt), run.ResultRef, run.Error)
	if err != nil {
		return fmt.Errorf("save run %s: %w", models.ResultKey(run.RequestID, run.Task), err)
	}
	return nil
}

// ListRuns returns the runs of a request ordered by task name.
func (db *DB) ListRuns(ctx context.Context, requestID string) ([]models.TaskRun, error) {
	rows, err := db.Query(ctx, `
		SELECT request_id, task, state, attempts, started_at, ended_at, result_ref, error
		FROM task_runs WHERE request_id = ? ORDER BY task
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []models.TaskRun
	for rows.Next() {
		var r models.TaskRun
		var startedAt, endedAt sql.NullString
		if err := rows.Scan(&r.RequestID, &r.Task, &r.State, &r.Attempts, &startedAt, &endedAt, &r.ResultRef, &r.Error); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt = parseNullableTime(startedAt)
		r.EndedAt = parseNullableTime(endedAt)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
