package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/docweave/pkg/models"
)

// runStoreContract exercises the behavior every Store backend must share.
func runStoreContract(t *testing.T, store Store) {
	ctx := context.Background()

	newRequest := func(t *testing.T, state models.RequestState) *models.Request {
		t.Helper()
		now := time.Now().UTC()
		r := &models.Request{
			ID:        uuid.New().String(),
			Type:      "report",
			Params:    models.Params{"topic": "tides"},
			State:     state,
			CreatedAt: now,
			UpdatedAt: now,
		}
		require.NoError(t, store.CreateRequest(ctx, r))
		return r
	}

	t.Run("GetMissing", func(t *testing.T) {
		_, err := store.Get(ctx, uuid.New().String(), "outline")
		assert.True(t, errors.Is(err, ErrNotFound))

		ok, err := store.Exists(ctx, uuid.New().String(), "outline")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("PutGet", func(t *testing.T) {
		id := uuid.New().String()
		passed := true
		out := models.Output{
			Kind:        models.OutputVerdict,
			Passed:      &passed,
			Annotations: []string{"fine"},
			Data:        map[string]string{"words": "120"},
			Sources:     []string{"body"},
		}
		require.NoError(t, store.Put(ctx, id, "review", out, time.Hour))

		got, err := store.Get(ctx, id, "review")
		require.NoError(t, err)
		assert.Equal(t, out, got)

		ok, err := store.Exists(ctx, id, "review")
		require.NoError(t, err)
		assert.True(t, ok)

		_, err = store.Get(ctx, id, "other")
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("PutIsIdempotentPerKey", func(t *testing.T) {
		id := uuid.New().String()
		require.NoError(t, store.Put(ctx, id, "body", models.Output{Kind: models.OutputContent, Content: "first"}, 0))
		require.NoError(t, store.Put(ctx, id, "body", models.Output{Kind: models.OutputContent, Content: "second"}, 0))

		got, err := store.Get(ctx, id, "body")
		require.NoError(t, err)
		assert.Equal(t, "second", got.Content)
	})

	t.Run("Expiry", func(t *testing.T) {
		id := uuid.New().String()
		require.NoError(t, store.Put(ctx, id, "short", models.Output{Kind: models.OutputContent}, 10*time.Millisecond))
		require.NoError(t, store.Put(ctx, id, "long", models.Output{Kind: models.OutputContent}, time.Hour))
		time.Sleep(50 * time.Millisecond)

		_, err := store.Get(ctx, id, "short")
		assert.True(t, errors.Is(err, ErrNotFound), "expired value must read as not found")
		ok, err := store.Exists(ctx, id, "short")
		require.NoError(t, err)
		assert.False(t, ok)

		n, err := store.PurgeExpired(ctx, time.Now())
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, int64(1))

		_, err = store.Get(ctx, id, "long")
		assert.NoError(t, err)
	})

	t.Run("RequestLifecycle", func(t *testing.T) {
		r := newRequest(t, models.RequestStatePending)

		got, err := store.GetRequest(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, r.Type, got.Type)
		assert.Equal(t, r.Params, got.Params)
		assert.Equal(t, models.RequestStatePending, got.State)

		require.NoError(t, store.UpdateRequestState(ctx, r.ID, models.RequestStateFailed, "B failed"))
		got, err = store.GetRequest(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RequestStateFailed, got.State)
		assert.Equal(t, "B failed", got.Error)

		assert.True(t, errors.Is(store.UpdateRequestState(ctx, "missing", models.RequestStateFailed, ""), ErrNotFound))
		_, err = store.GetRequest(ctx, "missing")
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("ListRequestsFilter", func(t *testing.T) {
		running := newRequest(t, models.RequestStateRunning)
		newRequest(t, models.RequestStateSucceeded)

		list, err := store.ListRequests(ctx, RequestFilter{States: []models.RequestState{models.RequestStateRunning}})
		require.NoError(t, err)
		var ids []string
		for _, r := range list {
			assert.Equal(t, models.RequestStateRunning, r.State)
			ids = append(ids, r.ID)
		}
		assert.Contains(t, ids, running.ID)

		limited, err := store.ListRequests(ctx, RequestFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("RunsUpsert", func(t *testing.T) {
		r := newRequest(t, models.RequestStateRunning)
		start := time.Now().UTC().Truncate(time.Millisecond)

		run := models.TaskRun{RequestID: r.ID, Task: "body", State: models.TaskStateRunning, Attempts: 1, StartedAt: &start}
		require.NoError(t, store.SaveRun(ctx, run))
		require.NoError(t, store.SaveRun(ctx, models.TaskRun{RequestID: r.ID, Task: "outline", State: models.TaskStateSucceeded, Attempts: 1}))

		end := start.Add(time.Second)
		run.State = models.TaskStateFailed
		run.Attempts = 3
		run.EndedAt = &end
		run.Error = "boom"
		require.NoError(t, store.SaveRun(ctx, run))

		runs, err := store.ListRuns(ctx, r.ID)
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, "body", runs[0].Task)
		assert.Equal(t, models.TaskStateFailed, runs[0].State)
		assert.Equal(t, 3, runs[0].Attempts)
		assert.Equal(t, "boom", runs[0].Error)
		require.NotNil(t, runs[0].EndedAt)
		assert.True(t, runs[0].EndedAt.Equal(end))
		assert.Equal(t, "outline", runs[1].Task)
	})

	t.Run("DeleteRequestRemovesRunsAndResults", func(t *testing.T) {
		r := newRequest(t, models.RequestStateSucceeded)
		require.NoError(t, store.SaveRun(ctx, models.TaskRun{RequestID: r.ID, Task: "A", State: models.TaskStateSucceeded}))
		require.NoError(t, store.Put(ctx, r.ID, "A", models.Output{Kind: models.OutputContent}, 0))

		require.NoError(t, store.DeleteRequest(ctx, r.ID))

		_, err := store.GetRequest(ctx, r.ID)
		assert.True(t, errors.Is(err, ErrNotFound))
		runs, err := store.ListRuns(ctx, r.ID)
		require.NoError(t, err)
		assert.Empty(t, runs)
		ok, err := store.Exists(ctx, r.ID, "A")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("PurgeRequests", func(t *testing.T) {
		done := newRequest(t, models.RequestStateSucceeded)
		live := newRequest(t, models.RequestStateRunning)
		require.NoError(t, store.Put(ctx, done.ID, "A", models.Output{Kind: models.OutputContent}, 0))

		n, err := store.PurgeRequests(ctx, time.Now().Add(time.Minute))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, int64(1))

		_, err = store.GetRequest(ctx, done.ID)
		assert.True(t, errors.Is(err, ErrNotFound))
		ok, err := store.Exists(ctx, done.ID, "A")
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = store.GetRequest(ctx, live.ID)
		assert.NoError(t, err, "running requests are never purged")
	})

	t.Run("Recovery", func(t *testing.T) {
		r := newRequest(t, models.RequestStateRunning)
		rm := NewRecoveryManager(store)

		marked, err := rm.MarkInterrupted(ctx)
		require.NoError(t, err)
		var found bool
		for _, m := range marked {
			if m.ID == r.ID {
				found = true
				assert.Equal(t, models.RequestStateInterrupted, m.State)
			}
		}
		assert.True(t, found)

		again, err := rm.CheckForInterrupted(ctx)
		require.NoError(t, err)
		assert.Empty(t, again)

		interrupted, err := rm.ListInterrupted(ctx)
		require.NoError(t, err)
		assert.NotEmpty(t, interrupted)
	})
}

func TestMemoryStore_Contract(t *testing.T) {
	runStoreContract(t, NewMemoryStore())
}

func TestMemoryStore_CopiesValues(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	out := models.Output{Kind: models.OutputContent, Data: map[string]string{"k": "v"}}
	require.NoError(t, store.Put(ctx, "r", "t", out, 0))

	out.Data["k"] = "mutated"
	got, err := store.Get(ctx, "r", "t")
	require.NoError(t, err)
	assert.Equal(t, "v", got.Data["k"])
}

func outputFixture() models.Output {
	return models.Output{Kind: models.OutputContent, Content: "fixture"}
}
