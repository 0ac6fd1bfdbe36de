package state

import (
	"context"
	"fmt"

	"github.com/ShayCichocki/docweave/pkg/models"
)

// RecoveryManager finds requests left unfinished by a previous process.
type RecoveryManager struct {
	store RequestStore
}

// NewRecoveryManager creates a RecoveryManager over store.
func NewRecoveryManager(store RequestStore) *RecoveryManager {
	return &RecoveryManager{store: store}
}

// CheckForInterrupted returns requests recorded as pending or running,
// which no live engine owns at startup.
func (rm *RecoveryManager) CheckForInterrupted(ctx context.Context) ([]models.Request, error) {
	requests, err := rm.store.ListRequests(ctx, RequestFilter{
		States: []models.RequestState{models.RequestStatePending, models.RequestStateRunning},
	})
	if err != nil {
		return nil, fmt.Errorf("list unfinished requests: %w", err)
	}
	return requests, nil
}

// MarkInterrupted flags every unfinished request as interrupted so it can
// be resumed explicitly. Returns the affected requests.
func (rm *RecoveryManager) MarkInterrupted(ctx context.Context) ([]models.Request, error) {
	requests, err := rm.CheckForInterrupted(ctx)
	if err != nil {
		return nil, err
	}
	for i := range requests {
		if err := rm.store.UpdateRequestState(ctx, requests[i].ID, models.RequestStateInterrupted, "process stopped while request was running"); err != nil {
			return nil, fmt.Errorf("mark %s interrupted: %w", requests[i].ID, err)
		}
		requests[i].State = models.RequestStateInterrupted
	}
	return requests, nil
}

// ListInterrupted returns requests previously marked interrupted.
func (rm *RecoveryManager) ListInterrupted(ctx context.Context) ([]models.Request, error) {
	return rm.store.ListRequests(ctx, RequestFilter{
		States: []models.RequestState{models.RequestStateInterrupted},
	})
}
