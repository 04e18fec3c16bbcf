package interfaces

import (
	"context"

	"livegrade/pkg/types"
)

// AssessmentDirectory provides the persistent view of assessments and
// their update history. Join authorization reads ownership from it;
// the dispatcher persists updates to it and seeds sequence counters
// from it at startup.
type AssessmentDirectory interface {
	// CreateAssessment stores a new assessment record.
	CreateAssessment(ctx context.Context, assessment *types.Assessment) error

	// GetAssessment returns the record for an assessment, or
	// types.ErrNotFound if no such assessment exists.
	GetAssessment(ctx context.Context, assessmentID int64) (*types.Assessment, error)

	// StoreTaskUpdate appends one update to the history.
	StoreTaskUpdate(ctx context.Context, update *types.TaskUpdate) error

	// MaxSequence returns the highest stored sequence number for an
	// assessment, zero when no updates exist.
	MaxSequence(ctx context.Context, assessmentID int64) (uint64, error)

	// LatestTaskStatuses returns the most recent update per task for
	// an assessment, ordered by task id.
	LatestTaskStatuses(ctx context.Context, assessmentID int64) ([]types.TaskStatus, error)

	// HealthCheck verifies the store is reachable.
	HealthCheck(ctx context.Context) error
}
