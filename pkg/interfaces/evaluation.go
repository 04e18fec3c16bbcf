package interfaces

import (
	"context"

	"livegrade/pkg/types"
)

// EvaluationService is the consumed capability that grades tasks and
// produces status documents. The broadcast core only reads from it;
// how grading is computed is outside this system.
type EvaluationService interface {
	// GetAssessmentStatus returns the current status of an assessment
	// for the requesting user. Fails with types.ErrNotFound for an
	// unknown assessment and types.ErrUpstream when the capability is
	// unavailable.
	GetAssessmentStatus(ctx context.Context, assessmentID, userID int64) (*types.AssessmentStatus, error)
}
