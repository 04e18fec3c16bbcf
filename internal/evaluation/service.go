package evaluation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"livegrade/pkg/interfaces"
	"livegrade/pkg/types"
)

// Service is the bundled EvaluationService implementation, built from
// the task update history in the assessment directory. Deployments
// with an external grading pipeline replace it behind the interface.
type Service struct {
	directory interfaces.AssessmentDirectory
}

// NewService creates an evaluation service over the directory.
func NewService(directory interfaces.AssessmentDirectory) *Service {
	return &Service{directory: directory}
}

// GetAssessmentStatus assembles the current status of an assessment:
// the latest stored update per task plus the sequence high-water mark.
// Unknown assessments fail with types.ErrNotFound; storage failures
// surface as types.ErrUpstream.
func (s *Service) GetAssessmentStatus(ctx context.Context, assessmentID, userID int64) (*types.AssessmentStatus, error) {
	if _, err := s.directory.GetAssessment(ctx, assessmentID); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", types.ErrUpstream, err)
	}

	statuses, err := s.directory.LatestTaskStatuses(ctx, assessmentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrUpstream, err)
	}

	maxSeq, err := s.directory.MaxSequence(ctx, assessmentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrUpstream, err)
	}

	return &types.AssessmentStatus{
		AssessmentID: assessmentID,
		Tasks:        statuses,
		AsOfSequence: maxSeq,
		FetchedAt:    time.Now(),
	}, nil
}
