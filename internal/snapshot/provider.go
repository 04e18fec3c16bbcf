package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"livegrade/pkg/interfaces"
	"livegrade/pkg/types"
)

// Provider fetches current assessment status from the evaluation
// capability for (re)join synchronization. It is a pass-through: no
// retries, no caching. Retry policy belongs to the caller.
type Provider struct {
	evaluation interfaces.EvaluationService
	timeout    time.Duration
}

// NewProvider creates a snapshot provider. timeout bounds each fetch;
// zero disables the bound.
func NewProvider(evaluation interfaces.EvaluationService, timeout time.Duration) *Provider {
	return &Provider{
		evaluation: evaluation,
		timeout:    timeout,
	}
}

// Snapshot fetches the current status of an assessment for a user.
// types.ErrNotFound passes through untouched; every other upstream
// failure, including the fetch timeout, is reported as
// types.ErrUpstream.
func (p *Provider) Snapshot(ctx context.Context, assessmentID, userID int64) (*types.AssessmentStatus, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	status, err := p.evaluation.GetAssessmentStatus(ctx, assessmentID, userID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) || errors.Is(err, types.ErrUpstream) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", types.ErrUpstream, err)
	}
	return status, nil
}
