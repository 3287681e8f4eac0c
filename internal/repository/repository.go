package repository

import (
	"context"

	"github.com/sitelift/sitelift/internal/domain"
)

// JobRepository persists job records. Status moves only through the
// compare-and-set methods so that exactly one worker owns a job at a time.
type JobRepository interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	// ClaimJob transitions queued -> in_progress. ErrConflict when the job
	// is not claimable, ErrNotFound when it does not exist.
	ClaimJob(ctx context.Context, jobID string) (*domain.Job, error)
	// MarkDeploying transitions completed -> deploying, refusing jobs that
	// already carry deployment fields.
	MarkDeploying(ctx context.Context, jobID string) error
	// CompleteBuild records the artifact and transitions to completed.
	CompleteBuild(ctx context.Context, jobID, artifactRef string) error
	// MarkFailed records a terminal failure status with its message.
	MarkFailed(ctx context.Context, jobID, status, errorMessage string) error
	// SetDeployment writes repo/pages fields and returns the job to
	// completed.
	SetDeployment(ctx context.Context, update domain.DeploymentUpdate) error
	SetEvaluationStatus(ctx context.Context, jobID, status string) error
	// FindLatestDeployedTask returns the most recent job for the logical
	// task that already has a repository, for round >= 2 reuse.
	FindLatestDeployedTask(ctx context.Context, task string) (*domain.Job, error)
}

// EventRepository is the append-only per-job event log.
type EventRepository interface {
	AppendEvent(ctx context.Context, event *domain.Event) error
	ListEventsAfter(ctx context.Context, jobID string, afterID int64, limit int) ([]domain.Event, error)
}
