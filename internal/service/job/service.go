package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sitelift/sitelift/internal/blob"
	"github.com/sitelift/sitelift/internal/domain"
	"github.com/sitelift/sitelift/internal/events"
	"github.com/sitelift/sitelift/internal/preview"
	"github.com/sitelift/sitelift/internal/queue"
	"github.com/sitelift/sitelift/internal/repository"
	"github.com/sitelift/sitelift/pkg/config"
)

// Rejection reasons surfaced to API clients as conflicts.
var (
	ErrNotCompleted    = errors.New("job has not completed a build")
	ErrAlreadyDeployed = errors.New("job already has a deployed repository")
	ErrNoArtifact      = errors.New("job has no stored artifact")
)

// Enqueuer abstracts the worker queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, env queue.Envelope) error
}

// SubmitRequest is a validated job submission.
type SubmitRequest struct {
	Secret         string              `json:"secret"`
	Task           string              `json:"task"`
	Round          int                 `json:"round"`
	Nonce          string              `json:"nonce"`
	Title          string              `json:"title"`
	Brief          string              `json:"brief"`
	Checks         []string            `json:"checks"`
	EvaluationURL  string              `json:"evaluation_url"`
	Attachments    []domain.Attachment `json:"attachments"`
	RepoName       string              `json:"repo_name"`
	RepoVisibility string              `json:"repo_visibility"`
}

// Service owns the client-facing job operations: submission, lookup,
// event cursors, deploy triggers, previews and artifact downloads. All
// status mutation beyond the initial queued insert happens in the worker.
type Service struct {
	jobs    repository.JobRepository
	events  events.Service
	queue   Enqueuer
	blobs   *blob.Store
	preview *preview.Service
	logger  *slog.Logger
	cfg     config.APIConfig
}

// New returns a job service.
func New(jobs repository.JobRepository, eventSvc events.Service, q Enqueuer, blobs *blob.Store, previewSvc *preview.Service, logger *slog.Logger, cfg config.APIConfig) Service {
	return Service{
		jobs:    jobs,
		events:  eventSvc,
		queue:   q,
		blobs:   blobs,
		preview: previewSvc,
		logger:  logger,
		cfg:     cfg,
	}
}

// Submit validates the request, records the job in queued state and hands
// it to the worker queue.
func (s Service) Submit(ctx context.Context, sessionID string, req SubmitRequest) (*domain.Job, error) {
	if err := s.validate(sessionID, req); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	job := &domain.Job{
		ID:             uuid.NewString(),
		SessionID:      sessionID,
		Task:           strings.TrimSpace(req.Task),
		Round:          req.Round,
		Nonce:          strings.TrimSpace(req.Nonce),
		Title:          strings.TrimSpace(req.Title),
		Brief:          req.Brief,
		Checks:         req.Checks,
		EvaluationURL:  req.EvaluationURL,
		Status:         domain.StatusQueued,
		RepoName:       strings.TrimSpace(req.RepoName),
		RepoVisibility: req.RepoVisibility,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if job.RepoVisibility == "" {
		job.RepoVisibility = domain.VisibilityPublic
	}
	if job.Task == "" {
		job.Task = job.ID
	}
	if job.Round == 0 {
		job.Round = 1
	}

	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if err := s.events.Append(ctx, &domain.Event{JobID: job.ID, Message: "Job accepted, queued for build"}); err != nil {
		s.logger.Warn("failed to append submission event", "job_id", job.ID, "error", err)
	}
	if err := s.queue.Enqueue(ctx, queue.Envelope{JobID: job.ID, Kind: queue.KindBuild}); err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	s.logger.Info("job queued", "job_id", job.ID, "task", job.Task, "round", job.Round)
	return job, nil
}

func (s Service) validate(sessionID string, req SubmitRequest) error {
	if sessionID == "" {
		return domain.Validationf("session id is required")
	}
	if s.cfg.AcceptedSecret != "" && req.Secret != s.cfg.AcceptedSecret {
		return domain.Authf("submission secret is not accepted")
	}
	if strings.TrimSpace(req.Brief) == "" {
		return domain.Validationf("brief must not be empty")
	}
	if req.Round < 0 {
		return domain.Validationf("round must be positive")
	}
	switch req.RepoVisibility {
	case "", domain.VisibilityPublic, domain.VisibilityPrivate:
	default:
		return domain.Validationf("unsupported repository visibility %q", req.RepoVisibility)
	}
	for _, attachment := range req.Attachments {
		payload, err := attachment.Decode()
		if err != nil {
			return err
		}
		if int64(len(payload)) > s.cfg.AttachmentMaxBytes {
			return domain.Validationf("attachment %s exceeds limit of %d bytes", attachment.Name, s.cfg.AttachmentMaxBytes)
		}
	}
	return nil
}

// Get returns the job's public record.
func (s Service) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.jobs.GetJob(ctx, jobID)
}

// Events returns job events after the cursor.
func (s Service) Events(ctx context.Context, jobID string, afterID int64, limit int) ([]domain.Event, error) {
	if _, err := s.jobs.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return s.events.ListAfter(ctx, jobID, afterID, limit)
}

// RequestDeploy transitions a completed, undeployed job to deploying and
// queues the deploy. Any other state is rejected without mutation.
func (s Service) RequestDeploy(ctx context.Context, jobID string) error {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Deployed() {
		return ErrAlreadyDeployed
	}
	if job.Status != domain.StatusCompleted {
		return ErrNotCompleted
	}
	if job.ArtifactRef == "" {
		return ErrNoArtifact
	}
	if err := s.jobs.MarkDeploying(ctx, jobID); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// Lost the race: someone else moved the job first.
			return ErrNotCompleted
		}
		return err
	}
	if err := s.events.Append(ctx, &domain.Event{JobID: jobID, Message: "Deploy requested"}); err != nil {
		s.logger.Warn("failed to append deploy event", "job_id", jobID, "error", err)
	}
	if err := s.queue.Enqueue(ctx, queue.Envelope{JobID: jobID, Kind: queue.KindDeploy}); err != nil {
		return fmt.Errorf("enqueue deploy: %w", err)
	}
	s.logger.Info("deploy queued", "job_id", jobID)
	return nil
}

// Preview allocates a preview lease for a completed job's artifact.
func (s Service) Preview(ctx context.Context, jobID string) (preview.Lease, error) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return preview.Lease{}, err
	}
	if job.ArtifactRef == "" {
		return preview.Lease{}, ErrNoArtifact
	}
	return s.preview.Create(ctx, job.ArtifactRef)
}

// ServePreview resolves one file from a leased artifact.
func (s Service) ServePreview(ctx context.Context, token, requestedPath string) ([]byte, string, error) {
	return s.preview.Serve(ctx, token, requestedPath)
}

// Artifact returns the stored ZIP for a content address.
func (s Service) Artifact(_ context.Context, ref string) ([]byte, error) {
	if !s.blobs.Exists(ref) {
		return nil, repository.ErrNotFound
	}
	return s.blobs.Get(ref)
}
