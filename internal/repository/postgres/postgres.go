package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sitelift/sitelift/internal/domain"
	"github.com/sitelift/sitelift/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.JobRepository   = (*Repository)(nil)
	_ repository.EventRepository = (*Repository)(nil)
)

const jobColumns = `id, session_id, task, round, nonce, title, brief, checks, attachments,
	evaluation_url, status, artifact_ref, repo_name, repo_visibility, repo_full_name,
	repo_url, pages_url, commit_sha, error_message, evaluation_status, created_at, updated_at`

// CreateJob inserts a job in queued state.
func (r *Repository) CreateJob(ctx context.Context, job *domain.Job) error {
	const query = `INSERT INTO jobs (id, session_id, task, round, nonce, title, brief, checks,
		attachments, evaluation_url, status, repo_name, repo_visibility, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	attachments, err := json.Marshal(job.Attachments)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, query, job.ID, job.SessionID, job.Task, job.Round,
		job.Nonce, job.Title, job.Brief, job.Checks, attachments, job.EvaluationURL, job.Status,
		job.RepoName, job.RepoVisibility, job.CreatedAt, job.UpdatedAt)
	return err
}

// GetJob fetches a job by identifier.
func (r *Repository) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	return r.scanJob(r.pool.QueryRow(ctx, query, jobID))
}

// ClaimJob transitions queued -> in_progress and returns the claimed job.
// The WHERE clause is the claim: at most one worker wins the update.
func (r *Repository) ClaimJob(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `UPDATE jobs SET status = $2, updated_at = $3
		WHERE id = $1 AND status = $4
		RETURNING ` + jobColumns
	row := r.pool.QueryRow(ctx, query, jobID, domain.StatusInProgress, time.Now().UTC(), domain.StatusQueued)
	job, err := r.scanJob(row)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, r.claimConflict(ctx, jobID)
	}
	return job, err
}

// claimConflict distinguishes a missing job from one in the wrong state.
func (r *Repository) claimConflict(ctx context.Context, jobID string) error {
	if _, err := r.GetJob(ctx, jobID); err != nil {
		return err
	}
	return repository.ErrConflict
}

// MarkDeploying transitions completed -> deploying. Jobs outside completed
// state or already carrying a repository are refused without mutation.
func (r *Repository) MarkDeploying(ctx context.Context, jobID string) error {
	const query = `UPDATE jobs SET status = $2, updated_at = $3
		WHERE id = $1 AND status = $4 AND repo_url = ''`
	tag, err := r.pool.Exec(ctx, query, jobID, domain.StatusDeploying, time.Now().UTC(), domain.StatusCompleted)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.claimConflict(ctx, jobID)
	}
	return nil
}

// CompleteBuild stores the artifact reference and completes the build stage.
func (r *Repository) CompleteBuild(ctx context.Context, jobID, artifactRef string) error {
	const query = `UPDATE jobs SET status = $2, artifact_ref = $3, updated_at = $4 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, jobID, domain.StatusCompleted, artifactRef, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// MarkFailed records a terminal failure.
func (r *Repository) MarkFailed(ctx context.Context, jobID, status, errorMessage string) error {
	const query = `UPDATE jobs SET status = $2, error_message = $3, updated_at = $4 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, jobID, status, errorMessage, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// SetDeployment writes deployment fields and returns the job to completed.
func (r *Repository) SetDeployment(ctx context.Context, update domain.DeploymentUpdate) error {
	const query = `UPDATE jobs SET status = $2, repo_name = $3, repo_full_name = $4,
		repo_url = $5, pages_url = $6, commit_sha = $7, updated_at = $8
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, update.JobID, domain.StatusCompleted,
		update.RepoName, update.RepoFullName, update.RepoURL, update.PagesURL,
		update.CommitSHA, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// SetEvaluationStatus records the outcome of the evaluation callback.
func (r *Repository) SetEvaluationStatus(ctx context.Context, jobID, status string) error {
	const query = `UPDATE jobs SET evaluation_status = $2, updated_at = $3 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, jobID, status, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// FindLatestDeployedTask returns the newest job for the logical task that
// already has a repository.
func (r *Repository) FindLatestDeployedTask(ctx context.Context, task string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs
		WHERE task = $1 AND repo_url <> ''
		ORDER BY round DESC, updated_at DESC
		LIMIT 1`
	return r.scanJob(r.pool.QueryRow(ctx, query, task))
}

// AppendEvent inserts an event and fills its assigned id and timestamp.
func (r *Repository) AppendEvent(ctx context.Context, event *domain.Event) error {
	const query = `INSERT INTO job_events (job_id, level, message, created_at)
		VALUES ($1, $2, $3, $4) RETURNING id`
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	row := r.pool.QueryRow(ctx, query, event.JobID, event.Level, event.Message, event.CreatedAt)
	return row.Scan(&event.ID)
}

// ListEventsAfter returns events for a job with id greater than afterID,
// oldest first.
func (r *Repository) ListEventsAfter(ctx context.Context, jobID string, afterID int64, limit int) ([]domain.Event, error) {
	const query = `SELECT id, job_id, level, message, created_at FROM job_events
		WHERE job_id = $1 AND id > $2
		ORDER BY id ASC
		LIMIT $3`
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, query, jobID, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]domain.Event, 0)
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.JobID, &e.Level, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *Repository) scanJob(row rowScanner) (*domain.Job, error) {
	var j domain.Job
	var attachments []byte
	if err := row.Scan(&j.ID, &j.SessionID, &j.Task, &j.Round, &j.Nonce, &j.Title, &j.Brief,
		&j.Checks, &attachments, &j.EvaluationURL, &j.Status, &j.ArtifactRef, &j.RepoName,
		&j.RepoVisibility, &j.RepoFullName, &j.RepoURL, &j.PagesURL, &j.CommitSHA,
		&j.ErrorMessage, &j.EvaluationStatus, &j.CreatedAt, &j.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &j.Attachments); err != nil {
			return nil, err
		}
	}
	return &j, nil
}
