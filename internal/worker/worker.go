package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sitelift/sitelift/internal/blob"
	"github.com/sitelift/sitelift/internal/domain"
	"github.com/sitelift/sitelift/internal/evaluation"
	"github.com/sitelift/sitelift/internal/events"
	"github.com/sitelift/sitelift/internal/github"
	"github.com/sitelift/sitelift/internal/queue"
	"github.com/sitelift/sitelift/internal/repository"
	"github.com/sitelift/sitelift/internal/workspace"
	"github.com/sitelift/sitelift/pkg/config"
	"github.com/sitelift/sitelift/pkg/logger"
)

// Dequeuer hands out work envelopes.
type Dequeuer interface {
	Dequeue(ctx context.Context) (queue.Envelope, error)
}

// Secrets is the job-scoped credential snapshot store.
type Secrets interface {
	SnapshotJob(ctx context.Context, jobID, sessionID string, includeLLM, includeGitHub bool) (*domain.JobSecrets, error)
	ClearJobSecrets(ctx context.Context, jobID string) error
}

// Generator turns a brief into a site manifest.
type Generator interface {
	Generate(ctx context.Context, creds domain.LLMCredentials, brief string, attachments []domain.Attachment) (*domain.Manifest, error)
}

// Provisioner is the GitHub surface the deploy stage depends on.
type Provisioner interface {
	GetRepository(ctx context.Context, creds domain.GitHubCredentials, fullName string) (github.RepoHandle, error)
	ResolveRepository(ctx context.Context, creds domain.GitHubCredentials, requestedName, description string, private bool) (github.RepoHandle, error)
	Push(ctx context.Context, creds domain.GitHubCredentials, handle github.RepoHandle, branch string, files map[string][]byte) (string, error)
	EnablePages(ctx context.Context, creds domain.GitHubCredentials, handle github.RepoHandle, branch, path string) (string, error)
}

// Notifier reports round outcomes to the evaluation callback.
type Notifier interface {
	Notify(ctx context.Context, url string, payload evaluation.Payload) error
}

// Outcomes recorded per handled envelope.
const (
	outcomeOK      = "ok"
	outcomeFailed  = "failed"
	outcomeSkipped = "skipped"
)

// Worker drives jobs through the build and deploy stages. It owns all
// status transitions past queued; the API only ever inserts and reads.
type Worker struct {
	jobs        repository.JobRepository
	events      events.Service
	queue       Dequeuer
	secrets     Secrets
	generator   Generator
	provisioner Provisioner
	notifier    Notifier
	workspaces  *workspace.Manager
	blobs       *blob.Store
	cfg         config.WorkerConfig
	logger      *slog.Logger
	pushBackoff time.Duration
}

// New assembles a worker from its collaborators.
func New(jobs repository.JobRepository, eventSvc events.Service, q Dequeuer, secrets Secrets,
	generator Generator, provisioner Provisioner, notifier Notifier,
	workspaces *workspace.Manager, blobs *blob.Store, cfg config.WorkerConfig, log *slog.Logger) *Worker {
	return &Worker{
		jobs:        jobs,
		events:      eventSvc,
		queue:       q,
		secrets:     secrets,
		generator:   generator,
		provisioner: provisioner,
		notifier:    notifier,
		workspaces:  workspaces,
		blobs:       blobs,
		cfg:         cfg,
		logger:      log,
		pushBackoff: time.Second,
	}
}

// Run consumes the queue until the context ends. Leftover workspaces from
// a previous crash are removed before the first claim.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.workspaces.Sweep(); err != nil {
		w.logger.Warn("workspace sweep failed", "error", err)
	}
	for {
		env, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("dequeue failed", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		w.Handle(ctx, env)
	}
}

// Handle dispatches one envelope and records its metrics.
func (w *Worker) Handle(ctx context.Context, env queue.Envelope) {
	start := time.Now()
	var outcome string
	switch env.Kind {
	case queue.KindBuild:
		outcome = w.handleBuild(ctx, env.JobID)
	case queue.KindDeploy:
		outcome = w.handleDeploy(ctx, env.JobID)
	default:
		w.logger.Warn("unknown envelope kind", "kind", env.Kind, "job_id", env.JobID)
		outcome = outcomeSkipped
	}
	jobsProcessed.WithLabelValues(env.Kind, outcome).Inc()
	jobDuration.WithLabelValues(env.Kind).Observe(time.Since(start).Seconds())
}

// handleBuild runs queued -> in_progress -> completed|failed. The claim is
// a compare-and-set, so a redelivered envelope lands on ErrConflict and is
// dropped without side effects.
func (w *Worker) handleBuild(ctx context.Context, jobID string) string {
	job, err := w.jobs.ClaimJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) || errors.Is(err, repository.ErrNotFound) {
			w.logger.Warn("build claim skipped", "job_id", jobID, "error", err)
			return outcomeSkipped
		}
		w.logger.Error("build claim failed", "job_id", jobID, "error", err)
		return outcomeFailed
	}
	w.logger.Info("build claimed", "job_id", job.ID, "task", job.Task, "round", job.Round)
	w.appendEvent(ctx, job.ID, domain.LevelInfo, "Build started")

	secrets, err := w.secrets.SnapshotJob(ctx, job.ID, job.SessionID, true, false)
	if err != nil {
		w.failJob(ctx, job, domain.StatusFailed, nil, "Build", err)
		return outcomeFailed
	}
	defer w.clearSecrets(ctx, job.ID)

	w.appendEvent(ctx, job.ID, domain.LevelInfo, "Generating site manifest")
	manifest, err := w.generator.Generate(ctx, *secrets.LLM, job.Brief, job.Attachments)
	if err != nil {
		w.failJob(ctx, job, domain.StatusFailed, secrets, "Build", err)
		return outcomeFailed
	}
	w.appendEvent(ctx, job.ID, domain.LevelInfo, fmt.Sprintf("Manifest received (%d files)", len(manifest.Files)))

	dir, err := w.workspaces.Prepare(job.ID)
	if err != nil {
		w.failJob(ctx, job, domain.StatusFailed, secrets, "Build", err)
		return outcomeFailed
	}
	defer func() {
		if err := w.workspaces.Cleanup(dir); err != nil {
			w.logger.Warn("workspace cleanup failed", "job_id", job.ID, "error", err)
		}
	}()

	if err := w.materialize(dir, job, manifest); err != nil {
		w.failJob(ctx, job, domain.StatusFailed, secrets, "Build", err)
		return outcomeFailed
	}

	data, err := workspace.Archive(dir)
	if err != nil {
		w.failJob(ctx, job, domain.StatusFailed, secrets, "Build", err)
		return outcomeFailed
	}
	ref, err := w.blobs.Put(data)
	if err != nil {
		w.failJob(ctx, job, domain.StatusFailed, secrets, "Build", err)
		return outcomeFailed
	}
	if err := w.jobs.CompleteBuild(ctx, job.ID, ref); err != nil {
		w.failJob(ctx, job, domain.StatusFailed, secrets, "Build", err)
		return outcomeFailed
	}
	w.appendEvent(ctx, job.ID, domain.LevelInfo, "Build completed, artifact stored")
	w.logger.Info("build completed", "job_id", job.ID, "artifact_ref", ref, "bytes", len(data))
	return outcomeOK
}

// materialize lays the workspace out from attachments and the manifest.
// Attachments go first so a manifest entry with the same path wins.
func (w *Worker) materialize(dir string, job *domain.Job, manifest *domain.Manifest) error {
	if err := workspace.WriteAttachments(dir, job.Attachments, w.cfg.AttachmentMaxBytes); err != nil {
		return err
	}
	if err := workspace.WriteManifest(dir, manifest); err != nil {
		return err
	}
	return workspace.EnsureReadme(dir, defaultReadme(job))
}

// handleDeploy runs deploying -> completed|deploy_failed. The API already
// moved the job to deploying under a compare-and-set before enqueueing.
func (w *Worker) handleDeploy(ctx context.Context, jobID string) string {
	job, err := w.jobs.GetJob(ctx, jobID)
	if err != nil {
		w.logger.Warn("deploy lookup failed", "job_id", jobID, "error", err)
		return outcomeSkipped
	}
	if job.Status != domain.StatusDeploying {
		w.logger.Warn("deploy skipped, unexpected status", "job_id", jobID, "status", job.Status)
		return outcomeSkipped
	}
	w.logger.Info("deploy claimed", "job_id", job.ID, "task", job.Task, "round", job.Round)
	w.appendEvent(ctx, job.ID, domain.LevelInfo, "Deploy started")

	secrets, err := w.secrets.SnapshotJob(ctx, job.ID, job.SessionID, false, true)
	if err != nil {
		w.failJob(ctx, job, domain.StatusDeployFailed, nil, "Deploy", err)
		return outcomeFailed
	}
	defer w.clearSecrets(ctx, job.ID)
	creds := *secrets.GitHub

	data, err := w.blobs.Get(job.ArtifactRef)
	if err != nil {
		w.failJob(ctx, job, domain.StatusDeployFailed, secrets, "Deploy", err)
		return outcomeFailed
	}
	files, err := workspace.Unpack(data)
	if err != nil {
		w.failJob(ctx, job, domain.StatusDeployFailed, secrets, "Deploy", err)
		return outcomeFailed
	}

	handle, err := w.resolveRepo(ctx, job, creds)
	if err != nil {
		w.failJob(ctx, job, domain.StatusDeployFailed, secrets, "Deploy", err)
		return outcomeFailed
	}
	w.appendEvent(ctx, job.ID, domain.LevelInfo, fmt.Sprintf("Repository ready: %s", handle.FullName))

	sha, err := w.pushWithRetry(ctx, job, creds, handle, files)
	if err != nil {
		w.failJob(ctx, job, domain.StatusDeployFailed, secrets, "Deploy", err)
		return outcomeFailed
	}
	w.appendEvent(ctx, job.ID, domain.LevelInfo, fmt.Sprintf("Pushed commit %s", shortSHA(sha)))

	var pagesURL string
	if job.RepoVisibility == domain.VisibilityPrivate {
		w.appendEvent(ctx, job.ID, domain.LevelWarn, "Repository is private, skipping GitHub Pages")
	} else {
		pagesURL, err = w.provisioner.EnablePages(ctx, creds, handle, w.cfg.DefaultBranch, "/")
		if err != nil {
			w.failJob(ctx, job, domain.StatusDeployFailed, secrets, "Deploy", err)
			return outcomeFailed
		}
		w.appendEvent(ctx, job.ID, domain.LevelInfo, fmt.Sprintf("GitHub Pages enabled at %s", pagesURL))
	}

	update := domain.DeploymentUpdate{
		JobID:        job.ID,
		RepoName:     handle.Name,
		RepoFullName: handle.FullName,
		RepoURL:      handle.URL(),
		PagesURL:     pagesURL,
		CommitSHA:    sha,
	}
	if err := w.jobs.SetDeployment(ctx, update); err != nil {
		w.failJob(ctx, job, domain.StatusDeployFailed, secrets, "Deploy", err)
		return outcomeFailed
	}
	w.appendEvent(ctx, job.ID, domain.LevelInfo, fmt.Sprintf("Deployed to %s", update.RepoURL))
	w.logger.Info("deploy completed", "job_id", job.ID, "repo", update.RepoFullName, "commit", shortSHA(sha))

	w.notifyEvaluation(ctx, job, domain.StatusCompleted, update)
	return outcomeOK
}

// resolveRepo reuses the task's previous repository for later rounds and
// creates or adopts one otherwise.
func (w *Worker) resolveRepo(ctx context.Context, job *domain.Job, creds domain.GitHubCredentials) (github.RepoHandle, error) {
	if job.Round >= 2 {
		prior, err := w.jobs.FindLatestDeployedTask(ctx, job.Task)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return github.RepoHandle{}, err
		}
		if prior != nil && prior.RepoFullName != "" {
			handle, err := w.provisioner.GetRepository(ctx, creds, prior.RepoFullName)
			if err == nil {
				w.appendEvent(ctx, job.ID, domain.LevelInfo,
					fmt.Sprintf("Reusing repository %s from round %d", handle.FullName, prior.Round))
				return handle, nil
			}
			w.appendEvent(ctx, job.ID, domain.LevelWarn,
				fmt.Sprintf("Previous repository %s is unavailable, provisioning a new one", prior.RepoFullName))
		}
	}
	name := job.RepoName
	if name == "" {
		seed := job.Title
		if seed == "" {
			seed = job.Task
		}
		name = generateRepoName(seed)
	}
	private := job.RepoVisibility == domain.VisibilityPrivate
	return w.provisioner.ResolveRepository(ctx, creds, name, job.Brief, private)
}

// pushWithRetry retries transient push failures with linear backoff and
// emits one event per attempt so clients can follow the progress.
func (w *Worker) pushWithRetry(ctx context.Context, job *domain.Job, creds domain.GitHubCredentials, handle github.RepoHandle, files map[string][]byte) (string, error) {
	attempts := w.cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		w.appendEvent(ctx, job.ID, domain.LevelInfo, fmt.Sprintf("Pushing to GitHub (attempt %d)", attempt))
		pushAttempts.Inc()
		sha, err := w.provisioner.Push(ctx, creds, handle, w.cfg.DefaultBranch, files)
		if err == nil {
			return sha, nil
		}
		lastErr = err
		if !domain.Retryable(err) || attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Duration(attempt) * w.pushBackoff):
		}
	}
	return "", lastErr
}

// notifyEvaluation reports the round outcome. Delivery is best effort and
// only ever changes the evaluation status, never the job status.
func (w *Worker) notifyEvaluation(ctx context.Context, job *domain.Job, status string, update domain.DeploymentUpdate) {
	if job.EvaluationURL == "" {
		return
	}
	payload := evaluation.Payload{
		JobID:     job.ID,
		Task:      job.Task,
		Round:     job.Round,
		Nonce:     job.Nonce,
		Status:    status,
		RepoURL:   update.RepoURL,
		CommitSHA: update.CommitSHA,
		PagesURL:  update.PagesURL,
	}
	evalStatus := "notified"
	if err := w.notifier.Notify(ctx, job.EvaluationURL, payload); err != nil {
		evalStatus = "notify_failed"
		w.appendEvent(ctx, job.ID, domain.LevelWarn, "Evaluation callback failed")
	} else {
		w.appendEvent(ctx, job.ID, domain.LevelInfo, "Evaluation service notified")
	}
	if err := w.jobs.SetEvaluationStatus(ctx, job.ID, evalStatus); err != nil {
		w.logger.Warn("failed to record evaluation status", "job_id", job.ID, "error", err)
	}
}

// failJob records a terminal failure. Error text is redacted against the
// snapshot before it touches the job record or the event log.
func (w *Worker) failJob(ctx context.Context, job *domain.Job, status string, secrets *domain.JobSecrets, stage string, cause error) {
	message := cause.Error()
	if secrets != nil {
		message = logger.RedactAll(message, secrets.SecretValues()...)
	}
	if err := w.jobs.MarkFailed(ctx, job.ID, status, message); err != nil {
		w.logger.Error("failed to mark job failed", "job_id", job.ID, "error", err)
	}
	w.appendEvent(ctx, job.ID, domain.LevelError, fmt.Sprintf("%s failed: %s", stage, message))
	w.logger.Error("job failed", "job_id", job.ID, "status", status,
		"kind", string(domain.KindOf(cause)), "error", message)
	if status == domain.StatusDeployFailed {
		w.notifyEvaluation(ctx, job, status, domain.DeploymentUpdate{JobID: job.ID})
	}
}

func (w *Worker) appendEvent(ctx context.Context, jobID, level, message string) {
	if err := w.events.Append(ctx, &domain.Event{JobID: jobID, Level: level, Message: message}); err != nil {
		w.logger.Warn("failed to append event", "job_id", jobID, "error", err)
	}
}

func (w *Worker) clearSecrets(ctx context.Context, jobID string) {
	if err := w.secrets.ClearJobSecrets(ctx, jobID); err != nil {
		w.logger.Warn("failed to clear job secrets", "job_id", jobID, "error", err)
	}
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// generateRepoName derives a short slug from the seed and appends a random
// suffix so collisions across sessions stay unlikely.
func generateRepoName(seed string) string {
	slug := slugPattern.ReplaceAllString(strings.ToLower(seed), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "site"
	}
	if len(slug) > 40 {
		slug = strings.Trim(slug[:40], "-")
	}
	return slug + "-" + uuid.NewString()[:6]
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

// defaultReadme is written only when the manifest did not provide one.
func defaultReadme(job *domain.Job) string {
	title := job.Title
	if title == "" {
		title = job.Task
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	b.WriteString(strings.TrimSpace(job.Brief))
	b.WriteString("\n")
	if len(job.Checks) > 0 {
		b.WriteString("\n## Checks\n\n")
		for _, check := range job.Checks {
			fmt.Fprintf(&b, "- %s\n", check)
		}
	}
	return b.String()
}
