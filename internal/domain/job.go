package domain

import "time"

// Job statuses. A job moves queued -> in_progress -> completed|failed for
// the build path, and completed -> deploying -> completed|deploy_failed for
// an explicit deploy. completed, failed and deploy_failed are terminal.
const (
	StatusQueued       = "queued"
	StatusInProgress   = "in_progress"
	StatusCompleted    = "completed"
	StatusDeploying    = "deploying"
	StatusFailed       = "failed"
	StatusDeployFailed = "deploy_failed"
)

// Repository visibility values accepted at submission.
const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
)

// Job is the durable record of one build (and optionally its deployment).
// It never stores credential material; secrets live in the TTL store keyed
// by session.
type Job struct {
	ID               string
	SessionID        string
	Task             string
	Round            int
	Nonce            string
	Title            string
	Brief            string
	Checks           []string
	Attachments      []Attachment
	EvaluationURL    string
	Status           string
	ArtifactRef      string
	RepoName         string
	RepoVisibility   string
	RepoFullName     string
	RepoURL          string
	PagesURL         string
	CommitSHA        string
	ErrorMessage     string
	EvaluationStatus string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Deployed reports whether the job already carries deployment fields.
func (j *Job) Deployed() bool {
	return j.RepoURL != ""
}

// Terminal reports whether the job can no longer change state on its own.
func Terminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusDeployFailed:
		return true
	}
	return false
}

// DeploymentUpdate captures the fields written by a successful deploy.
type DeploymentUpdate struct {
	JobID        string
	RepoName     string
	RepoFullName string
	RepoURL      string
	PagesURL     string
	CommitSHA    string
}
