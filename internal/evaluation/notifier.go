package evaluation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
)

// Payload is posted to the caller-supplied evaluation URL when a deploy
// reaches a terminal outcome.
type Payload struct {
	JobID     string `json:"job_id"`
	Task      string `json:"task,omitempty"`
	Round     int    `json:"round,omitempty"`
	Nonce     string `json:"nonce,omitempty"`
	Status    string `json:"status"`
	RepoURL   string `json:"repo_url,omitempty"`
	CommitSHA string `json:"commit_sha,omitempty"`
	PagesURL  string `json:"pages_url,omitempty"`
}

// Notifier delivers evaluation callbacks. Delivery is best effort: bounded
// retries, then the failure is logged and the job completes regardless.
type Notifier struct {
	httpClient *http.Client
	logger     *slog.Logger
	maxRetries int
	retryBase  time.Duration
}

// New returns a notifier.
func New(logger *slog.Logger, timeout time.Duration, maxRetries int) *Notifier {
	return &Notifier{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		maxRetries: maxRetries,
		retryBase:  time.Second,
	}
}

// Notify posts the payload to url. The returned error is informational;
// callers log it and move on.
func (n *Notifier) Notify(ctx context.Context, url string, payload Payload) error {
	if url == "" {
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	backoff := retry.WithMaxRetries(uint64(n.maxRetries), retry.NewExponential(n.retryBase))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := n.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return retry.RetryableError(fmt.Errorf("evaluation callback returned HTTP %d", resp.StatusCode))
		}
		return nil
	})
	if err != nil {
		n.logger.Warn("evaluation callback failed after retries", "url", url, "job_id", payload.JobID, "error", err)
		return err
	}
	n.logger.Info("evaluation callback delivered", "url", url, "job_id", payload.JobID)
	return nil
}
