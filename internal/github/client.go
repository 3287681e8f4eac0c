package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/sitelift/sitelift/internal/domain"
)

const (
	defaultAPIBase      = "https://api.github.com"
	apiVersion          = "2022-11-28"
	createNameAttempts  = 4
	pagesBuildPollLimit = 3
)

// RepoHandle identifies a resolved repository.
type RepoHandle struct {
	Owner    string
	Name     string
	FullName string
	Private  bool
	// Existing is true when the repository predates this deploy, which
	// means round >= 2 and the branch will be overwritten.
	Existing bool
}

// URL returns the browsable repository URL.
func (h RepoHandle) URL() string {
	return "https://github.com/" + h.FullName
}

// Client provisions repositories and Pages through the GitHub REST API.
// The access token is supplied per call from the job's secret snapshot.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	maxRetries int
	retryBase  time.Duration
}

// New returns a provisioner client.
func New(logger *slog.Logger, baseURL string, timeout time.Duration, maxRetries int) *Client {
	if baseURL == "" {
		baseURL = defaultAPIBase
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		baseURL:    strings.TrimRight(baseURL, "/"),
		maxRetries: maxRetries,
		retryBase:  time.Second,
	}
}

type repoResponse struct {
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	Private  bool   `json:"private"`
	Owner    struct {
		Login string `json:"login"`
	} `json:"owner"`
}

func (c *Client) handleFrom(r repoResponse, existing bool) RepoHandle {
	return RepoHandle{
		Owner:    r.Owner.Login,
		Name:     r.Name,
		FullName: r.FullName,
		Private:  r.Private,
		Existing: existing,
	}
}

// GetRepository looks up a repository by full name.
func (c *Client) GetRepository(ctx context.Context, creds domain.GitHubCredentials, fullName string) (RepoHandle, error) {
	var repo repoResponse
	status, err := c.call(ctx, creds, http.MethodGet, "/repos/"+fullName, nil, &repo)
	if err != nil {
		return RepoHandle{}, err
	}
	if status == http.StatusNotFound {
		return RepoHandle{}, domain.Validationf("repository %s not found", fullName)
	}
	return c.handleFrom(repo, true), nil
}

// ResolveRepository reuses the requested repository when the token holder
// already owns it, and creates it otherwise. A name collision on create is
// retried with a short random suffix a bounded number of times.
func (c *Client) ResolveRepository(ctx context.Context, creds domain.GitHubCredentials, requestedName, description string, private bool) (RepoHandle, error) {
	fullName := creds.Username + "/" + requestedName
	var repo repoResponse
	status, err := c.call(ctx, creds, http.MethodGet, "/repos/"+fullName, nil, &repo)
	if err != nil {
		return RepoHandle{}, err
	}
	if status == http.StatusOK {
		c.logger.Info("reusing existing repository", "repo", repo.FullName)
		return c.handleFrom(repo, true), nil
	}

	name := requestedName
	payload := map[string]any{
		"name":        name,
		"description": shortenDescription(description),
		"private":     private,
		"auto_init":   false,
	}
	for attempt := 1; attempt <= createNameAttempts; attempt++ {
		payload["name"] = name
		var created repoResponse
		status, err := c.call(ctx, creds, http.MethodPost, "/user/repos", payload, &created)
		if err != nil {
			return RepoHandle{}, err
		}
		if status == http.StatusCreated {
			c.logger.Info("created repository", "repo", created.FullName)
			return c.handleFrom(created, false), nil
		}
		if status == http.StatusUnprocessableEntity {
			name = requestedName + "-" + uuid.NewString()[:6]
			c.logger.Warn("repository name taken, retrying with suffix", "name", name, "attempt", attempt)
			continue
		}
		return RepoHandle{}, domain.Validationf("repository creation rejected (HTTP %d)", status)
	}
	return RepoHandle{}, domain.Validationf("could not find a free repository name for %s", requestedName)
}

// Push resets the target branch to exactly the artifact's file set via the
// Git Data API: blobs, a full (non-incremental) tree, a fresh commit, and a
// force ref update. No stale file survives a round >= 2 push.
//
// Every API call here is made exactly once. Transient failures propagate to
// the caller, which retries the whole push and keeps its own attempt count;
// an inner retry would make those attempts invisible and unbounded.
func (c *Client) Push(ctx context.Context, creds domain.GitHubCredentials, handle RepoHandle, branch string, files map[string][]byte) (string, error) {
	if len(files) == 0 {
		return "", domain.Validationf("refusing to push an empty file set")
	}
	ensureLicense(files, handle.Owner)

	type treeEntry struct {
		Path string `json:"path"`
		Mode string `json:"mode"`
		Type string `json:"type"`
		SHA  string `json:"sha"`
	}
	entries := make([]treeEntry, 0, len(files))
	for path, content := range files {
		var blob struct {
			SHA string `json:"sha"`
		}
		status, err := c.do(ctx, creds, http.MethodPost, "/repos/"+handle.FullName+"/git/blobs", map[string]string{
			"content":  base64.StdEncoding.EncodeToString(content),
			"encoding": "base64",
		}, &blob)
		if err != nil {
			return "", err
		}
		if status != http.StatusCreated {
			return "", domain.Validationf("blob creation rejected for %s (HTTP %d)", path, status)
		}
		entries = append(entries, treeEntry{Path: path, Mode: "100644", Type: "blob", SHA: blob.SHA})
	}

	var tree struct {
		SHA string `json:"sha"`
	}
	status, err := c.do(ctx, creds, http.MethodPost, "/repos/"+handle.FullName+"/git/trees",
		map[string]any{"tree": entries}, &tree)
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated {
		return "", domain.Validationf("tree creation rejected (HTTP %d)", status)
	}

	var commit struct {
		SHA string `json:"sha"`
	}
	status, err = c.do(ctx, creds, http.MethodPost, "/repos/"+handle.FullName+"/git/commits", map[string]any{
		"message": "Automated deployment",
		"tree":    tree.SHA,
	}, &commit)
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated {
		return "", domain.Validationf("commit creation rejected (HTTP %d)", status)
	}

	refPath := "/repos/" + handle.FullName + "/git/refs/heads/" + branch
	status, err = c.do(ctx, creds, http.MethodPatch, refPath, map[string]any{
		"sha":   commit.SHA,
		"force": true,
	}, nil)
	if err != nil {
		return "", err
	}
	if status == http.StatusNotFound || status == http.StatusUnprocessableEntity {
		status, err = c.do(ctx, creds, http.MethodPost, "/repos/"+handle.FullName+"/git/refs", map[string]string{
			"ref": "refs/heads/" + branch,
			"sha": commit.SHA,
		}, nil)
		if err != nil {
			return "", err
		}
		if status != http.StatusCreated {
			return "", domain.Validationf("branch creation rejected (HTTP %d)", status)
		}
	} else if status >= 400 {
		return "", domain.Validationf("branch update rejected (HTTP %d)", status)
	}

	c.logger.Info("pushed artifact", "repo", handle.FullName, "branch", branch, "commit", commit.SHA, "files", len(files))
	return commit.SHA, nil
}

type pagesResponse struct {
	HTMLURL string `json:"html_url"`
	Source  struct {
		Branch string `json:"branch"`
		Path   string `json:"path"`
	} `json:"source"`
}

// EnablePages turns on static hosting for the branch/path. Calling it when
// Pages is already configured identically is a no-op returning the existing
// URL; a different source reconfigures. Private repositories are refused up
// front rather than failing downstream.
func (c *Client) EnablePages(ctx context.Context, creds domain.GitHubCredentials, handle RepoHandle, branch, path string) (string, error) {
	if handle.Private {
		return "", domain.Validationf("GitHub Pages cannot be enabled on private repository %s", handle.FullName)
	}
	if path == "" {
		path = "/"
	}
	pagesPath := "/repos/" + handle.FullName + "/pages"
	source := map[string]any{"source": map[string]string{"branch": branch, "path": path}}

	var existing pagesResponse
	status, err := c.call(ctx, creds, http.MethodGet, pagesPath, nil, &existing)
	if err != nil {
		return "", err
	}
	switch {
	case status == http.StatusOK && existing.Source.Branch == branch && existing.Source.Path == path:
		c.logger.Info("pages already enabled", "repo", handle.FullName)
		return c.pagesURL(handle, existing.HTMLURL), nil
	case status == http.StatusOK:
		status, err = c.call(ctx, creds, http.MethodPut, pagesPath, source, nil)
		if err != nil {
			return "", err
		}
		if status >= 400 {
			return "", domain.Validationf("pages reconfiguration rejected (HTTP %d)", status)
		}
	default:
		var created pagesResponse
		status, err = c.call(ctx, creds, http.MethodPost, pagesPath, source, &created)
		if err != nil {
			return "", err
		}
		if status != http.StatusCreated && status != http.StatusOK {
			return "", domain.Validationf("pages enablement rejected (HTTP %d)", status)
		}
	}

	c.waitForPagesBuild(ctx, creds, handle)
	return c.pagesURL(handle, ""), nil
}

// waitForPagesBuild polls the latest Pages build a bounded number of times.
// Best effort: a slow build does not fail the deploy.
func (c *Client) waitForPagesBuild(ctx context.Context, creds domain.GitHubCredentials, handle RepoHandle) {
	for attempt := 1; attempt <= pagesBuildPollLimit; attempt++ {
		var build struct {
			Status string `json:"status"`
		}
		status, err := c.call(ctx, creds, http.MethodGet, "/repos/"+handle.FullName+"/pages/builds/latest", nil, &build)
		if err == nil && status == http.StatusOK && (build.Status == "built" || build.Status == "ready") {
			c.logger.Info("pages build ready", "repo", handle.FullName, "attempt", attempt)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
	c.logger.Warn("pages build not confirmed ready", "repo", handle.FullName)
}

func (c *Client) pagesURL(handle RepoHandle, htmlURL string) string {
	if htmlURL != "" {
		return htmlURL
	}
	return fmt.Sprintf("https://%s.github.io/%s/", handle.Owner, handle.Name)
}

// call executes one API request with bounded backoff on transient statuses.
// 404 and 422 are returned to callers for flow decisions; 401/403 map to
// auth errors, rate-limit and 5xx to transient errors. The push sequence
// deliberately bypasses this and uses do directly.
func (c *Client) call(ctx context.Context, creds domain.GitHubCredentials, method, path string, payload, out any) (int, error) {
	var lastStatus int
	backoff := retry.WithMaxRetries(uint64(c.maxRetries), retry.NewExponential(c.retryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		status, err := c.do(ctx, creds, method, path, payload, out)
		if err != nil {
			if domain.Retryable(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		lastStatus = status
		return nil
	})
	return lastStatus, err
}

func (c *Client) do(ctx context.Context, creds domain.GitHubCredentials, method, path string, payload, out any) (int, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	req.Header.Set("User-Agent", "sitelift/"+creds.Username)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, domain.Wrap(domain.KindTransient, err, "github request failed")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return 0, domain.Wrap(domain.KindTransient, err, "read github response")
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return 0, domain.Authf("GitHub rejected the access token; reconnect GitHub")
	case resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0":
		return 0, domain.Transientf("GitHub rate limit exhausted")
	case resp.StatusCode == http.StatusForbidden:
		return 0, domain.Authf("GitHub denied access (HTTP 403)")
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return 0, domain.Transientf("GitHub unavailable (HTTP %d)", resp.StatusCode)
	}

	if out != nil && resp.StatusCode < 300 && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return 0, fmt.Errorf("decode github response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func shortenDescription(description string) string {
	collapsed := strings.Join(strings.Fields(description), " ")
	if len(collapsed) <= 140 {
		return collapsed
	}
	cut := collapsed[:140]
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "…"
}
