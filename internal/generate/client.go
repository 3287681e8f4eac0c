package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/sitelift/sitelift/internal/domain"
)

const systemPrompt = "You generate production-ready static web apps that are directly deployable. " +
	"Never require server-side runtime, package installation, or build commands. " +
	"Always respond with strict JSON that matches the requested schema."

// Client requests file manifests from one LLM provider on behalf of a job.
// Credentials are supplied per call from the job's secret snapshot and are
// never retained.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	maxRetries int
	retryBase  time.Duration
	// baseURL overrides the provider endpoint; empty outside tests.
	baseURL string
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL points the client at an alternate endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// New returns a manifest generation client.
func New(logger *slog.Logger, timeout time.Duration, maxRetries int, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		maxRetries: maxRetries,
		retryBase:  time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate produces a validated manifest for the brief. Transient upstream
// failures are retried with bounded backoff; a schema violation in an
// otherwise successful completion is retried exactly once.
func (c *Client) Generate(ctx context.Context, creds domain.LLMCredentials, brief string, attachments []domain.Attachment) (*domain.Manifest, error) {
	if !SupportedProvider(creds.Provider) {
		return nil, domain.Validationf("unsupported LLM provider: %s", creds.Provider)
	}
	prompt := buildPrompt(brief, attachments)

	raw, err := c.completeWithRetry(ctx, creds, prompt)
	if err != nil {
		return nil, err
	}
	manifest, err := domain.ParseManifest(raw)
	if err == nil {
		return manifest, nil
	}
	if domain.KindOf(err) != domain.KindValidation {
		return nil, err
	}

	c.logger.Warn("manifest schema violation, retrying generation once",
		"provider", creds.Provider, "model", creds.Model, "error", err)
	raw, retryErr := c.completeWithRetry(ctx, creds, prompt)
	if retryErr != nil {
		return nil, retryErr
	}
	return domain.ParseManifest(raw)
}

func (c *Client) completeWithRetry(ctx context.Context, creds domain.LLMCredentials, prompt string) (string, error) {
	var raw string
	backoff := retry.WithMaxRetries(uint64(c.maxRetries), retry.NewExponential(c.retryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		content, err := c.complete(ctx, creds, prompt)
		if err != nil {
			if domain.Retryable(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		raw = content
		return nil
	})
	return raw, err
}

func (c *Client) complete(ctx context.Context, creds domain.LLMCredentials, prompt string) (string, error) {
	switch creds.Provider {
	case ProviderPerplexity:
		return c.chatCompletion(ctx, c.endpoint("https://api.perplexity.ai/chat/completions"), creds, prompt, "max_tokens")
	case ProviderOpenAI:
		return c.chatCompletion(ctx, c.endpoint("https://api.openai.com/v1/chat/completions"), creds, prompt, "max_completion_tokens")
	case ProviderAIPipe:
		return c.chatCompletion(ctx, c.endpoint("https://aipipe.org/openrouter/v1/chat/completions"), creds, prompt, "max_tokens")
	case ProviderAnthropic:
		return c.anthropicMessages(ctx, creds, prompt)
	case ProviderGemini:
		return c.geminiGenerate(ctx, creds, prompt)
	}
	return "", domain.Validationf("unsupported LLM provider: %s", creds.Provider)
}

func (c *Client) endpoint(def string) string {
	if c.baseURL != "" {
		return c.baseURL
	}
	return def
}

func (c *Client) chatCompletion(ctx context.Context, endpoint string, creds domain.LLMCredentials, prompt, maxTokensKey string) (string, error) {
	payload := map[string]any{
		"model": creds.Model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": prompt},
		},
		maxTokensKey: 3200,
	}
	body, err := c.post(ctx, endpoint, payload, map[string]string{
		"Authorization": "Bearer " + creds.APIKey,
		"Content-Type":  "application/json",
	})
	if err != nil {
		return "", err
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content json.RawMessage `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil || len(parsed.Choices) == 0 {
		return "", domain.Validationf("chat completion response missing assistant content")
	}
	return decodeContent(parsed.Choices[0].Message.Content)
}

func (c *Client) anthropicMessages(ctx context.Context, creds domain.LLMCredentials, prompt string) (string, error) {
	payload := map[string]any{
		"model":      creds.Model,
		"max_tokens": 3200,
		"system":     systemPrompt,
		"messages":   []map[string]string{{"role": "user", "content": prompt}},
	}
	body, err := c.post(ctx, c.endpoint("https://api.anthropic.com/v1/messages"), payload, map[string]string{
		"x-api-key":         creds.APIKey,
		"anthropic-version": "2023-06-01",
		"content-type":      "application/json",
	})
	if err != nil {
		return "", err
	}

	var parsed struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil || len(parsed.Content) == 0 {
		return "", domain.Validationf("anthropic response missing content array")
	}
	var chunks []string
	for _, block := range parsed.Content {
		if block.Type == "text" && block.Text != "" {
			chunks = append(chunks, block.Text)
		}
	}
	if len(chunks) == 0 {
		return "", domain.Validationf("anthropic response missing text output")
	}
	return strings.Join(chunks, "\n"), nil
}

func (c *Client) geminiGenerate(ctx context.Context, creds domain.LLMCredentials, prompt string) (string, error) {
	endpoint := c.baseURL
	if endpoint == "" {
		endpoint = "https://generativelanguage.googleapis.com/v1beta/models/" +
			url.PathEscape(creds.Model) + ":generateContent"
	}
	endpoint += "?key=" + url.QueryEscape(creds.APIKey)
	payload := map[string]any{
		"systemInstruction": map[string]any{"parts": []map[string]string{{"text": systemPrompt}}},
		"contents":          []map[string]any{{"parts": []map[string]string{{"text": prompt}}}},
	}
	body, err := c.post(ctx, endpoint, payload, map[string]string{"Content-Type": "application/json"})
	if err != nil {
		return "", err
	}

	var parsed struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil || len(parsed.Candidates) == 0 {
		return "", domain.Validationf("gemini response missing candidates")
	}
	var chunks []string
	for _, part := range parsed.Candidates[0].Content.Parts {
		if part.Text != "" {
			chunks = append(chunks, part.Text)
		}
	}
	if len(chunks) == 0 {
		return "", domain.Validationf("gemini response missing text output")
	}
	return strings.Join(chunks, "\n"), nil
}

// post executes one provider request and classifies the response status:
// 401/403 are auth failures, 429 and 5xx are transient, other 4xx are
// validation failures. Response bodies never reach error messages raw.
func (c *Client) post(ctx context.Context, endpoint string, payload any, headers map[string]string) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.Wrap(domain.KindTransient, err, "generation request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, domain.Wrap(domain.KindTransient, err, "read generation response")
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, domain.Authf("generation provider rejected the API key (HTTP %d)", resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, domain.Transientf("generation provider unavailable (HTTP %d)", resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, domain.Validationf("generation request rejected (HTTP %d)", resp.StatusCode)
	}
	return body, nil
}

// decodeContent handles both plain-string and block-array content shapes.
func decodeContent(raw json.RawMessage) (string, error) {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, nil
	}
	var blocks []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var chunks []string
		for _, block := range blocks {
			if block.Text != "" {
				chunks = append(chunks, block.Text)
			}
		}
		if len(chunks) > 0 {
			return strings.Join(chunks, "\n"), nil
		}
	}
	return "", domain.Validationf("chat completion response missing assistant content")
}

func buildPrompt(brief string, attachments []domain.Attachment) string {
	var names []string
	for _, a := range attachments {
		names = append(names, a.Name)
	}
	attachmentNote := "none"
	if len(names) > 0 {
		attachmentNote = strings.Join(names, ", ")
	}
	return fmt.Sprintf(`Build a static frontend project from this brief:
%s

Attachments that will be placed alongside your files: %s

Requirements:
- Return ONLY JSON matching this schema:
{
  "files": [
    {
      "path": "relative/path/to/file.ext",
      "content": "file contents as string or base64",
      "encoding": "text|base64",
      "executable": false
    }
  ],
  "readme": "optional README.md content",
  "commands": []
}
- Output must run as a static site on GitHub Pages without any build step.
- Include an index.html entry point and all required static assets in files.
- commands must always be an empty array because shell/build execution is disabled.
- Use browser-safe JavaScript only. Do not use server/runtime APIs.
- Do not depend on environment variables or backend-only secrets.
- If the brief is ambiguous, prefer a simple vanilla HTML/CSS/JS implementation that works immediately.`, brief, attachmentNote)
}
