package session

import (
	"context"
	"log/slog"
	"strings"

	"github.com/sitelift/sitelift/internal/domain"
	"github.com/sitelift/sitelift/internal/generate"
	"github.com/sitelift/sitelift/internal/secret"
)

// Service manages session lifecycle and credential connections. All state
// lives in the TTL secret store; nothing here touches the database.
type Service struct {
	store  *secret.Store
	logger *slog.Logger
}

// New returns a session service.
func New(store *secret.Store, logger *slog.Logger) Service {
	return Service{store: store, logger: logger}
}

// Ensure returns a live session id, minting one when the provided id is
// empty or expired. The bool reports whether a new session was started.
func (s Service) Ensure(ctx context.Context, sessionID string) (string, bool, error) {
	id, created, err := s.store.EnsureSession(ctx, sessionID)
	if err != nil {
		return "", false, err
	}
	if created {
		s.logger.Info("session started", "session_id", id)
	}
	return id, created, nil
}

// Delete removes the session and every credential stored under it.
func (s Service) Delete(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return domain.Validationf("session id is required")
	}
	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	s.logger.Info("session deleted", "session_id", sessionID)
	return nil
}

// ConnectLLM validates and stores generation provider credentials.
func (s Service) ConnectLLM(ctx context.Context, sessionID string, creds domain.LLMCredentials) (domain.LLMCredentials, error) {
	if sessionID == "" {
		return domain.LLMCredentials{}, domain.Validationf("session id is required")
	}
	creds.Provider = strings.ToLower(strings.TrimSpace(creds.Provider))
	creds.APIKey = strings.TrimSpace(creds.APIKey)
	if !generate.SupportedProvider(creds.Provider) {
		return domain.LLMCredentials{}, domain.Validationf("unsupported LLM provider: %s", creds.Provider)
	}
	if creds.APIKey == "" {
		return domain.LLMCredentials{}, domain.Validationf("api_key is required")
	}
	model, err := generate.ResolveModel(creds.Provider, strings.TrimSpace(creds.Model))
	if err != nil {
		return domain.LLMCredentials{}, err
	}
	creds.Model = model
	if _, _, err := s.store.EnsureSession(ctx, sessionID); err != nil {
		return domain.LLMCredentials{}, err
	}
	if err := s.store.PutLLM(ctx, sessionID, creds); err != nil {
		return domain.LLMCredentials{}, err
	}
	s.logger.Info("llm connected", "session_id", sessionID, "provider", creds.Provider, "model", creds.Model)
	return creds, nil
}

// ConnectGitHub stores a user-scoped access token for deployments.
func (s Service) ConnectGitHub(ctx context.Context, sessionID string, creds domain.GitHubCredentials) error {
	if sessionID == "" {
		return domain.Validationf("session id is required")
	}
	creds.AccessToken = strings.TrimSpace(creds.AccessToken)
	creds.Username = strings.TrimSpace(creds.Username)
	if creds.AccessToken == "" {
		return domain.Validationf("access_token is required")
	}
	if creds.Username == "" {
		return domain.Validationf("username is required")
	}
	if _, _, err := s.store.EnsureSession(ctx, sessionID); err != nil {
		return err
	}
	if err := s.store.PutGitHub(ctx, sessionID, creds); err != nil {
		return err
	}
	s.logger.Info("github connected", "session_id", sessionID, "username", creds.Username)
	return nil
}

// Integrations reports which credentials the session currently holds.
func (s Service) Integrations(ctx context.Context, sessionID string) (secret.IntegrationState, error) {
	if sessionID == "" {
		return secret.IntegrationState{}, domain.Validationf("session id is required")
	}
	return s.store.Integrations(ctx, sessionID)
}
