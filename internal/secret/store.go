package secret

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/sitelift/sitelift/internal/domain"
	"github.com/sitelift/sitelift/pkg/crypto"
)

// Store keeps session credentials and per-job secret snapshots in Redis
// under TTL keys. Values are sealed with AES-GCM before they are written;
// nothing in this store is durable.
type Store struct {
	client     *redis.Client
	sealer     *crypto.Sealer
	sessionTTL time.Duration
	jobTTL     time.Duration
}

// New connects to Redis and returns a secret store.
func New(addr, password string, db int, cipherKey string, sessionTTL, jobTTL time.Duration) (*Store, error) {
	sealer, err := crypto.NewSealer(cipherKey)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect secret redis: %w", err)
	}
	return &Store{client: client, sealer: sealer, sessionTTL: sessionTTL, jobTTL: jobTTL}, nil
}

// EnsureSession returns the session id, creating a fresh one when the
// provided id is empty or unknown. The bool reports whether a new session
// was started.
func (s *Store) EnsureSession(ctx context.Context, sessionID string) (string, bool, error) {
	if sessionID == "" {
		id := uuid.NewString()
		return id, true, s.touch(ctx, id)
	}
	exists, err := s.client.Exists(ctx, metaKey(sessionID)).Result()
	if err != nil {
		return "", false, err
	}
	if exists == 0 {
		return sessionID, true, s.touch(ctx, sessionID)
	}
	if err := s.refresh(ctx, sessionID); err != nil {
		return "", false, err
	}
	return sessionID, false, nil
}

// ResetSession discards all state for the old session and starts a new one.
func (s *Store) ResetSession(ctx context.Context, oldSessionID string) (string, error) {
	if oldSessionID != "" {
		if err := s.DeleteSession(ctx, oldSessionID); err != nil {
			return "", err
		}
	}
	id := uuid.NewString()
	return id, s.touch(ctx, id)
}

// DeleteSession removes the session marker and every credential under it.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, metaKey(sessionID), llmKey(sessionID), githubKey(sessionID)).Err()
}

// PutLLM stores LLM credentials for the session.
func (s *Store) PutLLM(ctx context.Context, sessionID string, creds domain.LLMCredentials) error {
	if err := s.putSealed(ctx, llmKey(sessionID), creds, s.sessionTTL); err != nil {
		return err
	}
	return s.touch(ctx, sessionID)
}

// GetLLM returns the session's LLM credentials, refreshing their TTL.
// Absent credentials return nil without error.
func (s *Store) GetLLM(ctx context.Context, sessionID string) (*domain.LLMCredentials, error) {
	var creds domain.LLMCredentials
	found, err := s.getSealed(ctx, llmKey(sessionID), &creds)
	if err != nil || !found {
		return nil, err
	}
	if err := s.refresh(ctx, sessionID); err != nil {
		return nil, err
	}
	return &creds, nil
}

// PutGitHub stores GitHub credentials for the session.
func (s *Store) PutGitHub(ctx context.Context, sessionID string, creds domain.GitHubCredentials) error {
	if err := s.putSealed(ctx, githubKey(sessionID), creds, s.sessionTTL); err != nil {
		return err
	}
	return s.touch(ctx, sessionID)
}

// GetGitHub returns the session's GitHub credentials, refreshing their TTL.
func (s *Store) GetGitHub(ctx context.Context, sessionID string) (*domain.GitHubCredentials, error) {
	var creds domain.GitHubCredentials
	found, err := s.getSealed(ctx, githubKey(sessionID), &creds)
	if err != nil || !found {
		return nil, err
	}
	if err := s.refresh(ctx, sessionID); err != nil {
		return nil, err
	}
	return &creds, nil
}

// IntegrationState summarizes which integrations are configured, without
// exposing any secret value.
type IntegrationState struct {
	GitHubConnected bool   `json:"github_connected"`
	GitHubUsername  string `json:"github_username,omitempty"`
	LLMConfigured   bool   `json:"llm_configured"`
	LLMProvider     string `json:"llm_provider,omitempty"`
	LLMModel        string `json:"llm_model,omitempty"`
}

// Integrations reports the configured-state of the session's credentials.
func (s *Store) Integrations(ctx context.Context, sessionID string) (IntegrationState, error) {
	var state IntegrationState
	github, err := s.GetGitHub(ctx, sessionID)
	if err != nil {
		return state, err
	}
	llm, err := s.GetLLM(ctx, sessionID)
	if err != nil {
		return state, err
	}
	if github != nil {
		state.GitHubConnected = true
		state.GitHubUsername = github.Username
	}
	if llm != nil {
		state.LLMConfigured = true
		state.LLMProvider = llm.Provider
		state.LLMModel = llm.Model
	}
	return state, nil
}

// SnapshotJob copies the session credentials a job execution needs into a
// job-scoped key with its own, shorter TTL. Missing required credentials
// surface as auth errors so the job fails without touching any upstream.
func (s *Store) SnapshotJob(ctx context.Context, jobID, sessionID string, includeLLM, includeGitHub bool) (*domain.JobSecrets, error) {
	snapshot := &domain.JobSecrets{}
	if includeLLM {
		llm, err := s.GetLLM(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if llm == nil {
			return nil, domain.Authf("LLM credentials are not configured or have expired; reconnect the provider")
		}
		snapshot.LLM = llm
	}
	if includeGitHub {
		github, err := s.GetGitHub(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if github == nil {
			return nil, domain.Authf("GitHub credentials are not configured or have expired; reconnect GitHub")
		}
		snapshot.GitHub = github
	}
	if err := s.putSealed(ctx, jobKey(jobID), snapshot, s.jobTTL); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// GetJobSecrets returns a previously taken snapshot, or nil when it has
// been cleared or expired.
func (s *Store) GetJobSecrets(ctx context.Context, jobID string) (*domain.JobSecrets, error) {
	var snapshot domain.JobSecrets
	found, err := s.getSealed(ctx, jobKey(jobID), &snapshot)
	if err != nil || !found {
		return nil, err
	}
	return &snapshot, nil
}

// ClearJobSecrets deletes the job snapshot. Called on every terminal path.
func (s *Store) ClearJobSecrets(ctx context.Context, jobID string) error {
	return s.client.Del(ctx, jobKey(jobID)).Err()
}

// Close releases the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) putSealed(ctx context.Context, key string, value any, ttl time.Duration) error {
	plain, err := json.Marshal(value)
	if err != nil {
		return err
	}
	sealed, err := s.sealer.Seal(plain)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, sealed, ttl).Err()
}

func (s *Store) getSealed(ctx context.Context, key string, out any) (bool, error) {
	sealed, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	plain, err := s.sealer.Open(sealed)
	if err != nil {
		return false, fmt.Errorf("unseal %s: %w", key, err)
	}
	return true, json.Unmarshal(plain, out)
}

func (s *Store) touch(ctx context.Context, sessionID string) error {
	return s.client.Set(ctx, metaKey(sessionID), "1", s.sessionTTL).Err()
}

// refresh implements sliding expiry: every successful read extends the
// session marker and its credential keys.
func (s *Store) refresh(ctx context.Context, sessionID string) error {
	pipe := s.client.Pipeline()
	pipe.Expire(ctx, metaKey(sessionID), s.sessionTTL)
	pipe.Expire(ctx, llmKey(sessionID), s.sessionTTL)
	pipe.Expire(ctx, githubKey(sessionID), s.sessionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func metaKey(sessionID string) string   { return "sess:" + sessionID + ":meta" }
func llmKey(sessionID string) string    { return "sess:" + sessionID + ":llm" }
func githubKey(sessionID string) string { return "sess:" + sessionID + ":github" }
func jobKey(jobID string) string        { return "job:" + jobID + ":secrets" }
