package domain

// LLMCredentials configure one generation provider for a session.
type LLMCredentials struct {
	Provider string `json:"provider"`
	APIKey   string `json:"api_key"`
	Model    string `json:"model"`
}

// GitHubCredentials hold a user-scoped access token. The token exchange
// itself happens outside this service; only the resulting opaque token is
// stored, and only in the TTL store.
type GitHubCredentials struct {
	AccessToken string `json:"access_token"`
	Username    string `json:"username"`
}

// JobSecrets is the snapshot of session credentials taken for the duration
// of one job execution. Deleted on every terminal path.
type JobSecrets struct {
	LLM    *LLMCredentials    `json:"llm,omitempty"`
	GitHub *GitHubCredentials `json:"github,omitempty"`
}

// SecretValues lists the raw secret strings in the snapshot, for redaction
// at the logging boundary.
func (s JobSecrets) SecretValues() []string {
	var values []string
	if s.LLM != nil && s.LLM.APIKey != "" {
		values = append(values, s.LLM.APIKey)
	}
	if s.GitHub != nil && s.GitHub.AccessToken != "" {
		values = append(values, s.GitHub.AccessToken)
	}
	return values
}
