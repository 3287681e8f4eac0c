package config

import "time"

// WorkerConfig holds runtime configuration for the build/deploy worker.
type WorkerConfig struct {
	Environment        string
	Debug              bool
	DatabaseURL        string
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	QueueName          string
	ArtifactRoot       string
	WorkspaceRoot      string
	SecretCipherKey    string
	GitHubAPIBaseURL   string
	DefaultBranch      string
	RequestTimeout     time.Duration
	MaxRetries         int
	AttachmentMaxBytes int64
	SessionTTL         time.Duration
	JobSecretTTL       time.Duration
	EvaluationTimeout  time.Duration
	MetricsAddr        string
}

// LoadWorkerConfig constructs a WorkerConfig from environment variables.
func LoadWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Environment:        GetString("APP_ENV", "development"),
		Debug:              GetBool("DEBUG", false),
		DatabaseURL:        GetString("DATABASE_URL", "postgres://sitelift:sitelift@db:5432/sitelift?sslmode=disable"),
		RedisAddr:          GetString("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:      GetString("REDIS_PASSWORD", ""),
		RedisDB:            GetInt("REDIS_DB", 0),
		QueueName:          GetString("QUEUE_NAME", "sitelift:jobs"),
		ArtifactRoot:       GetString("ARTIFACT_ROOT", "./data/artifacts"),
		WorkspaceRoot:      GetString("WORKSPACE_ROOT", "/tmp/sitelift"),
		SecretCipherKey:    GetString("SECRET_CIPHER_KEY", "supersecuresecret"),
		GitHubAPIBaseURL:   GetString("GITHUB_API_BASE_URL", "https://api.github.com"),
		DefaultBranch:      GetString("GITHUB_DEFAULT_BRANCH", "main"),
		RequestTimeout:     GetDuration("REQUEST_TIMEOUT", 30*time.Second),
		MaxRetries:         GetInt("MAX_RETRIES", 3),
		AttachmentMaxBytes: int64(GetInt("ATTACHMENT_MAX_BYTES", 1_048_576)),
		SessionTTL:         GetDuration("SESSION_TTL", 8*time.Hour),
		JobSecretTTL:       GetDuration("JOB_SECRET_TTL", 30*time.Minute),
		EvaluationTimeout:  GetDuration("EVALUATION_CALLBACK_TIMEOUT", 15*time.Second),
		MetricsAddr:        GetString("WORKER_METRICS_ADDR", ":5001"),
	}
}
