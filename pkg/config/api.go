package config

import "time"

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment        string
	Debug              bool
	Addr               string
	DatabaseURL        string
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	QueueName          string
	ArtifactRoot       string
	AcceptedSecret     string
	SecretCipherKey    string
	PreviewSigningKey  string
	PreviewBaseURL     string
	PreviewTTL         time.Duration
	SessionTTL         time.Duration
	JobSecretTTL       time.Duration
	AttachmentMaxBytes int64
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:        GetString("APP_ENV", "development"),
		Debug:              GetBool("DEBUG", false),
		Addr:               GetString("API_ADDR", ":4000"),
		DatabaseURL:        GetString("DATABASE_URL", "postgres://sitelift:sitelift@db:5432/sitelift?sslmode=disable"),
		RedisAddr:          GetString("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:      GetString("REDIS_PASSWORD", ""),
		RedisDB:            GetInt("REDIS_DB", 0),
		QueueName:          GetString("QUEUE_NAME", "sitelift:jobs"),
		ArtifactRoot:       GetString("ARTIFACT_ROOT", "./data/artifacts"),
		AcceptedSecret:     GetString("ACCEPTED_SECRET", ""),
		SecretCipherKey:    GetString("SECRET_CIPHER_KEY", "supersecuresecret"),
		PreviewSigningKey:  GetString("PREVIEW_SIGNING_KEY", "supersecuresecret"),
		PreviewBaseURL:     GetString("PREVIEW_BASE_URL", "http://localhost:4000"),
		PreviewTTL:         GetDuration("PREVIEW_TTL", time.Hour),
		SessionTTL:         GetDuration("SESSION_TTL", 8*time.Hour),
		JobSecretTTL:       GetDuration("JOB_SECRET_TTL", 30*time.Minute),
		AttachmentMaxBytes: int64(GetInt("ATTACHMENT_MAX_BYTES", 1_048_576)),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}
