package config

import "time"

// APIConfig holds runtime configuration for the orchestration API service.
type APIConfig struct {
	Environment        string
	Addr               string
	LogLevel           string
	StorageBackend     string
	DatabaseURL        string
	MigrationsDir      string
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	EventStreamName    string
	NotifyChannel      string
	RunnerMode         string
	RunnerURL          string
	RunnerTimeout      time.Duration
	RunnerImage        string
	RunnerContainer    string
	DockerHost         string
	ModuleBucket       string
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("API_ADDR", ":4000"),
		LogLevel:           GetString("LOG_LEVEL", "info"),
		StorageBackend:     GetString("STORAGE_BACKEND", "postgres"),
		DatabaseURL:        GetString("DATABASE_URL", "postgres://outpost:outpost@db:5432/outpost?sslmode=disable"),
		MigrationsDir:      GetString("DB_MIGRATIONS_DIR", "./db/migrations"),
		RedisAddr:          GetString("REDIS_ADDR", "redis:6379"),
		RedisPassword:      GetString("REDIS_PASSWORD", ""),
		RedisDB:            GetInt("REDIS_DB", 0),
		EventStreamName:    GetString("EVENT_STREAM_NAME", "deployment-events"),
		NotifyChannel:      GetString("NOTIFY_CHANNEL", "deployment-notifications"),
		RunnerMode:         GetString("RUNNER_MODE", "http"),
		RunnerURL:          GetString("RUNNER_URL", "http://runner:5000"),
		RunnerTimeout:      time.Duration(GetInt("RUNNER_TIMEOUT_SECONDS", 30)) * time.Second,
		RunnerImage:        GetString("RUNNER_IMAGE", "outpost/runner:latest"),
		RunnerContainer:    GetString("RUNNER_CONTAINER_PREFIX", "outpost-runner"),
		DockerHost:         GetString("DOCKER_HOST", "unix:///var/run/docker.sock"),
		ModuleBucket:       GetString("MODULE_BUCKET", "outpost-modules"),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}
