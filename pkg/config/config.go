package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Timetable generation strategies.
const (
	StrategyScheduler = "scheduler"
	StrategyGenerator = "generator"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database  DatabaseConfig
	Redis     RedisConfig
	CORS      CORSConfig
	Log       LogConfig
	Generator GeneratorConfig
	Timetable TimetableConfig
	Workflow  WorkflowConfig
	Recovery  RecoveryConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

// RedisConfig configures the optional job lock backend.
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// GeneratorConfig describes the external text-generation service.
type GeneratorConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// TimetableConfig tunes the constraint scheduler and strategy selection.
type TimetableConfig struct {
	Strategy     string
	BreakMinutes int
	LunchMinutes int
}

// WorkflowConfig governs job delivery and the step runner retry policy.
type WorkflowConfig struct {
	Workers            int
	BufferSize         int
	DeliveryRetries    int
	RetryDelay         time.Duration
	MaxStepAttempts    int
	MalformedRetries   int
	LockTTL            time.Duration
	QuestionCountLimit int
}

// RecoveryConfig controls the periodic sweep that re-delivers stale jobs.
type RecoveryConfig struct {
	Enabled    bool
	Spec       string
	StaleAfter time.Duration
	BatchSize  int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("ENABLE_REDIS_LOCKS"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.CORS = CORSConfig{
		AllowedOrigins: splitAndTrim(v.GetString("CORS_ALLOWED_ORIGINS")),
	}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Generator = GeneratorConfig{
		APIKey:  v.GetString("GOOGLE_GENERATIVE_AI_API_KEY"),
		BaseURL: v.GetString("GENERATOR_BASE_URL"),
		Model:   v.GetString("GENERATOR_MODEL"),
		Timeout: parseDuration(v.GetString("GENERATOR_TIMEOUT"), 60*time.Second),
	}

	cfg.Timetable = TimetableConfig{
		Strategy:     normalizeStrategy(v.GetString("TIMETABLE_STRATEGY")),
		BreakMinutes: v.GetInt("TIMETABLE_BREAK_MINUTES"),
		LunchMinutes: v.GetInt("TIMETABLE_LUNCH_MINUTES"),
	}

	cfg.Workflow = WorkflowConfig{
		Workers:            v.GetInt("WORKFLOW_WORKERS"),
		BufferSize:         v.GetInt("WORKFLOW_BUFFER_SIZE"),
		DeliveryRetries:    v.GetInt("WORKFLOW_DELIVERY_RETRIES"),
		RetryDelay:         parseDuration(v.GetString("WORKFLOW_RETRY_DELAY"), 5*time.Second),
		MaxStepAttempts:    v.GetInt("WORKFLOW_MAX_STEP_ATTEMPTS"),
		MalformedRetries:   v.GetInt("WORKFLOW_MALFORMED_RETRIES"),
		LockTTL:            parseDuration(v.GetString("WORKFLOW_LOCK_TTL"), 5*time.Minute),
		QuestionCountLimit: v.GetInt("EXAM_QUESTION_COUNT_LIMIT"),
	}

	cfg.Recovery = RecoveryConfig{
		Enabled:    v.GetBool("ENABLE_JOB_RECOVERY"),
		Spec:       v.GetString("JOB_RECOVERY_CRON"),
		StaleAfter: parseDuration(v.GetString("JOB_RECOVERY_STALE_AFTER"), 10*time.Minute),
		BatchSize:  v.GetInt("JOB_RECOVERY_BATCH_SIZE"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "sma_generation")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("ENABLE_REDIS_LOCKS", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("CORS_ALLOWED_ORIGINS", "")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("GOOGLE_GENERATIVE_AI_API_KEY", "")
	v.SetDefault("GENERATOR_BASE_URL", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("GENERATOR_MODEL", "gemini-1.5-flash")
	v.SetDefault("GENERATOR_TIMEOUT", "60s")

	v.SetDefault("TIMETABLE_STRATEGY", StrategyScheduler)
	v.SetDefault("TIMETABLE_BREAK_MINUTES", 10)
	v.SetDefault("TIMETABLE_LUNCH_MINUTES", 30)

	v.SetDefault("WORKFLOW_WORKERS", 2)
	v.SetDefault("WORKFLOW_BUFFER_SIZE", 64)
	v.SetDefault("WORKFLOW_DELIVERY_RETRIES", 5)
	v.SetDefault("WORKFLOW_RETRY_DELAY", "5s")
	v.SetDefault("WORKFLOW_MAX_STEP_ATTEMPTS", 5)
	v.SetDefault("WORKFLOW_MALFORMED_RETRIES", 1)
	v.SetDefault("WORKFLOW_LOCK_TTL", "5m")
	v.SetDefault("EXAM_QUESTION_COUNT_LIMIT", 50)

	v.SetDefault("ENABLE_JOB_RECOVERY", true)
	v.SetDefault("JOB_RECOVERY_CRON", "@every 1m")
	v.SetDefault("JOB_RECOVERY_STALE_AFTER", "10m")
	v.SetDefault("JOB_RECOVERY_BATCH_SIZE", 50)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func normalizeStrategy(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case StrategyGenerator:
		return StrategyGenerator
	default:
		return StrategyScheduler
	}
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
