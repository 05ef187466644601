package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the stylizer server.
type Config struct {
	Server   ServerConfig
	Uploads  UploadsConfig
	Store    StoreConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Provider ProviderConfig
	Jobs     JobsConfig
}

type ServerConfig struct {
	Port     int
	Env      string
	LogLevel string
}

type UploadsConfig struct {
	Dir              string
	MaxBytes         int64
	RateLimitPerMin  int
	AnalysisCacheTTL time.Duration
	AnalysisTimeout  time.Duration
}

type StoreConfig struct {
	Backend string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type ProviderConfig struct {
	Name        string
	HTTPTimeout time.Duration
	Simulated   SimulatedConfig
	Replicate   ReplicateConfig
	OpenAI      OpenAIConfig
}

type SimulatedConfig struct {
	Delay time.Duration
}

type ReplicateConfig struct {
	APIKey       string
	BaseURL      string
	ModelVersion string
}

type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	ImageModel  string
	VisionModel string
}

// JobsConfig controls orchestration pacing and the background sweeper.
type JobsConfig struct {
	PollInterval    time.Duration
	MaxPollAttempts int
	SweepInterval   time.Duration
	Retention       time.Duration
}

// MaxRunTime is the longest an orchestration can legitimately poll.
func (j JobsConfig) MaxRunTime() time.Duration {
	return j.PollInterval * time.Duration(j.MaxPollAttempts)
}

const (
	defaultMaxUploadBytes = 10 * 1024 * 1024

	defaultReplicateBaseURL = "https://api.replicate.com/v1"
	defaultReplicateVersion = "28cea91bdfced0e2dc7fda466cc7a07f7c7917dd86df1b0d8cee4b76c618"
	defaultOpenAIBaseURL    = "https://api.openai.com/v1"
)

var validProviders = map[string]bool{
	"simulated": true,
	"replicate": true,
	"openai":    true,
}

var validBackends = map[string]bool{
	"memory":   true,
	"postgres": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// If STYLIZER_CONFIG names a YAML file, its keys provide defaults that the environment overrides.
func Load() (*Config, error) {
	return LoadFile(os.Getenv("STYLIZER_CONFIG"))
}

// LoadFile is Load with an explicit config file path. An empty path means environment only.
func LoadFile(path string) (*Config, error) {
	src := source{}
	if path != "" {
		file, err := readFile(path)
		if err != nil {
			return nil, err
		}
		src.file = file
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:     src.envInt("STYLIZER_PORT", 8080),
			Env:      src.envString("STYLIZER_ENV", "development"),
			LogLevel: src.envString("STYLIZER_LOG_LEVEL", "info"),
		},
		Uploads: UploadsConfig{
			Dir:              src.envString("UPLOADS_DIR", "uploads"),
			MaxBytes:         int64(src.envInt("MAX_UPLOAD_BYTES", defaultMaxUploadBytes)),
			RateLimitPerMin:  src.envInt("UPLOAD_RATE_LIMIT_PER_MIN", 30),
			AnalysisCacheTTL: src.envDuration("ANALYSIS_CACHE_TTL", 10*time.Minute),
			AnalysisTimeout:  src.envDuration("ANALYSIS_TIMEOUT", 30*time.Second),
		},
		Store: StoreConfig{
			Backend: src.envString("STORE_BACKEND", "memory"),
		},
		Database: DatabaseConfig{
			URL:             src.envString("DATABASE_URL", ""),
			MaxOpenConns:    src.envInt("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    src.envInt("DATABASE_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: src.envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: src.envString("REDIS_URL", ""),
		},
		Provider: ProviderConfig{
			Name:        src.envString("TRANSFORM_PROVIDER", "simulated"),
			HTTPTimeout: src.envDuration("PROVIDER_HTTP_TIMEOUT", 60*time.Second),
			Simulated: SimulatedConfig{
				Delay: src.envDuration("SIMULATED_DELAY", 0),
			},
			Replicate: ReplicateConfig{
				APIKey:       src.envString("REPLICATE_API_KEY", ""),
				BaseURL:      src.envString("REPLICATE_BASE_URL", defaultReplicateBaseURL),
				ModelVersion: src.envString("REPLICATE_MODEL_VERSION", defaultReplicateVersion),
			},
			OpenAI: OpenAIConfig{
				APIKey:      src.envString("OPENAI_API_KEY", ""),
				BaseURL:     src.envString("OPENAI_BASE_URL", defaultOpenAIBaseURL),
				ImageModel:  src.envString("OPENAI_IMAGE_MODEL", "gpt-image-1"),
				VisionModel: src.envString("OPENAI_VISION_MODEL", "gpt-4o"),
			},
		},
		Jobs: JobsConfig{
			PollInterval:    src.envDuration("POLL_INTERVAL", 5*time.Second),
			MaxPollAttempts: src.envInt("POLL_MAX_ATTEMPTS", 60),
			SweepInterval:   src.envDuration("SWEEP_INTERVAL", time.Minute),
			Retention:       src.envDuration("JOB_RETENTION", 0),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("STYLIZER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Uploads.Dir == "" {
		return fmt.Errorf("UPLOADS_DIR is required")
	}
	if c.Uploads.MaxBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.Uploads.MaxBytes)
	}

	if !validBackends[c.Store.Backend] {
		return fmt.Errorf("STORE_BACKEND must be one of memory, postgres; got %q", c.Store.Backend)
	}
	if c.Store.Backend == "postgres" && c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND is postgres")
	}

	if c.Redis.URL != "" && !strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return fmt.Errorf("REDIS_URL must start with redis:// or rediss://, got %q", c.Redis.URL)
	}

	if !validProviders[c.Provider.Name] {
		return fmt.Errorf("TRANSFORM_PROVIDER must be one of simulated, replicate, openai; got %q", c.Provider.Name)
	}
	if c.Provider.Name == "replicate" && c.Provider.Replicate.APIKey == "" {
		return fmt.Errorf("REPLICATE_API_KEY is required when TRANSFORM_PROVIDER is replicate")
	}
	if c.Provider.Name == "openai" && c.Provider.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when TRANSFORM_PROVIDER is openai")
	}

	if c.Jobs.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive, got %v", c.Jobs.PollInterval)
	}
	if c.Jobs.MaxPollAttempts <= 0 {
		return fmt.Errorf("POLL_MAX_ATTEMPTS must be positive, got %d", c.Jobs.MaxPollAttempts)
	}
	if c.Jobs.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive, got %v", c.Jobs.SweepInterval)
	}
	if c.Jobs.Retention < 0 {
		return fmt.Errorf("JOB_RETENTION must not be negative, got %v", c.Jobs.Retention)
	}

	return nil
}

// readFile parses a flat YAML mapping whose keys are the environment variable names.
func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var raw map[string]any
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	values := make(map[string]string, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		values[strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return values, nil
}

// source resolves a key from the environment first, then the config file.
type source struct {
	file map[string]string
}

func (s source) lookup(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return s.file[key]
}

func (s source) envString(key, defaultVal string) string {
	if v := s.lookup(key); v != "" {
		return v
	}
	return defaultVal
}

func (s source) envInt(key string, defaultVal int) int {
	v := s.lookup(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func (s source) envDuration(key string, defaultVal time.Duration) time.Duration {
	v := s.lookup(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		// Bare integers are read as seconds.
		if secs, convErr := strconv.Atoi(v); convErr == nil {
			return time.Duration(secs) * time.Second
		}
		return defaultVal
	}
	return d
}
