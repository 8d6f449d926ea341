package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// Session store variants.
const (
	SessionBackendRedis = "redis"
	SessionBackendJWT   = "jwt"
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	DatabaseURL string `yaml:"databaseURL"`

	OllamaHost           string   `yaml:"ollamaHost"`
	OllamaAPIKey         string   `yaml:"ollamaAPIKey"`
	OllamaTimeoutSeconds int      `yaml:"ollamaTimeoutSeconds"`
	DefaultModel         string   `yaml:"defaultModel"`
	AllowedModels        []string `yaml:"allowedModels"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	SessionBackend  string `yaml:"sessionBackend"`
	SessionTTLHours int    `yaml:"sessionTTLHours"`
	SessionSecret   string `yaml:"sessionSecret"`
	RedisAddr       string `yaml:"redisAddr"`
	RedisPassword   string `yaml:"redisPassword"`

	LoginRateLimit         int `yaml:"loginRateLimit"`
	LoginRateWindowSeconds int `yaml:"loginRateWindowSeconds"`

	AMQPURL      string `yaml:"amqpURL"`
	AMQPExchange string `yaml:"amqpExchange"`

	AdminUser     string `yaml:"adminUser"`
	AdminPassword string `yaml:"adminPassword"`

	MaxUploadBytes int64 `yaml:"maxUploadBytes"`
}

// Load reads config from path (defaults to config.yaml) and applies
// environment overrides.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		cfg.OllamaHost = v
	}
	if v := os.Getenv("OLLAMA_API_KEY"); v != "" {
		cfg.OllamaAPIKey = v
	}
	if v := os.Getenv("CLASSCHAT_DEFAULT_MODEL"); v != "" {
		cfg.DefaultModel = v
	}
	if v := os.Getenv("CLASSCHAT_ALLOWED_MODELS"); v != "" {
		cfg.AllowedModels = splitCSV(v)
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v == "true" {
		cfg.MinioUseSSL = true
	}
	if v := os.Getenv("CLASSCHAT_SESSION_BACKEND"); v != "" {
		cfg.SessionBackend = v
	}
	if v := os.Getenv("CLASSCHAT_SESSION_SECRET"); v != "" {
		cfg.SessionSecret = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.AMQPURL = v
	}
	if v := os.Getenv("CLASSCHAT_ADMIN_USER"); v != "" {
		cfg.AdminUser = v
	}
	if v := os.Getenv("CLASSCHAT_ADMIN_PASSWORD"); v != "" {
		cfg.AdminPassword = v
	}
	if v := os.Getenv("CLASSCHAT_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.OllamaTimeoutSeconds <= 0 {
		cfg.OllamaTimeoutSeconds = 120
	}
	if cfg.SessionBackend == "" {
		cfg.SessionBackend = SessionBackendRedis
	}
	if cfg.SessionTTLHours <= 0 {
		cfg.SessionTTLHours = 12
	}
	if cfg.LoginRateLimit <= 0 {
		cfg.LoginRateLimit = 10
	}
	if cfg.LoginRateWindowSeconds <= 0 {
		cfg.LoginRateWindowSeconds = 60
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 20 << 20
	}
}

// OllamaTimeout is the request timeout for the chat API client.
func (c FileConfig) OllamaTimeout() time.Duration {
	return time.Duration(c.OllamaTimeoutSeconds) * time.Second
}

// SessionTTL is how long issued session tokens stay valid.
func (c FileConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHours) * time.Hour
}

// LoginRateWindow is the fixed window for login rate limiting.
func (c FileConfig) LoginRateWindow() time.Duration {
	return time.Duration(c.LoginRateWindowSeconds) * time.Second
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.DefaultModel == "" {
		return errors.New("config: defaultModel is required (set in config.yaml)")
	}
	switch cfg.SessionBackend {
	case SessionBackendRedis:
		if cfg.RedisAddr == "" {
			return errors.New("config: redisAddr is required for the redis session backend")
		}
	case SessionBackendJWT:
		if len(cfg.SessionSecret) < 32 {
			return errors.New("config: sessionSecret of at least 32 bytes is required for the jwt session backend")
		}
	default:
		return fmt.Errorf("config: unknown sessionBackend %q (want %s or %s)", cfg.SessionBackend, SessionBackendRedis, SessionBackendJWT)
	}
	// MinIO is optional as a whole, but a partial block is a misconfiguration.
	if cfg.MinioEndpoint != "" {
		if cfg.MinioAccessKey == "" {
			return errors.New("config: minioAccessKey is required when minioEndpoint is set")
		}
		if cfg.MinioSecretKey == "" {
			return errors.New("config: minioSecretKey is required when minioEndpoint is set")
		}
		if cfg.MinioBucket == "" {
			return errors.New("config: minioBucket is required when minioEndpoint is set")
		}
	}
	return nil
}

// BlobStoreEnabled reports whether the external object store is configured.
func (c FileConfig) BlobStoreEnabled() bool {
	return c.MinioEndpoint != ""
}

// EventsEnabled reports whether the turn event publisher is configured.
func (c FileConfig) EventsEnabled() bool {
	return c.AMQPURL != ""
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
