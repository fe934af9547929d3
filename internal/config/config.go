package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	DatabaseURL string `yaml:"databaseURL"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	InferenceBaseURL string `yaml:"inferenceBaseURL"`
	InferenceAPIKey  string `yaml:"inferenceAPIKey"`
	InferenceModel   string `yaml:"inferenceModel"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	AMQPURL           string `yaml:"amqpURL"`
	AuditExchange     string `yaml:"auditExchange"`
	MaintenanceKey    string `yaml:"maintenanceKey"`
	TrustedProxyCIDRs string `yaml:"trustedProxyCIDRs"`

	QuotaCeilingBytes   int64 `yaml:"quotaCeilingBytes"`
	StreamIdleSeconds   int   `yaml:"streamIdleSeconds"`
	LoginRateLimit      int   `yaml:"loginRateLimit"`
	LoginRateWindowSecs int   `yaml:"loginRateWindowSecs"`
	TagWorkerCount      int   `yaml:"tagWorkerCount"`
}

// Load reads config from path (defaults to config.yaml).
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
	// Override with environment variables
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("INFERENCE_BASE_URL"); v != "" {
		cfg.InferenceBaseURL = v
	}
	if v := os.Getenv("INFERENCE_API_KEY"); v != "" {
		cfg.InferenceAPIKey = v
	}
	if v := os.Getenv("INFERENCE_MODEL"); v != "" {
		cfg.InferenceModel = v
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
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.AMQPURL = v
	}
	if v := os.Getenv("MAINTENANCE_KEY"); v != "" {
		cfg.MaintenanceKey = v
	}
	if v := os.Getenv("QUOTA_CEILING_BYTES"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("parse QUOTA_CEILING_BYTES: %w", err)
		}
		cfg.QuotaCeilingBytes = parsed
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.InferenceBaseURL == "" {
		return errors.New("config: inferenceBaseURL is required (set in config.yaml or INFERENCE_BASE_URL)")
	}
	if cfg.InferenceModel == "" {
		return errors.New("config: inferenceModel is required (set in config.yaml)")
	}
	if cfg.MinioEndpoint == "" {
		return errors.New("config: minioEndpoint is required (set in config.yaml or MINIO_ENDPOINT)")
	}
	if cfg.MinioBucket == "" {
		return errors.New("config: minioBucket is required (set in config.yaml)")
	}
	if cfg.QuotaCeilingBytes < 0 {
		return errors.New("config: quotaCeilingBytes must not be negative")
	}
	return nil
}
