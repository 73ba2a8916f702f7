package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	MinIO    MinIOConfig    `yaml:"minio"`
	Vision   VisionConfig   `yaml:"vision"`
	Match    MatchConfig    `yaml:"match"`
	Training TrainingConfig `yaml:"training"`
	Stream   StreamConfig   `yaml:"stream"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// VisionConfig selects and tunes the face encoder strategy.
// Provider is a closed set: "onnx" or "onnx-prefilter" ("onnx-prefilter"
// adds a cheap detection-only pass before the embedding step).
type VisionConfig struct {
	Provider           string  `yaml:"provider"`
	ModelsDir          string  `yaml:"models_dir"`
	DetectionThreshold float64 `yaml:"detection_threshold"`
}

type MatchConfig struct {
	Threshold   float64 `yaml:"threshold"`
	NearMissCap float64 `yaml:"near_miss_cap"`
}

type TrainingConfig struct {
	AcceptThreshold float64       `yaml:"accept_threshold"`
	Epochs          int           `yaml:"epochs"`
	LearningRate    float64       `yaml:"learning_rate"`
	ArtifactPrefix  string        `yaml:"artifact_prefix"`
	CacheRefresh    time.Duration `yaml:"cache_refresh"`
}

type StreamConfig struct {
	MaxConcurrent int           `yaml:"max_concurrent"`
	Mode          string        `yaml:"mode"` // "match" or "classifier"
	FetchTimeout  time.Duration `yaml:"fetch_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Vision.Provider == "" {
		cfg.Vision.Provider = "onnx"
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Match.Threshold == 0 {
		cfg.Match.Threshold = 0.6
	}
	if cfg.Match.NearMissCap == 0 {
		cfg.Match.NearMissCap = 50
	}
	if cfg.Training.AcceptThreshold == 0 {
		cfg.Training.AcceptThreshold = 0.70
	}
	if cfg.Training.Epochs == 0 {
		cfg.Training.Epochs = 400
	}
	if cfg.Training.LearningRate == 0 {
		cfg.Training.LearningRate = 0.5
	}
	if cfg.Training.ArtifactPrefix == "" {
		cfg.Training.ArtifactPrefix = "models"
	}
	if cfg.Training.CacheRefresh == 0 {
		cfg.Training.CacheRefresh = 5 * time.Minute
	}
	if cfg.Stream.MaxConcurrent == 0 {
		cfg.Stream.MaxConcurrent = 10
	}
	if cfg.Stream.Mode == "" {
		cfg.Stream.Mode = "match"
	}
	if cfg.Stream.FetchTimeout == 0 {
		cfg.Stream.FetchTimeout = 10 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FACEGATE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FACEGATE_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("FACEGATE_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("FACEGATE_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("FACEGATE_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("FACEGATE_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("FACEGATE_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("FACEGATE_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("FACEGATE_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("FACEGATE_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("FACEGATE_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("FACEGATE_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("FACEGATE_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("FACEGATE_VISION_PROVIDER"); v != "" {
		cfg.Vision.Provider = v
	}
	if v := os.Getenv("FACEGATE_STREAM_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Stream.MaxConcurrent = n
		}
	}
}
