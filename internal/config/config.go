package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	NATS       NATSConfig       `yaml:"nats"`
	Storage    StorageConfig    `yaml:"storage"`
	Gemini     GeminiConfig     `yaml:"gemini"`
	OpenAI     OpenAIConfig     `yaml:"openai"`
	OCR        OCRConfig        `yaml:"ocr"`
	Face       FaceConfig       `yaml:"face"`
	Derivative DerivativeConfig `yaml:"derivative"`
	Queue      QueueConfig      `yaml:"queue"`
	Recovery   RecoveryConfig   `yaml:"recovery"`
	Search     SearchConfig     `yaml:"search"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

// StorageConfig selects the object-storage provider. Provider is either
// "minio" (generic S3-compatible object store) or "s3" (AWS, presigned
// CDN-style delivery). All call sites depend only on storage.ObjectStore.
type StorageConfig struct {
	Provider string      `yaml:"provider"`
	MinIO    MinIOConfig `yaml:"minio"`
	S3       S3Config    `yaml:"s3"`

	SignedURLTTL     time.Duration `yaml:"signed_url_ttl"`
	DownloadCacheTTL time.Duration `yaml:"download_cache_ttl"`
	DownloadAttempts int           `yaml:"download_attempts"`
	DownloadTimeout  time.Duration `yaml:"download_timeout"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type S3Config struct {
	Region string `yaml:"region"`
	Bucket string `yaml:"bucket"`
}

type GeminiConfig struct {
	APIKey     string        `yaml:"api_key"`
	FlashModel string        `yaml:"flash_model"`
	ProModel   string        `yaml:"pro_model"`
	Timeout    time.Duration `yaml:"timeout"`
}

type OpenAIConfig struct {
	Token   string        `yaml:"token"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// OCRConfig selects the vision provider and the default model strategy
// ("flash" for throughput, "pro" for accuracy on reprocessing).
type OCRConfig struct {
	Provider string `yaml:"provider"`
	Strategy string `yaml:"strategy"`
}

type FaceConfig struct {
	ServiceURL    string        `yaml:"service_url"`
	Metric        string        `yaml:"metric"` // "cosine" or "euclidean", a property of the embedding model
	Threshold     float64       `yaml:"threshold"`
	MaxFaces      int           `yaml:"max_faces"`
	MinConfidence float64       `yaml:"min_confidence"`
	Dim           int           `yaml:"dim"`
	Timeout       time.Duration `yaml:"timeout"`
}

type DerivativeConfig struct {
	ThumbnailWidth   int     `yaml:"thumbnail_width"`
	ThumbnailQuality int     `yaml:"thumbnail_quality"`
	WatermarkWidth   int     `yaml:"watermark_width"`
	WatermarkQuality int     `yaml:"watermark_quality"`
	WatermarkText    string  `yaml:"watermark_text"`
	WatermarkAngle   float64 `yaml:"watermark_angle"`
	TileSpacing      int     `yaml:"tile_spacing"`
	Opacity          float64 `yaml:"opacity"`
}

// RetryPolicy configures attempts and backoff base for one queue.
type RetryPolicy struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff"`
}

type QueueConfig struct {
	ProcessPhoto   RetryPolicy   `yaml:"process_photo"`
	ProcessFace    RetryPolicy   `yaml:"process_face"`
	ReprocessPhoto RetryPolicy   `yaml:"reprocess_photo"`
	SendEmail      RetryPolicy   `yaml:"send_email"`
	Workers        int           `yaml:"workers"`
	EnqueueDelay   time.Duration `yaml:"enqueue_delay"`
}

type RecoveryConfig struct {
	PhotoSweepInterval time.Duration `yaml:"photo_sweep_interval"`
	PhotoStaleAfter    time.Duration `yaml:"photo_stale_after"`
	PhotoSweepLimit    int           `yaml:"photo_sweep_limit"`
	BatchSweepInterval time.Duration `yaml:"batch_sweep_interval"`
	BatchStaleAfter    time.Duration `yaml:"batch_stale_after"`
	BatchSweepLimit    int           `yaml:"batch_sweep_limit"`
}

type SearchConfig struct {
	DefaultPageSize int `yaml:"default_page_size"`
	MaxPageSize     int `yaml:"max_page_size"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from a YAML file (optional) and applies environment
// variable overrides and defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}
	if cfg.Storage.Provider == "" {
		cfg.Storage.Provider = "minio"
	}
	if cfg.Storage.SignedURLTTL == 0 {
		cfg.Storage.SignedURLTTL = time.Hour
	}
	if cfg.Storage.DownloadCacheTTL == 0 {
		cfg.Storage.DownloadCacheTTL = 5 * time.Minute
	}
	if cfg.Storage.DownloadAttempts == 0 {
		cfg.Storage.DownloadAttempts = 3
	}
	if cfg.Storage.DownloadTimeout == 0 {
		cfg.Storage.DownloadTimeout = 30 * time.Second
	}
	if cfg.Gemini.FlashModel == "" {
		cfg.Gemini.FlashModel = "gemini-2.5-flash"
	}
	if cfg.Gemini.ProModel == "" {
		cfg.Gemini.ProModel = "gemini-2.5-pro"
	}
	if cfg.Gemini.Timeout == 0 {
		cfg.Gemini.Timeout = 60 * time.Second
	}
	if cfg.OpenAI.Model == "" {
		cfg.OpenAI.Model = "gpt-4o-mini"
	}
	if cfg.OpenAI.Timeout == 0 {
		cfg.OpenAI.Timeout = 60 * time.Second
	}
	if cfg.OCR.Provider == "" {
		cfg.OCR.Provider = "gemini"
	}
	if cfg.OCR.Strategy == "" {
		cfg.OCR.Strategy = "flash"
	}
	if cfg.Face.ServiceURL == "" {
		cfg.Face.ServiceURL = "http://localhost:8000"
	}
	if cfg.Face.Metric == "" {
		cfg.Face.Metric = "cosine"
	}
	if cfg.Face.Threshold == 0 {
		// Tuned per embedding back-end.
		if cfg.Face.Metric == "euclidean" {
			cfg.Face.Threshold = 1.0
		} else {
			cfg.Face.Threshold = 0.4
		}
	}
	if cfg.Face.MaxFaces == 0 {
		cfg.Face.MaxFaces = 10
	}
	if cfg.Face.MinConfidence == 0 {
		cfg.Face.MinConfidence = 0.5
	}
	if cfg.Face.Dim == 0 {
		cfg.Face.Dim = 512
	}
	if cfg.Face.Timeout == 0 {
		cfg.Face.Timeout = 30 * time.Second
	}
	if cfg.Derivative.ThumbnailWidth == 0 {
		cfg.Derivative.ThumbnailWidth = 400
	}
	if cfg.Derivative.ThumbnailQuality == 0 {
		cfg.Derivative.ThumbnailQuality = 80
	}
	if cfg.Derivative.WatermarkWidth == 0 {
		cfg.Derivative.WatermarkWidth = 1600
	}
	if cfg.Derivative.WatermarkQuality == 0 {
		cfg.Derivative.WatermarkQuality = 85
	}
	if cfg.Derivative.WatermarkText == "" {
		cfg.Derivative.WatermarkText = "racepix"
	}
	if cfg.Derivative.WatermarkAngle == 0 {
		cfg.Derivative.WatermarkAngle = -30
	}
	if cfg.Derivative.TileSpacing == 0 {
		cfg.Derivative.TileSpacing = 160
	}
	if cfg.Derivative.Opacity == 0 {
		cfg.Derivative.Opacity = 0.35
	}
	if cfg.Queue.ProcessPhoto.MaxAttempts == 0 {
		cfg.Queue.ProcessPhoto = RetryPolicy{MaxAttempts: 3, Backoff: 2 * time.Second}
	}
	if cfg.Queue.ProcessFace.MaxAttempts == 0 {
		cfg.Queue.ProcessFace = RetryPolicy{MaxAttempts: 3, Backoff: 2 * time.Second}
	}
	if cfg.Queue.ReprocessPhoto.MaxAttempts == 0 {
		cfg.Queue.ReprocessPhoto = RetryPolicy{MaxAttempts: 2, Backoff: 5 * time.Second}
	}
	if cfg.Queue.SendEmail.MaxAttempts == 0 {
		cfg.Queue.SendEmail = RetryPolicy{MaxAttempts: 2, Backoff: time.Second}
	}
	if cfg.Queue.Workers == 0 {
		cfg.Queue.Workers = 4
	}
	if cfg.Queue.EnqueueDelay == 0 {
		cfg.Queue.EnqueueDelay = time.Second
	}
	if cfg.Recovery.PhotoSweepInterval == 0 {
		cfg.Recovery.PhotoSweepInterval = 2 * time.Minute
	}
	if cfg.Recovery.PhotoStaleAfter == 0 {
		cfg.Recovery.PhotoStaleAfter = 10 * time.Minute
	}
	if cfg.Recovery.PhotoSweepLimit == 0 {
		cfg.Recovery.PhotoSweepLimit = 200
	}
	if cfg.Recovery.BatchSweepInterval == 0 {
		cfg.Recovery.BatchSweepInterval = 5 * time.Minute
	}
	if cfg.Recovery.BatchStaleAfter == 0 {
		cfg.Recovery.BatchStaleAfter = 10 * time.Minute
	}
	if cfg.Recovery.BatchSweepLimit == 0 {
		cfg.Recovery.BatchSweepLimit = 50
	}
	if cfg.Search.DefaultPageSize == 0 {
		cfg.Search.DefaultPageSize = 20
	}
	if cfg.Search.MaxPageSize == 0 {
		cfg.Search.MaxPageSize = 100
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RACEPIX_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("RACEPIX_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("STORAGE_PROVIDER"); v != "" {
		cfg.Storage.Provider = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.Storage.MinIO.Endpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.Storage.MinIO.AccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.Storage.MinIO.SecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.Storage.MinIO.Bucket = v
	}
	if v := os.Getenv("S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.Gemini.APIKey = v
	}
	if v := os.Getenv("OPENAI_TOKEN"); v != "" {
		cfg.OpenAI.Token = v
	}
	if v := os.Getenv("OCR_PROVIDER"); v != "" {
		cfg.OCR.Provider = v
	}
	if v := os.Getenv("OCR_STRATEGY"); v != "" {
		cfg.OCR.Strategy = v
	}
	if v := os.Getenv("FACE_SERVICE_URL"); v != "" {
		cfg.Face.ServiceURL = v
	}
	if v := os.Getenv("FACE_METRIC"); v != "" {
		cfg.Face.Metric = v
	}
	if v := os.Getenv("FACE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.Face.Threshold = f
		}
	}
	if v := os.Getenv("FACE_MAX_FACES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Face.MaxFaces = n
		}
	}
	if v := os.Getenv("QUEUE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Queue.Workers = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
