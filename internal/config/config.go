package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	API       APIConfig
	Cache     CacheConfig
	Source    SourceConfig
	Engine    EngineConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	Telemetry TelemetryConfig
}

type APIConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
	GinMode         string
}

type CacheConfig struct {
	Capacity     int
	FetchTimeout time.Duration
}

type SourceConfig struct {
	MaxBytes  int64
	UserAgent string
}

type EngineConfig struct {
	MaxDimension  int
	OutputQuality int
	WatermarkPath string
}

// StorageConfig enables the s3:// source when Endpoint and Bucket are set.
type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func (s StorageConfig) Enabled() bool {
	return s.Endpoint != "" && s.Bucket != ""
}

// DatabaseConfig enables the Postgres render log when DSN is set.
type DatabaseConfig struct {
	DSN string
}

type TelemetryConfig struct {
	ServiceName  string
	LogLevel     string
	LogFormat    string
	TraceExport  string
	OTLPEndpoint string
	OTLPInsecure bool
	TraceSample  float64
}

// Load reads configuration from the environment, optionally layered over a
// config.yaml found in the working directory or ./config.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PIXELFLOW_API_ADDR", ":8080")
	v.SetDefault("SHUTDOWN_TIMEOUT", 10*time.Second)
	v.SetDefault("GIN_MODE", "release")

	v.SetDefault("CACHE_CAPACITY", 1024)
	v.SetDefault("FETCH_TIMEOUT", 30*time.Second)

	v.SetDefault("MAX_SOURCE_BYTES", int64(32<<20))
	v.SetDefault("SOURCE_USER_AGENT", "pixelproxy/1.0")

	v.SetDefault("MAX_DIMENSION", 8192)
	v.SetDefault("OUTPUT_QUALITY", 85)
	v.SetDefault("WATERMARK_PATH", "")

	v.SetDefault("MINIO_ENDPOINT", "")
	v.SetDefault("MINIO_ACCESS_KEY", "minioadmin")
	v.SetDefault("MINIO_SECRET_KEY", "minioadmin")
	v.SetDefault("MINIO_BUCKET", "")
	v.SetDefault("MINIO_USE_SSL", false)

	v.SetDefault("POSTGRES_DSN", "")

	v.SetDefault("SERVICE_NAME", "pixelproxy")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("TRACE_EXPORTER", "none")
	v.SetDefault("OTLP_ENDPOINT", "")
	v.SetDefault("OTLP_INSECURE", true)
	v.SetDefault("TRACE_SAMPLE_RATIO", 1.0)
}

func fromViper(v *viper.Viper) Config {
	return Config{
		API: APIConfig{
			Addr:            v.GetString("PIXELFLOW_API_ADDR"),
			ShutdownTimeout: v.GetDuration("SHUTDOWN_TIMEOUT"),
			GinMode:         v.GetString("GIN_MODE"),
		},
		Cache: CacheConfig{
			Capacity:     v.GetInt("CACHE_CAPACITY"),
			FetchTimeout: v.GetDuration("FETCH_TIMEOUT"),
		},
		Source: SourceConfig{
			MaxBytes:  v.GetInt64("MAX_SOURCE_BYTES"),
			UserAgent: v.GetString("SOURCE_USER_AGENT"),
		},
		Engine: EngineConfig{
			MaxDimension:  v.GetInt("MAX_DIMENSION"),
			OutputQuality: v.GetInt("OUTPUT_QUALITY"),
			WatermarkPath: v.GetString("WATERMARK_PATH"),
		},
		Storage: StorageConfig{
			Endpoint:  v.GetString("MINIO_ENDPOINT"),
			AccessKey: v.GetString("MINIO_ACCESS_KEY"),
			SecretKey: v.GetString("MINIO_SECRET_KEY"),
			Bucket:    v.GetString("MINIO_BUCKET"),
			UseSSL:    v.GetBool("MINIO_USE_SSL"),
		},
		Database: DatabaseConfig{
			DSN: v.GetString("POSTGRES_DSN"),
		},
		Telemetry: TelemetryConfig{
			ServiceName:  v.GetString("SERVICE_NAME"),
			LogLevel:     v.GetString("LOG_LEVEL"),
			LogFormat:    v.GetString("LOG_FORMAT"),
			TraceExport:  v.GetString("TRACE_EXPORTER"),
			OTLPEndpoint: v.GetString("OTLP_ENDPOINT"),
			OTLPInsecure: v.GetBool("OTLP_INSECURE"),
			TraceSample:  v.GetFloat64("TRACE_SAMPLE_RATIO"),
		},
	}
}

func (c Config) Validate() error {
	if c.Cache.Capacity < 1 {
		return fmt.Errorf("CACHE_CAPACITY must be >= 1, got %d", c.Cache.Capacity)
	}
	if c.Cache.FetchTimeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT must be positive, got %s", c.Cache.FetchTimeout)
	}
	if c.Source.MaxBytes <= 0 {
		return fmt.Errorf("MAX_SOURCE_BYTES must be positive, got %d", c.Source.MaxBytes)
	}
	if c.Engine.MaxDimension < 1 {
		return fmt.Errorf("MAX_DIMENSION must be >= 1, got %d", c.Engine.MaxDimension)
	}
	if c.Engine.OutputQuality < 1 || c.Engine.OutputQuality > 100 {
		return fmt.Errorf("OUTPUT_QUALITY must be within 1..100, got %d", c.Engine.OutputQuality)
	}
	if c.Telemetry.TraceSample < 0 || c.Telemetry.TraceSample > 1 {
		return fmt.Errorf("TRACE_SAMPLE_RATIO must be within 0..1, got %g", c.Telemetry.TraceSample)
	}
	return nil
}
