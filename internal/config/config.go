// Package config loads the service configuration from an optional JSON or
// YAML file, then applies environment overrides and defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the configuration for the DermAI service.
type Config struct {
	Server        ServerConfig     `json:"server" yaml:"server"`
	Model         ModelConfig      `json:"model" yaml:"model"`
	Cache         CacheConfig      `json:"cache" yaml:"cache"`
	Classifier    ClassifierConfig `json:"classifier" yaml:"classifier"`
	PredictionLog StoreConfig      `json:"prediction_log" yaml:"prediction_log"`
	Books         StoreConfig      `json:"books" yaml:"books"`
	Log           LogConfig        `json:"log" yaml:"log"`
}

type ServerConfig struct {
	Host        string   `json:"host" yaml:"host"`
	Port        string   `json:"port" yaml:"port"`
	CORSOrigins []string `json:"cors_origins,omitempty" yaml:"cors_origins,omitempty"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

type ModelConfig struct {
	// Path is the local .onnx artifact; it is downloaded on first use when
	// missing and a remote source is configured.
	Path         string `json:"path" yaml:"path"`
	MetadataPath string `json:"metadata_path" yaml:"metadata_path"`
	// LibraryPath points at libonnxruntime when it is not on the loader path.
	LibraryPath string `json:"library_path,omitempty" yaml:"library_path,omitempty"`
	// URL is a direct download link. DriveFileID is shorthand for a Google
	// Drive share; URL wins when both are set.
	URL         string    `json:"url,omitempty" yaml:"url,omitempty"`
	DriveFileID string    `json:"drive_file_id,omitempty" yaml:"drive_file_id,omitempty"`
	S3          *S3Config `json:"s3,omitempty" yaml:"s3,omitempty"`
}

type S3Config struct {
	Endpoint  string `json:"endpoint" yaml:"endpoint"`
	Bucket    string `json:"bucket" yaml:"bucket"`
	Object    string `json:"object" yaml:"object"`
	AccessKey string `json:"access_key" yaml:"access_key"`
	SecretKey string `json:"secret_key" yaml:"secret_key"`
	UseSSL    bool   `json:"use_ssl" yaml:"use_ssl"`
}

type CacheConfig struct {
	Capacity int         `json:"capacity" yaml:"capacity"`
	Redis    RedisConfig `json:"redis" yaml:"redis"`
}

type RedisConfig struct {
	Addr       string `json:"addr,omitempty" yaml:"addr,omitempty"`
	Password   string `json:"password,omitempty" yaml:"password,omitempty"`
	DB         int    `json:"db,omitempty" yaml:"db,omitempty"`
	Prefix     string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	TTLSeconds int    `json:"ttl_seconds,omitempty" yaml:"ttl_seconds,omitempty"`
}

// TTL returns the entry lifetime in Redis.
func (r RedisConfig) TTL() time.Duration {
	return time.Duration(r.TTLSeconds) * time.Second
}

type ClassifierConfig struct {
	MaxBytes       int `json:"max_bytes" yaml:"max_bytes"`
	TimeoutSeconds int `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// Timeout bounds a single classification request.
func (c ClassifierConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// StoreConfig selects a storage backend by driver name.
type StoreConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: "8080"},
		Model: ModelConfig{
			Path:         filepath.Join("models", "my_model.onnx"),
			MetadataPath: filepath.Join("models", "model_metadata.json"),
		},
		Cache:         CacheConfig{Capacity: 100},
		Classifier:    ClassifierConfig{MaxBytes: 10 << 20, TimeoutSeconds: 30},
		PredictionLog: StoreConfig{Driver: "none"},
		Books:         StoreConfig{Driver: "memory"},
		Log:           LogConfig{Level: "info", Format: "json"},
	}
}

// Load builds the configuration: defaults, then the file at path (if any),
// then environment overrides. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parsing YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parsing JSON config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file extension %q: use .json, .yaml, or .yml", ext)
	}
	return nil
}

// ApplyEnv overrides fields from environment variables.
func (c *Config) ApplyEnv() error {
	setString(&c.Server.Host, "DERMAI_HOST")
	setString(&c.Server.Port, "PORT")
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.Server.CORSOrigins = strings.Split(v, ",")
	}

	setString(&c.Model.Path, "DERMAI_MODEL_PATH")
	setString(&c.Model.MetadataPath, "DERMAI_MODEL_METADATA")
	setString(&c.Model.LibraryPath, "ONNXRUNTIME_LIB")
	setString(&c.Model.URL, "DERMAI_MODEL_URL")
	setString(&c.Model.DriveFileID, "DERMAI_DRIVE_FILE_ID")
	if v := os.Getenv("DERMAI_S3_BUCKET"); v != "" {
		if c.Model.S3 == nil {
			c.Model.S3 = &S3Config{}
		}
		c.Model.S3.Bucket = v
	}
	if c.Model.S3 != nil {
		setString(&c.Model.S3.Endpoint, "DERMAI_S3_ENDPOINT")
		setString(&c.Model.S3.Object, "DERMAI_S3_OBJECT")
		setString(&c.Model.S3.AccessKey, "DERMAI_S3_ACCESS_KEY")
		setString(&c.Model.S3.SecretKey, "DERMAI_S3_SECRET_KEY")
		if err := setBool(&c.Model.S3.UseSSL, "DERMAI_S3_USE_SSL"); err != nil {
			return err
		}
	}

	if err := setInt(&c.Cache.Capacity, "DERMAI_CACHE_CAPACITY"); err != nil {
		return err
	}
	setString(&c.Cache.Redis.Addr, "DERMAI_REDIS_ADDR")
	setString(&c.Cache.Redis.Password, "DERMAI_REDIS_PASSWORD")

	if err := setInt(&c.Classifier.MaxBytes, "DERMAI_MAX_BYTES"); err != nil {
		return err
	}
	if err := setInt(&c.Classifier.TimeoutSeconds, "DERMAI_TIMEOUT_SECONDS"); err != nil {
		return err
	}

	setString(&c.PredictionLog.Driver, "DERMAI_PREDICTION_LOG_DRIVER")
	setString(&c.PredictionLog.DSN, "DERMAI_PREDICTION_LOG_DSN")
	setString(&c.Books.Driver, "DERMAI_BOOKS_DRIVER")
	setString(&c.Books.DSN, "DERMAI_BOOKS_DSN")

	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")
	return nil
}

// Validate checks the configuration for correctness.
func (c Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		return fmt.Errorf("invalid server port %q", c.Server.Port)
	}
	if c.Model.Path == "" {
		return fmt.Errorf("model path is required")
	}
	if s3 := c.Model.S3; s3 != nil {
		if s3.Endpoint == "" || s3.Bucket == "" || s3.Object == "" {
			return fmt.Errorf("model s3 source requires endpoint, bucket and object")
		}
	}
	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("cache capacity must be positive, got %d", c.Cache.Capacity)
	}
	if c.Classifier.MaxBytes <= 0 {
		return fmt.Errorf("classifier max_bytes must be positive, got %d", c.Classifier.MaxBytes)
	}
	if c.Classifier.TimeoutSeconds <= 0 {
		return fmt.Errorf("classifier timeout_seconds must be positive, got %d", c.Classifier.TimeoutSeconds)
	}
	switch c.PredictionLog.Driver {
	case "", "none", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown prediction_log driver %q", c.PredictionLog.Driver)
	}
	switch c.Books.Driver {
	case "", "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown books driver %q", c.Books.Driver)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: invalid integer %q", key, v)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: invalid boolean %q", key, v)
	}
	*dst = b
	return nil
}
