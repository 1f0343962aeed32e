package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Log          LogConfig          `mapstructure:"log"`
	Upload       UploadConfig       `mapstructure:"upload"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Segmentation SegmentationConfig `mapstructure:"segmentation"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Render       RenderConfig       `mapstructure:"render"`
	Chat         ChatConfig         `mapstructure:"chat"`
	CORS         CORSConfig         `mapstructure:"cors"`
}

type ServerConfig struct {
	Host                    string        `mapstructure:"host"`
	Port                    int           `mapstructure:"port"`
	Mode                    string        `mapstructure:"mode"`
	ReadTimeout             time.Duration `mapstructure:"read_timeout"`
	WriteTimeout            time.Duration `mapstructure:"write_timeout"`
	GracefulShutdownTimeout time.Duration `mapstructure:"graceful_shutdown_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "console" | "json"
}

type UploadConfig struct {
	MaxSize      int64    `mapstructure:"max_size"`
	AllowedTypes []string `mapstructure:"allowed_types"`
	MinDimension int      `mapstructure:"min_dimension"`
	MaxDimension int      `mapstructure:"max_dimension"`
	KeyPrefix    string   `mapstructure:"key_prefix"`
}

type StorageConfig struct {
	Backend         string `mapstructure:"backend"` // "s3" | "memory"
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Bucket          string `mapstructure:"bucket"`
	PublicURL       string `mapstructure:"public_url"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	CreateBucket    bool   `mapstructure:"create_bucket"`
}

type SegmentationConfig struct {
	Backend      string        `mapstructure:"backend"` // "replicate" | "saliency"
	ReplicateURL string        `mapstructure:"replicate_url"`
	Token        string        `mapstructure:"token"`
	ModelVersion string        `mapstructure:"model_version"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxWait      time.Duration `mapstructure:"max_wait"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type CacheConfig struct {
	Backend string        `mapstructure:"backend"` // "redis" | "memory" | "none"
	TTL     time.Duration `mapstructure:"ttl"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type RenderConfig struct {
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	QueueTimeout  time.Duration `mapstructure:"queue_timeout"`
	MaxDownload   int64         `mapstructure:"max_download"`
	BlurRadius    float64       `mapstructure:"blur_radius"`
	Feather       bool          `mapstructure:"feather"`
	FeatherSigma  float64       `mapstructure:"feather_sigma"`
	Format        string        `mapstructure:"format"`
	Quality       int           `mapstructure:"quality"`

	// AllowedHosts limits which hosts composite sources are fetched from.
	// Empty means the storage public host and Replicate's delivery hosts.
	AllowedHosts []string `mapstructure:"allowed_hosts"`
}

type ChatConfig struct {
	Backend string        `mapstructure:"backend"` // "ollama" | "openai" | "none"
	URL     string        `mapstructure:"url"`
	Model   string        `mapstructure:"model"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type CORSConfig struct {
	AllowedOrigins   []string      `mapstructure:"allowed_origins"`
	AllowedMethods   []string      `mapstructure:"allowed_methods"`
	AllowedHeaders   []string      `mapstructure:"allowed_headers"`
	AllowCredentials bool          `mapstructure:"allow_credentials"`
	MaxAge           time.Duration `mapstructure:"max_age"`
}

// envBindings maps config keys onto the variable names the deployment already uses
var envBindings = map[string]string{
	"segmentation.token":        "REPLICATE_API_TOKEN",
	"storage.access_key_id":     "R2_ACCESS_KEY_ID",
	"storage.secret_access_key": "R2_SECRET_ACCESS_KEY",
	"storage.endpoint":          "R2_ENDPOINT",
	"storage.bucket":            "R2_BUCKET",
	"storage.region":            "R2_REGION",
	"storage.public_url":        "R2_PUBLIC_URL",
	"chat.api_key":              "OPENAI_API_KEY",
}

// LoadDotEnv loads variables from .env files into the process environment.
// Missing files are ignored; existing variables are never overridden.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads the YAML file at path, overlays environment variables and
// returns the validated Config. An empty path uses defaults and environment only.
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in defaults without consulting the environment
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return &cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	// SERVER_PORT -> server.port
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		_ = v.BindEnv(key, strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env)
	}
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 2*time.Minute)
	v.SetDefault("server.graceful_shutdown_timeout", 10*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("upload.max_size", 5*1024*1024)
	v.SetDefault("upload.allowed_types", []string{"image/jpeg", "image/jpg", "image/png", "image/webp"})
	v.SetDefault("upload.min_dimension", 1)
	v.SetDefault("upload.max_dimension", 8192)
	v.SetDefault("upload.key_prefix", "original-")

	v.SetDefault("storage.backend", "s3")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.region", "auto")
	v.SetDefault("storage.access_key_id", "")
	v.SetDefault("storage.secret_access_key", "")
	v.SetDefault("storage.bucket", "blur-bg")
	v.SetDefault("storage.public_url", "")
	v.SetDefault("storage.use_ssl", true)
	v.SetDefault("storage.create_bucket", false)

	v.SetDefault("segmentation.backend", "replicate")
	v.SetDefault("segmentation.replicate_url", "https://api.replicate.com")
	v.SetDefault("segmentation.token", "")
	v.SetDefault("segmentation.model_version", "da7d45f3b836795f945f221fc0b01a6d3ab7f5e163f13208948ad436001e2255")
	v.SetDefault("segmentation.poll_interval", time.Second)
	v.SetDefault("segmentation.max_wait", 60*time.Second)
	v.SetDefault("segmentation.timeout", 2*time.Minute)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", 24*time.Hour)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("render.max_concurrent", 4)
	v.SetDefault("render.queue_timeout", 30*time.Second)
	v.SetDefault("render.max_download", 32*1024*1024)
	v.SetDefault("render.allowed_hosts", []string{})
	v.SetDefault("render.blur_radius", 15.0)
	v.SetDefault("render.feather", false)
	v.SetDefault("render.feather_sigma", 3.0)
	v.SetDefault("render.format", "png")
	v.SetDefault("render.quality", 90)

	v.SetDefault("chat.backend", "none")
	v.SetDefault("chat.url", "")
	v.SetDefault("chat.model", "llama3.2")
	v.SetDefault("chat.api_key", "")
	v.SetDefault("chat.timeout", 30*time.Second)

	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Origin", "Content-Type", "Accept"})
	v.SetDefault("cors.allow_credentials", false)
	v.SetDefault("cors.max_age", 12*time.Hour)
}

// Addr returns host:port for the HTTP listener
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	if c.Upload.MaxSize <= 0 {
		return fmt.Errorf("upload.max_size must be positive")
	}

	if len(c.Upload.AllowedTypes) == 0 {
		return fmt.Errorf("upload.allowed_types cannot be empty")
	}

	if c.Upload.MinDimension < 1 || c.Upload.MaxDimension < c.Upload.MinDimension {
		return fmt.Errorf("upload.min_dimension must be positive and not exceed upload.max_dimension")
	}

	switch c.Storage.Backend {
	case "s3", "memory":
	default:
		return fmt.Errorf("storage.backend must be s3 or memory, got %q", c.Storage.Backend)
	}

	switch c.Segmentation.Backend {
	case "replicate", "saliency":
	default:
		return fmt.Errorf("segmentation.backend must be replicate or saliency, got %q", c.Segmentation.Backend)
	}

	switch c.Cache.Backend {
	case "redis", "memory", "none":
	default:
		return fmt.Errorf("cache.backend must be redis, memory or none, got %q", c.Cache.Backend)
	}

	switch c.Chat.Backend {
	case "ollama", "openai", "none":
	default:
		return fmt.Errorf("chat.backend must be ollama, openai or none, got %q", c.Chat.Backend)
	}

	if c.Render.MaxConcurrent < 1 {
		return fmt.Errorf("render.max_concurrent must be at least 1")
	}

	if c.Render.BlurRadius < 0 || c.Render.BlurRadius > 100 {
		return fmt.Errorf("render.blur_radius must be between 0 and 100")
	}

	if c.Render.FeatherSigma <= 0 || c.Render.FeatherSigma > 50 {
		return fmt.Errorf("render.feather_sigma must be in (0, 50]")
	}

	if c.Render.Quality < 1 || c.Render.Quality > 100 {
		return fmt.Errorf("render.quality must be between 1 and 100")
	}

	return nil
}
