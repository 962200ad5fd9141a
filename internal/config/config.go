package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the relay.
// The values are read by Viper from a config file or environment variables.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Processor   ProcessorConfig   `mapstructure:"processor"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Callback    CallbackConfig    `mapstructure:"callback"`
	Correlation CorrelationConfig `mapstructure:"correlation"`
	Log         LogConfig         `mapstructure:"log"`
	CORS        CORSConfig        `mapstructure:"cors"`
}

type ServerConfig struct {
	Address        string        `mapstructure:"address"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
}

// ProcessorConfig points at the external workflow processor that receives forwarded uploads.
type ProcessorConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	UploadPath     string        `mapstructure:"upload_path"`
	AuthToken      string        `mapstructure:"auth_token"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
}

// UploadURL joins the base URL and the upload path.
func (p ProcessorConfig) UploadURL() string {
	return strings.TrimRight(p.BaseURL, "/") + "/" + strings.TrimLeft(p.UploadPath, "/")
}

type StorageConfig struct {
	// Driver selects the backend: local, s3, minio or azure.
	Driver string `mapstructure:"driver"`
	// BaseDir is the key prefix under which date partitions are created.
	BaseDir string `mapstructure:"base_dir"`
	// Suffix selects the filename disambiguation strategy: random, counter or blake2b.
	Suffix string      `mapstructure:"suffix"`
	Local  LocalConfig `mapstructure:"local"`
	S3     S3Config    `mapstructure:"s3"`
	Azure  AzureConfig `mapstructure:"azure"`
}

type LocalConfig struct {
	Root string `mapstructure:"root"`
}

// S3Config is shared by the s3 (AWS SDK) and minio drivers.
type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	BucketName      string `mapstructure:"bucket_name"`
	UseSSL          bool   `mapstructure:"use_ssl"`
}

type AzureConfig struct {
	Account    string `mapstructure:"account"`
	AccountKey string `mapstructure:"account_key"`
	Endpoint   string `mapstructure:"endpoint"`
	Container  string `mapstructure:"container"`
}

// DatabaseConfig controls the optional MongoDB artifact ledger.
type DatabaseConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URI     string `mapstructure:"uri"`
	Name    string `mapstructure:"name"`
}

// CallbackConfig guards the webhook endpoint.
// An empty JWTSecret leaves the endpoint open.
type CallbackConfig struct {
	JWTSecret    string `mapstructure:"jwt_secret"`
	MaxBodyBytes int64  `mapstructure:"max_body_bytes"`
}

// CorrelationConfig enables the outstanding-request table.
type CorrelationConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Enforce  bool          `mapstructure:"enforce"`
	TTL      time.Duration `mapstructure:"ttl"`
	Capacity int           `mapstructure:"capacity"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// storage.local.root -> STORAGE_LOCAL_ROOT
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(`.`, `_`))

	setDefaults(v)

	err = v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		// No file; defaults and environment only.
		err = nil
	} else if err != nil {
		return
	}

	// Duration strings ("10s", "5m") are decoded straight into time.Duration fields.
	err = v.Unmarshal(&config)
	if err != nil {
		return
	}
	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.max_upload_bytes", 50<<20)
	v.SetDefault("server.read_timeout", "2m")
	v.SetDefault("server.write_timeout", "2m")

	v.SetDefault("processor.base_url", "http://localhost:5678")
	v.SetDefault("processor.upload_path", "/webhook/upload")
	v.SetDefault("processor.auth_token", "")
	v.SetDefault("processor.connect_timeout", "10s")
	v.SetDefault("processor.read_timeout", "5m")

	v.SetDefault("storage.driver", "local")
	v.SetDefault("storage.base_dir", "")
	v.SetDefault("storage.suffix", "random")
	v.SetDefault("storage.local.root", "/var/app/files")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.s3.use_ssl", true)
	v.SetDefault("storage.azure.container", "artifacts")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.uri", "mongodb://localhost:27017")
	v.SetDefault("database.name", "artifact_relay")

	v.SetDefault("callback.jwt_secret", "")
	v.SetDefault("callback.max_body_bytes", 100<<20)

	v.SetDefault("correlation.enabled", false)
	v.SetDefault("correlation.enforce", false)
	v.SetDefault("correlation.ttl", "24h")
	v.SetDefault("correlation.capacity", 10000)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("cors.allowed_origins", []string{})
}
