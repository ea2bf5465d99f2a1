package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Upload   UploadConfig   `mapstructure:"upload"`
	Share    ShareConfig    `mapstructure:"share"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Address      string        `mapstructure:"address" validate:"required"`
	Mode         string        `mapstructure:"mode" validate:"oneof=debug release production test"`
	PublicURL    string        `mapstructure:"public_url" validate:"required,url"`
	CORSOrigin   string        `mapstructure:"cors_origin"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// AuthConfig 认证配置
type AuthConfig struct {
	JWTSecret   string        `mapstructure:"jwt_secret" validate:"required,min=16"`
	TokenExpiry time.Duration `mapstructure:"token_expiry" validate:"gt=0"`
	ResetTTL    time.Duration `mapstructure:"reset_ttl" validate:"gt=0"`
	BcryptCost  int           `mapstructure:"bcrypt_cost" validate:"gte=4,lte=31"`
}

// StorageConfig 存储配置
type StorageConfig struct {
	Type  string      `mapstructure:"type" validate:"oneof=minio s3 memory"`
	MinIO MinIOConfig `mapstructure:"minio"`
	S3    S3Config    `mapstructure:"s3"`
}

// MinIOConfig MinIO配置
type MinIOConfig struct {
	Endpoint   string `mapstructure:"endpoint"`
	AccessKey  string `mapstructure:"access_key"`
	SecretKey  string `mapstructure:"secret_key"`
	UseSSL     bool   `mapstructure:"use_ssl"`
	BucketName string `mapstructure:"bucket_name"`
}

type S3Config struct {
	Region       string `mapstructure:"region"`
	Bucket       string `mapstructure:"bucket"`
	Endpoint     string `mapstructure:"endpoint"`
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
}

type UploadConfig struct {
	MaxSizeBytes      int64    `mapstructure:"max_size_bytes" validate:"gt=0"`
	AllowedExtensions []string `mapstructure:"allowed_extensions" validate:"min=1"`
}

type ShareConfig struct {
	DefaultHours int `mapstructure:"default_hours" validate:"gt=0"`
	MaxHours     int `mapstructure:"max_hours" validate:"gtefield=DefaultHours"`
}

// DatabaseConfig 数据库配置 (audit trail)
type DatabaseConfig struct {
	Type     string         `mapstructure:"type" validate:"oneof=sqlite postgres none"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
}

// PostgresConfig PostgreSQL配置
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// SQLiteConfig SQLite配置
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// CacheConfig 缓存配置
type CacheConfig struct {
	Type   string      `mapstructure:"type" validate:"oneof=memory redis"`
	Prefix string      `mapstructure:"prefix"`
	Redis  RedisConfig `mapstructure:"redis"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Address  string        `mapstructure:"address"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.public_url", "http://localhost:8080")
	v.SetDefault("server.cors_origin", "*")
	v.SetDefault("server.read_timeout", 5*time.Minute)
	v.SetDefault("server.write_timeout", 5*time.Minute)
	v.SetDefault("auth.jwt_secret", "change-me-in-production-please")
	v.SetDefault("auth.token_expiry", 24*time.Hour)
	v.SetDefault("auth.reset_ttl", time.Hour)
	v.SetDefault("auth.bcrypt_cost", 10)
	v.SetDefault("storage.type", "minio")
	v.SetDefault("storage.minio.endpoint", "localhost:9000")
	v.SetDefault("storage.minio.use_ssl", false)
	v.SetDefault("storage.minio.bucket_name", "filevault")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("upload.max_size_bytes", 16<<20)
	v.SetDefault("upload.allowed_extensions", []string{"txt", "pdf", "png", "jpg", "jpeg", "gif", "doc", "docx", "zip"})
	v.SetDefault("share.default_hours", 24)
	v.SetDefault("share.max_hours", 720)
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.sqlite.path", "./data/audit.db")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.ssl_mode", "disable")
	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.prefix", "filevault")
	v.SetDefault("cache.redis.address", "localhost:6379")
	v.SetDefault("cache.redis.timeout", 5*time.Second)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Load 加载配置. configFile may be empty, in which case config.yaml is looked
// up in the usual places and is optional.
func Load(configFile string) (*Config, error) {
	// .env is optional; real environment variables win over it
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/filevault")
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	setEnvOverrides(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// setEnvOverrides 设置环境变量覆盖
func setEnvOverrides(v *viper.Viper) {
	set := func(env, key string) {
		if val := os.Getenv(env); val != "" {
			v.Set(key, val)
		}
	}
	setInt := func(env, key string) {
		if val := os.Getenv(env); val != "" {
			if n, err := strconv.Atoi(val); err == nil {
				v.Set(key, n)
			}
		}
	}

	// 服务器配置
	set("SERVER_ADDRESS", "server.address")
	set("SERVER_MODE", "server.mode")
	set("PUBLIC_URL", "server.public_url")

	// 认证配置
	set("JWT_SECRET", "auth.jwt_secret")

	// 存储配置
	set("STORAGE_TYPE", "storage.type")
	set("MINIO_ENDPOINT", "storage.minio.endpoint")
	set("MINIO_ACCESS_KEY", "storage.minio.access_key")
	set("MINIO_SECRET_KEY", "storage.minio.secret_key")
	set("MINIO_BUCKET_NAME", "storage.minio.bucket_name")
	set("S3_BUCKET_NAME", "storage.s3.bucket")
	set("S3_ENDPOINT", "storage.s3.endpoint")
	set("AWS_REGION", "storage.s3.region")
	set("AWS_ACCESS_KEY_ID", "storage.s3.access_key")
	set("AWS_SECRET_ACCESS_KEY", "storage.s3.secret_key")

	// PostgreSQL配置
	set("DATABASE_TYPE", "database.type")
	set("POSTGRES_HOST", "database.postgres.host")
	setInt("POSTGRES_PORT", "database.postgres.port")
	set("POSTGRES_USERNAME", "database.postgres.username")
	set("POSTGRES_PASSWORD", "database.postgres.password")
	set("POSTGRES_DATABASE", "database.postgres.database")
	set("SQLITE_PATH", "database.sqlite.path")

	// Redis配置
	set("CACHE_TYPE", "cache.type")
	set("REDIS_ADDRESS", "cache.redis.address")
	set("REDIS_PASSWORD", "cache.redis.password")
	setInt("REDIS_DB", "cache.redis.db")

	set("LOG_LEVEL", "logging.level")
	set("LOG_FORMAT", "logging.format")
}

// Validate checks field rules and the settings each backend requires.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	switch c.Storage.Type {
	case "minio":
		if c.Storage.MinIO.Endpoint == "" || c.Storage.MinIO.BucketName == "" {
			return errors.New("invalid config: storage.minio.endpoint and bucket_name are required")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return errors.New("invalid config: storage.s3.bucket (S3_BUCKET_NAME) is required")
		}
	}

	if c.Database.Type == "postgres" && c.Database.Postgres.Host == "" {
		return errors.New("invalid config: database.postgres.host is required")
	}
	if c.Cache.Type == "redis" && c.Cache.Redis.Address == "" {
		return errors.New("invalid config: cache.redis.address is required")
	}
	return nil
}

// GetDSN 获取数据库连接字符串
func (c *Config) GetDSN() string {
	switch c.Database.Type {
	case "postgres":
		return buildPostgresDSN(c.Database.Postgres)
	case "sqlite":
		return c.Database.SQLite.Path
	default:
		return ""
	}
}

// buildPostgresDSN 构建PostgreSQL DSN
func buildPostgresDSN(config PostgresConfig) string {
	dsn := "host=" + config.Host
	dsn += " port=" + strconv.Itoa(config.Port)
	dsn += " user=" + config.Username
	dsn += " password=" + config.Password
	dsn += " dbname=" + config.Database
	dsn += " sslmode=" + config.SSLMode
	return dsn
}

// IsProduction 检查是否为生产环境
func (c *Config) IsProduction() bool {
	return c.Server.Mode == "production" || c.Server.Mode == "release"
}

// GetGINMode 获取Gin模式
func (c *Config) GetGINMode() string {
	switch c.Server.Mode {
	case "release", "production":
		return gin.ReleaseMode
	case "test":
		return gin.TestMode
	default:
		return gin.DebugMode
	}
}
