package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config aggregates application settings sourced from environment variables (optionally via .env).
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	MinIO    MinIOConfig    `mapstructure:"minio"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Uploads  UploadsConfig  `mapstructure:"uploads"`
	Clamd    ClamdConfig    `mapstructure:"clamd"`
	Email    EmailConfig    `mapstructure:"email"`
	ATS      ATSConfig      `mapstructure:"ats"`
	Review   ReviewConfig   `mapstructure:"review"`
	Worker   WorkerConfig   `mapstructure:"worker"`
}

// APIConfig contains HTTP server settings.
type APIConfig struct {
	Port            int           `mapstructure:"port"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	FrontendBaseURL string        `mapstructure:"frontend_base_url"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AnalyticsTTL    time.Duration `mapstructure:"analytics_cache_ttl"`
}

// DatabaseConfig contains connection options for PostgreSQL.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig 包含 Redis 连接配置。
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
}

// Addr 返回 host:port 形式的地址。
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// MinIOConfig contains connection options for MinIO/S3-compatible storage.
type MinIOConfig struct {
	Endpoint            string `mapstructure:"endpoint"`
	PublicEndpoint      string `mapstructure:"public_endpoint"`
	AccessKeyID         string `mapstructure:"access_key_id"`
	SecretAccessKey     string `mapstructure:"secret_access_key"`
	UseSSL              bool   `mapstructure:"use_ssl"`
	Region              string `mapstructure:"region"`
	BucketLookup        string `mapstructure:"bucket_lookup"`
	AutoCreateBucket    bool   `mapstructure:"auto_create_bucket"`
	AnnouncementsBucket string `mapstructure:"announcements_bucket"`
	VideosBucket        string `mapstructure:"videos_bucket"`
	ResumesBucket       string `mapstructure:"resumes_bucket"`
}

// Buckets 返回需要在启动时确认存在的全部 Bucket。
func (m MinIOConfig) Buckets() []string {
	return []string{m.AnnouncementsBucket, m.VideosBucket, m.ResumesBucket}
}

// AuthConfig 描述令牌、登录限流与注册限制。
type AuthConfig struct {
	PrivateKeyPath        string        `mapstructure:"private_key_path"`
	PublicKeyPath         string        `mapstructure:"public_key_path"`
	AccessTokenTTL        time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL       time.Duration `mapstructure:"refresh_token_ttl"`
	EmailDomain           string        `mapstructure:"email_domain"`
	LoginRateLimitPerHour int           `mapstructure:"login_rate_limit_per_hour"`
	LoginLockThreshold    int           `mapstructure:"login_lock_threshold"`
	LoginLockTTL          time.Duration `mapstructure:"login_lock_ttl"`
	CookieDomain          string        `mapstructure:"cookie_domain"`
}

// UploadsConfig caps upload sizes in bytes.
type UploadsConfig struct {
	MaxAttachmentBytes int64 `mapstructure:"max_attachment_bytes"`
	MaxResumeBytes     int64 `mapstructure:"max_resume_bytes"`
	MaxVideoBytes      int64 `mapstructure:"max_video_bytes"`
}

// ClamdConfig 为空地址时跳过病毒扫描。
type ClamdConfig struct {
	Addr string `mapstructure:"addr"`
}

// EmailConfig configures the SendGrid sender.
type EmailConfig struct {
	SendGridAPIKey string `mapstructure:"sendgrid_api_key"`
	FromName       string `mapstructure:"from_name"`
	FromAddress    string `mapstructure:"from_address"`
	MaxRetry       int    `mapstructure:"max_retry"`
}

// ATSConfig points at an OpenAI-compatible chat completions endpoint.
type ATSConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ReviewConfig 控制视频审核规则。
type ReviewConfig struct {
	AllowReReview bool `mapstructure:"allow_rereview"`
}

// WorkerConfig contains asynq server settings.
type WorkerConfig struct {
	Concurrency int    `mapstructure:"concurrency"`
	MetricsPort int    `mapstructure:"metrics_port"`
	ChromeBin   string `mapstructure:"chrome_bin"`
}

// DSN builds a PostgreSQL keyword/value connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host,
		d.Port,
		d.User,
		d.Password,
		d.Name,
		d.SSLMode,
	)
}

// Load reads configuration from environment variables. A .env file in the
// working directory (or the path in ENV_FILE) is loaded first when present.
func Load() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if err := bindEnv(v); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.API.AllowedOrigins = normalizeList(cfg.API.AllowedOrigins)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// MustLoad wraps Load and panics on failure.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func loadDotEnv() error {
	path := strings.TrimSpace(os.Getenv("ENV_FILE"))
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat env file: %w", err)
	}
	// godotenv.Load 不会覆盖已存在的环境变量。
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %q: %w", path, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.allowed_origins", []string{})
	v.SetDefault("api.frontend_base_url", "http://localhost:5173")
	v.SetDefault("api.shutdown_timeout", "10s")
	v.SetDefault("api.analytics_cache_ttl", "60s")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "placement")
	v.SetDefault("database.user", "placement")
	v.SetDefault("database.password", "placement")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.public_endpoint", "http://localhost:9000")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket_lookup", "auto")
	v.SetDefault("minio.auto_create_bucket", true)
	v.SetDefault("minio.announcements_bucket", "announcements")
	v.SetDefault("minio.videos_bucket", "videos")
	v.SetDefault("minio.resumes_bucket", "resumes")
	v.SetDefault("auth.private_key_path", "keys/jwt_private.pem")
	v.SetDefault("auth.public_key_path", "keys/jwt_public.pem")
	v.SetDefault("auth.access_token_ttl", "15m")
	v.SetDefault("auth.refresh_token_ttl", "168h")
	v.SetDefault("auth.email_domain", "@vvce.ac.in")
	v.SetDefault("auth.login_rate_limit_per_hour", 10)
	v.SetDefault("auth.login_lock_threshold", 5)
	v.SetDefault("auth.login_lock_ttl", "15m")
	v.SetDefault("uploads.max_attachment_bytes", 5*1024*1024)
	v.SetDefault("uploads.max_resume_bytes", 5*1024*1024)
	v.SetDefault("uploads.max_video_bytes", 50*1024*1024)
	v.SetDefault("email.from_name", "Placement Cell")
	v.SetDefault("email.from_address", "placements@vvce.ac.in")
	v.SetDefault("email.max_retry", 3)
	v.SetDefault("ats.base_url", "https://api.openai.com/v1")
	v.SetDefault("ats.model", "gpt-4o-mini")
	v.SetDefault("ats.timeout", "60s")
	v.SetDefault("review.allow_rereview", true)
	v.SetDefault("worker.concurrency", 10)
	v.SetDefault("worker.metrics_port", 9091)
}

func bindEnv(v *viper.Viper) error {
	mappings := map[string]string{
		"api.port":                       "API_PORT",
		"api.allowed_origins":            "API_ALLOWED_ORIGINS",
		"api.frontend_base_url":          "FRONTEND_BASE_URL",
		"api.shutdown_timeout":           "API_SHUTDOWN_TIMEOUT",
		"api.analytics_cache_ttl":        "ANALYTICS_CACHE_TTL",
		"database.host":                  "DATABASE_HOST",
		"database.port":                  "DATABASE_PORT",
		"database.name":                  "POSTGRES_DB",
		"database.user":                  "POSTGRES_USER",
		"database.password":              "POSTGRES_PASSWORD",
		"database.sslmode":               "DATABASE_SSLMODE",
		"redis.host":                     "REDIS_HOST",
		"redis.port":                     "REDIS_PORT",
		"redis.password":                 "REDIS_PASSWORD",
		"minio.endpoint":                 "MINIO_ENDPOINT",
		"minio.public_endpoint":          "MINIO_PUBLIC_ENDPOINT",
		"minio.access_key_id":            "MINIO_ACCESS_KEY_ID",
		"minio.secret_access_key":        "MINIO_SECRET_ACCESS_KEY",
		"minio.use_ssl":                  "MINIO_USE_SSL",
		"minio.region":                   "MINIO_REGION",
		"minio.bucket_lookup":            "MINIO_BUCKET_LOOKUP",
		"minio.auto_create_bucket":       "MINIO_AUTO_CREATE_BUCKET",
		"minio.announcements_bucket":     "MINIO_ANNOUNCEMENTS_BUCKET",
		"minio.videos_bucket":            "MINIO_VIDEOS_BUCKET",
		"minio.resumes_bucket":           "MINIO_RESUMES_BUCKET",
		"auth.private_key_path":          "JWT_PRIVATE_KEY_PATH",
		"auth.public_key_path":           "JWT_PUBLIC_KEY_PATH",
		"auth.access_token_ttl":          "JWT_ACCESS_TOKEN_TTL",
		"auth.refresh_token_ttl":         "JWT_REFRESH_TOKEN_TTL",
		"auth.email_domain":              "AUTH_EMAIL_DOMAIN",
		"auth.login_rate_limit_per_hour": "AUTH_LOGIN_RATE_LIMIT_PER_HOUR",
		"auth.login_lock_threshold":      "AUTH_LOGIN_LOCK_THRESHOLD",
		"auth.login_lock_ttl":            "AUTH_LOGIN_LOCK_TTL",
		"auth.cookie_domain":             "AUTH_COOKIE_DOMAIN",
		"uploads.max_attachment_bytes":   "UPLOAD_MAX_ATTACHMENT_BYTES",
		"uploads.max_resume_bytes":       "UPLOAD_MAX_RESUME_BYTES",
		"uploads.max_video_bytes":        "UPLOAD_MAX_VIDEO_BYTES",
		"clamd.addr":                     "CLAMD_ADDR",
		"email.sendgrid_api_key":         "SENDGRID_API_KEY",
		"email.from_name":                "EMAIL_FROM_NAME",
		"email.from_address":             "EMAIL_FROM_ADDRESS",
		"email.max_retry":                "EMAIL_MAX_RETRY",
		"ats.base_url":                   "ATS_BASE_URL",
		"ats.api_key":                    "ATS_API_KEY",
		"ats.model":                      "ATS_MODEL",
		"ats.timeout":                    "ATS_TIMEOUT",
		"review.allow_rereview":          "REVIEW_ALLOW_REREVIEW",
		"worker.concurrency":             "WORKER_CONCURRENCY",
		"worker.metrics_port":            "WORKER_METRICS_PORT",
		"worker.chrome_bin":              "CHROME_BIN",
	}

	for key, env := range mappings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s to %s: %w", key, env, err)
		}
	}

	return nil
}

// normalizeList 兼容 "a,b" 形式的单个环境变量。
func normalizeList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func validate(cfg Config) error {
	if cfg.API.Port <= 0 {
		return errors.New("api port must be positive")
	}
	if cfg.Database.Host == "" {
		return errors.New("database host is required")
	}
	if cfg.Database.Port <= 0 {
		return errors.New("database port must be positive")
	}
	if cfg.Database.Name == "" {
		return errors.New("database name is required")
	}
	if cfg.Database.User == "" {
		return errors.New("database user is required")
	}
	if cfg.Database.Password == "" {
		return errors.New("database password is required")
	}
	if cfg.Database.SSLMode == "" {
		return errors.New("database sslmode is required")
	}
	if cfg.Redis.Host == "" {
		return errors.New("redis host is required")
	}
	if cfg.Redis.Port <= 0 {
		return errors.New("redis port must be positive")
	}
	if cfg.MinIO.Endpoint == "" {
		return errors.New("minio endpoint is required")
	}
	if cfg.MinIO.AccessKeyID == "" {
		return errors.New("minio access key id is required")
	}
	if cfg.MinIO.SecretAccessKey == "" {
		return errors.New("minio secret access key is required")
	}
	for _, bucket := range cfg.MinIO.Buckets() {
		if strings.TrimSpace(bucket) == "" {
			return errors.New("minio bucket names are required")
		}
	}
	if cfg.Auth.AccessTokenTTL <= 0 || cfg.Auth.RefreshTokenTTL <= 0 {
		return errors.New("token ttl must be positive")
	}
	if !strings.HasPrefix(cfg.Auth.EmailDomain, "@") {
		return errors.New("auth email domain must start with @")
	}
	if cfg.Uploads.MaxAttachmentBytes <= 0 || cfg.Uploads.MaxResumeBytes <= 0 || cfg.Uploads.MaxVideoBytes <= 0 {
		return errors.New("upload limits must be positive")
	}
	if cfg.Worker.Concurrency <= 0 {
		return errors.New("worker concurrency must be positive")
	}
	return nil
}
