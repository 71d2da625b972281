package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Timezone  string          `mapstructure:"timezone"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Watchdog  WatchdogConfig  `mapstructure:"watchdog"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Delivery  DeliveryConfig  `mapstructure:"delivery"`
	Throttle  ThrottleConfig  `mapstructure:"throttle"`
	Generator GeneratorConfig `mapstructure:"generator"`
	Mailer    MailerConfig    `mapstructure:"mailer"`
	Alert     AlertConfig     `mapstructure:"alert"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Sheets    SheetsConfig    `mapstructure:"sheets"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite | postgres
	Path            string        `mapstructure:"path"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN returns the driver-specific connection string.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
	}
	return c.Path
}

// SchedulerConfig holds the cron specs of the periodic triggers.
type SchedulerConfig struct {
	PlanCheckSpec string        `mapstructure:"plan_check_spec"`
	WatchdogSpec  string        `mapstructure:"watchdog_spec"`
	RolloverSpec  string        `mapstructure:"rollover_spec"`
	ReportSpec    string        `mapstructure:"report_spec"`
	HeartbeatTTL  time.Duration `mapstructure:"heartbeat_ttl"`
}

type WatchdogConfig struct {
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`
}

type WorkerConfig struct {
	IdleInterval      time.Duration `mapstructure:"idle_interval"`
	StopInterval      time.Duration `mapstructure:"stop_interval"`
	DefaultMaxRetries int           `mapstructure:"default_max_retries"`
}

type DeliveryConfig struct {
	MaxRetry       int           `mapstructure:"max_retry"`
	BackoffBase    time.Duration `mapstructure:"backoff_base"`
	HeartbeatEvery int           `mapstructure:"heartbeat_every"`
	LastErrorLimit int           `mapstructure:"last_error_limit"`
}

type ThrottleConfig struct {
	Base      time.Duration `mapstructure:"base"`
	Increment time.Duration `mapstructure:"increment"`
	TTL       time.Duration `mapstructure:"ttl"`
}

type GeneratorConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	DefaultModel string        `mapstructure:"default_model"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Temperature  float64       `mapstructure:"temperature"`
}

type MailerConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	FromEmail         string        `mapstructure:"from_email"`
	SiteName          string        `mapstructure:"site_name"`
	SiteURL           string        `mapstructure:"site_url"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

type AlertConfig struct {
	Recipients []string `mapstructure:"recipients"`
}

type StorageConfig struct {
	Type      string `mapstructure:"type"` // s3 | r2 | s3compatible | minio
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
}

type SheetsConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Validate checks the settings a binary cannot start without.
// sending is true for processes that generate and send mail.
func (c *Config) Validate(sending bool) error {
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Delivery.MaxRetry < 0 {
		return fmt.Errorf("delivery.max_retry must be >= 0")
	}
	if c.Delivery.HeartbeatEvery <= 0 {
		return fmt.Errorf("delivery.heartbeat_every must be > 0")
	}
	if !sending {
		return nil
	}
	if c.Generator.APIKey == "" {
		return fmt.Errorf("generator.api_key is required (OPENAI_API_KEY)")
	}
	if c.Mailer.APIKey == "" {
		return fmt.Errorf("mailer.api_key is required (RESEND_API_KEY)")
	}
	if c.Mailer.FromEmail == "" {
		return fmt.Errorf("mailer.from_email is required")
	}
	return nil
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Secrets and deployment-specific values
	v.BindEnv("database.driver", "DATABASE_DRIVER")
	v.BindEnv("database.host", "DATABASE_HOST")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("generator.api_key", "OPENAI_API_KEY")
	v.BindEnv("generator.base_url", "OPENAI_BASE_URL")
	v.BindEnv("mailer.api_key", "RESEND_API_KEY")
	v.BindEnv("mailer.from_email", "FROM_EMAIL")
	v.BindEnv("mailer.site_url", "SITE_URL")
	v.BindEnv("storage.access_key", "STORAGE_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "STORAGE_SECRET_KEY")
	v.BindEnv("sheets.api_key", "GOOGLE_SHEETS_API_KEY")
	v.BindEnv("timezone", "TZ_NAME")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/planmail.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("timezone", "Asia/Tokyo")

	v.SetDefault("scheduler.plan_check_spec", "* * * * *")
	v.SetDefault("scheduler.watchdog_spec", "*/5 * * * *")
	v.SetDefault("scheduler.rollover_spec", "0 0 * * *")
	v.SetDefault("scheduler.report_spec", "55 23 * * *")
	v.SetDefault("scheduler.heartbeat_ttl", "180s")

	v.SetDefault("watchdog.heartbeat_timeout", "15m")

	v.SetDefault("worker.idle_interval", "5s")
	v.SetDefault("worker.stop_interval", "10s")
	v.SetDefault("worker.default_max_retries", 3)

	v.SetDefault("delivery.max_retry", 3)
	v.SetDefault("delivery.backoff_base", "1s")
	v.SetDefault("delivery.heartbeat_every", 5)
	v.SetDefault("delivery.last_error_limit", 1000)

	v.SetDefault("throttle.base", "5s")
	v.SetDefault("throttle.increment", "10s")
	v.SetDefault("throttle.ttl", "10m")

	v.SetDefault("generator.base_url", "https://api.openai.com/v1")
	v.SetDefault("generator.default_model", "gpt-4o-mini")
	v.SetDefault("generator.timeout", "240s")
	v.SetDefault("generator.temperature", 0.7)

	v.SetDefault("mailer.base_url", "https://api.resend.com")
	v.SetDefault("mailer.site_name", "planmail")
	v.SetDefault("mailer.site_url", "http://localhost:8080")
	v.SetDefault("mailer.requests_per_second", 2.0)
	v.SetDefault("mailer.timeout", "30s")

	v.SetDefault("alert.recipients", []string{})

	v.SetDefault("storage.type", "s3compatible")
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.use_ssl", false)
	v.SetDefault("storage.bucket", "plan-data")

	v.SetDefault("sheets.base_url", "https://sheets.googleapis.com")
}
