package logger

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
)

// EnvConfig is the logger configuration read from the environment.
// Each planmail binary (api, scheduler, worker) logs under its own
// service name and, outside local runs, to its own rotated file in LogDir.
type EnvConfig struct {
	Level       string
	Format      string    // json | text
	Output      io.Writer // overrides everything below when set
	ServiceName string

	Environment string // local | dev | prod

	LogDir      string
	LogFile     string // full path; defaults to <LogDir>/<binary>.log
	LogFileOnly bool

	MaxSize    int // MB
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// LoadFromEnv reads LOG_* and PLANMAIL_ENV for the named binary.
// An empty binary name logs as plain "planmail".
func LoadFromEnv(binary string) *EnvConfig {
	service := "planmail"
	if binary != "" {
		service += "-" + binary
	}
	cfg := &EnvConfig{
		Level:       getEnv("LOG_LEVEL", "info"),
		Format:      getEnv("LOG_FORMAT", "json"),
		ServiceName: getEnv("SERVICE_NAME", service),
		Environment: getEnv("PLANMAIL_ENV", "local"),
		LogDir:      getEnv("LOG_DIR", "/var/log/planmail"),
		LogFile:     os.Getenv("LOG_FILE"),
		LogFileOnly: getEnvBool("LOG_FILE_ONLY", false),
		MaxSize:     getEnvInt("LOG_MAX_SIZE", 100),
		MaxBackups:  getEnvInt("LOG_MAX_BACKUPS", 7),
		MaxAge:      getEnvInt("LOG_MAX_AGE", 30),
		Compress:    getEnvBool("LOG_COMPRESS", true),
	}
	if cfg.LogFile == "" {
		name := binary
		if name == "" {
			name = "planmail"
		}
		cfg.LogFile = filepath.Join(cfg.LogDir, name+".log")
	}
	return cfg
}

// Local reports whether logs stay on stdout only.
func (e *EnvConfig) Local() bool {
	return e.Environment == "local"
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvInt(key string, defaultVal int) int {
	i, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultVal
	}
	return i
}
