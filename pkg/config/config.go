package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Calculator types accepted by CALCULATOR_TYPE
const (
	CalculatorOctave = "OCTAVE"
	CalculatorMatlab = "MATLAB"
	CalculatorRemote = "REMOTE"
)

// Notification drivers accepted by NOTIFY_DRIVER
const (
	NotifyDriverStomp = "stomp"
	NotifyDriverRedis = "redis"
)

// Config holds all configuration for the application
// ⭐ SSOT: every environment variable is read here only
type Config struct {
	// Server
	Port string `koanf:"port"`
	Env  string `koanf:"env"` // development, staging, production

	// Database
	Database DatabaseConfig `koanf:"database"`

	// Redis
	Redis RedisConfig `koanf:"redis"`

	// Score collection
	Trends   TrendsConfig   `koanf:"trends"`
	Engine   EngineConfig   `koanf:"engine"`
	Notify   NotifyConfig   `koanf:"notify"`
	Schedule ScheduleConfig `koanf:"schedule"`

	// Logging
	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`

	// Monitoring
	MetricsEnabled bool   `koanf:"metrics_enabled"`
	MetricsPort    string `koanf:"metrics_port"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string `koanf:"host"`
	Port     string `koanf:"port"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Enabled  bool   `koanf:"enabled"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL string `koanf:"url"`

	// Connection Pool
	MaxConns        int           `koanf:"max_conns"`
	MinConns        int           `koanf:"min_conns"`
	MaxConnLifetime time.Duration `koanf:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `koanf:"max_conn_idle_time"`
}

// TrendsConfig holds the Google Health Trends API configuration
type TrendsConfig struct {
	APIKey    string        `koanf:"api_key"`
	BaseURL   string        `koanf:"base_url"`
	Region    string        `koanf:"region"`     // geoRestriction.region
	ProbeTerm string        `koanf:"probe_term"` // reference term of the pre-flight probe
	Pacing    time.Duration `koanf:"pacing"`     // blocking delay after every successful call
	LagDays   int           `koanf:"lag_days"`   // freshness lag: end date = today - LagDays
	MaxRPS    float64       `koanf:"max_rps"`    // 0 disables the HTTP-level limiter
	Timeout   time.Duration `koanf:"timeout"`
}

// EngineConfig holds the scoring engine configuration
type EngineConfig struct {
	Type       string        `koanf:"type"` // OCTAVE, MATLAB, REMOTE
	Binary     string        `koanf:"binary"`
	WorkDir    string        `koanf:"workdir"`
	Startup    string        `koanf:"startup"` // script run before every call
	Timeout    time.Duration `koanf:"timeout"`
	RemoteHost string        `koanf:"remote_host"`
}

// NotifyConfig holds the downstream notification configuration
type NotifyConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ModelID     int    `koanf:"model_id"` // the only model whose scores are published
	Driver      string `koanf:"driver"`   // stomp, redis
	URI         string `koanf:"uri"`
	Destination string `koanf:"destination"`
	User        string `koanf:"user"`
	Password    string `koanf:"password"`
	Channel     string `koanf:"channel"`
}

// ScheduleConfig holds the scheduled score collection jobs
type ScheduleConfig struct {
	Cron     string        `koanf:"cron"`
	ModelIDs []int         `koanf:"model_ids"`
	Jobs     []ScheduleJob `koanf:"jobs"`
}

// ScheduleJob is one cron entry running the scheduled pipeline over a model list.
// An empty model list means the registry's default model.
type ScheduleJob struct {
	Name     string `koanf:"name"`
	Cron     string `koanf:"cron"`
	ModelIDs []int  `koanf:"model_ids"`
}

// AllJobs returns the file-configured jobs plus the job built from SCHEDULE_CRON
func (s ScheduleConfig) AllJobs() []ScheduleJob {
	jobs := make([]ScheduleJob, 0, len(s.Jobs)+1)
	jobs = append(jobs, s.Jobs...)
	if s.Cron != "" {
		jobs = append(jobs, ScheduleJob{
			Name:     "score_collection",
			Cron:     s.Cron,
			ModelIDs: s.ModelIDs,
		})
	}
	return jobs
}

// Defaults returns the configuration used when nothing is set
func Defaults() *Config {
	return &Config{
		Port: "8089",
		Env:  "development",
		Database: DatabaseConfig{
			MaxConns:        10,
			MinConns:        2,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			Host:    "localhost",
			Port:    "6379",
			Enabled: false,
		},
		Trends: TrendsConfig{
			BaseURL:   "https://www.googleapis.com/trends/v1beta",
			Region:    "GB-ENG",
			ProbeTerm: "temperature",
			Pacing:    time.Second,
			LagDays:   2,
			MaxRPS:    0,
			Timeout:   30 * time.Second,
		},
		Engine: EngineConfig{
			Type:    CalculatorOctave,
			Binary:  "octave-cli",
			Timeout: 2 * time.Minute,
		},
		Notify: NotifyConfig{
			Driver:      NotifyDriverStomp,
			Destination: "/queue/PubModelScore.Q",
			Channel:     "fluscore:scores",
		},
		Schedule: ScheduleConfig{
			Cron: "0 0 14 * * *",
		},
		LogLevel:       "debug",
		LogFormat:      "json",
		MetricsEnabled: true,
		MetricsPort:    "9090",
	}
}

// Load reads configuration from defaults, the optional FLUSCORE_CONFIG YAML file
// and environment variables, in increasing order of precedence
// ⭐ SSOT: only this function (through the helpers below) calls os.Getenv()
func Load() (*Config, error) {
	// Try multiple paths for .env file
	loadEnvFile()

	cfg := Defaults()

	if path := os.Getenv("FLUSCORE_CONFIG"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFile overlays a YAML file onto cfg
func loadFile(path string, cfg *Config) error {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return err
	}
	return k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"})
}

// applyEnv overrides cfg with every environment variable that is set
func (c *Config) applyEnv() {
	// Server
	c.Port = getEnv("PORT", c.Port)
	c.Env = getEnv("ENV", c.Env)

	// Database
	c.Database.URL = getEnv("DATABASE_URL", c.Database.URL)
	c.Database.MaxConns = getEnvAsInt("DB_MAX_CONNS", c.Database.MaxConns)
	c.Database.MinConns = getEnvAsInt("DB_MIN_CONNS", c.Database.MinConns)
	c.Database.MaxConnLifetime = getEnvAsDuration("DB_MAX_CONN_LIFETIME", c.Database.MaxConnLifetime)
	c.Database.MaxConnIdleTime = getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", c.Database.MaxConnIdleTime)

	// Redis
	c.Redis.Host = getEnv("REDIS_HOST", c.Redis.Host)
	c.Redis.Port = getEnv("REDIS_PORT", c.Redis.Port)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvAsInt("REDIS_DB", c.Redis.DB)
	c.Redis.Enabled = getEnvAsBool("REDIS_ENABLED", c.Redis.Enabled)

	// Trends
	c.Trends.APIKey = getEnv("GOOGLE_API_KEY", c.Trends.APIKey)
	c.Trends.BaseURL = getEnv("TRENDS_BASE_URL", c.Trends.BaseURL)
	c.Trends.Region = getEnv("TRENDS_REGION", c.Trends.Region)
	c.Trends.ProbeTerm = getEnv("TRENDS_PROBE_TERM", c.Trends.ProbeTerm)
	c.Trends.Pacing = getEnvAsDuration("TRENDS_PACING", c.Trends.Pacing)
	c.Trends.LagDays = getEnvAsInt("TRENDS_LAG_DAYS", c.Trends.LagDays)
	c.Trends.MaxRPS = getEnvAsFloat("TRENDS_MAX_RPS", c.Trends.MaxRPS)
	c.Trends.Timeout = getEnvAsDuration("TRENDS_TIMEOUT", c.Trends.Timeout)

	// Engine
	c.Engine.Type = strings.ToUpper(getEnv("CALCULATOR_TYPE", c.Engine.Type))
	c.Engine.Binary = getEnv("ENGINE_BINARY", c.Engine.Binary)
	c.Engine.WorkDir = getEnv("ENGINE_WORKDIR", c.Engine.WorkDir)
	c.Engine.Startup = getEnv("ENGINE_STARTUP", c.Engine.Startup)
	c.Engine.Timeout = getEnvAsDuration("ENGINE_TIMEOUT", c.Engine.Timeout)
	c.Engine.RemoteHost = getEnv("MATLAB_API_HOST", c.Engine.RemoteHost)

	// Notification
	c.Notify.Enabled = getEnvAsBool("NOTIFY_ENABLED", c.Notify.Enabled)
	c.Notify.ModelID = getEnvAsInt("NOTIFY_MODEL_ID", c.Notify.ModelID)
	c.Notify.Driver = strings.ToLower(getEnv("NOTIFY_DRIVER", c.Notify.Driver))
	c.Notify.URI = getEnv("MQ_URI", c.Notify.URI)
	c.Notify.Destination = getEnv("MQ_DEST", c.Notify.Destination)
	c.Notify.User = getEnv("MQ_USER", c.Notify.User)
	c.Notify.Password = getEnv("MQ_PASSWORD", c.Notify.Password)
	c.Notify.Channel = getEnv("REDIS_CHANNEL", c.Notify.Channel)

	// Schedule
	c.Schedule.Cron = getEnv("SCHEDULE_CRON", c.Schedule.Cron)
	c.Schedule.ModelIDs = getEnvAsInts("SCHEDULE_MODEL_IDS", c.Schedule.ModelIDs)

	// Logging
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)

	// Monitoring
	c.MetricsEnabled = getEnvAsBool("METRICS_ENABLED", c.MetricsEnabled)
	c.MetricsPort = getEnv("METRICS_PORT", c.MetricsPort)
}

// validate checks if required configuration values are set
func (c *Config) validate() error {
	// Database URL is required
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	// Validate environment
	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	switch c.Engine.Type {
	case CalculatorOctave, CalculatorMatlab, CalculatorRemote:
	default:
		return fmt.Errorf("CALCULATOR_TYPE must be one of: OCTAVE, MATLAB, REMOTE (got %q)", c.Engine.Type)
	}

	if c.Trends.LagDays < 0 {
		return fmt.Errorf("TRENDS_LAG_DAYS must not be negative")
	}

	if c.Notify.Enabled {
		if c.Notify.ModelID <= 0 {
			return fmt.Errorf("NOTIFY_MODEL_ID is required when NOTIFY_ENABLED is set")
		}
		if c.Notify.Driver != NotifyDriverStomp && c.Notify.Driver != NotifyDriverRedis {
			return fmt.Errorf("NOTIFY_DRIVER must be one of: stomp, redis")
		}
	}

	for _, job := range c.Schedule.AllJobs() {
		if job.Name == "" {
			return fmt.Errorf("schedule job with cron %q has no name", job.Cron)
		}
	}

	return nil
}

// Helper functions (private, only used within this file)

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	// Try paths in order of priority
	paths := []string{
		".env", // Current directory
	}

	// Also try relative to executable
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
			filepath.Join(exeDir, "..", "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}

	return duration
}

// getEnvAsInts parses a comma separated id list such as "1,2,5"
func getEnvAsInts(key string, defaultValue []int) []int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	ids, err := ParseIDs(valueStr)
	if err != nil {
		return defaultValue
	}
	return ids
}

// ParseIDs parses a comma separated list of positive integers
func ParseIDs(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	ids := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.Atoi(p)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid id %q", p)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
