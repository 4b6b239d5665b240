package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the application configuration. Loaded once at startup and handed
// to the orchestrator as part of its dependency bundle; nothing reads it
// through package-level state.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Garmin    GarminConfig    `mapstructure:"garmin"`
	Calendar  CalendarConfig  `mapstructure:"calendar"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Log       LogConfig       `mapstructure:"log"`

	// Path the config was loaded from; keys the cycle advisory lock.
	SourcePath string `mapstructure:"-"`
}

type AppConfig struct {
	Name      string `mapstructure:"name"`
	Version   string `mapstructure:"version"`
	Port      int    `mapstructure:"port"`
	Mode      string `mapstructure:"mode"`
	SecretKey string `mapstructure:"secret_key"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	PoolSize   int    `mapstructure:"pool_size"`
	MaxRetries int    `mapstructure:"max_retries"`
}

// ModelConfig is one entry of the fallback chain, tried in order.
type ModelConfig struct {
	Name            string        `mapstructure:"name"`
	Provider        string        `mapstructure:"provider"` // openai | ollama
	Endpoint        string        `mapstructure:"endpoint"`
	APIKey          string        `mapstructure:"api_key"`
	APIKeyEncrypted string        `mapstructure:"api_key_encrypted"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	Temperature     float32       `mapstructure:"temperature"`
}

type LLMConfig struct {
	Models         []ModelConfig `mapstructure:"models"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
}

// GarminConfig points at the wearable wellness API. An empty endpoint
// disables ingestion; cycles then run against stored data only.
type GarminConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Token    string        `mapstructure:"token"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type CalendarConfig struct {
	Endpoint   string        `mapstructure:"endpoint"`
	CalendarID string        `mapstructure:"calendar_id"`
	Token      string        `mapstructure:"token"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type SchedulerConfig struct {
	GoalsFile             string        `mapstructure:"goals_file"`
	TemplatesFile         string        `mapstructure:"templates_file"`
	HorizonDays           int           `mapstructure:"horizon_days"`
	ReconcileDays         int           `mapstructure:"reconcile_days"`
	CycleDeadline         time.Duration `mapstructure:"cycle_deadline"`
	CronSpec              string        `mapstructure:"cron_spec"`
	TrainingLoadCeiling   float64       `mapstructure:"training_load_ceiling_48h"`
	ImportCacheMaxAge     time.Duration `mapstructure:"import_cache_max_age"`
	CalendarRetryAttempts int           `mapstructure:"calendar_retry_attempts"`
	CalendarRetryBase     time.Duration `mapstructure:"calendar_retry_base"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// Load reads config.yaml from the given directory (or the default search
// paths when dir is empty), applies defaults and environment overrides, and
// fails fast on missing required keys. Unknown keys are ignored.
func Load(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if dir != "" {
		v.AddConfigPath(dir)
	} else {
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/workout-scheduler")
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("SCHEDULER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	config.SourcePath = v.ConfigFileUsed()

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "AI Workout Scheduler")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.mode", "release")

	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "300s")

	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.max_retries", 3)

	v.SetDefault("llm.max_concurrency", 2)

	v.SetDefault("garmin.timeout", "30s")

	v.SetDefault("calendar.calendar_id", "primary")
	v.SetDefault("calendar.timeout", "30s")

	v.SetDefault("scheduler.goals_file", "configs/goals.yaml")
	v.SetDefault("scheduler.templates_file", "configs/templates.yaml")
	v.SetDefault("scheduler.horizon_days", 3)
	v.SetDefault("scheduler.reconcile_days", 7)
	v.SetDefault("scheduler.cycle_deadline", "10m")
	v.SetDefault("scheduler.cron_spec", "@every 30m")
	v.SetDefault("scheduler.training_load_ceiling_48h", 300)
	v.SetDefault("scheduler.import_cache_max_age", "6h")
	v.SetDefault("scheduler.calendar_retry_attempts", 3)
	v.SetDefault("scheduler.calendar_retry_base", "1s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.filename", "logs/scheduler.log")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 30)
}

func validateConfig(config *Config) error {
	if config.Database.Host == "" || config.Database.User == "" || config.Database.DBName == "" {
		return fmt.Errorf("database.host, database.user and database.dbname are required")
	}
	if len(config.LLM.Models) == 0 {
		return fmt.Errorf("llm.models must list at least one model")
	}
	for i, m := range config.LLM.Models {
		if m.Name == "" {
			return fmt.Errorf("llm.models[%d].name is required", i)
		}
		switch m.Provider {
		case "openai", "ollama":
		default:
			return fmt.Errorf("llm.models[%d].provider must be openai or ollama, got %q", i, m.Provider)
		}
	}
	return nil
}

// DSN returns the Postgres connection string.
func (c *Config) DSN() string {
	db := c.Database
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=UTC",
		db.Host, db.User, db.Password, db.DBName, db.Port, db.SSLMode)
}

// RedisAddr returns the host:port address of the Redis server.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// ModelTimeout returns the per-call timeout for a model, defaulting by
// provider: local models get longer because first-token latency includes
// model load.
func (m ModelConfig) ModelTimeout() time.Duration {
	if m.Timeout > 0 {
		return m.Timeout
	}
	if m.Provider == "ollama" {
		return 120 * time.Second
	}
	return 30 * time.Second
}
