package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Lark     LarkConfig     `mapstructure:"lark"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	// MigrationsDir overrides the embedded schema when set
	MigrationsDir string `mapstructure:"migrations_dir"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// LarkConfig holds Lark messaging configuration. Users maps engine user ids to Lark ids
// for accounts whose Lark id is not the numeric id itself.
type LarkConfig struct {
	Enabled       bool             `mapstructure:"enabled"`
	AppID         string           `mapstructure:"app_id"`
	AppSecret     string           `mapstructure:"app_secret"`
	BaseURL       string           `mapstructure:"base_url"`
	ReceiveIDType string           `mapstructure:"receive_id_type"`
	Users         map[int64]string `mapstructure:"users"`
}

// OpenAIConfig holds configuration of the approval summarizer
type OpenAIConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	APIKey      string `mapstructure:"api_key"`
	Model       string `mapstructure:"model"`
	BaseURL     string `mapstructure:"base_url"`
	PromptsPath string `mapstructure:"prompts_path"`
}

// RedisConfig holds the lease store configuration; disabled falls back to in-process leases
type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// WorkflowConfig holds engine and background worker configuration
type WorkflowConfig struct {
	SeedFile    string       `mapstructure:"seed_file"`
	SeedOnStart bool         `mapstructure:"seed_on_start"`
	NotifyFlows []string     `mapstructure:"notify_flows"`
	Resume      ResumeConfig `mapstructure:"resume"`
}

// ResumeConfig configures the worker that re-advances stuck instances
type ResumeConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Grace        time.Duration `mapstructure:"grace"`
	BatchSize    int           `mapstructure:"batch_size"`
	LeaseTTL     time.Duration `mapstructure:"lease_ttl"`
}

// StorageConfig holds the local directory archived reports are written to
type StorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	Output      string `mapstructure:"output"`
	PrettyPrint bool   `mapstructure:"pretty_print"`
}

// MetricsConfig toggles the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load loads configuration from file, an optional .env file and environment variables.
// An empty configPath uses defaults plus environment only.
func Load(configPath string) (*Config, error) {
	return load(configPath, ".env")
}

func load(configPath, envFile string) (*Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := gotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
			}
		}
	}

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("REIMBURSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("database.path", "data/reimburse_flow.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.migrations_dir", "")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	v.SetDefault("lark.enabled", false)
	v.SetDefault("lark.receive_id_type", "user_id")

	v.SetDefault("openai.enabled", false)
	v.SetDefault("openai.model", "gpt-4o-mini")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.key_prefix", "reimburse-flow:")

	v.SetDefault("workflow.seed_file", "configs/workflows.yaml")
	v.SetDefault("workflow.seed_on_start", true)
	v.SetDefault("workflow.resume.enabled", true)
	v.SetDefault("workflow.resume.poll_interval", time.Minute)
	v.SetDefault("workflow.resume.grace", 5*time.Minute)
	v.SetDefault("workflow.resume.batch_size", 50)
	v.SetDefault("workflow.resume.lease_ttl", 30*time.Second)

	v.SetDefault("storage.base_dir", "data/files")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "reimburse-flow")
	v.SetDefault("tracing.output", "stdout")

	v.SetDefault("metrics.enabled", true)
}

// bindEnvVars binds the conventional names of credentials on top of the REIMBURSE_ prefixed ones
func bindEnvVars(v *viper.Viper) error {
	bindings := map[string]string{
		"lark.app_id":     "LARK_APP_ID",
		"lark.app_secret": "LARK_APP_SECRET",
		"openai.api_key":  "OPENAI_API_KEY",
		"redis.addr":      "REDIS_ADDR",
		"redis.password":  "REDIS_PASSWORD",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, "REIMBURSE_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", c.Server.Port))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	switch strings.ToLower(c.Logger.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logger.level %q is not one of debug, info, warn, error", c.Logger.Level))
	}

	if c.Lark.Enabled {
		if c.Lark.AppID == "" {
			errs = append(errs, errors.New("lark.app_id is required when lark is enabled"))
		}
		if c.Lark.AppSecret == "" {
			errs = append(errs, errors.New("lark.app_secret is required when lark is enabled"))
		}
	}
	if c.OpenAI.Enabled && c.OpenAI.APIKey == "" {
		errs = append(errs, errors.New("openai.api_key is required when openai is enabled"))
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required when redis is enabled"))
	}

	if r := c.Workflow.Resume; r.Enabled {
		if r.PollInterval <= 0 {
			errs = append(errs, errors.New("workflow.resume.poll_interval must be positive"))
		}
		if r.BatchSize <= 0 {
			errs = append(errs, errors.New("workflow.resume.batch_size must be positive"))
		}
	}

	return errors.Join(errs...)
}
