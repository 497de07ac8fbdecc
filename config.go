package promptforge

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level service configuration.
type Config struct {
	Environment      string   `yaml:"environment"`
	ListenAddr       string   `yaml:"listen_addr"`
	CORSAllowOrigins []string `yaml:"cors_allow_origins"`

	Provider ProviderConfig `yaml:"provider"`
	Quota    QuotaConfig    `yaml:"quota"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Versions VersionsConfig `yaml:"versions"`
}

// ProviderConfig configures the LLM provider adapter and its call wrapper.
type ProviderConfig struct {
	Name              string   `yaml:"name"` // "deepseek", "openai-compat" or "gemini"
	BaseURL           string   `yaml:"base_url"`
	APIKey            string   `yaml:"api_key"`
	Model             string   `yaml:"model"`
	MaxAttempts       int      `yaml:"max_attempts"`
	RetryBaseDelay    Duration `yaml:"retry_base_delay"`
	RequestsPerSecond float64  `yaml:"requests_per_second"` // 0 disables pacing
}

// QuotaConfig configures the quota ledger and its storage backend.
type QuotaConfig struct {
	Backend           string `yaml:"backend"` // "memory", "postgres" or "redis"
	PostgresDSN       string `yaml:"postgres_dsn"`
	RedisAddr         string `yaml:"redis_addr"`
	RedisPassword     string `yaml:"redis_password"`
	RedisDB           int    `yaml:"redis_db"`
	FreeDailyLimit    int    `yaml:"free_daily_limit"`
	ProDailyLimit     int    `yaml:"pro_daily_limit"`
	MaxRequestRetries int    `yaml:"max_request_retries"`
}

// CatalogConfig locates the framework reference documents on disk.
type CatalogConfig struct {
	Dir string `yaml:"dir"`
}

// VersionsConfig configures the generated-prompt version store.
type VersionsConfig struct {
	Backend     string `yaml:"backend"` // "memory" or "postgres"
	PostgresDSN string `yaml:"postgres_dsn"`
}

// Duration is a time.Duration that unmarshals from YAML strings like "1s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Value == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("promptforge: config: invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// LoadConfig reads and parses a YAML config file. Environment variables in
// the format ${VAR} are expanded before parsing, and defaults are applied.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("promptforge: read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("promptforge: parse config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// ApplyDefaults fills unset fields with the reference defaults.
func (c *Config) ApplyDefaults() {
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.Provider.Name == "" {
		c.Provider.Name = "deepseek"
	}
	if c.Provider.Model == "" {
		c.Provider.Model = "deepseek-chat"
	}
	if c.Provider.MaxAttempts == 0 {
		c.Provider.MaxAttempts = 3
	}
	if c.Provider.RetryBaseDelay == 0 {
		c.Provider.RetryBaseDelay = Duration(time.Second)
	}
	if c.Quota.Backend == "" {
		c.Quota.Backend = "memory"
	}
	if c.Quota.FreeDailyLimit == 0 {
		c.Quota.FreeDailyLimit = 5
	}
	if c.Quota.ProDailyLimit == 0 {
		c.Quota.ProDailyLimit = 100
	}
	if c.Quota.MaxRequestRetries == 0 {
		c.Quota.MaxRequestRetries = 2
	}
	if c.Versions.Backend == "" {
		c.Versions.Backend = "memory"
	}
}

// QuotaBypass reports whether the ledger should skip quota enforcement.
// The bypass is operator-controlled through the environment setting, never
// silent: development and test environments run permissively.
func (c Config) QuotaBypass() bool {
	switch c.Environment {
	case "development", "test", "testing":
		return true
	default:
		return false
	}
}

// Validate checks the config for required fields and consistency.
func (c Config) Validate() error {
	switch c.Provider.Name {
	case "deepseek", "openai-compat", "gemini":
	default:
		return fmt.Errorf("promptforge: config: unknown provider %q", c.Provider.Name)
	}
	if c.Provider.APIKey == "" && !c.QuotaBypass() {
		return fmt.Errorf("promptforge: config: provider api_key is required")
	}
	if c.Provider.MaxAttempts < 1 {
		return fmt.Errorf("promptforge: config: provider max_attempts must be at least 1")
	}

	switch c.Quota.Backend {
	case "memory":
	case "postgres":
		if c.Quota.PostgresDSN == "" {
			return fmt.Errorf("promptforge: config: quota postgres_dsn is required for the postgres backend")
		}
	case "redis":
		if c.Quota.RedisAddr == "" {
			return fmt.Errorf("promptforge: config: quota redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("promptforge: config: unknown quota backend %q", c.Quota.Backend)
	}

	if c.Quota.FreeDailyLimit < 0 || c.Quota.ProDailyLimit < 0 {
		return fmt.Errorf("promptforge: config: daily limits must not be negative")
	}
	if c.Quota.MaxRequestRetries < 1 {
		return fmt.Errorf("promptforge: config: max_request_retries must be at least 1")
	}

	switch c.Versions.Backend {
	case "memory":
	case "postgres":
		if c.Versions.PostgresDSN == "" && c.Quota.PostgresDSN == "" {
			return fmt.Errorf("promptforge: config: versions postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("promptforge: config: unknown versions backend %q", c.Versions.Backend)
	}

	return nil
}
