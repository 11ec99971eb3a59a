package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/helgykoin/hkn_ledger/internal/domain/entities"
)

// Config holds all configuration for the application
type Config struct {
	Environment string          `mapstructure:"environment" validate:"oneof=development test staging production"`
	LogLevel    string          `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	Server      ServerConfig    `mapstructure:"server"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Cache       CacheConfig     `mapstructure:"cache"`
	Retry       RetryConfig     `mapstructure:"retry"`
	Token       TokenConfig     `mapstructure:"token"`
	Staking     StakingConfig   `mapstructure:"staking"`
	Boosters    []BoosterConfig `mapstructure:"boosters" validate:"min=1,dive"`
	AdminIDs    []int64         `mapstructure:"admin_ids"`
	Tracing     TracingConfig   `mapstructure:"tracing"`
	Workers     WorkerConfig    `mapstructure:"workers"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	RateLimitPerMin int           `mapstructure:"rate_limit_per_min" validate:"min=0"`
	FrontendSecret  string        `mapstructure:"frontend_secret"`
}

// DatabaseConfig selects and sizes the ledger store
type DatabaseConfig struct {
	Driver            string        `mapstructure:"driver" validate:"oneof=postgres sqlite"`
	URL               string        `mapstructure:"url"`
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	Name              string        `mapstructure:"name"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	SQLitePath        string        `mapstructure:"sqlite_path"`
	PoolSize          int           `mapstructure:"pool_size" validate:"min=1,max=1000"`
	AcquireTimeout    time.Duration `mapstructure:"acquire_timeout" validate:"gt=0"`
	CommitTimeout     time.Duration `mapstructure:"commit_timeout" validate:"gt=0"`
	ConnMaxLifetime   time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsEnabled bool          `mapstructure:"migrations_enabled"`
}

// RedisConfig contains Redis connection configuration
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// CacheConfig configures the wallet and token caches
type CacheConfig struct {
	Backend   string        `mapstructure:"backend" validate:"oneof=memory redis none"`
	TTL       time.Duration `mapstructure:"ttl" validate:"gt=0"`
	Capacity  int           `mapstructure:"capacity" validate:"min=1"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	KeyPrefix string        `mapstructure:"key_prefix"`
}

// RetryConfig is the bounded retry policy for storage and pool failures
type RetryConfig struct {
	MaxRetries   int           `mapstructure:"max_retries" validate:"min=0,max=10"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier" validate:"gte=1"`
}

// TokenConfig holds token metadata and the seed values of token state.
// Amounts are decimal strings.
type TokenConfig struct {
	Name             string `mapstructure:"name" validate:"required"`
	Symbol           string `mapstructure:"symbol" validate:"required"`
	Decimals         int32  `mapstructure:"decimals" validate:"min=0,max=18"`
	InitialSupply    string `mapstructure:"initial_supply" validate:"numeric"`
	InitialPrice     string `mapstructure:"initial_price" validate:"numeric"`
	SellRate         string `mapstructure:"sell_rate" validate:"numeric"`
	SellPolicy       string `mapstructure:"sell_policy" validate:"oneof=burn reserve"`
	ReserveAccountID int64  `mapstructure:"reserve_account_id"`
}

// StakingConfig holds reward and bonus parameters
type StakingConfig struct {
	StartupBonus   string `mapstructure:"startup_bonus" validate:"numeric"`
	BaseHourlyRate string `mapstructure:"base_hourly_rate" validate:"numeric"`
	MinAmount      string `mapstructure:"min_amount" validate:"numeric"`
	MaxAmount      string `mapstructure:"max_amount" validate:"numeric"`
	BoosterPolicy  string `mapstructure:"booster_policy" validate:"oneof=multiply max"`
}

// BoosterConfig is one purchasable booster
type BoosterConfig struct {
	Kind       string        `mapstructure:"kind" validate:"required"`
	Cost       string        `mapstructure:"cost" validate:"numeric"`
	Duration   time.Duration `mapstructure:"duration" validate:"gt=0"`
	Multiplier string        `mapstructure:"multiplier" validate:"numeric"`
}

// TracingConfig contains OpenTelemetry configuration
type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	CollectorURL string  `mapstructure:"collector_url"`
	SampleRate   float64 `mapstructure:"sample_rate" validate:"gte=0,lte=1"`
	Insecure     bool    `mapstructure:"insecure"`
}

// WorkerConfig schedules the maintenance jobs
type WorkerConfig struct {
	Enabled                bool          `mapstructure:"enabled"`
	BoosterCleanupSchedule string        `mapstructure:"booster_cleanup_schedule"`
	BoosterRetention       time.Duration `mapstructure:"booster_retention"`
	ReconciliationSchedule string        `mapstructure:"reconciliation_schedule"`
	JobTimeout             time.Duration `mapstructure:"job_timeout"`
}

// Load loads configuration from .env, an optional configs/config.yaml and
// environment variables, in increasing order of precedence.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore errors if file doesn't exist)
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	return load(v)
}

// LoadFile loads configuration from the given YAML file plus the environment.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Override with environment variables
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := overrideFromEnv(v); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if config.Database.Driver == "postgres" && config.Database.URL == "" {
		config.Database.URL = fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			config.Database.User,
			config.Database.Password,
			config.Database.Host,
			config.Database.Port,
			config.Database.Name,
			config.Database.SSLMode,
		)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.rate_limit_per_min", 600)
	v.SetDefault("server.frontend_secret", "")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "hkn_ledger")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.sqlite_path", "hkn_ledger.db")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.acquire_timeout", 5*time.Second)
	v.SetDefault("database.commit_timeout", 10*time.Second)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.migrations_enabled", true)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("cache.capacity", 10000)
	v.SetDefault("cache.token_ttl", 10*time.Second)
	v.SetDefault("cache.key_prefix", "hkn:wallet:")

	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.initial_delay", 200*time.Millisecond)
	v.SetDefault("retry.max_delay", 2*time.Second)
	v.SetDefault("retry.multiplier", 2.0)

	v.SetDefault("token.name", "HelgyKoin")
	v.SetDefault("token.symbol", "HKN")
	v.SetDefault("token.decimals", 8)
	v.SetDefault("token.initial_supply", "1000000000")
	v.SetDefault("token.initial_price", "0.0001")
	v.SetDefault("token.sell_rate", "0.00005")
	v.SetDefault("token.sell_policy", "burn")
	v.SetDefault("token.reserve_account_id", 0)

	v.SetDefault("staking.startup_bonus", "100")
	v.SetDefault("staking.base_hourly_rate", "0.001")
	v.SetDefault("staking.min_amount", "10")
	v.SetDefault("staking.max_amount", "1000000")
	v.SetDefault("staking.booster_policy", "multiply")

	v.SetDefault("boosters", []map[string]interface{}{
		{"kind": "speed_24h_1.5x", "cost": "100", "duration": 24 * time.Hour, "multiplier": "1.5"},
		{"kind": "speed_7d_2x", "cost": "500", "duration": 168 * time.Hour, "multiplier": "2.0"},
	})
	v.SetDefault("admin_ids", []int64{6328016694})

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.collector_url", "localhost:4317")
	v.SetDefault("tracing.sample_rate", 0.1)
	v.SetDefault("tracing.insecure", false)

	v.SetDefault("workers.enabled", true)
	v.SetDefault("workers.booster_cleanup_schedule", "0 * * * *")
	v.SetDefault("workers.booster_retention", 30*24*time.Hour)
	v.SetDefault("workers.reconciliation_schedule", "0 3 * * *")
	v.SetDefault("workers.job_timeout", 5*time.Minute)
}

func overrideFromEnv(v *viper.Viper) error {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			v.Set("server.port", p)
		}
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		v.Set("database.url", dbURL)
		if strings.HasPrefix(dbURL, "postgres") {
			v.Set("database.driver", "postgres")
		}
	}

	if redisURL := os.Getenv("REDIS_ADDR"); redisURL != "" {
		host, port, found := strings.Cut(redisURL, ":")
		v.Set("redis.host", host)
		if found {
			if p, err := strconv.Atoi(port); err == nil {
				v.Set("redis.port", p)
			}
		}
	}

	if secret := os.Getenv("FRONTEND_SECRET"); secret != "" {
		v.Set("server.frontend_secret", secret)
	}

	if admins := os.Getenv("ADMIN_IDS"); admins != "" {
		var ids []int64
		for _, part := range strings.Split(admins, ",") {
			trimmed := strings.TrimSpace(part)
			if trimmed == "" {
				continue
			}
			id, err := strconv.ParseInt(trimmed, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid ADMIN_IDS entry %q: %w", trimmed, err)
			}
			ids = append(ids, id)
		}
		v.Set("admin_ids", ids)
	}

	return nil
}

func validate(config *Config) error {
	if err := validator.New().Struct(config); err != nil {
		return err
	}

	if config.Database.Driver == "postgres" && config.Database.URL == "" {
		return fmt.Errorf("database.url is required for the postgres driver")
	}
	if config.Database.Driver == "sqlite" && config.Database.SQLitePath == "" {
		return fmt.Errorf("database.sqlite_path is required for the sqlite driver")
	}
	if config.Environment == "production" && config.Server.FrontendSecret == "" {
		return fmt.Errorf("server.frontend_secret is required in production")
	}
	if config.Retry.MaxDelay > 0 && config.Retry.InitialDelay > config.Retry.MaxDelay {
		return fmt.Errorf("retry.initial_delay must not exceed retry.max_delay")
	}

	if !config.StakeMin().IsPositive() {
		return fmt.Errorf("staking.min_amount must be positive")
	}
	if config.StakeMax().LessThan(config.StakeMin()) {
		return fmt.Errorf("staking.max_amount must be >= staking.min_amount")
	}
	if config.StartupBonus().IsNegative() {
		return fmt.Errorf("staking.startup_bonus must not be negative")
	}
	if !config.InitialPrice().IsPositive() {
		return fmt.Errorf("token.initial_price must be positive")
	}
	if config.SellRate().IsNegative() {
		return fmt.Errorf("token.sell_rate must not be negative")
	}

	seen := make(map[string]bool, len(config.Boosters))
	for _, spec := range config.BoosterCatalog() {
		if err := spec.Validate(); err != nil {
			return err
		}
		if seen[spec.Kind] {
			return fmt.Errorf("duplicate booster kind %q", spec.Kind)
		}
		seen[spec.Kind] = true
	}

	return nil
}

// mustDecimal parses a value already checked by the numeric validator.
func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (c *Config) StartupBonus() decimal.Decimal   { return mustDecimal(c.Staking.StartupBonus) }
func (c *Config) BaseHourlyRate() decimal.Decimal { return mustDecimal(c.Staking.BaseHourlyRate) }
func (c *Config) StakeMin() decimal.Decimal       { return mustDecimal(c.Staking.MinAmount) }
func (c *Config) StakeMax() decimal.Decimal       { return mustDecimal(c.Staking.MaxAmount) }
func (c *Config) InitialSupply() decimal.Decimal  { return mustDecimal(c.Token.InitialSupply) }
func (c *Config) InitialPrice() decimal.Decimal   { return mustDecimal(c.Token.InitialPrice) }
func (c *Config) SellRate() decimal.Decimal       { return mustDecimal(c.Token.SellRate) }

// BoosterCatalog converts the configured boosters to catalog entries.
func (c *Config) BoosterCatalog() []entities.BoosterSpec {
	out := make([]entities.BoosterSpec, 0, len(c.Boosters))
	for _, b := range c.Boosters {
		out = append(out, entities.BoosterSpec{
			Kind:       b.Kind,
			Cost:       mustDecimal(b.Cost),
			Duration:   b.Duration,
			Multiplier: mustDecimal(b.Multiplier),
		})
	}
	return out
}

// IsAdmin reports whether accountID is in the configured admin list.
func (c *Config) IsAdmin(accountID int64) bool {
	for _, id := range c.AdminIDs {
		if id == accountID {
			return true
		}
	}
	return false
}
