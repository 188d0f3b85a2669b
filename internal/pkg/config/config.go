package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Valkey    ValkeyConfig    `mapstructure:"valkey"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Temporal  TemporalConfig  `mapstructure:"temporal"`
	Log       LogConfig       `mapstructure:"log"`
	Proximity ProximityConfig `mapstructure:"proximity"`
}

type ServerConfig struct {
	Port         int `mapstructure:"port"`
	ReadTimeout  int `mapstructure:"read_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int32  `mapstructure:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type ValkeyConfig struct {
	Addr string `mapstructure:"addr"`
}

type TelemetryConfig struct {
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	Enabled      bool   `mapstructure:"enabled"`
}

type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ProximityConfig tunes discovery. Durations accept Go syntax ("5s", "2m").
type ProximityConfig struct {
	Cooldown               time.Duration `mapstructure:"cooldown"`
	PollInterval           time.Duration `mapstructure:"poll_interval"`
	DefaultRadiusMeters    float64       `mapstructure:"default_radius_meters"`
	MaxRadiusMeters        float64       `mapstructure:"max_radius_meters"`
	CatalogTimeout         time.Duration `mapstructure:"catalog_timeout"`
	CatalogRefreshInterval time.Duration `mapstructure:"catalog_refresh_interval"`
	CatalogCacheTTL        time.Duration `mapstructure:"catalog_cache_ttl"`
	MaxPayloadSpots        int           `mapstructure:"max_payload_spots"`
	RecommendationFallback int           `mapstructure:"recommendation_fallback"`
	MaxReportsPerSecond    float64       `mapstructure:"max_reports_per_second"`
	WSIdleTimeout          time.Duration `mapstructure:"ws_idle_timeout"`
	SessionTTL             time.Duration `mapstructure:"session_ttl"`
}

// Load reads configuration from file and environment variables.
func Load(service string) (*Config, error) {
	v := viper.New()
	setDefaults(v, service)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	_ = v.ReadInConfig() // OK if missing

	// Environment variables: SUGVOYAGE_PROXIMITY_COOLDOWN → proximity.cooldown
	v.SetEnvPrefix("SUGVOYAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper, service string) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 10)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "sugvoyage")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "sugvoyage")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 50)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("valkey.addr", "localhost:6379")
	v.SetDefault("telemetry.service_name", service)
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4317")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "catalog-sync")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("proximity.cooldown", "5s")
	v.SetDefault("proximity.poll_interval", "5s")
	v.SetDefault("proximity.default_radius_meters", 1000)
	v.SetDefault("proximity.max_radius_meters", 50000)
	v.SetDefault("proximity.catalog_timeout", "2s")
	v.SetDefault("proximity.catalog_refresh_interval", "30s")
	v.SetDefault("proximity.catalog_cache_ttl", "5m")
	v.SetDefault("proximity.max_payload_spots", 5)
	v.SetDefault("proximity.recommendation_fallback", 10)
	v.SetDefault("proximity.max_reports_per_second", 2)
	v.SetDefault("proximity.ws_idle_timeout", "90s")
	v.SetDefault("proximity.session_ttl", "30m")
}

// Validate checks that required configuration fields are present and sane.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Database.Host == "" {
		errs = append(errs, "database.host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", c.Database.Port))
	}
	if c.Database.User == "" {
		errs = append(errs, "database.user is required")
	}
	if c.Database.DBName == "" {
		errs = append(errs, "database.dbname is required")
	}
	if c.NATS.URL == "" {
		errs = append(errs, "nats.url is required")
	}
	if c.Valkey.Addr == "" {
		errs = append(errs, "valkey.addr is required")
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, "server.read_timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}
	errs = append(errs, c.Proximity.validate()...)

	if len(errs) > 0 {
		return eris.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (p ProximityConfig) validate() []string {
	var errs []string
	if p.Cooldown <= 0 {
		errs = append(errs, "proximity.cooldown must be positive")
	}
	if p.PollInterval <= 0 {
		errs = append(errs, "proximity.poll_interval must be positive")
	}
	if p.DefaultRadiusMeters <= 0 {
		errs = append(errs, "proximity.default_radius_meters must be positive")
	}
	if p.MaxRadiusMeters < p.DefaultRadiusMeters {
		errs = append(errs, fmt.Sprintf("proximity.max_radius_meters (%.0f) must be >= default_radius_meters (%.0f)",
			p.MaxRadiusMeters, p.DefaultRadiusMeters))
	}
	if p.CatalogTimeout <= 0 {
		errs = append(errs, "proximity.catalog_timeout must be positive")
	} else if p.CatalogTimeout >= p.Cooldown {
		errs = append(errs, fmt.Sprintf("proximity.catalog_timeout (%s) must be less than proximity.cooldown (%s)",
			p.CatalogTimeout, p.Cooldown))
	}
	if p.CatalogRefreshInterval <= 0 {
		errs = append(errs, "proximity.catalog_refresh_interval must be positive")
	}
	if p.MaxPayloadSpots <= 0 {
		errs = append(errs, "proximity.max_payload_spots must be positive")
	}
	if p.RecommendationFallback < 0 {
		errs = append(errs, "proximity.recommendation_fallback must not be negative")
	}
	if p.MaxReportsPerSecond <= 0 {
		errs = append(errs, "proximity.max_reports_per_second must be positive")
	}
	if p.SessionTTL <= 0 {
		errs = append(errs, "proximity.session_ttl must be positive")
	}
	return errs
}
