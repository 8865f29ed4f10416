package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

var (
	ErrConfigFileNotFound    = errors.New("could not find config file in any config path")
	ErrConfigVersionMissing  = errors.New("config file is missing version field")
	ErrConfigVersionMismatch = errors.New("config file version mismatch")
	ErrMissingSetting        = errors.New("required setting is missing")
	ErrInvalidSetting        = errors.New("setting has an invalid value")
)

// RepositoryVersion is the repository version tag for config file references.
const RepositoryVersion = "v1.0.0"

// CurrentVersion is the current version of the config file.
const CurrentVersion = 1

// EnvPrefix is the prefix of environment variables that override file settings.
// CHATRANK_DISCORD__TOKEN maps to discord.token.
const EnvPrefix = "CHATRANK_"

// Environments the bot can run in.
const (
	EnvironmentProduction  = "production"
	EnvironmentDevelopment = "development"
)

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config represents the entire application configuration.
type Config struct {
	// Version of the config file.
	Version    int        `koanf:"version"`
	Debug      Debug      `koanf:"debug"`
	Discord    Discord    `koanf:"discord"`
	Database   Database   `koanf:"database"`
	PostgreSQL PostgreSQL `koanf:"postgresql"`
	Redis      Redis      `koanf:"redis"`
	Schedule   Schedule   `koanf:"schedule"`
	Retry      Retry      `koanf:"retry"`
	API        API        `koanf:"api"`
}

// Debug contains debug-related configuration.
type Debug struct {
	// Log level (debug, info, warn, error).
	LogLevel string `koanf:"log_level"`
	// Maximum log sessions to keep.
	MaxLogsToKeep int `koanf:"max_logs_to_keep"`
	// Maximum lines per log file.
	MaxLogLines int `koanf:"max_log_lines"`
}

// Discord contains Discord bot configuration.
type Discord struct {
	// Discord bot token for authentication.
	Token string `koanf:"token"`
	// Guild whose messages are counted and whose rank roles are managed.
	GuildID uint64 `koanf:"guild_id"`
	// Guild used for command registration in development.
	DevelopmentGuildID uint64 `koanf:"development_guild_id"`
	// Either "production" or "development".
	Environment string `koanf:"environment"`
	// Rank role IDs ordered from first place downwards.
	RankRoleIDs []uint64 `koanf:"rank_role_ids"`
	// Import the current month's history when the ledger is empty.
	HistoryImport bool `koanf:"history_import"`
}

// IsDevelopment reports whether operator-only commands are enabled.
func (d Discord) IsDevelopment() bool {
	return d.Environment == EnvironmentDevelopment
}

// Database selects the ledger store.
type Database struct {
	// Either "postgres" or "sqlite".
	Driver string `koanf:"driver"`
	// Path of the SQLite database file.
	SQLitePath string `koanf:"sqlite_path"`
	// Run pending migrations on startup.
	AutoMigrate bool `koanf:"auto_migrate"`
}

// PostgreSQL contains database connection configuration.
type PostgreSQL struct {
	// Database hostname.
	Host string `koanf:"host"`
	// Database port.
	Port int `koanf:"port"`
	// Database username.
	User string `koanf:"user"`
	// Database password.
	Password string `koanf:"password"`
	// Database name.
	DBName string `koanf:"db_name"`
	// Maximum open connections.
	MaxOpenConns int `koanf:"max_open_conns"`
	// Maximum idle connections.
	MaxIdleConns int `koanf:"max_idle_conns"`
	// Connection lifetime in minutes.
	MaxLifetime int `koanf:"max_lifetime"`
	// Idle timeout in minutes.
	MaxIdleTime int `koanf:"max_idle_time"`
}

// Redis contains Redis connection configuration.
type Redis struct {
	// Enable the Redis-backed ranking cache.
	Enabled bool `koanf:"enabled"`
	// Redis hostname.
	Host string `koanf:"host"`
	// Redis port.
	Port int `koanf:"port"`
	// Redis username.
	Username string `koanf:"username"`
	// Redis password.
	Password string `koanf:"password"`
}

// Schedule contains scheduler configuration.
type Schedule struct {
	// IANA name of the operating timezone.
	Timezone string `koanf:"timezone"`
	// Interval between automatic flushes in minutes.
	FlushInterval int `koanf:"flush_interval"`
}

// Location resolves the operating timezone.
func (s Schedule) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: schedule.timezone %q: %w", ErrInvalidSetting, s.Timezone, err)
	}

	return loc, nil
}

// Retry contains retry configuration for ledger writes.
type Retry struct {
	// Maximum attempts including the first one.
	MaxAttempts uint64 `koanf:"max_attempts"`
	// Delay between attempts in milliseconds.
	Delay int `koanf:"delay"`
}

// API contains HTTP server configuration.
type API struct {
	// Serve the HTTP API.
	Enabled bool `koanf:"enabled"`
	// Listen host.
	Host string `koanf:"host"`
	// Listen port.
	Port int `koanf:"port"`
	// Ranking size when no limit is requested.
	DefaultLimit int `koanf:"default_limit"`
	// Largest accepted ranking limit.
	MaxLimit int `koanf:"max_limit"`
	// Ranking cache lifetime in seconds.
	CacheTTL int `koanf:"cache_ttl"`
}

// defaults are loaded before any file so that partial config files stay valid.
func defaults() map[string]any {
	return map[string]any{
		"debug.log_level":           "info",
		"debug.max_logs_to_keep":    10,
		"debug.max_log_lines":       10000,
		"discord.environment":       EnvironmentProduction,
		"discord.history_import":    true,
		"database.driver":           DriverPostgres,
		"database.sqlite_path":      "chatrank.db",
		"postgresql.port":           5432,
		"postgresql.max_open_conns": 10,
		"postgresql.max_idle_conns": 5,
		"postgresql.max_lifetime":   30,
		"postgresql.max_idle_time":  5,
		"redis.port":                6379,
		"schedule.timezone":         "Asia/Tokyo",
		"schedule.flush_interval":   60,
		"retry.max_attempts":        3,
		"retry.delay":               1000,
		"api.enabled":               true,
		"api.host":                  "0.0.0.0",
		"api.port":                  3000,
		"api.default_limit":         3,
		"api.max_limit":             100,
		"api.cache_ttl":             30,
	}
}

// LoadConfig searches the config paths for config.toml and loads it.
// Returns the config along with the used config directory.
func LoadConfig() (*Config, string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, "", fmt.Errorf("failed to get home directory: %w", err)
	}

	configPaths := []string{
		".chatrank",
		homeDir + "/.chatrank/config",
		"/etc/chatrank/config",
		"/app/config",
		"config",
		".",
	}

	for _, path := range configPaths {
		if _, err := os.Stat(path + "/config.toml"); err != nil {
			continue
		}

		cfg, err := Load(path + "/config.toml")
		if err != nil {
			return nil, "", err
		}

		return cfg, path, nil
	}

	return nil, "", fmt.Errorf("%w: config.toml", ErrConfigFileNotFound)
}

// Load reads a single config file, overlays CHATRANK_ environment variables and validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	for key, value := range defaults() {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("error setting default %s: %w", key, err)
		}
	}

	if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
		return nil, fmt.Errorf("error loading %s: %w", path, err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("error loading environment overrides: %w", err)
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := checkConfigVersion(config.Version, CurrentVersion); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// envKey maps CHATRANK_SECTION__KEY to section.key.
func envKey(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(name, EnvPrefix)), "__", ".")
}

// Validate checks that every setting required at startup is present.
func (c *Config) Validate() error {
	var missing []string

	if c.Discord.Token == "" {
		missing = append(missing, "discord.token")
	}

	if c.Discord.GuildID == 0 {
		missing = append(missing, "discord.guild_id")
	}

	switch c.Database.Driver {
	case DriverPostgres:
		if c.PostgreSQL.Host == "" {
			missing = append(missing, "postgresql.host")
		}

		if c.PostgreSQL.User == "" {
			missing = append(missing, "postgresql.user")
		}

		if c.PostgreSQL.Password == "" {
			missing = append(missing, "postgresql.password")
		}

		if c.PostgreSQL.DBName == "" {
			missing = append(missing, "postgresql.db_name")
		}
	case DriverSQLite:
		if c.Database.SQLitePath == "" {
			missing = append(missing, "database.sqlite_path")
		}
	default:
		return fmt.Errorf("%w: database.driver %q", ErrInvalidSetting, c.Database.Driver)
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingSetting, strings.Join(missing, ", "))
	}

	if _, err := c.Schedule.Location(); err != nil {
		return err
	}

	if c.Discord.Environment != EnvironmentProduction && c.Discord.Environment != EnvironmentDevelopment {
		return fmt.Errorf("%w: discord.environment %q", ErrInvalidSetting, c.Discord.Environment)
	}

	if c.Retry.MaxAttempts == 0 {
		return fmt.Errorf("%w: retry.max_attempts must be at least 1", ErrInvalidSetting)
	}

	if c.Schedule.FlushInterval <= 0 {
		return fmt.Errorf("%w: schedule.flush_interval must be positive", ErrInvalidSetting)
	}

	return nil
}

// checkConfigVersion checks if the config file version is correct.
func checkConfigVersion(current, expected int) error {
	if current == 0 {
		return fmt.Errorf("%w: config.toml", ErrConfigVersionMissing)
	}

	if current != expected {
		return fmt.Errorf(
			"%w: config.toml (got: %d, expected: %d)\n"+
				"Please update your config file from: https://github.com/robalyx/chatrank/tree/%s/config/config.toml",
			ErrConfigVersionMismatch,
			current,
			expected,
			RepositoryVersion,
		)
	}

	return nil
}
