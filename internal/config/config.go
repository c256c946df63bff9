package config

import (
	"encoding/base64"
	"fmt"
	"slices"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/npezzotti/go-chatrelay/internal/database"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="
	envPrefix         = "CHATRELAY"
)

type Config struct {
	DatabaseDriver      string
	DatabaseDSN         string
	ServerAddr          string
	SigningKey          []byte
	AllowedOrigins      []string
	DefaultRoomCapacity int
	HistoryPageSize     int
	LogLevel            string
	AutoMigrate         bool
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	if base64Secret == "" {
		return nil, fmt.Errorf("empty secret")
	}
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(serverAddr, databaseDriver, databaseDSN, base64Secret string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if !slices.Contains(database.Drivers, databaseDriver) {
		return nil, fmt.Errorf("database driver must be one of %s", strings.Join(database.Drivers, ", "))
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	// Decode the base64 encoded signing secret
	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		DatabaseDriver:      databaseDriver,
		DatabaseDSN:         databaseDSN,
		ServerAddr:          serverAddr,
		SigningKey:          signingKey,
		AllowedOrigins:      allowedOrigins,
		DefaultRoomCapacity: 100,
		HistoryPageSize:     50,
		LogLevel:            "info",
	}, nil
}

// FlagSet returns the flags understood by Load.
func FlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("chatrelay", pflag.ContinueOnError)
	fs.String("config", "", "path to a config file (yaml, toml or json)")
	fs.String("addr", "localhost:8000", "server address")
	fs.String("db-driver", database.DriverPostgres, "database driver: "+strings.Join(database.Drivers, ", "))
	fs.String("dsn", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable", "database connection string")
	fs.String("signing-key", DefaultSigningKey, "base64 encoded signing key")
	fs.StringSlice("allowed-origins", []string{}, "comma-separated list of allowed origins for CORS")
	fs.Int("room-capacity", 100, "member capacity of rooms created on join")
	fs.Int("history-page-size", 50, "default number of messages returned by history requests")
	fs.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	fs.Bool("auto-migrate", false, "apply schema migrations on startup")
	return fs
}

// Load builds a Config from flags, CHATRELAY_* environment variables and an
// optional config file, in that order of precedence.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	cfg, err := NewConfig(
		v.GetString("addr"),
		v.GetString("db-driver"),
		v.GetString("dsn"),
		v.GetString("signing-key"),
		v.GetStringSlice("allowed-origins"),
	)
	if err != nil {
		return nil, err
	}

	cfg.DefaultRoomCapacity = v.GetInt("room-capacity")
	if cfg.DefaultRoomCapacity < 1 {
		return nil, fmt.Errorf("room capacity must be positive")
	}

	cfg.HistoryPageSize = v.GetInt("history-page-size")
	if cfg.HistoryPageSize < 1 {
		return nil, fmt.Errorf("history page size must be positive")
	}

	cfg.LogLevel = v.GetString("log-level")
	if hclog.LevelFromString(cfg.LogLevel) == hclog.NoLevel {
		return nil, fmt.Errorf("invalid log level %q", cfg.LogLevel)
	}

	cfg.AutoMigrate = v.GetBool("auto-migrate")

	return cfg, nil
}
