package config

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/rpattn/datalab/internal/db"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration of the server and CLI.
type Config struct {
	Database db.Config
	Server   ServerConfig
	Assembly AssemblyConfig
	Formula  FormulaConfig
	Log      LogConfig
}

type ServerConfig struct {
	Address     string
	CORSOrigins []string
	// Storage selects the repositories: "postgres" or "memory".
	Storage   string
	Workspace string
}

type AssemblyConfig struct {
	Workers       int
	FailurePolicy string
}

type FormulaConfig struct {
	MaxSteps uint64
	Timeout  time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// Default returns the configuration used when neither file nor env sets a key.
func Default() Config {
	return Config{
		Database: db.DefaultConfig(),
		Server: ServerConfig{
			Address:     ":8080",
			CORSOrigins: []string{"*"},
			Storage:     "postgres",
		},
		Assembly: AssemblyConfig{Workers: 4, FailurePolicy: "null"},
		Formula:  FormulaConfig{MaxSteps: 50_000, Timeout: 2 * time.Second},
		Log:      LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads config.yaml from configPath, then applies DATALAB_* env overrides
// (DATALAB_DATABASE_HOST, DATALAB_SERVER_ADDRESS, ...).
func Load(configPath string, logger *slog.Logger) (Config, error) {
	cfg := Default()
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.SetEnvPrefix("DATALAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range []string{
		"database.host", "database.port", "database.user", "database.password",
		"database.dbname", "database.sslmode", "database.max_conns",
		"server.address", "server.cors_origins", "server.storage", "server.workspace",
		"assembly.workers", "assembly.failure_policy",
		"formula.max_steps", "formula.timeout",
		"log.level", "log.format",
	} {
		if err := v.BindEnv(key); err != nil {
			return cfg, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cfg, err
		}
		logger.Info("no config.yaml found, using defaults and env vars", "path", configPath)
	} else {
		logger.Info("loaded config file", "file", v.ConfigFileUsed())
	}

	// Override defaults if values exist
	if v.IsSet("database.host") {
		cfg.Database.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Database.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.Database.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Database.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.Database.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.Database.SSLMode = v.GetString("database.sslmode")
	}
	if v.IsSet("database.max_conns") {
		cfg.Database.MaxConns = v.GetInt32("database.max_conns")
	}
	if v.IsSet("server.address") {
		cfg.Server.Address = v.GetString("server.address")
	}
	if v.IsSet("server.cors_origins") {
		cfg.Server.CORSOrigins = v.GetStringSlice("server.cors_origins")
	}
	if v.IsSet("server.storage") {
		cfg.Server.Storage = v.GetString("server.storage")
	}
	if v.IsSet("server.workspace") {
		cfg.Server.Workspace = v.GetString("server.workspace")
	}
	if v.IsSet("assembly.workers") {
		cfg.Assembly.Workers = v.GetInt("assembly.workers")
	}
	if v.IsSet("assembly.failure_policy") {
		cfg.Assembly.FailurePolicy = v.GetString("assembly.failure_policy")
	}
	if v.IsSet("formula.max_steps") {
		cfg.Formula.MaxSteps = v.GetUint64("formula.max_steps")
	}
	if v.IsSet("formula.timeout") {
		cfg.Formula.Timeout = v.GetDuration("formula.timeout")
	}
	if v.IsSet("log.level") {
		cfg.Log.Level = v.GetString("log.level")
	}
	if v.IsSet("log.format") {
		cfg.Log.Format = v.GetString("log.format")
	}

	return cfg, nil
}
