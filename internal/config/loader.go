package config

import (
	"fmt"
	"time"

	"github.com/pharmatrace/batchcore/internal/anomaly"
	"github.com/pharmatrace/batchcore/internal/authenticity"
	"github.com/pharmatrace/batchcore/internal/db"
	"github.com/spf13/viper"
)

// Config is the full application configuration.
type Config struct {
	Database db.Config
	Server   ServerConfig
	Ledger   LedgerConfig
	Anomaly  anomaly.Config
	Audit    AuditConfig
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// LedgerConfig holds the ledger collaborator settings.
type LedgerConfig struct {
	BaseURL string
	Timeout time.Duration

	// ActionHashWindow bounds how long a regulatory action hash stays
	// verifiable after issue.
	ActionHashWindow time.Duration
}

// AuditConfig holds the audit sink settings.
type AuditConfig struct {
	Buffer int
}

// Load reads config.yaml from configPath with environment overrides mapped
// under the BATCHCORE prefix (e.g. BATCHCORE_DATABASE_HOST).
func Load(configPath string) (Config, error) {
	cfg := Config{
		Database: db.DefaultConfig(),
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Ledger: LedgerConfig{
			BaseURL:          "http://localhost:9090",
			Timeout:          5 * time.Second,
			ActionHashWindow: authenticity.DefaultActionHashWindow,
		},
		Anomaly: anomaly.DefaultConfig(),
		Audit:   AuditConfig{Buffer: 256},
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv() // allow environment overrides
	v.SetEnvPrefix("BATCHCORE")

	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.dbname")
	v.BindEnv("database.sslmode")
	v.BindEnv("server.addr")
	v.BindEnv("ledger.base_url")

	if err := v.ReadInConfig(); err != nil {
		// Config file not found? Just log it, use defaults + env
		fmt.Println("No config.yaml found, using defaults and env vars")
	} else {
		fmt.Println("Loaded config.yaml")
	}

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

	if v.IsSet("server.addr") {
		cfg.Server.Addr = v.GetString("server.addr")
	}
	if v.IsSet("server.allowed_origins") {
		cfg.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	}

	if v.IsSet("ledger.base_url") {
		cfg.Ledger.BaseURL = v.GetString("ledger.base_url")
	}
	if v.IsSet("ledger.timeout_seconds") {
		cfg.Ledger.Timeout = time.Duration(v.GetInt("ledger.timeout_seconds")) * time.Second
	}
	if v.IsSet("ledger.action_hash_window_minutes") {
		cfg.Ledger.ActionHashWindow = time.Duration(v.GetInt("ledger.action_hash_window_minutes")) * time.Minute
	}

	if v.IsSet("anomaly.pending_delay_hours") {
		cfg.Anomaly.PendingDelay = time.Duration(v.GetInt("anomaly.pending_delay_hours")) * time.Hour
	}
	if v.IsSet("anomaly.transit_stall_hours") {
		cfg.Anomaly.TransitStall = time.Duration(v.GetInt("anomaly.transit_stall_hours")) * time.Hour
	}
	if v.IsSet("anomaly.event_gap_hours") {
		cfg.Anomaly.EventGap = time.Duration(v.GetInt("anomaly.event_gap_hours")) * time.Hour
	}
	if v.IsSet("anomaly.expiry_window_days") {
		cfg.Anomaly.ExpiryWindow = time.Duration(v.GetInt("anomaly.expiry_window_days")) * 24 * time.Hour
	}
	if v.IsSet("anomaly.max_quantity") {
		cfg.Anomaly.MaxQuantity = v.GetInt64("anomaly.max_quantity")
	}
	// Location rules stay disabled unless explicitly configured; no
	// thresholds are invented on their behalf.
	if v.IsSet("anomaly.min_travel_minutes") {
		raw := v.GetStringMapString("anomaly.min_travel_minutes")
		table := make(map[string]time.Duration, len(raw))
		for route, minutes := range raw {
			d, err := time.ParseDuration(minutes + "m")
			if err != nil {
				return cfg, fmt.Errorf("invalid travel time for route %q: %w", route, err)
			}
			table[route] = d
		}
		cfg.Anomaly.MinTravelTimes = table
	}
	if v.IsSet("anomaly.expected_routes") {
		cfg.Anomaly.ExpectedRoutes = v.GetStringSlice("anomaly.expected_routes")
	}

	if v.IsSet("audit.buffer") {
		cfg.Audit.Buffer = v.GetInt("audit.buffer")
	}

	return cfg, nil
}
