package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/opencivic/srhistory/internal/db"
)

// Tracker holds reconciliation tuning knobs.
type Tracker struct {
	StrictOutOfOrder bool
	MaxRetries       int
	Workers          int
}

// Ingestion maps extract columns onto snapshot fields and declares which
// attributes open new versions when they change.
type Ingestion struct {
	EntityType        string
	KeyColumn         string
	TimestampColumn   string
	RetiredColumn     string
	TrackedAttributes []string
}

// Server holds the HTTP listener settings.
type Server struct {
	Addr           string
	AllowedOrigins []string
}

// Config is the full application configuration.
type Config struct {
	Database  db.Config
	Server    Server
	Tracker   Tracker
	Ingestion Ingestion
}

// Default returns the configuration used when nothing is provided. The
// ingestion mapping defaults follow the NYC 311 extract layout.
func Default() Config {
	return Config{
		Database: db.DefaultConfig(),
		Server: Server{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Tracker: Tracker{
			StrictOutOfOrder: false,
			MaxRetries:       3,
			Workers:          8,
		},
		Ingestion: Ingestion{
			EntityType:      "service_request",
			KeyColumn:       "unique_key",
			TimestampColumn: "created_date",
			TrackedAttributes: []string{
				"status", "resolution_description", "closed_date", "agency",
			},
		},
	}
}

// Load reads config.yaml from the given path, with env overrides prefixed
// SRH (e.g. SRH_DATABASE_HOST).
func Load(configPath string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()
	v.SetEnvPrefix("SRH")

	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.dbname")
	v.BindEnv("database.sslmode")
	v.BindEnv("server.addr")

	if err := v.ReadInConfig(); err != nil {
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
	if v.IsSet("tracker.strict_out_of_order") {
		cfg.Tracker.StrictOutOfOrder = v.GetBool("tracker.strict_out_of_order")
	}
	if v.IsSet("tracker.max_retries") {
		cfg.Tracker.MaxRetries = v.GetInt("tracker.max_retries")
	}
	if v.IsSet("tracker.workers") {
		cfg.Tracker.Workers = v.GetInt("tracker.workers")
	}
	if v.IsSet("ingestion.entity_type") {
		cfg.Ingestion.EntityType = v.GetString("ingestion.entity_type")
	}
	if v.IsSet("ingestion.key_column") {
		cfg.Ingestion.KeyColumn = v.GetString("ingestion.key_column")
	}
	if v.IsSet("ingestion.timestamp_column") {
		cfg.Ingestion.TimestampColumn = v.GetString("ingestion.timestamp_column")
	}
	if v.IsSet("ingestion.retired_column") {
		cfg.Ingestion.RetiredColumn = v.GetString("ingestion.retired_column")
	}
	if v.IsSet("ingestion.tracked_attributes") {
		cfg.Ingestion.TrackedAttributes = v.GetStringSlice("ingestion.tracked_attributes")
	}

	return cfg, nil
}
