package config

import (
	"fmt"
	"time"

	"github.com/soundledger/royaltystream/internal/db"

	"github.com/spf13/viper"
)

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port           int
	AllowedOrigins []string
}

// StorageConfig holds local file storage settings for uploaded files.
type StorageConfig struct {
	Dir string
}

// PipelineConfig tunes the ingestion pipeline.
type PipelineConfig struct {
	// RunTimeout bounds one upload's processing end to end. A run that
	// exceeds it fails instead of holding its record in processing forever.
	RunTimeout time.Duration
	// CheckpointEvery is the number of successfully processed rows between
	// progress writes to the upload record.
	CheckpointEvery int
	// MaxErrorMessages caps how many row errors are kept in the error summary.
	MaxErrorMessages int
}

// SweeperConfig tunes stalled-upload detection.
type SweeperConfig struct {
	// Schedule is a cron expression for the sweep job.
	Schedule string
	// StaleAfter is how long a processing record may go without a heartbeat
	// before it is marked failed.
	StaleAfter time.Duration
}

// Config is the full service configuration.
type Config struct {
	Database db.Config
	Server   ServerConfig
	Storage  StorageConfig
	Pipeline PipelineConfig
	Sweeper  SweeperConfig
}

// DefaultConfig returns the configuration used when no overrides are present.
func DefaultConfig() Config {
	return Config{
		Database: db.DefaultConfig(),
		Server: ServerConfig{
			Port:           8080,
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Storage: StorageConfig{Dir: "./uploads"},
		Pipeline: PipelineConfig{
			RunTimeout:       10 * time.Minute,
			CheckpointEvery:  5,
			MaxErrorMessages: 10,
		},
		Sweeper: SweeperConfig{
			Schedule:   "@every 1m",
			StaleAfter: 15 * time.Minute,
		},
	}
}

// Load reads config.yaml from configPath and applies environment overrides.
func Load(configPath string) (Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()
	v.SetEnvPrefix("ROYALTYSTREAM")

	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.dbname")
	v.BindEnv("database.sslmode")
	v.BindEnv("server.port")
	v.BindEnv("storage.dir")

	if err := v.ReadInConfig(); err != nil {
		// Config file not found? Use defaults + env overrides.
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
	if v.IsSet("server.port") {
		cfg.Server.Port = v.GetInt("server.port")
	}
	if v.IsSet("server.allowed_origins") {
		cfg.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	}
	if v.IsSet("storage.dir") {
		cfg.Storage.Dir = v.GetString("storage.dir")
	}
	if v.IsSet("pipeline.run_timeout") {
		cfg.Pipeline.RunTimeout = v.GetDuration("pipeline.run_timeout")
	}
	if v.IsSet("pipeline.checkpoint_every") {
		cfg.Pipeline.CheckpointEvery = v.GetInt("pipeline.checkpoint_every")
	}
	if v.IsSet("pipeline.max_error_messages") {
		cfg.Pipeline.MaxErrorMessages = v.GetInt("pipeline.max_error_messages")
	}
	if v.IsSet("sweeper.schedule") {
		cfg.Sweeper.Schedule = v.GetString("sweeper.schedule")
	}
	if v.IsSet("sweeper.stale_after") {
		cfg.Sweeper.StaleAfter = v.GetDuration("sweeper.stale_after")
	}

	return cfg, nil
}
