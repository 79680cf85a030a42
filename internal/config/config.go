package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Env  string `mapstructure:"ENV"`
	Port string `mapstructure:"PORT"`

	DataRoot    string `mapstructure:"DATA_ROOT"`
	MappingRoot string `mapstructure:"MAPPING_ROOT"`
	OutputPath  string `mapstructure:"OUTPUT_PATH"`
	SummaryPath string `mapstructure:"SUMMARY_PATH"`

	CacheBackend  string `mapstructure:"CACHE_BACKEND"`
	CacheDir      string `mapstructure:"CACHE_DIR"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32  `mapstructure:"DB_MIN_CONNS"`
	ReadFromCache bool   `mapstructure:"READ_FROM_CACHE"`

	MinVisit       int     `mapstructure:"MIN_VISIT"`
	LabMinCount    int     `mapstructure:"LAB_MIN_COUNT"`
	MedWindowHours float64 `mapstructure:"MED_WINDOW_HOURS"`

	ServeJWTSecret string `mapstructure:"SERVE_JWT_SECRET"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("ENV", "development")
	v.SetDefault("PORT", "8000")
	v.SetDefault("DATA_ROOT", "resource/raw_data/mimic")
	v.SetDefault("MAPPING_ROOT", "resource/mapping_file/mimic")
	v.SetDefault("OUTPUT_PATH", "resource/preprocessed_data/mimic_unpreprocessed.csv")
	v.SetDefault("SUMMARY_PATH", "resource/preprocessed_data/run_summary.json")
	v.SetDefault("CACHE_BACKEND", "csv")
	v.SetDefault("CACHE_DIR", "resource/cache/mimic")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("READ_FROM_CACHE", false)
	v.SetDefault("MIN_VISIT", 2)
	v.SetDefault("LAB_MIN_COUNT", 10000)
	v.SetDefault("MED_WINDOW_HOURS", 48)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("ENV")
	v.BindEnv("PORT")
	v.BindEnv("DATA_ROOT")
	v.BindEnv("MAPPING_ROOT")
	v.BindEnv("OUTPUT_PATH")
	v.BindEnv("SUMMARY_PATH")
	v.BindEnv("CACHE_BACKEND")
	v.BindEnv("CACHE_DIR")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("READ_FROM_CACHE")
	v.BindEnv("MIN_VISIT")
	v.BindEnv("LAB_MIN_COUNT")
	v.BindEnv("MED_WINDOW_HOURS")
	v.BindEnv("SERVE_JWT_SECRET")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks cross-field rules before a run starts. A misconfigured
// batch should refuse to start rather than abort halfway through a stage.
func (c *Config) Validate() error {
	switch strings.ToLower(c.CacheBackend) {
	case "csv":
		if c.CacheDir == "" {
			return fmt.Errorf("CACHE_DIR is required when CACHE_BACKEND is \"csv\"")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when CACHE_BACKEND is \"postgres\"")
		}
	default:
		return fmt.Errorf("CACHE_BACKEND must be \"csv\" or \"postgres\", got %q", c.CacheBackend)
	}
	if c.MinVisit < 1 {
		return fmt.Errorf("MIN_VISIT must be at least 1, got %d", c.MinVisit)
	}
	if c.LabMinCount < 1 {
		return fmt.Errorf("LAB_MIN_COUNT must be at least 1, got %d", c.LabMinCount)
	}
	if c.MedWindowHours <= 0 {
		return fmt.Errorf("MED_WINDOW_HOURS must be positive, got %v", c.MedWindowHours)
	}
	return nil
}
