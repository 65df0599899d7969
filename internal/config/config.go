// Package config loads the tallyman configuration from a YAML file with
// environment variable overrides. Credentials are typically supplied through
// the environment (or a .env file) rather than committed to the YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for tallyman.
type Config struct {
	Simulation bool     `yaml:"simulation"`
	Sinopac    Sinopac  `yaml:"sinopac"`
	Storage    Storage  `yaml:"storage"`
	Schedule   Schedule `yaml:"schedule"`
	Server     Server   `yaml:"server"`
	Logging    Logging  `yaml:"logging"`
}

// Sinopac holds credentials and parameters for the SinoPac brokerage API.
// The CA triple identifies the client certificate required for order
// placement: a PKCS#12 file, its password, and the certificate holder's
// national id.
type Sinopac struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`

	CAPath     string `yaml:"ca_path"`
	CAPassword string `yaml:"ca_password"`
	CAPersonID string `yaml:"ca_person_id"`

	CallTimeout     time.Duration `yaml:"call_timeout"`
	OrderRatePerMin int           `yaml:"order_rate_per_min"`
}

// Storage holds paths for data persistence.
type Storage struct {
	SQLitePath string `yaml:"sqlite_path"`
	DataDir    string `yaml:"data_dir"`
}

// Schedule configures the daily reconciliation trigger.
type Schedule struct {
	// Time is the local wall-clock fire time in HH:MM format.
	Time     string `yaml:"time"`
	Timezone string `yaml:"timezone"`
}

// Server holds network listener configuration for the HTTP front end.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Logging configures the application logger.
type Logging struct {
	Level string `yaml:"level"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Default returns a Config populated with safe defaults: simulation on, the
// standing-order reconciliation fired daily at 08:30 Taipei time.
func Default() *Config {
	return &Config{
		Simulation: true,
		Sinopac: Sinopac{
			BaseURL:         "https://openapi.sinotrade.com.tw",
			CallTimeout:     30 * time.Second,
			OrderRatePerMin: 60,
		},
		Storage: Storage{
			SQLitePath: "data/tallyman.db",
			DataDir:    "data",
		},
		Schedule: Schedule{
			Time:     "08:30",
			Timezone: "Asia/Taipei",
		},
		Server: Server{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Logging: Logging{
			Level: "info",
		},
	}
}

// Load reads the YAML configuration file at the given path (if it exists),
// merges it over the defaults, and then applies environment variable
// overrides. A .env file in the working directory is loaded into the
// environment first, so credentials can live outside the YAML file.
func Load(path string) (*Config, error) {
	// Best effort; a missing .env file is not an error.
	_ = godotenv.Load()

	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Run on defaults + environment alone.
	default:
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SIMULATION"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Simulation = b
		}
	}

	if v := os.Getenv("SINOPAC_API_KEY"); v != "" {
		cfg.Sinopac.APIKey = v
	}
	if v := os.Getenv("SINOPAC_API_SECRET"); v != "" {
		cfg.Sinopac.APISecret = v
	}
	if v := os.Getenv("SINOPAC_BASE_URL"); v != "" {
		cfg.Sinopac.BaseURL = v
	}

	if v := os.Getenv("CA_PATH"); v != "" {
		cfg.Sinopac.CAPath = v
	}
	if v := os.Getenv("CA_PASSWORD"); v != "" {
		cfg.Sinopac.CAPassword = v
	}
	if v := os.Getenv("CA_PERSON_ID"); v != "" {
		cfg.Sinopac.CAPersonID = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// validate rejects configurations that cannot possibly run.
func (c *Config) validate() error {
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("config: invalid timezone %q: %w", c.Schedule.Timezone, err)
	}
	if _, _, err := c.ScheduleTime(); err != nil {
		return err
	}
	if c.Sinopac.CallTimeout <= 0 {
		return fmt.Errorf("config: sinopac.call_timeout must be positive")
	}
	if c.Sinopac.OrderRatePerMin <= 0 {
		return fmt.Errorf("config: sinopac.order_rate_per_min must be positive")
	}
	return nil
}

// Location resolves the configured schedule timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Schedule.Timezone)
}

// ScheduleTime parses the configured HH:MM fire time.
func (c *Config) ScheduleTime() (hour, minute int, err error) {
	if _, err := time.Parse("15:04", c.Schedule.Time); err != nil {
		return 0, 0, fmt.Errorf("config: invalid schedule time %q: %w", c.Schedule.Time, err)
	}
	t, _ := time.Parse("15:04", c.Schedule.Time)
	return t.Hour(), t.Minute(), nil
}

// ListenAddr returns the host:port the HTTP front end should bind.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
