package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig                `yaml:"server"`
	Database    DatabaseConfig              `yaml:"database"`
	Redis       RedisConfig                 `yaml:"redis"`
	JWT         JWTConfig                   `yaml:"jwt"`
	Oanda       OandaConfig                 `yaml:"oanda"`
	Monitor     MonitorConfig               `yaml:"monitor"`
	Instruments map[string]InstrumentConfig `yaml:"instruments"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	Mode string `yaml:"mode"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type JWTConfig struct {
	Secret      string `yaml:"secret"`
	ExpireHours int    `yaml:"expire_hours"`
}

// OandaConfig holds broker credentials and connection settings.
type OandaConfig struct {
	AccountID      string `yaml:"account_id"`
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// MonitorConfig controls the position monitor loop.
type MonitorConfig struct {
	IntervalSeconds      int     `yaml:"interval_seconds"`
	PartialCloseFraction float64 `yaml:"partial_close_fraction"`
}

// InstrumentConfig maps a dashboard instrument to its broker naming and
// its contract-size multiplier (lot size to monetary P/L).
type InstrumentConfig struct {
	OandaName  string  `yaml:"oanda_name"`
	Multiplier float64 `yaml:"multiplier"`
}

// Load loads configuration from file and environment variables
func Load(path string) (*Config, error) {
	cfg := &Config{}

	// Load from YAML file; a missing file is fine, environment
	// variables and defaults cover everything.
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	// Override with environment variables if present
	cfg.loadFromEnv()
	cfg.applyDefaults()

	return cfg, nil
}

func (c *Config) loadFromEnv() {
	// Server
	if v := os.Getenv("SERVER_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("SERVER_MODE"); v != "" {
		c.Server.Mode = v
	}

	// Database
	if v := os.Getenv("DB_HOST"); v != "" {
		c.Database.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Database.Port = port
		}
	}
	if v := os.Getenv("DB_USER"); v != "" {
		c.Database.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		c.Database.DBName = v
	}

	// Redis
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Redis.Port = port
		}
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}

	// JWT
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.JWT.Secret = v
	}
	if v := os.Getenv("JWT_EXPIRE_HOURS"); v != "" {
		if hours, err := strconv.Atoi(v); err == nil {
			c.JWT.ExpireHours = hours
		}
	}

	// OANDA
	if v := os.Getenv("OANDA_ACCOUNT_ID"); v != "" {
		c.Oanda.AccountID = v
	}
	if v := os.Getenv("OANDA_API_KEY"); v != "" {
		c.Oanda.APIKey = v
	}
	if v := os.Getenv("OANDA_BASE_URL"); v != "" {
		c.Oanda.BaseURL = v
	}
}

func (c *Config) applyDefaults() {
	if c.Oanda.BaseURL == "" {
		// Practice API endpoint
		c.Oanda.BaseURL = "https://api-fxpractice.oanda.com/v3"
	}
	if c.Oanda.TimeoutSeconds <= 0 {
		c.Oanda.TimeoutSeconds = 10
	}
	if c.Monitor.IntervalSeconds <= 0 {
		c.Monitor.IntervalSeconds = 5
	}
	if c.Monitor.PartialCloseFraction <= 0 || c.Monitor.PartialCloseFraction >= 1 {
		c.Monitor.PartialCloseFraction = 0.75
	}
	if c.JWT.ExpireHours <= 0 {
		c.JWT.ExpireHours = 24
	}
	if len(c.Instruments) == 0 {
		c.Instruments = map[string]InstrumentConfig{
			"XAUUSD": {OandaName: "XAU_USD", Multiplier: 100},
			"EURUSD": {OandaName: "EUR_USD", Multiplier: 100000},
			"GBPUSD": {OandaName: "GBP_USD", Multiplier: 100000},
			"USDJPY": {OandaName: "USD_JPY", Multiplier: 100000},
		}
	}
}

// Timeout returns the HTTP timeout for broker API calls.
func (c *OandaConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Interval returns the monitor polling interval.
func (c *MonitorConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// Multiplier returns the contract-size multiplier for an instrument,
// falling back to the standard forex lot convention for unknown names.
func (c *Config) Multiplier(instrument string) float64 {
	if ic, ok := c.Instruments[instrument]; ok && ic.Multiplier > 0 {
		return ic.Multiplier
	}
	return 100000
}

// OandaName translates a dashboard instrument name to the broker's format.
func (c *Config) OandaName(instrument string) string {
	if ic, ok := c.Instruments[instrument]; ok && ic.OandaName != "" {
		return ic.OandaName
	}
	return instrument
}

// DSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DSN() string {
	return "host=" + c.Host +
		" port=" + strconv.Itoa(c.Port) +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.DBName +
		" sslmode=" + c.SSLMode
}
