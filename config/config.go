package config

import (
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Device     DeviceConfig     `yaml:"device"`
	Database   DatabaseConfig   `yaml:"database"`
	Inventory  InventoryConfig  `yaml:"inventory"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Controller ControllerConfig `yaml:"controller"`
}

// LogConfig controls the zerolog global logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// ServerConfig holds the kiosk server configuration.
type ServerConfig struct {
	Port               int     `yaml:"port"`
	RateLimitPerSec    float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst     int     `yaml:"rate_limit_burst"`
	StatusCacheSeconds int     `yaml:"status_cache_seconds"`
	Timezone           string  `yaml:"timezone"`
}

// DeviceConfig describes how the kiosk reaches the dispensing device.
type DeviceConfig struct {
	URL                        string        `yaml:"url"`
	HTTPProxy                  string        `yaml:"http_proxy"`
	TimeoutMillis              int           `yaml:"timeout_ms"`
	Timeout                    time.Duration `yaml:"-"`
	SimulateOnTransportFailure bool          `yaml:"simulate_on_transport_failure"`
	SimulatedDelayMillis       int           `yaml:"simulated_delay_ms"`
	SimulatedDelay             time.Duration `yaml:"-"`
	Breaker                    BreakerConfig `yaml:"breaker"`
	ProbeIntervalSeconds       int           `yaml:"probe_interval_seconds"`
	ProbeInterval              time.Duration `yaml:"-"`
}

// BreakerConfig tunes the circuit breaker in front of the device.
type BreakerConfig struct {
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
	OpenSeconds         int           `yaml:"open_seconds"`
	OpenTimeout         time.Duration `yaml:"-"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"` // sqlite or postgres
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	LogQueries             bool   `yaml:"log_queries"`
}

// InventoryConfig holds the provisioning counts and alert threshold.
type InventoryConfig struct {
	InitialStock      map[string]int `yaml:"initial_stock"`
	LowStockThreshold int            `yaml:"low_stock_threshold"`
}

// DefaultDispenseAngle is the servo angle used when dispense_angle is absent.
const DefaultDispenseAngle = 90.0

// ControllerConfig configures the device-side motor controller.
type ControllerConfig struct {
	Port           int           `yaml:"port"`
	Actuator       string        `yaml:"actuator"` // simulated or sysfs
	PWMChip        string        `yaml:"pwm_chip"`
	Channels       []int         `yaml:"channels"`
	DispenseAngle  float64       `yaml:"dispense_angle"`
	RestAngle      float64       `yaml:"rest_angle"`
	MoveMillis     int           `yaml:"move_ms"`
	SettleMillis   int           `yaml:"settle_ms"`
	MoveDuration   time.Duration `yaml:"-"`
	SettleDuration time.Duration `yaml:"-"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// Fields where zero is a valid setting get their defaults before decoding,
	// so only an absent key falls back.
	cfg := Config{Controller: ControllerConfig{DispenseAngle: DefaultDispenseAngle}}
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if url := os.Getenv("DEVICE_URL"); url != "" {
		cfg.Device.URL = url
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills zero values and derives the duration fields.
func (cfg *Config) ApplyDefaults() {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.StatusCacheSeconds <= 0 {
		cfg.Server.StatusCacheSeconds = 5
	}
	if cfg.Server.Timezone == "" {
		cfg.Server.Timezone = "Local"
	}

	if cfg.Device.URL == "" {
		log.Warn().Msg("device.url is not set; defaulting to http://127.0.0.1:5000")
		cfg.Device.URL = "http://127.0.0.1:5000"
	}
	if cfg.Device.TimeoutMillis <= 0 {
		cfg.Device.TimeoutMillis = 5000
	}
	cfg.Device.Timeout = time.Duration(cfg.Device.TimeoutMillis) * time.Millisecond
	if cfg.Device.SimulatedDelayMillis <= 0 {
		cfg.Device.SimulatedDelayMillis = 2000
	}
	cfg.Device.SimulatedDelay = time.Duration(cfg.Device.SimulatedDelayMillis) * time.Millisecond
	if cfg.Device.Breaker.ConsecutiveFailures == 0 {
		cfg.Device.Breaker.ConsecutiveFailures = 3
	}
	if cfg.Device.Breaker.OpenSeconds <= 0 {
		cfg.Device.Breaker.OpenSeconds = 30
	}
	cfg.Device.Breaker.OpenTimeout = time.Duration(cfg.Device.Breaker.OpenSeconds) * time.Second
	if cfg.Device.ProbeIntervalSeconds <= 0 {
		cfg.Device.ProbeIntervalSeconds = 30
	}
	cfg.Device.ProbeInterval = time.Duration(cfg.Device.ProbeIntervalSeconds) * time.Second

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = "medikiosk.db"
	}

	if cfg.Inventory.LowStockThreshold < 0 {
		cfg.Inventory.LowStockThreshold = 0
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Warn().Msg("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}

	if cfg.Controller.Port <= 0 {
		cfg.Controller.Port = 5000
	}
	if cfg.Controller.Actuator == "" {
		cfg.Controller.Actuator = "simulated"
	}
	if cfg.Controller.PWMChip == "" {
		cfg.Controller.PWMChip = "/sys/class/pwm/pwmchip0"
	}
	if len(cfg.Controller.Channels) == 0 {
		cfg.Controller.Channels = []int{0, 1, 2, 3}
	}
	if cfg.Controller.MoveMillis <= 0 {
		cfg.Controller.MoveMillis = 500
	}
	cfg.Controller.MoveDuration = time.Duration(cfg.Controller.MoveMillis) * time.Millisecond
	if cfg.Controller.SettleMillis <= 0 {
		cfg.Controller.SettleMillis = 1000
	}
	cfg.Controller.SettleDuration = time.Duration(cfg.Controller.SettleMillis) * time.Millisecond
}

// Location resolves the configured timezone used for calendar-day statistics.
func (c ServerConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		log.Warn().Err(err).Str("timezone", c.Timezone).Msg("invalid timezone; using local time")
		return time.Local
	}
	return loc
}
