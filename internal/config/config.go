// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// MATRIX_SERVICE_SERIAL_PORT=/dev/ttyUSB0.
const EnvPrefix = "MATRIX_SERVICE"

// Config represents the application configuration
type Config struct {
	Server   ServerConfig             `mapstructure:"server"`
	Serial   SerialConfig             `mapstructure:"serial"`
	Device   DeviceConfig             `mapstructure:"device"`
	Polling  PollingConfig            `mapstructure:"polling"`
	Logging  LoggingConfig            `mapstructure:"logging"`
	App      AppConfig                `mapstructure:"app"`
	Dialects map[string]DialectConfig `mapstructure:"dialects" validate:"dive"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host" validate:"required"`
	Port           string        `mapstructure:"port" validate:"required"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" validate:"gte=0"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" validate:"gte=0"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout" validate:"gte=0"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// SerialConfig represents the serial link to the matrix
type SerialConfig struct {
	Port             string        `mapstructure:"port" validate:"required"`
	BaudRate         int           `mapstructure:"baud_rate" validate:"oneof=9600 19200 38400 57600 115200"`
	DataBits         int           `mapstructure:"data_bits" validate:"oneof=5 6 7 8"`
	StopBits         int           `mapstructure:"stop_bits" validate:"oneof=1 2"`
	Parity           string        `mapstructure:"parity" validate:"oneof=none odd even mark space"`
	ReadPollInterval time.Duration `mapstructure:"read_poll_interval" validate:"gt=0"`
	SettleDelay      time.Duration `mapstructure:"settle_delay" validate:"gte=0"`
}

// DeviceConfig represents request handling for the command client
type DeviceConfig struct {
	Dialect        string        `mapstructure:"dialect" validate:"required"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	MaxAttempts    int           `mapstructure:"max_attempts" validate:"min=1,max=10"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff" validate:"gte=0"`
}

// PollingConfig represents the refresh schedule of the coordinator
type PollingConfig struct {
	Interval         time.Duration `mapstructure:"interval" validate:"gt=0"`
	FailureThreshold int           `mapstructure:"failure_threshold" validate:"min=1"`
	RefreshCooldown  time.Duration `mapstructure:"refresh_cooldown" validate:"gte=0"`
	ExtendedQueries  bool          `mapstructure:"extended_queries"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level" validate:"required,oneof=debug info warn error fatal"`
	Format     string `mapstructure:"format" validate:"omitempty,oneof=json console"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name" validate:"required"`
	Version     string `mapstructure:"version" validate:"required"`
	Environment string `mapstructure:"environment" validate:"required,oneof=development staging production test"`
	Debug       bool   `mapstructure:"debug"`
}

// DialectConfig declares a mnemonic table in configuration. Command keys
// use the snake_case command names (power_on, query_input, ...).
type DialectConfig struct {
	Commands        map[string]CommandConfig `mapstructure:"commands" validate:"required,dive"`
	ErrorTokens     []string                 `mapstructure:"error_tokens"`
	OnValue         string                   `mapstructure:"on_value"`
	OffValue        string                   `mapstructure:"off_value"`
	PoweredOffReply string                   `mapstructure:"powered_off_reply"`
}

// CommandConfig is one entry of a DialectConfig
type CommandConfig struct {
	Format string `mapstructure:"format" validate:"required"`
	Reply  string `mapstructure:"reply"`
	Min    int    `mapstructure:"min"`
	Max    int    `mapstructure:"max"`
}

// Load loads configuration from file and environment variables. An empty
// path searches the default locations; a missing file is not an error
// there, since every required value can come from the environment.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("./internal/config")
		v.AddConfigPath("/etc/matrix-service")
	}

	// Environment variable support
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8084")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.allowed_origins", []string{"*"})

	// Serial defaults
	v.SetDefault("serial.port", "")
	v.SetDefault("serial.baud_rate", 115200)
	v.SetDefault("serial.data_bits", 8)
	v.SetDefault("serial.stop_bits", 1)
	v.SetDefault("serial.parity", "none")
	v.SetDefault("serial.read_poll_interval", "100ms")
	v.SetDefault("serial.settle_delay", "1s")

	// Device defaults
	v.SetDefault("device.dialect", "generic")
	v.SetDefault("device.request_timeout", "1s")
	v.SetDefault("device.max_attempts", 2)
	v.SetDefault("device.retry_backoff", "200ms")

	// Polling defaults
	v.SetDefault("polling.interval", "10s")
	v.SetDefault("polling.failure_threshold", 3)
	v.SetDefault("polling.refresh_cooldown", "2s")
	v.SetDefault("polling.extended_queries", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	// App defaults
	v.SetDefault("app.name", "matrix-service")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)
}

// Validate checks struct constraints and the cross-field rules the tags
// cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if c.Device.RequestTimeout >= c.Polling.Interval {
		return fmt.Errorf("device.request_timeout (%s) must be shorter than polling.interval (%s)",
			c.Device.RequestTimeout, c.Polling.Interval)
	}

	return nil
}

// GetServerAddr returns the server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// IsProduction checks if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment checks if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

