// Package config provides configuration management for the solar monitor.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	// General settings
	LogLevel     string        `mapstructure:"log_level"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	KeepAlive    time.Duration `mapstructure:"keep_alive"`

	// Discovery settings
	Discovery struct {
		ListenAddr    string        `mapstructure:"listen_addr"`
		BroadcastAddr string        `mapstructure:"broadcast_addr"`
		Interval      time.Duration `mapstructure:"interval"`
	} `mapstructure:"discovery"`

	// Filter restricts which discovered inverters are monitored. Empty
	// lists accept everything.
	Filter struct {
		Serials []string `mapstructure:"serials"`
		IPs     []string `mapstructure:"ips"`
	} `mapstructure:"filter"`

	// HTTP API settings
	API struct {
		Enabled bool   `mapstructure:"enabled"`
		Host    string `mapstructure:"host"`
		Port    int    `mapstructure:"port"`
	} `mapstructure:"api"`

	// MQTT settings
	MQTT struct {
		Enabled     bool   `mapstructure:"enabled"`
		Host        string `mapstructure:"host"`
		Port        int    `mapstructure:"port"`
		Username    string `mapstructure:"username"`
		Password    string `mapstructure:"password"`
		TopicPrefix string `mapstructure:"topic_prefix"`
		Retain      bool   `mapstructure:"retain"`
	} `mapstructure:"mqtt"`

	// PVOutput settings
	PVOutput struct {
		Enabled  bool   `mapstructure:"enabled"`
		APIKey   string `mapstructure:"api_key"`
		SystemID string `mapstructure:"system_id"`
		// DCVoltage uploads PV1 voltage instead of grid voltage.
		DCVoltage          bool `mapstructure:"dc_voltage"`
		UpdateLimitMinutes int  `mapstructure:"update_limit_minutes"`
	} `mapstructure:"pvoutput"`

	// InfluxDB settings
	Influx struct {
		Enabled     bool   `mapstructure:"enabled"`
		URL         string `mapstructure:"url"`
		Token       string `mapstructure:"token"`
		Org         string `mapstructure:"org"`
		Bucket      string `mapstructure:"bucket"`
		Measurement string `mapstructure:"measurement"`
	} `mapstructure:"influx"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{
		LogLevel:     "info",
		PollInterval: 10 * time.Second,
		ReadTimeout:  30 * time.Second,
		KeepAlive:    11 * time.Second,
	}

	// Default discovery settings
	cfg.Discovery.ListenAddr = ":1200"
	cfg.Discovery.BroadcastAddr = "255.255.255.255:1300"
	cfg.Discovery.Interval = 5 * time.Second

	// Default API settings
	cfg.API.Enabled = true
	cfg.API.Host = "0.0.0.0"
	cfg.API.Port = 8080

	// Default MQTT settings
	cfg.MQTT.Enabled = false
	cfg.MQTT.Host = "localhost"
	cfg.MQTT.Port = 1883
	cfg.MQTT.TopicPrefix = "inverter"

	// Default PVOutput settings
	cfg.PVOutput.Enabled = false
	cfg.PVOutput.UpdateLimitMinutes = 5

	// Default InfluxDB settings
	cfg.Influx.Enabled = false
	cfg.Influx.URL = "http://localhost:8086"
	cfg.Influx.Bucket = "solar"
	cfg.Influx.Measurement = "status"

	return cfg
}

// Load reads the configuration from a file and environment variables.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Override with specific config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found, use defaults
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	// Bind environment variables
	v.SetEnvPrefix("SAMIL")
	v.AutomaticEnv()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.PollInterval <= 0 {
		return errors.New("poll_interval must be positive")
	}
	if c.PVOutput.Enabled && (c.PVOutput.APIKey == "" || c.PVOutput.SystemID == "") {
		return errors.New("pvoutput requires api_key and system_id")
	}
	if c.Influx.Enabled && c.Influx.URL == "" {
		return errors.New("influx requires url")
	}
	return nil
}

// Print displays the current configuration.
func (c *Config) Print() {
	logger := log.With().Str("component", "config").Logger()
	logger.Info().Msg("Solar Monitor Configuration:")
	logger.Info().Msg("-----------------------------")
	logger.Info().Str("log_level", c.LogLevel).Msg("Log Level")
	logger.Info().Dur("poll_interval", c.PollInterval).Msg("Poll Interval")

	logger.Info().
		Str("listen_addr", c.Discovery.ListenAddr).
		Str("broadcast_addr", c.Discovery.BroadcastAddr).
		Dur("interval", c.Discovery.Interval).
		Msg("Discovery")

	if len(c.Filter.Serials) > 0 || len(c.Filter.IPs) > 0 {
		logger.Info().
			Strs("serials", c.Filter.Serials).
			Strs("ips", c.Filter.IPs).
			Msg("Inverter Filter")
	}

	logger.Info().Bool("enabled", c.API.Enabled).Msg("API Enabled")
	if c.API.Enabled {
		logger.Info().
			Str("host", c.API.Host).
			Int("port", c.API.Port).
			Msg("API Server")
	}

	logger.Info().Bool("enabled", c.MQTT.Enabled).Msg("MQTT Enabled")
	if c.MQTT.Enabled {
		logger.Info().
			Str("host", c.MQTT.Host).
			Int("port", c.MQTT.Port).
			Str("topic_prefix", c.MQTT.TopicPrefix).
			Bool("retain", c.MQTT.Retain).
			Msg("MQTT Configuration")
	}

	logger.Info().Bool("enabled", c.PVOutput.Enabled).Msg("PVOutput Enabled")
	if c.PVOutput.Enabled {
		logger.Info().
			Str("system_id", c.PVOutput.SystemID).
			Bool("dc_voltage", c.PVOutput.DCVoltage).
			Int("update_limit_minutes", c.PVOutput.UpdateLimitMinutes).
			Msg("PVOutput Configuration")
	}

	logger.Info().Bool("enabled", c.Influx.Enabled).Msg("InfluxDB Enabled")
	if c.Influx.Enabled {
		logger.Info().
			Str("url", c.Influx.URL).
			Str("org", c.Influx.Org).
			Str("bucket", c.Influx.Bucket).
			Str("measurement", c.Influx.Measurement).
			Msg("InfluxDB Configuration")
	}

	logger.Info().Msg("-----------------------------")
}
