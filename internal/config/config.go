package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultConfigPath is read when RELAY_CONFIG is not set; it may be absent.
const DefaultConfigPath = "config.json"

type Config struct {
	// Listener
	Addr      string   `env:"RELAY_ADDR" default:"127.0.0.1:9000"`
	Whitelist []string `env:"RELAY_WHITELIST"`
	TTL       int      `env:"RELAY_TTL" default:"0"`

	// Connection behaviour
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" default:"5s"`
	HeartbeatTimeout  time.Duration `env:"HEARTBEAT_TIMEOUT" default:"1s"`
	MaxPacketSize     int           `env:"MAX_PACKET_SIZE" default:"65536"`
	AcceptRate        float64       `env:"ACCEPT_RATE" default:"50"`
	AcceptBurst       int           `env:"ACCEPT_BURST" default:"100"`

	// Optional surfaces, empty disables them
	StatusAddr    string `env:"STATUS_ADDR"`
	RedisURL      string `env:"REDIS_URL"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"json"`
}

// fileConfig is the JSON document on disk
type fileConfig struct {
	Addr              string   `json:"addr"`
	Whitelist         []string `json:"whitelist"`
	TTL               int      `json:"ttl"`
	HeartbeatInterval string   `json:"heartbeat_interval,omitempty"`
	HeartbeatTimeout  string   `json:"heartbeat_timeout,omitempty"`
	MaxPacketSize     int      `json:"max_packet_size,omitempty"`
	StatusAddr        string   `json:"status_addr,omitempty"`
	RedisURL          string   `json:"redis_url,omitempty"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Addr:              "127.0.0.1:9000",
		Whitelist:         []string{},
		HeartbeatInterval: 5 * time.Second,
		HeartbeatTimeout:  time.Second,
		MaxPacketSize:     65536,
		AcceptRate:        50,
		AcceptBurst:       100,
		LogLevel:          "info",
		LogFormat:         "json",
	}
}

// LoadConfig builds the configuration from defaults, the JSON file at path
// (skipped when empty) and environment variables, in that order.
// When path is empty RELAY_CONFIG is consulted, then DefaultConfigPath,
// which unlike an explicit path may be missing.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		// If .env file doesn't exist, that's OK - we can still use system env vars
		fmt.Printf("Warning: .env file not found: %v\n", err)
	}

	explicit := true
	if path == "" {
		path = os.Getenv("RELAY_CONFIG")
	}
	if path == "" {
		path = DefaultConfigPath
		explicit = false
	}

	config := Default()
	if err := config.loadFile(path); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// Listener
	if err := loadEnvString(&config.Addr, "RELAY_ADDR", config.Addr); err != nil {
		return nil, err
	}
	if err := loadEnvStringSlice(&config.Whitelist, "RELAY_WHITELIST", config.Whitelist); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.TTL, "RELAY_TTL", config.TTL); err != nil {
		return nil, err
	}

	// Connection behaviour
	if err := loadEnvDuration(&config.HeartbeatInterval, "HEARTBEAT_INTERVAL", config.HeartbeatInterval); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.HeartbeatTimeout, "HEARTBEAT_TIMEOUT", config.HeartbeatTimeout); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.MaxPacketSize, "MAX_PACKET_SIZE", config.MaxPacketSize); err != nil {
		return nil, err
	}
	if err := loadEnvFloat(&config.AcceptRate, "ACCEPT_RATE", config.AcceptRate); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.AcceptBurst, "ACCEPT_BURST", config.AcceptBurst); err != nil {
		return nil, err
	}

	// Optional surfaces
	if err := loadEnvString(&config.StatusAddr, "STATUS_ADDR", config.StatusAddr); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.RedisURL, "REDIS_URL", config.RedisURL); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.RedisPassword, "REDIS_PASSWORD", config.RedisPassword); err != nil {
		return nil, err
	}

	// Logging
	if err := loadEnvString(&config.LogLevel, "LOG_LEVEL", config.LogLevel); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.LogFormat, "LOG_FORMAT", config.LogFormat); err != nil {
		return nil, err
	}
	return config, nil
}

// loadFile overlays the JSON config file onto c
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file fileConfig
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if file.Addr != "" {
		c.Addr = file.Addr
	}
	if file.Whitelist != nil {
		c.Whitelist = file.Whitelist
	}
	c.TTL = file.TTL
	if file.HeartbeatInterval != "" {
		d, err := time.ParseDuration(file.HeartbeatInterval)
		if err != nil {
			return fmt.Errorf("invalid heartbeat_interval in %s: %v", path, err)
		}
		c.HeartbeatInterval = d
	}
	if file.HeartbeatTimeout != "" {
		d, err := time.ParseDuration(file.HeartbeatTimeout)
		if err != nil {
			return fmt.Errorf("invalid heartbeat_timeout in %s: %v", path, err)
		}
		c.HeartbeatTimeout = d
	}
	if file.MaxPacketSize != 0 {
		c.MaxPacketSize = file.MaxPacketSize
	}
	if file.StatusAddr != "" {
		c.StatusAddr = file.StatusAddr
	}
	if file.RedisURL != "" {
		c.RedisURL = file.RedisURL
	}
	return nil
}

// Helper functions for type conversion and validation
func loadEnvString(target *string, key, defaultValue string) error {
	if value := os.Getenv(key); value != "" {
		*target = value
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvInt(target *int, key string, defaultValue int) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvFloat(target *float64, key string, defaultValue float64) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid number value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvDuration(target *time.Duration, key string, defaultValue time.Duration) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvStringSlice(target *[]string, key string, defaultValue []string) error {
	if value := os.Getenv(key); value != "" {
		*target = strings.Split(value, ",")
		// Trim whitespace from each element
		for i, v := range *target {
			(*target)[i] = strings.TrimSpace(v)
		}
	} else {
		*target = defaultValue
	}
	return nil
}

// Validate performs validation on the loaded configuration
func (c *Config) Validate() error {
	var errors []string

	if strings.TrimSpace(c.Addr) == "" {
		errors = append(errors, "addr must not be empty")
	}
	if c.TTL < 0 || c.TTL > 255 {
		errors = append(errors, "ttl must be between 0 and 255")
	}
	if _, err := c.WhitelistPrefixes(); err != nil {
		errors = append(errors, err.Error())
	}

	if c.HeartbeatInterval <= 0 {
		errors = append(errors, "HEARTBEAT_INTERVAL must be positive")
	}
	if c.HeartbeatTimeout <= 0 || c.HeartbeatTimeout >= c.HeartbeatInterval {
		errors = append(errors, "HEARTBEAT_TIMEOUT must be positive and shorter than HEARTBEAT_INTERVAL")
	}
	if c.MaxPacketSize < 256 {
		errors = append(errors, "MAX_PACKET_SIZE must be at least 256 bytes")
	}
	if c.AcceptBurst < 1 {
		errors = append(errors, "ACCEPT_BURST must be at least 1")
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: %s", strings.Join(validLogLevels, ", ")))
	}
	validLogFormats := []string{"text", "json"}
	if !slices.Contains(validLogFormats, c.LogFormat) {
		errors = append(errors, fmt.Sprintf("LOG_FORMAT must be one of: %s", strings.Join(validLogFormats, ", ")))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}
	return nil
}

// WhitelistPrefixes parses the whitelist; bare addresses become single-host prefixes.
func (c *Config) WhitelistPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(c.Whitelist))
	for _, entry := range c.Whitelist {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid whitelist entry %q: %v", entry, err)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid whitelist entry %q: %v", entry, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}
