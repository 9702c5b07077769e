package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	DefaultPort       = 12345
	DefaultMaxClients = 10
	DefaultLogPath    = "fileexchange.log"
)

// Config holds the server settings. Zero MaxClients means no connection cap.
type Config struct {
	Port                int    `json:"port"`
	Dir                 string `json:"dir"`
	MaxClients          int    `json:"max_clients"`
	WriteTimeoutSeconds int    `json:"write_timeout_seconds"`
	LogLevel            string `json:"log_level"` // debug, info, warn, error, none
	LogPath             string `json:"log_path"`
	UI                  bool   `json:"ui"`
}

func Default() Config {
	return Config{
		Port:                DefaultPort,
		Dir:                 ".",
		MaxClients:          DefaultMaxClients,
		WriteTimeoutSeconds: 10,
		LogLevel:            "info",
		LogPath:             DefaultLogPath,
	}
}

// Load reads a JSON file over the defaults. Fields absent from the file keep
// their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ParsePort validates the positional port argument.
func ParsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid port number: %s", s)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("invalid port number: %s", s)
	}
	return port, nil
}

func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port number: %d", c.Port)
	}
	if c.MaxClients < 0 {
		return fmt.Errorf("max_clients must not be negative")
	}
	if c.WriteTimeoutSeconds < 0 {
		return fmt.Errorf("write_timeout_seconds must not be negative")
	}
	info, err := os.Stat(c.Dir)
	if err != nil {
		return fmt.Errorf("shared directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("shared directory %s is not a directory", c.Dir)
	}
	return nil
}

// Addr is the listen address. Port 0 asks the kernel for a free port.
func (c Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

func (c Config) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}
