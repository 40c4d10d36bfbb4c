// Package config loads RoomBoard server settings.
//
// Values are resolved in this order, later sources winning:
//   - built-in defaults
//   - a YAML file named by --config or ROOMBOARD_CONFIG
//   - a .env file in the working directory (development convenience)
//   - environment variables (PORT, APP_ENV, ...)
//   - command-line flags
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	// Env is "dev" or "prod"; it selects the log format and level.
	Env string `yaml:"env"`

	// Host and Port form the listen address. Port is usually supplied
	// through the PORT environment variable.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// StaticDir, when set, is served at / for the browser client.
	StaticDir string `yaml:"static_dir"`

	// IdleThreshold is how long a room may go without activity before
	// the sweep removes it. SweepInterval is how often the sweep runs.
	IdleThreshold time.Duration `yaml:"idle_threshold"`
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// HistoryLimit bounds both the stroke and undo stacks of each room.
	HistoryLimit int `yaml:"history_limit"`

	// SendBuffer is the per-connection outbound queue length. Frames for
	// a connection whose queue is full are dropped.
	SendBuffer int `yaml:"send_buffer"`

	// Advertise announces the server on the local network over mDNS.
	Advertise bool `yaml:"advertise"`

	// CORSAllow lists origins allowed to call the /api endpoints.
	CORSAllow []string `yaml:"cors_allow"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Env:           "dev",
		Host:          "0.0.0.0",
		Port:          3000,
		IdleThreshold: 72 * time.Hour,
		SweepInterval: 6 * time.Hour,
		HistoryLimit:  10,
		SendBuffer:    256,
		CORSAllow:     []string{"*"},
	}
}

// Addr returns the host:port listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.IdleThreshold <= 0 {
		errs = append(errs, fmt.Errorf("idle_threshold must be positive, got %s", c.IdleThreshold))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("sweep_interval must be positive, got %s", c.SweepInterval))
	}
	if c.HistoryLimit <= 0 {
		errs = append(errs, fmt.Errorf("history_limit must be positive, got %d", c.HistoryLimit))
	}
	if c.SendBuffer <= 0 {
		errs = append(errs, fmt.Errorf("send_buffer must be positive, got %d", c.SendBuffer))
	}
	return errors.Join(errs...)
}

// Load resolves the configuration from every source. args are the
// command-line arguments without the program name.
func Load(args []string) (Config, error) {
	cfg := Default()

	flags := pflag.NewFlagSet("roomboard", pflag.ContinueOnError)
	configPath := flags.String("config", os.Getenv("ROOMBOARD_CONFIG"), "path to a YAML config file")
	env := flags.String("env", "", "environment: dev or prod")
	host := flags.String("host", "", "listen host")
	port := flags.IntP("port", "p", 0, "listen port (overrides PORT)")
	static := flags.String("static", "", "directory of client files to serve at /")
	idle := flags.Duration("idle-threshold", 0, "remove rooms idle longer than this")
	sweep := flags.Duration("sweep-interval", 0, "how often to look for idle rooms")
	history := flags.Int("history-limit", 0, "strokes kept for undo per room")
	advertise := flags.Bool("advertise", false, "announce the server over mDNS")
	if err := flags.Parse(args); err != nil {
		return Config{}, err
	}

	if *configPath != "" {
		if err := loadFile(*configPath, &cfg); err != nil {
			return Config{}, err
		}
	}

	// A missing .env is the normal case outside development.
	_ = godotenv.Load()
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if *env != "" {
		cfg.Env = *env
	}
	if *host != "" {
		cfg.Host = *host
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *static != "" {
		cfg.StaticDir = *static
	}
	if *idle != 0 {
		cfg.IdleThreshold = *idle
	}
	if *sweep != 0 {
		cfg.SweepInterval = *sweep
	}
	if *history != 0 {
		cfg.HistoryLimit = *history
	}
	if flags.Changed("advertise") {
		cfg.Advertise = *advertise
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays environment variables onto cfg.
func applyEnv(cfg *Config) error {
	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.Env = v
	}
	if v := os.Getenv("HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		cfg.Port = p
	}
	if v := os.Getenv("STATIC_DIR"); v != "" {
		cfg.StaticDir = v
	}
	if v := os.Getenv("ROOM_IDLE_THRESHOLD"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ROOM_IDLE_THRESHOLD: %w", err)
		}
		cfg.IdleThreshold = d
	}
	if v := os.Getenv("ROOM_SWEEP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ROOM_SWEEP_INTERVAL: %w", err)
		}
		cfg.SweepInterval = d
	}
	if v := os.Getenv("MDNS_ADVERTISE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("MDNS_ADVERTISE: %w", err)
		}
		cfg.Advertise = b
	}
	if v := os.Getenv("CORS_ALLOW"); v != "" {
		cfg.CORSAllow = splitCSV(v)
	}
	return nil
}

// splitCSV trims and filters a comma-separated list.
func splitCSV(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
