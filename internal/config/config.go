package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ryanuber/go-glob"
	"gopkg.in/yaml.v3"
)

var (
	ErrServiceHost  = errors.New("enforcement.service_host must be set")
	ErrHostOverlap  = errors.New("service host overlaps a bridge host")
	ErrStoreBackend = errors.New("unknown store backend")
)

// Config holds all bot configuration
type Config struct {
	Nick       string   `yaml:"nick"`
	NickPass   string   `yaml:"nick_pass"`
	Alternate  string   `yaml:"alternate"`
	Server     string   `yaml:"server"`
	Port       int      `yaml:"port"`
	UseTLS     bool     `yaml:"use_tls"`
	ServerPass string   `yaml:"server_pass"`
	IRCName    string   `yaml:"irc_name"`
	Username   string   `yaml:"username"`
	OperNick   string   `yaml:"oper_nick"`
	OperPass   string   `yaml:"oper_pass"`
	Channels   []string `yaml:"channels"`
	DataDir    string   `yaml:"data_dir"`

	Log         Log         `yaml:"log"`
	Store       Store       `yaml:"store"`
	Enforcement Enforcement `yaml:"enforcement"`
}

// Log controls the slog handler set up in main.
type Log struct {
	Level string `yaml:"level"`
	// If set, logs are written to this file as well as stdout.
	File string `yaml:"file"`
}

// Store selects where the ban ledger is persisted.
type Store struct {
	// Backend is "yaml" or "sqlite".
	Backend string `yaml:"backend"`
}

// Enforcement holds the address sets used to pick a ban strategy.
type Enforcement struct {
	// ServiceHost is the vhost the network assigns to logged-in service accounts.
	ServiceHost string `yaml:"service_host"`
	// BridgeHosts are gateway addresses shared by bridged users. Entries may be globs.
	BridgeHosts []string `yaml:"bridge_hosts"`
	// ServicesCommand is the alias used to reach NickServ, e.g. "NS".
	ServicesCommand string `yaml:"services_command"`
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML configuration, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Port == 0 {
		c.Port = 6667
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "yaml"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Enforcement.ServicesCommand == "" {
		c.Enforcement.ServicesCommand = "NS"
	}
}

// Validate checks that the enforcement address sets are usable and disjoint.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "yaml", "sqlite":
	default:
		return fmt.Errorf("%w: %q", ErrStoreBackend, c.Store.Backend)
	}

	service := NormalizeHost(c.Enforcement.ServiceHost)
	if service == "" {
		return ErrServiceHost
	}

	for _, bridge := range c.Enforcement.Bridges() {
		if glob.Glob(bridge, service) {
			return fmt.Errorf("%w: %q matches %q", ErrHostOverlap, bridge, c.Enforcement.ServiceHost)
		}
	}

	return nil
}

// NormalizeHost is how hostnames and host patterns are compared everywhere.
func NormalizeHost(host string) string {
	return strings.ToLower(strings.TrimSpace(host))
}

// Bridges returns the normalized, non-empty bridge host patterns.
func (e Enforcement) Bridges() []string {
	bridges := make([]string, 0, len(e.BridgeHosts))
	for _, host := range e.BridgeHosts {
		if host = NormalizeHost(host); host != "" {
			bridges = append(bridges, host)
		}
	}

	return bridges
}
