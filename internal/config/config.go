// Package config loads the daemon's configuration: defaults, overlaid by an
// optional JSONC config file, overlaid by command-line flags (spec AMBIENT
// STACK "Configuration"). It follows the same precedence and hujson-based
// parsing `calvinalkan-agent-task`'s top-level config.go uses for tk's
// `.tk.json`, adapted to infod3's settings.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"
)

// Config holds every setting the daemon needs.
type Config struct {
	// StorePath is the path to the memory-mapped store file (spec §4.A).
	StorePath string `json:"store_path"`

	// TCPAddr, if non-empty, is the address (host:port) the daemon listens
	// on for TCP4/TCP6 connections (spec §6 listeners).
	TCPAddr string `json:"tcp_addr,omitempty"`

	// UnixPath, if non-empty, is the path of the Unix domain socket the
	// daemon listens on (spec §6 "Unix domain listener": sequential-packet,
	// speaks Framed mode).
	UnixPath string `json:"unix_path,omitempty"`

	// MaxSockets caps the number of simultaneously registered sockets,
	// listeners and connections counted together (spec §4.C "max_sockets").
	// 0 means unlimited.
	MaxSockets int `json:"max_sockets,omitempty"`

	// Syslog switches the logger's sink to syslog-style line output.
	Syslog bool `json:"syslog,omitempty"`

	// Verbose raises the log level to Debug.
	Verbose bool `json:"verbose,omitempty"`
}

// Default returns the zero-config daemon settings.
func Default() Config {
	return Config{
		StorePath:  "infod3.db",
		UnixPath:   "/run/infod3.sock",
		MaxSockets: 0,
	}
}

// Load reads the optional JSONC config file at path (if non-empty) and
// overlays it onto Default(), then overlays the fields of cliOverrides
// that flagsSet marks as explicitly given (spec: "Flags always override
// the config file").
func Load(path string, cliOverrides Config, flagsSet map[string]bool) (Config, error) {
	cfg := Default()

	if path != "" {
		fileCfg, err := readFile(path)
		if err != nil {
			return Config{}, err
		}
		cfg = merge(cfg, fileCfg)
	}

	cfg = applyFlags(cfg, cliOverrides, flagsSet)
	return cfg, nil
}

func readFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("config: %s is not valid JSONC: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// merge overlays non-zero fields of overlay onto base.
func merge(base, overlay Config) Config {
	if overlay.StorePath != "" {
		base.StorePath = overlay.StorePath
	}
	if overlay.TCPAddr != "" {
		base.TCPAddr = overlay.TCPAddr
	}
	if overlay.UnixPath != "" {
		base.UnixPath = overlay.UnixPath
	}
	if overlay.MaxSockets != 0 {
		base.MaxSockets = overlay.MaxSockets
	}
	if overlay.Syslog {
		base.Syslog = true
	}
	if overlay.Verbose {
		base.Verbose = true
	}
	return base
}

// applyFlags overlays cliOverrides onto cfg, but only for the flags
// flagsSet reports as explicitly passed, so an unset flag at its zero value
// never clobbers a config-file setting.
func applyFlags(cfg, cliOverrides Config, flagsSet map[string]bool) Config {
	if flagsSet["store"] {
		cfg.StorePath = cliOverrides.StorePath
	}
	if flagsSet["tcp"] {
		cfg.TCPAddr = cliOverrides.TCPAddr
	}
	if flagsSet["unix"] {
		cfg.UnixPath = cliOverrides.UnixPath
	}
	if flagsSet["max-sockets"] {
		cfg.MaxSockets = cliOverrides.MaxSockets
	}
	if flagsSet["syslog"] {
		cfg.Syslog = cliOverrides.Syslog
	}
	if flagsSet["verbose"] {
		cfg.Verbose = cliOverrides.Verbose
	}
	return cfg
}
