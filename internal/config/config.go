// Package config parses the balancer's command-line and file-based
// configuration, grounded on net2share-dnstc's and jhkimqd-chaos-utils's
// cobra-command cmd/ packages for the flag/subcommand shape, and on the
// teacher's own use of gopkg.in/yaml.v3 for the optional settings file
// (Srskip-shadowgate go.mod). Backend address syntax (`addr=Name`)
// follows original_source/src/config.rs's ServerConfig::from_str.
package config

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend is one configured upstream, parsed from "addr=Name".
type Backend struct {
	Addr string
	Name string
}

// Config holds everything needed to start the balancer.
type Config struct {
	Listen      string
	AdminListen string
	Backends    []Backend
	Timeout     time.Duration
	TimeoutFT   time.Duration
	TimeMeasure time.Duration
	LogLevel    string
	LogOutput   string
}

// fileSettings is the shape of the optional --config YAML file.
type fileSettings struct {
	Listen      string `yaml:"listen"`
	AdminListen string `yaml:"admin_listen"`
	Timeout     int    `yaml:"timeout"`
	TimeoutFT   int    `yaml:"timeout_ft"`
	TimeMeasure int    `yaml:"time_measure"`
	LogLevel    string `yaml:"log_level"`
	LogOutput   string `yaml:"log_output"`
}

// ParseBackendSpec parses a single "ip:port=Name" entry, matching the
// original's ServerConfig::from_str.
func ParseBackendSpec(spec string) (Backend, error) {
	parts := strings.SplitN(spec, "=", 2)
	if len(parts) != 2 {
		return Backend{}, fmt.Errorf("config: invalid backend spec %q, want addr=Name", spec)
	}
	addr := strings.TrimSpace(parts[0])
	name := strings.TrimSpace(parts[1])
	if addr == "" || name == "" {
		return Backend{}, fmt.Errorf("config: invalid backend spec %q, want addr=Name", spec)
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return Backend{}, fmt.Errorf("config: invalid backend address %q: %w", addr, err)
	}
	return Backend{Addr: addr, Name: name}, nil
}

// parseBackendFile reads newline-delimited "addr=Name" entries, skipping
// blank lines and lines starting with '#'.
func parseBackendFile(path string) ([]Backend, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: opening backend file: %w", err)
	}
	defer f.Close()

	var backends []Backend
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		b, err := ParseBackendSpec(line)
		if err != nil {
			return nil, err
		}
		backends = append(backends, b)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: reading backend file: %w", err)
	}
	return backends, nil
}

func loadFileSettings(path string) (fileSettings, error) {
	var fs fileSettings
	data, err := os.ReadFile(path)
	if err != nil {
		return fs, fmt.Errorf("config: reading settings file: %w", err)
	}
	if err := yaml.Unmarshal(data, &fs); err != nil {
		return fs, fmt.Errorf("config: parsing settings file: %w", err)
	}
	return fs, nil
}

// Options carries the raw flag values collected by the cobra command,
// before validation and defaulting.
type Options struct {
	Listen         string
	AdminListen    string
	BackendSpecs   []string
	BackendFile    string
	SettingsFile   string
	TimeoutSec     int
	TimeoutFTSec   int
	TimeMeasureS   int
	LogLevel       string
	LogOutput      string
	TimeoutSet     bool
	TimeoutFTSet   bool
	TimeMeasureSet bool
}

// Build validates opts and produces a Config, applying the original's
// defaults (timeout=30s, timeout_ft=5s, time_measure=10s,
// listen=0.0.0.0:11434) and layering --config file values under
// explicit flags.
func Build(opts Options) (Config, error) {
	cfg := Config{
		Listen:      "0.0.0.0:11434",
		AdminListen: ":9434",
		Timeout:     30 * time.Second,
		TimeoutFT:   5 * time.Second,
		TimeMeasure: 10 * time.Second,
		LogLevel:    "info",
		LogOutput:   "stdout",
	}

	if opts.SettingsFile != "" {
		fs, err := loadFileSettings(opts.SettingsFile)
		if err != nil {
			return Config{}, err
		}
		if fs.Listen != "" {
			cfg.Listen = fs.Listen
		}
		if fs.AdminListen != "" {
			cfg.AdminListen = fs.AdminListen
		}
		if fs.Timeout > 0 {
			cfg.Timeout = time.Duration(fs.Timeout) * time.Second
		}
		if fs.TimeoutFT > 0 {
			cfg.TimeoutFT = time.Duration(fs.TimeoutFT) * time.Second
		}
		if fs.TimeMeasure > 0 {
			cfg.TimeMeasure = time.Duration(fs.TimeMeasure) * time.Second
		}
		if fs.LogLevel != "" {
			cfg.LogLevel = fs.LogLevel
		}
		if fs.LogOutput != "" {
			cfg.LogOutput = fs.LogOutput
		}
	}

	if opts.Listen != "" {
		cfg.Listen = opts.Listen
	}
	if opts.AdminListen != "" {
		cfg.AdminListen = opts.AdminListen
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	if opts.LogOutput != "" {
		cfg.LogOutput = opts.LogOutput
	}
	if opts.TimeoutSet {
		cfg.Timeout = time.Duration(opts.TimeoutSec) * time.Second
	}
	if opts.TimeoutFTSet {
		cfg.TimeoutFT = time.Duration(opts.TimeoutFTSec) * time.Second
	}
	if opts.TimeMeasureSet {
		cfg.TimeMeasure = time.Duration(opts.TimeMeasureS) * time.Second
	}

	if _, _, err := net.SplitHostPort(cfg.Listen); err != nil {
		return Config{}, fmt.Errorf("config: invalid --listen address %q: %w", cfg.Listen, err)
	}

	var backends []Backend
	for _, spec := range opts.BackendSpecs {
		b, err := ParseBackendSpec(spec)
		if err != nil {
			return Config{}, err
		}
		backends = append(backends, b)
	}
	if opts.BackendFile != "" {
		fromFile, err := parseBackendFile(opts.BackendFile)
		if err != nil {
			return Config{}, err
		}
		backends = append(backends, fromFile...)
	}
	if len(backends) == 0 {
		return Config{}, fmt.Errorf("config: at least one backend is required (--backend or --file)")
	}

	seen := make(map[string]bool, len(backends))
	for _, b := range backends {
		if seen[b.Addr] {
			return Config{}, fmt.Errorf("config: duplicate backend address %q", b.Addr)
		}
		seen[b.Addr] = true
	}
	cfg.Backends = backends

	return cfg, nil
}
