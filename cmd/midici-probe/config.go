package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// version is injected at build time with -ldflags "-X main.version=...". Defaults to dev.
var version = "dev"

// fileConfig is the optional YAML configuration file shape. Fields left unset fall back
// to the flag defaults below, matching the teacher's flag-overrides-config precedence.
type fileConfig struct {
	HTTPAddr             string `yaml:"httpAddr"`
	DiscoveryInterval    string `yaml:"discoveryInterval"`
	DeviceTimeout        string `yaml:"deviceTimeout"`
	MaxInflightPerDevice int    `yaml:"maxInflightPerDevice"`
	RequestIDCooldown    string `yaml:"requestIdCooldown"`
	ChunkTimeout         string `yaml:"chunkTimeout"`
	LogLevel             string `yaml:"logLevel"`
	ManufacturerID       string `yaml:"manufacturerId"`
	FamilyID             uint16 `yaml:"familyId"`
	ModelID              uint16 `yaml:"modelId"`
	VersionID            uint32 `yaml:"versionId"`
}

// probeConfig is the fully resolved configuration used to build the probe's runtime.
type probeConfig struct {
	httpAddr             string
	discoveryInterval    time.Duration
	deviceTimeout        time.Duration
	maxInflightPerDevice int
	requestIDCooldown    time.Duration
	chunkTimeout         time.Duration
	logLevel             string
	showVersion          bool
	configPath           string

	manufacturerID [3]byte
	familyID       uint16
	modelID        uint16
	versionID      uint32
}

func parseFlags(args []string) (*probeConfig, error) {
	fs := pflag.NewFlagSet("midici-probe", pflag.ContinueOnError)

	cfg := &probeConfig{}
	fs.StringVar(&cfg.configPath, "config", "", "path to an optional YAML configuration file")
	fs.StringVar(&cfg.httpAddr, "http-addr", ":8420", "introspection HTTP API listen address")
	fs.DurationVar(&cfg.discoveryInterval, "discovery-interval", 5*time.Second, "interval between Discovery Inquiry broadcasts")
	fs.DurationVar(&cfg.deviceTimeout, "device-timeout", 15*time.Second, "device freshness window before eviction")
	fs.IntVar(&cfg.maxInflightPerDevice, "max-inflight-per-device", 2, "maximum concurrent PE transactions per device")
	fs.DurationVar(&cfg.requestIDCooldown, "requestid-cooldown", 2*time.Second, "request ID reuse cooldown")
	fs.DurationVar(&cfg.chunkTimeout, "chunk-timeout", 5*time.Second, "multi-chunk reassembly timeout")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "log level: debug|info|warn|error")
	fs.BoolVar(&cfg.showVersion, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.configPath != "" {
		if err := applyFileConfig(cfg, cfg.configPath, fs); err != nil {
			return nil, err
		}
	}

	switch cfg.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log-level %q", cfg.logLevel)
	}
	if cfg.maxInflightPerDevice < 1 {
		return nil, fmt.Errorf("max-inflight-per-device must be at least 1")
	}

	return cfg, nil
}

// applyFileConfig loads path and applies its values to cfg, but only for fields the user
// did not already set explicitly on the command line (fs.Changed), so flags always win.
func applyFileConfig(cfg *probeConfig, path string, fs *pflag.FlagSet) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	if fc.HTTPAddr != "" && !fs.Changed("http-addr") {
		cfg.httpAddr = fc.HTTPAddr
	}
	if fc.DiscoveryInterval != "" && !fs.Changed("discovery-interval") {
		d, err := time.ParseDuration(fc.DiscoveryInterval)
		if err != nil {
			return fmt.Errorf("config discoveryInterval: %w", err)
		}
		cfg.discoveryInterval = d
	}
	if fc.DeviceTimeout != "" && !fs.Changed("device-timeout") {
		d, err := time.ParseDuration(fc.DeviceTimeout)
		if err != nil {
			return fmt.Errorf("config deviceTimeout: %w", err)
		}
		cfg.deviceTimeout = d
	}
	if fc.MaxInflightPerDevice != 0 && !fs.Changed("max-inflight-per-device") {
		cfg.maxInflightPerDevice = fc.MaxInflightPerDevice
	}
	if fc.RequestIDCooldown != "" && !fs.Changed("requestid-cooldown") {
		d, err := time.ParseDuration(fc.RequestIDCooldown)
		if err != nil {
			return fmt.Errorf("config requestIdCooldown: %w", err)
		}
		cfg.requestIDCooldown = d
	}
	if fc.ChunkTimeout != "" && !fs.Changed("chunk-timeout") {
		d, err := time.ParseDuration(fc.ChunkTimeout)
		if err != nil {
			return fmt.Errorf("config chunkTimeout: %w", err)
		}
		cfg.chunkTimeout = d
	}
	if fc.LogLevel != "" && !fs.Changed("log-level") {
		cfg.logLevel = fc.LogLevel
	}
	if fc.ManufacturerID != "" {
		var b [3]byte
		n, err := fmt.Sscanf(fc.ManufacturerID, "%02x%02x%02x", &b[0], &b[1], &b[2])
		if err != nil || n != 3 {
			return fmt.Errorf("config manufacturerId: expected 6 hex digits, got %q", fc.ManufacturerID)
		}
		cfg.manufacturerID = b
	}
	cfg.familyID = fc.FamilyID
	cfg.modelID = fc.ModelID
	cfg.versionID = fc.VersionID
	return nil
}
