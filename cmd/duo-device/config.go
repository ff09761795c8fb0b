package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/duosync/duosync-go/pkg/discovery"
	"github.com/duosync/duosync-go/pkg/zone"
)

// Config holds the device configuration. Values come from the YAML file
// given with -config; flags set on the command line override them.
type Config struct {
	DeviceID    string `yaml:"device_id"`
	Name        string `yaml:"name"`
	PowerBudget uint16 `yaml:"power_budget"`

	// Zone is "auto", "left" or "right".
	Zone string `yaml:"zone"`

	Listen   string `yaml:"listen"`
	Peer     string `yaml:"peer"`
	Discover bool   `yaml:"discover"`
	PairID   string `yaml:"pair_id"`

	// Secret enables payload sealing. Both devices need the same value.
	Secret string `yaml:"secret"`

	StateFile   string `yaml:"state_file"`
	ProtocolLog string `yaml:"protocol_log"`
	LogLevel    string `yaml:"log_level"`

	Pattern   string `yaml:"pattern"`
	SheetFile string `yaml:"sheet_file"`

	SurvivorTimeout time.Duration `yaml:"survivor_timeout"`
	Failover        bool          `yaml:"failover"`

	// StrictVersioning lets the later sheet win even when both were born
	// within the uncertainty window.
	StrictVersioning bool `yaml:"strict_versioning"`

	Simulation SimulationConfig `yaml:"simulation"`
}

// SimulationConfig configures the in-process two-device mode.
type SimulationConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Latency  time.Duration `yaml:"latency"`
	Jitter   time.Duration `yaml:"jitter"`
	Loss     float64       `yaml:"loss"`
	DriftPPM float64       `yaml:"drift_ppm"`

	// Offset is the initial clock offset of the second device.
	Offset time.Duration `yaml:"offset"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		PowerBudget:     50,
		Zone:            "auto",
		Listen:          fmt.Sprintf(":%d", discovery.DefaultPort),
		LogLevel:        "info",
		SurvivorTimeout: 30 * time.Second,
		Failover:        true,
		Simulation: SimulationConfig{
			Latency:  3 * time.Millisecond,
			Jitter:   2 * time.Millisecond,
			DriftPPM: 20,
			Offset:   150 * time.Millisecond,
		},
	}
}

// LoadConfigFile reads path over cfg. Fields absent from the file keep
// their current values.
func LoadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ZoneSetting parses the Zone field.
func (c *Config) ZoneSetting() (zone.Mode, zone.Zone, error) {
	if c.Zone == "" || c.Zone == "auto" {
		return zone.ModeAuto, 0, nil
	}
	z, err := zone.Parse(c.Zone)
	if err != nil {
		return 0, 0, err
	}
	return zone.ModeManual, z, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if _, _, err := c.ZoneSetting(); err != nil {
		return err
	}
	if c.Pattern != "" && c.SheetFile != "" {
		return errors.New("pattern and sheet_file are mutually exclusive")
	}
	if c.Simulation.Loss < 0 || c.Simulation.Loss >= 1 {
		return fmt.Errorf("simulation loss must be in [0, 1), got %v", c.Simulation.Loss)
	}
	if !c.Simulation.Enabled && c.Listen == "" && c.Peer == "" && !c.Discover {
		return errors.New("nothing to connect: set listen, peer or discover")
	}
	return nil
}
