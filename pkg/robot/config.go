package robot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/axolotls/axobotl/pkg/drive"
	"github.com/axolotls/axobotl/pkg/mechanism"
)

const DefaultConfigFile = "axobotl.json"

// Bumper names.
const (
	BasketUpBumper   = "basket_up"
	BasketDownBumper = "basket_down"
)

// Config holds the robot configuration.
type Config struct {
	Drive     drive.Config              `json:"drive"`
	Mechanism mechanism.Config          `json:"mechanism"`
	Motors    map[MotorName]PortConfig  `json:"motors"`
	Bumpers   map[string]PortConfig     `json:"bumpers"`
	Detectors map[string]DetectorConfig `json:"detectors"`
	// PollPeriod is the detector polling tick.
	PollPeriod time.Duration `json:"poll_period"`
	Claw       ClawConfig    `json:"claw"`
	LogLevel   string        `json:"log_level,omitempty"`
}

// PortConfig maps a device to a smart port.
type PortConfig struct {
	Port     int  `json:"port"`
	Reversed bool `json:"reversed,omitempty"`
}

// DetectorConfig configures a distance-sensor detector.
type DetectorConfig struct {
	Port        int     `json:"port"`
	ThresholdMM float64 `json:"threshold_mm"`
}

// ClawConfig holds configuration for the servo claw.
type ClawConfig struct {
	Port        string            `json:"port"`
	Timeout     time.Duration     `json:"timeout,omitempty"`
	Calibration ServoCalibrations `json:"calibration,omitempty"`
}

// IsCalibrated returns true if the claw has calibration data
func (c *ClawConfig) IsCalibrated() bool {
	return len(c.Calibration) > 0
}

// DefaultConfig returns the port map and tuning of the competition robot.
func DefaultConfig() *Config {
	return &Config{
		Drive:     drive.DefaultConfig(),
		Mechanism: mechanism.DefaultConfig(),
		Motors: map[MotorName]PortConfig{
			DriveLeft:   {Port: 1, Reversed: true},
			DriveRight:  {Port: 6},
			IntakeLeft:  {Port: 3, Reversed: true},
			IntakeRight: {Port: 7},
			BasketLeft:  {Port: 8, Reversed: true},
			BasketRight: {Port: 2},
			Winder:      {Port: 10},
		},
		Bumpers: map[string]PortConfig{
			BasketDownBumper: {Port: 4},
			BasketUpBumper:   {Port: 5},
		},
		Detectors: map[string]DetectorConfig{
			mechanism.DetectorLoaded: {Port: 11, ThresholdMM: 50},
			mechanism.DetectorEntry:  {Port: 12, ThresholdMM: 80},
			mechanism.DetectorTop:    {Port: 9, ThresholdMM: 60},
		},
		PollPeriod: 10 * time.Millisecond,
		LogLevel:   "info",
	}
}

// LoadConfig loads configuration from the default config file
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(DefaultConfigFile)
}

// LoadConfigFrom loads configuration from a specific file. Fields missing
// from the file keep their DefaultConfig values.
func LoadConfigFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save saves configuration to the default config file
func (c *Config) Save() error {
	return c.SaveTo(DefaultConfigFile)
}

// SaveTo saves configuration to a specific file
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ConfigExists returns true if the default config file exists
func ConfigExists() bool {
	_, err := os.Stat(DefaultConfigFile)
	return err == nil
}

// Validate reports every problem with the configuration.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Drive.Geometry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("drive: %w", err))
	}

	ports := make(map[int]string)
	claim := func(name string, port int) {
		if port < 1 || port > 12 {
			errs = append(errs, fmt.Errorf("%s: port %d outside 1-12", name, port))
			return
		}
		if other, dup := ports[port]; dup {
			errs = append(errs, fmt.Errorf("%s: port %d already used by %s", name, port, other))
			return
		}
		ports[port] = name
	}
	for _, name := range AllMotors() {
		pc, ok := c.Motors[name]
		if !ok {
			if name == DriveLeft || name == DriveRight {
				errs = append(errs, fmt.Errorf("%s: missing", name))
			}
			continue
		}
		claim(string(name), pc.Port)
	}
	for name, pc := range c.Bumpers {
		claim(name, pc.Port)
	}
	for name, dc := range c.Detectors {
		claim(name, dc.Port)
		if dc.ThresholdMM <= 0 {
			errs = append(errs, fmt.Errorf("%s: threshold must be positive", name))
		}
	}

	if c.Claw.IsCalibrated() {
		if err := c.Claw.Calibration.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("claw: %w", err))
		}
	}
	return errors.Join(errs...)
}
