package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig holds the beacon tracker tuning parameters. Every field is
// optional; the Get* accessors supply the default for anything omitted, so
// a partial file (or an empty one) is always a complete configuration.
type TuningConfig struct {
	// Lifecycle debouncing
	AdditionDwell          *string `json:"addition_dwell,omitempty"` // duration string like "2s"
	RemovalDwell           *string `json:"removal_dwell,omitempty"`  // duration string like "3s"
	LostIterationThreshold *int    `json:"lost_iteration_threshold,omitempty"`

	// Facing
	HeadingToleranceDeg     *float64 `json:"heading_tolerance_deg,omitempty"`
	CalibrationThresholdDeg *float64 `json:"calibration_threshold_deg,omitempty"`

	// Distance estimate
	SmoothingWindow   *int     `json:"smoothing_window,omitempty"`
	RSSIHistoryLength *int     `json:"rssi_history_length,omitempty"`
	TxPowerDBm        *float64 `json:"tx_power_dbm,omitempty"`
	PathLossExponent  *float64 `json:"path_loss_exponent,omitempty"`

	// Event delivery
	AcknowledgeAllBeacons *bool `json:"acknowledge_all_beacons,omitempty"`
	EventQueueSize        *int  `json:"event_queue_size,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil, which
// resolves to the built-in defaults.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath,
// searching the current directory and its parents up to the repo root.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that every set value is usable.
func (c *TuningConfig) Validate() error {
	if err := validatePositiveDuration("addition_dwell", c.AdditionDwell); err != nil {
		return err
	}
	if err := validatePositiveDuration("removal_dwell", c.RemovalDwell); err != nil {
		return err
	}

	if c.LostIterationThreshold != nil && *c.LostIterationThreshold < 1 {
		return fmt.Errorf("lost_iteration_threshold must be at least 1, got %d", *c.LostIterationThreshold)
	}

	if c.HeadingToleranceDeg != nil {
		if v := *c.HeadingToleranceDeg; v <= 0 || v > 180 {
			return fmt.Errorf("heading_tolerance_deg must be in (0, 180], got %f", v)
		}
	}
	if c.CalibrationThresholdDeg != nil && *c.CalibrationThresholdDeg <= 0 {
		return fmt.Errorf("calibration_threshold_deg must be positive, got %f", *c.CalibrationThresholdDeg)
	}

	if c.SmoothingWindow != nil && *c.SmoothingWindow < 1 {
		return fmt.Errorf("smoothing_window must be at least 1, got %d", *c.SmoothingWindow)
	}
	if c.RSSIHistoryLength != nil && *c.RSSIHistoryLength < 1 {
		return fmt.Errorf("rssi_history_length must be at least 1, got %d", *c.RSSIHistoryLength)
	}
	if c.TxPowerDBm != nil && *c.TxPowerDBm >= 0 {
		return fmt.Errorf("tx_power_dbm must be negative, got %f", *c.TxPowerDBm)
	}
	if c.PathLossExponent != nil && *c.PathLossExponent <= 0 {
		return fmt.Errorf("path_loss_exponent must be positive, got %f", *c.PathLossExponent)
	}
	if c.EventQueueSize != nil && *c.EventQueueSize < 1 {
		return fmt.Errorf("event_queue_size must be at least 1, got %d", *c.EventQueueSize)
	}

	return nil
}

func validatePositiveDuration(name string, v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", name, d)
	}
	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil || d <= 0 {
		return def // default on parse error
	}
	return d
}

// GetAdditionDwell returns how long a new beacon must stay in range before it is found.
func (c *TuningConfig) GetAdditionDwell() time.Duration {
	return durationOr(c.AdditionDwell, 2*time.Second)
}

// GetRemovalDwell returns how long a found beacon may stay unknown before it is lost.
func (c *TuningConfig) GetRemovalDwell() time.Duration {
	return durationOr(c.RemovalDwell, 3*time.Second)
}

// GetLostIterationThreshold returns the lost_iteration_threshold value or the default.
func (c *TuningConfig) GetLostIterationThreshold() int {
	if c.LostIterationThreshold == nil {
		return 5
	}
	return *c.LostIterationThreshold
}

// GetHeadingToleranceDeg returns the heading_tolerance_deg value or the default.
func (c *TuningConfig) GetHeadingToleranceDeg() float64 {
	if c.HeadingToleranceDeg == nil {
		return 25.0
	}
	return *c.HeadingToleranceDeg
}

// GetCalibrationThresholdDeg returns the calibration_threshold_deg value or the default.
func (c *TuningConfig) GetCalibrationThresholdDeg() float64 {
	if c.CalibrationThresholdDeg == nil {
		return 10.0
	}
	return *c.CalibrationThresholdDeg
}

// GetSmoothingWindow returns the smoothing_window value or the default.
func (c *TuningConfig) GetSmoothingWindow() int {
	if c.SmoothingWindow == nil {
		return 5
	}
	return *c.SmoothingWindow
}

// GetRSSIHistoryLength returns the rssi_history_length value or the default.
func (c *TuningConfig) GetRSSIHistoryLength() int {
	if c.RSSIHistoryLength == nil {
		return 120
	}
	return *c.RSSIHistoryLength
}

// GetTxPowerDBm returns the calibrated RSSI at one metre, or the default.
func (c *TuningConfig) GetTxPowerDBm() float64 {
	if c.TxPowerDBm == nil {
		return -59.0
	}
	return *c.TxPowerDBm
}

// GetPathLossExponent returns the path_loss_exponent value or the default (free space).
func (c *TuningConfig) GetPathLossExponent() float64 {
	if c.PathLossExponent == nil {
		return 2.0
	}
	return *c.PathLossExponent
}

// GetAcknowledgeAllBeacons returns the acknowledge_all_beacons value or the default.
func (c *TuningConfig) GetAcknowledgeAllBeacons() bool {
	if c.AcknowledgeAllBeacons == nil {
		return false // default: only catalogued beacons surface
	}
	return *c.AcknowledgeAllBeacons
}

// GetEventQueueSize returns the event_queue_size value or the default.
func (c *TuningConfig) GetEventQueueSize() int {
	if c.EventQueueSize == nil {
		return 256
	}
	return *c.EventQueueSize
}
