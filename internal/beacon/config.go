package beacon

import (
	"fmt"
	"time"

	"github.com/banshee-data/proximity.report/internal/config"
)

// Config holds the registry's debounce, facing and distance parameters.
type Config struct {
	AdditionDwell          time.Duration // in range this long before found
	RemovalDwell           time.Duration // unknown this long before lost
	LostIterationThreshold int           // consecutive unknown cycles before forced removal

	HeadingToleranceDeg     float64 // max angular error for facing, inclusive
	CalibrationThresholdDeg float64 // heading accuracy worse than this is uncalibrated

	SmoothingWindow   int     // known readings averaged for the distance estimate
	RSSIHistoryLength int     // per-record history trail
	TxPowerDBm        float64 // expected RSSI at 1m
	PathLossExponent  float64
}

// DefaultConfig returns the built-in defaults: 2s addition dwell, 3s removal
// dwell, 5 lost iterations, 25° tolerance, 10° calibration threshold.
func DefaultConfig() Config {
	return ConfigFromTuning(config.EmptyTuningConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		AdditionDwell:           cfg.GetAdditionDwell(),
		RemovalDwell:            cfg.GetRemovalDwell(),
		LostIterationThreshold:  cfg.GetLostIterationThreshold(),
		HeadingToleranceDeg:     cfg.GetHeadingToleranceDeg(),
		CalibrationThresholdDeg: cfg.GetCalibrationThresholdDeg(),
		SmoothingWindow:         cfg.GetSmoothingWindow(),
		RSSIHistoryLength:       cfg.GetRSSIHistoryLength(),
		TxPowerDBm:              cfg.GetTxPowerDBm(),
		PathLossExponent:        cfg.GetPathLossExponent(),
	}
}

// Validate rejects configurations the lifecycle cannot honour. A zero
// addition dwell is refused: it would let found and lost for one beacon
// land in the same cycle.
func (c Config) Validate() error {
	switch {
	case c.AdditionDwell <= 0:
		return fmt.Errorf("%w: addition dwell must be positive, got %s", ErrInvalidConfig, c.AdditionDwell)
	case c.RemovalDwell <= 0:
		return fmt.Errorf("%w: removal dwell must be positive, got %s", ErrInvalidConfig, c.RemovalDwell)
	case c.LostIterationThreshold < 1:
		return fmt.Errorf("%w: lost iteration threshold must be at least 1, got %d", ErrInvalidConfig, c.LostIterationThreshold)
	case c.HeadingToleranceDeg <= 0 || c.HeadingToleranceDeg > 180:
		return fmt.Errorf("%w: heading tolerance must be in (0, 180], got %f", ErrInvalidConfig, c.HeadingToleranceDeg)
	case c.CalibrationThresholdDeg <= 0:
		return fmt.Errorf("%w: calibration threshold must be positive, got %f", ErrInvalidConfig, c.CalibrationThresholdDeg)
	case c.SmoothingWindow < 1:
		return fmt.Errorf("%w: smoothing window must be at least 1, got %d", ErrInvalidConfig, c.SmoothingWindow)
	case c.RSSIHistoryLength < 1:
		return fmt.Errorf("%w: rssi history length must be at least 1, got %d", ErrInvalidConfig, c.RSSIHistoryLength)
	case c.PathLossExponent <= 0:
		return fmt.Errorf("%w: path loss exponent must be positive, got %f", ErrInvalidConfig, c.PathLossExponent)
	}
	return nil
}
