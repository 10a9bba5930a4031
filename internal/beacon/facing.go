package beacon

import (
	"fmt"
	"math"
)

// AngleDiff returns the minimal signed difference a-b in degrees, in the
// range (-180, 180].
func AngleDiff(a, b float64) float64 {
	d := math.Mod(a-b, 360)
	if d <= -180 {
		d += 360
	} else if d > 180 {
		d -= 360
	}
	return d
}

// FacingDetector decides whether a heading points at a beacon's target.
// It is stateless; the registry owns each record's FacingState.
type FacingDetector struct {
	ToleranceDeg            float64
	CalibrationThresholdDeg float64
}

// Calibrated reports whether the heading's accuracy can be trusted. A
// negative accuracy is an invalid reading.
func (d FacingDetector) Calibrated(h Heading) bool {
	return h.Accuracy >= 0 && h.Accuracy <= d.CalibrationThresholdDeg
}

// Facing reports whether h matches target on both magnetic and true heading
// within tolerance (inclusive) and h is calibrated. A nil target never faces.
func (d FacingDetector) Facing(h Heading, target *TargetOrientation) bool {
	if target == nil || !d.Calibrated(h) {
		return false
	}
	if h.True < 0 {
		return false // true heading undetermined
	}
	if math.Abs(AngleDiff(h.Magnetic, target.MagneticHeading)) > d.ToleranceDeg {
		return false
	}
	return math.Abs(AngleDiff(h.True, target.TrueHeading)) <= d.ToleranceDeg
}

func validHeadingDeg(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0 && v <= 360
}

// ValidateHeading rejects observations that cannot be compared at all.
// Negative true heading and negative accuracy are legal (undetermined and
// uncalibrated respectively).
func ValidateHeading(h Heading) error {
	if !validHeadingDeg(h.Magnetic) {
		return fmt.Errorf("%w: magnetic heading %v", ErrInvalidHeading, h.Magnetic)
	}
	if math.IsNaN(h.True) || math.IsInf(h.True, 0) || h.True > 360 {
		return fmt.Errorf("%w: true heading %v", ErrInvalidHeading, h.True)
	}
	if math.IsNaN(h.Accuracy) || math.IsInf(h.Accuracy, 0) {
		return fmt.Errorf("%w: accuracy %v", ErrInvalidHeading, h.Accuracy)
	}
	return nil
}

// Validate checks a target orientation before it is stored.
func (o TargetOrientation) Validate() error {
	if !validHeadingDeg(o.MagneticHeading) {
		return fmt.Errorf("%w: magnetic heading %v", ErrInvalidTarget, o.MagneticHeading)
	}
	if !validHeadingDeg(o.TrueHeading) {
		return fmt.Errorf("%w: true heading %v", ErrInvalidTarget, o.TrueHeading)
	}
	if math.IsNaN(o.HeadingAccuracy) || o.HeadingAccuracy < 0 {
		return fmt.Errorf("%w: heading accuracy %v", ErrInvalidTarget, o.HeadingAccuracy)
	}
	if math.IsNaN(o.Latitude) || o.Latitude < -90 || o.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v", ErrInvalidTarget, o.Latitude)
	}
	if math.IsNaN(o.Longitude) || o.Longitude < -180 || o.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v", ErrInvalidTarget, o.Longitude)
	}
	return nil
}
