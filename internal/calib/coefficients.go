package calib

import (
	"fmt"
	"math"

	"github.com/relabs-tech/motion_calibration/internal/sensor"
)

// Coefficients converts raw counts of one sensor into physical units.
// Gain is diagonal for the accelerometer and gyroscope and a full symmetric
// soft-iron matrix for the magnetometer.
type Coefficients struct {
	Offset sensor.Vec3 `json:"offset"`
	Gain   Matrix3     `json:"gain"`
}

// Neutral returns the factory-neutral coefficients: zero offset, identity gain.
func Neutral() Coefficients {
	return Coefficients{Gain: Identity()}
}

// Validate rejects non-finite values and non-positive diagonal gain terms.
func (c Coefficients) Validate() error {
	for axis, v := range c.Offset {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("offset[%d]=%v: %w", axis, v, ErrNonPositiveGain)
		}
	}
	if !c.Gain.Finite() {
		return fmt.Errorf("gain matrix: %w", ErrNonPositiveGain)
	}
	for axis, g := range c.Gain.Diag() {
		if !(g > 0) {
			return fmt.Errorf("gain[%d][%d]=%v: %w", axis, axis, g, ErrNonPositiveGain)
		}
	}
	return nil
}
