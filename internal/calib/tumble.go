package calib

import (
	"fmt"
	"math"

	"github.com/relabs-tech/motion_calibration/internal/sensor"
)

// TumblePosition is one of the six static poses of the tumble test. Each
// aligns one sensor axis with gravity, pointing up or down.
type TumblePosition int

const (
	XUp TumblePosition = iota
	XDown
	YUp
	YDown
	ZUp
	ZDown
)

// TumblePositions is the order in which the accelerometer stages run.
var TumblePositions = [6]TumblePosition{XUp, XDown, YUp, YDown, ZUp, ZDown}

func (p TumblePosition) String() string {
	return [...]string{"+X", "-X", "+Y", "-Y", "+Z", "-Z"}[p]
}

// Axis is the sensor axis aligned with gravity in this position.
func (p TumblePosition) Axis() int { return int(p) / 2 }

// TumbleReadings holds one averaged reading per position, indexed by TumblePosition.
type TumbleReadings [6]sensor.Vec3

// TumbleCalibrator solves per-axis offset and gain from the six tumble readings.
// Gravity is the nominal gravity magnitude in raw units (e.g. counts per g).
type TumbleCalibrator struct {
	Gravity float64
}

// Solve applies the two-point extremal solve per axis. Only the two positions
// belonging to an axis are used for that axis.
func (tc TumbleCalibrator) Solve(r TumbleReadings) (Coefficients, error) {
	if !(tc.Gravity > 0) {
		return Coefficients{}, fmt.Errorf("tumble: gravity reference %v: %w", tc.Gravity, ErrNonPositiveGain)
	}
	var offset, gain sensor.Vec3
	for axis := 0; axis < 3; axis++ {
		up := r[2*axis][axis]
		down := r[2*axis+1][axis]
		hi := math.Max(up, down)
		lo := math.Min(up, down)
		offset[axis] = (hi + lo) / 2
		gain[axis] = (hi - lo) / (2 * tc.Gravity)
	}
	c := Coefficients{Offset: offset, Gain: Diagonal(gain)}
	if err := c.Validate(); err != nil {
		return Coefficients{}, fmt.Errorf("tumble: %w", err)
	}
	return c, nil
}
