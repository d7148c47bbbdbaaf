package stage

import (
	"fmt"

	"github.com/relabs-tech/motion_calibration/internal/calib"
	"github.com/relabs-tech/motion_calibration/internal/sensor"
)

// reduce turns the samples of a closed window into the candidate of the
// current stage.
func (c *Controller) reduce(samples []sensor.Sample) (*Candidate, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("%s %s: %w", c.kind, c.state, calib.ErrNoSamples)
	}
	stats := calib.ComputeStats(samples)
	cand := &Candidate{
		Stage:    c.state.String(),
		Maneuver: c.maneuver,
		Stats:    stats,
		state:    c.state,
	}

	switch {
	case c.state.isTumble():
		cand.Reading = stats.Mean
		cand.Confidence = c.confidence(stats)
		if c.state == Acc6 {
			readings := c.tumble
			readings[c.state.tumblePosition()] = stats.Mean
			coeffs, err := calib.TumbleCalibrator{Gravity: c.cfg.Gravity}.Solve(readings)
			if err != nil {
				return nil, err
			}
			cand.Coefficients = &coeffs
		}

	case c.state == GyroStatic:
		bias, err := calib.StaticBias(samples)
		if err != nil {
			return nil, err
		}
		cand.Reading = bias
		cand.Confidence = c.confidence(stats)

	case c.state.isRotate():
		axis := c.state.rotateAxis()
		gain, err := c.cfg.Rate.SolveGain(samples, c.gyroBias, axis)
		if err != nil {
			return nil, err
		}
		cand.Reading[axis] = gain
		if c.state == GyroRotateZ {
			gains := c.gyroGains
			gains[axis] = gain
			coeffs, err := c.cfg.Rate.Coefficients(c.gyroBias, gains)
			if err != nil {
				return nil, err
			}
			cand.Coefficients = &coeffs
		}

	case c.state == MagSweep:
		points := make([]sensor.Vec3, len(samples))
		for i, s := range samples {
			points[i] = s.Vec()
		}
		fit, err := c.cfg.Ellipsoid.Fit(points)
		if err != nil {
			return nil, err
		}
		cand.Coefficients = &fit.Coefficients
		cand.Reading = fit.Offset
		cand.Condition = fit.Condition
		cand.Residual = fit.Residual

	case c.state == Axis:
		offset := c.results.Coefficients(c.kind).Offset
		metric, err := calib.AxisMetric(c.kind, samples, offset)
		if err != nil {
			return nil, err
		}
		cand.Reading = metric
		if c.maneuver == len(c.maneuvers)-1 {
			maneuvers := c.maneuvers
			maneuvers[c.maneuver] = metric
			m, err := calib.SolveAxisMapping(maneuvers)
			if err != nil {
				// The whole maneuver sequence is redone.
				c.resetManeuvers()
				return nil, err
			}
			cand.Mapping = &m
		}

	default:
		return nil, fmt.Errorf("stage: nothing to reduce at %s", c.state)
	}
	return cand, nil
}

func (c *Controller) confidence(stats calib.PhaseStats) float64 {
	if c.cfg.StillBad <= c.cfg.StillGood {
		return 0
	}
	return calib.StillnessConfidence(stats.StdDev, c.cfg.StillGood, c.cfg.StillBad)
}
