// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calib

import (
	"fmt"
	"math"

	"github.com/relabs-tech/motion_calibration/internal/sensor"
)

// RateCalibrator solves gyroscope bias and per-axis gain.
//
// KnownAngle is the rotation the operator performs during a gain stage and
// MinAngle the smallest accepted magnitude of the integrated rate, both in
// raw units times seconds.
type RateCalibrator struct {
	KnownAngle float64
	MinAngle   float64
}

// StaticBias returns the arithmetic mean of samples taken while motionless.
func StaticBias(samples []sensor.Sample) (sensor.Vec3, error) {
	if len(samples) == 0 {
		return sensor.Vec3{}, fmt.Errorf("gyro static bias: %w", ErrNoSamples)
	}
	return ComputeStats(samples).Mean, nil
}

// SolveGain integrates the bias-corrected rate on axis and returns
// KnownAngle / |∫ rate dt|.
func (rc RateCalibrator) SolveGain(samples []sensor.Sample, bias sensor.Vec3, axis int) (float64, error) {
	if len(samples) < 2 {
		return 0, fmt.Errorf("gyro gain axis %d: %w", axis, ErrNoSamples)
	}
	angle := math.Abs(Integrate(samples, bias)[axis])
	if angle <= rc.MinAngle || math.IsNaN(angle) {
		return 0, fmt.Errorf("gyro gain axis %d: integrated %.3f <= %.3f: %w", axis, angle, rc.MinAngle, ErrDegenerateRotation)
	}
	gain := rc.KnownAngle / angle
	if !(gain > 0) || math.IsInf(gain, 0) {
		return 0, fmt.Errorf("gyro gain axis %d: %v: %w", axis, gain, ErrNonPositiveGain)
	}
	return gain, nil
}

// Coefficients assembles a diagonal gyroscope calibration.
func (rc RateCalibrator) Coefficients(bias, gains sensor.Vec3) (Coefficients, error) {
	c := Coefficients{Offset: bias, Gain: Diagonal(gains)}
	if err := c.Validate(); err != nil {
		return Coefficients{}, fmt.Errorf("gyro: %w", err)
	}
	return c, nil
}
