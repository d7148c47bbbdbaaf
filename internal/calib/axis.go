// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calib

import (
	"fmt"
	"math"

	"github.com/relabs-tech/motion_calibration/internal/sensor"
)

// AxisMapping maps physical sensor axes onto the device's logical axes:
// logical[i] = Polarity[i] * physical[Swap[i]].
type AxisMapping struct {
	Swap     [3]int `json:"swap" yaml:"swap"`
	Polarity [3]int `json:"polarity" yaml:"polarity"`
}

// DefaultAxisMapping is the identity mapping.
func DefaultAxisMapping() AxisMapping {
	return AxisMapping{Swap: [3]int{0, 1, 2}, Polarity: [3]int{1, 1, 1}}
}

// Validate checks that Swap is a permutation of {0,1,2} and every polarity is ±1.
func (m AxisMapping) Validate() error {
	var seen [3]bool
	for logical, physical := range m.Swap {
		if physical < 0 || physical > 2 {
			return fmt.Errorf("swap[%d]=%d out of range: %w", logical, physical, ErrAxisCollision)
		}
		if seen[physical] {
			return fmt.Errorf("physical axis %d mapped twice (swap=%v): %w", physical, m.Swap, ErrAxisCollision)
		}
		seen[physical] = true
	}
	for logical, p := range m.Polarity {
		if p != 1 && p != -1 {
			return fmt.Errorf("polarity[%d]=%d not ±1: %w", logical, p, ErrAxisCollision)
		}
	}
	return nil
}

// Apply remaps a physical reading into the logical frame.
func (m AxisMapping) Apply(v sensor.Vec3) sensor.Vec3 {
	var out sensor.Vec3
	for logical := 0; logical < 3; logical++ {
		out[logical] = float64(m.Polarity[logical]) * v[m.Swap[logical]]
	}
	return out
}

// AxisMetric reduces the samples of one axis maneuver to a signed per-axis
// value. Gyroscope maneuvers are rotations, so the rate is integrated;
// accelerometer and magnetometer maneuvers are static poses, so the mean
// reading relative to offset is used.
func AxisMetric(kind sensor.Kind, samples []sensor.Sample, offset sensor.Vec3) (sensor.Vec3, error) {
	if len(samples) == 0 {
		return sensor.Vec3{}, fmt.Errorf("axis maneuver: %w", ErrNoSamples)
	}
	if kind == sensor.Gyroscope {
		return Integrate(samples, offset), nil
	}
	return ComputeStats(samples).Mean.Sub(offset), nil
}

// SolveAxisMapping picks, per logical axis, the physical axis with the largest
// magnitude during that axis' maneuver and records its sign. A collision is
// rejected rather than resolved.
func SolveAxisMapping(maneuvers [3]sensor.Vec3) (AxisMapping, error) {
	var m AxisMapping
	for logical, v := range maneuvers {
		best, bestAbs := 0, -1.0
		for physical := 0; physical < 3; physical++ {
			if a := math.Abs(v[physical]); a > bestAbs {
				best, bestAbs = physical, a
			}
		}
		if !(bestAbs > 0) {
			return AxisMapping{}, fmt.Errorf("logical axis %d: %w", logical, ErrAxisAmbiguous)
		}
		m.Swap[logical] = best
		m.Polarity[logical] = 1
		if v[best] < 0 {
			m.Polarity[logical] = -1
		}
	}
	if err := m.Validate(); err != nil {
		return AxisMapping{}, err
	}
	return m, nil
}
