// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calib

import (
	"math"

	"github.com/relabs-tech/motion_calibration/internal/sensor"
)

// Confidence floor (we never want hard zero unless we error out)
const confFloor = 0.05

// PhaseStats summarizes the samples of one recording window.
type PhaseStats struct {
	Samples       int         `json:"samples"`
	DurationSec   float64     `json:"duration_sec"`
	Mean          sensor.Vec3 `json:"mean"`
	MeanAbs       sensor.Vec3 `json:"mean_abs"`
	StdDev        sensor.Vec3 `json:"stddev"`
	AxisDominance sensor.Vec3 `json:"axis_dominance"`
	Integrated    sensor.Vec3 `json:"integrated"` // ∫(value) dt in counts*sec
}

// ComputeStats returns mean, mean absolute value, standard deviation,
// dominance and trapezoidal integral per axis.
func ComputeStats(samples []sensor.Sample) PhaseStats {
	n := len(samples)
	if n == 0 {
		return PhaseStats{}
	}
	var sum, sumAbs sensor.Vec3
	for _, s := range samples {
		v := s.Vec()
		for axis := 0; axis < 3; axis++ {
			sum[axis] += v[axis]
			sumAbs[axis] += math.Abs(v[axis])
		}
	}
	var mean, meanAbs sensor.Vec3
	for axis := 0; axis < 3; axis++ {
		mean[axis] = sum[axis] / float64(n)
		meanAbs[axis] = sumAbs[axis] / float64(n)
	}

	var variance sensor.Vec3
	for _, s := range samples {
		d := s.Vec().Sub(mean)
		for axis := 0; axis < 3; axis++ {
			variance[axis] += d[axis] * d[axis]
		}
	}
	var std sensor.Vec3
	for axis := 0; axis < 3; axis++ {
		std[axis] = math.Sqrt(variance[axis] / float64(n))
	}

	return PhaseStats{
		Samples:       n,
		DurationSec:   Duration(samples),
		Mean:          mean,
		MeanAbs:       meanAbs,
		StdDev:        std,
		AxisDominance: axisDominance(meanAbs),
		Integrated:    Integrate(samples, sensor.Vec3{}),
	}
}

func axisDominance(meanAbs sensor.Vec3) sensor.Vec3 {
	sum := meanAbs[0] + meanAbs[1] + meanAbs[2]
	if sum <= 0 {
		return sensor.Vec3{}
	}
	return sensor.Vec3{meanAbs[0] / sum, meanAbs[1] / sum, meanAbs[2] / sum}
}

// StillnessConfidence maps the average standard deviation to [confFloor, 1]:
// at or below good it is 1, at or above bad it is the floor, linear between.
func StillnessConfidence(std sensor.Vec3, good, bad float64) float64 {
	s := (std[0] + std[1] + std[2]) / 3
	switch {
	case s <= good:
		return 1.0
	case s >= bad:
		return confFloor
	default:
		t := (s - good) / (bad - good)
		return clamp01(1.0 - 0.95*t)
	}
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
