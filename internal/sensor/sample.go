// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensor

import (
	"fmt"
	"strings"
)

// Kind identifies one of the three calibrated sensors.
type Kind int

const (
	Accelerometer Kind = iota
	Gyroscope
	Magnetometer
)

// Kinds lists every sensor kind in store order.
var Kinds = []Kind{Accelerometer, Gyroscope, Magnetometer}

func (k Kind) String() string {
	switch k {
	case Accelerometer:
		return "accelerometer"
	case Gyroscope:
		return "gyroscope"
	case Magnetometer:
		return "magnetometer"
	default:
		return fmt.Sprintf("sensor(%d)", int(k))
	}
}

// Short returns the telemetry key used for this kind ("acc", "gyr", "mag").
func (k Kind) Short() string {
	switch k {
	case Accelerometer:
		return "acc"
	case Gyroscope:
		return "gyr"
	case Magnetometer:
		return "mag"
	default:
		return ""
	}
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k >= Accelerometer && k <= Magnetometer
}

// ParseKind accepts the long or short name of a kind, case-insensitive.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "accelerometer", "acc", "accel":
		return Accelerometer, nil
	case "gyroscope", "gyr", "gyro":
		return Gyroscope, nil
	case "magnetometer", "mag":
		return Magnetometer, nil
	}
	return 0, fmt.Errorf("unknown sensor kind %q", s)
}

// Vec3 is a three-axis value.
type Vec3 [3]float64

// X returns the first component.
func (v Vec3) X() float64 { return v[0] }

// Y returns the second component.
func (v Vec3) Y() float64 { return v[1] }

// Z returns the third component.
func (v Vec3) Z() float64 { return v[2] }

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{v[0] - o[0], v[1] - o[1], v[2] - o[2]}
}

// Sample is a single raw-unit reading. Timestamp is in seconds on the device clock.
type Sample struct {
	Timestamp float64 `json:"t"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Z         float64 `json:"z"`
}

// Vec returns the reading as a Vec3.
func (s Sample) Vec() Vec3 {
	return Vec3{s.X, s.Y, s.Z}
}

// Batch is one telemetry delivery: N samples per sensor kind taken at ODR,
// the first of them at Timestamp.
type Batch struct {
	Samples      map[Kind][][3]float64
	ODR          float64
	Timestamp    float64
	TotalSamples int
}
