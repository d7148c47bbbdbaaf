// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calib

import (
	"math"

	"github.com/relabs-tech/motion_calibration/internal/sensor"
)

// Matrix3 is an owned row-major 3x3 matrix.
type Matrix3 [3][3]float64

// Identity returns the 3x3 identity.
func Identity() Matrix3 {
	return Matrix3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// Diagonal returns a matrix with d on the diagonal.
func Diagonal(d sensor.Vec3) Matrix3 {
	return Matrix3{{d[0], 0, 0}, {0, d[1], 0}, {0, 0, d[2]}}
}

// MatrixFromFlat builds a matrix from 9 row-major values.
func MatrixFromFlat(v []float64) (Matrix3, bool) {
	if len(v) != 9 {
		return Matrix3{}, false
	}
	var m Matrix3
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			m[r][c] = v[r*3+c]
		}
	}
	return m, true
}

func (m Matrix3) At(r, c int) float64 { return m[r][c] }

func (m Matrix3) Row(r int) sensor.Vec3 { return sensor.Vec3(m[r]) }

func (m Matrix3) Col(c int) sensor.Vec3 {
	return sensor.Vec3{m[0][c], m[1][c], m[2][c]}
}

func (m Matrix3) Diag() sensor.Vec3 {
	return sensor.Vec3{m[0][0], m[1][1], m[2][2]}
}

// MulVec returns m·v.
func (m Matrix3) MulVec(v sensor.Vec3) sensor.Vec3 {
	var out sensor.Vec3
	for r := 0; r < 3; r++ {
		out[r] = m[r][0]*v[0] + m[r][1]*v[1] + m[r][2]*v[2]
	}
	return out
}

// Flat returns the 9 row-major entries.
func (m Matrix3) Flat() []float64 {
	out := make([]float64, 0, 9)
	for r := 0; r < 3; r++ {
		out = append(out, m[r][:]...)
	}
	return out
}

// IsDiagonal reports whether all off-diagonal entries are exactly zero.
func (m Matrix3) IsDiagonal() bool {
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			if r != c && m[r][c] != 0 {
				return false
			}
		}
	}
	return true
}

// Finite reports whether every entry is finite.
func (m Matrix3) Finite() bool {
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			if math.IsNaN(m[r][c]) || math.IsInf(m[r][c], 0) {
				return false
			}
		}
	}
	return true
}
