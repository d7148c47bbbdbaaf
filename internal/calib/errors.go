// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calib

import "errors"

// Retryable stage failures. The operator redoes the maneuver; no value is
// ever substituted for a rejected fit.
var (
	ErrNoSamples            = errors.New("no samples recorded")
	ErrNonPositiveGain      = errors.New("gain term is non-positive or non-finite")
	ErrDegenerateRotation   = errors.New("integrated rotation is too close to zero")
	ErrInsufficientCoverage = errors.New("insufficient coverage, redo sweep")
	ErrAxisCollision        = errors.New("axis mapping is not a permutation")
	ErrAxisAmbiguous        = errors.New("no dominant axis reading")
	ErrIncompleteTumble     = errors.New("tumble positions missing")
)

// IsRetryable reports whether err is a stage failure the operator can fix by
// redoing the current stage.
func IsRetryable(err error) bool {
	for _, target := range []error{
		ErrNoSamples,
		ErrNonPositiveGain,
		ErrDegenerateRotation,
		ErrInsufficientCoverage,
		ErrAxisCollision,
		ErrAxisAmbiguous,
		ErrIncompleteTumble,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
