// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package store

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/motion_calibration/internal/calib"
	"github.com/relabs-tech/motion_calibration/internal/sensor"
)

// Store holds the accepted calibration of every sensor. It only changes
// through Seed and the Accept methods; readers get copies.
type Store struct {
	mu       sync.RWMutex
	coeffs   map[sensor.Kind]calib.Coefficients
	axes     map[sensor.Kind]calib.AxisMapping
	updated  map[sensor.Kind]time.Time
	onAccept []func(sensor.Kind)
}

// New returns a store populated with factory-neutral defaults.
func New() *Store {
	s := &Store{
		coeffs:  make(map[sensor.Kind]calib.Coefficients),
		axes:    make(map[sensor.Kind]calib.AxisMapping),
		updated: make(map[sensor.Kind]time.Time),
	}
	for _, k := range sensor.Kinds {
		s.coeffs[k] = calib.Neutral()
		s.axes[k] = calib.DefaultAxisMapping()
	}
	return s
}

// OnAccept registers a callback run after every accepted write.
func (s *Store) OnAccept(fn func(sensor.Kind)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAccept = append(s.onAccept, fn)
}

// Seed installs prior results read from a persisted file. Malformed records
// fall back to factory defaults for that sensor.
func (s *Store) Seed(f File) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range sensor.Kinds {
		rec, ok := f.Sensors[k.String()]
		if !ok {
			continue
		}
		if c, err := rec.coefficients(); err != nil {
			log.Warnf("store: %s: malformed coefficient record, using defaults: %v", k, err)
			s.coeffs[k] = calib.Neutral()
		} else {
			s.coeffs[k] = c
		}
		if m, err := rec.axisMapping(); err != nil {
			log.Warnf("store: %s: malformed axis record, using defaults: %v", k, err)
			s.axes[k] = calib.DefaultAxisMapping()
		} else {
			s.axes[k] = m
		}
		s.updated[k] = rec.CalibratedAt
	}
}

// AcceptCoefficients stores an accepted fit for kind.
func (s *Store) AcceptCoefficients(kind sensor.Kind, c calib.Coefficients) error {
	if !kind.Valid() {
		return fmt.Errorf("store: unknown sensor kind %d", kind)
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("store: %s: %w", kind, err)
	}
	s.mu.Lock()
	s.coeffs[kind] = c
	s.updated[kind] = time.Now()
	hooks := append([]func(sensor.Kind){}, s.onAccept...)
	s.mu.Unlock()

	for _, fn := range hooks {
		fn(kind)
	}
	return nil
}

// AcceptAxisMapping stores an accepted axis mapping for kind.
func (s *Store) AcceptAxisMapping(kind sensor.Kind, m calib.AxisMapping) error {
	if !kind.Valid() {
		return fmt.Errorf("store: unknown sensor kind %d", kind)
	}
	if err := m.Validate(); err != nil {
		return fmt.Errorf("store: %s: %w", kind, err)
	}
	s.mu.Lock()
	s.axes[kind] = m
	s.updated[kind] = time.Now()
	hooks := append([]func(sensor.Kind){}, s.onAccept...)
	s.mu.Unlock()

	for _, fn := range hooks {
		fn(kind)
	}
	return nil
}

// GetCalibrationResults returns the offset and gain matrix of kind.
func (s *Store) GetCalibrationResults(kind sensor.Kind) (sensor.Vec3, calib.Matrix3) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.coeffs[kind]
	if !ok {
		c = calib.Neutral()
	}
	return c.Offset, c.Gain
}

// Coefficients returns the accepted coefficients of kind.
func (s *Store) Coefficients(kind sensor.Kind) calib.Coefficients {
	offset, gain := s.GetCalibrationResults(kind)
	return calib.Coefficients{Offset: offset, Gain: gain}
}

// GetNewAxesOrientations returns the axis mappings ordered accelerometer,
// gyroscope, magnetometer.
func (s *Store) GetNewAxesOrientations() []calib.AxisMapping {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]calib.AxisMapping, 0, len(sensor.Kinds))
	for _, k := range sensor.Kinds {
		out = append(out, s.axes[k])
	}
	return out
}

// AxisMapping returns the accepted mapping of kind.
func (s *Store) AxisMapping(kind sensor.Kind) calib.AxisMapping {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.axes[kind]
	if !ok {
		return calib.DefaultAxisMapping()
	}
	return m
}

// SensorAxisCalibrationNumbers returns the stored mapping of kind; when none
// valid is stored the existing values are handed back, or the identity if
// those are not valid either.
func (s *Store) SensorAxisCalibrationNumbers(kind sensor.Kind, existingSwap, existingPolarity [3]int) ([3]int, [3]int) {
	s.mu.RLock()
	m, ok := s.axes[kind]
	s.mu.RUnlock()
	if ok && m.Validate() == nil {
		return m.Swap, m.Polarity
	}
	existing := calib.AxisMapping{Swap: existingSwap, Polarity: existingPolarity}
	if existing.Validate() == nil {
		return existingSwap, existingPolarity
	}
	d := calib.DefaultAxisMapping()
	return d.Swap, d.Polarity
}

// Convert applies the stored calibration of kind to a raw reading and then
// remaps it into the logical frame.
//
//	accelerometer: (raw - offset) / gain
//	gyroscope:     gain · (raw - offset)
//	magnetometer:  Gain · (raw - offset)
func (s *Store) Convert(kind sensor.Kind, raw sensor.Vec3) sensor.Vec3 {
	c := s.Coefficients(kind)
	d := raw.Sub(c.Offset)
	var out sensor.Vec3
	switch kind {
	case sensor.Accelerometer:
		for axis := 0; axis < 3; axis++ {
			out[axis] = d[axis] / c.Gain[axis][axis]
		}
	default:
		out = c.Gain.MulVec(d)
	}
	return s.AxisMapping(kind).Apply(out)
}

// Snapshot returns the store content as a persistable file.
func (s *Store) Snapshot() File {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f := File{Version: fileVersion, Sensors: make(map[string]Record)}
	for _, k := range sensor.Kinds {
		f.Sensors[k.String()] = encode(s.coeffs[k], s.axes[k], s.updated[k])
	}
	return f
}

// UpdatedAt returns when kind was last accepted or seeded; zero if never.
func (s *Store) UpdatedAt(kind sensor.Kind) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updated[kind]
}
