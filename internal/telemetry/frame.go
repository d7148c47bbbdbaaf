// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/relabs-tech/motion_calibration/internal/sensor"
	"github.com/relabs-tech/motion_calibration/internal/stage"
)

var errEmptyFrame = errors.New("frame carries no samples")

// Frame is one telemetry message as sent by the device: N raw samples per
// sensor taken at ODR, the first of them at T (device clock, seconds).
//
//	{"t": 12.5, "odr": 100, "n": 2, "acc": [[1,2,3],[1,2,4]], "gyr": [...], "mag": [...]}
//
// A frame may instead carry only a power mode or connection change.
type Frame struct {
	T         float64      `json:"t"`
	ODR       float64      `json:"odr"`
	N         int          `json:"n"`
	Acc       [][3]float64 `json:"acc,omitempty"`
	Gyr       [][3]float64 `json:"gyr,omitempty"`
	Mag       [][3]float64 `json:"mag,omitempty"`
	PowerMode string       `json:"power_mode,omitempty"`
	Connected *bool        `json:"connected,omitempty"`
}

// Sink receives decoded telemetry. *stage.Controller implements it.
type Sink interface {
	AddData(b sensor.Batch) int
	HandleConnectionEvent(connected bool)
	HandlePowerModeChange(mode stage.PowerMode)
}

// DecodeFrame parses a JSON frame.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("telemetry: decode frame: %w", err)
	}
	return f, nil
}

// EncodeFrame renders a batch as a JSON frame.
func EncodeFrame(b sensor.Batch) ([]byte, error) {
	f := Frame{
		T:   b.Timestamp,
		ODR: b.ODR,
		N:   b.TotalSamples,
		Acc: b.Samples[sensor.Accelerometer],
		Gyr: b.Samples[sensor.Gyroscope],
		Mag: b.Samples[sensor.Magnetometer],
	}
	return json.Marshal(f)
}

// HasSamples reports whether the frame carries sensor data.
func (f Frame) HasSamples() bool {
	return len(f.Acc) > 0 || len(f.Gyr) > 0 || len(f.Mag) > 0
}

// Batch converts the sample part of the frame. N defaults to the longest
// sample list; a positive ODR is required to time the samples.
func (f Frame) Batch() (sensor.Batch, error) {
	if !f.HasSamples() {
		return sensor.Batch{}, errEmptyFrame
	}
	if !(f.ODR > 0) {
		return sensor.Batch{}, fmt.Errorf("telemetry: invalid odr %v", f.ODR)
	}
	if f.N < 0 {
		return sensor.Batch{}, fmt.Errorf("telemetry: negative sample count %d", f.N)
	}
	b := sensor.Batch{
		Samples:      make(map[sensor.Kind][][3]float64, 3),
		ODR:          f.ODR,
		Timestamp:    f.T,
		TotalSamples: f.N,
	}
	longest := 0
	for kind, rows := range map[sensor.Kind][][3]float64{
		sensor.Accelerometer: f.Acc,
		sensor.Gyroscope:     f.Gyr,
		sensor.Magnetometer:  f.Mag,
	} {
		if len(rows) == 0 {
			continue
		}
		b.Samples[kind] = rows
		if len(rows) > longest {
			longest = len(rows)
		}
	}
	if b.TotalSamples == 0 {
		b.TotalSamples = longest
	}
	return b, nil
}

// Dispatch hands every part of a frame to sink.
func Dispatch(f Frame, sink Sink) error {
	if f.Connected != nil {
		sink.HandleConnectionEvent(*f.Connected)
	}
	if f.PowerMode != "" {
		mode, err := stage.ParsePowerMode(f.PowerMode)
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		sink.HandlePowerModeChange(mode)
	}
	if !f.HasSamples() {
		return nil
	}
	b, err := f.Batch()
	if err != nil {
		return err
	}
	sink.AddData(b)
	return nil
}
