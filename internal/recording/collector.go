// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package recording

import (
	"sync"

	"github.com/relabs-tech/motion_calibration/internal/calib"
	"github.com/relabs-tech/motion_calibration/internal/sensor"
)

// Window is the recording window of one stage. Timestamps are on the
// device clock; StartTime is the timestamp of the first recorded sample.
type Window struct {
	Kind          sensor.Kind
	StartTime     float64
	DurationLimit float64 // seconds; ignored when Unlimited
	Unlimited     bool
	ODR           float64
	Samples       []sensor.Sample

	active  bool
	started bool
	expired bool
}

// Duration is the recorded span in seconds, accumulated trapezoidally.
func (w Window) Duration() float64 {
	return calib.Duration(w.Samples)
}

// Collector buffers timestamped samples while a window is armed.
//
// Telemetry delivery (Record, AddData) may run concurrently with the stage
// tick; arming and disarming are mutually exclusive with it.
type Collector struct {
	mu     sync.Mutex
	window Window
}

// NewCollector returns a disarmed collector.
func NewCollector() *Collector {
	return &Collector{}
}

// PrepareRecording arms a fresh window for kind and drops any stale buffer.
func (c *Collector) PrepareRecording(kind sensor.Kind, durationLimit float64, unlimited bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.window = Window{
		Kind:          kind,
		DurationLimit: durationLimit,
		Unlimited:     unlimited,
		Samples:       make([]sensor.Sample, 0, 256),
		active:        true,
	}
}

// Record appends one sample when the window is active. Samples outside the
// window, out of timestamp order, or past the duration limit are dropped.
// It reports whether the sample was stored.
func (c *Collector) Record(timestamp, x, y, z float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recordLocked(timestamp, x, y, z)
}

func (c *Collector) recordLocked(timestamp, x, y, z float64) bool {
	w := &c.window
	if !w.active || w.expired {
		return false
	}
	if !w.started {
		w.StartTime = timestamp
		w.started = true
	} else if timestamp < w.Samples[len(w.Samples)-1].Timestamp {
		return false
	}
	if !w.Unlimited && timestamp-w.StartTime > w.DurationLimit {
		w.expired = true
		return false
	}
	w.Samples = append(w.Samples, sensor.Sample{Timestamp: timestamp, X: x, Y: y, Z: z})
	return true
}

// AddData forwards the samples of the armed kind from a telemetry batch.
// Sample i is stamped Timestamp + i/ODR. It returns how many were stored.
func (c *Collector) AddData(b sensor.Batch) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.window.active {
		return 0
	}
	rows := b.Samples[c.window.Kind]
	n := b.TotalSamples
	if n > len(rows) {
		n = len(rows)
	}
	if b.ODR > 0 {
		c.window.ODR = b.ODR
	}
	stored := 0
	for i := 0; i < n; i++ {
		ts := b.Timestamp
		if b.ODR > 0 {
			ts += float64(i) / b.ODR
		}
		if c.recordLocked(ts, rows[i][0], rows[i][1], rows[i][2]) {
			stored++
		}
	}
	return stored
}

// StopRecording disarms the window and hands back its samples. The buffer is
// cleared; the caller owns the returned window.
func (c *Collector) StopRecording() Window {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := c.window
	w.active = false
	c.window = Window{Kind: w.Kind}
	return w
}

// Abort disarms the window and discards its samples.
func (c *Collector) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.window = Window{}
}

// Active reports whether a window is armed.
func (c *Collector) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.window.active
}

// Expired reports whether an armed, duration-limited window has run out.
func (c *Collector) Expired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.window.active && c.window.expired
}

// Len returns the number of buffered samples.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.window.Samples)
}

// Snapshot returns a copy of the buffered series for display.
func (c *Collector) Snapshot() []sensor.Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]sensor.Sample, len(c.window.Samples))
	copy(out, c.window.Samples)
	return out
}
