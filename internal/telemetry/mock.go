// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/relabs-tech/motion_calibration/internal/sensor"
)

// MockConfig shapes the synthetic wearable.
type MockConfig struct {
	ODR       float64 // Hz
	BatchSize int
	Gravity   float64 // accelerometer counts per g
	GyroScale float64 // gyroscope counts per °/s
	MagField  float64 // field magnitude, magnetometer counts
	Noise     float64 // standard deviation added to every axis, counts

	// Raw sensor errors baked into the output.
	AccOffset  sensor.Vec3
	GyroOffset sensor.Vec3
	MagOffset  sensor.Vec3
}

// MockSource generates smoothly changing raw samples of a wearable being
// turned around, with fixed offsets on every sensor.
type MockSource struct {
	cfg  MockConfig
	sink Sink
	rng  *rand.Rand
}

func NewMockSource(cfg MockConfig, sink Sink) *MockSource {
	if cfg.ODR <= 0 {
		cfg.ODR = 100
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	return &MockSource{cfg: cfg, sink: sink, rng: rand.New(rand.NewSource(1))}
}

// Sample returns the raw readings at t seconds.
func (m *MockSource) Sample(t float64) (acc, gyr, mag sensor.Vec3) {
	roll := 20 * math.Sin(t) * math.Pi / 180
	pitch := 15 * math.Cos(t*0.7) * math.Pi / 180
	yaw := math.Mod(t*30, 360) * math.Pi / 180

	// Body-frame view of world vectors for a ZYX rotation.
	sr, cr := math.Sin(roll), math.Cos(roll)
	sp, cp := math.Sin(pitch), math.Cos(pitch)
	sy, cy := math.Sin(yaw), math.Cos(yaw)
	toBody := func(w sensor.Vec3) sensor.Vec3 {
		// R^T * w with R = Rz(yaw) Ry(pitch) Rx(roll)
		r := [3][3]float64{
			{cy * cp, cy*sp*sr - sy*cr, cy*sp*cr + sy*sr},
			{sy * cp, sy*sp*sr + cy*cr, sy*sp*cr - cy*sr},
			{-sp, cp * sr, cp * cr},
		}
		var b sensor.Vec3
		for i := 0; i < 3; i++ {
			b[i] = r[0][i]*w[0] + r[1][i]*w[1] + r[2][i]*w[2]
		}
		return b
	}

	g := toBody(sensor.Vec3{0, 0, m.cfg.Gravity})
	f := toBody(sensor.Vec3{m.cfg.MagField * 0.6, 0, -m.cfg.MagField * 0.8})
	rates := sensor.Vec3{
		20 * math.Cos(t),
		-15 * 0.7 * math.Sin(t*0.7),
		30,
	}
	for i := 0; i < 3; i++ {
		acc[i] = g[i] + m.cfg.AccOffset[i] + m.noise()
		gyr[i] = rates[i]*m.cfg.GyroScale + m.cfg.GyroOffset[i] + m.noise()
		mag[i] = f[i] + m.cfg.MagOffset[i] + m.noise()
	}
	return acc, gyr, mag
}

func (m *MockSource) noise() float64 {
	if m.cfg.Noise == 0 {
		return 0
	}
	return m.rng.NormFloat64() * m.cfg.Noise
}

// Batch returns n consecutive samples starting at t.
func (m *MockSource) Batch(t float64, n int) sensor.Batch {
	b := sensor.Batch{
		Samples:      make(map[sensor.Kind][][3]float64, 3),
		ODR:          m.cfg.ODR,
		Timestamp:    t,
		TotalSamples: n,
	}
	for i := 0; i < n; i++ {
		acc, gyr, mag := m.Sample(t + float64(i)/m.cfg.ODR)
		b.Samples[sensor.Accelerometer] = append(b.Samples[sensor.Accelerometer], acc)
		b.Samples[sensor.Gyroscope] = append(b.Samples[sensor.Gyroscope], gyr)
		b.Samples[sensor.Magnetometer] = append(b.Samples[sensor.Magnetometer], mag)
	}
	return b
}

// Run delivers one batch per BatchSize/ODR until ctx is done.
func (m *MockSource) Run(ctx context.Context) error {
	period := time.Duration(float64(m.cfg.BatchSize) / m.cfg.ODR * float64(time.Second))
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	m.sink.HandleConnectionEvent(true)
	start := time.Now()
	next := 0.0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.sink.AddData(m.Batch(next, m.cfg.BatchSize))
			next += float64(m.cfg.BatchSize) / m.cfg.ODR
			if lag := time.Since(start).Seconds() - next; lag > 1 {
				next += lag
			}
		}
	}
}
