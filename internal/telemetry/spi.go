// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/motion_calibration/internal/sensor"
)

// SPIConfig describes a locally attached MPU9250.
type SPIConfig struct {
	Device     string
	CSPin      string
	AccelRange byte
	GyroRange  byte
	Interval   time.Duration // polling period
	BatchSize  int           // samples per delivered batch
}

// SPISource polls accelerometer and gyroscope of a local MPU9250 and
// delivers the raw counts in batches.
type SPISource struct {
	cfg  SPIConfig
	imu  *mpu9250.MPU9250
	sink Sink
}

// NewSPISource initializes the IMU over SPI. The on-chip bias calibration
// is left off so the raw offsets stay visible to the calibration stages.
func NewSPISource(cfg SPIConfig, sink Sink) (*SPISource, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("IMU: periph host init: %w", err)
	}

	cs := gpioreg.ByName(cfg.CSPin)
	if cs == nil {
		return nil, fmt.Errorf("IMU: CS pin %q not found", cfg.CSPin)
	}

	tr, err := mpu9250.NewSpiTransport(cfg.Device, cs)
	if err != nil {
		return nil, fmt.Errorf("IMU: SPI transport (%s): %w", cfg.Device, err)
	}

	imu, err := mpu9250.New(tr)
	if err != nil {
		return nil, fmt.Errorf("IMU: device creation: %w", err)
	}
	if err := imu.Init(); err != nil {
		return nil, fmt.Errorf("IMU: initialization: %w", err)
	}

	if err := imu.SetAccelRange(cfg.AccelRange); err != nil {
		return nil, fmt.Errorf("IMU: set accel range: %w", err)
	}
	log.Printf("IMU: accelerometer range set to %d (±%dg)", cfg.AccelRange, []int{2, 4, 8, 16}[cfg.AccelRange&3])

	if err := imu.SetGyroRange(cfg.GyroRange); err != nil {
		return nil, fmt.Errorf("IMU: set gyro range: %w", err)
	}
	log.Printf("IMU: gyroscope range set to %d (±%d°/s)", cfg.GyroRange, []int{250, 500, 1000, 2000}[cfg.GyroRange&3])

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	return &SPISource{cfg: cfg, imu: imu, sink: sink}, nil
}

// ODR is the delivered sample rate in Hz.
func (s *SPISource) ODR() float64 {
	return float64(time.Second) / float64(s.cfg.Interval)
}

// Run polls until ctx is done. Read errors drop the sample.
func (s *SPISource) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.sink.HandleConnectionEvent(true)
	start := time.Now()
	odr := s.ODR()
	var (
		acc, gyr [][3]float64
		first    float64
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-ticker.C:
			a, g, err := s.read()
			if err != nil {
				log.Printf("IMU: read error: %v", err)
				continue
			}
			if len(acc) == 0 {
				first = t.Sub(start).Seconds()
			}
			acc = append(acc, a)
			gyr = append(gyr, g)
			if len(acc) < s.cfg.BatchSize {
				continue
			}
			s.sink.AddData(sensor.Batch{
				Samples:      map[sensor.Kind][][3]float64{sensor.Accelerometer: acc, sensor.Gyroscope: gyr},
				ODR:          odr,
				Timestamp:    first,
				TotalSamples: len(acc),
			})
			acc, gyr = nil, nil
		}
	}
}

func (s *SPISource) read() (acc, gyr [3]float64, err error) {
	reads := []struct {
		dst  *float64
		read func() (int16, error)
		name string
	}{
		{&acc[0], s.imu.GetAccelerationX, "accel X"},
		{&acc[1], s.imu.GetAccelerationY, "accel Y"},
		{&acc[2], s.imu.GetAccelerationZ, "accel Z"},
		{&gyr[0], s.imu.GetRotationX, "gyro X"},
		{&gyr[1], s.imu.GetRotationY, "gyro Y"},
		{&gyr[2], s.imu.GetRotationZ, "gyro Z"},
	}
	for _, r := range reads {
		v, err := r.read()
		if err != nil {
			return acc, gyr, fmt.Errorf("%s: %w", r.name, err)
		}
		*r.dst = float64(v)
	}
	return acc, gyr, nil
}
