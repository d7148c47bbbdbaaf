// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensor

import (
	"fmt"
	"strings"
)

// Model identifies the IMU part that produced the raw counts.
type Model int

const (
	MPU9250 Model = iota // accel/gyro + AK8963 magnetometer
	ICM20948             // accel/gyro + AK09916 magnetometer
)

func (m Model) String() string {
	switch m {
	case MPU9250:
		return "mpu9250"
	case ICM20948:
		return "icm20948"
	default:
		return fmt.Sprintf("model(%d)", int(m))
	}
}

// ParseModel maps a config string to a Model.
func ParseModel(s string) (Model, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mpu9250", "":
		return MPU9250, nil
	case "icm20948":
		return ICM20948, nil
	}
	return 0, fmt.Errorf("unknown sensor model %q", s)
}

// Settings is the named configuration record of one sensor.
//
// Range is the full-scale select code for accelerometer and gyroscope and the
// control/mode byte for the magnetometer. MagOff is carried through untouched
// for the sensor-model collaborator; nothing here interprets it.
type Settings struct {
	Model       Model
	Kind        Kind
	Range       byte
	DLPF        byte // MPU9250 only: 7 selects the 8 kHz internal rate
	RateDivider byte
	MagOff      bool
}

type settingsKey struct {
	model Model
	kind  Kind
	code  byte
}

// conversionTable holds physical units per raw count: g for the
// accelerometer, °/s for the gyroscope, µT for the magnetometer.
var conversionTable = map[settingsKey]float64{
	// MPU9250 ACCEL_FS_SEL / GYRO_FS_SEL
	{MPU9250, Accelerometer, 0}: 2.0 / 32768,
	{MPU9250, Accelerometer, 1}: 4.0 / 32768,
	{MPU9250, Accelerometer, 2}: 8.0 / 32768,
	{MPU9250, Accelerometer, 3}: 16.0 / 32768,
	{MPU9250, Gyroscope, 0}:     250.0 / 32768,
	{MPU9250, Gyroscope, 1}:     500.0 / 32768,
	{MPU9250, Gyroscope, 2}:     1000.0 / 32768,
	{MPU9250, Gyroscope, 3}:     2000.0 / 32768,
	// AK8963 CNTL1: bit 4 selects 16-bit output
	{MPU9250, Magnetometer, 0x02}: 0.6,
	{MPU9250, Magnetometer, 0x06}: 0.6,
	{MPU9250, Magnetometer, 0x12}: 0.15,
	{MPU9250, Magnetometer, 0x16}: 0.15,

	{ICM20948, Accelerometer, 0}: 2.0 / 32768,
	{ICM20948, Accelerometer, 1}: 4.0 / 32768,
	{ICM20948, Accelerometer, 2}: 8.0 / 32768,
	{ICM20948, Accelerometer, 3}: 16.0 / 32768,
	{ICM20948, Gyroscope, 0}:     250.0 / 32768,
	{ICM20948, Gyroscope, 1}:     500.0 / 32768,
	{ICM20948, Gyroscope, 2}:     1000.0 / 32768,
	{ICM20948, Gyroscope, 3}:     2000.0 / 32768,
	// AK09916 CNTL2 continuous modes, always 16-bit
	{ICM20948, Magnetometer, 0x02}: 0.15,
	{ICM20948, Magnetometer, 0x04}: 0.15,
	{ICM20948, Magnetometer, 0x06}: 0.15,
	{ICM20948, Magnetometer, 0x08}: 0.15,
}

// magODRTable maps magnetometer mode bytes to their output data rate (Hz).
var magODRTable = map[settingsKey]float64{
	{MPU9250, Magnetometer, 0x02}:  8,
	{MPU9250, Magnetometer, 0x06}:  100,
	{MPU9250, Magnetometer, 0x12}:  8,
	{MPU9250, Magnetometer, 0x16}:  100,
	{ICM20948, Magnetometer, 0x02}: 10,
	{ICM20948, Magnetometer, 0x04}: 20,
	{ICM20948, Magnetometer, 0x06}: 50,
	{ICM20948, Magnetometer, 0x08}: 100,
}

// ConversionRate returns physical units per raw count.
func (s Settings) ConversionRate() (float64, error) {
	rate, ok := conversionTable[settingsKey{s.Model, s.Kind, s.Range}]
	if !ok {
		return 0, fmt.Errorf("%s %s: unsupported range setting 0x%02X", s.Model, s.Kind, s.Range)
	}
	return rate, nil
}

// CountsPerUnit returns raw counts per physical unit (e.g. counts per g).
func (s Settings) CountsPerUnit() (float64, error) {
	rate, err := s.ConversionRate()
	if err != nil {
		return 0, err
	}
	return 1 / rate, nil
}

// ODR returns the output data rate in Hz.
func (s Settings) ODR() (float64, error) {
	if s.Kind == Magnetometer {
		odr, ok := magODRTable[settingsKey{s.Model, s.Kind, s.Range}]
		if !ok {
			return 0, fmt.Errorf("%s magnetometer: unsupported mode 0x%02X", s.Model, s.Range)
		}
		return odr, nil
	}

	switch s.Model {
	case MPU9250:
		internalRate := 1000.0 // 1kHz for DLPF modes 0-6
		if s.DLPF == 7 {
			internalRate = 8000.0
		}
		return internalRate / (1 + float64(s.RateDivider)), nil
	case ICM20948:
		return 1125.0 / (1 + float64(s.RateDivider)), nil
	}
	return 0, fmt.Errorf("unknown model %s", s.Model)
}
