// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package stage

import (
	"fmt"
	"strings"

	"github.com/relabs-tech/motion_calibration/internal/calib"
	"github.com/relabs-tech/motion_calibration/internal/sensor"
)

// State is a position of the calibration state machine.
type State int

const (
	SensorSelect State = iota
	Acc1
	Acc2
	Acc3
	Acc4
	Acc5
	Acc6
	GyroStatic
	GyroRotateX
	GyroRotateY
	GyroRotateZ
	MagSweep
	Axis
	Complete
)

var stateNames = [...]string{
	SensorSelect: "sensor_select",
	Acc1:         "acc_1",
	Acc2:         "acc_2",
	Acc3:         "acc_3",
	Acc4:         "acc_4",
	Acc5:         "acc_5",
	Acc6:         "acc_6",
	GyroStatic:   "gyro_static",
	GyroRotateX:  "gyro_rotate_x",
	GyroRotateY:  "gyro_rotate_y",
	GyroRotateZ:  "gyro_rotate_z",
	MagSweep:     "mag_sweep",
	Axis:         "axis",
	Complete:     "complete",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// isTumble reports whether s is one of the six accelerometer positions.
func (s State) isTumble() bool { return s >= Acc1 && s <= Acc6 }

// isRotate reports whether s is a gyroscope rotation stage.
func (s State) isRotate() bool { return s >= GyroRotateX && s <= GyroRotateZ }

// tumblePosition is only meaningful when isTumble.
func (s State) tumblePosition() calib.TumblePosition {
	return calib.TumblePositions[s-Acc1]
}

// rotateAxis is only meaningful when isRotate.
func (s State) rotateAxis() int { return int(s - GyroRotateX) }

// Mode selects between value calibration (offset and gain) and axis
// calibration (swap and polarity only).
type Mode int

const (
	ValueMode Mode = iota
	AxisMode
)

func (m Mode) String() string {
	if m == AxisMode {
		return "axis"
	}
	return "value"
}

// ParseMode accepts "value" or "axis".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "value", "":
		return ValueMode, nil
	case "axis":
		return AxisMode, nil
	}
	return 0, fmt.Errorf("unknown calibration mode %q", s)
}

// PowerMode is the device power state reported by telemetry.
type PowerMode int

const (
	PowerNormal PowerMode = iota
	PowerLow
	PowerSleep
)

func (p PowerMode) String() string {
	switch p {
	case PowerNormal:
		return "normal"
	case PowerLow:
		return "low"
	case PowerSleep:
		return "sleep"
	default:
		return fmt.Sprintf("power(%d)", int(p))
	}
}

// ParsePowerMode maps a telemetry payload to a PowerMode.
func ParsePowerMode(s string) (PowerMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "normal", "0":
		return PowerNormal, nil
	case "low", "1":
		return PowerLow, nil
	case "sleep", "2":
		return PowerSleep, nil
	}
	return 0, fmt.Errorf("unknown power mode %q", s)
}

// sequence lists the stages run for kind in mode.
func sequence(kind sensor.Kind, mode Mode, withAxis bool) []State {
	if mode == AxisMode {
		return []State{Axis}
	}
	var seq []State
	switch kind {
	case sensor.Accelerometer:
		seq = []State{Acc1, Acc2, Acc3, Acc4, Acc5, Acc6}
	case sensor.Gyroscope:
		seq = []State{GyroStatic, GyroRotateX, GyroRotateY, GyroRotateZ}
	case sensor.Magnetometer:
		seq = []State{MagSweep}
	}
	if withAxis {
		seq = append(seq, Axis)
	}
	return seq
}

var axisNames = [3]string{"X", "Y", "Z"}

// instruction is the operator prompt for a stage.
func instruction(kind sensor.Kind, s State, maneuver int) string {
	switch {
	case s == SensorSelect:
		return "Select a sensor to calibrate"
	case s.isTumble():
		return fmt.Sprintf("Hold the device still with its %s axis pointing up", s.tumblePosition())
	case s == GyroStatic:
		return "Keep the device motionless on a flat surface"
	case s.isRotate():
		return fmt.Sprintf("Rotate the device one full turn about its %s axis", axisNames[s.rotateAxis()])
	case s == MagSweep:
		return "Sweep the device slowly through as many orientations as possible"
	case s == Axis:
		switch kind {
		case sensor.Gyroscope:
			return fmt.Sprintf("Rotate the device positively about logical axis %s", axisNames[maneuver])
		case sensor.Magnetometer:
			return fmt.Sprintf("Point logical axis +%s toward magnetic north", axisNames[maneuver])
		default:
			return fmt.Sprintf("Hold the device still with logical axis +%s pointing up", axisNames[maneuver])
		}
	case s == Complete:
		return "Calibration complete"
	}
	return ""
}
