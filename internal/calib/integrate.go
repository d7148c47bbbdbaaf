package calib

import "github.com/relabs-tech/motion_calibration/internal/sensor"

// IntegrateData returns the trapezoidal area between two consecutive samples.
func IntegrateData(p1, p2, dt float64) float64 {
	return dt * (p1 + p2) / 2
}

// Integrate accumulates the trapezoidal integral of (sample - bias) per axis
// over consecutive sample timestamps.
func Integrate(samples []sensor.Sample, bias sensor.Vec3) sensor.Vec3 {
	var sum sensor.Vec3
	for i := 1; i < len(samples); i++ {
		dt := samples[i].Timestamp - samples[i-1].Timestamp
		if dt <= 0 {
			continue
		}
		prev := samples[i-1].Vec().Sub(bias)
		cur := samples[i].Vec().Sub(bias)
		for axis := 0; axis < 3; axis++ {
			sum[axis] += IntegrateData(prev[axis], cur[axis], dt)
		}
	}
	return sum
}

// Duration is the span covered by samples, accumulated with the same
// trapezoidal rule over a constant unit signal.
func Duration(samples []sensor.Sample) float64 {
	var d float64
	for i := 1; i < len(samples); i++ {
		dt := samples[i].Timestamp - samples[i-1].Timestamp
		if dt > 0 {
			d += IntegrateData(1, 1, dt)
		}
	}
	return d
}
