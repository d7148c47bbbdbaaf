package calib

import (
	"errors"
	"testing"

	"github.com/relabs-tech/motion_calibration/internal/sensor"
)

func TestSolveAxisMappingPermutations(t *testing.T) {
	perms := [][3]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}
	signs := [][3]int{{1, 1, 1}, {-1, 1, -1}, {-1, -1, -1}, {1, -1, 1}}
	for _, perm := range perms {
		for _, sign := range signs {
			var maneuvers [3]sensor.Vec3
			for logical := 0; logical < 3; logical++ {
				v := sensor.Vec3{0.05, -0.08, 0.02}
				v[perm[logical]] = float64(sign[logical]) * 0.97
				maneuvers[logical] = v
			}
			m, err := SolveAxisMapping(maneuvers)
			if err != nil {
				t.Fatalf("perm %v sign %v: %v", perm, sign, err)
			}
			if m.Swap != perm || m.Polarity != sign {
				t.Errorf("got %+v, want swap %v polarity %v", m, perm, sign)
			}
			if err := m.Validate(); err != nil {
				t.Errorf("result not valid: %v", err)
			}
		}
	}
}

func TestSolveAxisMappingCollision(t *testing.T) {
	maneuvers := [3]sensor.Vec3{
		{0.1, 0.9, 0.0},
		{0.0, -0.8, 0.2},
		{0.1, 0.0, 1.0},
	}
	m, err := SolveAxisMapping(maneuvers)
	if !errors.Is(err, ErrAxisCollision) {
		t.Fatalf("err = %v, want ErrAxisCollision", err)
	}
	if m != (AxisMapping{}) {
		t.Errorf("rejected mapping should be zero value, got %+v", m)
	}
}

func TestSolveAxisMappingAmbiguous(t *testing.T) {
	_, err := SolveAxisMapping([3]sensor.Vec3{{}, {0, 1, 0}, {0, 0, 1}})
	if !errors.Is(err, ErrAxisAmbiguous) {
		t.Errorf("err = %v, want ErrAxisAmbiguous", err)
	}
}

func TestAxisMetricGyroIntegrates(t *testing.T) {
	samples := rampSamples(101, 100, func(float64) sensor.Vec3 { return sensor.Vec3{1, -90, 1} })
	v, err := AxisMetric(sensor.Gyroscope, samples, sensor.Vec3{1, 0, 1})
	if err != nil {
		t.Fatal(err)
	}
	if !near(v[1], -90, 1e-9) || !near(v[0], 0, 1e-12) {
		t.Errorf("metric = %v, want [0 -90 0]", v)
	}
}

func TestAxisMappingApply(t *testing.T) {
	m := AxisMapping{Swap: [3]int{2, 0, 1}, Polarity: [3]int{1, -1, 1}}
	got := m.Apply(sensor.Vec3{1, 2, 3})
	if got != (sensor.Vec3{3, -1, 2}) {
		t.Errorf("Apply = %v", got)
	}
}

func TestAxisMappingValidate(t *testing.T) {
	bad := []AxisMapping{
		{Swap: [3]int{0, 0, 2}, Polarity: [3]int{1, 1, 1}},
		{Swap: [3]int{0, 1, 3}, Polarity: [3]int{1, 1, 1}},
		{Swap: [3]int{0, 1, 2}, Polarity: [3]int{1, 0, 1}},
	}
	for _, m := range bad {
		if err := m.Validate(); !errors.Is(err, ErrAxisCollision) {
			t.Errorf("Validate(%+v) = %v, want ErrAxisCollision", m, err)
		}
	}
	if err := DefaultAxisMapping().Validate(); err != nil {
		t.Errorf("default mapping invalid: %v", err)
	}
}
