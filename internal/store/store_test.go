package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/relabs-tech/motion_calibration/internal/calib"
	"github.com/relabs-tech/motion_calibration/internal/sensor"
)

func TestNewStoreDefaults(t *testing.T) {
	s := New()
	for _, k := range sensor.Kinds {
		offset, gain := s.GetCalibrationResults(k)
		if offset != (sensor.Vec3{}) || gain != calib.Identity() {
			t.Errorf("%s: got %v %v, want neutral", k, offset, gain)
		}
	}
	axes := s.GetNewAxesOrientations()
	if len(axes) != 3 {
		t.Fatalf("got %d mappings, want 3", len(axes))
	}
	for _, m := range axes {
		if m != calib.DefaultAxisMapping() {
			t.Errorf("mapping %+v, want identity", m)
		}
	}
}

func TestResultsAreCopies(t *testing.T) {
	s := New()
	_, gain := s.GetCalibrationResults(sensor.Magnetometer)
	gain[0][0] = 42
	if _, again := s.GetCalibrationResults(sensor.Magnetometer); again[0][0] != 1 {
		t.Error("caller mutation leaked into the store")
	}
}

func TestAcceptRejectsInvalid(t *testing.T) {
	s := New()
	bad := calib.Coefficients{Gain: calib.Diagonal(sensor.Vec3{1, -1, 1})}
	if err := s.AcceptCoefficients(sensor.Accelerometer, bad); !errors.Is(err, calib.ErrNonPositiveGain) {
		t.Errorf("err = %v, want ErrNonPositiveGain", err)
	}
	collide := calib.AxisMapping{Swap: [3]int{1, 1, 2}, Polarity: [3]int{1, 1, 1}}
	if err := s.AcceptAxisMapping(sensor.Gyroscope, collide); !errors.Is(err, calib.ErrAxisCollision) {
		t.Errorf("err = %v, want ErrAxisCollision", err)
	}
	if s.AxisMapping(sensor.Gyroscope) != calib.DefaultAxisMapping() {
		t.Error("rejected mapping must not be stored")
	}
}

func TestOnAcceptHook(t *testing.T) {
	s := New()
	var got []sensor.Kind
	s.OnAccept(func(k sensor.Kind) { got = append(got, k) })
	_ = s.AcceptCoefficients(sensor.Gyroscope, calib.Neutral())
	_ = s.AcceptAxisMapping(sensor.Magnetometer, calib.DefaultAxisMapping())
	if len(got) != 2 || got[0] != sensor.Gyroscope || got[1] != sensor.Magnetometer {
		t.Errorf("hook calls = %v", got)
	}
}

func TestConvert(t *testing.T) {
	s := New()
	_ = s.AcceptCoefficients(sensor.Accelerometer, calib.Coefficients{
		Offset: sensor.Vec3{0.1, 0, 0},
		Gain:   calib.Diagonal(sensor.Vec3{2, 1, 1}),
	})
	_ = s.AcceptAxisMapping(sensor.Accelerometer, calib.AxisMapping{Swap: [3]int{1, 0, 2}, Polarity: [3]int{1, 1, -1}})
	got := s.Convert(sensor.Accelerometer, sensor.Vec3{2.1, 3, 4})
	if got != (sensor.Vec3{3, 1, -4}) {
		t.Errorf("Convert = %v, want [3 1 -4]", got)
	}

	_ = s.AcceptCoefficients(sensor.Gyroscope, calib.Coefficients{
		Offset: sensor.Vec3{1, 1, 1},
		Gain:   calib.Diagonal(sensor.Vec3{0.5, 2, 1}),
	})
	if got := s.Convert(sensor.Gyroscope, sensor.Vec3{3, 3, 3}); got != (sensor.Vec3{1, 4, 2}) {
		t.Errorf("gyro Convert = %v, want [1 4 2]", got)
	}
}

func TestSensorAxisCalibrationNumbers(t *testing.T) {
	s := New()
	m := calib.AxisMapping{Swap: [3]int{2, 1, 0}, Polarity: [3]int{-1, 1, 1}}
	_ = s.AcceptAxisMapping(sensor.Magnetometer, m)
	swap, pol := s.SensorAxisCalibrationNumbers(sensor.Magnetometer, [3]int{0, 1, 2}, [3]int{1, 1, 1})
	if swap != m.Swap || pol != m.Polarity {
		t.Errorf("got %v %v, want %+v", swap, pol, m)
	}
}

func TestFileRoundTrip(t *testing.T) {
	for _, name := range []string{"cal.json", "cal.yaml"} {
		path := filepath.Join(t.TempDir(), name)
		s := New()
		mag := calib.Coefficients{
			Offset: sensor.Vec3{12, -3, 40},
			Gain:   calib.Matrix3{{0.9, 0.02, 0}, {0.02, 1.1, -0.01}, {0, -0.01, 1.0}},
		}
		acc := calib.Coefficients{Offset: sensor.Vec3{0.01, 0.02, -0.03}, Gain: calib.Diagonal(sensor.Vec3{1.01, 0.99, 1.02})}
		axes := calib.AxisMapping{Swap: [3]int{1, 0, 2}, Polarity: [3]int{1, -1, 1}}
		if err := s.AcceptCoefficients(sensor.Magnetometer, mag); err != nil {
			t.Fatal(err)
		}
		if err := s.AcceptCoefficients(sensor.Accelerometer, acc); err != nil {
			t.Fatal(err)
		}
		if err := s.AcceptAxisMapping(sensor.Accelerometer, axes); err != nil {
			t.Fatal(err)
		}
		if err := SaveFile(path, s.Snapshot()); err != nil {
			t.Fatal(err)
		}

		loaded := Open(path)
		if got := loaded.Coefficients(sensor.Magnetometer); got != mag {
			t.Errorf("%s: mag = %+v, want %+v", name, got, mag)
		}
		if got := loaded.Coefficients(sensor.Accelerometer); got != acc {
			t.Errorf("%s: acc = %+v, want %+v", name, got, acc)
		}
		if got := loaded.AxisMapping(sensor.Accelerometer); got != axes {
			t.Errorf("%s: axes = %+v, want %+v", name, got, axes)
		}
		if loaded.UpdatedAt(sensor.Magnetometer).IsZero() {
			t.Errorf("%s: calibration time not persisted", name)
		}
	}
}

func TestMalformedRecordsFallBack(t *testing.T) {
	s := New()
	s.Seed(File{Sensors: map[string]Record{
		"accelerometer": {Offset: []float64{1, 2}, Gain: []float64{1, 1, 1}, Swap: []int{0, 1, 2}, Polarity: []int{1, 1, 1}},
		"gyroscope":     {Offset: []float64{1, 2, 3}, Gain: []float64{1, 0, 1}, Swap: []int{0, 0, 2}, Polarity: []int{1, 1, 1}},
		"magnetometer":  {Offset: []float64{1, 2, 3}, Gain: []float64{1, 1, 1, 1}, Swap: []int{2, 1, 0}, Polarity: []int{1, -1, 1}},
	}})
	for _, k := range sensor.Kinds {
		if c := s.Coefficients(k); c != calib.Neutral() {
			t.Errorf("%s: coefficients %+v, want neutral", k, c)
		}
	}
	if s.AxisMapping(sensor.Gyroscope) != calib.DefaultAxisMapping() {
		t.Error("gyroscope: colliding swap should fall back to identity")
	}
	want := calib.AxisMapping{Swap: [3]int{2, 1, 0}, Polarity: [3]int{1, -1, 1}}
	if s.AxisMapping(sensor.Magnetometer) != want {
		t.Error("magnetometer: valid axis record should survive a bad gain record")
	}
}

func TestOpenMissingAndCorrupt(t *testing.T) {
	dir := t.TempDir()
	if s := Open(filepath.Join(dir, "missing.json")); s.Coefficients(sensor.Gyroscope) != calib.Neutral() {
		t.Error("missing file should give defaults")
	}
	corrupt := filepath.Join(dir, "corrupt.json")
	if err := os.WriteFile(corrupt, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(corrupt); err == nil {
		t.Error("expected parse error")
	}
	if s := Open(corrupt); s.AxisMapping(sensor.Accelerometer) != calib.DefaultAxisMapping() {
		t.Error("corrupt file should give defaults")
	}
}
