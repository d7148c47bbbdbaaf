package sensor

import (
	"math"
	"testing"
)

func TestConversionRate(t *testing.T) {
	tests := []struct {
		name string
		s    Settings
		want float64
	}{
		{"mpu accel 2g", Settings{Model: MPU9250, Kind: Accelerometer, Range: 0}, 2.0 / 32768},
		{"mpu gyro 2000", Settings{Model: MPU9250, Kind: Gyroscope, Range: 3}, 2000.0 / 32768},
		{"ak8963 16bit", Settings{Model: MPU9250, Kind: Magnetometer, Range: 0x16}, 0.15},
		{"icm accel 8g", Settings{Model: ICM20948, Kind: Accelerometer, Range: 2}, 8.0 / 32768},
	}
	for _, tt := range tests {
		got, err := tt.s.ConversionRate()
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.name, err)
		}
		if math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("%s: got %g, want %g", tt.name, got, tt.want)
		}
	}

	if _, err := (Settings{Model: MPU9250, Kind: Accelerometer, Range: 9}).ConversionRate(); err == nil {
		t.Error("expected error for unsupported range code")
	}
}

func TestCountsPerUnit(t *testing.T) {
	got, err := Settings{Model: MPU9250, Kind: Accelerometer, Range: 0}.CountsPerUnit()
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got-16384) > 1e-9 {
		t.Errorf("counts per g = %g, want 16384", got)
	}
}

func TestODR(t *testing.T) {
	tests := []struct {
		name string
		s    Settings
		want float64
	}{
		{"mpu dlpf on div 9", Settings{Model: MPU9250, Kind: Gyroscope, DLPF: 3, RateDivider: 9}, 100},
		{"mpu dlpf off", Settings{Model: MPU9250, Kind: Accelerometer, DLPF: 7, RateDivider: 7}, 1000},
		{"icm div 10", Settings{Model: ICM20948, Kind: Gyroscope, RateDivider: 10}, 1125.0 / 11},
		{"ak8963 mode 2", Settings{Model: MPU9250, Kind: Magnetometer, Range: 0x16}, 100},
		{"mag off flag ignored", Settings{Model: MPU9250, Kind: Magnetometer, Range: 0x12, MagOff: true}, 8},
	}
	for _, tt := range tests {
		got, err := tt.s.ODR()
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.name, err)
		}
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("%s: got %g, want %g", tt.name, got, tt.want)
		}
	}
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{"acc": Accelerometer, "Gyro": Gyroscope, "magnetometer": Magnetometer} {
		got, err := ParseKind(in)
		if err != nil || got != want {
			t.Errorf("ParseKind(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseKind("baro"); err == nil {
		t.Error("expected error for unknown kind")
	}
}
