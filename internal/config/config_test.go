package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "calibration.conf")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
# broker
MQTT_BROKER=tcp://localhost:1883
TOPIC_TELEMETRY=wearable/raw
MQTT_CLIENT_ID_PRODUCER=bench_producer
GYRO_KNOWN_ANGLE=2949120
IMU_ACCEL_RANGE=1
IMU_MAG_MODE=0x16
MAG_SWEEP_UNLIMITED=true
CALIBRATION_FILE=/tmp/cal.yaml
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.TopicTelemetry != "wearable/raw" {
		t.Errorf("TopicTelemetry = %q", cfg.TopicTelemetry)
	}
	if cfg.MQTTClientIDProducer != "bench_producer" || cfg.MQTTClientIDWeb != "calibration_web" {
		t.Errorf("client ids = %q %q", cfg.MQTTClientIDProducer, cfg.MQTTClientIDWeb)
	}
	if cfg.IMUAccelRange != 1 || cfg.IMUMagMode != 0x16 {
		t.Errorf("ranges = %d 0x%02X", cfg.IMUAccelRange, cfg.IMUMagMode)
	}
	if !cfg.MagSweepUnlimited {
		t.Error("MagSweepUnlimited not set")
	}
	if cfg.TopicPowerMode != "motion/power_mode" || cfg.MagMinSamples != 200 {
		t.Error("defaults not applied")
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"no separator", "MQTT_BROKER tcp://x", "invalid config line 1"},
		{"unknown key", "FOO=1", "unknown config key"},
		{"range out of bounds", "IMU_GYRO_RANGE=4", "IMU_GYRO_RANGE must be 0-3"},
		{"negative angle", "GYRO_KNOWN_ANGLE=-3", "must be positive"},
		{"too few mag samples", "MAG_MIN_SAMPLES=5", "at least 9"},
		{"missing broker", "GYRO_KNOWN_ANGLE=10", "MQTT_BROKER is required"},
		{"missing serial port", "TELEMETRY_SOURCE=serial\nGYRO_KNOWN_ANGLE=10", "SERIAL_PORT is required"},
		{"bad source", "TELEMETRY_SOURCE=ble", "TELEMETRY_SOURCE must be"},
		{"tolerance above angle", "MQTT_BROKER=x\nGYRO_KNOWN_ANGLE=10\nGYRO_MIN_ANGLE=20", "must be below"},
	}
	for _, tt := range tests {
		_, err := Load(writeConfig(t, tt.body))
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%s: err = %v, want %q", tt.name, err, tt.want)
		}
	}
}
