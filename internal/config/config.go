package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Telemetry sources accepted by TELEMETRY_SOURCE.
const (
	SourceMQTT   = "mqtt"
	SourceSerial = "serial"
	SourceSPI    = "spi"
)

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker           string
	MQTTClientIDWeb      string
	MQTTClientIDConsole  string
	MQTTClientIDProducer string

	// Topics
	TopicTelemetry   string
	TopicConnection  string
	TopicPowerMode   string
	TopicCalibration string

	// Telemetry transport: "mqtt", "serial" or "spi"
	TelemetrySource string

	// Serial line telemetry
	SerialPort     string
	SerialBaudRate int

	// Local IMU
	IMUModel     string
	IMUSPIDevice string
	IMUCSPin     string
	// Accelerometer: 0=±2g, 1=±4g, 2=±8g, 3=±16g
	IMUAccelRange byte
	// Gyroscope: 0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s
	IMUGyroRange      byte
	IMUDLPFConfig     byte // Digital Low Pass Filter configuration (0-7)
	IMUSampleRateDiv  byte // output rate = internal rate / (1 + div)
	IMUMagMode        byte // magnetometer control/mode byte
	IMUMagOff         bool
	IMUSampleInterval int // milliseconds

	// Calibration references, raw units
	AccGravityRaw   float64 // 0 derives counts per g from the accelerometer range
	GyroKnownAngle  float64 // raw·s for one guided rotation
	GyroMinAngle    float64 // raw·s below which a rotation is degenerate
	MagMaxCondition float64
	MagMinSamples   int

	// Stage windows, seconds
	AccStageDuration   float64
	GyroStaticDuration float64
	GyroRotateDuration float64
	MagSweepDuration   float64
	MagSweepUnlimited  bool
	AxisDuration       float64

	// Results
	CalibrationFile string
	PlotDir         string

	// Timing
	UpdateInterval int // milliseconds between controller ticks

	// Web Server
	WebServerPort int
}

// Package-level unexported variables for singleton pattern:
//   - globalConfig: only reachable through InitGlobal and Get.
//   - configOnce: ensures InitGlobal() only runs once, even if called multiple times.
//   - configMu: RWMutex, write lock for initialization, read lock for Get().
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// defaults returns a Config with every optional value filled in.
func defaults() *Config {
	return &Config{
		MQTTClientIDWeb:      "calibration_web",
		MQTTClientIDConsole:  "calibration_console",
		MQTTClientIDProducer: "calibration_producer",
		TopicTelemetry:       "motion/telemetry",
		TopicConnection:      "motion/connection",
		TopicPowerMode:       "motion/power_mode",
		TopicCalibration:     "motion/calibration",
		TelemetrySource:      SourceMQTT,
		SerialBaudRate:       115200,
		IMUModel:             "mpu9250",
		IMUDLPFConfig:        3,
		IMUSampleRateDiv:     9,
		IMUMagMode:           0x16,
		IMUSampleInterval:    10,
		GyroMinAngle:         1,
		MagMaxCondition:      1e6,
		MagMinSamples:        200,
		AccStageDuration:     3,
		GyroStaticDuration:   5,
		GyroRotateDuration:   10,
		MagSweepDuration:     60,
		AxisDuration:         5,
		CalibrationFile:      "calibration.json",
		UpdateInterval:       100,
		WebServerPort:        8080,
	}
}

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := defaults()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseByte(key, value string, max int) (byte, error) {
	val, err := strconv.ParseUint(value, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if int(val) > max {
		return 0, fmt.Errorf("%s must be 0-%d, got %d", key, max, val)
	}
	return byte(val), nil
}

func parsePositive(key, value string) (float64, error) {
	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if !(val > 0) {
		return 0, fmt.Errorf("%s must be positive, got %v", key, val)
	}
	return val, nil
}

func parseBool(key, value string) (bool, error) {
	val, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return val, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_PRODUCER":
		c.MQTTClientIDProducer = value

	// Topics
	case "TOPIC_TELEMETRY":
		c.TopicTelemetry = value
	case "TOPIC_CONNECTION":
		c.TopicConnection = value
	case "TOPIC_POWER_MODE":
		c.TopicPowerMode = value
	case "TOPIC_CALIBRATION":
		c.TopicCalibration = value

	case "TELEMETRY_SOURCE":
		switch v := strings.ToLower(value); v {
		case SourceMQTT, SourceSerial, SourceSPI:
			c.TelemetrySource = v
		default:
			return fmt.Errorf("TELEMETRY_SOURCE must be mqtt, serial or spi, got %q", value)
		}

	// Serial
	case "SERIAL_PORT":
		c.SerialPort = value
	case "SERIAL_BAUD_RATE":
		rate, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid SERIAL_BAUD_RATE %q: %w", value, err)
		}
		c.SerialBaudRate = rate

	// IMU Hardware
	case "IMU_MODEL":
		c.IMUModel = value
	case "IMU_SPI_DEVICE":
		c.IMUSPIDevice = value
	case "IMU_CS_PIN":
		c.IMUCSPin = value
	case "IMU_ACCEL_RANGE":
		c.IMUAccelRange, err = parseByte(key, value, 3)
	case "IMU_GYRO_RANGE":
		c.IMUGyroRange, err = parseByte(key, value, 3)
	case "IMU_DLPF_CFG":
		c.IMUDLPFConfig, err = parseByte(key, value, 7)
	case "IMU_SMPLRT_DIV":
		c.IMUSampleRateDiv, err = parseByte(key, value, 255)
	case "IMU_MAG_MODE":
		c.IMUMagMode, err = parseByte(key, value, 255)
	case "IMU_MAG_OFF":
		c.IMUMagOff, err = parseBool(key, value)
	case "IMU_SAMPLE_INTERVAL":
		interval, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid IMU_SAMPLE_INTERVAL %q: %w", value, err)
		}
		c.IMUSampleInterval = interval

	// Calibration references
	case "ACC_GRAVITY_RAW":
		c.AccGravityRaw, err = parsePositive(key, value)
	case "GYRO_KNOWN_ANGLE":
		c.GyroKnownAngle, err = parsePositive(key, value)
	case "GYRO_MIN_ANGLE":
		c.GyroMinAngle, err = parsePositive(key, value)
	case "MAG_MAX_CONDITION":
		c.MagMaxCondition, err = parsePositive(key, value)
	case "MAG_MIN_SAMPLES":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid MAG_MIN_SAMPLES %q: %w", value, err)
		}
		if n < 9 {
			return fmt.Errorf("MAG_MIN_SAMPLES must be at least 9, got %d", n)
		}
		c.MagMinSamples = n

	// Stage windows
	case "ACC_STAGE_DURATION":
		c.AccStageDuration, err = parsePositive(key, value)
	case "GYRO_STATIC_DURATION":
		c.GyroStaticDuration, err = parsePositive(key, value)
	case "GYRO_ROTATE_DURATION":
		c.GyroRotateDuration, err = parsePositive(key, value)
	case "MAG_SWEEP_DURATION":
		c.MagSweepDuration, err = parsePositive(key, value)
	case "MAG_SWEEP_UNLIMITED":
		c.MagSweepUnlimited, err = parseBool(key, value)
	case "AXIS_DURATION":
		c.AxisDuration, err = parsePositive(key, value)

	// Results
	case "CALIBRATION_FILE":
		c.CalibrationFile = value
	case "PLOT_DIR":
		c.PlotDir = value

	// Timing
	case "UPDATE_INTERVAL":
		interval, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid UPDATE_INTERVAL %q: %w", value, err)
		}
		c.UpdateInterval = interval

	// Web Server
	case "WEB_SERVER_PORT":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid WEB_SERVER_PORT %q: %w", value, err)
		}
		c.WebServerPort = port

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	switch c.TelemetrySource {
	case SourceMQTT:
		if c.MQTTBroker == "" {
			return fmt.Errorf("MQTT_BROKER is required for mqtt telemetry")
		}
	case SourceSerial:
		if c.SerialPort == "" {
			return fmt.Errorf("SERIAL_PORT is required for serial telemetry")
		}
		if c.SerialBaudRate == 0 {
			return fmt.Errorf("SERIAL_BAUD_RATE is required for serial telemetry")
		}
	case SourceSPI:
		if c.IMUSPIDevice == "" {
			return fmt.Errorf("IMU_SPI_DEVICE is required for spi telemetry")
		}
		if c.IMUSampleInterval <= 0 {
			return fmt.Errorf("IMU_SAMPLE_INTERVAL must be positive")
		}
	}
	if c.GyroKnownAngle == 0 {
		return fmt.Errorf("GYRO_KNOWN_ANGLE is required")
	}
	if c.GyroMinAngle >= c.GyroKnownAngle {
		return fmt.Errorf("GYRO_MIN_ANGLE (%v) must be below GYRO_KNOWN_ANGLE (%v)", c.GyroMinAngle, c.GyroKnownAngle)
	}
	if c.UpdateInterval <= 0 {
		return fmt.Errorf("UPDATE_INTERVAL must be positive")
	}
	if c.CalibrationFile == "" {
		return fmt.Errorf("CALIBRATION_FILE is required")
	}
	return nil
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
