// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/motion_calibration/internal/calib"
	"github.com/relabs-tech/motion_calibration/internal/config"
	"github.com/relabs-tech/motion_calibration/internal/sensor"
	"github.com/relabs-tech/motion_calibration/internal/stage"
	"github.com/relabs-tech/motion_calibration/internal/store"
	"github.com/relabs-tech/motion_calibration/internal/telemetry"
)

// ResultEnvelope is the published form of one sensor's accepted calibration.
type ResultEnvelope struct {
	ID           string            `json:"id"`
	Sensor       string            `json:"sensor"`
	Offset       sensor.Vec3       `json:"offset"`
	Gain         calib.Matrix3     `json:"gain"`
	Axes         calib.AxisMapping `json:"axes"`
	CalibratedAt time.Time         `json:"calibrated_at"`
}

// Service wires the controller to the result store, its file and the
// telemetry transports.
type Service struct {
	cfg   *config.Config
	store *store.Store
	ctrl  *stage.Controller
	mqtt  *telemetry.MQTTSource

	mu      sync.Mutex
	session string // id of the websocket session owning the controller
}

// NewService builds the store and controller from cfg. Nothing is started.
func NewService(cfg *config.Config) (*Service, error) {
	gravity, err := accelGravity(cfg)
	if err != nil {
		return nil, err
	}

	s := &Service{cfg: cfg, store: store.Open(cfg.CalibrationFile)}
	s.ctrl = stage.New(stage.Config{
		Gravity: gravity,
		Rate: calib.RateCalibrator{
			KnownAngle: cfg.GyroKnownAngle,
			MinAngle:   cfg.GyroMinAngle,
		},
		Ellipsoid: calib.EllipsoidFitter{
			MinSamples:   cfg.MagMinSamples,
			MaxCondition: cfg.MagMaxCondition,
		},
		AccDuration:        cfg.AccStageDuration,
		GyroStaticDuration: cfg.GyroStaticDuration,
		GyroRotateDuration: cfg.GyroRotateDuration,
		MagDuration:        cfg.MagSweepDuration,
		MagUnlimited:       cfg.MagSweepUnlimited,
		AxisDuration:       cfg.AxisDuration,
		StillGood:          stillStdGood,
		StillBad:           stillStdBad,
		Hooks:              metricsHooks(),
	}, s.store)

	s.store.OnAccept(s.persist)
	log.Infof("calibration: gravity reference %.1f counts/g, results in %s", gravity, cfg.CalibrationFile)
	return s, nil
}

// Stillness thresholds in raw counts of standard deviation.
const (
	stillStdGood = 3.0
	stillStdBad  = 12.0
)

// accelGravity returns the configured gravity reference, or counts per g of
// the configured accelerometer range.
func accelGravity(cfg *config.Config) (float64, error) {
	if cfg.AccGravityRaw > 0 {
		return cfg.AccGravityRaw, nil
	}
	settings, err := sensorSettings(cfg, sensor.Accelerometer)
	if err != nil {
		return 0, err
	}
	return settings.CountsPerUnit()
}

// sensorSettings builds the settings record of kind from the IMU config.
func sensorSettings(cfg *config.Config, kind sensor.Kind) (sensor.Settings, error) {
	model, err := sensor.ParseModel(cfg.IMUModel)
	if err != nil {
		return sensor.Settings{}, err
	}
	s := sensor.Settings{
		Model:       model,
		Kind:        kind,
		DLPF:        cfg.IMUDLPFConfig,
		RateDivider: cfg.IMUSampleRateDiv,
	}
	switch kind {
	case sensor.Accelerometer:
		s.Range = cfg.IMUAccelRange
	case sensor.Gyroscope:
		s.Range = cfg.IMUGyroRange
	case sensor.Magnetometer:
		s.Range = cfg.IMUMagMode
		s.MagOff = cfg.IMUMagOff
	}
	return s, nil
}

// Controller returns the stage controller.
func (s *Service) Controller() *stage.Controller { return s.ctrl }

// Store returns the result store.
func (s *Service) Store() *store.Store { return s.store }

// Start launches the configured telemetry transport. It returns once the
// transport is running; ctx stops it.
func (s *Service) Start(ctx context.Context) error {
	sink := countingSink{s.ctrl}

	if s.cfg.MQTTBroker != "" {
		mcfg := telemetry.MQTTConfig{
			Broker:           s.cfg.MQTTBroker,
			ClientID:         s.cfg.MQTTClientIDWeb,
			TopicCalibration: s.cfg.TopicCalibration,
		}
		if s.cfg.TelemetrySource == config.SourceMQTT {
			mcfg.TopicTelemetry = s.cfg.TopicTelemetry
			mcfg.TopicConnection = s.cfg.TopicConnection
			mcfg.TopicPowerMode = s.cfg.TopicPowerMode
		}
		s.mqtt = telemetry.NewMQTTSource(mcfg, sink)
		if err := s.mqtt.Start(); err != nil {
			return err
		}
		go func() {
			<-ctx.Done()
			s.mqtt.Stop()
		}()
	}

	switch s.cfg.TelemetrySource {
	case config.SourceSerial:
		src := telemetry.NewSerialSource(s.cfg.SerialPort, s.cfg.SerialBaudRate, sink)
		go func() {
			if err := src.Run(ctx); err != nil && ctx.Err() == nil {
				log.Errorf("telemetry: serial source stopped: %v", err)
			}
		}()
	case config.SourceSPI:
		if err := s.logIMURates(); err != nil {
			return err
		}
		src, err := telemetry.NewSPISource(telemetry.SPIConfig{
			Device:     s.cfg.IMUSPIDevice,
			CSPin:      s.cfg.IMUCSPin,
			AccelRange: s.cfg.IMUAccelRange,
			GyroRange:  s.cfg.IMUGyroRange,
			Interval:   time.Duration(s.cfg.IMUSampleInterval) * time.Millisecond,
		}, sink)
		if err != nil {
			return err
		}
		go func() {
			if err := src.Run(ctx); err != nil && ctx.Err() == nil {
				log.Errorf("telemetry: SPI source stopped: %v", err)
			}
		}()
	}
	return nil
}

func (s *Service) logIMURates() error {
	for _, kind := range []sensor.Kind{sensor.Accelerometer, sensor.Gyroscope} {
		settings, err := sensorSettings(s.cfg, kind)
		if err != nil {
			return err
		}
		odr, err := settings.ODR()
		if err != nil {
			return err
		}
		rate, err := settings.ConversionRate()
		if err != nil {
			return err
		}
		log.Infof("IMU: %s %s range 0x%02X: %.6g units/count, device ODR %.1f Hz", settings.Model, kind, settings.Range, rate, odr)
	}
	return nil
}

// persist runs after every accepted result: it rewrites the calibration
// file and publishes the sensor's result.
func (s *Service) persist(kind sensor.Kind) {
	if err := store.SaveFile(s.cfg.CalibrationFile, s.store.Snapshot()); err != nil {
		log.Errorf("calibration: %v", err)
	} else {
		log.Infof("calibration: saved %s results to %s", kind, s.cfg.CalibrationFile)
	}
	if s.mqtt == nil {
		return
	}
	payload, err := json.Marshal(s.Result(kind))
	if err != nil {
		log.Errorf("calibration: marshal result: %v", err)
		return
	}
	if err := s.mqtt.Publish(payload); err != nil {
		log.Errorf("calibration: %v", err)
	}
}

// Result returns the accepted calibration of kind.
func (s *Service) Result(kind sensor.Kind) ResultEnvelope {
	offset, gain := s.store.GetCalibrationResults(kind)
	return ResultEnvelope{
		ID:           uuid.NewString(),
		Sensor:       kind.String(),
		Offset:       offset,
		Gain:         gain,
		Axes:         s.store.AxisMapping(kind),
		CalibratedAt: s.store.UpdatedAt(kind),
	}
}

// claim makes id the owner of the controller; only one operator session
// drives it at a time.
func (s *Service) claim(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != "" && s.session != id {
		return fmt.Errorf("calibration session %s already active", s.session)
	}
	s.session = id
	return nil
}

func (s *Service) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == id {
		s.session = ""
		s.ctrl.Reset()
	}
}

// countingSink feeds the controller and counts stored samples.
type countingSink struct {
	*stage.Controller
}

func (c countingSink) AddData(b sensor.Batch) int {
	n := c.Controller.AddData(b)
	samplesRecorded.Add(float64(n))
	return n
}
