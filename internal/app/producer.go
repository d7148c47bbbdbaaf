package app

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/motion_calibration/internal/config"
	"github.com/relabs-tech/motion_calibration/internal/sensor"
	"github.com/relabs-tech/motion_calibration/internal/stage"
	"github.com/relabs-tech/motion_calibration/internal/telemetry"
)

// publisher is the part of an MQTT client the producer needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// frameSink publishes everything a telemetry source delivers as frames on
// the telemetry topics.
type frameSink struct {
	client publisher
	cfg    *config.Config
	sent   int64
}

func (f *frameSink) AddData(b sensor.Batch) int {
	payload, err := telemetry.EncodeFrame(b)
	if err != nil {
		log.Errorf("producer: encode frame: %v", err)
		return 0
	}
	f.client.Publish(f.cfg.TopicTelemetry, 0, false, payload)
	atomic.AddInt64(&f.sent, int64(b.TotalSamples))
	return b.TotalSamples
}

func (f *frameSink) HandleConnectionEvent(connected bool) {
	state := "disconnected"
	if connected {
		state = "connected"
	}
	f.client.Publish(f.cfg.TopicConnection, 1, true, state)
}

func (f *frameSink) HandlePowerModeChange(mode stage.PowerMode) {
	f.client.Publish(f.cfg.TopicPowerMode, 1, true, mode.String())
}

// RunTelemetryProducer reads the local IMU, or the synthetic wearable when
// mock is set, and publishes its raw samples until ctx is done.
func RunTelemetryProducer(ctx context.Context, cfg *config.Config, mock bool) error {
	log.Println("starting telemetry producer")

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDProducer).
		SetWill(cfg.TopicConnection, "disconnected", 1, true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	log.Printf("connected to MQTT broker at %s, publishing on %s", cfg.MQTTBroker, cfg.TopicTelemetry)

	sink := &frameSink{client: client, cfg: cfg}
	sink.HandlePowerModeChange(stage.PowerNormal)
	defer sink.HandleConnectionEvent(false)

	stats := time.NewTicker(10 * time.Second)
	defer stats.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-stats.C:
				log.Infof("producer: %s samples published", humanize.Comma(atomic.LoadInt64(&sink.sent)))
			}
		}
	}()

	if mock {
		gravity, err := accelGravity(cfg)
		if err != nil {
			return err
		}
		gyro, err := sensorSettings(cfg, sensor.Gyroscope)
		if err != nil {
			return err
		}
		gyroScale, err := gyro.CountsPerUnit()
		if err != nil {
			return err
		}
		src := telemetry.NewMockSource(telemetry.MockConfig{
			ODR:        1000 / float64(cfg.IMUSampleInterval),
			Gravity:    gravity,
			GyroScale:  gyroScale,
			MagField:   300,
			Noise:      2,
			AccOffset:  sensor.Vec3{120, -80, 40},
			GyroOffset: sensor.Vec3{15, -9, 4},
			MagOffset:  sensor.Vec3{40, -25, 60},
		}, sink)
		log.Println("using mock telemetry source")
		return ignoreCancel(src.Run(ctx))
	}

	src, err := telemetry.NewSPISource(telemetry.SPIConfig{
		Device:     cfg.IMUSPIDevice,
		CSPin:      cfg.IMUCSPin,
		AccelRange: cfg.IMUAccelRange,
		GyroRange:  cfg.IMUGyroRange,
		Interval:   time.Duration(cfg.IMUSampleInterval) * time.Millisecond,
	}, sink)
	if err != nil {
		return err
	}
	return ignoreCancel(src.Run(ctx))
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
