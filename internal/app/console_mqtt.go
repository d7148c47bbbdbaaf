package app

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/motion_calibration/internal/config"
	"github.com/relabs-tech/motion_calibration/internal/telemetry"
)

// RunConsoleMQTT prints device state, telemetry rates and published
// calibration results until interrupted.
func RunConsoleMQTT(cfg *config.Config) error {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDConsole)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	var total int64
	subs := []struct {
		topic   string
		handler func(payload []byte)
	}{
		{cfg.TopicConnection, func(p []byte) { fmt.Printf("[LINK] %s\n", p) }},
		{cfg.TopicPowerMode, func(p []byte) { fmt.Printf("[PWR ] %s\n", p) }},
		{cfg.TopicTelemetry, func(p []byte) {
			line, n, err := describeFrame(p, total)
			if err != nil {
				log.Printf("console: telemetry: %v", err)
				return
			}
			total += int64(n)
			if line != "" {
				fmt.Println(line)
			}
		}},
		{cfg.TopicCalibration, func(p []byte) {
			line, err := describeResult(p)
			if err != nil {
				log.Printf("console: calibration unmarshal error: %v", err)
				return
			}
			fmt.Println(line)
		}},
	}
	for _, s := range subs {
		handler := s.handler
		token := client.Subscribe(s.topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			handler(msg.Payload())
		})
		token.Wait()
		if token.Error() != nil {
			return token.Error()
		}
		log.Printf("console: subscribed to %s", s.topic)
	}

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}

// describeFrame summarizes a telemetry frame; only every 1000th sample
// produces a line.
func describeFrame(payload []byte, before int64) (string, int, error) {
	f, err := telemetry.DecodeFrame(payload)
	if err != nil {
		return "", 0, err
	}
	if !f.HasSamples() {
		return "", 0, nil
	}
	b, err := f.Batch()
	if err != nil {
		return "", 0, err
	}
	after := before + int64(b.TotalSamples)
	if after/1000 == before/1000 {
		return "", b.TotalSamples, nil
	}
	return fmt.Sprintf("[TELE] t=%.2fs odr=%.0fHz %s samples received",
		b.Timestamp, b.ODR, humanize.Comma(after)), b.TotalSamples, nil
}

func describeResult(payload []byte) (string, error) {
	var r ResultEnvelope
	if err := json.Unmarshal(payload, &r); err != nil {
		return "", err
	}
	return fmt.Sprintf("[CAL ] %s offset=[%.3f %.3f %.3f] gain diag=[%.4f %.4f %.4f] swap=%v polarity=%v at %s",
		r.Sensor, r.Offset[0], r.Offset[1], r.Offset[2],
		r.Gain[0][0], r.Gain[1][1], r.Gain[2][2], r.Axes.Swap, r.Axes.Polarity,
		humanize.Time(r.CalibratedAt)), nil
}
