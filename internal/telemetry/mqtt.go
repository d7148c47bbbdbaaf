package telemetry

import (
	"fmt"
	"strconv"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/motion_calibration/internal/stage"
)

// MQTTConfig names the broker and topics used by MQTTSource.
type MQTTConfig struct {
	Broker           string
	ClientID         string
	TopicTelemetry   string
	TopicConnection  string
	TopicPowerMode   string
	TopicCalibration string
}

// MQTTSource subscribes to device telemetry and publishes accepted results.
type MQTTSource struct {
	cfg    MQTTConfig
	sink   Sink
	client mqtt.Client
}

// NewMQTTSource returns an unconnected source feeding sink.
func NewMQTTSource(cfg MQTTConfig, sink Sink) *MQTTSource {
	return &MQTTSource{cfg: cfg, sink: sink}
}

// Start connects to the broker and subscribes. When telemetry arrives over
// the broker, losing it is reported to the sink as a device disconnect.
func (s *MQTTSource) Start() error {
	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.Broker).
		SetClientID(s.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warnf("telemetry: MQTT connection lost: %v", err)
			if s.cfg.TopicTelemetry != "" {
				s.sink.HandleConnectionEvent(false)
			}
		}).
		SetOnConnectHandler(func(c mqtt.Client) {
			// Subscriptions do not survive a reconnect with a clean session.
			if err := s.subscribe(c); err != nil {
				log.Errorf("telemetry: %v", err)
			}
		})

	s.client = mqtt.NewClient(opts)
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect error: %w", token.Error())
	}
	log.Infof("telemetry: connected to MQTT broker at %s", s.cfg.Broker)
	return nil
}

func (s *MQTTSource) subscribe(c mqtt.Client) error {
	subs := map[string]func([]byte){
		s.cfg.TopicTelemetry:  s.handleTelemetry,
		s.cfg.TopicConnection: s.handleConnection,
		s.cfg.TopicPowerMode:  s.handlePowerMode,
	}
	for topic, handle := range subs {
		if topic == "" {
			continue
		}
		handle := handle
		token := c.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			handle(msg.Payload())
		})
		token.Wait()
		if token.Error() != nil {
			return fmt.Errorf("subscribe %s: %w", topic, token.Error())
		}
		log.Infof("telemetry: subscribed to %s", topic)
	}
	return nil
}

func (s *MQTTSource) handleTelemetry(payload []byte) {
	f, err := DecodeFrame(payload)
	if err != nil {
		log.Warnf("telemetry: %v", err)
		return
	}
	if err := Dispatch(f, s.sink); err != nil {
		log.Warnf("telemetry: dropped frame: %v", err)
	}
}

func (s *MQTTSource) handleConnection(payload []byte) {
	connected, err := parseConnected(string(payload))
	if err != nil {
		log.Warnf("telemetry: %v", err)
		return
	}
	s.sink.HandleConnectionEvent(connected)
}

func (s *MQTTSource) handlePowerMode(payload []byte) {
	mode, err := stage.ParsePowerMode(string(payload))
	if err != nil {
		log.Warnf("telemetry: %v", err)
		return
	}
	s.sink.HandlePowerModeChange(mode)
}

func parseConnected(s string) (bool, error) {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case "connected", "up":
		return true, nil
	case "disconnected", "down":
		return false, nil
	default:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("unknown connection state %q", s)
		}
		return b, nil
	}
}

// Publish sends payload retained on the calibration topic.
func (s *MQTTSource) Publish(payload []byte) error {
	if s.client == nil || s.cfg.TopicCalibration == "" {
		return nil
	}
	if token := s.client.Publish(s.cfg.TopicCalibration, 0, true, payload); token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT publish error (%s): %w", s.cfg.TopicCalibration, token.Error())
	}
	return nil
}

// Stop disconnects from the broker.
func (s *MQTTSource) Stop() {
	if s.client != nil {
		s.client.Disconnect(250)
	}
}
