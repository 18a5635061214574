package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"screen-hr-sync/internal/models"
)

// SourceName tags heart-rate samples received over MQTT
const SourceName = "mqtt"

// Subscriber handles MQTT subscriptions and writes messages to channels
type Subscriber struct {
	client mqtt.Client
	logger *zap.SugaredLogger
	clock  func() time.Time

	// Output channels (written by subscriber, read by services)
	HeartRateChan chan models.HeartRateEvent
	ControlChan   chan models.ControlCommand

	// Topic patterns
	heartRateTopic string
	controlTopic   string

	sendTimeout time.Duration
}

// SubscriberConfig holds configuration for MQTT subscriber
type SubscriberConfig struct {
	HeartRateTopic string // e.g., "sensor/+/heartrate"
	ControlTopic   string // e.g., "recording/control"
}

// NewSubscriber creates a new MQTT subscriber with channels.
// clock stamps each heart-rate sample at receipt and must be the clock the
// recording sessions use.
func NewSubscriber(
	client mqtt.Client,
	config SubscriberConfig,
	heartRateChan chan models.HeartRateEvent,
	controlChan chan models.ControlCommand,
	clock func() time.Time,
	logger *zap.SugaredLogger,
) *Subscriber {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Subscriber{
		client:         client,
		logger:         logger,
		clock:          clock,
		HeartRateChan:  heartRateChan,
		ControlChan:    controlChan,
		heartRateTopic: config.HeartRateTopic,
		controlTopic:   config.ControlTopic,
		sendTimeout:    time.Second,
	}
}

// SubscribeAll subscribes to all configured topics
func (s *Subscriber) SubscribeAll() error {
	if s.heartRateTopic != "" {
		if err := s.subscribeToTopic(s.heartRateTopic, s.handleHeartRate); err != nil {
			return fmt.Errorf("failed to subscribe to heart-rate topic: %w", err)
		}
		s.logger.Infof("MQTT Subscriber: Subscribed to heart-rate topic: %s", s.heartRateTopic)
	}

	if s.controlTopic != "" {
		if err := s.subscribeToTopic(s.controlTopic, s.handleControl); err != nil {
			return fmt.Errorf("failed to subscribe to control topic: %w", err)
		}
		s.logger.Infof("MQTT Subscriber: Subscribed to control topic: %s", s.controlTopic)
	}

	return nil
}

func (s *Subscriber) subscribeToTopic(topic string, handler mqtt.MessageHandler) error {
	token := s.client.Subscribe(topic, 1, handler)
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

// handleHeartRate stamps the sample on receipt and writes it to the channel
func (s *Subscriber) handleHeartRate(_ mqtt.Client, msg mqtt.Message) {
	at := s.clock()

	event, err := parseHeartRate(msg.Topic(), msg.Payload(), at)
	if err != nil {
		s.logger.Warnf("MQTT Subscriber: Error parsing heart rate on %s: %v", msg.Topic(), err)
		return
	}

	s.logger.Debugf("MQTT Subscriber: Received heart rate from %s: %.0f bpm", event.DeviceName, event.HeartRate)

	select {
	case s.HeartRateChan <- event:
	case <-time.After(s.sendTimeout):
		s.logger.Warnf("MQTT Subscriber: Heart-rate channel full, dropping sample from %s", event.DeviceName)
	}
}

// handleControl forwards recording commands
func (s *Subscriber) handleControl(_ mqtt.Client, msg mqtt.Message) {
	cmd, err := parseControl(msg.Topic(), msg.Payload())
	if err != nil {
		s.logger.Warnf("MQTT Subscriber: Error parsing control command: %v", err)
		return
	}

	s.logger.Infof("MQTT Subscriber: Received %s command for %q", cmd.Command, cmd.Device)

	select {
	case s.ControlChan <- cmd:
	case <-time.After(s.sendTimeout):
		s.logger.Warnf("MQTT Subscriber: Control channel full, dropping %s command", cmd.Command)
	}
}

// parseHeartRate accepts either {"devName": ..., "heartRate": ...} or a bare
// number. The device falls back to the topic segment when the payload omits it.
func parseHeartRate(topic string, payload []byte, at time.Time) (models.HeartRateEvent, error) {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" {
		return models.HeartRateEvent{}, errors.New("empty payload")
	}

	var p models.HeartRatePayload
	if strings.HasPrefix(trimmed, "{") {
		if err := json.Unmarshal([]byte(trimmed), &p); err != nil {
			return models.HeartRateEvent{}, fmt.Errorf("invalid JSON: %w", err)
		}
	} else {
		v, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return models.HeartRateEvent{}, fmt.Errorf("invalid value %q", trimmed)
		}
		p.HeartRate = v
	}

	if math.IsNaN(p.HeartRate) || math.IsInf(p.HeartRate, 0) || p.HeartRate < 0 {
		return models.HeartRateEvent{}, fmt.Errorf("invalid heart rate %v", p.HeartRate)
	}

	if p.DeviceName == "" {
		p.DeviceName = extractDeviceID(topic)
	}
	if p.DeviceName == "" {
		return models.HeartRateEvent{}, fmt.Errorf("no device in payload or topic %s", topic)
	}

	return models.HeartRateEvent{DeviceName: p.DeviceName, HeartRate: p.HeartRate, ArrivedAt: at, Source: SourceName}, nil
}

// parseControl accepts {"command": ..., "device": ...} or a bare command word
func parseControl(topic string, payload []byte) (models.ControlCommand, error) {
	trimmed := strings.TrimSpace(string(payload))

	var cmd models.ControlCommand
	if strings.HasPrefix(trimmed, "{") {
		if err := json.Unmarshal([]byte(trimmed), &cmd); err != nil {
			return models.ControlCommand{}, fmt.Errorf("invalid JSON: %w", err)
		}
	} else {
		cmd.Command = trimmed
	}

	cmd.Command = strings.ToLower(strings.TrimSpace(cmd.Command))
	if cmd.Command == "" {
		return models.ControlCommand{}, fmt.Errorf("missing command on %s", topic)
	}
	return cmd, nil
}

// extractDeviceID extracts device ID from MQTT topic
// Example: "sensor/polar-h10/heartrate" -> "polar-h10"
func extractDeviceID(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 3 {
		return parts[1]
	}
	return ""
}
