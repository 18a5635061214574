package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"screen-hr-sync/internal/models"
)

// Publisher handles MQTT publishing from channels
type Publisher struct {
	client mqtt.Client
	logger *zap.SugaredLogger

	// Input channel (read by publisher, written by the recording service)
	StatusChan chan models.StatusUpdate

	// Topic pattern
	statusTopic string // e.g., "recording/{device_id}/status"
}

// PublisherConfig holds configuration for MQTT publisher
type PublisherConfig struct {
	StatusTopic string // e.g., "recording/{device_id}/status"
}

// NewPublisher creates a new MQTT publisher with channels
func NewPublisher(
	client mqtt.Client,
	config PublisherConfig,
	statusChan chan models.StatusUpdate,
	logger *zap.SugaredLogger,
) *Publisher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Publisher{
		client:      client,
		logger:      logger,
		StatusChan:  statusChan,
		statusTopic: config.StatusTopic,
	}
}

// Start begins publishing status updates from the channel
// Runs until context is cancelled or channel is closed
func (p *Publisher) Start(ctx context.Context) {
	p.logger.Info("MQTT Publisher: Starting...")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("MQTT Publisher: Context cancelled, shutting down...")
			return

		case update, ok := <-p.StatusChan:
			if !ok {
				p.logger.Info("MQTT Publisher: Status channel closed, shutting down...")
				return
			}

			if err := p.publishStatus(update); err != nil {
				p.logger.Errorf("MQTT Publisher: Error publishing status: %v", err)
			}
		}
	}
}

// publishStatus publishes one session status update
func (p *Publisher) publishStatus(update models.StatusUpdate) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to marshal status update: %w", err)
	}

	topic := formatTopic(p.statusTopic, update.Device)

	// Retained so late subscribers see the current state
	token := p.client.Publish(topic, 1, true, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish status update: %w", token.Error())
	}

	p.logger.Debugf("MQTT Publisher: Published %s status for session %s to topic: %s", update.State, update.SessionID, topic)
	return nil
}

// formatTopic replaces {device_id} placeholder with actual device ID
func formatTopic(topicPattern, deviceID string) string {
	if deviceID == "" {
		deviceID = "default"
	}
	return strings.ReplaceAll(topicPattern, "{device_id}", sanitizeTopicLevel(deviceID))
}

// sanitizeTopicLevel keeps a device name from adding levels or wildcards
func sanitizeTopicLevel(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '+', '#', ' ':
			return '_'
		}
		return r
	}, s)
}
