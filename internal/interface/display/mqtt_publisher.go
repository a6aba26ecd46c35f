package display

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"patient-call-service/internal/domain/entity"
	"patient-call-service/internal/domain/repository"
	"patient-call-service/pkg/logger"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig holds the broker settings of the display channel
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
}

// MQTTDisplayPublisher sends announcements to the displays over MQTT.
// Each stage gets its own subtopic so a display can follow one room group.
type MQTTDisplayPublisher struct {
	client mqtt.Client
	topic  string
	unit   string
	logger logger.Logger
}

// NewMQTTDisplayPublisher connects to the broker
func NewMQTTDisplayPublisher(cfg MQTTConfig, unit string, logger logger.Logger) (*MQTTDisplayPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", "error", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	logger.Info("Connected to MQTT broker", "broker", cfg.Broker, "topic", cfg.Topic)
	return &MQTTDisplayPublisher{
		client: client,
		topic:  cfg.Topic,
		unit:   unit,
		logger: logger,
	}, nil
}

var _ repository.DisplayPublisher = (*MQTTDisplayPublisher)(nil)

// Topic returns where announcements of stage are published
func (p *MQTTDisplayPublisher) Topic(stage entity.Stage) string {
	return fmt.Sprintf("%s/%s/%s", p.topic, p.unit, stage)
}

// Publish sends one announcement with QoS 1
func (p *MQTTDisplayPublisher) Publish(ctx context.Context, result entity.AnnouncementResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal announcement: %w", err)
	}

	topic := p.Topic(result.Stage)
	token := p.client.Publish(topic, 1, false, payload)

	wait := 5 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		wait = time.Until(deadline)
	}
	if !token.WaitTimeout(wait) {
		return fmt.Errorf("timed out publishing to topic %s", topic)
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}
	return nil
}

// Close disconnects from the broker
func (p *MQTTDisplayPublisher) Close() {
	p.client.Disconnect(250)
}
