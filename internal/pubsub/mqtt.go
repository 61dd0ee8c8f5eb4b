// Package pubsub provides implementations of status publishers.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mhvis/solar/internal/config"
	"github.com/mhvis/solar/internal/domain"
)

// NoopPublisher is a no-operation implementation of the StatusPublisher interface.
type NoopPublisher struct{}

// NewNoopPublisher creates a new no-operation publisher.
func NewNoopPublisher() *NoopPublisher {
	return &NoopPublisher{}
}

// Connect is a no-op for the NoopPublisher.
func (p *NoopPublisher) Connect(_ context.Context) error {
	return nil
}

// Publish is a no-op for the NoopPublisher.
func (p *NoopPublisher) Publish(_ context.Context, _ string, _ *domain.StatusReading) error {
	return nil
}

// Close is a no-op for the NoopPublisher.
func (p *NoopPublisher) Close() error {
	return nil
}

// MQTTPublisher publishes status readings to an MQTT broker, one topic
// per inverter serial.
type MQTTPublisher struct {
	config    *config.Config
	client    mqtt.Client
	connected bool
	logger    zerolog.Logger
}

// NewMQTTPublisher creates a new MQTT publisher.
func NewMQTTPublisher(cfg *config.Config) *MQTTPublisher {
	return &MQTTPublisher{
		config: cfg,
		logger: log.With().Str("component", "mqtt").Logger(),
	}
}

// NewMQTTPublisherWithClient creates a publisher with a custom client (for testing).
func NewMQTTPublisherWithClient(cfg *config.Config, client mqtt.Client) *MQTTPublisher {
	return &MQTTPublisher{
		config: cfg,
		client: client,
		logger: log.With().Str("component", "mqtt").Logger(),
	}
}

// createClient builds the MQTT client from the configuration.
func (p *MQTTPublisher) createClient() mqtt.Client {
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", p.config.MQTT.Host, p.config.MQTT.Port)).
		SetClientID(fmt.Sprintf("solar-%d", time.Now().Unix())).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second).
		SetWriteTimeout(5 * time.Second).
		SetKeepAlive(30 * time.Second).
		SetCleanSession(false).
		SetOnConnectHandler(func(mqtt.Client) {
			p.logger.Info().Msg("MQTT connection established")
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			p.logger.Warn().Err(err).Msg("MQTT connection lost")
		})

	if p.config.MQTT.Username != "" {
		opts.SetUsername(p.config.MQTT.Username)
		opts.SetPassword(p.config.MQTT.Password)
	}
	return mqtt.NewClient(opts)
}

// Connect establishes a connection to the MQTT broker.
func (p *MQTTPublisher) Connect(ctx context.Context) error {
	if !p.config.MQTT.Enabled {
		return nil
	}
	if p.client == nil {
		p.client = p.createClient()
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	token := p.client.Connect()
	select {
	case <-connectCtx.Done():
		return fmt.Errorf("failed to connect to MQTT broker: %w", connectCtx.Err())
	case <-token.Done():
		if token.Error() != nil {
			return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
		}
	}
	p.connected = true
	return nil
}

// Publish sends a reading as compact JSON to <prefix>/<serial>/status.
func (p *MQTTPublisher) Publish(ctx context.Context, serial string, reading *domain.StatusReading) error {
	if !p.connected {
		return nil
	}

	payload, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("marshaling reading: %w", err)
	}
	topic := fmt.Sprintf("%s/%s/status", p.config.MQTT.TopicPrefix, serial)

	token := p.client.Publish(topic, 0, p.config.MQTT.Retain, payload)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
		if token.Error() != nil {
			return fmt.Errorf("publishing to %s: %w", topic, token.Error())
		}
	}

	p.logger.Debug().Str("topic", topic).Msg("Published status reading")
	return nil
}

// Close disconnects from the MQTT broker.
func (p *MQTTPublisher) Close() error {
	if p.client != nil && p.connected {
		p.client.Disconnect(250)
		p.connected = false
	}
	return nil
}
