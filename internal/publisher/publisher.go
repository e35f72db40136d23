// Package publisher bridges the in-process event bus to an MQTT broker so
// off-host consumers can follow device activity.
package publisher

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/palmlab/telemetry-hub/internal/events"
	"github.com/palmlab/telemetry-hub/internal/models"
	"github.com/palmlab/telemetry-hub/pkg/mqtt"
)

// EventPublisher subscribes to every bus event and republishes it as JSON on
// <topic_root>/<device_id>/<event_type>. It registers as a pooled subscriber
// so broker latency never backs up bus dispatch.
type EventPublisher struct {
	topicRoot  string
	qos        int
	mqttClient mqtt.MQTTClient
	bus        *events.Bus
	logger     zerolog.Logger

	subscriber  *events.PooledHandler
	unsubscribe func()
}

// NewEventPublisher initializes a new EventPublisher.
func NewEventPublisher(topicRoot string, qos int, mqttClient mqtt.MQTTClient, bus *events.Bus, logger zerolog.Logger) *EventPublisher {
	return &EventPublisher{
		topicRoot:  topicRoot,
		qos:        qos,
		mqttClient: mqttClient,
		bus:        bus,
		logger:     logger,
	}
}

// Start subscribes the publisher to the bus.
func (p *EventPublisher) Start() error {
	if p.subscriber != nil {
		p.logger.Warn().Msg("Event publisher is already running")
		return errors.New("event publisher is already running")
	}

	p.subscriber = events.NewPooledHandler("mqtt_publisher", p.publish)
	p.unsubscribe = p.bus.Subscribe(events.Wildcard, p.subscriber)

	p.logger.Info().Str("topic_root", p.topicRoot).Msg("Event publisher started")
	return nil
}

// Stop unsubscribes from the bus and drains the pending publish queue.
func (p *EventPublisher) Stop() error {
	if p.subscriber == nil {
		p.logger.Warn().Msg("Event publisher is not running")
		return errors.New("event publisher is not running")
	}

	p.unsubscribe()
	p.subscriber.Shutdown()
	p.subscriber = nil
	p.unsubscribe = nil

	p.logger.Info().Msg("Event publisher stopped")
	return nil
}

// publish serializes one event and sends it to the broker. Failures are
// logged and swallowed; the broker is a collaborator the core never depends
// on.
func (p *EventPublisher) publish(event models.DeviceEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error().Err(err).Str("type", event.Type).Msg("Failed to serialize event")
		return
	}

	deviceID := event.DeviceID
	if deviceID == "" {
		deviceID = "unknown"
	}
	topic := fmt.Sprintf("%s/%s/%s", p.topicRoot, deviceID, event.Type)

	token := p.mqttClient.Publish(topic, byte(p.qos), false, payload)
	token.Wait()

	if err := token.Error(); err != nil {
		p.logger.Error().Err(err).Str("topic", topic).Msg("Failed to publish event")
	} else {
		p.logger.Debug().Str("topic", topic).Msg("Event published")
	}
}
