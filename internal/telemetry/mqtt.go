// Package telemetry mirrors simulated device activity to external systems.
// Every publisher here is a sim.Observer and never blocks a device loop.
package telemetry

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"

	"pete/internal/config"
	"pete/internal/net/plc"
	"pete/internal/sim"
)

const (
	MQTT_CONNECT_TIMEOUT = 10 * time.Second
	MQTT_PUBLISH_TIMEOUT = 5 * time.Second
	MQTT_QUIESCE_MS      = 250
	MQTT_QUEUE_SIZE      = 256

	TOPIC_STATE = "state"
	TOPIC_VALUE = "value"
)

var ErrMQTTConnection = errors.New("telemetry: mqtt connection failed")

type statePayload struct {
	Tag    string    `json:"tag"`
	State  string    `json:"state"`
	Opened bool      `json:"opened"`
	Closed bool      `json:"closed"`
	Time   time.Time `json:"time"`
}

type valuePayload struct {
	Tag   string    `json:"tag"`
	Kind  string    `json:"kind"`
	Value any       `json:"value"`
	Time  time.Time `json:"time"`
}

type message struct {
	topic    string
	payload  []byte
	retained bool
}

// MQTTPublisher publishes valve states (retained) to <prefix>/<tag>/state
// and signal values to <prefix>/<tag>/value. Messages go through a bounded
// queue drained by one goroutine; when the queue is full they are dropped.
type MQTTPublisher struct {
	client pahomqtt.Client
	prefix string
	qos    byte
	logger *slog.Logger

	queue   chan message
	done    chan struct{}
	dropped atomic.Int64

	closeOnce sync.Once
}

// ConnectMQTT dials the broker described by cfg.
func ConnectMQTT(cfg config.MQTTConfig, logger *slog.Logger) (*MQTTPublisher, error) {
	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectTimeout(MQTT_CONNECT_TIMEOUT)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(MQTT_CONNECT_TIMEOUT) {
		return nil, errors.Wrapf(ErrMQTTConnection, "[telemetry.ConnectMQTT] %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, errors.Wrapf(ErrMQTTConnection, "[telemetry.ConnectMQTT] %s: %v", cfg.Broker, err)
	}

	return NewMQTTPublisher(client, cfg.TopicPrefix, cfg.QoS, logger), nil
}

// NewMQTTPublisher starts publishing through an already connected client.
func NewMQTTPublisher(client pahomqtt.Client, prefix string, qos byte, logger *slog.Logger) *MQTTPublisher {
	if logger == nil {
		logger = slog.Default()
	}

	p := &MQTTPublisher{
		client: client,
		prefix: prefix,
		qos:    qos,
		logger: logger,
		queue:  make(chan message, MQTT_QUEUE_SIZE),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *MQTTPublisher) Observe(ev sim.Event) {
	var (
		msg message
		err error
	)

	switch ev.Type {
	case sim.EVENT_VALVE_STATE:
		state, ok := ev.Value.(sim.ValveState)
		if !ok {
			return
		}
		opened, closed := state.Feedback()
		msg.topic = p.topic(ev.Tag, TOPIC_STATE)
		msg.retained = true
		msg.payload, err = json.Marshal(statePayload{
			Tag: ev.Tag, State: state.String(), Opened: opened, Closed: closed, Time: ev.Time,
		})

	case sim.EVENT_SAMPLE, sim.EVENT_FOLLOW:
		value := ev.Value
		if f, ok := plc.AsFloat(value); ok {
			value = f
		}
		msg.topic = p.topic(ev.Tag, TOPIC_VALUE)
		msg.payload, err = json.Marshal(valuePayload{
			Tag: ev.Tag, Kind: ev.Kind.String(), Value: value, Time: ev.Time,
		})

	default:
		return
	}

	if err != nil {
		p.logger.Warn("mqtt payload encoding failed", "tag", ev.Tag, "error", err)
		return
	}

	select {
	case p.queue <- msg:
	default:
		p.dropped.Add(1)
	}
}

func (p *MQTTPublisher) topic(tag, leaf string) string {
	return p.prefix + "/" + tag + "/" + leaf
}

func (p *MQTTPublisher) run() {
	defer close(p.done)

	for msg := range p.queue {
		token := p.client.Publish(msg.topic, p.qos, msg.retained, msg.payload)
		if !token.WaitTimeout(MQTT_PUBLISH_TIMEOUT) {
			p.logger.Warn("mqtt publish timed out", "topic", msg.topic)
			continue
		}
		if err := token.Error(); err != nil {
			p.logger.Warn("mqtt publish failed", "topic", msg.topic, "error", err)
		}
	}
}

// Dropped is the number of messages discarded because the queue was full.
func (p *MQTTPublisher) Dropped() int64 {
	return p.dropped.Load()
}

// Close publishes what is queued and disconnects. Observe must not be
// called after Close.
func (p *MQTTPublisher) Close() {
	p.closeOnce.Do(func() {
		close(p.queue)
		<-p.done
		p.client.Disconnect(MQTT_QUIESCE_MS)
	})
}

var _ sim.Observer = (*MQTTPublisher)(nil)
