package telemetry

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pete/internal/sim"
)

type doneToken struct {
	err error
}

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeClient records publishes. Methods the publisher does not use are
// left to the embedded nil interface.
type fakeClient struct {
	pahomqtt.Client

	mu           sync.Mutex
	messages     []published
	block        chan struct{}
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, published{topic, qos, retained, payload.([]byte)})
	return doneToken{}
}

func (c *fakeClient) Disconnect(quiesce uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

func (c *fakeClient) published() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.messages...)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMQTTPublishesValveState(t *testing.T) {
	client := &fakeClient{}
	p := NewMQTTPublisher(client, "pete/devices", 1, discard())

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p.Observe(sim.Event{Type: sim.EVENT_VALVE_STATE, Tag: "YSV-001", Value: sim.StateMoving(sim.POSITION_OPEN), Time: at})
	p.Observe(sim.Event{Type: sim.EVENT_VALVE_STATE, Tag: "YSV-001", Value: sim.StateSettled(sim.POSITION_OPEN), Time: at})
	p.Observe(sim.Event{Type: sim.EVENT_TICK, Tag: "YSV-001"})
	p.Close()

	msgs := client.published()
	require.Len(t, msgs, 2)
	assert.True(t, client.disconnected)

	assert.Equal(t, "pete/devices/YSV-001/state", msgs[0].topic)
	assert.True(t, msgs[0].retained)
	assert.Equal(t, byte(1), msgs[0].qos)

	var moving, settled statePayload
	require.NoError(t, json.Unmarshal(msgs[0].payload, &moving))
	require.NoError(t, json.Unmarshal(msgs[1].payload, &settled))
	assert.Equal(t, statePayload{Tag: "YSV-001", State: "moving(open)", Time: at}, moving)
	assert.Equal(t, statePayload{Tag: "YSV-001", State: "open", Opened: true, Time: at}, settled)
}

func TestMQTTPublishesValues(t *testing.T) {
	client := &fakeClient{}
	p := NewMQTTPublisher(client, "plant", 0, discard())

	p.Observe(sim.Event{Type: sim.EVENT_SAMPLE, Kind: sim.KIND_ANALOG_TRANSMITTER, Tag: "TT-001", Value: 13500})
	p.Observe(sim.Event{Type: sim.EVENT_FOLLOW, Kind: sim.KIND_CONTROL_VALVE, Tag: "CV-001", Value: nil})
	p.Close()

	msgs := client.published()
	require.Len(t, msgs, 2)
	assert.Equal(t, "plant/TT-001/value", msgs[0].topic)
	assert.False(t, msgs[0].retained)
	assert.JSONEq(t, `{"tag":"TT-001","kind":"analog_transmitter","value":13500,"time":"0001-01-01T00:00:00Z"}`, string(msgs[0].payload))
	assert.JSONEq(t, `{"tag":"CV-001","kind":"control_valve","value":null,"time":"0001-01-01T00:00:00Z"}`, string(msgs[1].payload))
}

func TestMQTTDropsWhenQueueIsFull(t *testing.T) {
	client := &fakeClient{block: make(chan struct{})}
	p := NewMQTTPublisher(client, "pete", 0, discard())

	// one message is held by the blocked publish, the rest fill the queue
	total := MQTT_QUEUE_SIZE + 10
	start := time.Now()
	for range total {
		p.Observe(sim.Event{Type: sim.EVENT_SAMPLE, Tag: "TT-001", Value: 1})
	}
	assert.Less(t, time.Since(start), time.Second, "Observe must not block")
	assert.Positive(t, p.Dropped())

	close(client.block)
	p.Close()
	assert.Equal(t, int64(total), int64(len(client.published()))+p.Dropped())
}

type pointRecorder struct {
	points []*write.Point
}

func (r *pointRecorder) WritePoint(point *write.Point) {
	r.points = append(r.points, point)
}

func TestInfluxWritesSignals(t *testing.T) {
	rec := &pointRecorder{}
	w := NewInfluxWriter(rec)

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	w.Observe(sim.Event{Type: sim.EVENT_SAMPLE, Kind: sim.KIND_ANALOG_TRANSMITTER, Tag: "PT-002", Value: 13777, Time: at})
	w.Observe(sim.Event{Type: sim.EVENT_FOLLOW, Kind: sim.KIND_CONTROL_VALVE, Tag: "CV-001", Value: float32(12.5), Time: at})
	w.Observe(sim.Event{Type: sim.EVENT_FOLLOW, Kind: sim.KIND_CONTROL_VALVE, Tag: "CV-001", Value: nil})
	w.Observe(sim.Event{Type: sim.EVENT_VALVE_STATE, Tag: "YSV-001", Value: sim.StateSettled(sim.POSITION_OPEN)})
	w.Close()

	require.Len(t, rec.points, 2)

	p := rec.points[0]
	assert.Equal(t, MEASUREMENT_SIGNAL, p.Name())
	assert.Equal(t, at, p.Time())

	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	assert.Equal(t, map[string]string{"device": "PT-002", "kind": "analog_transmitter"}, tags)

	fields := map[string]interface{}{}
	for _, f := range rec.points[1].FieldList() {
		fields[f.Key] = f.Value
	}
	assert.Equal(t, map[string]interface{}{"value": 12.5}, fields)
}
