package telemetry

import (
	"context"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/pkg/errors"

	"pete/internal/config"
	"pete/internal/net/plc"
	"pete/internal/sim"
)

const (
	INFLUX_PING_TIMEOUT = 5 * time.Second
	MEASUREMENT_SIGNAL  = "device_signal"
)

var ErrInfluxConnection = errors.New("telemetry: influxdb connection failed")

// PointWriter is the part of the InfluxDB non-blocking write API the
// writer needs.
type PointWriter interface {
	WritePoint(point *write.Point)
}

// InfluxWriter records analog samples and control valve values as
// device_signal points tagged with device and kind.
type InfluxWriter struct {
	writer PointWriter
	close  func()
}

// ConnectInflux creates a client, checks the server is healthy and returns
// a writer on the configured bucket. Asynchronous write errors are logged.
func ConnectInflux(cfg config.InfluxDBConfig, logger *slog.Logger) (*InfluxWriter, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := influxdb2.DefaultOptions()
	if cfg.BatchSize > 0 {
		opts.SetBatchSize(cfg.BatchSize)
	}
	if cfg.FlushInterval > 0 {
		opts.SetFlushInterval(uint(cfg.FlushInterval.Milliseconds()))
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	ctx, cancel := context.WithTimeout(context.Background(), INFLUX_PING_TIMEOUT)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, errors.Wrapf(ErrInfluxConnection, "[telemetry.ConnectInflux] %s: %v", cfg.URL, err)
	}
	if !healthy {
		client.Close()
		return nil, errors.Wrapf(ErrInfluxConnection, "[telemetry.ConnectInflux] %s: server not healthy", cfg.URL)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	go func() {
		for err := range writeAPI.Errors() {
			logger.Warn("influxdb write failed", "error", err)
		}
	}()

	return &InfluxWriter{
		writer: writeAPI,
		close: func() {
			writeAPI.Flush()
			client.Close()
		},
	}, nil
}

func NewInfluxWriter(writer PointWriter) *InfluxWriter {
	return &InfluxWriter{writer: writer}
}

func (w *InfluxWriter) Observe(ev sim.Event) {
	if ev.Type != sim.EVENT_SAMPLE && ev.Type != sim.EVENT_FOLLOW {
		return
	}

	value, ok := plc.AsFloat(ev.Value)
	if !ok {
		return
	}

	at := ev.Time
	if at.IsZero() {
		at = time.Now()
	}

	w.writer.WritePoint(write.NewPoint(
		MEASUREMENT_SIGNAL,
		map[string]string{
			"device": ev.Tag,
			"kind":   ev.Kind.String(),
		},
		map[string]interface{}{
			"value": value,
		},
		at,
	))
}

// Close flushes pending points and closes the client.
func (w *InfluxWriter) Close() {
	if w.close != nil {
		w.close()
	}
}

var _ sim.Observer = (*InfluxWriter)(nil)
