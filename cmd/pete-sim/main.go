// pete-sim stands in for the field devices of a process plant. It browses
// the controller's OPC UA namespace, recognises analog transmitters, control
// valves and solenoid valves by their signal names, and keeps each one's
// feedback signals consistent with the controller's commands.
//
// Usage:
//
//	pete-sim [-config file] [ip]
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"pete/internal/config"
	"pete/internal/logging"
	"pete/internal/metrics"
	"pete/internal/net/plc"
	"pete/internal/sim"
	"pete/internal/telemetry"
)

// set at build time with -ldflags "-X main.version=..."
var version = "dev"

type options struct {
	configPath string
	host       string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseArgs(args []string, output io.Writer) (options, error) {
	var opts options

	fs := flag.NewFlagSet("pete-sim", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&opts.configPath, "config", os.Getenv("PETE_CONFIG"), "path to the YAML configuration file")
	fs.Usage = func() {
		fmt.Fprintln(output, "usage: pete-sim [-config file] [ip]")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return opts, err
	}

	switch fs.NArg() {
	case 0:
	case 1:
		opts.host = fs.Arg(0)
	default:
		fs.Usage()
		return opts, errors.Errorf("expected at most one controller address, got %d", fs.NArg())
	}
	return opts, nil
}

func run(ctx context.Context, args []string, output io.Writer) error {
	opts, err := parseArgs(args, output)
	if err != nil {
		return err
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		logging.Default().Error("loading configuration", "path", opts.configPath, "error", err)
		return err
	}
	if opts.host != "" {
		cfg.PLC.Endpoint = plc.EndpointFromHost(opts.host)
	}

	log := logging.New(cfg.Logging, version)
	log.Info("starting pete-sim", "store", cfg.Store.Mode, "endpoint", cfg.PLC.Endpoint)

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	registry := prometheus.NewRegistry()
	observers, promMetrics, closeObservers, err := openObservers(cfg, registry, log)
	if err != nil {
		return err
	}
	defer closeObservers()

	env := &sim.Env{
		Store:    store,
		Config:   cfg.SimConfig(),
		Observer: observers,
		Logger:   log.Component("sim"),
	}

	inventory, err := sim.NewDiscovery(env, sim.DefaultRules(env.Config)).Run(ctx)
	if err != nil {
		return err
	}
	if promMetrics != nil {
		promMetrics.SetInventory(inventory)
	}
	if len(inventory.Devices) == 0 {
		log.Warn("no devices discovered, nothing to simulate")
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Enabled {
		g.Go(func() error {
			log.Info("serving metrics", "address", cfg.Metrics.Address)
			return metrics.Serve(gctx, cfg.Metrics.Address, registry)
		})
	}
	g.Go(func() error {
		return sim.NewScheduler(env, inventory.Devices).Run(gctx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("pete-sim stopped")
	return nil
}

// openStore connects to the controller, or seeds an in-memory namespace in
// memory mode. Failing to connect is fatal.
func openStore(ctx context.Context, cfg *config.Config, log *logging.Logger) (plc.NodeStore, func(), error) {
	log = log.With("store", cfg.Store.Mode)
	if cfg.Store.Mode == config.STORE_MEMORY {
		store := plc.NewMemoryStore()
		if err := cfg.Memory.Seed(store); err != nil {
			return nil, nil, err
		}
		log.Info("using in-memory store", "nodes", len(cfg.Memory.Nodes))
		return store, func() {}, nil
	}

	if cfg.PLC.Endpoint == "" {
		return nil, nil, errors.Wrap(plc.ErrConnection, "no controller endpoint: pass an ip or set plc.endpoint")
	}

	client, err := plc.NewClient(cfg.PLC.Endpoint, cfg.PLC.Timeout, cfg.PLC.Options()...)
	if err != nil {
		return nil, nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, nil, err
	}
	log.Info("connected to controller", "endpoint", client.Endpoint())

	return client, func() {
		if err := client.Close(context.Background()); err != nil {
			log.Warn("closing controller session", "error", err)
		}
	}, nil
}

// openObservers builds the enabled event sinks. The returned close func
// must run after the device loops have stopped.
func openObservers(cfg *config.Config, reg *prometheus.Registry, log *logging.Logger) (sim.Observers, *metrics.Metrics, func(), error) {
	var (
		observers sim.Observers
		closers   []func()
		m         *metrics.Metrics
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Metrics.Enabled {
		var err error
		if m, err = metrics.New(reg); err != nil {
			return nil, nil, nil, err
		}
		observers = append(observers, m)
	}

	if cfg.MQTT.Enabled {
		publisher, err := telemetry.ConnectMQTT(cfg.MQTT, log.Component("mqtt"))
		if err != nil {
			closeAll()
			return nil, nil, nil, err
		}
		observers = append(observers, publisher)
		closers = append(closers, publisher.Close)
		log.Info("publishing device states", "broker", cfg.MQTT.Broker, "prefix", cfg.MQTT.TopicPrefix)
	}

	if cfg.InfluxDB.Enabled {
		writer, err := telemetry.ConnectInflux(cfg.InfluxDB, log.Component("influxdb"))
		if err != nil {
			closeAll()
			return nil, nil, nil, err
		}
		observers = append(observers, writer)
		closers = append(closers, writer.Close)
		log.Info("writing device signals", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	return observers, m, closeAll, nil
}
