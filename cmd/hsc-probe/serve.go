// cmd/hsc-probe/serve.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/tamzrod/hsc-probe/internal/api"
	"github.com/tamzrod/hsc-probe/internal/config"
	"github.com/tamzrod/hsc-probe/internal/metrics"
	"github.com/tamzrod/hsc-probe/internal/poller"
	"github.com/tamzrod/hsc-probe/internal/publish"
	"github.com/tamzrod/hsc-probe/internal/status"
	"github.com/tamzrod/hsc-probe/internal/writer"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the probe with the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.loadConfig()
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
}

func serve(cfg *config.Config) error {
	e, err := newEngine(cfg)
	if err != nil {
		return err
	}

	// --------------------
	// Optional outputs
	// --------------------

	collector := metrics.New(e.m)
	e.observe(func(events <-chan poller.Event) {
		collector.Run(context.Background(), events)
	})

	var closers []func()

	if cfg.MQTT.Broker != "" {
		pub, err := publish.Dial(cfg.MQTT)
		if err != nil {
			return err
		}
		closers = append(closers, pub.Close)
		e.observe(func(events <-chan poller.Event) {
			pub.Run(context.Background(), events)
		})
	}

	var onStatus func(status.Snapshot)

	if cfg.Mirror.Endpoint != "" {
		plan, err := writer.BuildPlan(cfg.Mirror)
		if err != nil {
			return err
		}
		cli, err := writer.BuildEndpointClient(cfg.Mirror)
		if err != nil {
			return err
		}
		closers = append(closers, func() { _ = cli.Close() })

		mirror := writer.New(plan, cli)
		e.observe(func(events <-chan poller.Event) {
			mirror.Run(context.Background(), events)
		})

		// Status writer (optional)
		if sw, ok := writer.NewDeviceStatusWriter(plan, cli); ok {
			// full block write on start (identity re-assert)
			if err := sw.WriteStatus(e.tracker.Snapshot()); err != nil {
				klog.ErrorS(err, "status write failed on start")
			}
			onStatus = func(s status.Snapshot) {
				if err := sw.WriteStatus(s); err != nil {
					klog.V(2).InfoS("status write failed", "err", err)
				}
			}
		}
		klog.V(1).InfoS("mirror enabled", "endpoint", plan.Endpoint, "unit", plan.UnitID, "status", plan.Status != nil)
	}

	e.start(onStatus)

	// --------------------
	// API
	// --------------------

	srv, err := api.NewServer(api.Options{
		Scheduler: e.sched,
		Tracker:   e.tracker,
		Journal:   e.journal,
		Registry:  collector.Registry(),
		Defaults:  poller.DefaultParams(cfg),
	})
	if err != nil {
		e.stop()
		return err
	}
	exit := srv.Serve(cfg.API.Listen)

	if cfg.Serial.Port != "" {
		if conn, err := e.connect(context.Background()); err != nil {
			klog.ErrorS(err, "initial connect failed, waiting for API")
		} else {
			klog.V(1).InfoS("line open", "port", conn.Port, "baud", conn.BaudRate, "slave", conn.SlaveID)
		}
	}

	// Graceful shutdown
	exitCh := make(chan os.Signal, 1)
	signal.Notify(exitCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-exitCh
	klog.V(1).InfoS("shutting down", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	exit(ctx)
	e.stop()
	for _, fn := range closers {
		fn()
	}
	return nil
}
