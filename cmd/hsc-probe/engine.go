// cmd/hsc-probe/engine.go
package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/tamzrod/hsc-probe/internal/addrmap"
	"github.com/tamzrod/hsc-probe/internal/config"
	"github.com/tamzrod/hsc-probe/internal/poller"
	pmodbus "github.com/tamzrod/hsc-probe/internal/poller/modbus"
	"github.com/tamzrod/hsc-probe/internal/simulator"
	"github.com/tamzrod/hsc-probe/internal/sink"
	"github.com/tamzrod/hsc-probe/internal/status"
	"github.com/tamzrod/hsc-probe/internal/writer"
)

const connectTimeout = 5 * time.Second

// loadConfig reads the config file and applies the command line overrides.
func (o *options) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}

	if o.simulate {
		cfg.Serial.Port = cfg.Simulator.PortName
	}
	if o.port != "" {
		cfg.Serial.Port = o.port
	}
	if o.baud != 0 {
		cfg.Serial.BaudRate = o.baud
	}
	if o.slave != 0 {
		cfg.Serial.SlaveID = o.slave
	}

	// overrides go through the same checks as the file
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// engine is the scheduler plus the observers every command runs.
type engine struct {
	cfg *config.Config
	m   *addrmap.Map

	hub     *sink.Hub
	sched   *poller.Scheduler
	sim     *simulator.Device
	journal *writer.Journal
	tracker *status.Tracker

	cancel    context.CancelFunc
	schedDone chan struct{}
	subs      []*sink.Subscription
	wg        sync.WaitGroup
}

func newEngine(cfg *config.Config) (*engine, error) {
	m := addrmap.Default()

	sim := simulator.New(byte(cfg.Serial.SlaveID), m)
	sim.SetLatency(time.Duration(cfg.Simulator.LatencyMs) * time.Millisecond)

	hub := sink.NewHub()
	sched, err := poller.Build(cfg, m, hub, pmodbus.WithDialer(cfg.Simulator.PortName, sim.Dial))
	if err != nil {
		return nil, err
	}

	return &engine{
		cfg:       cfg,
		m:         m,
		hub:       hub,
		sched:     sched,
		sim:       sim,
		journal:   writer.NewJournal(cfg.Journal.MaxRows),
		tracker:   status.NewTracker(0),
		schedDone: make(chan struct{}),
	}, nil
}

// observe runs fn on its own subscription until the engine stops.
func (e *engine) observe(fn func(events <-chan poller.Event)) {
	sub := e.hub.Subscribe(0)
	e.subs = append(e.subs, sub)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn(sub.C())
	}()
}

// start launches the I/O context with the journal and the tracker attached.
// onStatus, if set, receives every health change.
func (e *engine) start(onStatus func(status.Snapshot)) {
	e.observe(func(events <-chan poller.Event) {
		e.journal.Run(context.Background(), events, func(r writer.Row) {
			klog.V(4).InfoS("journal", "line", r.Line())
		})
	})
	e.observe(func(events <-chan poller.Event) {
		e.tracker.Run(context.Background(), events, onStatus)
	})

	e.tracker.WatchPolling(e.sched.Polling)

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	go func() {
		defer close(e.schedDone)
		e.sched.Run(ctx)
	}()
}

// connect opens the configured line.
func (e *engine) connect(ctx context.Context) (pmodbus.Connection, error) {
	p := poller.DefaultParams(e.cfg)
	if p.Port == "" {
		return pmodbus.Connection{}, errors.New("no serial port configured (use --port or --simulate)")
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	conn, err := e.sched.Connect(ctx, p)
	if err != nil {
		return conn, fmt.Errorf("connect %s: %w", p.Port, err)
	}
	return conn, nil
}

// stop shuts the scheduler down, lets the observers drain and saves the
// journal if configured.
func (e *engine) stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.schedDone
	}

	for _, sub := range e.subs {
		sub.Close()
	}
	e.wg.Wait()

	if e.hub.Dropped() > 0 {
		klog.InfoS("events dropped by slow observers", "dropped", e.hub.Dropped())
	}

	if path := e.cfg.Journal.CSVPath; path != "" {
		if err := e.journal.SaveCSV(path); err != nil {
			klog.ErrorS(err, "journal export failed", "path", path)
			return
		}
		klog.V(1).InfoS("journal exported", "path", path, "rows", e.journal.Len())
	}
}
