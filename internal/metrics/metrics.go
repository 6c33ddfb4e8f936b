// internal/metrics/metrics.go
package metrics

import (
	"context"
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/tamzrod/hsc-probe/internal/addrmap"
	"github.com/tamzrod/hsc-probe/internal/poller"
	pmodbus "github.com/tamzrod/hsc-probe/internal/poller/modbus"
)

const namespace = "hsc_probe"

// UnmappedLabel is the block label for addresses outside the address map.
const UnmappedLabel = "unmapped"

// Collector turns sink events into Prometheus series on its own registry.
type Collector struct {
	registry *prometheus.Registry
	known    map[string]bool

	transactions *prometheus.CounterVec
	exceptions   *prometheus.CounterVec
	currents     *prometheus.GaugeVec
	connected    prometheus.Gauge
}

// New builds a collector whose block labels are limited to the names in m.
func New(m *addrmap.Map) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		known:    make(map[string]bool),
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Modbus transactions by block and result.",
		}, []string{"block", "result"}),
		exceptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exceptions_total",
			Help:      "Modbus exception responses by block and exception code.",
		}, []string{"block", "code"}),
		currents: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_register",
			Help:      "Last raw value of each current register.",
		}, []string{"index"}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected",
			Help:      "1 while the serial line is open.",
		}),
	}

	for _, b := range m.Blocks() {
		c.known[b.Name] = true
	}
	for _, cl := range m.Coils() {
		c.known[cl.Name] = true
	}

	c.registry.MustRegister(
		c.transactions,
		c.exceptions,
		c.currents,
		c.connected,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry is the registry the collector writes to.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Observe updates the series for one event.
func (c *Collector) Observe(ev poller.Event) {
	switch ev.Op {
	case poller.OpConnect:
		if ev.Err == nil {
			c.connected.Set(1)
		}
		return
	case poller.OpDisconnect:
		c.connected.Set(0)
		return
	}

	block := ev.Block
	switch {
	case block == "":
		block = ev.Function.String()
	case !c.known[block]:
		block = UnmappedLabel
	}

	result := "ok"
	if ev.Err != nil {
		result = "error"
		if code, ok := pmodbus.ExceptionCode(ev.Err); ok {
			result = "exception"
			c.exceptions.WithLabelValues(block, fmt.Sprintf("0x%02X", code)).Inc()
		}
	}
	c.transactions.WithLabelValues(block, result).Inc()

	if ev.Err == nil && ev.Block == addrmap.BlockCurrents {
		for i, v := range ev.Registers {
			c.currents.WithLabelValues(strconv.Itoa(i)).Set(float64(v))
		}
	}
}

// Run observes events until ctx is done or the stream closes.
func (c *Collector) Run(ctx context.Context, events <-chan poller.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.Observe(ev)
		}
	}
}
