// internal/poller/builder_test.go
package poller

import (
	"testing"
	"time"

	"github.com/tamzrod/hsc-probe/internal/addrmap"
	cfg "github.com/tamzrod/hsc-probe/internal/config"
)

func TestBuild_UsesConfig(t *testing.T) {
	c := &cfg.Config{
		Serial: cfg.SerialConfig{Port: "COM4", BaudRate: 19200, SlaveID: 5},
		Poll:   cfg.PollConfig{Enabled: true, IntervalMs: 250},
	}
	cfg.Normalize(c)

	s, err := Build(c, addrmap.Default(), nil)
	if err != nil {
		t.Fatalf("Build() err=%v", err)
	}

	enabled, interval := s.Polling()
	if !enabled || interval != 250*time.Millisecond {
		t.Fatalf("polling = %v %v", enabled, interval)
	}
	if _, ok := s.Connection(); ok {
		t.Fatalf("Build must not open the line")
	}

	p := DefaultParams(c)
	if p.Port != "COM4" || p.BaudRate != 19200 || p.SlaveID != 5 {
		t.Fatalf("params = %+v", p)
	}
}

func TestBuild_RejectsBadInterval(t *testing.T) {
	c := &cfg.Config{Poll: cfg.PollConfig{IntervalMs: 20}}
	if _, err := Build(c, addrmap.Default(), nil); err == nil {
		t.Fatalf("expected error, got nil")
	}
	if _, err := Build(nil, addrmap.Default(), nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
}
