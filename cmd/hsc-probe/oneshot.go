// cmd/hsc-probe/oneshot.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tamzrod/hsc-probe/internal/addrmap"
	"github.com/tamzrod/hsc-probe/internal/poller"
	"github.com/tamzrod/hsc-probe/internal/sink"
	"github.com/tamzrod/hsc-probe/internal/writer"
)

// commandTimeout bounds a one-shot command once the line is open.
const commandTimeout = 10 * time.Second

// runOneShot opens the line, runs issue and prints the journal line of every
// event accepted by match until done reports true.
func runOneShot(o *options, timeout time.Duration, issue func(e *engine) (match func(poller.Event) (show, done bool), err error)) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	e, err := newEngine(cfg)
	if err != nil {
		return err
	}

	sub := e.hub.Subscribe(0)
	defer sub.Close()

	e.start(nil)
	defer e.stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := e.connect(ctx)
	if err != nil {
		return err
	}
	fmt.Println(writer.RowFor(poller.Event{Op: poller.OpConnect, Port: conn.Port, BaudRate: conn.BaudRate, At: conn.OpenedAt}).Line())

	match, err := issue(e)
	if err != nil {
		return err
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return await(ctx, sub, match)
}

func await(ctx context.Context, sub *sink.Subscription, match func(poller.Event) (bool, bool)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.C():
			if !ok {
				return errors.New("event stream closed")
			}
			show, done := match(ev)
			if show {
				fmt.Println(writer.RowFor(ev).Line())
			}
			if done {
				return nil
			}
		}
	}
}

// byID matches the events of one transaction; the last one is the one
// carrying lastFC, or any failure.
func byID(id string, lastFC addrmap.Function) func(poller.Event) (bool, bool) {
	return func(ev poller.Event) (bool, bool) {
		if ev.ID != id {
			return false, false
		}
		return true, ev.Err != nil || ev.Function == lastFC
	}
}

func newReadCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "read <block>",
		Short: "Read one block once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOneShot(o, commandTimeout, func(e *engine) (func(poller.Event) (bool, bool), error) {
				b, err := e.m.Block(args[0])
				if err != nil {
					return nil, err
				}
				id, err := e.sched.ReadBlock(b.Name)
				if err != nil {
					return nil, err
				}
				return byID(id, b.Function), nil
			})
		},
	}
}

func newWriteCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "write <coil> [on|off]",
		Short: "Write one coil (name, address or 1xNNNN)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value := true
			if len(args) == 2 {
				v, err := parseOnOff(args[1])
				if err != nil {
					return err
				}
				value = v
			}
			return runOneShot(o, commandTimeout, func(e *engine) (func(poller.Event) (bool, bool), error) {
				id, err := e.sched.WriteCoil(args[0], value)
				if err != nil {
					return nil, err
				}
				return byID(id, addrmap.WriteSingleCoil), nil
			})
		},
	}
}

func newToggleCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <index>",
		Short: "Toggle one MAIN board output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("%w: %q", poller.ErrOutputRange, args[0])
			}
			return runOneShot(o, commandTimeout, func(e *engine) (func(poller.Event) (bool, bool), error) {
				id, err := e.sched.ToggleOutput(index)
				if err != nil {
					return nil, err
				}
				return byID(id, addrmap.WriteMultipleCoils), nil
			})
		},
	}
}

func newPollCmd(o *options) *cobra.Command {
	var cycles int

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Run poll cycles and print every transaction",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cycles < 0 {
				return errors.New("--cycles must be >= 0")
			}
			// 0 cycles: until interrupted
			return runOneShot(o, 0, func(e *engine) (func(poller.Event) (bool, bool), error) {
				perCycle := len(e.m.PollCycle())
				seen := 0

				if err := e.sched.SetPolling(true, 0); err != nil {
					return nil, err
				}
				return func(ev poller.Event) (bool, bool) {
					if ev.Source != poller.SourcePoll {
						return false, false
					}
					if cycles > 0 && ev.Cycle > uint64(cycles) {
						return false, true
					}
					seen++
					return true, cycles > 0 && seen >= cycles*perCycle
				}, nil
			})
		},
	}
	cmd.Flags().IntVar(&cycles, "cycles", 1, "number of poll cycles, 0 runs until interrupted")
	return cmd
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "1", "true":
		return true, nil
	case "off", "0", "false":
		return false, nil
	}
	return false, fmt.Errorf("invalid coil value %q (want on|off)", s)
}
