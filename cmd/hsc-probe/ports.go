// cmd/hsc-probe/ports.go
package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.bug.st/serial"
)

func newPortsCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.loadConfig()
			if err != nil {
				return err
			}

			ports, err := serial.GetPortsList()
			if err != nil {
				return fmt.Errorf("list serial ports: %w", err)
			}
			for _, p := range ports {
				fmt.Println(p)
			}
			fmt.Printf("%s (simulator)\n", cfg.Simulator.PortName)
			return nil
		},
	}
}
