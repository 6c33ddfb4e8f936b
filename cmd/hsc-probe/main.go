// cmd/hsc-probe/main.go
package main

import (
	goflag "flag"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"k8s.io/klog/v2"
)

const component = "hsc-probe"

// options are the flags shared by every subcommand.
type options struct {
	configPath string
	port       string
	baud       int
	slave      int
	simulate   bool
}

func main() {
	klog.InitFlags(nil)
	defer klog.Flush()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	o := &options{}

	cmd := &cobra.Command{
		Use:          component,
		Short:        "Modbus RTU diagnostic probe for the HSC MAIN board",
		SilenceUsage: true,
	}

	o.AddFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		newServeCmd(o),
		newReadCmd(o),
		newWriteCmd(o),
		newToggleCmd(o),
		newPollCmd(o),
		newPortsCmd(o),
	)
	return cmd
}

// AddFlags adds the shared flags, klog's included, to fs.
func (o *options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&o.configPath, "config", "c", "", "path to the YAML config file")
	fs.StringVar(&o.port, "port", "", "serial port, overrides serial.port")
	fs.IntVar(&o.baud, "baud", 0, "baud rate, overrides serial.baud_rate")
	fs.IntVar(&o.slave, "slave", 0, "slave id, overrides serial.slave_id")
	fs.BoolVar(&o.simulate, "simulate", false, "talk to the built-in MAIN board simulator")
	fs.AddGoFlagSet(goflag.CommandLine)
}
