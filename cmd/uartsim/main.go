// Command uartsim drives uartx channels on a simulated tinyAVR: self tests,
// cross-wired integrity runs, register dumps and a bridge to a host serial
// port.
package main

import (
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jangala-dev/avr-uartx/device"
)

var (
	globalOpts = struct {
		variant string
		device  string
		baud    uint32
		tick    time.Duration
	}{}

	rootCmd = &cobra.Command{
		Use:           "uartsim",
		Short:         "Exercise uartx channels on a simulated tinyAVR",
		Long:          "Run the uartx driver against a simulated tinyAVR/megaAVR-0 USART: self tests, integrity runs, register dumps and a host serial bridge.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&globalOpts.variant, "variant", device.Default, "built-in variant or part name (see 'uartsim variants')")
	pf.StringVar(&globalOpts.device, "device", "", "YAML variant description; overrides --variant")
	pf.Uint32Var(&globalOpts.baud, "baud", 115200, "baud rate")
	pf.DurationVar(&globalOpts.tick, "tick", 50*time.Microsecond, "simulated character time")

	rootCmd.AddCommand(variantsCmd, selftestCmd, integrityCmd, dualCmd, regdumpCmd, bridgeCmd)
}

func main() {
	log.SetFlags(0)
	log.SetPrefix("uartsim: ")
	if err := rootCmd.Execute(); err != nil {
		log.Println(err)
		os.Exit(1)
	}
}
