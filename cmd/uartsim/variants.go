package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jangala-dev/avr-uartx/device"
)

var (
	variantsOpts = struct {
		yaml bool
	}{}

	variantsCmd = &cobra.Command{
		Use:   "variants [name...]",
		Short: "List built-in device variants",
		Long:  "List the built-in device variants, or print the named ones (or --device) as YAML suitable for --device.",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			if variantsOpts.yaml {
				if len(args) == 0 {
					v, err := loadVariant()
					if err != nil {
						return err
					}
					return printYAML(cmd, v)
				}
				for _, name := range args {
					v, err := device.Lookup(name)
					if err != nil {
						return err
					}
					if err := printYAML(cmd, v); err != nil {
						return err
					}
				}
				return nil
			}

			names := args
			if len(names) == 0 {
				names = device.Names()
			}
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "VARIANT\tCLOCK\tSRAM\tRX/TX\tMUX\tCHANNELS\tPARTS")
			for _, name := range names {
				v, err := device.Lookup(name)
				if err != nil {
					return err
				}
				rx, tx := v.BufferSizes()
				var chans []string
				for _, u := range v.Units {
					chans = append(chans, fmt.Sprintf("%s=%s(%d sets)", u.Channel, u.Name, len(u.PinSets)))
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d/%d\t%s\t%s\t%s\n", v.Name, v.Clock(), v.SRAM, rx, tx, v.Mux,
					strings.Join(chans, " "), strings.Join(v.Parts, ","))
			}
			return tw.Flush()
		},
	}
)

func init() {
	variantsCmd.Flags().BoolVar(&variantsOpts.yaml, "yaml", false, "print as YAML")
}

func printYAML(cmd *cobra.Command, v device.Variant) error {
	b, err := device.Marshal(v)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "---")
	_, err = cmd.OutOrStdout().Write(b)
	return err
}
