package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chazu/dexasm/pkg/dex"
)

var infoCmd = &cobra.Command{
	Use:   "info <container>",
	Short: "Display container information",
	Long:  `Display the optimized-format version and the classes of a container.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

func runInfo(cmd *cobra.Command, args []string) error {
	f, err := dex.Open(args[0])
	if err != nil {
		return err
	}

	out := os.Stdout
	fmt.Fprintf(out, "Container: %s\n", args[0])
	if f.Optimized() {
		fmt.Fprintf(out, "Odex Version: %d\n", f.OdexVersion)
	} else {
		fmt.Fprintf(out, "Odex Version: none\n")
	}
	fmt.Fprintf(out, "Classes: %d\n", f.NumClasses())

	for i := 0; i < f.NumClasses(); i++ {
		desc := f.ClassType(i)
		if desc == "" {
			fmt.Fprintf(out, "  #%d <unresolvable type>\n", i)
			continue
		}
		fmt.Fprintf(out, "  %s\n", desc)
	}
	return nil
}
