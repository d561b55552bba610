package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/chazu/dexasm/pipeline"
	"github.com/chazu/dexasm/pkg/dex"
)

var disassembleOut string

var disassembleCmd = &cobra.Command{
	Use:     "disassemble <container>",
	Aliases: []string{"d"},
	Short:   "Write one assembly file per class",
	Long: `Disassemble every class of a container into a directory tree laid out
by package. Classes that fail are logged and skipped; the exit status is
non-zero if any class failed.`,
	Args: cobra.ExactArgs(1),
	RunE: runDisassemble,
}

func init() {
	disassembleCmd.Flags().StringVarP(&disassembleOut, "output", "o", "out", "output directory")
}

func runDisassemble(cmd *cobra.Command, args []string) error {
	f, err := dex.Open(args[0])
	if err != nil {
		return err
	}
	opts := renderOptions(cmd)
	if f.Optimized() {
		log.Warningf("%s holds optimized code; use deodex to resolve it", args[0])
	}

	report, err := pipeline.Disassemble(context.Background(), f, disassembleOut, jobCount(cmd), opts, classes)
	if err != nil {
		return err
	}
	return summarize(report)
}

// summarize logs the outcome of a run and turns failures into errFailed.
func summarize(report *pipeline.Report) error {
	log.Infof("%d of %d classes succeeded", report.Succeeded(), len(report.Results))
	if !report.OK() {
		for _, name := range report.Failed() {
			log.Errorf("failed: %s", name)
		}
		return errFailed
	}
	return nil
}
