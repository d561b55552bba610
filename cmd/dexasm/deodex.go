package main

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chazu/dexasm/pipeline"
	"github.com/chazu/dexasm/pkg/dex"
)

var deodexOut string

var deodexCmd = &cobra.Command{
	Use:   "deodex <container>",
	Short: "Rewrite optimized code into portable instructions",
	Long: `Resolve the optimized instructions of a container against the classpath.

The output kind follows the -o path:
  *.dex                    a portable container
  *.apk, *.zip, *.jar      the classes.dex entry of the archive is replaced
  anything else            a directory of assembly files

A container or archive is only written when every class succeeded.`,
	Args: cobra.ExactArgs(1),
	RunE: runDeodex,
}

func init() {
	deodexCmd.Flags().StringVarP(&deodexOut, "output", "o", "out", "output directory, container or archive")
}

// archiveEntry is the container entry replaced inside an output archive.
const archiveEntry = "classes.dex"

func runDeodex(cmd *cobra.Command, args []string) error {
	f, err := dex.Open(args[0])
	if err != nil {
		return err
	}
	if !f.Optimized() {
		log.Infof("%s holds no optimized code", args[0])
	}

	cp, err := deodexClasspath(cmd)
	if err != nil {
		return err
	}
	resolver, err := pipeline.NewDeodexer(f, pipeline.DeodexOptions{
		Classpath:           cp,
		InputDir:            filepath.Dir(args[0]),
		InlineTable:         inlineTablePath(cmd),
		CheckPackagePrivate: checkPackagePrivate(cmd),
	})
	if err != nil {
		return err
	}
	opts := renderOptions(cmd)
	opts.Deodexer = resolver

	var sink pipeline.Sink
	switch strings.ToLower(filepath.Ext(deodexOut)) {
	case ".dex":
		sink = pipeline.FileSink(deodexOut)
	case ".apk", ".zip", ".jar":
		sink = pipeline.ZipEntrySink{Archive: deodexOut, Entry: archiveEntry}
	}

	ctx := context.Background()
	var report *pipeline.Report
	if sink == nil {
		report, err = pipeline.Disassemble(ctx, f, deodexOut, jobCount(cmd), opts, classes)
	} else {
		report, err = pipeline.Deoptimize(ctx, f, sink, jobCount(cmd), opts, classes)
	}
	if err != nil {
		return err
	}
	return summarize(report)
}
