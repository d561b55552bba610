package main

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chazu/dexasm/pipeline"
)

var (
	assembleOut  string
	assembleOdex int
)

var assembleCmd = &cobra.Command{
	Use:     "assemble <file|dir>...",
	Aliases: []string{"a"},
	Short:   "Assemble source files into a container",
	Long: `Assemble .smali files, or every .smali file below the given directories,
into one container. Errors are reported with file and line; nothing is
written unless every file assembled.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAssemble,
}

func init() {
	assembleCmd.Flags().StringVarP(&assembleOut, "output", "o", "out.dex", "output container or archive")
	assembleCmd.Flags().IntVar(&assembleOdex, "odex-version", 0, "mark the container as optimized with this version")
}

func runAssemble(cmd *cobra.Command, args []string) error {
	files, err := pipeline.CollectSources(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		log.Warningf("no %s files found", pipeline.SourceExt)
	}

	var sink pipeline.Sink = pipeline.FileSink(assembleOut)
	switch strings.ToLower(filepath.Ext(assembleOut)) {
	case ".apk", ".zip", ".jar":
		sink = pipeline.ZipEntrySink{Archive: assembleOut, Entry: archiveEntry}
	}

	report, err := pipeline.Assemble(context.Background(), files, sink, jobCount(cmd), assembleOdex)
	if err != nil {
		return err
	}
	return summarize(report)
}
