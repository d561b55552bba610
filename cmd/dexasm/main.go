// Command dexasm disassembles, assembles and deodexes class containers.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/dexasm/disasm"
	"github.com/chazu/dexasm/manifest"
)

// errFailed reports that some classes failed after their errors were logged.
var errFailed = errors.New("one or more classes failed")

var log = commonlog.GetLogger("dexasm")

var (
	jobs        int
	classes     []string
	classpath   []string
	inlineTable string
	pkgPrivate  bool
	noParamRegs bool
	noDebugInfo bool
	codeOffsets bool
	cfgDir      string
	verbosity   int
	config      *manifest.Manifest
)

var rootCmd = &cobra.Command{
	Use:   "dexasm",
	Short: "Class container assembler and disassembler",
	Long: `dexasm converts class containers to and from a line-oriented assembly
text, one file per class, and rewrites device-optimized containers back
into their portable form.

Defaults are read from the nearest dexasm.toml; flags override them.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		config, err = manifest.FindAndLoad(wd)
		if err != nil {
			return err
		}
		if config == nil {
			config = manifest.Default()
			config.Dir = wd
		}

		v := config.Run.Verbosity
		if cmd.Flags().Changed("verbose") {
			v = verbosity
		}
		commonlog.Configure(v, nil)
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.IntVarP(&jobs, "jobs", "j", 0, "number of classes processed in parallel (default from dexasm.toml, else 1)")
	flags.StringSliceVar(&classes, "classes", nil, "only process these class descriptors")
	flags.StringSliceVarP(&classpath, "classpath", "d", nil, "classpath entries for deodexing (containers, directories or archives)")
	flags.StringVar(&inlineTable, "inline-table", "", "custom inline method table")
	flags.BoolVar(&pkgPrivate, "check-package-private-access", false, "do not let package-private methods be overridden from other packages")
	flags.BoolVar(&noParamRegs, "no-parameter-registers", false, "name every register vN")
	flags.BoolVar(&noDebugInfo, "no-debug-info", false, "omit .line, .local and .param directives")
	flags.BoolVar(&codeOffsets, "code-offsets", false, "comment each instruction with its code offset")
	flags.StringVar(&cfgDir, "cfg-dir", "", "write a DOT control-flow graph per method into this directory")
	flags.CountVarP(&verbosity, "verbose", "v", "increase log verbosity")

	rootCmd.AddCommand(disassembleCmd)
	rootCmd.AddCommand(assembleCmd)
	rootCmd.AddCommand(deodexCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(lspCmd)
}

// jobCount returns the effective number of parallel jobs.
func jobCount(cmd *cobra.Command) int {
	if cmd.Flags().Changed("jobs") && jobs > 0 {
		return jobs
	}
	return config.Run.Jobs
}

// renderOptions merges the configured renderer options with the flags.
func renderOptions(cmd *cobra.Command) disasm.Options {
	opts := config.DisasmOptions()
	flags := cmd.Flags()
	if flags.Changed("no-parameter-registers") {
		opts.ParameterRegisters = !noParamRegs
	}
	if flags.Changed("no-debug-info") {
		opts.DebugInfo = !noDebugInfo
	}
	if flags.Changed("code-offsets") {
		opts.CodeOffsets = codeOffsets
	}
	if flags.Changed("cfg-dir") {
		opts.CFGDir = cfgDir
	}
	return opts
}

// deodexClasspath returns the flag classpath, or the configured one, followed
// by the entries of every configured framework. An empty result makes the
// deodexer search the input's directory.
func deodexClasspath(cmd *cobra.Command) ([]string, error) {
	r := manifest.NewResolver(config)
	if !cmd.Flags().Changed("classpath") {
		return r.Classpath()
	}
	frameworks, err := r.Resolve()
	if err != nil {
		return nil, err
	}
	entries := append([]string(nil), classpath...)
	for _, fw := range frameworks {
		entries = append(entries, fw.Classpath...)
	}
	return entries, nil
}

// inlineTablePath returns the custom inline table, flag first.
func inlineTablePath(cmd *cobra.Command) string {
	if cmd.Flags().Changed("inline-table") {
		return inlineTable
	}
	return config.InlineTablePath()
}

// checkPackagePrivate returns the vtable layout rule, flag first.
func checkPackagePrivate(cmd *cobra.Command) bool {
	if cmd.Flags().Changed("check-package-private-access") {
		return pkgPrivate
	}
	return config.Deodex.CheckPackagePrivate
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "dexasm: %v\n", err)
		os.Exit(1)
	}
}
