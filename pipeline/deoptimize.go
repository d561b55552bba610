package pipeline

import (
	"context"
	"fmt"

	"github.com/chazu/dexasm/compiler"
	"github.com/chazu/dexasm/deodex"
	"github.com/chazu/dexasm/disasm"
	"github.com/chazu/dexasm/pkg/dex"
)

// Deoptimize rewrites the selected classes into one portable container.
// Each class is rendered to text with its optimized instructions resolved,
// parsed back and encoded into a shared builder. The container is written to
// sink only when every class succeeded.
func Deoptimize(ctx context.Context, f *dex.File, sink Sink, jobs int, opts disasm.Options, classes []string) (*Report, error) {
	b := dex.NewBuilder()
	targets := selectClasses(f, classes)

	units := make([]Unit, len(targets))
	for i, t := range targets {
		units[i] = Unit{
			Name: t.name(),
			Run: func(ctx context.Context) (bool, error) {
				c, ok := t.class(f)
				if !ok {
					return false, nil
				}
				text, err := disasm.Render(c, opts)
				if err != nil {
					log.Errorf("%s: %v", c.Type, err)
					return false, nil
				}
				if errs := compiler.Assemble(string(text), b); len(errs) > 0 {
					for _, e := range errs {
						log.Errorf("%s: %s", c.Type, e)
					}
					return false, nil
				}
				return true, nil
			},
		}
	}

	log.Infof("deoptimizing %d classes with %d jobs", len(units), jobs)
	report, err := RunAll(ctx, units, jobs)
	if err != nil {
		return report, err
	}
	if !report.OK() {
		log.Errorf("%d classes failed, container not written", len(report.Failed()))
		return report, nil
	}
	data, err := b.Bytes()
	if err != nil {
		return report, fmt.Errorf("pipeline: %w", err)
	}
	if err := sink.Write(data); err != nil {
		return report, err
	}
	log.Infof("wrote container with %d classes", b.Len())
	return report, nil
}

// DeodexOptions configures NewDeodexer.
type DeodexOptions struct {
	Classpath []string
	// InputDir is searched as the classpath when Classpath is empty.
	InputDir string
	// InlineTable is a custom inline method table. Empty selects the
	// built-in table for the container's odex version.
	InlineTable string
	// CheckPackagePrivate lays out vtables so that package-private methods
	// are not overridden across packages.
	CheckPackagePrivate bool
}

// NewDeodexer prepares a resolver for the optimized classes of f. The
// container itself is searched before the classpath entries.
func NewDeodexer(f *dex.File, opts DeodexOptions) (*deodex.Resolver, error) {
	entries := opts.Classpath
	if len(entries) == 0 && opts.InputDir != "" {
		log.Infof("no classpath configured, searching %s", opts.InputDir)
		entries = []string{opts.InputDir}
	}
	cp, err := deodex.OpenClassPath(entries, f)
	if err != nil {
		return nil, err
	}
	cp.CheckPackagePrivate = opts.CheckPackagePrivate
	r := &deodex.Resolver{ClassPath: cp}
	if opts.InlineTable != "" {
		r.Inline, err = deodex.LoadInlineTable(opts.InlineTable, cp)
		if err != nil {
			return nil, err
		}
	} else {
		r.Inline = deodex.BuiltinInlineTable(f.OdexVersion)
		if r.Inline == nil && f.Optimized() {
			log.Warningf("no built-in inline table for odex version %d", f.OdexVersion)
		}
	}
	return r, nil
}
