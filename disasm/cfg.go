package disasm

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zboralski/lattice"
	"github.com/zboralski/lattice/render"

	"github.com/chazu/dexasm/deodex"
	"github.com/chazu/dexasm/pkg/dex"
)

// writeCFGs writes one DOT graph per rendered method body to
// dir/<class>/<method>.dot.
func writeCFGs(dir string, c *dex.ClassDef, bodies []methodBody) error {
	for _, b := range bodies {
		name := c.Type + "->" + b.method.Ref.Sig()
		g := &lattice.CFGGraph{Funcs: []*lattice.FuncCFG{deodex.BuildCFG(b.code).Lattice(name)}}
		dot := render.DOTCFG(g, name)

		path := cfgPath(dir, c.Type, b.method.Ref.Sig())
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("disasm: mkdir cfg: %w", err)
		}
		if err := os.WriteFile(path, []byte(dot), 0644); err != nil {
			return fmt.Errorf("disasm: write cfg %s: %w", name, err)
		}
	}
	log.Debugf("wrote %d control-flow graphs for %s", len(bodies), c.Type)
	return nil
}

// cfgPath returns the DOT file of one method.
func cfgPath(dir, class, sig string) string {
	return filepath.Join(dir, sanitizeFilename(strings.TrimSuffix(strings.TrimPrefix(class, "L"), ";")), sanitizeFilename(sig)+".dot")
}

var filenameReplacer = strings.NewReplacer(
	"/", "_",
	"\\", "_",
	":", "_",
	"*", "_",
	"?", "_",
	"\"", "_",
	"<", "_",
	">", "_",
	"|", "_",
	" ", "_",
	";", "_",
)

// sanitizeFilename makes a string safe for use as a filename.
func sanitizeFilename(name string) string {
	s := filenameReplacer.Replace(name)
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
