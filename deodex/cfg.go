package deodex

import (
	"sort"

	"github.com/zboralski/lattice"

	"github.com/chazu/dexasm/pkg/dex"
)

// Block is a basic block: instructions [Start, End) of the method.
type Block struct {
	ID    int
	Start int // index into Code.Insns (inclusive)
	End   int // index into Code.Insns (exclusive)
	Succs []Succ
	Term  bool // ends with return or throw
}

// Succ is a control-flow edge.
type Succ struct {
	Block int
	Cond  string // "" unconditional or fallthrough, "T" taken, "F" not taken, "case", "catch"
}

// CFG is the basic-block graph of one method body.
type CFG struct {
	Code    *dex.Code
	Blocks  []*Block
	blockOf map[int]int // instruction index of a leader -> block ID
}

// BlockAt returns the block starting at instruction index i.
func (g *CFG) BlockAt(i int) (*Block, bool) {
	id, ok := g.blockOf[i]
	if !ok {
		return nil, false
	}
	return g.Blocks[id], true
}

// blockAtAddr returns the ID of the block starting at a code address.
func (g *CFG) blockAtAddr(addr int) (int, bool) {
	i, ok := g.Code.InstructionAt(addr)
	if !ok {
		return 0, false
	}
	id, ok := g.blockOf[i]
	return id, ok
}

// branchTargets returns the code addresses an instruction may jump to,
// excluding fallthrough.
func branchTargets(code *dex.Code, in *dex.Instruction) []int {
	switch {
	case in.Op.Has(dex.FlagBranch):
		return []int{in.Target}
	case in.Op.Has(dex.FlagSwitch):
		if i, ok := code.InstructionAt(in.Target); ok {
			return code.Insns[i].Targets
		}
	}
	return nil
}

// BuildCFG partitions a method body into basic blocks:
//  1. Find leaders: the entry, branch and switch targets, instructions after
//     a transfer, try boundaries and handlers.
//  2. Partition instructions into blocks by leaders.
//  3. Compute successor edges, including an edge to each handler of every
//     try range a block lies in.
func BuildCFG(code *dex.Code) *CFG {
	g := &CFG{Code: code, blockOf: make(map[int]int)}
	insns := code.Insns
	if len(insns) == 0 {
		return g
	}

	leaders := map[int]bool{0: true}
	mark := func(addr int) {
		if i, ok := code.InstructionAt(addr); ok {
			leaders[i] = true
		}
	}
	for i := range insns {
		in := &insns[i]
		for _, t := range branchTargets(code, in) {
			mark(t)
		}
		if !in.Op.CanContinue() || in.Op.Has(dex.FlagBranch|dex.FlagSwitch) {
			if i+1 < len(insns) {
				leaders[i+1] = true
			}
		}
	}
	for _, t := range code.Tries {
		mark(t.Start)
		mark(t.End)
		for _, h := range t.Handlers {
			mark(h.Addr)
		}
	}

	sorted := make([]int, 0, len(leaders))
	for i := range leaders {
		sorted = append(sorted, i)
	}
	sort.Ints(sorted)

	for id, start := range sorted {
		end := len(insns)
		if id+1 < len(sorted) {
			end = sorted[id+1]
		}
		g.Blocks = append(g.Blocks, &Block{ID: id, Start: start, End: end})
		g.blockOf[start] = id
	}

	for _, b := range g.Blocks {
		last := &insns[b.End-1]
		next, hasNext := g.blockOf[b.End]
		switch {
		case last.Op.Format().IsPayload():
			// Data, never executed.
		case last.Op.Has(dex.FlagGoto):
			if t, ok := g.blockAtAddr(last.Target); ok {
				b.Succs = append(b.Succs, Succ{Block: t})
			}
		case last.Op.Has(dex.FlagBranch):
			if t, ok := g.blockAtAddr(last.Target); ok {
				b.Succs = append(b.Succs, Succ{Block: t, Cond: "T"})
			}
			if hasNext {
				b.Succs = append(b.Succs, Succ{Block: next, Cond: "F"})
			}
		case last.Op.Has(dex.FlagSwitch):
			for _, addr := range branchTargets(code, last) {
				if t, ok := g.blockAtAddr(addr); ok {
					b.Succs = append(b.Succs, Succ{Block: t, Cond: "case"})
				}
			}
			if hasNext {
				b.Succs = append(b.Succs, Succ{Block: next, Cond: "F"})
			}
		case last.Op.Has(dex.FlagReturn | dex.FlagThrow):
			b.Term = true
		default:
			if hasNext && !insns[b.End].Op.Format().IsPayload() {
				b.Succs = append(b.Succs, Succ{Block: next})
			}
		}

		for _, h := range g.handlers(b) {
			b.Succs = append(b.Succs, Succ{Block: h, Cond: "catch"})
		}
	}
	return g
}

// handlers returns the handler blocks of every try range covering b.
func (g *CFG) handlers(b *Block) []int {
	addr := g.Code.Insns[b.Start].Addr
	var out []int
	for _, t := range g.Code.Tries {
		if addr < t.Start || addr >= t.End {
			continue
		}
		for _, h := range t.Handlers {
			if id, ok := g.blockAtAddr(h.Addr); ok {
				out = append(out, id)
			}
		}
	}
	return out
}

// Lattice converts the graph to a lattice function CFG for rendering.
// Invokes are recorded as call sites.
func (g *CFG) Lattice(name string) *lattice.FuncCFG {
	lcfg := &lattice.FuncCFG{Name: name}
	for _, b := range g.Blocks {
		lb := &lattice.BasicBlock{
			ID:    b.ID,
			Start: b.Start,
			End:   b.End,
			Term:  b.Term,
		}
		for _, s := range b.Succs {
			lb.Succs = append(lb.Succs, lattice.Successor{BlockID: s.Block, Cond: s.Cond})
		}
		for i := b.Start; i < b.End; i++ {
			if m, ok := g.Code.Insns[i].MethodRef(); ok {
				lb.Calls = append(lb.Calls, lattice.CallSite{Offset: i, Callee: m.String()})
			}
		}
		lcfg.Blocks = append(lcfg.Blocks, lb)
	}
	return lcfg
}
