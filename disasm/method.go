package disasm

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/chazu/dexasm/pkg/dex"
)

// Label kinds, in the order labels sharing an address are written.
const (
	labelTryEnd = iota
	labelTryStart
	labelCatch
	labelCatchAll
	labelGoto
	labelCond
	labelPswitch
	labelSswitch
	labelArray
	labelPswitchData
	labelSswitchData
)

var labelPrefixes = [...]string{
	labelTryEnd:      "try_end",
	labelTryStart:    "try_start",
	labelCatch:       "catch",
	labelCatchAll:    "catchall",
	labelGoto:        "goto",
	labelCond:        "cond",
	labelPswitch:     "pswitch",
	labelSswitch:     "sswitch",
	labelArray:       "array",
	labelPswitchData: "pswitch_data",
	labelSswitchData: "sswitch_data",
}

func labelName(kind, addr int) string {
	return fmt.Sprintf("%s_%x", labelPrefixes[kind], addr)
}

// labels collects the labels of a method body by address.
type labels map[int]map[int]bool

func (l labels) add(addr, kind int) {
	if l[addr] == nil {
		l[addr] = make(map[int]bool)
	}
	l[addr][kind] = true
}

// at returns the label kinds at addr in write order.
func (l labels) at(addr int) []int {
	var kinds []int
	for k := range l[addr] {
		kinds = append(kinds, k)
	}
	sort.Ints(kinds)
	return kinds
}

func collectLabels(code *dex.Code) labels {
	l := make(labels)
	for i := range code.Insns {
		in := &code.Insns[i]
		switch {
		case in.Op.Has(dex.FlagGoto):
			l.add(in.Target, labelGoto)
		case in.Op.Has(dex.FlagBranch):
			l.add(in.Target, labelCond)
		case in.Op == dex.OpPackedSwitch, in.Op == dex.OpSparseSwitch:
			data, target := labelPswitchData, labelPswitch
			if in.Op == dex.OpSparseSwitch {
				data, target = labelSswitchData, labelSswitch
			}
			l.add(in.Target, data)
			if j, ok := code.InstructionAt(in.Target); ok {
				for _, t := range code.Insns[j].Targets {
					l.add(t, target)
				}
			}
		case in.Op == dex.OpFillArrayData:
			l.add(in.Target, labelArray)
		}
	}
	for _, t := range code.Tries {
		l.add(t.Start, labelTryStart)
		l.add(t.End, labelTryEnd)
		for _, h := range t.Handlers {
			if h.Type == "" {
				l.add(h.Addr, labelCatchAll)
			} else {
				l.add(h.Addr, labelCatch)
			}
		}
	}
	return l
}

// body writes the instructions of a method with their labels, debug
// directives and try/catch directives.
func (w *writer) body(code *dex.Code) {
	lbls := collectLabels(code)
	debug := make(map[int][]dex.DebugItem)
	if w.opts.DebugInfo {
		for _, d := range code.Debug {
			debug[d.Addr] = append(debug[d.Addr], d)
		}
	}

	// position writes everything anchored at addr before its instruction.
	position := func(addr int) {
		kinds := lbls.at(addr)
		for _, k := range kinds {
			if k != labelTryEnd {
				continue
			}
			w.line(":%s", labelName(k, addr))
			w.catches(code, addr)
		}
		for _, d := range debug[addr] {
			w.debug(code, d)
		}
		for _, k := range kinds {
			if k != labelTryEnd {
				w.line(":%s", labelName(k, addr))
			}
		}
	}

	for i := range code.Insns {
		in := &code.Insns[i]
		if isPaddingNop(code, i, lbls) {
			// The compiler re-inserts the padding. Debug items anchored
			// here move to the payload with it.
			for _, d := range debug[in.Addr] {
				w.debug(code, d)
			}
			continue
		}
		position(in.Addr)
		if w.opts.CodeOffsets {
			w.line("# 0x%04x", in.Addr)
		}
		if in.Op.Format().IsPayload() {
			w.payload(code, in)
		} else {
			w.instruction(code, in, lbls)
		}
		w.blank()
	}
	position(code.Size())
}

// isPaddingNop reports whether instruction i is the alignment nop in front
// of a payload that no label refers to.
func isPaddingNop(code *dex.Code, i int, lbls labels) bool {
	in := &code.Insns[i]
	if in.Op != dex.OpNop || in.Addr%2 == 0 || i+1 >= len(code.Insns) {
		return false
	}
	return code.Insns[i+1].Op.Format().IsPayload() && len(lbls[in.Addr]) == 0
}

// catches writes the .catch directives of the try blocks ending at addr.
func (w *writer) catches(code *dex.Code, addr int) {
	for _, t := range code.Tries {
		if t.End != addr {
			continue
		}
		span := fmt.Sprintf("{:%s .. :%s}", labelName(labelTryStart, t.Start), labelName(labelTryEnd, t.End))
		for _, h := range t.Handlers {
			if h.Type == "" {
				w.line(".catchall %s :%s", span, labelName(labelCatchAll, h.Addr))
			} else {
				w.line(".catch %s %s :%s", h.Type, span, labelName(labelCatch, h.Addr))
			}
		}
	}
}

func (w *writer) debug(code *dex.Code, d dex.DebugItem) {
	reg := regName(code, d.Register, w.opts.ParameterRegisters)
	switch d.Kind {
	case dex.DebugLine:
		w.line(".line %d", d.Line)
	case dex.DebugStartLocal:
		if d.Name == "" && d.Type == "" {
			w.line(".local %s", reg)
			return
		}
		s := fmt.Sprintf(".local %s, %s:%s", reg, dex.Quote(d.Name), d.Type)
		if d.Signature != "" {
			s += ", " + dex.Quote(d.Signature)
		}
		w.line("%s", s)
	case dex.DebugEndLocal:
		w.line(".end local %s", reg)
	case dex.DebugRestartLocal:
		w.line(".restart local %s", reg)
	case dex.DebugPrologue:
		w.line(".prologue")
	case dex.DebugEpilogue:
		w.line(".epilogue")
	}
}

// regName names a frame register, as pN when it holds a parameter and
// parameter naming is on.
func regName(code *dex.Code, r int, params bool) string {
	first := code.Registers - code.Ins
	if params && r >= first {
		return "p" + strconv.Itoa(r-first)
	}
	return "v" + strconv.Itoa(r)
}

// wideLiteral reports whether an opcode's literal is a long.
func wideLiteral(op dex.Opcode) bool {
	return op >= dex.OpConstWide16 && op <= dex.OpConstWideHigh16
}

func (w *writer) instruction(code *dex.Code, in *dex.Instruction, lbls labels) {
	reg := func(r int) string { return regName(code, r, w.opts.ParameterRegisters) }
	target := func() string {
		for _, k := range lbls.at(in.Target) {
			switch k {
			case labelGoto, labelCond:
				if (k == labelGoto) == in.Op.Has(dex.FlagGoto) {
					return ":" + labelName(k, in.Target)
				}
			case labelPswitchData, labelSswitchData, labelArray:
				if in.Op.Format() == dex.Format31t {
					return ":" + labelName(k, in.Target)
				}
			}
		}
		return fmt.Sprintf(":addr_%x", in.Target)
	}
	literal := func() string {
		if wideLiteral(in.Op) {
			return hex(in.Literal) + "L"
		}
		return hex(in.Literal)
	}

	var ops []string
	switch in.Op.Format() {
	case dex.Format10x:
	case dex.Format12x, dex.Format22x, dex.Format32x:
		ops = []string{reg(in.Regs[0]), reg(in.Regs[1])}
	case dex.Format11n, dex.Format21s, dex.Format21h, dex.Format31i, dex.Format51l:
		ops = []string{reg(in.Regs[0]), literal()}
	case dex.Format11x:
		ops = []string{reg(in.Regs[0])}
	case dex.Format10t, dex.Format20t, dex.Format30t:
		ops = []string{target()}
	case dex.Format21t, dex.Format31t:
		ops = []string{reg(in.Regs[0]), target()}
	case dex.Format22t:
		ops = []string{reg(in.Regs[0]), reg(in.Regs[1]), target()}
	case dex.Format21c, dex.Format31c:
		ops = []string{reg(in.Regs[0]), in.Ref.String()}
	case dex.Format22c:
		ops = []string{reg(in.Regs[0]), reg(in.Regs[1]), in.Ref.String()}
	case dex.Format23x:
		ops = []string{reg(in.Regs[0]), reg(in.Regs[1]), reg(in.Regs[2])}
	case dex.Format22b, dex.Format22s:
		ops = []string{reg(in.Regs[0]), reg(in.Regs[1]), hex(in.Literal)}
	case dex.Format35c:
		names := make([]string, len(in.Regs))
		for i, r := range in.Regs {
			names[i] = reg(r)
		}
		ops = []string{"{" + strings.Join(names, ", ") + "}", in.Ref.String()}
	case dex.Format3rc:
		list := "{}"
		if n := len(in.Regs); n > 0 {
			list = fmt.Sprintf("{%s .. %s}", reg(in.Regs[0]), reg(in.Regs[n-1]))
		}
		ops = []string{list, in.Ref.String()}
	default:
		// Optimized formats are resolved before rendering.
		ops = []string{fmt.Sprintf("# unresolved %s", in.Op.Format())}
	}

	if len(ops) == 0 {
		w.line("%s", in.Op)
		return
	}
	w.line("%s %s", in.Op, strings.Join(ops, ", "))
}

// payload writes a switch or array data block.
func (w *writer) payload(code *dex.Code, in *dex.Instruction) {
	switch in.Op {
	case dex.OpPackedSwitchPayload:
		w.line(".packed-switch %s", hex(int64(in.FirstKey)))
		w.indent++
		for _, t := range in.Targets {
			w.line(":%s", labelName(labelPswitch, t))
		}
		w.indent--
		w.line(".end packed-switch")
	case dex.OpSparseSwitchPayload:
		w.line(".sparse-switch")
		w.indent++
		for i, t := range in.Targets {
			w.line("%s -> :%s", hex(int64(in.Keys[i])), labelName(labelSswitch, t))
		}
		w.indent--
		w.line(".end sparse-switch")
	case dex.OpArrayPayload:
		w.line(".array-data %d", in.ElementWidth)
		w.indent++
		for i := 0; i < in.Elements(); i++ {
			w.line("%s", arrayElement(in.Data[i*in.ElementWidth:], in.ElementWidth))
		}
		w.indent--
		w.line(".end array-data")
	}
}

// arrayElement renders one little-endian element, sign-extended, with the
// suffix of its width.
func arrayElement(b []byte, width int) string {
	switch width {
	case 1:
		return hex(int64(int8(b[0]))) + "t"
	case 2:
		return hex(int64(int16(binary.LittleEndian.Uint16(b)))) + "s"
	case 4:
		return hex(int64(int32(binary.LittleEndian.Uint32(b))))
	}
	return hex(int64(binary.LittleEndian.Uint64(b))) + "L"
}
