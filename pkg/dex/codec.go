package dex

import (
	"encoding/binary"
	"fmt"
	"math"
)

// indexFunc maps a symbolic reference to its pool index.
type indexFunc func(ref Reference) (int, error)

// resolveFunc maps a pool index of the given kind to its symbolic reference.
type resolveFunc func(kind RefKind, idx int) (Reference, error)

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate checks that the operands of in fit its format. Branch checks use
// in.Addr and in.Target, so addresses must already be assigned.
func Validate(in *Instruction) error {
	info, ok := opcodeInfoTable[in.Op]
	if !ok {
		return fmt.Errorf("%w: unknown opcode %#x", ErrBadInstruction, uint16(in.Op))
	}
	f := info.Format
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s: %s", ErrBadInstruction, info.Name, fmt.Sprintf(format, args...))
	}

	want := regCount(f)
	if want >= 0 && len(in.Regs) != want {
		return bad("expected %d registers, got %d", want, len(in.Regs))
	}
	for i, r := range in.Regs {
		if limit := regLimit(f, i); r < 0 || r > limit {
			return bad("register v%d does not fit in %d bits", r, bitsFor(limit))
		}
	}
	switch f {
	case Format35c, Format35ms, Format35mi:
		if len(in.Regs) > 5 {
			return bad("at most 5 registers allowed, got %d", len(in.Regs))
		}
	case Format3rc, Format3rms, Format3rmi:
		if len(in.Regs) > 255 {
			return bad("register range too long (%d)", len(in.Regs))
		}
		for i := 1; i < len(in.Regs); i++ {
			if in.Regs[i] != in.Regs[0]+i {
				return bad("registers are not a contiguous range")
			}
		}
	}

	switch f {
	case Format11n:
		return checkRange(bad, in.Literal, -8, 7)
	case Format21s, Format22s:
		return checkRange(bad, in.Literal, math.MinInt16, math.MaxInt16)
	case Format22b:
		return checkRange(bad, in.Literal, math.MinInt8, math.MaxInt8)
	case Format31i:
		return checkRange(bad, in.Literal, math.MinInt32, math.MaxInt32)
	case Format21h:
		if in.Op == OpConstHigh16 {
			if in.Literal&0xffff != 0 || in.Literal < math.MinInt32 || in.Literal > math.MaxInt32 {
				return bad("literal %#x has bits outside the high 16 of an int", in.Literal)
			}
		} else if in.Literal&0xffffffffffff != 0 {
			return bad("literal %#x has bits outside the high 16 of a long", in.Literal)
		}
	case Format10t:
		return checkBranch(bad, in, math.MinInt8, math.MaxInt8, false)
	case Format20t, Format21t, Format22t:
		return checkBranch(bad, in, math.MinInt16, math.MaxInt16, false)
	case Format30t:
		return checkBranch(bad, in, math.MinInt32, math.MaxInt32, true)
	case Format31t:
		if in.Target%2 != 0 {
			return bad("payload at %#x is not 4-byte aligned", in.Target)
		}
		return checkBranch(bad, in, math.MinInt32, math.MaxInt32, false)
	case Format21c, Format22c, Format31c, Format35c, Format3rc:
		if in.Ref == nil || in.Ref.Kind() != info.Ref {
			return bad("missing %s reference", info.Ref)
		}
		if f == Format21c && info.Ref == RefString && in.Op != OpConstString {
			return bad("unexpected string reference")
		}
	case Format22cs, Format35ms, Format35mi, Format3rms, Format3rmi:
		if in.Index < 0 || in.Index > math.MaxUint16 {
			return bad("index %d does not fit in 16 bits", in.Index)
		}
	case FormatPackedSwitchPayload:
		if len(in.Keys) != 0 {
			return bad("packed switch carries explicit keys")
		}
	case FormatSparseSwitchPayload:
		if len(in.Keys) != len(in.Targets) {
			return bad("%d keys for %d targets", len(in.Keys), len(in.Targets))
		}
		for i := 1; i < len(in.Keys); i++ {
			if in.Keys[i] <= in.Keys[i-1] {
				return bad("keys must be strictly ascending")
			}
		}
	case FormatArrayPayload:
		switch in.ElementWidth {
		case 1, 2, 4, 8:
		default:
			return bad("invalid element width %d", in.ElementWidth)
		}
		if len(in.Data)%in.ElementWidth != 0 {
			return bad("data length %d is not a multiple of %d", len(in.Data), in.ElementWidth)
		}
	}
	return nil
}

func checkRange(bad func(string, ...any) error, v, lo, hi int64) error {
	if v < lo || v > hi {
		return bad("literal %d out of range [%d, %d]", v, lo, hi)
	}
	return nil
}

func checkBranch(bad func(string, ...any) error, in *Instruction, lo, hi int64, allowZero bool) error {
	off := int64(in.Target - in.Addr)
	if off == 0 && !allowZero {
		return bad("branch offset of zero")
	}
	if off < lo || off > hi {
		return bad("branch offset %d out of range", off)
	}
	return nil
}

// regCount returns the fixed register count of a format, or -1 if variable.
func regCount(f Format) int {
	switch f {
	case Format10x, Format10t, Format20t, Format30t,
		FormatPackedSwitchPayload, FormatSparseSwitchPayload, FormatArrayPayload:
		return 0
	case Format11n, Format11x, Format21t, Format21s, Format21h, Format21c,
		Format31i, Format31t, Format31c, Format51l:
		return 1
	case Format12x, Format22x, Format22b, Format22t, Format22s, Format22c,
		Format22cs, Format32x:
		return 2
	case Format23x:
		return 3
	}
	return -1
}

// regLimit returns the largest register number operand i may hold.
func regLimit(f Format, i int) int {
	switch f {
	case Format12x, Format11n, Format22t, Format22s, Format22c, Format22cs,
		Format35c, Format35ms, Format35mi:
		return 0xf
	case Format22x:
		if i == 1 {
			return 0xffff
		}
		return 0xff
	case Format32x, Format3rc, Format3rms, Format3rmi:
		return 0xffff
	}
	return 0xff
}

func bitsFor(limit int) int {
	switch limit {
	case 0xf:
		return 4
	case 0xff:
		return 8
	}
	return 16
}

func (k RefKind) String() string {
	switch k {
	case RefString:
		return "string"
	case RefType:
		return "type"
	case RefField:
		return "field"
	case RefMethod:
		return "method"
	case RefInline:
		return "inline"
	case RefVtable:
		return "vtable"
	case RefFieldOffset:
		return "field-offset"
	}
	return "index"
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

// encodeCode serializes a method's instructions into code units.
func encodeCode(insns []Instruction, index indexFunc) ([]uint16, error) {
	owners := make(map[int]int)
	for i := range insns {
		if insns[i].Op.Has(FlagSwitch) {
			owners[insns[i].Target] = insns[i].Addr
		}
	}

	var units []uint16
	for i := range insns {
		in := &insns[i]
		if in.Addr != len(units) {
			return nil, fmt.Errorf("%w: %s at %#x, expected address %#x",
				ErrBadInstruction, in.Op, in.Addr, len(units))
		}
		if err := Validate(in); err != nil {
			return nil, &InstructionError{Addr: in.Addr, Err: err}
		}
		var err error
		units, err = appendInsn(units, in, index, owners)
		if err != nil {
			return nil, &InstructionError{Addr: in.Addr, Err: err}
		}
	}
	return units, nil
}

// CheckCode verifies that a method body encodes and is well formed:
// addresses are contiguous, every operand fits its format, registers lie
// below the declared count, branches land on instructions of the body,
// payloads are referenced by instructions of the matching kind, and try
// ranges, handlers and debug items lie inside the body.
func CheckCode(c *Code) error {
	if c.Registers < 0 || c.Ins < 0 || c.Ins > c.Registers {
		return fmt.Errorf("%w: %d incoming registers in a frame of %d", ErrBadInstruction, c.Ins, c.Registers)
	}
	if _, err := encodeCode(c.Insns, func(Reference) (int, error) { return 0, nil }); err != nil {
		return err
	}
	bad := func(in *Instruction, format string, args ...any) error {
		return &InstructionError{Addr: in.Addr, Err: fmt.Errorf("%w: %s", ErrBadInstruction, fmt.Sprintf(format, args...))}
	}
	// branchable reports whether addr starts an instruction that is not a
	// payload.
	branchable := func(addr int) bool {
		j, ok := c.InstructionAt(addr)
		return ok && !c.Insns[j].Op.Format().IsPayload()
	}
	for i := range c.Insns {
		in := &c.Insns[i]
		for _, r := range in.Regs {
			if r >= c.Registers {
				return bad(in, "register v%d outside a frame of %d", r, c.Registers)
			}
		}
		switch in.Op.Format() {
		case Format10t, Format20t, Format30t, Format21t, Format22t:
			if !branchable(in.Target) {
				return bad(in, "%s target %#x is not an instruction of the method", in.Op, in.Target)
			}
		case FormatPackedSwitchPayload, FormatSparseSwitchPayload:
			for _, t := range in.Targets {
				if !branchable(t) {
					return bad(in, "switch target %#x is not an instruction of the method", t)
				}
			}
		}
		var want Opcode
		switch in.Op {
		case OpPackedSwitch:
			want = OpPackedSwitchPayload
		case OpSparseSwitch:
			want = OpSparseSwitchPayload
		case OpFillArrayData:
			want = OpArrayPayload
		default:
			continue
		}
		j, ok := c.InstructionAt(in.Target)
		if !ok || c.Insns[j].Op != want {
			return &InstructionError{Addr: in.Addr, Err: fmt.Errorf("%w: %s target %#x is not a %s", ErrBadInstruction, in.Op, in.Target, want)}
		}
	}
	size := c.Size()
	for _, t := range c.Tries {
		if t.Start < 0 || t.End <= t.Start || t.End > size {
			return fmt.Errorf("%w: try range [%#x, %#x) outside code of size %#x", ErrBadInstruction, t.Start, t.End, size)
		}
		for _, h := range t.Handlers {
			if _, ok := c.InstructionAt(h.Addr); !ok {
				return fmt.Errorf("%w: handler at %#x is not an instruction", ErrBadInstruction, h.Addr)
			}
		}
	}
	for _, d := range c.Debug {
		if d.Addr < 0 || d.Addr > size {
			return fmt.Errorf("%w: debug item at %#x outside code of size %#x", ErrBadInstruction, d.Addr, size)
		}
		switch d.Kind {
		case DebugStartLocal, DebugEndLocal, DebugRestartLocal:
			if d.Register < 0 || d.Register >= c.Registers {
				return fmt.Errorf("%w: debug register v%d outside a frame of %d", ErrBadInstruction, d.Register, c.Registers)
			}
		}
	}
	return nil
}

func appendInsn(u []uint16, in *Instruction, index indexFunc, owners map[int]int) ([]uint16, error) {
	op := uint16(in.Op)
	r := in.Regs
	reg := func(i int) uint16 { return uint16(r[i]) }
	off := uint32(int32(in.Target - in.Addr))
	idx := 0
	switch in.Op.Format() {
	case Format21c, Format22c, Format31c, Format35c, Format3rc:
		var err error
		if idx, err = index(in.Ref); err != nil {
			return nil, err
		}
	case Format22cs, Format35ms, Format35mi, Format3rms, Format3rmi:
		idx = in.Index
	}

	switch f := in.Op.Format(); f {
	case Format10x:
		u = append(u, op)
	case Format12x:
		u = append(u, op|reg(0)<<8|reg(1)<<12)
	case Format11n:
		u = append(u, op|reg(0)<<8|uint16(in.Literal&0xf)<<12)
	case Format11x:
		u = append(u, op|reg(0)<<8)
	case Format10t:
		u = append(u, op|uint16(off&0xff)<<8)
	case Format20t:
		u = append(u, op, uint16(off))
	case Format22x:
		u = append(u, op|reg(0)<<8, reg(1))
	case Format21t:
		u = append(u, op|reg(0)<<8, uint16(off))
	case Format21s:
		u = append(u, op|reg(0)<<8, uint16(in.Literal))
	case Format21h:
		shift := 16
		if in.Op == OpConstWideHigh16 {
			shift = 48
		}
		u = append(u, op|reg(0)<<8, uint16(in.Literal>>shift))
	case Format21c:
		if idx > math.MaxUint16 {
			return nil, fmt.Errorf("%w: index %d needs a jumbo form", ErrBadInstruction, idx)
		}
		u = append(u, op|reg(0)<<8, uint16(idx))
	case Format23x:
		u = append(u, op|reg(0)<<8, reg(1)|reg(2)<<8)
	case Format22b:
		u = append(u, op|reg(0)<<8, reg(1)|uint16(uint8(in.Literal))<<8)
	case Format22t:
		u = append(u, op|reg(0)<<8|reg(1)<<12, uint16(off))
	case Format22s:
		u = append(u, op|reg(0)<<8|reg(1)<<12, uint16(in.Literal))
	case Format22c, Format22cs:
		if idx > math.MaxUint16 {
			return nil, fmt.Errorf("%w: index %d does not fit in 16 bits", ErrBadInstruction, idx)
		}
		u = append(u, op|reg(0)<<8|reg(1)<<12, uint16(idx))
	case Format30t:
		u = append(u, op, uint16(off), uint16(off>>16))
	case Format32x:
		u = append(u, op, reg(0), reg(1))
	case Format31i:
		v := uint32(int32(in.Literal))
		u = append(u, op|reg(0)<<8, uint16(v), uint16(v>>16))
	case Format31t:
		u = append(u, op|reg(0)<<8, uint16(off), uint16(off>>16))
	case Format31c:
		u = append(u, op|reg(0)<<8, uint16(idx), uint16(idx>>16))
	case Format35c, Format35ms, Format35mi:
		if idx > math.MaxUint16 {
			return nil, fmt.Errorf("%w: index %d does not fit in 16 bits", ErrBadInstruction, idx)
		}
		var regs [5]uint16
		for i, v := range r {
			regs[i] = uint16(v)
		}
		u = append(u, op|regs[4]<<8|uint16(len(r))<<12, uint16(idx),
			regs[0]|regs[1]<<4|regs[2]<<8|regs[3]<<12)
	case Format3rc, Format3rms, Format3rmi:
		if idx > math.MaxUint16 {
			return nil, fmt.Errorf("%w: index %d does not fit in 16 bits", ErrBadInstruction, idx)
		}
		first := uint16(0)
		if len(r) > 0 {
			first = reg(0)
		}
		u = append(u, op|uint16(len(r))<<8, uint16(idx), first)
	case Format51l:
		v := uint64(in.Literal)
		u = append(u, op|reg(0)<<8, uint16(v), uint16(v>>16), uint16(v>>32), uint16(v>>48))
	case FormatPackedSwitchPayload, FormatSparseSwitchPayload:
		owner, ok := owners[in.Addr]
		if !ok {
			return nil, fmt.Errorf("%w: switch payload at %#x has no switch", ErrBadInstruction, in.Addr)
		}
		u = append(u, op, uint16(len(in.Targets)))
		if f == FormatPackedSwitchPayload {
			u = append(u, uint16(uint32(in.FirstKey)), uint16(uint32(in.FirstKey)>>16))
		} else {
			for _, k := range in.Keys {
				u = append(u, uint16(uint32(k)), uint16(uint32(k)>>16))
			}
		}
		for _, t := range in.Targets {
			rel := uint32(int32(t - owner))
			u = append(u, uint16(rel), uint16(rel>>16))
		}
	case FormatArrayPayload:
		n := uint32(in.Elements())
		u = append(u, op, uint16(in.ElementWidth), uint16(n), uint16(n>>16))
		data := in.Data
		if len(data)%2 != 0 {
			data = append(append([]byte(nil), data...), 0)
		}
		for i := 0; i < len(data); i += 2 {
			u = append(u, binary.LittleEndian.Uint16(data[i:]))
		}
	default:
		return nil, fmt.Errorf("%w: unhandled format %s", ErrBadInstruction, f)
	}
	return u, nil
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

// decodeCode parses code units into instructions and links switch payload
// targets to absolute addresses.
func decodeCode(units []uint16, resolve resolveFunc) ([]Instruction, error) {
	var insns []Instruction
	for addr := 0; addr < len(units); {
		in, err := decodeInsn(units, addr, resolve)
		if err != nil {
			return nil, &InstructionError{Addr: addr, Err: err}
		}
		insns = append(insns, in)
		addr += in.Units()
	}
	if err := linkPayloads(insns); err != nil {
		return nil, err
	}
	return insns, nil
}

func decodeInsn(units []uint16, addr int, resolve resolveFunc) (Instruction, error) {
	w := units[addr]
	op := Opcode(w & 0xff)
	if op == OpNop && w != 0 {
		op = Opcode(w)
	}
	info, ok := opcodeInfoTable[op]
	if !ok {
		return Instruction{}, fmt.Errorf("%w: unknown opcode %#x", ErrBadInstruction, w)
	}
	in := Instruction{Op: op, Addr: addr}

	size := info.Format.Units()
	if info.Format.IsPayload() {
		size = 2
	}
	if addr+size > len(units) {
		return in, fmt.Errorf("%w: %s truncated", ErrBadInstruction, info.Name)
	}
	u := units[addr : addr+size]
	a := int(w >> 8)
	nibA, nibB := int(w>>8&0xf), int(w>>12)
	s32 := func(lo, hi uint16) int32 { return int32(uint32(lo) | uint32(hi)<<16) }

	ref := func(idx int) error {
		if info.Ref == RefNone {
			return nil
		}
		switch info.Format {
		case Format22cs, Format35ms, Format35mi, Format3rms, Format3rmi:
			in.Index = idx
			return nil
		}
		r, err := resolve(info.Ref, idx)
		in.Ref = r
		return err
	}

	var err error
	switch info.Format {
	case Format10x:
	case Format12x:
		in.Regs = []int{nibA, nibB}
	case Format11n:
		in.Regs = []int{nibA}
		in.Literal = int64(int8(uint8(w>>8)) >> 4)
	case Format11x:
		in.Regs = []int{a}
	case Format10t:
		in.Target = addr + int(int8(uint8(a)))
	case Format20t:
		in.Target = addr + int(int16(u[1]))
	case Format22x:
		in.Regs = []int{a, int(u[1])}
	case Format21t:
		in.Regs = []int{a}
		in.Target = addr + int(int16(u[1]))
	case Format21s:
		in.Regs = []int{a}
		in.Literal = int64(int16(u[1]))
	case Format21h:
		in.Regs = []int{a}
		if op == OpConstWideHigh16 {
			in.Literal = int64(int16(u[1])) << 48
		} else {
			in.Literal = int64(int32(uint32(u[1]) << 16))
		}
	case Format21c:
		in.Regs = []int{a}
		err = ref(int(u[1]))
	case Format23x:
		in.Regs = []int{a, int(u[1] & 0xff), int(u[1] >> 8)}
	case Format22b:
		in.Regs = []int{a, int(u[1] & 0xff)}
		in.Literal = int64(int8(uint8(u[1] >> 8)))
	case Format22t:
		in.Regs = []int{nibA, nibB}
		in.Target = addr + int(int16(u[1]))
	case Format22s:
		in.Regs = []int{nibA, nibB}
		in.Literal = int64(int16(u[1]))
	case Format22c, Format22cs:
		in.Regs = []int{nibA, nibB}
		err = ref(int(u[1]))
	case Format30t:
		in.Target = addr + int(s32(u[1], u[2]))
	case Format32x:
		in.Regs = []int{int(u[1]), int(u[2])}
	case Format31i:
		in.Regs = []int{a}
		in.Literal = int64(s32(u[1], u[2]))
	case Format31t:
		in.Regs = []int{a}
		in.Target = addr + int(s32(u[1], u[2]))
	case Format31c:
		in.Regs = []int{a}
		err = ref(int(uint32(u[1]) | uint32(u[2])<<16))
	case Format35c, Format35ms, Format35mi:
		count := int(w >> 12)
		if count > 5 {
			return in, fmt.Errorf("%w: %s with %d registers", ErrBadInstruction, info.Name, count)
		}
		all := [5]int{int(u[2] & 0xf), int(u[2] >> 4 & 0xf), int(u[2] >> 8 & 0xf), int(u[2] >> 12), nibA}
		in.Regs = append([]int{}, all[:count]...)
		err = ref(int(u[1]))
	case Format3rc, Format3rms, Format3rmi:
		in.Regs = make([]int, a)
		for i := range in.Regs {
			in.Regs[i] = int(u[2]) + i
		}
		err = ref(int(u[1]))
	case Format51l:
		in.Regs = []int{a}
		in.Literal = int64(uint64(u[1]) | uint64(u[2])<<16 | uint64(u[3])<<32 | uint64(u[4])<<48)
	case FormatPackedSwitchPayload, FormatSparseSwitchPayload, FormatArrayPayload:
		err = decodePayload(&in, units, addr)
	default:
		err = fmt.Errorf("%w: unhandled format %s", ErrBadInstruction, info.Format)
	}
	return in, err
}

func decodePayload(in *Instruction, units []uint16, addr int) error {
	rest := units[addr:]
	word32 := func(i int) int32 { return int32(uint32(rest[i]) | uint32(rest[i+1])<<16) }
	switch in.Op {
	case OpPackedSwitchPayload:
		n := int(rest[1])
		if len(rest) < 4+2*n {
			return fmt.Errorf("%w: packed-switch payload truncated", ErrBadInstruction)
		}
		in.FirstKey = word32(2)
		in.Targets = make([]int, n)
		for i := range in.Targets {
			in.Targets[i] = int(word32(4 + 2*i))
		}
	case OpSparseSwitchPayload:
		n := int(rest[1])
		if len(rest) < 2+4*n {
			return fmt.Errorf("%w: sparse-switch payload truncated", ErrBadInstruction)
		}
		in.Keys = make([]int32, n)
		in.Targets = make([]int, n)
		for i := 0; i < n; i++ {
			in.Keys[i] = word32(2 + 2*i)
			in.Targets[i] = int(word32(2 + 2*n + 2*i))
		}
	case OpArrayPayload:
		if len(rest) < 4 {
			return fmt.Errorf("%w: array payload truncated", ErrBadInstruction)
		}
		in.ElementWidth = int(rest[1])
		n := int(uint32(rest[2]) | uint32(rest[3])<<16)
		size := n * in.ElementWidth
		if len(rest) < 4+(size+1)/2 {
			return fmt.Errorf("%w: array payload truncated", ErrBadInstruction)
		}
		in.Data = make([]byte, size)
		for i := 0; i < size; i++ {
			word := rest[4+i/2]
			in.Data[i] = byte(word >> (8 * (i % 2)))
		}
	}
	return nil
}

// linkPayloads rewrites switch payload targets from offsets relative to the
// owning switch into absolute addresses.
func linkPayloads(insns []Instruction) error {
	byAddr := make(map[int]int, len(insns))
	for i := range insns {
		byAddr[insns[i].Addr] = i
	}
	linked := make(map[int]bool)
	for i := range insns {
		sw := &insns[i]
		if !sw.Op.Has(FlagSwitch) {
			continue
		}
		j, ok := byAddr[sw.Target]
		if !ok {
			return &InstructionError{Addr: sw.Addr, Err: fmt.Errorf("%w: no payload at %#x", ErrBadInstruction, sw.Target)}
		}
		p := &insns[j]
		wantOp := OpPackedSwitchPayload
		if sw.Op == OpSparseSwitch {
			wantOp = OpSparseSwitchPayload
		}
		if p.Op != wantOp {
			return &InstructionError{Addr: sw.Addr, Err: fmt.Errorf("%w: %s refers to %s", ErrBadInstruction, sw.Op, p.Op)}
		}
		if linked[j] {
			return &InstructionError{Addr: sw.Addr, Err: fmt.Errorf("%w: payload at %#x shared by two switches", ErrBadInstruction, p.Addr)}
		}
		linked[j] = true
		for k := range p.Targets {
			p.Targets[k] += sw.Addr
		}
	}
	for i := range insns {
		f := insns[i].Op.Format()
		if (f == FormatPackedSwitchPayload || f == FormatSparseSwitchPayload) && !linked[i] {
			return &InstructionError{Addr: insns[i].Addr, Err: fmt.Errorf("%w: unreferenced switch payload", ErrBadInstruction)}
		}
	}
	return nil
}
