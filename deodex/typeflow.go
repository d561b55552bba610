package deodex

import (
	"fmt"
	"strings"

	"github.com/chazu/dexasm/pkg/dex"
)

const (
	objectType    = "Ljava/lang/Object;"
	throwableType = "Ljava/lang/Throwable;"
)

// TypeKind is the coarse category of a register value.
type TypeKind uint8

const (
	Unknown TypeKind = iota // not yet assigned on any path
	Prim
	Null
	Ref
	Conflict
)

var typeKindNames = [...]string{"unknown", "prim", "null", "ref", "conflict"}

func (k TypeKind) String() string {
	if int(k) < len(typeKindNames) {
		return typeKindNames[k]
	}
	return fmt.Sprintf("TypeKind(%d)", k)
}

// RegType is the inferred type of a register. Desc is set for Ref.
type RegType struct {
	Kind TypeKind
	Desc string
}

var (
	unknownType  = RegType{}
	primType     = RegType{Kind: Prim}
	nullType     = RegType{Kind: Null}
	conflictType = RegType{Kind: Conflict}
)

func refType(desc string) RegType {
	return RegType{Kind: Ref, Desc: desc}
}

// typeOf returns the register type holding a value of descriptor t.
func typeOf(t string) RegType {
	if dex.IsReference(t) {
		return refType(t)
	}
	return primType
}

func (t RegType) String() string {
	if t.Kind == Ref {
		return t.Desc
	}
	return t.Kind.String()
}

// join merges the types reaching a register from two paths.
func (cp *ClassPath) join(a, b RegType) RegType {
	switch {
	case a == b:
		return a
	case a.Kind == Unknown:
		return b
	case b.Kind == Unknown:
		return a
	case a.Kind == Conflict || b.Kind == Conflict:
		return conflictType
	case a.Kind == Null && b.Kind != Null:
		return b
	case b.Kind == Null && a.Kind != Null:
		return a
	case a.Kind != b.Kind:
		return conflictType
	case a.Kind == Prim:
		return primType
	}
	// Two distinct references.
	if isArray(a.Desc) || isArray(b.Desc) {
		return refType(objectType)
	}
	if cp == nil {
		return conflictType
	}
	if s, ok := cp.CommonSuperclass(a.Desc, b.Desc); ok {
		return refType(s)
	}
	return conflictType
}

func isArray(desc string) bool {
	return strings.HasPrefix(desc, "[")
}

// TypeState holds the type of every register before an instruction.
type TypeState []RegType

func (s TypeState) clone() TypeState {
	return append(TypeState(nil), s...)
}

func (s TypeState) set(r int, t RegType) {
	if r >= 0 && r < len(s) {
		s[r] = t
	}
}

func (s TypeState) setWide(r int) {
	s.set(r, primType)
	s.set(r+1, primType)
}

func (s TypeState) get(r int) RegType {
	if r < 0 || r >= len(s) {
		return conflictType
	}
	return s[r]
}

// joinInto merges src into dst, reporting whether dst changed.
func (cp *ClassPath) joinInto(dst, src TypeState) bool {
	changed := false
	for i := range dst {
		if j := cp.join(dst[i], src[i]); j != dst[i] {
			dst[i] = j
			changed = true
		}
	}
	return changed
}

// typeFlow is the forward register type analysis of one method.
type typeFlow struct {
	r      *Resolver
	class  *dex.ClassDef
	method *dex.Method
	code   *dex.Code
	cfg    *CFG
	in     []TypeState // per block; nil until reached
}

// entryState types the parameter registers from the method prototype.
func entryState(class *dex.ClassDef, m *dex.Method) TypeState {
	code := m.Code
	st := make(TypeState, code.Registers)
	r := code.Registers - code.Ins
	if !m.IsStatic() {
		st.set(r, refType(class.Type))
		r++
	}
	for _, p := range m.Ref.Params {
		if dex.IsWide(p) {
			st.setWide(r)
			r += 2
			continue
		}
		st.set(r, typeOf(p))
		r++
	}
	return st
}

// maxRounds bounds block visits per block before the analysis gives up.
const maxRounds = 64

// solve runs the worklist to a fixpoint.
func (tf *typeFlow) solve() error {
	g := tf.cfg
	tf.in = make([]TypeState, len(g.Blocks))
	if len(g.Blocks) == 0 {
		return nil
	}
	tf.in[0] = entryState(tf.class, tf.method)

	work := []int{0}
	queued := map[int]bool{0: true}
	budget := maxRounds * len(g.Blocks)
	for len(work) > 0 {
		if budget--; budget < 0 {
			return fmt.Errorf("register types of %s did not converge", tf.method.Ref)
		}
		id := work[0]
		work = work[1:]
		queued[id] = false

		b := g.Blocks[id]
		st := tf.in[id].clone()
		push := func(to int, s TypeState) {
			if tf.in[to] == nil {
				tf.in[to] = s.clone()
			} else if !tf.r.ClassPath.joinInto(tf.in[to], s) {
				return
			}
			if !queued[to] {
				queued[to] = true
				work = append(work, to)
			}
		}

		var catches []int
		for _, s := range b.Succs {
			if s.Cond == "catch" {
				catches = append(catches, s.Block)
			}
		}
		for i := b.Start; i < b.End; i++ {
			for _, h := range catches {
				push(h, st)
			}
			tf.transfer(i, st)
		}
		for _, s := range b.Succs {
			if s.Cond != "catch" {
				push(s.Block, st)
			}
		}
	}
	return nil
}

// states returns the type state before every instruction of a reached
// block, indexed by instruction. Unreached instructions get nil.
func (tf *typeFlow) states() []TypeState {
	out := make([]TypeState, len(tf.code.Insns))
	for _, b := range tf.cfg.Blocks {
		if tf.in[b.ID] == nil {
			continue
		}
		st := tf.in[b.ID].clone()
		for i := b.Start; i < b.End; i++ {
			out[i] = st.clone()
			tf.transfer(i, st)
		}
	}
	return out
}

// wideResults lists unary and binary ops producing a long or double.
var wideResults = map[string]bool{
	"neg-long": true, "not-long": true, "neg-double": true,
	"int-to-long": true, "int-to-double": true, "long-to-double": true,
	"float-to-long": true, "float-to-double": true, "double-to-long": true,
}

func producesWide(op dex.Opcode) bool {
	name := strings.TrimSuffix(op.String(), "/2addr")
	if wideResults[name] {
		return true
	}
	return strings.HasSuffix(name, "-long") || strings.HasSuffix(name, "-double")
}

// transfer applies instruction i to st.
func (tf *typeFlow) transfer(i int, st TypeState) {
	in := &tf.code.Insns[i]
	op := in.Op
	regs := in.Regs
	switch {
	case op >= dex.OpMove && op <= dex.OpMove16, op >= dex.OpMoveObject && op <= dex.OpMoveObject16:
		st.set(regs[0], st.get(regs[1]))
	case op >= dex.OpMoveWide && op <= dex.OpMoveWide16:
		st.setWide(regs[0])
	case op == dex.OpMoveResult:
		st.set(regs[0], primType)
	case op == dex.OpMoveResultWide:
		st.setWide(regs[0])
	case op == dex.OpMoveResultObject:
		st.set(regs[0], tf.resultType(i, st))
	case op == dex.OpMoveException:
		st.set(regs[0], tf.exceptionType(in.Addr))
	case op >= dex.OpConst4 && op <= dex.OpConstHigh16:
		if in.Literal == 0 {
			st.set(regs[0], nullType)
		} else {
			st.set(regs[0], primType)
		}
	case op >= dex.OpConstWide16 && op <= dex.OpConstWideHigh16:
		st.setWide(regs[0])
	case op == dex.OpConstString || op == dex.OpConstStringJumbo:
		st.set(regs[0], refType("Ljava/lang/String;"))
	case op == dex.OpConstClass:
		st.set(regs[0], refType("Ljava/lang/Class;"))
	case op == dex.OpCheckCast, op == dex.OpNewInstance, op == dex.OpNewArray:
		st.set(regs[0], refType(in.Ref.String()))
	case op == dex.OpInstanceOf, op == dex.OpArrayLength:
		st.set(regs[0], primType)
	case op >= dex.OpCmplFloat && op <= dex.OpCmpLong:
		st.set(regs[0], primType)
	case op >= dex.OpAget && op <= dex.OpAgetShort:
		switch op {
		case dex.OpAgetWide:
			st.setWide(regs[0])
		case dex.OpAgetObject:
			st.set(regs[0], componentType(st.get(regs[1])))
		default:
			st.set(regs[0], primType)
		}
	case op >= dex.OpIget && op <= dex.OpIgetShort, op >= dex.OpSget && op <= dex.OpSgetShort:
		f := in.Ref.(dex.FieldRef)
		if dex.IsWide(f.Type) {
			st.setWide(regs[0])
		} else {
			st.set(regs[0], typeOf(f.Type))
		}
	case op == dex.OpIgetQuick:
		st.set(regs[0], primType)
	case op == dex.OpIgetWideQuick:
		st.setWide(regs[0])
	case op == dex.OpIgetObjectQuick:
		t := unknownType
		if f, err := tf.r.quickField(in, st); err == nil {
			t = typeOf(f.Type)
		}
		st.set(regs[0], t)
	case op >= dex.OpNegInt && op <= dex.OpRemDouble, op >= dex.OpAddInt2Addr && op <= dex.OpRemDouble2Addr:
		if producesWide(op) {
			st.setWide(regs[0])
		} else {
			st.set(regs[0], primType)
		}
	case op >= dex.OpAddIntLit16 && op <= dex.OpUshrIntLit8:
		st.set(regs[0], primType)
	}
}

// componentType returns the element type read from an array register.
func componentType(arr RegType) RegType {
	switch arr.Kind {
	case Null:
		return nullType
	case Ref:
		if isArray(arr.Desc) {
			return typeOf(arr.Desc[1:])
		}
	}
	return conflictType
}

// resultType returns the type moved by a move-result-object at i.
func (tf *typeFlow) resultType(i int, st TypeState) RegType {
	if i == 0 {
		return conflictType
	}
	prev := &tf.code.Insns[i-1]
	switch prev.Op {
	case dex.OpFilledNewArray, dex.OpFilledNewArrayRange:
		return refType(prev.Ref.String())
	}
	if m, ok := prev.MethodRef(); ok {
		return typeOf(m.Return)
	}
	if prev.Optimized() {
		if m, err := tf.r.quickMethod(tf.class, prev, st); err == nil {
			return typeOf(m.Return)
		}
		return unknownType
	}
	return conflictType
}

// exceptionType joins the catch types of every handler at addr.
func (tf *typeFlow) exceptionType(addr int) RegType {
	t := unknownType
	for _, try := range tf.code.Tries {
		for _, h := range try.Handlers {
			if h.Addr != addr {
				continue
			}
			ht := throwableType
			if h.Type != "" {
				ht = h.Type
			}
			t = tf.r.ClassPath.join(t, refType(ht))
		}
	}
	if t.Kind == Unknown {
		return refType(throwableType)
	}
	return t
}
