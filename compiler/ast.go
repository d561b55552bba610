package compiler

import (
	"strconv"

	"github.com/chazu/dexasm/pkg/dex"
)

// ---------------------------------------------------------------------------
// AST: syntax tree of one assembly class unit
// ---------------------------------------------------------------------------

// ClassFile is the root of a parsed class unit.
type ClassFile struct {
	Pos         Position
	Access      dex.AccessFlags
	Type        string
	Super       string
	Source      *string // nil when there is no .source directive
	Interfaces  []string
	Annotations []*AnnotationNode
	Fields      []*FieldNode
	Methods     []*MethodNode
}

// FieldNode is a .field declaration.
type FieldNode struct {
	Pos         Position
	Access      dex.AccessFlags
	Name        string
	Type        string
	Initial     *ValueNode
	Annotations []*AnnotationNode
}

// MethodNode is a .method block.
type MethodNode struct {
	Pos         Position
	Access      dex.AccessFlags
	Name        string
	Params      []string
	Return      string
	Registers   int  // value of .registers or .locals, -1 when absent
	Locals      bool // the count came from .locals
	Annotations []*AnnotationNode
	ParamDecls  []*ParamNode
	Body        []Statement
}

// ParamNode is a .param directive naming a parameter register.
type ParamNode struct {
	Pos  Position
	Reg  Register
	Name *string
}

// AnnotationNode is an .annotation or .subannotation block.
type AnnotationNode struct {
	Pos        Position
	Visibility dex.Visibility
	Type       string
	Elements   []*ElementNode
}

// ElementNode is a name = value line inside an annotation.
type ElementNode struct {
	Pos   Position
	Name  string
	Value *ValueNode
}

// ValueKind classifies literal values written in the source.
type ValueKind int

const (
	ValInt ValueKind = iota // suffix selects the width
	ValFloat
	ValString
	ValChar
	ValBool
	ValNull
	ValType
	ValField
	ValMethod
	ValEnum
	ValArray
	ValAnnotation
)

// ValueNode is an encoded value: a field initializer or annotation element.
type ValueNode struct {
	Pos        Position
	Kind       ValueKind
	Int        int64
	Suffix     byte // 0, 'L', 't', 's' for integers; 'f' for floats
	Float      float64
	Str        string
	Ref        dex.Reference
	Elems      []*ValueNode
	Annotation *AnnotationNode
}

// Register is a vN or pN operand.
type Register struct {
	Param bool
	Num   int
}

func (r Register) String() string {
	if r.Param {
		return "p" + strconv.Itoa(r.Num)
	}
	return "v" + strconv.Itoa(r.Num)
}

// ---------------------------------------------------------------------------
// Method body statements
// ---------------------------------------------------------------------------

// Statement is one line of a method body.
type Statement interface {
	Position() Position
	stmt() // marker method
}

// LabelStmt defines a label at the current address.
type LabelStmt struct {
	Pos  Position
	Name string
}

// InstructionStmt is a mnemonic with its operands.
type InstructionStmt struct {
	Pos      Position
	Mnemonic string
	Operands []Operand
}

// CatchStmt is a .catch or .catchall directive. Type is empty for catchall.
type CatchStmt struct {
	Pos     Position
	Type    string
	Start   string
	End     string
	Handler string
}

// DebugStmt is one of .line, .local, .end local, .restart local,
// .prologue and .epilogue.
type DebugStmt struct {
	Pos       Position
	Kind      dex.DebugKind
	Line      int
	Reg       Register
	Name      string
	Type      string
	Signature string
}

// PackedSwitchStmt is a .packed-switch payload block.
type PackedSwitchStmt struct {
	Pos      Position
	FirstKey int32
	Targets  []string
}

// SparseSwitchStmt is a .sparse-switch payload block.
type SparseSwitchStmt struct {
	Pos     Position
	Keys    []int32
	Targets []string
}

// ArrayDataStmt is an .array-data payload block.
type ArrayDataStmt struct {
	Pos      Position
	Width    int
	Elements []int64
}

func (s *LabelStmt) Position() Position        { return s.Pos }
func (s *InstructionStmt) Position() Position  { return s.Pos }
func (s *CatchStmt) Position() Position        { return s.Pos }
func (s *DebugStmt) Position() Position        { return s.Pos }
func (s *PackedSwitchStmt) Position() Position { return s.Pos }
func (s *SparseSwitchStmt) Position() Position { return s.Pos }
func (s *ArrayDataStmt) Position() Position    { return s.Pos }

func (*LabelStmt) stmt()        {}
func (*InstructionStmt) stmt()  {}
func (*CatchStmt) stmt()        {}
func (*DebugStmt) stmt()        {}
func (*PackedSwitchStmt) stmt() {}
func (*SparseSwitchStmt) stmt() {}
func (*ArrayDataStmt) stmt()    {}

// ---------------------------------------------------------------------------
// Operands
// ---------------------------------------------------------------------------

// OperandKind classifies instruction operands.
type OperandKind int

const (
	OpndRegister OperandKind = iota
	OpndRegisterList
	OpndRegisterRange
	OpndLabel
	OpndInt
	OpndString
	OpndType
	OpndField
	OpndMethod
	OpndWord // anything else, reported by the encoder
)

var operandKindNames = [...]string{
	"register", "register list", "register range", "label", "literal",
	"string", "type", "field reference", "method reference", "word",
}

func (k OperandKind) String() string {
	if int(k) < len(operandKindNames) {
		return operandKindNames[k]
	}
	return "operand"
}

// Operand is one instruction operand.
type Operand struct {
	Pos   Position
	Kind  OperandKind
	Regs  []Register // register, list, or the two ends of a range
	Label string
	Int   int64
	Str   string
	Ref   dex.Reference
}
