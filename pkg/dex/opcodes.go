package dex

import "fmt"

// Opcode identifies a Dalvik instruction. Real opcodes fit in the low byte;
// the three payload pseudo-instructions use their 16-bit identifiers.
type Opcode uint16

// Format is the operand-encoding shape of an instruction.
type Format uint8

const (
	Format10x Format = iota
	Format12x
	Format11n
	Format11x
	Format10t
	Format20t
	Format22x
	Format21t
	Format21s
	Format21h
	Format21c
	Format23x
	Format22b
	Format22t
	Format22s
	Format22c
	Format22cs
	Format30t
	Format32x
	Format31i
	Format31t
	Format31c
	Format35c
	Format35ms
	Format35mi
	Format3rc
	Format3rms
	Format3rmi
	Format51l
	FormatPackedSwitchPayload
	FormatSparseSwitchPayload
	FormatArrayPayload
)

var formatNames = [...]string{
	"10x", "12x", "11n", "11x", "10t", "20t", "22x", "21t", "21s", "21h", "21c",
	"23x", "22b", "22t", "22s", "22c", "22cs", "30t", "32x", "31i", "31t", "31c",
	"35c", "35ms", "35mi", "3rc", "3rms", "3rmi", "51l",
	"packed-switch-payload", "sparse-switch-payload", "array-payload",
}

func (f Format) String() string {
	if int(f) < len(formatNames) {
		return formatNames[f]
	}
	return fmt.Sprintf("Format(%d)", f)
}

// Units returns the fixed size of the format in 16-bit code units.
// Payload formats are variable-sized and return 0.
func (f Format) Units() int {
	switch f {
	case Format10x, Format12x, Format11n, Format11x, Format10t:
		return 1
	case Format20t, Format22x, Format21t, Format21s, Format21h, Format21c,
		Format23x, Format22b, Format22t, Format22s, Format22c, Format22cs:
		return 2
	case Format30t, Format32x, Format31i, Format31t, Format31c,
		Format35c, Format35ms, Format35mi, Format3rc, Format3rms, Format3rmi:
		return 3
	case Format51l:
		return 5
	}
	return 0
}

// IsRange reports whether the format addresses a contiguous register range.
func (f Format) IsRange() bool {
	return f == Format3rc || f == Format3rms || f == Format3rmi
}

// IsPayload reports whether the format is a data payload.
func (f Format) IsPayload() bool {
	return f >= FormatPackedSwitchPayload
}

// RefKind names the constant pool an instruction's index operand points into.
type RefKind uint8

const (
	RefNone RefKind = iota
	RefString
	RefType
	RefField
	RefMethod
	RefInline      // execute-inline table index
	RefVtable      // vtable slot of the receiver's class
	RefFieldOffset // byte offset into the receiver's instance data
)

// OpFlags describe control-flow and classification properties of an opcode.
type OpFlags uint16

const (
	FlagBranch OpFlags = 1 << iota // conditional or unconditional branch
	FlagGoto                       // unconditional branch, never falls through
	FlagSwitch
	FlagReturn
	FlagThrow
	FlagInvoke
	FlagOdex
	FlagSetsResult // following move-result may read its result
)

// OpcodeInfo contains metadata about an opcode.
type OpcodeInfo struct {
	Name   string
	Format Format
	Ref    RefKind
	Flags  OpFlags
}

// ========================================================================
// Opcode constants
// ========================================================================

const (
	OpNop                  Opcode = 0x00
	OpMove                 Opcode = 0x01
	OpMoveFrom16           Opcode = 0x02
	OpMove16               Opcode = 0x03
	OpMoveWide             Opcode = 0x04
	OpMoveWideFrom16       Opcode = 0x05
	OpMoveWide16           Opcode = 0x06
	OpMoveObject           Opcode = 0x07
	OpMoveObjectFrom16     Opcode = 0x08
	OpMoveObject16         Opcode = 0x09
	OpMoveResult           Opcode = 0x0a
	OpMoveResultWide       Opcode = 0x0b
	OpMoveResultObject     Opcode = 0x0c
	OpMoveException        Opcode = 0x0d
	OpReturnVoid           Opcode = 0x0e
	OpReturn               Opcode = 0x0f
	OpReturnWide           Opcode = 0x10
	OpReturnObject         Opcode = 0x11
	OpConst4               Opcode = 0x12
	OpConst16              Opcode = 0x13
	OpConst                Opcode = 0x14
	OpConstHigh16          Opcode = 0x15
	OpConstWide16          Opcode = 0x16
	OpConstWide32          Opcode = 0x17
	OpConstWide            Opcode = 0x18
	OpConstWideHigh16      Opcode = 0x19
	OpConstString          Opcode = 0x1a
	OpConstStringJumbo     Opcode = 0x1b
	OpConstClass           Opcode = 0x1c
	OpMonitorEnter         Opcode = 0x1d
	OpMonitorExit          Opcode = 0x1e
	OpCheckCast            Opcode = 0x1f
	OpInstanceOf           Opcode = 0x20
	OpArrayLength          Opcode = 0x21
	OpNewInstance          Opcode = 0x22
	OpNewArray             Opcode = 0x23
	OpFilledNewArray       Opcode = 0x24
	OpFilledNewArrayRange  Opcode = 0x25
	OpFillArrayData        Opcode = 0x26
	OpThrow                Opcode = 0x27
	OpGoto                 Opcode = 0x28
	OpGoto16               Opcode = 0x29
	OpGoto32               Opcode = 0x2a
	OpPackedSwitch         Opcode = 0x2b
	OpSparseSwitch         Opcode = 0x2c
	OpCmplFloat            Opcode = 0x2d
	OpCmpLong              Opcode = 0x31
	OpIfEq                 Opcode = 0x32
	OpIfLe                 Opcode = 0x37
	OpIfEqz                Opcode = 0x38
	OpIfLez                Opcode = 0x3d
	OpAget                 Opcode = 0x44
	OpAgetWide             Opcode = 0x45
	OpAgetObject           Opcode = 0x46
	OpAgetShort            Opcode = 0x4a
	OpAput                 Opcode = 0x4b
	OpAputShort            Opcode = 0x51
	OpIget                 Opcode = 0x52
	OpIgetWide             Opcode = 0x53
	OpIgetObject           Opcode = 0x54
	OpIgetShort            Opcode = 0x58
	OpIput                 Opcode = 0x59
	OpIputWide             Opcode = 0x5a
	OpIputObject           Opcode = 0x5b
	OpIputShort            Opcode = 0x5f
	OpSget                 Opcode = 0x60
	OpSgetShort            Opcode = 0x66
	OpSput                 Opcode = 0x67
	OpSputShort            Opcode = 0x6d
	OpInvokeVirtual        Opcode = 0x6e
	OpInvokeSuper          Opcode = 0x6f
	OpInvokeDirect         Opcode = 0x70
	OpInvokeStatic         Opcode = 0x71
	OpInvokeInterface      Opcode = 0x72
	OpInvokeVirtualRange   Opcode = 0x74
	OpInvokeSuperRange     Opcode = 0x75
	OpInvokeDirectRange    Opcode = 0x76
	OpInvokeStaticRange    Opcode = 0x77
	OpInvokeInterfaceRange Opcode = 0x78
	OpNegInt               Opcode = 0x7b
	OpIntToShort           Opcode = 0x8f
	OpAddInt               Opcode = 0x90
	OpRemDouble            Opcode = 0xaf
	OpAddInt2Addr          Opcode = 0xb0
	OpRemDouble2Addr       Opcode = 0xcf
	OpAddIntLit16          Opcode = 0xd0
	OpXorIntLit16          Opcode = 0xd7
	OpAddIntLit8           Opcode = 0xd8
	OpUshrIntLit8          Opcode = 0xe2

	// Optimized forms produced by on-device dexopt.
	OpExecuteInline              Opcode = 0xee
	OpExecuteInlineRange         Opcode = 0xef
	OpInvokeDirectEmpty          Opcode = 0xf0
	OpReturnVoidBarrier          Opcode = 0xf1
	OpIgetQuick                  Opcode = 0xf2
	OpIgetWideQuick              Opcode = 0xf3
	OpIgetObjectQuick            Opcode = 0xf4
	OpIputQuick                  Opcode = 0xf5
	OpIputWideQuick              Opcode = 0xf6
	OpIputObjectQuick            Opcode = 0xf7
	OpInvokeVirtualQuick         Opcode = 0xf8
	OpInvokeVirtualQuickRange    Opcode = 0xf9
	OpInvokeSuperQuick           Opcode = 0xfa
	OpInvokeSuperQuickRange      Opcode = 0xfb
	OpInvokeObjectInitRange      Opcode = 0xfc

	OpPackedSwitchPayload Opcode = 0x0100
	OpSparseSwitchPayload Opcode = 0x0200
	OpArrayPayload        Opcode = 0x0300
)

var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpNop:              {"nop", Format10x, RefNone, 0},
	OpMove:             {"move", Format12x, RefNone, 0},
	OpMoveFrom16:       {"move/from16", Format22x, RefNone, 0},
	OpMove16:           {"move/16", Format32x, RefNone, 0},
	OpMoveWide:         {"move-wide", Format12x, RefNone, 0},
	OpMoveWideFrom16:   {"move-wide/from16", Format22x, RefNone, 0},
	OpMoveWide16:       {"move-wide/16", Format32x, RefNone, 0},
	OpMoveObject:       {"move-object", Format12x, RefNone, 0},
	OpMoveObjectFrom16: {"move-object/from16", Format22x, RefNone, 0},
	OpMoveObject16:     {"move-object/16", Format32x, RefNone, 0},
	OpMoveResult:       {"move-result", Format11x, RefNone, 0},
	OpMoveResultWide:   {"move-result-wide", Format11x, RefNone, 0},
	OpMoveResultObject: {"move-result-object", Format11x, RefNone, 0},
	OpMoveException:    {"move-exception", Format11x, RefNone, 0},
	OpReturnVoid:       {"return-void", Format10x, RefNone, FlagReturn},
	OpReturn:           {"return", Format11x, RefNone, FlagReturn},
	OpReturnWide:       {"return-wide", Format11x, RefNone, FlagReturn},
	OpReturnObject:     {"return-object", Format11x, RefNone, FlagReturn},

	OpConst4:          {"const/4", Format11n, RefNone, 0},
	OpConst16:         {"const/16", Format21s, RefNone, 0},
	OpConst:           {"const", Format31i, RefNone, 0},
	OpConstHigh16:     {"const/high16", Format21h, RefNone, 0},
	OpConstWide16:     {"const-wide/16", Format21s, RefNone, 0},
	OpConstWide32:     {"const-wide/32", Format31i, RefNone, 0},
	OpConstWide:       {"const-wide", Format51l, RefNone, 0},
	OpConstWideHigh16: {"const-wide/high16", Format21h, RefNone, 0},
	OpConstString:     {"const-string", Format21c, RefString, 0},
	OpConstStringJumbo: {"const-string/jumbo", Format31c, RefString, 0},
	OpConstClass:      {"const-class", Format21c, RefType, 0},

	OpMonitorEnter:        {"monitor-enter", Format11x, RefNone, 0},
	OpMonitorExit:         {"monitor-exit", Format11x, RefNone, 0},
	OpCheckCast:           {"check-cast", Format21c, RefType, 0},
	OpInstanceOf:          {"instance-of", Format22c, RefType, 0},
	OpArrayLength:         {"array-length", Format12x, RefNone, 0},
	OpNewInstance:         {"new-instance", Format21c, RefType, 0},
	OpNewArray:            {"new-array", Format22c, RefType, 0},
	OpFilledNewArray:      {"filled-new-array", Format35c, RefType, FlagSetsResult},
	OpFilledNewArrayRange: {"filled-new-array/range", Format3rc, RefType, FlagSetsResult},
	OpFillArrayData:       {"fill-array-data", Format31t, RefNone, 0},
	OpThrow:               {"throw", Format11x, RefNone, FlagThrow},

	OpGoto:         {"goto", Format10t, RefNone, FlagBranch | FlagGoto},
	OpGoto16:       {"goto/16", Format20t, RefNone, FlagBranch | FlagGoto},
	OpGoto32:       {"goto/32", Format30t, RefNone, FlagBranch | FlagGoto},
	OpPackedSwitch: {"packed-switch", Format31t, RefNone, FlagSwitch},
	OpSparseSwitch: {"sparse-switch", Format31t, RefNone, FlagSwitch},

	OpInvokeVirtual:        {"invoke-virtual", Format35c, RefMethod, FlagInvoke | FlagSetsResult},
	OpInvokeSuper:          {"invoke-super", Format35c, RefMethod, FlagInvoke | FlagSetsResult},
	OpInvokeDirect:         {"invoke-direct", Format35c, RefMethod, FlagInvoke | FlagSetsResult},
	OpInvokeStatic:         {"invoke-static", Format35c, RefMethod, FlagInvoke | FlagSetsResult},
	OpInvokeInterface:      {"invoke-interface", Format35c, RefMethod, FlagInvoke | FlagSetsResult},
	OpInvokeVirtualRange:   {"invoke-virtual/range", Format3rc, RefMethod, FlagInvoke | FlagSetsResult},
	OpInvokeSuperRange:     {"invoke-super/range", Format3rc, RefMethod, FlagInvoke | FlagSetsResult},
	OpInvokeDirectRange:    {"invoke-direct/range", Format3rc, RefMethod, FlagInvoke | FlagSetsResult},
	OpInvokeStaticRange:    {"invoke-static/range", Format3rc, RefMethod, FlagInvoke | FlagSetsResult},
	OpInvokeInterfaceRange: {"invoke-interface/range", Format3rc, RefMethod, FlagInvoke | FlagSetsResult},

	OpExecuteInline:           {"execute-inline", Format35mi, RefInline, FlagOdex | FlagInvoke | FlagSetsResult},
	OpExecuteInlineRange:      {"execute-inline/range", Format3rmi, RefInline, FlagOdex | FlagInvoke | FlagSetsResult},
	OpInvokeDirectEmpty:       {"invoke-direct-empty", Format35c, RefMethod, FlagOdex | FlagInvoke | FlagSetsResult},
	OpReturnVoidBarrier:       {"return-void-barrier", Format10x, RefNone, FlagOdex | FlagReturn},
	OpIgetQuick:               {"iget-quick", Format22cs, RefFieldOffset, FlagOdex},
	OpIgetWideQuick:           {"iget-wide-quick", Format22cs, RefFieldOffset, FlagOdex},
	OpIgetObjectQuick:         {"iget-object-quick", Format22cs, RefFieldOffset, FlagOdex},
	OpIputQuick:               {"iput-quick", Format22cs, RefFieldOffset, FlagOdex},
	OpIputWideQuick:           {"iput-wide-quick", Format22cs, RefFieldOffset, FlagOdex},
	OpIputObjectQuick:         {"iput-object-quick", Format22cs, RefFieldOffset, FlagOdex},
	OpInvokeVirtualQuick:      {"invoke-virtual-quick", Format35ms, RefVtable, FlagOdex | FlagInvoke | FlagSetsResult},
	OpInvokeVirtualQuickRange: {"invoke-virtual-quick/range", Format3rms, RefVtable, FlagOdex | FlagInvoke | FlagSetsResult},
	OpInvokeSuperQuick:        {"invoke-super-quick", Format35ms, RefVtable, FlagOdex | FlagInvoke | FlagSetsResult},
	OpInvokeSuperQuickRange:   {"invoke-super-quick/range", Format3rms, RefVtable, FlagOdex | FlagInvoke | FlagSetsResult},
	OpInvokeObjectInitRange:   {"invoke-object-init/range", Format3rc, RefMethod, FlagOdex | FlagInvoke | FlagSetsResult},

	OpPackedSwitchPayload: {"packed-switch-payload", FormatPackedSwitchPayload, RefNone, 0},
	OpSparseSwitchPayload: {"sparse-switch-payload", FormatSparseSwitchPayload, RefNone, 0},
	OpArrayPayload:        {"array-payload", FormatArrayPayload, RefNone, 0},
}

// Families of opcodes that differ only in operand type are registered
// from their suffix lists.
var (
	typedSuffixes = []string{"", "-wide", "-object", "-boolean", "-byte", "-char", "-short"}
	unaryNames    = []string{
		"neg-int", "not-int", "neg-long", "not-long", "neg-float", "neg-double",
		"int-to-long", "int-to-float", "int-to-double", "long-to-int", "long-to-float",
		"long-to-double", "float-to-int", "float-to-long", "float-to-double",
		"double-to-int", "double-to-long", "double-to-float", "int-to-byte",
		"int-to-char", "int-to-short",
	}
	binaryNames = []string{
		"add-int", "sub-int", "mul-int", "div-int", "rem-int", "and-int", "or-int",
		"xor-int", "shl-int", "shr-int", "ushr-int",
		"add-long", "sub-long", "mul-long", "div-long", "rem-long", "and-long",
		"or-long", "xor-long", "shl-long", "shr-long", "ushr-long",
		"add-float", "sub-float", "mul-float", "div-float", "rem-float",
		"add-double", "sub-double", "mul-double", "div-double", "rem-double",
	}
	lit16Names = []string{
		"add-int/lit16", "rsub-int", "mul-int/lit16", "div-int/lit16",
		"rem-int/lit16", "and-int/lit16", "or-int/lit16", "xor-int/lit16",
	}
	lit8Names = []string{
		"add-int/lit8", "rsub-int/lit8", "mul-int/lit8", "div-int/lit8",
		"rem-int/lit8", "and-int/lit8", "or-int/lit8", "xor-int/lit8",
		"shl-int/lit8", "shr-int/lit8", "ushr-int/lit8",
	}
	cmpNames = []string{"cmpl-float", "cmpg-float", "cmpl-double", "cmpg-double", "cmp-long"}
	ifNames  = []string{"eq", "ne", "lt", "ge", "gt", "le"}
)

var mnemonics map[string]Opcode

func init() {
	register := func(op Opcode, name string, f Format, ref RefKind, flags OpFlags) {
		opcodeInfoTable[op] = OpcodeInfo{Name: name, Format: f, Ref: ref, Flags: flags}
	}
	for i, name := range cmpNames {
		register(OpCmplFloat+Opcode(i), name, Format23x, RefNone, 0)
	}
	for i, cond := range ifNames {
		register(OpIfEq+Opcode(i), "if-"+cond, Format22t, RefNone, FlagBranch)
		register(OpIfEqz+Opcode(i), "if-"+cond+"z", Format21t, RefNone, FlagBranch)
	}
	for i, sfx := range typedSuffixes {
		register(OpAget+Opcode(i), "aget"+sfx, Format23x, RefNone, 0)
		register(OpAput+Opcode(i), "aput"+sfx, Format23x, RefNone, 0)
		register(OpIget+Opcode(i), "iget"+sfx, Format22c, RefField, 0)
		register(OpIput+Opcode(i), "iput"+sfx, Format22c, RefField, 0)
		register(OpSget+Opcode(i), "sget"+sfx, Format21c, RefField, 0)
		register(OpSput+Opcode(i), "sput"+sfx, Format21c, RefField, 0)
	}
	for i, name := range unaryNames {
		register(OpNegInt+Opcode(i), name, Format12x, RefNone, 0)
	}
	for i, name := range binaryNames {
		register(OpAddInt+Opcode(i), name, Format23x, RefNone, 0)
		register(OpAddInt2Addr+Opcode(i), name+"/2addr", Format12x, RefNone, 0)
	}
	for i, name := range lit16Names {
		register(OpAddIntLit16+Opcode(i), name, Format22s, RefNone, 0)
	}
	for i, name := range lit8Names {
		register(OpAddIntLit8+Opcode(i), name, Format22b, RefNone, 0)
	}

	mnemonics = make(map[string]Opcode, len(opcodeInfoTable))
	for op, info := range opcodeInfoTable {
		mnemonics[info.Name] = op
	}
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", uint16(op))}
}

// LookupMnemonic returns the opcode with the given assembly name.
func LookupMnemonic(name string) (Opcode, bool) {
	op, ok := mnemonics[name]
	return op, ok
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// String returns the assembly mnemonic of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

func (op Opcode) Format() Format { return GetOpcodeInfo(op).Format }

func (op Opcode) Ref() RefKind { return GetOpcodeInfo(op).Ref }

func (op Opcode) Has(f OpFlags) bool { return GetOpcodeInfo(op).Flags&f != 0 }

// CanContinue reports whether execution may fall through to the next instruction.
func (op Opcode) CanContinue() bool {
	return !op.Has(FlagGoto|FlagReturn|FlagThrow) && !op.Format().IsPayload()
}

// IsStaticInvoke reports whether an invoke opcode passes no receiver.
func (op Opcode) IsStaticInvoke() bool {
	return op == OpInvokeStatic || op == OpInvokeStaticRange
}

// AllOpcodes returns every defined opcode.
func AllOpcodes() []Opcode {
	ops := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		ops = append(ops, op)
	}
	return ops
}

// ========================================================================
// Optimized opcode classification
// ========================================================================

// OdexKind classifies device-optimized instructions by how they are resolved.
type OdexKind uint8

const (
	NotOptimized OdexKind = iota
	InlineInvoke
	QuickFieldAccess
	QuickVirtualInvoke
	DirectEmptyInvoke
	ObjectInitInvoke
	ReturnVoidBarrier
)

var odexKindNames = [...]string{
	"none", "inline-invoke", "quick-field-access", "quick-virtual-invoke",
	"direct-empty-invoke", "object-init-invoke", "return-void-barrier",
}

func (k OdexKind) String() string {
	if int(k) < len(odexKindNames) {
		return odexKindNames[k]
	}
	return fmt.Sprintf("OdexKind(%d)", k)
}

// OdexKind returns the optimized-form classification of op.
func (op Opcode) OdexKind() OdexKind {
	switch op {
	case OpExecuteInline, OpExecuteInlineRange:
		return InlineInvoke
	case OpIgetQuick, OpIgetWideQuick, OpIgetObjectQuick,
		OpIputQuick, OpIputWideQuick, OpIputObjectQuick:
		return QuickFieldAccess
	case OpInvokeVirtualQuick, OpInvokeVirtualQuickRange,
		OpInvokeSuperQuick, OpInvokeSuperQuickRange:
		return QuickVirtualInvoke
	case OpInvokeDirectEmpty:
		return DirectEmptyInvoke
	case OpInvokeObjectInitRange:
		return ObjectInitInvoke
	case OpReturnVoidBarrier:
		return ReturnVoidBarrier
	}
	return NotOptimized
}

// IsQuickWrite reports whether a quick field op stores into the field.
func (op Opcode) IsQuickWrite() bool {
	return op >= OpIputQuick && op <= OpIputObjectQuick
}

// IsSuperQuick reports whether a quick invoke dispatches through the superclass.
func (op Opcode) IsSuperQuick() bool {
	return op == OpInvokeSuperQuick || op == OpInvokeSuperQuickRange
}
