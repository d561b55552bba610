package dex

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ---------------------------------------------------------------------------
// Container format
// ---------------------------------------------------------------------------

// Magic identifies a class container file. The trailing digits are the
// format revision.
var Magic = [8]byte{'d', 'x', 'a', '\n', '0', '0', '1', 0}

// cborEncMode uses canonical mode so that identical containers encode to
// identical bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("dex: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// noIndex marks an absent optional pool reference.
const noIndex = -1

// imageFile is the top-level CBOR document following the magic.
type imageFile struct {
	OdexVersion int               `cbor:"1,keyasint,omitempty"`
	Strings     []string          `cbor:"2,keyasint"`
	Types       []uint32          `cbor:"3,keyasint"`
	Protos      []protoItem       `cbor:"4,keyasint"`
	Fields      []fieldItem       `cbor:"5,keyasint"`
	Methods     []methodItem      `cbor:"6,keyasint"`
	ClassTypes  []uint32          `cbor:"7,keyasint"`
	Classes     []cbor.RawMessage `cbor:"8,keyasint"`
}

type protoItem struct {
	Return uint32   `cbor:"1,keyasint"`
	Params []uint32 `cbor:"2,keyasint,omitempty"`
}

type fieldItem struct {
	Class uint32 `cbor:"1,keyasint"`
	Type  uint32 `cbor:"2,keyasint"`
	Name  uint32 `cbor:"3,keyasint"`
}

type methodItem struct {
	Class uint32 `cbor:"1,keyasint"`
	Proto uint32 `cbor:"2,keyasint"`
	Name  uint32 `cbor:"3,keyasint"`
}

type classItem struct {
	Access         uint32           `cbor:"1,keyasint,omitempty"`
	Super          int64            `cbor:"2,keyasint"`
	Interfaces     []uint32         `cbor:"3,keyasint,omitempty"`
	Source         int64            `cbor:"4,keyasint"`
	Annotations    []annotationItem `cbor:"5,keyasint,omitempty"`
	StaticFields   []fieldDef       `cbor:"6,keyasint,omitempty"`
	InstanceFields []fieldDef       `cbor:"7,keyasint,omitempty"`
	DirectMethods  []methodDef      `cbor:"8,keyasint,omitempty"`
	VirtualMethods []methodDef      `cbor:"9,keyasint,omitempty"`
}

type fieldDef struct {
	Field       uint32           `cbor:"1,keyasint"`
	Access      uint32           `cbor:"2,keyasint,omitempty"`
	Initial     *valueItem       `cbor:"3,keyasint,omitempty"`
	Annotations []annotationItem `cbor:"4,keyasint,omitempty"`
}

type methodDef struct {
	Method      uint32           `cbor:"1,keyasint"`
	Access      uint32           `cbor:"2,keyasint,omitempty"`
	Annotations []annotationItem `cbor:"3,keyasint,omitempty"`
	ParamNames  []int64          `cbor:"4,keyasint,omitempty"`
	Code        *codeItem        `cbor:"5,keyasint,omitempty"`
}

type codeItem struct {
	Registers uint32      `cbor:"1,keyasint"`
	Ins       uint32      `cbor:"2,keyasint"`
	Outs      uint32      `cbor:"3,keyasint"`
	Insns     []uint16    `cbor:"4,keyasint"`
	Tries     []tryItem   `cbor:"5,keyasint,omitempty"`
	Debug     []debugItem `cbor:"6,keyasint,omitempty"`
}

type tryItem struct {
	Start    uint32        `cbor:"1,keyasint"`
	Count    uint32        `cbor:"2,keyasint"`
	Handlers []handlerItem `cbor:"3,keyasint"`
}

type handlerItem struct {
	Type int64  `cbor:"1,keyasint"`
	Addr uint32 `cbor:"2,keyasint"`
}

type debugItem struct {
	Kind uint8  `cbor:"1,keyasint"`
	Addr uint32 `cbor:"2,keyasint"`
	Line int64  `cbor:"3,keyasint,omitempty"`
	Reg  uint32 `cbor:"4,keyasint,omitempty"`
	Name int64  `cbor:"5,keyasint"`
	Type int64  `cbor:"6,keyasint"`
	Sig  int64  `cbor:"7,keyasint"`
}

type valueItem struct {
	Kind       uint8           `cbor:"1,keyasint"`
	Bits       int64           `cbor:"2,keyasint,omitempty"`
	Index      uint32          `cbor:"3,keyasint,omitempty"`
	Elems      []valueItem     `cbor:"4,keyasint,omitempty"`
	Annotation *annotationItem `cbor:"5,keyasint,omitempty"`
}

type annotationItem struct {
	Visibility uint8         `cbor:"1,keyasint"`
	Type       uint32        `cbor:"2,keyasint"`
	Elements   []elementItem `cbor:"3,keyasint,omitempty"`
}

type elementItem struct {
	Name  uint32    `cbor:"1,keyasint"`
	Value valueItem `cbor:"2,keyasint"`
}
