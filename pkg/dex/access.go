package dex

import "strings"

// AccessFlags is the access_flags bit set of a class, field or method.
type AccessFlags uint32

const (
	AccPublic               AccessFlags = 0x1
	AccPrivate              AccessFlags = 0x2
	AccProtected            AccessFlags = 0x4
	AccStatic               AccessFlags = 0x8
	AccFinal                AccessFlags = 0x10
	AccSynchronized         AccessFlags = 0x20
	AccVolatile             AccessFlags = 0x40
	AccBridge               AccessFlags = 0x40
	AccTransient            AccessFlags = 0x80
	AccVarargs              AccessFlags = 0x80
	AccNative               AccessFlags = 0x100
	AccInterface            AccessFlags = 0x200
	AccAbstract             AccessFlags = 0x400
	AccStrict               AccessFlags = 0x800
	AccSynthetic            AccessFlags = 0x1000
	AccAnnotation           AccessFlags = 0x2000
	AccEnum                 AccessFlags = 0x4000
	AccConstructor          AccessFlags = 0x10000
	AccDeclaredSynchronized AccessFlags = 0x20000
)

// MemberKind selects which flag names apply, since several bits are
// overloaded between fields and methods.
type MemberKind uint8

const (
	ClassMember MemberKind = iota
	FieldMember
	MethodMember
)

type accessName struct {
	flag  AccessFlags
	name  string
	kinds []MemberKind
}

var (
	allKinds    = []MemberKind{ClassMember, FieldMember, MethodMember}
	accessNames = []accessName{
		{AccPublic, "public", allKinds},
		{AccPrivate, "private", allKinds},
		{AccProtected, "protected", allKinds},
		{AccStatic, "static", allKinds},
		{AccFinal, "final", allKinds},
		{AccSynchronized, "synchronized", []MemberKind{MethodMember}},
		{AccVolatile, "volatile", []MemberKind{FieldMember}},
		{AccBridge, "bridge", []MemberKind{MethodMember}},
		{AccTransient, "transient", []MemberKind{FieldMember}},
		{AccVarargs, "varargs", []MemberKind{MethodMember}},
		{AccNative, "native", []MemberKind{MethodMember}},
		{AccInterface, "interface", []MemberKind{ClassMember}},
		{AccAbstract, "abstract", []MemberKind{ClassMember, MethodMember}},
		{AccStrict, "strictfp", []MemberKind{MethodMember}},
		{AccSynthetic, "synthetic", allKinds},
		{AccAnnotation, "annotation", []MemberKind{ClassMember}},
		{AccEnum, "enum", []MemberKind{ClassMember, FieldMember}},
		{AccConstructor, "constructor", []MemberKind{MethodMember}},
		{AccDeclaredSynchronized, "declared-synchronized", []MemberKind{MethodMember}},
	}
)

// Format renders the flags as space separated keywords valid for kind.
func (a AccessFlags) Format(kind MemberKind) string {
	var names []string
	for _, n := range accessNames {
		if a&n.flag != 0 && n.appliesTo(kind) {
			names = append(names, n.name)
		}
	}
	return strings.Join(names, " ")
}

func (n accessName) appliesTo(kind MemberKind) bool {
	for _, k := range n.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// ParseAccessFlag returns the flag for an access keyword.
func ParseAccessFlag(word string) (AccessFlags, bool) {
	for _, n := range accessNames {
		if n.name == word {
			return n.flag, true
		}
	}
	return 0, false
}

func (a AccessFlags) IsStatic() bool    { return a&AccStatic != 0 }
func (a AccessFlags) IsPrivate() bool   { return a&AccPrivate != 0 }
func (a AccessFlags) IsAbstract() bool  { return a&AccAbstract != 0 }
func (a AccessFlags) IsInterface() bool { return a&AccInterface != 0 }
