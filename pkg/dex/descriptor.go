package dex

import (
	"fmt"
	"strings"
)

// ValidTypeDescriptor reports whether s is a well-formed type descriptor:
// a primitive, a class type Lpkg/Name; or an array of either.
func ValidTypeDescriptor(s string) bool {
	dims := 0
	for dims < len(s) && s[dims] == '[' {
		dims++
	}
	if dims > 255 {
		return false
	}
	elem := s[dims:]
	if len(elem) == 1 {
		if elem == "V" {
			return dims == 0
		}
		return strings.ContainsAny(elem, "ZBSCIJFD")
	}
	return ValidClassDescriptor(elem)
}

// ValidClassDescriptor reports whether s has the class form Lpkg/Name;.
func ValidClassDescriptor(s string) bool {
	if len(s) < 3 || s[0] != 'L' || s[len(s)-1] != ';' {
		return false
	}
	for _, seg := range strings.Split(s[1:len(s)-1], "/") {
		if seg == "" || strings.ContainsAny(seg, ";[.()<>:") {
			return false
		}
	}
	return true
}

// IsWide reports whether values of type t occupy a register pair.
func IsWide(t string) bool {
	return t == "J" || t == "D"
}

// IsReference reports whether t names an object or array type.
func IsReference(t string) bool {
	return len(t) > 0 && (t[0] == 'L' || t[0] == '[')
}

// RegisterWidth returns the number of registers a value of type t occupies.
func RegisterWidth(t string) int {
	if IsWide(t) {
		return 2
	}
	return 1
}

// SplitParams splits a concatenated parameter descriptor list such as
// "IJLjava/lang/String;[I" into its elements.
func SplitParams(s string) ([]string, error) {
	var params []string
	for i := 0; i < len(s); {
		start := i
		for i < len(s) && s[i] == '[' {
			i++
		}
		if i >= len(s) {
			return nil, fmt.Errorf("%w: %q", ErrMalformedDescriptor, s)
		}
		if s[i] == 'L' {
			end := strings.IndexByte(s[i:], ';')
			if end < 0 {
				return nil, fmt.Errorf("%w: %q", ErrMalformedDescriptor, s)
			}
			i += end + 1
		} else {
			i++
		}
		p := s[start:i]
		if p == "V" || !ValidTypeDescriptor(p) {
			return nil, fmt.Errorf("%w: parameter %q", ErrMalformedDescriptor, p)
		}
		params = append(params, p)
	}
	return params, nil
}

// ParseProto parses "(params)ret".
func ParseProto(s string) (params []string, ret string, err error) {
	if !strings.HasPrefix(s, "(") {
		return nil, "", fmt.Errorf("%w: prototype %q", ErrMalformedDescriptor, s)
	}
	end := strings.IndexByte(s, ')')
	if end < 0 {
		return nil, "", fmt.Errorf("%w: prototype %q", ErrMalformedDescriptor, s)
	}
	params, err = SplitParams(s[1:end])
	if err != nil {
		return nil, "", err
	}
	ret = s[end+1:]
	if !ValidTypeDescriptor(ret) {
		return nil, "", fmt.Errorf("%w: return type %q", ErrMalformedDescriptor, ret)
	}
	return params, ret, nil
}

// ParseMethodSig parses a member signature "name(params)ret" for a method
// declared on class.
func ParseMethodSig(class, sig string) (MethodRef, error) {
	open := strings.IndexByte(sig, '(')
	if open <= 0 {
		return MethodRef{}, fmt.Errorf("%w: method %q", ErrMalformedDescriptor, sig)
	}
	params, ret, err := ParseProto(sig[open:])
	if err != nil {
		return MethodRef{}, err
	}
	m := MethodRef{Class: class, Name: sig[:open], Params: params, Return: ret}
	if !validMemberName(m.Name) {
		return MethodRef{}, fmt.Errorf("%w: method name %q", ErrMalformedDescriptor, m.Name)
	}
	return m, nil
}

// ParseFieldSig parses a member signature "name:type" for a field of class.
func ParseFieldSig(class, sig string) (FieldRef, error) {
	colon := strings.LastIndexByte(sig, ':')
	if colon <= 0 {
		return FieldRef{}, fmt.Errorf("%w: field %q", ErrMalformedDescriptor, sig)
	}
	f := FieldRef{Class: class, Name: sig[:colon], Type: sig[colon+1:]}
	if !validMemberName(f.Name) || f.Type == "V" || !ValidTypeDescriptor(f.Type) {
		return FieldRef{}, fmt.Errorf("%w: field %q", ErrMalformedDescriptor, sig)
	}
	return f, nil
}

// ParseMethodRef parses "Lcls;->name(params)ret".
func ParseMethodRef(s string) (MethodRef, error) {
	class, member, ok := strings.Cut(s, "->")
	if !ok || !ValidTypeDescriptor(class) || !IsReference(class) {
		return MethodRef{}, fmt.Errorf("%w: method reference %q", ErrMalformedDescriptor, s)
	}
	return ParseMethodSig(class, member)
}

// ParseFieldRef parses "Lcls;->name:type".
func ParseFieldRef(s string) (FieldRef, error) {
	class, member, ok := strings.Cut(s, "->")
	if !ok || !ValidClassDescriptor(class) {
		return FieldRef{}, fmt.Errorf("%w: field reference %q", ErrMalformedDescriptor, s)
	}
	return ParseFieldSig(class, member)
}

func validMemberName(name string) bool {
	if name == "" {
		return false
	}
	if name == "<init>" || name == "<clinit>" {
		return true
	}
	return !strings.ContainsAny(name, " ;/[()<>:.")
}

// ClassName returns the dotted source-level name of a class descriptor.
func ClassName(desc string) string {
	if ValidClassDescriptor(desc) {
		desc = desc[1 : len(desc)-1]
	}
	return strings.ReplaceAll(desc, "/", ".")
}
