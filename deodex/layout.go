package deodex

import (
	"fmt"
	"strings"

	"github.com/chazu/dexasm/pkg/dex"
)

// objectHeader is the size of the per-object header preceding instance data.
const objectHeader = 8

// ClassProto is the resolved runtime layout of a class: where its instance
// fields live and which method occupies each vtable slot.
type ClassProto struct {
	Type      string
	Super     string
	Access    dex.AccessFlags
	Size      int // end of instance data, header included
	VTable    []dex.MethodRef
	vaccess   []dex.AccessFlags // access of each VTable method
	fieldAt   map[int]dex.FieldRef
	offsetsOf map[string]int
}

// IsInterface reports whether the class is an interface.
func (p *ClassProto) IsInterface() bool {
	return p.Access.IsInterface()
}

// FieldAt returns the instance field stored at a byte offset.
func (p *ClassProto) FieldAt(offset int) (dex.FieldRef, bool) {
	f, ok := p.fieldAt[offset]
	return f, ok
}

// FieldOffset returns the byte offset of an instance field by signature.
func (p *ClassProto) FieldOffset(f dex.FieldRef) (int, bool) {
	off, ok := p.offsetsOf[f.Sig()]
	return off, ok
}

// VTableMethod returns the method in a vtable slot.
func (p *ClassProto) VTableMethod(index int) (dex.MethodRef, bool) {
	if index < 0 || index >= len(p.VTable) {
		return dex.MethodRef{}, false
	}
	return p.VTable[index], true
}

// VTableIndex returns the slot of the method matching name and prototype.
func (p *ClassProto) VTableIndex(m dex.MethodRef) (int, bool) {
	for i, v := range p.VTable {
		if v.SameSignature(m) {
			return i, true
		}
	}
	return 0, false
}

// overridden returns the slot a method declared with m's signature replaces.
// With strict set, a package-private slot is only replaced by a method of
// the same package.
func (p *ClassProto) overridden(m dex.MethodRef, strict bool) (int, bool) {
	for i, v := range p.VTable {
		if !v.SameSignature(m) {
			continue
		}
		if strict && p.vaccess[i]&(dex.AccPublic|dex.AccProtected|dex.AccPrivate) == 0 &&
			packageOf(v.Class) != packageOf(m.Class) {
			continue
		}
		return i, true
	}
	return 0, false
}

// packageOf returns the package part of a class descriptor.
func packageOf(desc string) string {
	if i := strings.LastIndexByte(desc, '/'); i >= 0 {
		return desc[:i]
	}
	return ""
}

// buildProto lays out desc on top of its superclass layout.
func (cp *ClassPath) buildProto(desc string) (*ClassProto, error) {
	if _, err := cp.superChain(desc); err != nil {
		return nil, err
	}
	c, err := cp.Class(desc)
	if err != nil {
		return nil, err
	}

	p := &ClassProto{
		Type:      desc,
		Super:     c.Super,
		Access:    c.Access,
		Size:      objectHeader,
		fieldAt:   make(map[int]dex.FieldRef),
		offsetsOf: make(map[string]int),
	}
	if c.Super != "" {
		sp, err := cp.Proto(c.Super)
		if err != nil {
			return nil, fmt.Errorf("deodex: superclass of %s: %w", desc, err)
		}
		p.Size = sp.Size
		for off, f := range sp.fieldAt {
			p.fieldAt[off] = f
		}
		for sig, off := range sp.offsetsOf {
			p.offsetsOf[sig] = off
		}
		if !c.Access.IsInterface() {
			p.VTable = append(p.VTable, sp.VTable...)
			p.vaccess = append(p.vaccess, sp.vaccess...)
		}
	}

	for _, f := range c.InstanceFields {
		size := 4
		if dex.IsWide(f.Ref.Type) {
			size = 8
		}
		off := align(p.Size, size)
		p.fieldAt[off] = f.Ref
		// A field hiding a superclass field of the same signature shadows it
		// for lookups by signature; both keep their storage.
		p.offsetsOf[f.Ref.Sig()] = off
		p.Size = off + size
	}

	for _, m := range c.VirtualMethods {
		if i, ok := p.overridden(m.Ref, cp.CheckPackagePrivate); ok {
			p.VTable[i] = m.Ref
			p.vaccess[i] = m.Access
			continue
		}
		p.VTable = append(p.VTable, m.Ref)
		p.vaccess = append(p.vaccess, m.Access)
	}

	if c.Access.IsAbstract() || c.Access.IsInterface() {
		if err := cp.addMirandas(p, c); err != nil {
			return nil, err
		}
	}
	log.Debugf("laid out %s: %d bytes, %d vtable slots", desc, p.Size, len(p.VTable))
	return p, nil
}

// addMirandas appends a slot for every interface method the class does not
// implement, walking interfaces depth first in declaration order.
func (cp *ClassPath) addMirandas(p *ClassProto, c *dex.ClassDef) error {
	seen := make(map[string]bool)
	var visit func(iface string) error
	visit = func(iface string) error {
		if seen[iface] {
			return nil
		}
		seen[iface] = true
		ic, err := cp.Class(iface)
		if err != nil {
			return fmt.Errorf("deodex: interface of %s: %w", c.Type, err)
		}
		for _, m := range ic.VirtualMethods {
			if _, ok := p.VTableIndex(m.Ref); !ok {
				p.VTable = append(p.VTable, m.Ref)
				p.vaccess = append(p.vaccess, m.Access)
			}
		}
		for _, sup := range ic.Interfaces {
			if err := visit(sup); err != nil {
				return err
			}
		}
		return nil
	}
	for _, iface := range c.Interfaces {
		if err := visit(iface); err != nil {
			return err
		}
	}
	return nil
}

func align(n, to int) int {
	return (n + to - 1) / to * to
}
