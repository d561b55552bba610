// Package deodex rewrites device-optimized instructions into their portable
// symbolic forms. Inline-invoke indices are resolved through a versioned
// inline method table; field offsets and vtable indices are resolved
// against class layouts computed from a classpath, using register types
// found by a dataflow pass over the method.
package deodex

import (
	"errors"
	"fmt"

	"github.com/chazu/dexasm/pkg/dex"
)

var (
	// ErrClassNotFound is returned when no classpath entry defines a class.
	ErrClassNotFound = errors.New("deodex: class not found")

	// ErrMemberNotFound is returned when a class does not declare a field
	// or method the resolver needs.
	ErrMemberNotFound = errors.New("deodex: member not found")

	// ErrNoInlineTable is returned for inline invokes when no table is
	// available for the container's odex version.
	ErrNoInlineTable = errors.New("deodex: no inline method table")
)

// UnresolvedError reports an optimized instruction that could not be
// rewritten. Resolution fails closed: the class is not emitted.
type UnresolvedError struct {
	Class  string
	Method string
	Offset int
	Kind   dex.OdexKind
	Reason string
	Err    error
}

func (e *UnresolvedError) Error() string {
	msg := fmt.Sprintf("unresolved optimized reference: %s->%s @%#x (%s): %s",
		e.Class, e.Method, e.Offset, e.Kind, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UnresolvedError) Unwrap() error {
	return e.Err
}
