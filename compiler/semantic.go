package compiler

import (
	"fmt"

	"github.com/chazu/dexasm/pkg/dex"
)

// ---------------------------------------------------------------------------
// Semantic Analyzer: warnings that do not stop assembly
// ---------------------------------------------------------------------------

// SemanticAnalyzer looks for suspicious but legal constructs in a parsed
// class unit: unused labels, unreachable instructions and parameter
// declarations that shadow each other.
type SemanticAnalyzer struct {
	warnings []string
}

// NewSemanticAnalyzer creates a new semantic analyzer.
func NewSemanticAnalyzer() *SemanticAnalyzer {
	return &SemanticAnalyzer{}
}

// Warnings returns accumulated warnings.
func (s *SemanticAnalyzer) Warnings() []string {
	return s.warnings
}

// warnAt records a warning with position information.
func (s *SemanticAnalyzer) warnAt(pos Position, format string, args ...any) {
	msg := fmt.Sprintf("warning: line %d, column %d: %s", pos.Line, pos.Column, fmt.Sprintf(format, args...))
	s.warnings = append(s.warnings, msg)
}

// Analyze runs every check over f and returns the warnings found.
func Analyze(f *ClassFile) []string {
	s := NewSemanticAnalyzer()
	for _, m := range f.Methods {
		s.AnalyzeMethod(m)
	}
	return s.Warnings()
}

// AnalyzeMethod checks one method body.
func (s *SemanticAnalyzer) AnalyzeMethod(m *MethodNode) {
	s.checkUnusedLabels(m)
	s.checkUnreachableCode(m)
	s.checkParams(m)
}

// checkUnusedLabels warns about labels nothing refers to.
func (s *SemanticAnalyzer) checkUnusedLabels(m *MethodNode) {
	used := make(map[string]bool)
	for _, st := range m.Body {
		switch t := st.(type) {
		case *InstructionStmt:
			for _, o := range t.Operands {
				if o.Kind == OpndLabel {
					used[o.Label] = true
				}
			}
		case *CatchStmt:
			used[t.Start], used[t.End], used[t.Handler] = true, true, true
		case *PackedSwitchStmt:
			for _, l := range t.Targets {
				used[l] = true
			}
		case *SparseSwitchStmt:
			for _, l := range t.Targets {
				used[l] = true
			}
		}
	}
	for _, st := range m.Body {
		if l, ok := st.(*LabelStmt); ok && !used[l.Name] {
			s.warnAt(l.Pos, "label :%s is never used", l.Name)
		}
	}
}

// checkUnreachableCode warns about the first instruction after an
// unconditional transfer that no label makes reachable again.
func (s *SemanticAnalyzer) checkUnreachableCode(m *MethodNode) {
	dead := false
	for _, st := range m.Body {
		switch t := st.(type) {
		case *LabelStmt:
			dead = false
		case *InstructionStmt:
			if dead {
				s.warnAt(t.Pos, "unreachable instruction %s", t.Mnemonic)
				dead = false
				continue
			}
			if op, ok := dex.LookupMnemonic(t.Mnemonic); ok {
				dead = !op.CanContinue()
			}
		case *PackedSwitchStmt, *SparseSwitchStmt, *ArrayDataStmt:
			// Payloads sit after the last reachable instruction.
			dead = false
		}
	}
}

// checkParams warns when a register is named by more than one .param.
func (s *SemanticAnalyzer) checkParams(m *MethodNode) {
	seen := make(map[Register]bool)
	for _, p := range m.ParamDecls {
		if seen[p.Reg] {
			s.warnAt(p.Pos, "parameter %s declared more than once", p.Reg)
		}
		seen[p.Reg] = true
	}
}
