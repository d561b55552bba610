// Package server implements a language server for assembly text.
package server

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/dexasm/compiler"
	"github.com/chazu/dexasm/pkg/dex"
)

const lspName = "dexasm-lsp"

var log = commonlog.GetLogger("dexasm.server")

// directives lists the directives offered by completion.
var directives = []string{
	".class", ".super", ".source", ".implements", ".field", ".end field",
	".method", ".end method", ".registers", ".locals", ".param",
	".annotation", ".end annotation", ".subannotation", ".end subannotation", ".enum",
	".catch", ".catchall", ".line", ".local", ".end local", ".restart local",
	".prologue", ".epilogue", ".packed-switch", ".end packed-switch",
	".sparse-switch", ".end sparse-switch", ".array-data", ".end array-data",
}

// LspServer checks assembly documents as they are edited.
type LspServer struct {
	worker *Worker

	mu   sync.Mutex
	docs map[string]string // URI → full document content

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new language server.
func NewLSP(version string) *LspServer {
	s := &LspServer{
		worker:  NewWorker(),
		docs:    make(map[string]string),
		version: version,
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
		TextDocumentDefinition: s.textDocumentDefinition,
		TextDocumentReferences: s.textDocumentReferences,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	log.Info("dexasm LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{
		TriggerCharacters: []string{".", ":"},
	}

	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true
	capabilities.ReferencesProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	s.worker.Stop()
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	text := params.TextDocument.Text

	s.mu.Lock()
	s.docs[string(uri)] = text
	s.mu.Unlock()

	s.publishDiagnostics(ctx, uri, text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.mu.Lock()
			s.docs[string(uri)] = whole.Text
			s.mu.Unlock()

			s.publishDiagnostics(ctx, uri, whole.Text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	// Clear diagnostics for the closed document
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

func (s *LspServer) document(uri protocol.DocumentUri) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.docs[string(uri)]
	return text, ok
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	prefix := extractPrefix(text, params.Position)
	if prefix == "" {
		return nil, nil
	}
	return complete(text, params.Position, prefix), nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	return hover(word), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	uri := params.TextDocument.URI
	text, ok := s.document(uri)
	if !ok {
		return nil, nil
	}
	word := extractWord(text, params.Position)
	if !strings.HasPrefix(word, ":") {
		return nil, nil
	}
	defs, _ := labelSites(text, int(params.Position.Line), word)
	return locations(uri, defs), nil
}

func (s *LspServer) textDocumentReferences(ctx *glsp.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	uri := params.TextDocument.URI
	text, ok := s.document(uri)
	if !ok {
		return nil, nil
	}
	word := extractWord(text, params.Position)
	if !strings.HasPrefix(word, ":") {
		return nil, nil
	}
	defs, refs := labelSites(text, int(params.Position.Line), word)
	if params.Context.IncludeDeclaration {
		refs = append(defs, refs...)
	}
	return locations(uri, refs), nil
}

func complete(text string, pos protocol.Position, prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem
	add := func(label, detail string, kind protocol.CompletionItemKind) {
		k, d, l := kind, detail, label
		items = append(items, protocol.CompletionItem{Label: l, Kind: &k, Detail: &d, InsertText: &l})
	}

	switch {
	case strings.HasPrefix(prefix, "."):
		for _, d := range directives {
			if strings.HasPrefix(d, prefix) {
				add(d, "directive", protocol.CompletionItemKindKeyword)
			}
		}
	case strings.HasPrefix(prefix, ":"):
		start, end := methodBounds(text, int(pos.Line))
		seen := make(map[string]bool)
		for _, site := range scanLabels(text, start, end) {
			if site.def && strings.HasPrefix(site.name, prefix) && !seen[site.name] {
				seen[site.name] = true
				add(site.name, "label", protocol.CompletionItemKindReference)
			}
		}
	default:
		var names []string
		for _, op := range dex.AllOpcodes() {
			if op.Format().IsPayload() || op.Has(dex.FlagOdex) {
				continue
			}
			if name := op.String(); strings.HasPrefix(name, prefix) {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		for _, name := range names {
			op, _ := dex.LookupMnemonic(name)
			add(name, "format "+op.Format().String(), protocol.CompletionItemKindFunction)
		}
	}

	// Limit results
	const maxItems = 100
	if len(items) > maxItems {
		items = items[:maxItems]
	}
	return items
}

func hover(word string) *protocol.Hover {
	op, ok := dex.LookupMnemonic(word)
	if !ok {
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**%s** (0x%02x)\n\n", op, uint16(op))
	fmt.Fprintf(&b, "Format %s, %d code units", op.Format(), op.Format().Units())
	if op.Ref() != dex.RefNone {
		fmt.Fprintf(&b, ", %s reference", op.Ref())
	}
	b.WriteString("\n\n")
	if k := op.OdexKind(); k != dex.NotOptimized {
		fmt.Fprintf(&b, "Optimized form (%s). It cannot be assembled; deodex the input instead.\n", k)
	}
	if !op.CanContinue() {
		b.WriteString("Does not fall through.\n")
	}

	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: b.String(),
		},
	}
}

// --- Labels ---

// labelSite is a label definition or use within a document.
type labelSite struct {
	name       string
	line       int
	start, end int // byte columns
	def        bool
}

// methodBounds returns the line range [start, end) of the method enclosing
// line, or the whole document outside methods.
func methodBounds(text string, line int) (int, int) {
	lines := strings.Split(text, "\n")
	start, end := 0, len(lines)
	for i := line; i >= 0 && i < len(lines); i-- {
		if t := strings.TrimSpace(lines[i]); strings.HasPrefix(t, ".method") {
			start = i
			break
		} else if strings.HasPrefix(t, ".end method") && i != line {
			start = i + 1
			break
		}
	}
	for i := line; i < len(lines); i++ {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), ".end method") {
			end = i + 1
			break
		}
	}
	return start, end
}

// scanLabels finds label definitions and uses in lines [start, end).
// Strings and comments are skipped.
func scanLabels(text string, start, end int) []labelSite {
	var sites []labelSite
	lines := strings.Split(text, "\n")
	for n := start; n < end && n < len(lines); n++ {
		line := lines[n]
		def := strings.HasPrefix(strings.TrimSpace(line), ":")
		inString := false
		for i := 0; i < len(line); i++ {
			switch c := line[i]; {
			case c == '"':
				inString = !inString
			case c == '\\' && inString:
				i++
			case c == '#' && !inString:
				i = len(line)
			case c == ':' && !inString && (i == 0 || !isWordChar(rune(line[i-1]))):
				j := i + 1
				for j < len(line) && isWordChar(rune(line[j])) {
					j++
				}
				if j > i+1 {
					sites = append(sites, labelSite{name: line[i:j], line: n, start: i, end: j, def: def})
				}
				def = false
				i = j - 1
			}
		}
	}
	return sites
}

// labelSites returns the definitions and uses of label within the method
// enclosing line.
func labelSites(text string, line int, label string) (defs, refs []labelSite) {
	start, end := methodBounds(text, line)
	for _, site := range scanLabels(text, start, end) {
		if site.name != label {
			continue
		}
		if site.def {
			defs = append(defs, site)
		} else {
			refs = append(refs, site)
		}
	}
	return defs, refs
}

func locations(uri protocol.DocumentUri, sites []labelSite) []protocol.Location {
	var locs []protocol.Location
	for _, site := range sites {
		locs = append(locs, protocol.Location{
			URI: uri,
			Range: protocol.Range{
				Start: protocol.Position{Line: protocol.UInteger(site.line), Character: protocol.UInteger(site.start)},
				End:   protocol.Position{Line: protocol.UInteger(site.line), Character: protocol.UInteger(site.end)},
			},
		})
	}
	return locs
}

// --- Diagnostics ---

// diagnose parses and compiles text. Semantic errors are only reported
// once the text parses; warnings come from the analyzer.
func diagnose(text string) []protocol.Diagnostic {
	f, errs := compiler.Parse(text)
	var warnings []string
	if len(errs) == 0 {
		c := compiler.NewCompiler()
		c.Compile(f)
		errs = c.Errors()
		warnings = compiler.Analyze(f)
	}

	source := lspName
	diagnostics := []protocol.Diagnostic{}
	add := func(msg string, severity protocol.DiagnosticSeverity) {
		line, col, text := splitMessage(msg)
		diagnostics = append(diagnostics, protocol.Diagnostic{
			Range: protocol.Range{
				Start: protocol.Position{Line: protocol.UInteger(line), Character: protocol.UInteger(col)},
				End:   protocol.Position{Line: protocol.UInteger(line + 1), Character: 0},
			},
			Severity: &severity,
			Source:   &source,
			Message:  text,
		})
	}
	for _, e := range errs {
		add(e, protocol.DiagnosticSeverityError)
	}
	for _, w := range warnings {
		add(w, protocol.DiagnosticSeverityWarning)
	}
	return diagnostics
}

// splitMessage extracts the 0-based position from "line N: msg" and
// "warning: line N, column C: msg".
func splitMessage(msg string) (line, col int, text string) {
	rest := strings.TrimPrefix(msg, "warning: ")
	rest, ok := strings.CutPrefix(rest, "line ")
	if !ok {
		return 0, 0, msg
	}
	head, text, ok := strings.Cut(rest, ": ")
	if !ok {
		return 0, 0, msg
	}
	lineStr, colStr, hasCol := strings.Cut(head, ", column ")
	n, err := strconv.Atoi(lineStr)
	if err != nil || n < 1 {
		return 0, 0, msg
	}
	if hasCol {
		if c, err := strconv.Atoi(colStr); err == nil && c > 0 {
			col = c - 1
		}
	}
	return n - 1, col, text
}

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	result, err := s.worker.Do(func() any {
		return diagnose(text)
	})
	if err != nil {
		log.Errorf("diagnostics for %s: %v", uri, err)
		return
	}

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: result.([]protocol.Diagnostic),
	})
}

// --- Text extraction helpers ---

// isWordChar reports whether c can appear in a mnemonic, label or
// directive name.
func isWordChar(c rune) bool {
	return unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_' || c == '-' || c == '/' || c == '$'
}

// extractPrefix returns the word fragment before the cursor for completion,
// including a leading '.' or ':'.
func extractPrefix(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	// Walk backwards from cursor to find the start of the word
	start := col
	for start > 0 && isWordChar(rune(line[start-1])) {
		start--
	}
	if start > 0 && (line[start-1] == '.' || line[start-1] == ':') {
		start--
	}

	if start == col {
		return ""
	}
	return line[start:col]
}

// extractWord returns the full word under the cursor. A label keeps its
// leading ':'.
func extractWord(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	// Find start
	start := col
	for start > 0 && isWordChar(rune(line[start-1])) {
		start--
	}
	if start < col && start > 0 && line[start-1] == ':' {
		start--
	} else if start == col && col < len(line) && line[col] == ':' {
		col++
	}

	// Find end
	end := col
	for end < len(line) && isWordChar(rune(line[end])) {
		end++
	}

	if start == end || line[start:end] == ":" {
		return ""
	}
	return line[start:end]
}

func boolPtr(b bool) *bool {
	return &b
}
