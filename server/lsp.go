package server

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/tom-mohr/compiler/compiler"
	"github.com/tom-mohr/compiler/vm"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "ivm-lsp"

var keywords = []string{"let", "if", "while"}

// LspServer provides diagnostics, completion, hover and go-to-definition
// for program sources.
type LspServer struct {
	mu   sync.Mutex
	docs map[string]string // URI → full document content

	handler protocol.Handler
	server  *glspserver.Server
	version string
	log     commonlog.Logger
}

// NewLSP creates a new LSP server.
func NewLSP() *LspServer {
	s := &LspServer{
		docs:    make(map[string]string),
		version: "0.1.0",
		log:     commonlog.GetLogger("ivm.server"),
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
	s.log.Info("ivm LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}
	capabilities.CompletionProvider = &protocol.CompletionOptions{}
	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true

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
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	text := params.TextDocument.Text

	s.setDocument(uri, text)
	s.publishDiagnostics(ctx, uri, text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.setDocument(uri, whole.Text)
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

func (s *LspServer) setDocument(uri protocol.DocumentUri, text string) {
	s.mu.Lock()
	s.docs[string(uri)] = text
	s.mu.Unlock()
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
	return complete(text, int(params.Position.Line), prefix), nil
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
	return hover(text, word), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	uri := params.TextDocument.URI
	text, ok := s.document(uri)
	if !ok {
		return nil, nil
	}
	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	line, ok := analyze(text, -1).compiler.HeadLine(word)
	if !ok {
		return nil, nil
	}
	pos := protocol.Position{Line: protocol.UInteger(line - 1), Character: 0}
	return []protocol.Location{{
		URI:   uri,
		Range: protocol.Range{Start: pos, End: pos},
	}}, nil
}

// --- Analysis ---

// analysis is the state of a compiler fed with a document.
type analysis struct {
	compiler *compiler.Compiler
	binary   *vm.Binary
	err      error
}

// analyze compiles the document. With stopLine >= 0 only the lines before
// that 0-based line are fed, which leaves the compiler's scopes as they are
// at the cursor.
func analyze(text string, stopLine int) analysis {
	c := compiler.NewCompiler()
	lines := compiler.SplitLines(text)
	if stopLine >= 0 && stopLine < len(lines) {
		lines = lines[:stopLine]
	}
	for _, line := range lines {
		if err := c.CompileLine(line); err != nil {
			return analysis{compiler: c, err: err}
		}
	}
	if stopLine >= 0 {
		return analysis{compiler: c}
	}
	bin, err := c.Finish()
	return analysis{compiler: c, binary: bin, err: err}
}

func complete(text string, line int, prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem
	add := func(label string, kind protocol.CompletionItemKind, detail string) {
		if !strings.HasPrefix(label, prefix) {
			return
		}
		items = append(items, protocol.CompletionItem{
			Label:      label,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &label,
		})
	}

	a := analyze(text, line)
	for _, name := range a.compiler.Visible() {
		add(name, protocol.CompletionItemKindVariable, "variable")
	}

	// Functions are collected from the whole document so that calls to
	// functions defined further down complete too.
	whole := analyze(text, -1).compiler
	functions := whole.Functions()
	names := make([]string, 0, len(functions))
	for name := range functions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		arity, _ := whole.Arity(name)
		add(name, protocol.CompletionItemKindFunction, fmt.Sprintf("function/%d", arity))
	}

	natives := vm.SurfaceNames()
	sort.Strings(natives)
	for _, name := range natives {
		if !isWord(name) {
			continue
		}
		n, _ := vm.LookupNative(name)
		add(name, protocol.CompletionItemKindOperator, fmt.Sprintf("native %s/%d", n.Name(), n.Arity()))
	}

	for _, kw := range keywords {
		add(kw, protocol.CompletionItemKindKeyword, "keyword")
	}

	// Limit results
	const maxItems = 100
	if len(items) > maxItems {
		items = items[:maxItems]
	}
	return items
}

func hover(text, word string) *protocol.Hover {
	a := analyze(text, -1)

	var b strings.Builder
	if n, ok := vm.LookupNative(word); ok {
		fmt.Fprintf(&b, "**%s** native `%s`, %d operand(s)", word, n.Name(), n.Arity())
	} else if arity, ok := a.compiler.Arity(word); ok {
		fmt.Fprintf(&b, "**%s** function, %d parameter(s)", word, arity)
		if a.binary != nil {
			if start, end, ok := a.binary.FunctionRange(word); ok {
				fmt.Fprintf(&b, "\n\n```\n%s\n```", vm.DisassembleRange(a.binary.Code, start, end))
			}
		}
	} else {
		return nil
	}

	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: b.String(),
		},
	}
}

// --- Diagnostics ---

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	diagnostics := diagnose(text)
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics,
	})
}

// diagnose converts the first compile error into an LSP diagnostic
// spanning the offending line.
func diagnose(text string) []protocol.Diagnostic {
	a := analyze(text, -1)
	if a.err == nil {
		return []protocol.Diagnostic{}
	}

	line, msg := 0, a.err.Error()
	var ce *compiler.CompileError
	if errors.As(a.err, &ce) {
		line, msg = ce.Line-1, ce.Msg
	}
	lines := compiler.SplitLines(text)
	if line >= len(lines) {
		line = len(lines) - 1
	}
	width := 0
	if line >= 0 {
		width = len(lines[line])
	} else {
		line = 0
	}

	severity := protocol.DiagnosticSeverityError
	source := lspName
	return []protocol.Diagnostic{{
		Range: protocol.Range{
			Start: protocol.Position{Line: protocol.UInteger(line), Character: 0},
			End:   protocol.Position{Line: protocol.UInteger(line), Character: protocol.UInteger(width)},
		},
		Severity: &severity,
		Source:   &source,
		Message:  msg,
	}}
}

// --- Text extraction helpers ---

func isWordChar(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_'
}

func isWord(s string) bool {
	for _, ch := range s {
		if !isWordChar(ch) {
			return false
		}
	}
	return s != ""
}

// extractPrefix returns the word fragment before the cursor for completion.
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

	// Walk backwards from cursor to find the start of the identifier
	start := col
	for start > 0 && isWordChar(rune(line[start-1])) {
		start--
	}
	return line[start:col]
}

// extractWord returns the full identifier under the cursor.
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

	start := col
	for start > 0 && isWordChar(rune(line[start-1])) {
		start--
	}
	end := col
	for end < len(line) && isWordChar(rune(line[end])) {
		end++
	}
	return line[start:end]
}

func boolPtr(b bool) *bool {
	return &b
}
