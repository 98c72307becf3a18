package server

import (
	"strings"
	"testing"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

const lspSource = `// gcd 12 18 = 6
gcd(a, b)
 while !=(b, 0)
  let t
  t = -(a, *(b, /(a, b)))
  a = b
  b = t
 return = a

main()
 let total
 total = gcd(84, 36)
 return = total
`

// ---------------------------------------------------------------------------
// LSP text extraction helpers
// ---------------------------------------------------------------------------

func TestExtractPrefix(t *testing.T) {
	tests := []struct {
		name string
		text string
		pos  protocol.Position
		want string
	}{
		{"simple word", " return = tot", protocol.Position{Line: 0, Character: 13}, "tot"},
		{"at start", "gc", protocol.Position{Line: 0, Character: 2}, "gc"},
		{"empty line", "", protocol.Position{Line: 0, Character: 0}, ""},
		{"multi line", "first\nsecond\nwhi", protocol.Position{Line: 2, Character: 3}, "whi"},
		{"inside call", " x = +(a, di", protocol.Position{Line: 0, Character: 12}, "di"},
		{"after paren", " x = f(", protocol.Position{Line: 0, Character: 7}, ""},
		{"past end", "abc", protocol.Position{Line: 0, Character: 99}, "abc"},
		{"line past end", "abc", protocol.Position{Line: 5, Character: 0}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractPrefix(tt.text, tt.pos); got != tt.want {
				t.Errorf("extractPrefix = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractWord(t *testing.T) {
	text := " total = gcd(84, 36)"
	if got := extractWord(text, protocol.Position{Line: 0, Character: 10}); got != "gcd" {
		t.Errorf("extractWord = %q, want gcd", got)
	}
	if got := extractWord(text, protocol.Position{Line: 0, Character: 3}); got != "total" {
		t.Errorf("extractWord = %q, want total", got)
	}
	if got := extractWord(text, protocol.Position{Line: 0, Character: 7}); got != "" {
		t.Errorf("extractWord on '=' = %q, want empty", got)
	}
}

// ---------------------------------------------------------------------------
// Diagnostics
// ---------------------------------------------------------------------------

func TestDiagnose_Clean(t *testing.T) {
	if diags := diagnose(lspSource); len(diags) != 0 {
		t.Errorf("diagnostics = %+v, want none", diags)
	}
}

func TestDiagnose_ErrorLine(t *testing.T) {
	src := "f(a)\n return = a\n\ng()\n return = f(q)\n"
	diags := diagnose(src)
	if len(diags) != 1 {
		t.Fatalf("got %d diagnostics, want 1", len(diags))
	}
	d := diags[0]
	if d.Range.Start.Line != 4 || d.Range.End.Line != 4 {
		t.Errorf("range = %+v, want line 4", d.Range)
	}
	if d.Range.End.Character != protocol.UInteger(len(" return = f(q)")) {
		t.Errorf("range end = %d", d.Range.End.Character)
	}
	if !strings.Contains(d.Message, "q") {
		t.Errorf("message = %q", d.Message)
	}
	if d.Severity == nil || *d.Severity != protocol.DiagnosticSeverityError {
		t.Error("severity should be error")
	}
}

// ---------------------------------------------------------------------------
// Completion and hover
// ---------------------------------------------------------------------------

func labels(items []protocol.CompletionItem) map[string]bool {
	out := make(map[string]bool)
	for _, it := range items {
		out[it.Label] = true
	}
	return out
}

func TestComplete_VariablesInScope(t *testing.T) {
	// Cursor on the line "  a = b" inside the while body of gcd.
	got := labels(complete(lspSource, 5, ""))
	for _, want := range []string{"a", "b", "t", "return", "gcd", "main", "div", "while"} {
		if !got[want] {
			t.Errorf("completion lacks %q", want)
		}
	}
	if got["total"] {
		t.Error("main's local total should not be visible in gcd")
	}
}

func TestComplete_Prefix(t *testing.T) {
	got := labels(complete(lspSource, 12, "to"))
	if !got["total"] {
		t.Error("completion lacks total")
	}
	for label := range got {
		if !strings.HasPrefix(label, "to") {
			t.Errorf("completion %q does not match prefix", label)
		}
	}
}

func TestComplete_OperatorsSkipped(t *testing.T) {
	for label := range labels(complete(lspSource, 0, "")) {
		if !isWord(label) {
			t.Errorf("completion offered operator %q", label)
		}
	}
}

func TestHover_Function(t *testing.T) {
	h := hover(lspSource, "gcd")
	if h == nil {
		t.Fatal("no hover for gcd")
	}
	value := h.Contents.(protocol.MarkupContent).Value
	if !strings.Contains(value, "2 parameter(s)") {
		t.Errorf("hover = %q", value)
	}
	if !strings.Contains(value, "[0] ") || strings.Contains(value, "main") {
		t.Errorf("hover should list only gcd's instructions: %q", value)
	}
}

func TestHover_Native(t *testing.T) {
	h := hover(lspSource, "div")
	if h == nil {
		t.Fatal("no hover for div")
	}
	if value := h.Contents.(protocol.MarkupContent).Value; !strings.Contains(value, "2 operand(s)") {
		t.Errorf("hover = %q", value)
	}
}

func TestHover_Unknown(t *testing.T) {
	if h := hover(lspSource, "total"); h != nil {
		t.Errorf("hover for a variable = %+v, want nil", h)
	}
}

func TestHeadLineForDefinition(t *testing.T) {
	if line, ok := analyze(lspSource, -1).compiler.HeadLine("main"); !ok || line != 10 {
		t.Errorf("HeadLine(main) = %d, %v; want 10", line, ok)
	}
}
