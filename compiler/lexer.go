package compiler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Lexer: line-level scanning
// ---------------------------------------------------------------------------

// The language has no token stream. Each source line is classified by its
// indentation and shape, and expressions are split textually.

const commentMarker = "//"

var (
	identPattern   = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	integerPattern = regexp.MustCompile(`^(0|-?[1-9][0-9]*)$`)
	callPattern    = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*|==|!=|<=|>=|[-+*/^<>!&|])\(.*\)$`)
	headPattern    = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*\((.*)\)$`)
)

// isBlank reports whether line holds only whitespace.
func isBlank(line string) bool {
	return strings.TrimSpace(line) == ""
}

// isComment reports whether line is a full-line comment.
func isComment(line string) bool {
	return strings.HasPrefix(strings.TrimLeftFunc(line, unicode.IsSpace), commentMarker)
}

// splitIndentation returns the number of leading whitespace characters and
// the rest of the line.
func splitIndentation(line string) (int, string) {
	line = strings.TrimRight(line, "\r")
	rest := strings.TrimLeftFunc(line, unicode.IsSpace)
	return utf8.RuneCountInString(line) - utf8.RuneCountInString(rest), rest
}

func isIdentifier(s string) bool {
	return identPattern.MatchString(s)
}

// parseInteger parses a decimal literal without leading zeros.
func parseInteger(s string) (int64, bool) {
	if !integerPattern.MatchString(s) {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// cutKeyword splits "kw rest" into rest when line starts with the keyword
// followed by whitespace.
func cutKeyword(line, keyword string) (string, bool) {
	rest, ok := strings.CutPrefix(line, keyword)
	if !ok || rest == "" {
		return "", false
	}
	r, _ := utf8.DecodeRuneInString(rest)
	if !unicode.IsSpace(r) {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

// findAssignment returns the index of the first '=' that is not part of
// ==, !=, <= or >=, or -1.
func findAssignment(line string) int {
	for i := 0; i < len(line); i++ {
		if line[i] != '=' {
			continue
		}
		if i+1 < len(line) && line[i+1] == '=' {
			i++
			continue
		}
		if i > 0 && strings.IndexByte("=<>!", line[i-1]) >= 0 {
			continue
		}
		return i
	}
	return -1
}

// IsAssignment reports whether a statement line assigns to a variable.
func IsAssignment(line string) bool {
	return findAssignment(line) >= 0
}

// splitCall splits "name(a, f(b, c))" into the name and its top-level
// arguments. "name()" has no arguments.
func splitCall(expr string) (string, []string, error) {
	open := strings.IndexByte(expr, '(')
	if open < 0 {
		return "", nil, fmt.Errorf("missing '(' in %q", expr)
	}
	name := strings.TrimSpace(expr[:open])

	var args []string
	depth := 0
	start := open + 1
	for i := start; i < len(expr); i++ {
		switch expr[i] {
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
				continue
			}
			if i != len(expr)-1 {
				return "", nil, fmt.Errorf("unexpected %q after call", expr[i+1:])
			}
			last := strings.TrimSpace(expr[start:i])
			if last == "" && len(args) == 0 {
				return name, nil, nil
			}
			if last == "" {
				return "", nil, fmt.Errorf("empty argument in %q", expr)
			}
			return name, append(args, last), nil
		case ',':
			if depth > 0 {
				continue
			}
			arg := strings.TrimSpace(expr[start:i])
			if arg == "" {
				return "", nil, fmt.Errorf("empty argument in %q", expr)
			}
			args = append(args, arg)
			start = i + 1
		}
	}
	return "", nil, fmt.Errorf("unbalanced parentheses in %q", expr)
}

// parseFunctionHead splits "name(p1, p2)" into the name and parameters.
func parseFunctionHead(line string) (string, []string, error) {
	m := headPattern.FindStringSubmatch(line)
	if m == nil {
		return "", nil, fmt.Errorf("expected function head name(params), got %q", line)
	}
	name, list := m[1], strings.TrimSpace(m[2])
	if list == "" {
		return name, nil, nil
	}
	var params []string
	for _, p := range strings.Split(list, ",") {
		p = strings.TrimSpace(p)
		if !isIdentifier(p) {
			return "", nil, fmt.Errorf("invalid parameter name %q in %q", p, line)
		}
		params = append(params, p)
	}
	return name, params, nil
}
