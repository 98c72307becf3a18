package compiler

import (
	"fmt"
	"sort"

	"github.com/tom-mohr/compiler/vm"
)

// ---------------------------------------------------------------------------
// Scope: one lexical nesting level
// ---------------------------------------------------------------------------

// CloseBehavior transforms a scope's finished instructions when the scope
// closes. It runs while s is still the innermost scope, so
// s.InstructionsSoFar() is the absolute address just past body, counting
// the prefix instructions the behavior is about to put in front of it.
type CloseBehavior func(s *Scope, body []vm.Instruction) []vm.Instruction

// Scope buffers the instructions of one block and assigns stack slots to
// the variables declared in it. Slots are relative to the frame pointer of
// the enclosing function.
type Scope struct {
	parent  *Scope
	code    []vm.Instruction
	offset  int
	prefix  int // instructions onClose inserts before code
	vars    map[string]int
	onClose CloseBehavior
}

func newScope(parent *Scope, offset, prefix int, onClose CloseBehavior) *Scope {
	return &Scope{
		parent:  parent,
		offset:  offset,
		prefix:  prefix,
		vars:    make(map[string]int),
		onClose: onClose,
	}
}

// Declare assigns the next free slot to name.
func (s *Scope) Declare(name string) (int, error) {
	if _, exists := s.vars[name]; exists {
		return 0, fmt.Errorf("%w: %q", ErrRedeclaredVariable, name)
	}
	slot := s.offset
	s.vars[name] = slot
	s.offset++
	return slot, nil
}

// Resolve finds the slot of name in this scope or the nearest ancestor.
func (s *Scope) Resolve(name string) (int, error) {
	for sc := s; sc != nil; sc = sc.parent {
		if slot, ok := sc.vars[name]; ok {
			return slot, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUndeclaredVariable, name)
}

// Depth is 1 for the root scope.
func (s *Scope) Depth() int {
	d := 0
	for sc := s; sc != nil; sc = sc.parent {
		d++
	}
	return d
}

// InstructionsBefore is the absolute address where the scope's code will
// start once closed, prefix first.
func (s *Scope) InstructionsBefore() int {
	if s.parent == nil {
		return 0
	}
	return s.parent.InstructionsSoFar()
}

// InstructionsSoFar is the absolute address of the next emitted
// instruction. Every open scope's prefix is counted even though it is only
// inserted at close.
func (s *Scope) InstructionsSoFar() int {
	return s.InstructionsBefore() + s.prefix + len(s.code)
}

// Emit appends instructions to the scope.
func (s *Scope) Emit(ins ...vm.Instruction) {
	s.code = append(s.code, ins...)
}

// Offset returns the next free slot.
func (s *Scope) Offset() int {
	return s.offset
}

// SetOffset moves the next free slot. Only used on the root scope before a
// function head, so parameters end at the frame pointer.
func (s *Scope) SetOffset(offset int) {
	s.offset = offset
}

// Code returns the instructions buffered so far.
func (s *Scope) Code() []vm.Instruction {
	return s.code
}

// Visible returns every variable name resolvable from this scope, sorted.
func (s *Scope) Visible() []string {
	seen := make(map[string]bool)
	var names []string
	for sc := s; sc != nil; sc = sc.parent {
		for name := range sc.vars {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}

func (s *Scope) open(prefix int, onClose CloseBehavior) *Scope {
	return newScope(s, s.offset, prefix, onClose)
}

// close releases the scope's slots with one Pop each, applies the close
// behavior and appends the result to the parent.
func (s *Scope) close() (*Scope, error) {
	if s.parent == nil {
		return nil, ErrPopRootScope
	}
	for s.offset > s.parent.offset {
		s.code = append(s.code, vm.Pop())
		s.offset--
	}
	code := s.code
	if s.onClose != nil {
		code = s.onClose(s, code)
	}
	s.parent.code = append(s.parent.code, code...)
	return s.parent, nil
}

// ---------------------------------------------------------------------------
// ScopeStack: the path from the root to the innermost scope
// ---------------------------------------------------------------------------

// ScopeStack tracks the innermost open scope.
type ScopeStack struct {
	top *Scope
}

// NewScopeStack returns a stack holding only the root scope.
func NewScopeStack() *ScopeStack {
	return &ScopeStack{top: newScope(nil, 0, 0, nil)}
}

// Top returns the innermost scope.
func (st *ScopeStack) Top() *Scope {
	return st.top
}

// Push opens a child of the current scope. prefix is the number of
// instructions onClose will insert before the body; onClose may be nil.
func (st *ScopeStack) Push(prefix int, onClose CloseBehavior) {
	st.top = st.top.open(prefix, onClose)
}

// Pop closes the current scope.
func (st *ScopeStack) Pop() error {
	parent, err := st.top.close()
	if err != nil {
		return err
	}
	st.top = parent
	return nil
}
