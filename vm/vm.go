package vm

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// VM: the execution driver
// ---------------------------------------------------------------------------

// ctxCheckInterval is how many instructions run between context checks.
const ctxCheckInterval = 1024

// Options configures a run.
type Options struct {
	// Out receives print output. Defaults to os.Stdout.
	Out io.Writer

	// MaxSteps aborts the run with ErrStepLimit after this many
	// instructions. Zero means no limit.
	MaxSteps int
}

// VM owns an interpreter and drives its fetch/execute loop.
type VM struct {
	interp   *Interpreter
	maxSteps int
	steps    int
	log      commonlog.Logger
}

// New creates a VM.
func New(opts Options) *VM {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &VM{
		interp:   NewInterpreter(out),
		maxSteps: opts.MaxSteps,
		log:      commonlog.GetLogger("ivm.vm"),
	}
}

// Interpreter exposes the underlying machine state.
func (v *VM) Interpreter() *Interpreter {
	return v.interp
}

// Steps returns how many instructions the last run executed.
func (v *VM) Steps() int {
	return v.steps
}

// Run calls the function at entry with args and executes until the
// outermost frame returns. The result is the final accumulator value.
// On failure no result is returned.
func (v *VM) Run(ctx context.Context, bin *Binary, entry int, args []int64) (int64, error) {
	if bin == nil {
		return 0, fmt.Errorf("run: nil binary")
	}
	if entry < 0 || entry >= len(bin.Code) {
		return 0, fmt.Errorf("%w: entry %d (program has %d instructions)",
			ErrPositionOutOfRange, entry, len(bin.Code))
	}

	v.steps = 0
	v.interp.Init(entry, args)

	for v.interp.Running {
		if v.steps%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return 0, v.interp.fail(err)
			}
		}
		if v.maxSteps > 0 && v.steps >= v.maxSteps {
			return 0, v.interp.fail(fmt.Errorf("%w: %d", ErrStepLimit, v.maxSteps))
		}
		if err := v.interp.Step(bin.Code); err != nil {
			return 0, err
		}
		v.steps++
	}

	v.log.Debugf("run finished after %d steps, result %d", v.steps, v.interp.Accumulator)
	return v.interp.Accumulator, nil
}

// Run is a convenience wrapper that executes bin once on a fresh VM.
func Run(ctx context.Context, bin *Binary, entry int, args []int64, opts Options) (int64, error) {
	return New(opts).Run(ctx, bin, entry, args)
}

// RunFunction resolves name through the function table and runs it.
func RunFunction(ctx context.Context, bin *Binary, name string, args []int64, opts Options) (int64, error) {
	if bin == nil {
		return 0, fmt.Errorf("run: nil binary")
	}
	entry, err := bin.Entry(name)
	if err != nil {
		return 0, err
	}
	return Run(ctx, bin, entry, args, opts)
}
