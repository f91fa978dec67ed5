// Package scripting provides a sandboxed GopherLua environment for content
// scripts that generate NPC dialog. It has no dependency on game domain
// packages; scripts receive plain strings and return plain tables.
package scripting

import (
	"context"
	"errors"
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// DefaultInstructionLimit is the opcode budget of one script call when no
// override is configured.
const DefaultInstructionLimit = 100_000

// ErrInstructionLimit is returned when a script call runs out of opcodes.
var ErrInstructionLimit = errors.New("script exceeded instruction limit")

// unsafeGlobals are base-library functions that reach the filesystem or the
// module loader.
var unsafeGlobals = []string{"dofile", "loadfile", "load", "collectgarbage", "require"}

// opBudget is a context the Lua VM polls once per opcode. The VM aborts the
// call on the first poll after the budget is spent.
type opBudget struct {
	context.Context
	cancel context.CancelFunc
	left   int64
}

func newOpBudget(limit int) *opBudget {
	ctx, cancel := context.WithCancel(context.Background())
	return &opBudget{Context: ctx, cancel: cancel, left: int64(limit)}
}

// Done spends one opcode. The VM is single-threaded so no locking is needed.
func (b *opBudget) Done() <-chan struct{} {
	b.left--
	if b.left < 0 {
		b.cancel()
	}
	return b.Context.Done()
}

func (b *opBudget) spent() bool { return b.left < 0 }

// NewSandboxedState creates an LState with only the base, table, string and
// math libraries and without the file and loader globals.
//
// Postcondition: The caller owns the LState and must Close it.
func NewSandboxedState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, open := range []lua.LGFunction{lua.OpenBase, lua.OpenTable, lua.OpenString, lua.OpenMath} {
		open(L)
	}
	for _, name := range unsafeGlobals {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}

// runBudgeted runs fn against L with a fresh budget of limit opcodes.
// A limit <= 0 uses DefaultInstructionLimit.
//
// Postcondition: Returns an error wrapping ErrInstructionLimit when the
// budget ran out. L has no context attached afterwards.
func runBudgeted(L *lua.LState, limit int, fn func() error) error {
	if limit <= 0 {
		limit = DefaultInstructionLimit
	}
	budget := newOpBudget(limit)
	defer budget.cancel()

	L.SetContext(budget)
	defer L.RemoveContext()

	err := fn()
	if err != nil && budget.spent() {
		return fmt.Errorf("%w (%d opcodes): %v", ErrInstructionLimit, limit, err)
	}
	return err
}
