package scripting

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// DialogGenerator owns one sandboxed LState loaded with every *.lua file of a
// script directory and turns global Lua functions into NPC dialog lines.
//
// DialogGenerator is safe for concurrent use; calls are serialized because an
// LState is single-threaded.
type DialogGenerator struct {
	mu        sync.Mutex
	L         *lua.LState
	rng       *rand.Rand
	instLimit int
	logger    *zap.Logger
}

// NewDialogGenerator creates a generator and executes every *.lua file in
// scriptDir in lexicographic order.
//
// A seed of zero seeds the RNG from the clock. instLimit <= 0 uses
// DefaultInstructionLimit for each call.
//
// Precondition: scriptDir must be a readable directory; logger must be non-nil.
// Postcondition: Returns a ready generator or an error naming the failing file.
func NewDialogGenerator(scriptDir string, seed int64, instLimit int, logger *zap.Logger) (*DialogGenerator, error) {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	g := &DialogGenerator{
		L:         NewSandboxedState(),
		rng:       rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15)),
		instLimit: instLimit,
		logger:    logger,
	}
	g.registerModules(g.L)

	entries, err := os.ReadDir(scriptDir)
	if err != nil {
		g.L.Close()
		return nil, fmt.Errorf("scripting: reading script dir %q: %w", scriptDir, err)
	}

	var luaFiles []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".lua" {
			luaFiles = append(luaFiles, filepath.Join(scriptDir, e.Name()))
		}
	}
	sort.Strings(luaFiles)

	for _, path := range luaFiles {
		err := runBudgeted(g.L, instLimit, func() error { return g.L.DoFile(path) })
		if err != nil {
			g.L.Close()
			return nil, fmt.Errorf("scripting: loading %q: %w", path, err)
		}
	}

	logger.Info("dialog scripts loaded",
		zap.String("dir", scriptDir),
		zap.Int("files", len(luaFiles)),
	)
	return g, nil
}

// Generate calls the Lua global fn with (npcName, sceneKey) and returns the
// string elements of the array it returns. Non-string elements are skipped.
//
// Postcondition: Returns an error if fn is undefined, raises, exceeds the
// instruction limit, or returns something other than a table.
func (g *DialogGenerator) Generate(fn, npcName, sceneKey string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	f := g.L.GetGlobal(fn)
	if f.Type() != lua.LTFunction {
		return nil, fmt.Errorf("scripting: dialog function %q is not defined", fn)
	}

	err := runBudgeted(g.L, g.instLimit, func() error {
		return g.L.CallByParam(lua.P{
			Fn:      f,
			NRet:    1,
			Protect: true,
		}, lua.LString(npcName), lua.LString(sceneKey))
	})
	if err != nil {
		return nil, fmt.Errorf("scripting: calling %q for %q: %w", fn, npcName, err)
	}

	ret := g.L.Get(-1)
	g.L.Pop(1)

	tbl, ok := ret.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("scripting: %q returned %s, want table", fn, ret.Type())
	}

	lines := make([]string, 0, tbl.Len())
	tbl.ForEach(func(k, v lua.LValue) {
		if _, isIdx := k.(lua.LNumber); !isIdx {
			return
		}
		if s, ok := v.(lua.LString); ok {
			lines = append(lines, string(s))
		}
	})
	return lines, nil
}

// Close releases the Lua state.
func (g *DialogGenerator) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.L.Close()
}
