package scripting

import (
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// registerModules installs the engine.* table into L.
//
// engine.random(lo, hi) returns an integer in [lo, hi] from the generator's
// seeded source. engine.pick(t) returns a random element of array t, or nil
// when t is empty. engine.log(msg) writes msg at debug level.
//
// Precondition: L must be from NewSandboxedState.
// Postcondition: engine global is defined in L.
func (g *DialogGenerator) registerModules(L *lua.LState) {
	engine := L.NewTable()
	L.SetField(engine, "random", L.NewFunction(g.luaRandom))
	L.SetField(engine, "pick", L.NewFunction(g.luaPick))
	L.SetField(engine, "log", L.NewFunction(g.luaLog))
	L.SetGlobal("engine", engine)
}

func (g *DialogGenerator) luaRandom(L *lua.LState) int {
	lo := L.CheckInt(1)
	hi := L.CheckInt(2)
	if hi < lo {
		L.ArgError(2, "hi must be >= lo")
		return 0
	}
	L.Push(lua.LNumber(lo + g.rng.IntN(hi-lo+1)))
	return 1
}

func (g *DialogGenerator) luaPick(L *lua.LState) int {
	tbl := L.CheckTable(1)
	n := tbl.Len()
	if n == 0 {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(tbl.RawGetInt(1 + g.rng.IntN(n)))
	return 1
}

func (g *DialogGenerator) luaLog(L *lua.LState) int {
	g.logger.Debug("dialog script", zap.String("msg", L.CheckString(1)))
	return 0
}
