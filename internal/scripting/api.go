package scripting

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gdamore/tcell/v2"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/argusengine/argus/internal/core/lifecycle"
	"github.com/argusengine/argus/internal/core/pool"
	"github.com/argusengine/argus/internal/core/registry"
	"github.com/argusengine/argus/internal/engine"
	"github.com/argusengine/argus/internal/present"
	"github.com/argusengine/argus/internal/scene"
)

const handleTypeName = "argus.handle"

// installAPI publishes the global argus table.
func (vm *VM) installAPI() {
	L := vm.L

	mt := L.NewTypeMetatable(handleTypeName)
	L.SetField(mt, "__tostring", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString("handle(" + checkHandle(L, 1).String() + ")"))
		return 1
	}))
	L.SetField(mt, "__eq", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LBool(checkHandle(L, 1) == checkHandle(L, 2)))
		return 1
	}))

	api := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"register_update_callback":   vm.luaRegisterUpdateCallback,
		"unregister_update_callback": vm.luaUnregisterUpdateCallback,
		"run_on_update_thread":       vm.luaRunOnUpdateThread,
		"on_event":                   vm.luaOnEvent,
		"off_event":                  vm.luaOffEvent,
		"push_event":                 vm.luaPushEvent,
		"stage":                      vm.luaStage,
		"stop_engine":                vm.luaStopEngine,
		"spawn":                      vm.luaSpawn,
		"destroy":                    vm.luaDestroy,
		"move":                       vm.luaMove,
		"position":                   vm.luaPosition,
		"alive":                      vm.luaAlive,
		"log":                        vm.luaLog,
	})
	api.RawSetString("API_VERSION", lua.LNumber(APIVersion))
	L.SetGlobal("argus", api)
}

func optOrdering(L *lua.LState, n int) registry.Ordering {
	if L.Get(n) == lua.LNil {
		return registry.OrderingStandard
	}
	o, err := registry.ParseOrdering(L.CheckString(n))
	if err != nil {
		L.ArgError(n, err.Error())
	}
	return o
}

func (vm *VM) luaRegisterUpdateCallback(L *lua.LState) int {
	fn := L.CheckFunction(1)
	id := vm.registerUpdateCallback(fn, optOrdering(L, 2))
	L.Push(lua.LNumber(id))
	return 1
}

func (vm *VM) luaUnregisterUpdateCallback(L *lua.LState) int {
	vm.unregisterUpdateCallback(registry.ID(L.CheckNumber(1)))
	return 0
}

func (vm *VM) luaRunOnUpdateThread(L *lua.LState) int {
	vm.runOnUpdateThread(L.CheckFunction(1))
	return 0
}

// luaOnEvent subscribes a function to an event by name. The built-in names
// key, resize and stage map to engine events; anything else matches
// ScriptEvents of that name. A handler that raises an error is removed.
func (vm *VM) luaOnEvent(L *lua.LState) int {
	name := L.CheckString(1)
	fn := L.CheckFunction(2)
	ordering := optOrdering(L, 3)

	var id registry.ID
	invoke := func(arg lua.LValue) {
		if err := vm.call(fn, arg); err != nil {
			vm.log.Error("lua event handler failed, unregistering",
				zap.String("event", name), zap.Error(err))
			vm.unregisterHandler(id)
		}
	}

	switch name {
	case "key":
		id = engine.RegisterEventHandler(vm.eng, func(ev present.KeyPressed) {
			invoke(vm.keyTable(ev))
		}, engine.TargetUpdate, ordering)
	case "resize":
		id = engine.RegisterEventHandler(vm.eng, func(ev present.Resized) {
			invoke(toLua(vm.L, map[string]any{"width": ev.Width, "height": ev.Height}))
		}, engine.TargetUpdate, ordering)
	case "stage":
		id = engine.RegisterEventHandler(vm.eng, func(ev lifecycle.StageChanged) {
			invoke(toLua(vm.L, map[string]any{"from": ev.From.String(), "to": ev.To.String()}))
		}, engine.TargetUpdate, ordering)
	default:
		id = engine.RegisterEventHandler(vm.eng, func(ev ScriptEvent) {
			if ev.Name == name {
				invoke(toLua(vm.L, ev.Data))
			}
		}, engine.TargetUpdate, ordering)
	}
	vm.handlers[id] = struct{}{}
	L.Push(lua.LNumber(id))
	return 1
}

func (vm *VM) luaOffEvent(L *lua.LState) int {
	vm.unregisterHandler(registry.ID(L.CheckNumber(1)))
	return 0
}

func (vm *VM) unregisterHandler(id registry.ID) {
	delete(vm.handlers, id)
	vm.eng.UnregisterEventHandler(id, engine.TargetUpdate)
}

func (vm *VM) luaPushEvent(L *lua.LState) int {
	ev := ScriptEvent{Name: L.CheckString(1)}
	if t, ok := L.Get(2).(*lua.LTable); ok {
		ev.Data = fromLuaTable(t)
	} else if L.Get(2) != lua.LNil {
		L.ArgError(2, "table expected")
	}
	engine.PushEvent(vm.eng, ev)
	return 0
}

func (vm *VM) luaStage(L *lua.LState) int {
	L.Push(lua.LString(vm.eng.Stage().String()))
	return 1
}

func (vm *VM) luaStopEngine(*lua.LState) int {
	vm.eng.Stop()
	return 0
}

func (vm *VM) luaLog(L *lua.LState) int {
	parts := make([]string, 0, L.GetTop())
	for i := 1; i <= L.GetTop(); i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	vm.log.Info(strings.Join(parts, " "))
	return 0
}

// luaSpawn creates a render object from a table with the optional fields
// name, glyph, color, x, y, vx, vy and z.
func (vm *VM) luaSpawn(L *lua.LState) int {
	t := L.CheckTable(1)
	glyph := '?'
	if g := []rune(lua.LVAsString(t.RawGetString("glyph"))); len(g) > 0 {
		glyph = g[0]
	}
	h := vm.scene.SpawnObject(scene.RenderObject{
		Name:     lua.LVAsString(t.RawGetString("name")),
		Glyph:    glyph,
		Color:    lua.LVAsString(t.RawGetString("color")),
		Position: scene.Vec2{X: float64(lua.LVAsNumber(t.RawGetString("x"))), Y: float64(lua.LVAsNumber(t.RawGetString("y")))},
		Velocity: scene.Vec2{X: float64(lua.LVAsNumber(t.RawGetString("vx"))), Y: float64(lua.LVAsNumber(t.RawGetString("vy")))},
		Z:        int(lua.LVAsNumber(t.RawGetString("z"))),
	})
	L.Push(vm.newHandle(h))
	return 1
}

// luaDestroy queues the object for removal at the end of the iteration.
func (vm *VM) luaDestroy(L *lua.LState) int {
	vm.scene.MarkForDestruction(scene.KindObject, checkHandle(L, 1))
	return 0
}

func (vm *VM) luaMove(L *lua.LState) int {
	h := checkHandle(L, 1)
	pos := scene.Vec2{X: float64(L.CheckNumber(2)), Y: float64(L.CheckNumber(3))}
	ok := vm.scene.UpdateObject(h, func(o *scene.RenderObject) { o.Position = pos })
	L.Push(lua.LBool(ok))
	return 1
}

func (vm *VM) luaPosition(L *lua.LState) int {
	pos, ok := vm.scene.WorldPosition(checkHandle(L, 1))
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LNumber(pos.X))
	L.Push(lua.LNumber(pos.Y))
	return 2
}

func (vm *VM) luaAlive(L *lua.LState) int {
	_, ok := vm.scene.Object(checkHandle(L, 1))
	L.Push(lua.LBool(ok))
	return 1
}

func (vm *VM) newHandle(h pool.Handle) *lua.LUserData {
	ud := vm.L.NewUserData()
	ud.Value = h
	vm.L.SetMetatable(ud, vm.L.GetTypeMetatable(handleTypeName))
	return ud
}

func checkHandle(L *lua.LState, n int) pool.Handle {
	ud := L.CheckUserData(n)
	h, ok := ud.Value.(pool.Handle)
	if !ok {
		L.ArgError(n, "handle expected")
	}
	return h
}

func (vm *VM) keyTable(ev present.KeyPressed) *lua.LTable {
	t := vm.L.NewTable()
	if ev.Key == tcell.KeyRune {
		t.RawSetString("key", lua.LString(string(ev.Rune)))
	} else if name, ok := tcell.KeyNames[ev.Key]; ok {
		t.RawSetString("key", lua.LString(name))
	} else {
		t.RawSetString("key", lua.LString(fmt.Sprintf("Key[%d]", ev.Key)))
	}
	t.RawSetString("ctrl", lua.LBool(ev.Mod&tcell.ModCtrl != 0))
	t.RawSetString("alt", lua.LBool(ev.Mod&tcell.ModAlt != 0))
	t.RawSetString("shift", lua.LBool(ev.Mod&tcell.ModShift != 0))
	return t
}

// toLua converts event payloads into Lua values. Unsupported types become
// their fmt representation.
func toLua(L *lua.LState, v any) lua.LValue {
	switch v := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(v)
	case string:
		return lua.LString(v)
	case int:
		return lua.LNumber(v)
	case int64:
		return lua.LNumber(v)
	case uint64:
		return lua.LNumber(v)
	case float64:
		return lua.LNumber(v)
	case []any:
		t := L.NewTable()
		for _, e := range v {
			t.Append(toLua(L, e))
		}
		return t
	case map[string]any:
		t := L.NewTable()
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			t.RawSetString(k, toLua(L, v[k]))
		}
		return t
	default:
		return lua.LString(fmt.Sprint(v))
	}
}

// fromLuaTable converts a table to a map. Numeric keys are stringified;
// functions and userdata are dropped.
func fromLuaTable(t *lua.LTable) map[string]any {
	out := make(map[string]any)
	t.ForEach(func(k, v lua.LValue) {
		val, ok := fromLua(v)
		if !ok {
			return
		}
		out[k.String()] = val
	})
	return out
}

func fromLua(v lua.LValue) (any, bool) {
	switch v := v.(type) {
	case lua.LBool:
		return bool(v), true
	case lua.LNumber:
		return float64(v), true
	case lua.LString:
		return string(v), true
	case *lua.LTable:
		return fromLuaTable(v), true
	}
	return nil, false
}
