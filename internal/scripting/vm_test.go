package scripting

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap/zaptest"

	"github.com/argusengine/argus/internal/core/lifecycle"
	"github.com/argusengine/argus/internal/core/module"
	"github.com/argusengine/argus/internal/core/registry"
	"github.com/argusengine/argus/internal/engine"
	"github.com/argusengine/argus/internal/present"
	"github.com/argusengine/argus/internal/scene"
)

type harness struct {
	eng   *engine.Engine
	scene *scene.Scene
	vm    *VM
}

// newHarness writes scripts into a temp dir and wires a VM onto a fresh
// engine. A Go update callback at OrderingLast flushes the destroy queue the
// way the cleanup system does.
func newHarness(t *testing.T, scripts map[string]string) *harness {
	t.Helper()
	dir := t.TempDir()
	for name, body := range scripts {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	log := zaptest.NewLogger(t)
	h := &harness{
		eng:   engine.New(engine.Options{TargetTickRate: 500, TargetFrameRate: 100}, log),
		scene: scene.New(),
	}
	h.vm = New(h.eng, h.scene, dir, log)
	require.NoError(t, h.eng.RegisterModule(module.Registration{
		ID:    "scene",
		Entry: func(lifecycle.Stage) error { return nil },
	}))
	require.NoError(t, h.eng.RegisterModule(h.vm.Module()))
	h.eng.RegisterUpdateCallback(func(time.Duration) { h.scene.FlushDestroyQueue() }, registry.OrderingLast)
	return h
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	require.NoError(t, h.eng.Initialize())
	done := make(chan error, 1)
	go func() { done <- h.eng.Start() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("engine did not stop")
	}
}

// collect records ScriptEvents with the given name.
func (h *harness) collect(name string) *[]map[string]any {
	var mu sync.Mutex
	out := &[]map[string]any{}
	engine.RegisterEventHandler(h.eng, func(ev ScriptEvent) {
		if ev.Name == name {
			mu.Lock()
			*out = append(*out, ev.Data)
			mu.Unlock()
		}
	}, engine.TargetUpdate, registry.OrderingStandard)
	return out
}

func TestVM_CallbacksSpawnAndStop(t *testing.T) {
	h := newHarness(t, map[string]string{"main.lua": `
local n = 0
argus.register_update_callback(function(dt)
  n = n + 1
  if n == 3 then
    argus.spawn({name = "ball", glyph = "o", x = 1, y = 2, z = 4})
  end
  if n >= 5 then
    argus.stop_engine()
  end
end)
`})
	h.run(t)

	var found []scene.RenderObject
	h.scene.EachObject(func(o scene.RenderObject) { found = append(found, o) })
	require.Len(t, found, 1)
	assert.Equal(t, "ball", found[0].Name)
	assert.Equal(t, 'o', found[0].Glyph)
	assert.Equal(t, scene.Vec2{X: 1, Y: 2}, found[0].Position)
	assert.Equal(t, 4, found[0].Z)
	assert.Nil(t, h.vm.L, "state is closed after PostDeinit")
}

func TestVM_ScriptsLoadInNameOrder(t *testing.T) {
	h := newHarness(t, map[string]string{
		"b.lua":      `order = order .. "b"`,
		"a.lua":      `order = "a"`,
		"notes.txt":  `this is not lua`,
		"c_last.lua": `argus.run_on_update_thread(function() argus.push_event("order", {v = order}); argus.stop_engine() end)`,
	})
	got := h.collect("order")
	h.run(t)

	require.Len(t, *got, 1)
	assert.Equal(t, "ab", (*got)[0]["v"])
}

func TestVM_EventRoundTrip(t *testing.T) {
	h := newHarness(t, map[string]string{"main.lua": `
argus.on_event("ping", function(ev)
  argus.push_event("pong", {n = ev.n + 1, tags = {a = true}})
end)
argus.on_event("pong", function(ev)
  argus.stop_engine()
end, "late")
`})
	pongs := h.collect("pong")
	h.eng.RunOnUpdateThread(func() {
		engine.PushEvent(h.eng, ScriptEvent{Name: "ping", Data: map[string]any{"n": 41}})
	})
	h.run(t)

	require.Len(t, *pongs, 1)
	assert.Equal(t, 42.0, (*pongs)[0]["n"])
	assert.Equal(t, map[string]any{"a": true}, (*pongs)[0]["tags"])
}

func TestVM_BuiltinEvents(t *testing.T) {
	h := newHarness(t, map[string]string{"main.lua": `
local stages = {}
argus.on_event("stage", function(ev) table.insert(stages, ev.to) end)
argus.on_event("resize", function(ev) argus.push_event("seen", {what = "resize", w = ev.width}) end)
argus.on_event("key", function(ev)
  argus.push_event("seen", {what = "key", key = ev.key, ctrl = ev.ctrl, stages = table.concat(stages, ",")})
  -- stop next iteration so the pushed event is still dispatched
  argus.run_on_update_thread(argus.stop_engine)
end)
`})
	seen := h.collect("seen")
	h.eng.RunOnUpdateThread(func() {
		engine.PushEvent(h.eng, present.Resized{Width: 80, Height: 24})
		engine.PushEvent(h.eng, present.KeyPressed{Key: tcell.KeyRune, Rune: 'x', Mod: tcell.ModCtrl})
	})
	h.run(t)

	require.Len(t, *seen, 2)
	assert.Equal(t, map[string]any{"what": "resize", "w": 80.0}, (*seen)[0])
	assert.Equal(t, "x", (*seen)[1]["key"])
	assert.Equal(t, true, (*seen)[1]["ctrl"])
	assert.Equal(t, "PreInit,Init,PostInit,Running", (*seen)[1]["stages"],
		"stage changes queued during init are delivered on the first iteration")
}

func TestVM_FailingCallbackIsUnregistered(t *testing.T) {
	h := newHarness(t, map[string]string{"main.lua": `
argus.register_update_callback(function()
  argus.push_event("boom")
  error("bad callback")
end, "first")
local n = 0
argus.register_update_callback(function()
  n = n + 1
  if n >= 10 then argus.stop_engine() end
end)
`})
	booms := h.collect("boom")
	h.run(t)
	assert.Len(t, *booms, 1)
}

func TestVM_FailingHandlerIsUnregistered(t *testing.T) {
	h := newHarness(t, map[string]string{"main.lua": `
argus.on_event("tick", function() argus.push_event("handled"); error("nope") end)
local n = 0
argus.register_update_callback(function()
  n = n + 1
  if n <= 3 then argus.push_event("tick") end
  if n >= 8 then argus.stop_engine() end
end)
`})
	handled := h.collect("handled")
	h.run(t)
	assert.Len(t, *handled, 1)
}

func TestVM_Handles(t *testing.T) {
	h := newHarness(t, map[string]string{"main.lua": `
local ship
local frame = 0
argus.register_update_callback(function()
  frame = frame + 1
  if frame == 1 then
    ship = argus.spawn({glyph = "A"})
    local same = ship == ship
    local moved = argus.move(ship, 3, 4)
    local x, y = argus.position(ship)
    argus.push_event("check", {alive = argus.alive(ship), moved = moved, x = x, y = y, same = same, str = tostring(ship)})
    argus.destroy(ship)
    argus.push_event("check", {alive = argus.alive(ship)})
  elseif frame == 2 then
    argus.push_event("check", {alive = argus.alive(ship), moved = argus.move(ship, 1, 1), pos = argus.position(ship)})
    argus.run_on_update_thread(argus.stop_engine)
  end
end)
`})
	checks := h.collect("check")
	h.run(t)

	require.Len(t, *checks, 3)
	first := (*checks)[0]
	assert.Equal(t, true, first["alive"])
	assert.Equal(t, true, first["moved"])
	assert.Equal(t, 3.0, first["x"])
	assert.Equal(t, 4.0, first["y"])
	assert.Equal(t, true, first["same"])
	assert.Contains(t, first["str"], "handle(")
	assert.Equal(t, true, (*checks)[1]["alive"], "destroy is deferred")
	assert.Equal(t, map[string]any{"alive": false, "moved": false}, (*checks)[2])
}

func TestVM_StageAndOrderingErrors(t *testing.T) {
	t.Run("stage", func(t *testing.T) {
		h := newHarness(t, map[string]string{"main.lua": `
argus.push_event("stage", {at_load = argus.stage()})
argus.run_on_update_thread(function()
  argus.push_event("stage", {at_run = argus.stage()})
  argus.stop_engine()
end)
`})
		got := h.collect("stage")
		h.run(t)
		require.Len(t, *got, 2)
		assert.Equal(t, "Init", (*got)[0]["at_load"])
		assert.Equal(t, "Running", (*got)[1]["at_run"])
	})

	t.Run("bad ordering", func(t *testing.T) {
		h := newHarness(t, map[string]string{"main.lua": `argus.register_update_callback(function() end, "sideways")`})
		err := h.eng.Initialize()
		assert.ErrorContains(t, err, "main.lua")
		assert.Nil(t, h.vm.L)
	})

	t.Run("syntax error", func(t *testing.T) {
		h := newHarness(t, map[string]string{"main.lua": `argus.stop_engine(`})
		assert.ErrorContains(t, h.eng.Initialize(), "load scripts")
	})
}

func TestVM_MissingDirIsEmpty(t *testing.T) {
	log := zaptest.NewLogger(t)
	vm := New(nil, scene.New(), filepath.Join(t.TempDir(), "absent"), log)
	require.NoError(t, vm.open())
	defer vm.Close()
	require.NoError(t, vm.DoString(`assert(argus.API_VERSION == 1)`))
}

func TestLuaConversions(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	in := map[string]any{
		"n":    1,
		"f":    2.5,
		"s":    "x",
		"b":    true,
		"list": []any{"a", "b"},
		"sub":  map[string]any{"k": uint64(7)},
	}
	v := toLua(L, in)
	tbl, ok := v.(*lua.LTable)
	require.True(t, ok)

	out := fromLuaTable(tbl)
	assert.Equal(t, map[string]any{
		"n":    1.0,
		"f":    2.5,
		"s":    "x",
		"b":    true,
		"list": map[string]any{"1": "a", "2": "b"},
		"sub":  map[string]any{"k": 7.0},
	}, out)

	fn := L.NewFunction(func(*lua.LState) int { return 0 })
	tbl.RawSetString("fn", fn)
	_, has := fromLuaTable(tbl)["fn"]
	assert.False(t, has, "functions are dropped")
}
