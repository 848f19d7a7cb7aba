package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestController_FullSequence(t *testing.T) {
	var c Controller
	assert.Equal(t, Load, c.Current())

	c.AdvanceTo(Load)
	for s := PreInit; s <= PostDeinit; s++ {
		prev := c.AdvanceTo(s)
		assert.Equal(t, s-1, prev)
		assert.Equal(t, s, c.Current())
	}
	assert.True(t, c.Reached(Running))
}

func TestController_RejectsSkipAndRegress(t *testing.T) {
	var c Controller
	assert.Panics(t, func() { c.AdvanceTo(Init) }, "must start at Load")

	c.AdvanceTo(Load)
	c.AdvanceTo(PreInit)
	assert.Panics(t, func() { c.AdvanceTo(PostInit) })
	assert.Panics(t, func() { c.AdvanceTo(Load) })
	assert.Panics(t, func() { c.AdvanceTo(PreInit) })
	assert.Equal(t, PreInit, c.Current())
}

func TestController_NoAdvancePastEnd(t *testing.T) {
	var c Controller
	c.AdvanceTo(Load)
	for s := PreInit; s <= PostDeinit; s++ {
		c.AdvanceTo(s)
	}
	assert.Panics(t, func() { c.AdvanceTo(PostDeinit + 1) })
}

func TestStage_String(t *testing.T) {
	assert.Equal(t, "Running", Running.String())
	assert.Equal(t, "PostDeinit", PostDeinit.String())
	assert.Equal(t, "Stage(42)", Stage(42).String())
}

func TestStageLists(t *testing.T) {
	assert.Equal(t, []Stage{Load, PreInit, Init, PostInit}, InitStages)
	assert.Equal(t, []Stage{PreDeinit, Deinit, PostDeinit}, DeinitStages)
}
