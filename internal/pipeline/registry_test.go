package pipeline

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestRegistry_OrderedIsStableByPriority(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		priorities := rapid.SliceOfN(rapid.IntRange(-3, 3), 0, 12).Draw(rt, "priorities")
		steps := make([]Step, len(priorities))
		for i, p := range priorities {
			steps[i] = okStep(fmt.Sprintf("s%02d", i), p)
		}
		reg, err := NewRegistry(steps...)
		if err != nil {
			rt.Fatalf("registry: %v", err)
		}
		ordered := reg.Ordered()
		if len(ordered) != len(steps) {
			rt.Fatalf("got %d steps, want %d", len(ordered), len(steps))
		}
		for i := 1; i < len(ordered); i++ {
			prev, cur := ordered[i-1], ordered[i]
			if prev.Priority() > cur.Priority() {
				rt.Fatalf("%s(%d) before %s(%d)", prev.ID(), prev.Priority(), cur.ID(), cur.Priority())
			}
			if prev.Priority() == cur.Priority() && prev.ID() > cur.ID() {
				rt.Fatalf("tie not stable: %s before %s", prev.ID(), cur.ID())
			}
		}
	})
}

func TestRegistry_Resolve(t *testing.T) {
	reg, err := NewRegistry(okStep("technical", 10), okStep("risk", 20))
	require.NoError(t, err)

	st, err := reg.Resolve("risk")
	require.NoError(t, err)
	assert.Equal(t, "risk", st.ID())

	_, err = reg.Resolve("sentiment")
	assert.ErrorIs(t, err, ErrUnknownStep)
	assert.True(t, reg.Supports("technical"))
	assert.False(t, reg.Supports("sentiment"))
	assert.Equal(t, []string{"technical", "risk"}, reg.IDs())

	ordered := reg.Ordered()
	ordered[0] = nil
	assert.NotNil(t, reg.Ordered()[0])
}

func TestNewRegistry_RejectsBadSteps(t *testing.T) {
	_, err := NewRegistry(okStep("a", 1), okStep("a", 2))
	assert.Error(t, err)
	_, err = NewRegistry(okStep(" ", 1))
	assert.Error(t, err)
	_, err = NewRegistry(nil)
	assert.Error(t, err)
}
