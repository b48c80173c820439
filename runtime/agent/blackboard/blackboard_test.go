package blackboard

import (
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

type intent struct{ Goal string }

type report struct{ Body string }

func TestAddObjectAndLast(t *testing.T) {
	b := New()
	require.False(t, b.HasType(intent{}))

	b.AddObject(intent{Goal: "first"})
	b.AddObject(intent{Goal: "second"})

	got, ok := Last[intent](b)
	require.True(t, ok)
	require.Equal(t, "second", got.Goal)
	require.True(t, b.HasType(intent{}))

	_, ok = Last[report](b)
	require.False(t, ok)
}

func TestAllPreservesBindingOrder(t *testing.T) {
	b := New()
	b.AddObject(intent{Goal: "a"})
	b.AddObject(intent{Goal: "b"})
	b.AddObject(intent{Goal: "c"})

	all := All[intent](b)
	require.Len(t, all, 3)
	require.Equal(t, "a", all[0].Goal)
	require.Equal(t, "b", all[1].Goal)
	require.Equal(t, "c", all[2].Goal)
}

func TestLabels(t *testing.T) {
	b := New()
	require.False(t, b.HasLabel("awaitable"))

	b.AddObjectWithLabels(report{Body: "draft"}, "awaitable", "pending")
	require.True(t, b.HasLabel("awaitable"))
	require.True(t, b.HasLabel("pending"))

	v, ok := b.LastLabeled("awaitable")
	require.True(t, ok)
	require.Equal(t, "draft", v.(report).Body)

	b.AddObjectWithLabels(report{Body: "final"}, "awaitable")
	v, _ = b.LastLabeled("awaitable")
	require.Equal(t, "final", v.(report).Body)
}

func TestAddObjectNilPanics(t *testing.T) {
	b := New()
	require.Panics(t, func() { b.AddObject(nil) })
}

func TestSnapshot(t *testing.T) {
	b := New()
	b.AddObject(intent{Goal: "plan trip"})
	b.AddObjectWithLabels(report{Body: "done"}, "output")

	snap, err := b.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap, 2)

	// Binding order is preserved in the snapshot.
	require.Contains(t, snap[0].TypeName, "intent")
	require.Contains(t, snap[1].TypeName, "report")
	require.Equal(t, []string{"output"}, snap[1].Labels)

	var decoded report
	require.NoError(t, json.Unmarshal(snap[1].Value, &decoded))
	require.Equal(t, "done", decoded.Body)
	require.False(t, snap[0].BoundAt.After(snap[1].BoundAt))
}

func TestLastAcrossAssignableTypes(t *testing.T) {
	b := New()
	b.AddObject(intent{Goal: "x"})
	b.AddObject(report{Body: "y"})

	// An interface target matches every binding; the latest wins.
	got, ok := Last[any](b)
	require.True(t, ok)
	require.Equal(t, report{Body: "y"}, got)
	require.Len(t, All[any](b), 2)
}

func TestBlackboardMonotoneGrowth(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("size equals the number of bindings made", prop.ForAll(
		func(goals []string) bool {
			b := New()
			for _, g := range goals {
				b.AddObject(intent{Goal: g})
			}
			return b.Size() == len(goals) && len(All[intent](b)) == len(goals)
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("bindings are never replaced", prop.ForAll(
		func(first, second string) bool {
			b := New()
			b.AddObject(intent{Goal: first})
			b.AddObject(intent{Goal: second})
			all := All[intent](b)
			return len(all) == 2 && all[0].Goal == first && all[1].Goal == second
		},
		gen.AlphaString(), gen.AlphaString(),
	))

	properties.TestingRun(t)
}
