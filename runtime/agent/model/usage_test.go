package model

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func TestTokenUsageAdd(t *testing.T) {
	a := NewTokenUsage(10, 5)
	b := NewTokenUsage(3, 7)
	sum := a.Add(b)
	require.Equal(t, 13, *sum.InputTokens)
	require.Equal(t, 12, *sum.OutputTokens)
	require.Equal(t, 25, sum.Total())
}

func TestTokenUsageNilAbsorbs(t *testing.T) {
	reported := NewTokenUsage(10, 5)
	var unreported TokenUsage

	sum := reported.Add(unreported)
	require.Equal(t, 10, *sum.InputTokens)
	require.Equal(t, 5, *sum.OutputTokens)

	sum = unreported.Add(unreported)
	require.True(t, sum.IsZero())
	require.Equal(t, 0, sum.Total())
}

func TestTokenUsagePartialReport(t *testing.T) {
	in := 7
	partial := TokenUsage{InputTokens: &in}
	sum := partial.Add(NewTokenUsage(1, 2))
	require.Equal(t, 8, *sum.InputTokens)
	require.Equal(t, 2, *sum.OutputTokens)
	require.False(t, partial.IsZero())
}

func genUsage() gopter.Gen {
	return gopter.CombineGens(
		gen.Bool(), gen.IntRange(0, 1<<20),
		gen.Bool(), gen.IntRange(0, 1<<20),
	).Map(func(vs []interface{}) TokenUsage {
		var u TokenUsage
		if vs[0].(bool) {
			v := vs[1].(int)
			u.InputTokens = &v
		}
		if vs[2].(bool) {
			v := vs[3].(int)
			u.OutputTokens = &v
		}
		return u
	})
}

func sameComponent(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameUsage(a, b TokenUsage) bool {
	return sameComponent(a.InputTokens, b.InputTokens) &&
		sameComponent(a.OutputTokens, b.OutputTokens)
}

func TestTokenUsageMonoid(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("zero is the identity", prop.ForAll(
		func(u TokenUsage) bool {
			var zero TokenUsage
			return sameUsage(u.Add(zero), u) && sameUsage(zero.Add(u), u)
		},
		genUsage(),
	))

	properties.Property("addition is associative", prop.ForAll(
		func(a, b, c TokenUsage) bool {
			return sameUsage(a.Add(b).Add(c), a.Add(b.Add(c)))
		},
		genUsage(), genUsage(), genUsage(),
	))

	properties.Property("addition is commutative", prop.ForAll(
		func(a, b TokenUsage) bool {
			return sameUsage(a.Add(b), b.Add(a))
		},
		genUsage(), genUsage(),
	))

	properties.Property("total distributes over addition", prop.ForAll(
		func(a, b TokenUsage) bool {
			return a.Add(b).Total() == a.Total()+b.Total()
		},
		genUsage(), genUsage(),
	))

	properties.TestingRun(t)
}
