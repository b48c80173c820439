package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubClient struct{ name string }

func (s *stubClient) Complete(ctx context.Context, req Request) (Response, error) {
	return Response{Message: AssistantMessage(s.name)}, nil
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, r.RegisterClient("sonnet", &stubClient{name: "sonnet"}))
	require.NoError(t, r.RegisterClient("haiku", &stubClient{name: "haiku"}))
	require.NoError(t, r.MapRole("planner", "sonnet"))
	r.SetDefault("haiku")
	return r
}

func TestResolveByName(t *testing.T) {
	r := newTestRegistry(t)
	c, name, err := r.Resolve(ByName("sonnet"))
	require.NoError(t, err)
	require.Equal(t, "sonnet", name)
	require.Equal(t, "sonnet", c.(*stubClient).name)

	_, _, err = r.Resolve(ByName("nope"))
	require.Error(t, err)
}

func TestResolveByRole(t *testing.T) {
	r := newTestRegistry(t)
	_, name, err := r.Resolve(ByRole("planner"))
	require.NoError(t, err)
	require.Equal(t, "sonnet", name)

	_, _, err = r.Resolve(ByRole("unknown"))
	require.Error(t, err)
}

func TestResolveFallback(t *testing.T) {
	r := newTestRegistry(t)
	_, name, err := r.Resolve(FallbackByName("missing", "haiku"))
	require.NoError(t, err)
	require.Equal(t, "haiku", name)

	_, _, err = r.Resolve(FallbackByName("missing", "also-missing"))
	require.Error(t, err)

	_, _, err = r.Resolve(FallbackByName())
	require.Error(t, err)
}

func TestResolveDefault(t *testing.T) {
	r := newTestRegistry(t)
	for _, sel := range []Selection{Default(), Auto(), {}} {
		_, name, err := r.Resolve(sel)
		require.NoError(t, err)
		require.Equal(t, "haiku", name)
	}

	empty := NewRegistry()
	_, _, err := empty.Resolve(Default())
	require.Error(t, err)
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterClient("m", &stubClient{}))
	require.Error(t, r.RegisterClient("m", &stubClient{}))
}

func TestFreezePanicsOnMutation(t *testing.T) {
	r := newTestRegistry(t)
	r.Freeze()
	require.Panics(t, func() { _ = r.RegisterClient("late", &stubClient{}) })
	require.Panics(t, func() { _ = r.MapRole("late", "sonnet") })
	require.Panics(t, func() { r.SetDefault("sonnet") })

	// Resolution still works after freezing.
	_, name, err := r.Resolve(Default())
	require.NoError(t, err)
	require.Equal(t, "haiku", name)
}
