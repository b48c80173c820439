package prompt

import (
	"context"
	"testing"
	"text/template"

	"github.com/stretchr/testify/require"

	"github.com/strandworks/strand/runtime/agent/blackboard"
	"github.com/strandworks/strand/runtime/agent/model"
)

type capableClient struct {
	thinking  bool
	streaming bool
}

func (c *capableClient) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	return model.Response{Message: model.AssistantMessage("ok")}, nil
}

func (c *capableClient) SupportsThinking() bool { return c.thinking }

func (c *capableClient) SupportsStreaming() bool { return c.streaming }

func newRegistry(t *testing.T, c model.Client) *model.Registry {
	t.Helper()
	reg := model.NewRegistry()
	require.NoError(t, reg.RegisterClient("test", c))
	reg.SetDefault("test")
	return reg
}

func TestRunnerImmutability(t *testing.T) {
	base := New(newRegistry(t, &capableClient{}))

	derived := base.
		WithTemperature(0.7).
		WithMaxTokens(512).
		WithContributor("Be terse.").
		WithInteractionID("i1").
		WithValidation(true).
		WithFormatRetries(5)

	require.Zero(t, base.temperature)
	require.Zero(t, base.maxTokens)
	require.Empty(t, base.contributors)
	require.Empty(t, base.interactionID)
	require.False(t, base.validate)
	require.Equal(t, DefaultFormatRetries, base.formatRetries)

	require.Equal(t, 0.7, derived.temperature)
	require.Equal(t, 512, derived.maxTokens)
	require.Equal(t, []string{"Be terse."}, derived.contributors)
	require.Equal(t, 5, derived.formatRetries)
}

func TestRunnerBranchesDoNotShareSlices(t *testing.T) {
	base := New(newRegistry(t, &capableClient{})).WithContributor("common")

	left := base.WithContributor("left")
	right := base.WithContributor("right")

	require.Equal(t, []string{"common"}, base.contributors)
	require.Equal(t, []string{"common", "left"}, left.contributors)
	require.Equal(t, []string{"common", "right"}, right.contributors)
}

func TestPropertyFilters(t *testing.T) {
	base := New(newRegistry(t, &capableClient{}))

	keep := base.WithProperties("title", "body")
	require.Len(t, keep.filters, 1)
	require.True(t, keep.filters[0]("title"))
	require.False(t, keep.filters[0]("secret"))

	drop := base.WithoutProperties("secret")
	require.True(t, drop.filters[0]("title"))
	require.False(t, drop.filters[0]("secret"))

	// Filters compose by conjunction.
	both := keep.WithoutProperties("body")
	require.Len(t, both.filters, 2)
}

func TestSupportsThinkingProbe(t *testing.T) {
	r := New(newRegistry(t, &capableClient{thinking: true}))
	require.True(t, r.SupportsThinking())
	require.False(t, r.SupportsStreaming())

	r = New(newRegistry(t, &capableClient{streaming: true}))
	require.False(t, r.SupportsThinking())
	require.True(t, r.SupportsStreaming())

	// Unresolvable selections report false rather than erroring.
	r = New(newRegistry(t, &capableClient{thinking: true})).WithModel(model.ByName("missing"))
	require.False(t, r.SupportsThinking())
}

func TestRendering(t *testing.T) {
	r := New(newRegistry(t, &capableClient{}))

	_, err := r.Rendering("greet")
	require.ErrorContains(t, err, "no templates bound")

	tpl := template.Must(template.New("greet").Parse("Hello {{.Name}}, welcome to {{.Place}}."))
	r = r.WithTemplates(tpl)

	_, err = r.Rendering("missing")
	require.ErrorContains(t, err, `template "missing" not found`)

	rd, err := r.Rendering("greet")
	require.NoError(t, err)
	out, err := rd.Render(map[string]string{"Name": "Ada", "Place": "Lyon"})
	require.NoError(t, err)
	require.Equal(t, "Hello Ada, welcome to Lyon.", out)

	_, err = rd.Render(struct{}{})
	require.Error(t, err)
}

func TestBuildMessages(t *testing.T) {
	board := blackboard.New()
	r := New(newRegistry(t, &capableClient{})).
		WithBlackboard(board).
		WithContributor("You are a planner.").
		WithContextualContributor(func(rc RunContext) string {
			if rc.Board == nil {
				return ""
			}
			return "Board attached."
		}).
		WithMessages(model.AssistantMessage("earlier turn"))

	msgs := r.buildMessages("plan a trip")
	require.Len(t, msgs, 3)
	require.Equal(t, model.RoleSystem, msgs[0].Role)
	require.Contains(t, msgs[0].Content, "You are a planner.")
	require.Contains(t, msgs[0].Content, "Board attached.")
	require.Equal(t, "earlier turn", msgs[1].Content)
	require.Equal(t, "plan a trip", msgs[2].Content)

	// No system message when nothing contributes.
	bare := New(newRegistry(t, &capableClient{})).buildMessages("hi")
	require.Len(t, bare, 1)
	require.Equal(t, model.RoleUser, bare[0].Role)
}
