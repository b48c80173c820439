package prompt

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/strandworks/strand/runtime/agent/model"
)

type recipe struct {
	Title   string `json:"title"`
	Minutes int    `json:"minutes"`
}

type scriptedClient struct {
	steps    []string
	requests []model.Request
}

func (c *scriptedClient) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	c.requests = append(c.requests, req)
	if len(c.steps) == 0 {
		return model.Response{}, errors.New("scripted client exhausted")
	}
	content := c.steps[0]
	c.steps = c.steps[1:]
	return model.Response{Message: model.AssistantMessage(content)}, nil
}

func newRunner(t *testing.T, steps ...string) (*Runner, *scriptedClient) {
	t.Helper()
	client := &scriptedClient{steps: steps}
	return New(newRegistry(t, client)), client
}

func TestCreateObject(t *testing.T) {
	r, client := newRunner(t, `{"title":"Pasta","minutes":20}`)

	got, err := CreateObject[recipe](context.Background(), r, "Give me a quick dinner recipe")
	require.NoError(t, err)
	require.Equal(t, recipe{Title: "Pasta", Minutes: 20}, got)

	// The schema instruction rides in the system prompt.
	require.Len(t, client.requests, 1)
	sys := client.requests[0].Messages[0]
	require.Equal(t, model.RoleSystem, sys.Role)
	require.Contains(t, sys.Content, "JSON Schema")
	require.Contains(t, sys.Content, `"title"`)
}

func TestCreateObjectStringBypass(t *testing.T) {
	raw := "Just some prose, no JSON here."
	r, client := newRunner(t, raw)

	got, err := CreateObject[string](context.Background(), r, "say something")
	require.NoError(t, err)
	require.Equal(t, raw, got)

	// No schema instruction for plain text.
	for _, m := range client.requests[0].Messages {
		require.NotContains(t, m.Content, "JSON Schema")
	}
}

func TestCreateObjectStripsFences(t *testing.T) {
	r, _ := newRunner(t, "Here you go:\n```json\n{\"title\":\"Soup\",\"minutes\":15}\n```\nEnjoy!")

	got, err := CreateObject[recipe](context.Background(), r, "recipe please")
	require.NoError(t, err)
	require.Equal(t, "Soup", got.Title)
}

func TestCreateObjectCorrectiveRetry(t *testing.T) {
	r, client := newRunner(t,
		"I think pasta would be nice.",
		`{"title":"Pasta","minutes":20}`,
	)

	got, err := CreateObject[recipe](context.Background(), r, "recipe please")
	require.NoError(t, err)
	require.Equal(t, "Pasta", got.Title)

	// The retry carried a corrective message on top of the prior history.
	require.Len(t, client.requests, 2)
	retry := client.requests[1].Messages
	last := retry[len(retry)-1]
	require.Equal(t, model.RoleUser, last.Role)
	require.Contains(t, last.Content, "was not valid JSON")
}

func TestCreateObjectRetriesExhausted(t *testing.T) {
	r, client := newRunner(t, "nope", "still nope")
	r = r.WithFormatRetries(1)

	_, err := CreateObject[recipe](context.Background(), r, "recipe please")
	var ferr *InvalidReturnFormatError
	require.ErrorAs(t, err, &ferr)
	require.Equal(t, 1, ferr.Attempts)
	require.Equal(t, "still nope", ferr.Raw)
	require.Len(t, client.requests, 2)
}

func TestCreateObjectValidation(t *testing.T) {
	// Parses into the zero value but fails the schema's required fields.
	r, _ := newRunner(t, `{}`)
	r = r.WithValidation(true)

	_, err := CreateObject[recipe](context.Background(), r, "recipe please")
	var terr *InvalidReturnTypeError
	require.ErrorAs(t, err, &terr)
	require.Error(t, terr.Cause)
}

func TestCreateObjectGuardrail(t *testing.T) {
	r, _ := newRunner(t, `{"title":"Pasta","minutes":20}`)
	r = r.WithGuardrail(Guardrail{
		Name: "no_pasta",
		Check: func(content string) error {
			if strings.Contains(content, "Pasta") {
				return errors.New("pasta is off the menu")
			}
			return nil
		},
	})

	_, err := CreateObject[recipe](context.Background(), r, "recipe please")
	var gerr *GuardrailError
	require.ErrorAs(t, err, &gerr)
	require.Equal(t, "no_pasta", gerr.Guardrail)
	require.ErrorContains(t, err, "pasta is off the menu")
}

func TestCreateObjectIfPossible(t *testing.T) {
	r, _ := newRunner(t, `{"title":"Stew","minutes":90}`)
	res := CreateObjectIfPossible[recipe](context.Background(), r, "recipe please")
	require.True(t, res.OK())
	require.Equal(t, "Stew", res.Value.Title)

	r, _ = newRunner(t, "not json")
	r = r.WithFormatRetries(0)
	res = CreateObjectIfPossible[recipe](context.Background(), r, "recipe please")
	require.False(t, res.OK())
	var ferr *InvalidReturnFormatError
	require.ErrorAs(t, res.Err, &ferr)
}

func TestCreateObjectExamples(t *testing.T) {
	r, client := newRunner(t, `{"title":"Salad","minutes":5}`)
	r = r.WithExample("A fast dish", recipe{Title: "Toast", Minutes: 3})

	_, err := CreateObject[recipe](context.Background(), r, "recipe please")
	require.NoError(t, err)
	sys := client.requests[0].Messages[0].Content
	require.Contains(t, sys, "A fast dish")
	require.Contains(t, sys, `"Toast"`)
}

func TestGenerateText(t *testing.T) {
	r, _ := newRunner(t, "plain answer")
	got, err := r.GenerateText(context.Background(), "say something")
	require.NoError(t, err)
	require.Equal(t, "plain answer", got)
}

func TestRespond(t *testing.T) {
	r, client := newRunner(t, "the reply")
	msg, err := r.Respond(context.Background(),
		model.UserMessage("first"),
		model.AssistantMessage("second"),
		model.UserMessage("third"),
	)
	require.NoError(t, err)
	require.Equal(t, model.RoleAssistant, msg.Role)
	require.Equal(t, "the reply", msg.Content)
	require.Len(t, client.requests[0].Messages, 3)
}

func TestEvaluateCondition(t *testing.T) {
	ctx := context.Background()

	r, _ := newRunner(t, `{"result":true,"confidence":0.95,"explanation":"clearly holds"}`)
	ok, err := r.EvaluateCondition(ctx, "the order is paid", "order #7, payment captured", -1)
	require.NoError(t, err)
	require.True(t, ok)

	// Confident rejection and unconfident acceptance both fail the gate.
	r, _ = newRunner(t, `{"result":false,"confidence":0.99,"explanation":"does not hold"}`)
	ok, err = r.EvaluateCondition(ctx, "the order is paid", "no payment on file", -1)
	require.NoError(t, err)
	require.False(t, ok)

	r, _ = newRunner(t, `{"result":true,"confidence":0.4,"explanation":"unsure"}`)
	ok, err = r.EvaluateCondition(ctx, "the order is paid", "ambiguous records", -1)
	require.NoError(t, err)
	require.False(t, ok)

	// A zero threshold accepts any confidence.
	r, _ = newRunner(t, `{"result":true,"confidence":0.1,"explanation":"barely"}`)
	ok, err = r.EvaluateCondition(ctx, "the order is paid", "thin records", 0)
	require.NoError(t, err)
	require.True(t, ok)

	// Custom thresholds override the default gate.
	r, _ = newRunner(t, `{"result":true,"confidence":0.5,"explanation":"plausible"}`)
	ok, err = r.EvaluateCondition(ctx, "the order is paid", "partial records", 0.4)
	require.NoError(t, err)
	require.True(t, ok)
}
