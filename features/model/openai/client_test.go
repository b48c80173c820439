package openai

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/strandworks/strand/runtime/agent/model"
)

type stubChatClient struct {
	lastRequest openai.ChatCompletionRequest
	resp        openai.ChatCompletionResponse
	err         error
}

func (s *stubChatClient) CreateChatCompletion(_ context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.lastRequest = request
	return s.resp, s.err
}

func newTestClient(t *testing.T, stub *stubChatClient) *Client {
	t.Helper()
	cl, err := New(Options{Client: stub, DefaultModel: "gpt-4o"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return cl
}

func textResponse(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content},
			FinishReason: openai.FinishReasonStop,
		}},
		Usage: openai.Usage{PromptTokens: 7, CompletionTokens: 3},
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Options{DefaultModel: "gpt-4o"}); err == nil {
		t.Fatal("expected error for nil client")
	}
	if _, err := New(Options{Client: &stubChatClient{}}); err == nil {
		t.Fatal("expected error for missing default model")
	}
}

func TestComplete_TextOnly(t *testing.T) {
	stub := &stubChatClient{resp: textResponse("world")}
	cl := newTestClient(t, stub)

	resp, err := cl.Complete(context.Background(), model.Request{
		Messages: []model.Message{model.UserMessage("hello")},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Message.Content != "world" {
		t.Fatalf("unexpected content %q", resp.Message.Content)
	}
	if resp.StopReason != string(openai.FinishReasonStop) {
		t.Fatalf("unexpected stop reason %q", resp.StopReason)
	}
	if resp.Usage.Total() != 10 {
		t.Fatalf("unexpected usage total %d", resp.Usage.Total())
	}
	if stub.lastRequest.Model != "gpt-4o" {
		t.Fatalf("unexpected model %q", stub.lastRequest.Model)
	}
}

func TestComplete_ToolCalls(t *testing.T) {
	stub := &stubChatClient{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				Role: openai.ChatMessageRoleAssistant,
				ToolCalls: []openai.ToolCall{{
					ID:   "call-1",
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      "lookup_order",
						Arguments: `{"id":"o7"}`,
					},
				}},
			},
			FinishReason: openai.FinishReasonToolCalls,
		}},
	}}
	cl := newTestClient(t, stub)

	resp, err := cl.Complete(context.Background(), model.Request{
		Messages: []model.Message{model.UserMessage("find order o7")},
		Tools: []model.ToolDefinition{{
			Name:        "lookup_order",
			Description: "Look up an order",
			InputSchema: map[string]any{"type": "object"},
		}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(resp.Message.ToolCalls))
	}
	call := resp.Message.ToolCalls[0]
	if call.ID != "call-1" || call.Name != "lookup_order" || call.Arguments != `{"id":"o7"}` {
		t.Fatalf("unexpected call %+v", call)
	}
	if len(stub.lastRequest.Tools) != 1 || stub.lastRequest.Tools[0].Function.Name != "lookup_order" {
		t.Fatalf("unexpected encoded tools %+v", stub.lastRequest.Tools)
	}
}

func TestComplete_EncodesConversation(t *testing.T) {
	stub := &stubChatClient{resp: textResponse("done")}
	cl := newTestClient(t, stub)

	_, err := cl.Complete(context.Background(), model.Request{
		Messages: []model.Message{
			model.SystemMessage("You are a clerk."),
			model.UserMessage("check the order"),
			{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{
				{ID: "c1", Name: "lookup_order", Arguments: `{"id":"o1"}`},
			}},
			model.ToolResultMessage("c1", "lookup_order", "found o1"),
		},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	msgs := stub.lastRequest.Messages
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	if msgs[0].Role != openai.ChatMessageRoleSystem {
		t.Fatalf("unexpected first role %q", msgs[0].Role)
	}
	if len(msgs[2].ToolCalls) != 1 {
		t.Fatalf("expected assistant tool call, got %+v", msgs[2])
	}
	if msgs[3].Role != openai.ChatMessageRoleTool || msgs[3].ToolCallID != "c1" {
		t.Fatalf("unexpected tool result message %+v", msgs[3])
	}
}

func TestComplete_SchemaHintRequestsJSON(t *testing.T) {
	stub := &stubChatClient{resp: textResponse(`{}`)}
	cl := newTestClient(t, stub)

	_, err := cl.Complete(context.Background(), model.Request{
		Messages:   []model.Message{model.UserMessage("give me json")},
		SchemaHint: map[string]any{"type": "object"},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	rf := stub.lastRequest.ResponseFormat
	if rf == nil || rf.Type != openai.ChatCompletionResponseFormatTypeJSONObject {
		t.Fatalf("unexpected response format %+v", rf)
	}
}

func TestComplete_ClassifiesErrors(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
	}{
		{429, true},
		{503, true},
		{401, false},
		{400, false},
	}
	for _, tc := range cases {
		stub := &stubChatClient{err: &openai.APIError{
			HTTPStatusCode: tc.status,
			Message:        "nope",
		}}
		cl := newTestClient(t, stub)
		_, err := cl.Complete(context.Background(), model.Request{
			Messages: []model.Message{model.UserMessage("hi")},
		})
		pe, ok := model.AsProviderError(err)
		if !ok {
			t.Fatalf("status %d: expected provider error, got %v", tc.status, err)
		}
		if pe.Retryable() != tc.retryable {
			t.Fatalf("status %d: retryable = %v, want %v", tc.status, pe.Retryable(), tc.retryable)
		}
	}

	stub := &stubChatClient{err: errors.New("connection reset")}
	cl := newTestClient(t, stub)
	_, err := cl.Complete(context.Background(), model.Request{
		Messages: []model.Message{model.UserMessage("hi")},
	})
	if pe, ok := model.AsProviderError(err); !ok || pe.Retryable() {
		t.Fatalf("expected non-retryable provider error, got %v", err)
	}
}
