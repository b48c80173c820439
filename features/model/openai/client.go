// Package openai provides a model.Client implementation backed by the OpenAI
// Chat Completions API. It translates runtime requests into ChatCompletion
// calls using github.com/sashabaranov/go-openai and maps responses back to
// the generic model structures.
package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/strandworks/strand/runtime/agent/model"
)

type (
	// ChatClient captures the subset of the go-openai client used by the
	// adapter.
	ChatClient interface {
		CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (
			openai.ChatCompletionResponse, error)
	}

	// Options configures the OpenAI adapter.
	Options struct {
		// Client performs the chat completion calls.
		Client ChatClient
		// DefaultModel is used when model.Request.Model is empty.
		DefaultModel string
	}

	// Client implements model.Client via the OpenAI Chat Completions API.
	Client struct {
		chat  ChatClient
		model string
	}
)

// New builds an OpenAI-backed model client from the provided options.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("openai: client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("openai: default model is required")
	}
	return &Client{chat: opts.Client, model: opts.DefaultModel}, nil
}

// NewFromAPIKey constructs a client using the default go-openai HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	return New(Options{Client: openai.NewClient(apiKey), DefaultModel: defaultModel})
}

// Complete renders a chat completion using the configured OpenAI client.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	if len(req.Messages) == 0 {
		return model.Response{}, errors.New("openai: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}
	messages, err := encodeMessages(req.Messages)
	if err != nil {
		return model.Response{}, err
	}
	request := openai.ChatCompletionRequest{
		Model:       modelID,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
		Tools:       encodeTools(req.Tools),
	}
	if req.SchemaHint != nil {
		request.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	response, err := c.chat.CreateChatCompletion(ctx, request)
	if err != nil {
		return model.Response{}, classify(err)
	}
	return translateResponse(response), nil
}

func encodeMessages(msgs []model.Message) ([]openai.ChatCompletionMessage, error) {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case model.RoleSystem:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: m.Content,
			})
		case model.RoleUser:
			if len(m.Parts) == 0 {
				out = append(out, openai.ChatCompletionMessage{
					Role:    openai.ChatMessageRoleUser,
					Content: m.Content,
				})
				continue
			}
			parts := make([]openai.ChatMessagePart, 0, 1+len(m.Parts))
			if m.Content != "" {
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: m.Content,
				})
			}
			for _, p := range m.Parts {
				url := p.URL
				if url == "" && len(p.Data) > 0 {
					url = fmt.Sprintf("data:%s;base64,%s", p.MediaType, base64.StdEncoding.EncodeToString(p.Data))
				}
				if url == "" {
					continue
				}
				parts = append(parts, openai.ChatMessagePart{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: url},
				})
			}
			out = append(out, openai.ChatCompletionMessage{
				Role:         openai.ChatMessageRoleUser,
				MultiContent: parts,
			})
		case model.RoleAssistant:
			msg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: m.Content,
			}
			for _, call := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   call.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.Name,
						Arguments: call.Arguments,
					},
				})
			}
			out = append(out, msg)
		case model.RoleTool:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
			})
		default:
			return nil, fmt.Errorf("openai: unsupported message role %q", m.Role)
		}
	}
	return out, nil
}

func encodeTools(defs []model.ToolDefinition) []openai.Tool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.InputSchema,
			},
		})
	}
	return out
}

func translateResponse(resp openai.ChatCompletionResponse) model.Response {
	assistant := model.Message{Role: model.RoleAssistant}
	stop := ""
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		assistant.Content = choice.Message.Content
		for _, call := range choice.Message.ToolCalls {
			assistant.ToolCalls = append(assistant.ToolCalls, model.ToolCall{
				ID:        call.ID,
				Name:      call.Function.Name,
				Arguments: call.Function.Arguments,
			})
		}
		stop = string(choice.FinishReason)
	}
	return model.Response{
		Message:    assistant,
		Usage:      model.NewTokenUsage(resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
		StopReason: stop,
	}
}

// classify maps API failures onto stable provider error kinds.
func classify(err error) error {
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		return model.NewProviderError("openai", "chat.completion", 0, model.ProviderErrorKindUnknown, "", err.Error(), false, err)
	}
	status := apiErr.HTTPStatusCode
	kind := model.ProviderErrorKindUnknown
	retryable := false
	switch {
	case status == 429:
		kind = model.ProviderErrorKindRateLimited
		retryable = true
	case status >= 500:
		kind = model.ProviderErrorKindUnavailable
		retryable = true
	case status == 401 || status == 403:
		kind = model.ProviderErrorKindAuth
	case status >= 400:
		kind = model.ProviderErrorKindInvalidRequest
	}
	code := ""
	if s, ok := apiErr.Code.(string); ok {
		code = s
	}
	return model.NewProviderError("openai", "chat.completion", status, kind, code, apiErr.Message, retryable, err)
}
