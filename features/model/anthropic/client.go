// Package anthropic provides a model.Client implementation backed by the
// Anthropic Claude Messages API. It translates runtime requests into
// anthropic.Message calls using github.com/anthropics/anthropic-sdk-go and
// maps responses (text, tool calls, usage) back into the generic model
// structures.
package anthropic

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/strandworks/strand/runtime/agent/model"
)

type (
	// MessagesClient captures the subset of the Anthropic SDK client used by
	// the adapter. It is satisfied by *sdk.MessageService so callers can pass
	// either a real client or a mock in tests.
	MessagesClient interface {
		New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	}

	// Options configures optional adapter behavior.
	Options struct {
		// DefaultModel is the Claude model identifier used when
		// model.Request.Model is empty.
		DefaultModel string

		// MaxTokens sets the default completion cap when a request does not
		// specify MaxTokens. The Messages API requires a positive cap.
		MaxTokens int

		// Temperature is used when a request does not specify Temperature.
		Temperature float64

		// ThinkingBudget is the default thinking token budget when thinking
		// is enabled without an explicit budget.
		ThinkingBudget int
	}

	// Client implements model.Client on top of Anthropic Claude Messages.
	Client struct {
		msg          MessagesClient
		defaultModel string
		maxTok       int
		temp         float64
		think        int
	}
)

// DefaultMaxTokens is used when neither the request nor the options cap
// completion tokens.
const DefaultMaxTokens = 4096

// New builds an Anthropic-backed model client.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("anthropic: default model identifier is required")
	}
	maxTok := opts.MaxTokens
	if maxTok <= 0 {
		maxTok = DefaultMaxTokens
	}
	return &Client{
		msg:          msg,
		defaultModel: opts.DefaultModel,
		maxTok:       maxTok,
		temp:         opts.Temperature,
		think:        opts.ThinkingBudget,
	}, nil
}

// NewFromAPIKey constructs a client using the default Anthropic HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, Options{DefaultModel: defaultModel})
}

// SupportsThinking reports that Claude models support extended reasoning.
func (c *Client) SupportsThinking() bool { return true }

// Complete issues a non-streaming Messages.New request and translates the
// response.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	if len(req.Messages) == 0 {
		return model.Response{}, errors.New("anthropic: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	msgs, system, err := encodeMessages(req.Messages)
	if err != nil {
		return model.Response{}, err
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTok
	}
	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
		Model:     sdk.Model(modelID),
	}
	if len(system) > 0 {
		params.System = system
	}
	if ts, err := encodeTools(req.Tools); err != nil {
		return model.Response{}, err
	} else if len(ts) > 0 {
		params.Tools = ts
	}
	if t := req.Temperature; t > 0 {
		params.Temperature = sdk.Float(t)
	} else if c.temp > 0 {
		params.Temperature = sdk.Float(c.temp)
	}
	if req.Thinking != nil && req.Thinking.Enable {
		budget := req.Thinking.BudgetTokens
		if budget <= 0 {
			budget = c.think
		}
		if budget < 1024 {
			return model.Response{}, fmt.Errorf("anthropic: thinking budget %d must be >= 1024", budget)
		}
		if budget >= maxTokens {
			return model.Response{}, fmt.Errorf("anthropic: thinking budget %d must be less than max_tokens %d", budget, maxTokens)
		}
		params.Thinking = sdk.ThinkingConfigParamOfEnabled(int64(budget))
	}

	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return model.Response{}, classify(err)
	}
	return translateResponse(msg)
}

func encodeMessages(msgs []model.Message) ([]sdk.MessageParam, []sdk.TextBlockParam, error) {
	var (
		conversation []sdk.MessageParam
		system       []sdk.TextBlockParam
		toolResults  []sdk.ContentBlockParamUnion
	)
	flushResults := func() {
		if len(toolResults) > 0 {
			conversation = append(conversation, sdk.NewUserMessage(toolResults...))
			toolResults = nil
		}
	}
	for _, m := range msgs {
		switch m.Role {
		case model.RoleSystem:
			if m.Content != "" {
				system = append(system, sdk.TextBlockParam{Text: m.Content})
			}
		case model.RoleUser:
			flushResults()
			blocks := make([]sdk.ContentBlockParamUnion, 0, 1+len(m.Parts))
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, p := range m.Parts {
				if len(p.Data) > 0 {
					blocks = append(blocks, sdk.NewImageBlockBase64(p.MediaType, base64.StdEncoding.EncodeToString(p.Data)))
				} else if p.URL != "" {
					blocks = append(blocks, sdk.NewTextBlock(p.URL))
				}
			}
			if len(blocks) > 0 {
				conversation = append(conversation, sdk.NewUserMessage(blocks...))
			}
		case model.RoleAssistant:
			flushResults()
			blocks := make([]sdk.ContentBlockParamUnion, 0, 1+len(m.ToolCalls))
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, call := range m.ToolCalls {
				var input any
				if call.Arguments != "" {
					if err := json.Unmarshal([]byte(call.Arguments), &input); err != nil {
						return nil, nil, fmt.Errorf("anthropic: tool call %q arguments: %w", call.Name, err)
					}
				}
				blocks = append(blocks, sdk.NewToolUseBlock(call.ID, input, call.Name))
			}
			if len(blocks) > 0 {
				conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
			}
		case model.RoleTool:
			// Tool results travel inside user messages on this API.
			// Consecutive results merge into one message.
			toolResults = append(toolResults, sdk.NewToolResultBlock(m.ToolCallID, m.Content, false))
		default:
			return nil, nil, fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}
	flushResults()
	if len(conversation) == 0 {
		return nil, nil, errors.New("anthropic: at least one user/assistant message is required")
	}
	return conversation, system, nil
}

func encodeTools(defs []model.ToolDefinition) ([]sdk.ToolUnionParam, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			continue
		}
		schema := sdk.ToolInputSchemaParam{}
		if def.InputSchema != nil {
			schema.ExtraFields = def.InputSchema
		}
		u := sdk.ToolUnionParamOfTool(schema, def.Name)
		if u.OfTool != nil && def.Description != "" {
			u.OfTool.Description = sdk.String(def.Description)
		}
		out = append(out, u)
	}
	return out, nil
}

func translateResponse(msg *sdk.Message) (model.Response, error) {
	if msg == nil {
		return model.Response{}, errors.New("anthropic: response message is nil")
	}
	assistant := model.Message{Role: model.RoleAssistant}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			assistant.Content += block.Text
		case "tool_use":
			args, err := json.Marshal(block.Input)
			if err != nil {
				return model.Response{}, fmt.Errorf("anthropic: tool_use input: %w", err)
			}
			assistant.ToolCalls = append(assistant.ToolCalls, model.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: string(args),
			})
		}
	}
	resp := model.Response{
		Message:    assistant,
		StopReason: string(msg.StopReason),
	}
	if u := msg.Usage; u.InputTokens != 0 || u.OutputTokens != 0 {
		resp.Usage = model.NewTokenUsage(int(u.InputTokens), int(u.OutputTokens))
	}
	return resp, nil
}

// classify maps SDK failures onto stable provider error kinds so the action
// retry discipline can distinguish transient from permanent failures.
func classify(err error) error {
	var apiErr *sdk.Error
	if !errors.As(err, &apiErr) {
		return model.NewProviderError("anthropic", "messages.new", 0, model.ProviderErrorKindUnknown, "", err.Error(), false, err)
	}
	status := apiErr.StatusCode
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
	return model.NewProviderError("anthropic", "messages.new", status, kind, "", err.Error(), retryable, err)
}
