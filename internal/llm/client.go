package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// ErrModelUnavailable marks completions that failed because the requested
// model does not exist or is not served; callers retry once on the
// fallback model before giving up.
var ErrModelUnavailable = errors.New("model unavailable")

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

// ToolName is the closed set of tools the model may invoke. Dispatch is a
// compile-time-checked switch, not string matching at call sites.
type ToolName string

const (
	ToolGetOrderStatus ToolName = "getOrderStatus"
	ToolUpdateAdmin    ToolName = "updateAdmin"
)

// ToolCall is a structured tool invocation selected by the model.
type ToolCall struct {
	ID        string
	Name      ToolName
	Arguments map[string]any
}

// StringArg returns the named argument as a trimmed string, or "".
func (c ToolCall) StringArg(key string) string {
	v, ok := c.Arguments[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}

// ToolResult feeds a tool's structured output back for a final reply.
type ToolResult struct {
	Call    ToolCall
	Content string
}

// Request is one completion request. When ToolResult is set the prior
// assistant tool call and its result are appended after the messages, and
// tools are withheld so the model cannot chain a second call.
type Request struct {
	Model       string
	Messages    []Message
	EnableTools bool
	ToolResult  *ToolResult
}

// Completion is the model's answer: either plain text or a tool call.
type Completion struct {
	Text     string
	ToolCall *ToolCall
	Model    string
}

// Client produces completions against interchangeable model identifiers.
type Client interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
	PrimaryModel() string
	FallbackModel() string
}

const completionTemperature = 0.2

// OpenAIClient implements Client on the OpenAI chat-completions API via
// langchaingo.
type OpenAIClient struct {
	model    llms.Model
	primary  string
	fallback string
}

func NewOpenAIClient(apiKey, primaryModel, fallbackModel string) (*OpenAIClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	model, err := openai.New(
		openai.WithToken(apiKey),
		openai.WithModel(primaryModel),
	)
	if err != nil {
		return nil, fmt.Errorf("create openai model: %w", err)
	}
	return &OpenAIClient{
		model:    model,
		primary:  primaryModel,
		fallback: fallbackModel,
	}, nil
}

func (c *OpenAIClient) PrimaryModel() string  { return c.primary }
func (c *OpenAIClient) FallbackModel() string { return c.fallback }

func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Completion, error) {
	messages := make([]llms.MessageContent, 0, len(req.Messages)+2)
	for _, m := range req.Messages {
		messages = append(messages, llms.TextParts(chatMessageType(m.Role), m.Content))
	}
	if tr := req.ToolResult; tr != nil {
		args, err := json.Marshal(tr.Call.Arguments)
		if err != nil {
			return nil, fmt.Errorf("encode tool arguments: %w", err)
		}
		messages = append(messages,
			llms.MessageContent{
				Role: llms.ChatMessageTypeAI,
				Parts: []llms.ContentPart{llms.ToolCall{
					ID:   tr.Call.ID,
					Type: "function",
					FunctionCall: &llms.FunctionCall{
						Name:      string(tr.Call.Name),
						Arguments: string(args),
					},
				}},
			},
			llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: tr.Call.ID,
					Name:       string(tr.Call.Name),
					Content:    tr.Content,
				}},
			},
		)
	}

	opts := []llms.CallOption{
		llms.WithModel(req.Model),
		llms.WithTemperature(completionTemperature),
	}
	if req.EnableTools {
		opts = append(opts, llms.WithTools(toolSchemas))
	}

	resp, err := c.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		if isModelUnavailable(err) {
			return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
		}
		return nil, fmt.Errorf("completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return &Completion{Model: req.Model}, nil
	}

	choice := resp.Choices[0]
	out := &Completion{
		Text:  strings.TrimSpace(choice.Content),
		Model: req.Model,
	}
	// Keep only the first call: side effects are singular per turn.
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil {
			continue
		}
		args := map[string]any{}
		if raw := strings.TrimSpace(tc.FunctionCall.Arguments); raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				args["raw"] = tc.FunctionCall.Arguments
			}
		}
		out.ToolCall = &ToolCall{
			ID:        tc.ID,
			Name:      ToolName(tc.FunctionCall.Name),
			Arguments: args,
		}
		break
	}
	return out, nil
}

func chatMessageType(r Role) llms.ChatMessageType {
	switch r {
	case RoleSystem:
		return llms.ChatMessageTypeSystem
	case RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

func isModelUnavailable(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"model_not_found",
		"does not exist",
		"unknown model",
		"invalid model",
		"status code: 404",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// toolSchemas declares the callable tools shown to the model.
var toolSchemas = []llms.Tool{
	{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        string(ToolGetOrderStatus),
			Description: "Lookup order status by orderId, email, or phone (any one is enough). Returns status, last update, and doc links if found.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"orderId": map[string]any{
						"type":        "string",
						"description": "Order number as used in the order system",
					},
					"email": map[string]any{
						"type":        "string",
						"description": "Email address used for the order",
					},
					"phone": map[string]any{
						"type":        "string",
						"description": "Phone number, preferably including country code",
					},
				},
				"additionalProperties": false,
			},
		},
	},
	{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        string(ToolUpdateAdmin),
			Description: "Forward the customer to a human operator. Requires the customer's name, phone, and a short description of the issue.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name": map[string]any{
						"type":        "string",
						"description": "Customer's name",
					},
					"phone": map[string]any{
						"type":        "string",
						"description": "Customer's phone number",
					},
					"question": map[string]any{
						"type":        "string",
						"description": "What the customer needs help with",
					},
				},
				"required":             []string{"name", "phone", "question"},
				"additionalProperties": false,
			},
		},
	},
}
