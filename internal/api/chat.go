package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
)

// AgentHeader names the agent a chat request is routed to.
const AgentHeader = "X-Agent-Id"

// agentModelPrefix lets the model field carry the target agent.
const agentModelPrefix = "agent:"

// DefaultModel is used when a request names neither a model nor an agent.
const DefaultModel = "default"

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one turn of an OpenAI-compatible conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a chat completion request.
type ChatRequest struct {
	Model    string
	Messages []ChatMessage
	AgentID  string // sent as X-Agent-Id; also selects the model when Model is empty
	User     string // forwarded as the OpenAI "user" field, typically a session key
}

// ResolvedModel returns the model id sent on the wire.
func (r ChatRequest) ResolvedModel() string {
	switch {
	case r.Model != "":
		return r.Model
	case r.AgentID != "":
		return agentModelPrefix + r.AgentID
	default:
		return DefaultModel
	}
}

type chatBody struct {
	Model    string                                   `json:"model"`
	Messages []openai.ChatCompletionMessageParamUnion `json:"messages"`
	Stream   bool                                     `json:"stream,omitempty"`
	User     string                                   `json:"user,omitempty"`
}

func (r ChatRequest) body(stream bool) (chatBody, error) {
	if len(r.Messages) == 0 {
		return chatBody{}, fmt.Errorf("chat request has no messages")
	}

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(r.Messages))
	for i, m := range r.Messages {
		switch m.Role {
		case RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case RoleUser, "":
			msgs = append(msgs, openai.UserMessage(m.Content))
		case RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			return chatBody{}, fmt.Errorf("message %d: unsupported role %q", i, m.Role)
		}
	}

	return chatBody{
		Model:    r.ResolvedModel(),
		Messages: msgs,
		Stream:   stream,
		User:     r.User,
	}, nil
}

func (c *Client) chatRequest(ctx context.Context, req ChatRequest, stream bool) (*http.Request, error) {
	body, err := req.body(stream)
	if err != nil {
		return nil, err
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, "/v1/chat/completions", nil, body)
	if err != nil {
		return nil, err
	}
	if req.AgentID != "" {
		httpReq.Header.Set(AgentHeader, req.AgentID)
	}
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	return httpReq, nil
}

// ChatCompletion sends a non-streaming chat completion request.
func (c *Client) ChatCompletion(ctx context.Context, req ChatRequest) (*openai.ChatCompletion, error) {
	httpReq, err := c.chatRequest(ctx, req, false)
	if err != nil {
		return nil, err
	}

	data, err := c.send(httpReq)
	if err != nil {
		return nil, err
	}

	var completion openai.ChatCompletion
	if err := json.Unmarshal(data, &completion); err != nil {
		return nil, fmt.Errorf("unmarshal completion: %w", err)
	}
	return &completion, nil
}

// StreamChatCompletion sends a streaming chat request, calling onChunk for
// every content delta, and returns the concatenated text once the stream
// ends.
func (c *Client) StreamChatCompletion(ctx context.Context, req ChatRequest, onChunk func(string)) (string, error) {
	httpReq, err := c.chatRequest(ctx, req, true)
	if err != nil {
		return "", err
	}

	resp, err := c.open(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	return ReadStream(resp.Body, onChunk)
}

// CompletionText returns the first choice's message content.
func CompletionText(c *openai.ChatCompletion) string {
	if c == nil || len(c.Choices) == 0 {
		return ""
	}
	return c.Choices[0].Message.Content
}
