// Package generate wraps the external reply-generation collaborator. The
// gateway treats it as an opaque function from message to reply text; every
// failure surfaces as an *Error so callers can classify it without rolling
// back the send that triggered it.
package generate

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"

	"github.com/xela07ax/trustgate/internal/domain"
)

// Error marks a reply-generation failure (timeout or upstream fault).
type Error struct {
	Cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("reply generation failed: %v", e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

type Generator interface {
	Generate(ctx context.Context, msg domain.Message) (string, error)
}

// Options configure the OpenAI-backed generator. Kept minimal on purpose.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int64
}

// OpenAI generates replies through the Chat Completions API.
type OpenAI struct {
	client *openai.Client
	opts   Options
}

func NewOpenAI(optFns ...func(o *Options)) *OpenAI {
	client := openai.NewClient()
	return NewOpenAIFromClient(&client, optFns...)
}

func NewOpenAIFromClient(client *openai.Client, optFns ...func(o *Options)) *OpenAI {
	opts := Options{
		Model:       openai.ChatModelGPT4oMini,
		Temperature: 0.7,
		MaxTokens:   512,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &OpenAI{client: client, opts: opts}
}

func (g *OpenAI) Generate(ctx context.Context, msg domain.Message) (string, error) {
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage("You are a business agent replying on behalf of your organization. Answer the incoming message briefly and professionally."),
			openai.UserMessage(msg.Content),
		},
		Model:               g.opts.Model,
		Temperature:         openai.Float(g.opts.Temperature),
		MaxCompletionTokens: openai.Int(g.opts.MaxTokens),
	})
	if err != nil {
		return "", &Error{Cause: err}
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", &Error{Cause: fmt.Errorf("empty completion")}
	}
	return resp.Choices[0].Message.Content, nil
}

// Canned is the offline generator for demos and tests: deterministic replies
// keyed on the message kind, no network.
type Canned struct{}

func (Canned) Generate(_ context.Context, msg domain.Message) (string, error) {
	switch msg.Kind {
	case domain.KindCredentialRequest:
		return "Credential presentation attached.", nil
	case domain.KindPolicyCheck:
		return "Policy requirements acknowledged.", nil
	default:
		return fmt.Sprintf("Acknowledged: %q received.", truncate(msg.Content, 64)), nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
