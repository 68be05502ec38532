package analysis

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/clauselens/clauselens/internal/contract"
)

const systemPrompt = "You are a senior contracts analyst reviewing legal agreements. " +
	"Respond with strict JSON only, matching the requested schema exactly."

// CompletionClient is the external text-completion capability. Implementations
// may fail, time out, or return text that is not valid structured data; the
// stage clients are responsible for surviving all three.
type CompletionClient interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

type AnthropicMessager interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

type AnthropicClientCreator func(apiKey string) AnthropicMessager

func defaultAnthropicCreator(apiKey string) AnthropicMessager {
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &c.Messages
}

var newAnthropicClient AnthropicClientCreator = defaultAnthropicCreator

type AnthropicCaller struct {
	messages AnthropicMessager
}

// NewAnthropicCallerFromEnv builds the production caller. A missing API key is
// a capability_unavailable condition, not a startup crash: callers construct
// the stage clients without a completion client and every stage falls back.
func NewAnthropicCallerFromEnv() (*AnthropicCaller, error) {
	apiKey := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	if apiKey == "" {
		return nil, contract.NewError(contract.CodeCapabilityUnavailable, "ANTHROPIC_API_KEY not configured")
	}
	return &AnthropicCaller{messages: newAnthropicClient(apiKey)}, nil
}

func (a *AnthropicCaller) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	resp, err := a.messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.ModelClaudeSonnet4_20250514,
		MaxTokens:   int64(maxTokens),
		System:      []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
		Temperature: anthropic.Float(0),
	})
	if err != nil {
		return "", classifyCapabilityError(err)
	}
	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String(), nil
}

// classifyCapabilityError folds transport failures into the coded taxonomy.
// Timeouts and remote failures are capability_error; auth/credential problems
// are capability_unavailable.
func classifyCapabilityError(err error) error {
	var ce *contract.Error
	if errors.As(err, &ce) {
		return err
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "401") || strings.Contains(msg, "authentication") || strings.Contains(msg, "api key") {
		return contract.NewError(contract.CodeCapabilityUnavailable, "completion capability rejected credentials: %v", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return contract.NewError(contract.CodeCapabilityError, "completion capability timed out: %v", err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return contract.NewError(contract.CodeCapabilityError, "completion capability timed out: %v", err)
	}
	return contract.NewError(contract.CodeCapabilityError, "completion capability failed: %v", err)
}
