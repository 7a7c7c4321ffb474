package summarize

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"voxmail/internal/logging"
)

// CompletionRequest is one chat-completion call.
type CompletionRequest struct {
	Model       string
	System      string
	User        string
	Temperature float64
	MaxTokens   int64
	JSONMode    bool
}

// Invoker abstracts the chat-completion provider so the map-reduce engine is
// testable without network calls.
type Invoker interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// OpenAIInvoker is the production Invoker.
type OpenAIInvoker struct {
	client openai.Client
}

// NewOpenAIInvoker builds the production invoker. Extra request options
// (base URL overrides for tests) are passed through.
func NewOpenAIInvoker(apiKey string, opts ...option.RequestOption) *OpenAIInvoker {
	all := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAIInvoker{client: openai.NewClient(all...)}
}

// Complete performs the call. JSON mode is requested first; if the provider
// rejects it the call is retried once without it.
func (o *OpenAIInvoker) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	out, err := o.complete(ctx, req, req.JSONMode)
	if err != nil && req.JSONMode {
		logging.Log.WithError(err).Debug("json mode rejected, retrying without")
		out, err = o.complete(ctx, req, false)
	}
	return out, err
}

func (o *OpenAIInvoker) complete(ctx context.Context, req CompletionRequest, jsonMode bool) (string, error) {
	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.User),
		},
		Model:       openai.ChatModel(req.Model),
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(req.MaxTokens)
	}
	if jsonMode {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	comp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("completion call failed: %w", err)
	}
	if len(comp.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}
	return comp.Choices[0].Message.Content, nil
}

var jsonObjectRe = regexp.MustCompile(`(?s)\{.*\}`)

// ExtractJSON best-effort extracts the trailing JSON object from model
// output that may be wrapped in prose or code fences.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	if m := jsonObjectRe.FindString(s); m != "" {
		return m
	}
	return s
}
