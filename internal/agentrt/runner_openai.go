package agentrt

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"voxmail/internal/logging"
	"voxmail/internal/tools"
)

const defaultMaxSteps = 12

// OpenAIRunner is the production Runner: a chat-completion tool-calling
// loop against the text model (never the realtime speech model).
type OpenAIRunner struct {
	client openai.Client
}

// NewOpenAIRunner builds the production runner. Extra request options
// (base URL overrides for tests) are passed through.
func NewOpenAIRunner(apiKey string, opts ...option.RequestOption) *OpenAIRunner {
	all := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAIRunner{client: openai.NewClient(all...)}
}

// Run drives the model until it stops calling tools or MaxSteps is reached.
func (r *OpenAIRunner) Run(ctx context.Context, spec *Specialist, reg tools.Registry, opts Options, input, hint string) (string, error) {
	system := spec.System
	if hint != "" {
		system += "\n" + hint
	}

	var toolDefs []openai.ChatCompletionToolUnionParam
	for _, s := range reg.Schemas() {
		toolDefs = append(toolDefs, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        s.Name,
			Description: openai.String(s.Description),
			Parameters:  openai.FunctionParameters(s.Parameters),
		}))
	}

	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(input),
		},
		Tools: toolDefs,
		Model: openai.ChatModel(opts.Model),
	}

	maxSteps := opts.MaxSteps
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}

	var finalText string
	for step := 0; step < maxSteps; step++ {
		comp, err := r.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return "", fmt.Errorf("completion failed on step %d: %w", step, err)
		}
		if len(comp.Choices) == 0 {
			return "", fmt.Errorf("no choices returned at step %d", step)
		}
		assistant := comp.Choices[0].Message
		params.Messages = append(params.Messages, assistant.ToParam())

		if len(assistant.ToolCalls) > 0 {
			for _, tc := range assistant.ToolCalls {
				payload, err := reg.Dispatch(ctx, tc.Function.Name, json.RawMessage(tc.Function.Arguments))
				if err != nil {
					logging.Log.WithField("tool", tc.Function.Name).WithError(err).Warn("tool dispatch error")
				}
				params.Messages = append(params.Messages, openai.ToolMessage(string(payload), tc.ID))
			}
			continue
		}

		finalText = assistant.Content
		break
	}

	if finalText == "" {
		return "", fmt.Errorf("agent produced no final answer within %d steps", maxSteps)
	}
	return finalText, nil
}
