package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/audioloop/livescribe/pkg/logger"
)

// OpenAIClient wraps the chat completion calls used by the post-processor
type OpenAIClient struct {
	client openai.Client
	logger *logger.Logger
}

// NewOpenAIClient creates a client authenticated with the given API key
func NewOpenAIClient(apiKey string, log *logger.Logger) *OpenAIClient {
	return &OpenAIClient{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		logger: log.Named("openai-client"),
	}
}

// CleanupBatch sends a batch of raw segments to the model and returns
// the cleaned results. The model is instructed to answer with a JSON
// array mirroring the input IDs.
func (c *OpenAIClient) CleanupBatch(ctx context.Context, systemPrompt, userInput, model string) ([]CleanupResult, error) {
	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userInput),
		},
		Model: openai.ChatModel(model),
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}

	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	content := completion.Choices[0].Message.Content
	results, err := parseCleanupResponse(content)
	if err != nil {
		c.logger.Error("Failed to parse model response",
			logger.String("model", model),
			logger.Error(err))
		return nil, err
	}

	return results, nil
}

// CleanupResult is one cleaned segment as returned by the model
type CleanupResult struct {
	ID            int64  `json:"id"`
	Text          string `json:"text"`
	TextProcessed string `json:"text_processed"`
}

// parseCleanupResponse extracts the JSON array from a model reply,
// tolerating markdown code fences around it
func parseCleanupResponse(content string) ([]CleanupResult, error) {
	trimmed := strings.TrimSpace(content)
	if after, ok := strings.CutPrefix(trimmed, "```json"); ok {
		trimmed = after
	} else if after, ok := strings.CutPrefix(trimmed, "```"); ok {
		trimmed = after
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	trimmed = strings.TrimSpace(trimmed)

	var results []CleanupResult
	if err := json.Unmarshal([]byte(trimmed), &results); err != nil {
		return nil, fmt.Errorf("response is not a JSON result array: %w", err)
	}
	return results, nil
}
