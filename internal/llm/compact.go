package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/sessionforge/agentcore/internal/models"
)

// Compact summarizes the conversation using the Anthropic backend.
func (c *AnthropicClient) Compact(ctx context.Context, request CompactRequest) (CompactResponse, error) {
	return compactViaSummary(ctx, c, request)
}

// Compact dispatches compaction by model family: claude models go to the
// Anthropic backend, everything else to OpenAI.
func (c *MultiProviderClient) Compact(ctx context.Context, request CompactRequest) (CompactResponse, error) {
	if strings.HasPrefix(request.Model, "claude") {
		return c.anthropic.Compact(ctx, request)
	}
	return c.openai.Compact(ctx, request)
}

// compactionSystemPrompt instructs the model to summarize the conversation
// into a handoff document that replaces the dropped history.
const compactionSystemPrompt = `You are summarizing an agentic coding conversation so a fresh context can continue the work.
Produce a dense summary covering: the user's goals, decisions made, files touched and how, commands run with notable results, and any unresolved problems or next steps.
Write plain prose. Do not add preamble or headings about the summarization itself.`

// compactViaSummary implements local compaction on top of a provider's Call:
// the full history is sent once with a summarization prompt, and the reply
// becomes the sole replacement history item.
func compactViaSummary(ctx context.Context, client LLMClient, request CompactRequest) (CompactResponse, error) {
	history := append([]models.ConversationItem{}, request.Input...)
	history = append(history, models.ConversationItem{
		Type:    models.ItemTypeUserMessage,
		Content: "Summarize the conversation so far per your instructions.",
	})

	base := compactionSystemPrompt
	if request.Instructions != "" {
		base = request.Instructions + "\n\n" + compactionSystemPrompt
	}

	resp, err := client.Call(ctx, LLMRequest{
		History:          history,
		ModelConfig:      models.ModelConfig{Model: request.Model, MaxTokens: 2048, Temperature: 0.2},
		BaseInstructions: base,
	})
	if err != nil {
		return CompactResponse{}, err
	}

	var summary strings.Builder
	for _, item := range resp.Items {
		if item.Type == models.ItemTypeAssistantMessage && item.Content != "" {
			if summary.Len() > 0 {
				summary.WriteString("\n")
			}
			summary.WriteString(item.Content)
		}
	}
	if summary.Len() == 0 {
		return CompactResponse{}, models.NewTransientError("compaction produced no summary")
	}

	return CompactResponse{
		Items: []models.ConversationItem{
			{
				Type:    models.ItemTypeUserMessage,
				Content: fmt.Sprintf("<conversation_summary>\n%s\n</conversation_summary>", summary.String()),
			},
		},
		TokenUsage: resp.TokenUsage,
	}, nil
}
