package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/shared"

	"github.com/sessionforge/agentcore/internal/models"
	"github.com/sessionforge/agentcore/internal/netctx"
	"github.com/sessionforge/agentcore/internal/tools"
)

// OpenAIClient implements LLMClient using OpenAI's chat completions API.
//
type OpenAIClient struct {
	client openai.Client
}

// NewOpenAIClient creates an OpenAI client authenticated from the environment.
func NewOpenAIClient() *OpenAIClient {
	apiKey := os.Getenv("OPENAI_API_KEY")
	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithHeader("User-Agent", netctx.UserAgent("", "")),
		option.WithHeader("originator", netctx.CurrentOriginator().HeaderValue),
	)
	return &OpenAIClient{client: client}
}

// Call sends a request to OpenAI and returns the complete response as a flat
// list of response items (assistant messages + function calls).
func (c *OpenAIClient) Call(ctx context.Context, request LLMRequest) (LLMResponse, error) {
	messages := c.buildMessages(request)

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(request.ModelConfig.Model),
		Messages: messages,
	}
	if request.ModelConfig.Temperature > 0 {
		params.Temperature = param.NewOpt(request.ModelConfig.Temperature)
	}
	if request.ModelConfig.MaxTokens > 0 {
		params.MaxTokens = param.NewOpt(int64(request.ModelConfig.MaxTokens))
	}
	if len(request.ToolSpecs) > 0 {
		params.Tools = c.buildToolDefinitions(request.ToolSpecs)
	}

	var raw *http.Response
	completion, err := c.client.Chat.Completions.New(ctx, params, option.WithResponseInto(&raw))
	if err != nil {
		return LLMResponse{}, classifyError(err)
	}

	if len(completion.Choices) == 0 {
		return LLMResponse{}, models.NewTransientError("no choices in response")
	}

	choice := completion.Choices[0]

	var items []models.ConversationItem
	if choice.Message.Content != "" {
		items = append(items, models.ConversationItem{
			Type:    models.ItemTypeAssistantMessage,
			Content: choice.Message.Content,
		})
	}

	finishReason := models.FinishReasonStop
	switch choice.FinishReason {
	case "length":
		finishReason = models.FinishReasonLength
	case "content_filter":
		finishReason = models.FinishReasonContentFilter
	}

	for _, tc := range choice.Message.ToolCalls {
		items = append(items, models.ConversationItem{
			Type:      models.ItemTypeFunctionCall,
			CallID:    tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
		finishReason = models.FinishReasonToolCalls
	}

	response := LLMResponse{
		Items:        items,
		FinishReason: finishReason,
		TokenUsage: models.TokenUsage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
			CachedTokens:     int(completion.Usage.PromptTokensDetails.CachedTokens),
		},
	}
	if raw != nil {
		response.RateLimits = ParseRateLimitHeaders(raw.Header, time.Now())
	}
	return response, nil
}

// Compact performs local compaction: ask the model for a summary of the
// conversation so far, then return it as replacement history.
func (c *OpenAIClient) Compact(ctx context.Context, request CompactRequest) (CompactResponse, error) {
	return compactViaSummary(ctx, c, request)
}

// buildMessages assembles the full message list: a system message carrying
// base + user-doc instructions, an optional developer message, then the
// converted conversation history.
func (c *OpenAIClient) buildMessages(request LLMRequest) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion

	systemContent := request.BaseInstructions
	if request.UserInstructions != "" {
		if systemContent != "" {
			systemContent += "\n\n"
		}
		systemContent += request.UserInstructions
	}
	if systemContent != "" {
		messages = append(messages, openai.SystemMessage(systemContent))
	}

	if request.DeveloperInstructions != "" {
		messages = append(messages, openai.DeveloperMessage(request.DeveloperInstructions))
	}

	return append(messages, c.convertHistoryToMessages(request.History)...)
}

// convertHistoryToMessages converts conversation history to OpenAI messages.
//
// OpenAI requires tool result messages to follow an assistant message that
// carries the corresponding tool_calls, so consecutive FunctionCall items are
// grouped into the preceding assistant message (or wrapped in a synthetic one
// when none precedes them).
func (c *OpenAIClient) convertHistoryToMessages(history []models.ConversationItem) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history))

	i := 0
	for i < len(history) {
		item := history[i]
		switch item.Type {
		case models.ItemTypeUserMessage:
			messages = append(messages, openai.UserMessage(item.Content))
			i++

		case models.ItemTypeModelSwitch:
			messages = append(messages, openai.DeveloperMessage(item.Content))
			i++

		case models.ItemTypeAssistantMessage, models.ItemTypeFunctionCall:
			// Collect an assistant message (optional) plus the run of
			// function calls that follows it.
			content := ""
			if item.Type == models.ItemTypeAssistantMessage {
				content = item.Content
				i++
			}
			var toolCalls []openai.ChatCompletionMessageToolCallUnionParam
			for i < len(history) && history[i].Type == models.ItemTypeFunctionCall {
				fc := history[i]
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: fc.CallID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      fc.Name,
							Arguments: fc.Arguments,
						},
					},
				})
				i++
			}

			if len(toolCalls) > 0 {
				assistantMsg := &openai.ChatCompletionAssistantMessageParam{
					ToolCalls: toolCalls,
				}
				if content != "" {
					assistantMsg.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
						OfString: param.NewOpt(content),
					}
				}
				messages = append(messages, openai.ChatCompletionMessageParamUnion{
					OfAssistant: assistantMsg,
				})
			} else {
				messages = append(messages, openai.AssistantMessage(content))
			}

		case models.ItemTypeFunctionCallOutput:
			content := ""
			if item.Output != nil {
				content = item.Output.Content
			}
			messages = append(messages, openai.ToolMessage(content, item.CallID))
			i++

		case models.ItemTypeToolResult:
			content := item.ToolOutput
			if item.ToolError != "" {
				content = fmt.Sprintf("Error: %s", item.ToolError)
			}
			messages = append(messages, openai.ToolMessage(content, item.ToolCallID))
			i++

		default:
			// Turn markers and other bookkeeping items are not sent.
			i++
		}
	}

	return messages
}

// buildToolDefinitions converts ToolSpecs to OpenAI tool definitions.
// Specs carrying RawJSONSchema (MCP tools) use it verbatim; others build a
// schema from the parameter list.
func (c *OpenAIClient) buildToolDefinitions(specs []tools.ToolSpec) []openai.ChatCompletionToolUnionParam {
	toolDefs := make([]openai.ChatCompletionToolUnionParam, 0, len(specs))

	for _, spec := range specs {
		funcDef := shared.FunctionDefinitionParam{
			Name:        spec.Name,
			Description: param.NewOpt(spec.Description),
			Parameters:  shared.FunctionParameters(buildParametersSchema(spec)),
		}
		toolDefs = append(toolDefs, openai.ChatCompletionFunctionTool(funcDef))
	}

	return toolDefs
}

// buildParametersSchema produces the JSON-schema object for a tool spec.
func buildParametersSchema(spec tools.ToolSpec) map[string]interface{} {
	if len(spec.RawJSONSchema) > 0 {
		return spec.RawJSONSchema
	}

	properties := make(map[string]interface{})
	required := make([]string, 0)
	for _, p := range spec.Parameters {
		prop := map[string]interface{}{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Items != nil {
			prop["items"] = p.Items
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

// classifyError categorizes an OpenAI API error into an ActivityError.
// HTTP status takes precedence; message sniffing covers errors raised before
// a response exists (connection failures, SDK-local validation).
func classifyError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests {
			return models.NewRateLimitedError(err.Error(), blockedUntilFromResponse(apiErr.Response))
		}
		return classifyByStatusCode(apiErr.StatusCode, err)
	}

	errMsg := strings.ToLower(err.Error())
	if strings.Contains(errMsg, "context_length") || strings.Contains(errMsg, "maximum context length") {
		return models.NewContextOverflowError(err.Error())
	}
	if strings.Contains(errMsg, "rate_limit") || strings.Contains(errMsg, "rate limit") {
		return models.NewAPILimitError(err.Error())
	}
	return models.NewTransientError(fmt.Sprintf("OpenAI API error: %v", err))
}

// blockedUntilFromResponse derives a blocked-until unix timestamp from a 429
// response's Retry-After or x-ratelimit reset headers. Returns 0 when the
// provider reported nothing usable.
func blockedUntilFromResponse(resp *http.Response) int64 {
	if resp == nil {
		return 0
	}
	now := time.Now()

	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil && secs > 0 {
			return now.Add(time.Duration(secs) * time.Second).Unix()
		}
		if at, err := http.ParseTime(v); err == nil {
			return at.Unix()
		}
	}
	for _, header := range []string{"x-ratelimit-reset-requests", "x-ratelimit-reset-tokens"} {
		if v := resp.Header.Get(header); v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				return now.Add(d).Unix()
			}
		}
	}
	return 0
}
