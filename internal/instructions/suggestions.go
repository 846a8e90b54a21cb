package instructions

import "strings"

// SuggestionSystemPrompt steers the cheap suggestion model toward a single,
// short next-prompt candidate.
const SuggestionSystemPrompt = `You suggest the user's next prompt in an agentic coding session.
Given the last exchange, reply with exactly one short imperative prompt the user is likely to send next.
Reply with the prompt text only: no quotes, no numbering, no explanation. Keep it under 12 words.
If no useful follow-up exists, reply with an empty string.`

// BuildSuggestionInput assembles the user-content block for the suggestion
// model from the last exchange and the turn's tool activity.
func BuildSuggestionInput(userMessage, assistantMessage string, toolSummaries []string) string {
	var b strings.Builder
	if userMessage != "" {
		b.WriteString("User asked:\n")
		b.WriteString(userMessage)
		b.WriteString("\n\n")
	}
	if assistantMessage != "" {
		b.WriteString("Assistant replied:\n")
		b.WriteString(assistantMessage)
		b.WriteString("\n\n")
	}
	if len(toolSummaries) > 0 {
		b.WriteString("Tools used this turn:\n")
		for _, summary := range toolSummaries {
			b.WriteString("- ")
			b.WriteString(summary)
			b.WriteString("\n")
		}
	}
	return strings.TrimSpace(b.String())
}

// FormatToolSummary renders one tool invocation for the suggestion context.
func FormatToolSummary(name string, success bool) string {
	if success {
		return name + " (ok)"
	}
	return name + " (failed)"
}

// ParseSuggestionResponse normalizes the suggestion model's reply: first
// non-empty line, stripped of quotes and list markers. Returns "" when the
// reply is unusable.
func ParseSuggestionResponse(raw string) string {
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "- ")
		line = strings.TrimPrefix(line, "* ")
		line = strings.Trim(line, `"'`)
		if line == "" {
			continue
		}
		if len(line) > 120 {
			line = line[:120]
		}
		return line
	}
	return ""
}

// SuggestionModelForProvider picks the cheap model used for suggestion
// generation, per provider.
func SuggestionModelForProvider(provider string) (model, resolvedProvider string) {
	switch provider {
	case "anthropic":
		return "claude-3-5-haiku-latest", "anthropic"
	default:
		return "gpt-4o-mini", "openai"
	}
}

// PlannerBaseInstructions is the system prompt for the planner subagent.
// Planners explore and produce a plan; they do not modify the workspace.
const PlannerBaseInstructions = `You are a planning agent. Investigate the user's request by reading the workspace, then produce a concrete, ordered implementation plan.
Do not modify any files. Use read-only tools to ground every step in the actual code.
Your final message must be the plan itself: numbered steps, each naming the files involved and the change to make, followed by the risks or open questions you found.`
