// Package workflow contains Temporal workflow definitions.
//
// exec_events.go emits the exec/patch observability events surrounding tool
// dispatch: hook markers, command begin/end, and patch apply begin/outcome.
package workflow

import (
	"encoding/json"

	"go.temporal.io/sdk/workflow"

	"github.com/sessionforge/agentcore/internal/activities"
	"github.com/sessionforge/agentcore/internal/models"
	"github.com/sessionforge/agentcore/internal/rollout"
)

// ExecKind classifies an exec invocation by its argv. Only Run executions
// participate in approval beyond read-only handling.
type ExecKind string

const (
	ExecKindRead   ExecKind = "read"
	ExecKindSearch ExecKind = "search"
	ExecKindList   ExecKind = "list"
	ExecKindRun    ExecKind = "run"
)

// readOnlyExecPrograms maps leading argv words to non-Run exec kinds.
var readOnlyExecPrograms = map[string]ExecKind{
	"cat":  ExecKindRead,
	"head": ExecKindRead,
	"tail": ExecKindRead,
	"grep": ExecKindSearch,
	"rg":   ExecKindSearch,
	"find": ExecKindSearch,
	"ls":   ExecKindList,
	"dir":  ExecKindList,
}

// classifyExecKind inspects the first word of a shell command.
func classifyExecKind(command string) ExecKind {
	argv := splitCommandWords(command)
	if len(argv) == 0 {
		return ExecKindRun
	}
	if kind, ok := readOnlyExecPrograms[argv[0]]; ok {
		return kind
	}
	return ExecKindRun
}

func splitCommandWords(command string) []string {
	var words []string
	current := ""
	for _, r := range command {
		if r == ' ' || r == '\t' || r == '\n' {
			if current != "" {
				words = append(words, current)
				current = ""
			}
			continue
		}
		current += string(r)
	}
	if current != "" {
		words = append(words, current)
	}
	return words
}

// execCallDetails extracts the shell command and workdir from an exec-family
// tool call's arguments.
func execCallDetails(fc models.ConversationItem) (command, workdir string, ok bool) {
	if fc.Name != "shell" && fc.Name != "shell_command" && fc.Name != "exec_command" {
		return "", "", false
	}
	var args struct {
		Command string `json:"command"`
		Cmd     string `json:"cmd"`
		Workdir string `json:"workdir"`
	}
	if err := json.Unmarshal([]byte(fc.Arguments), &args); err != nil {
		return "", "", false
	}
	if args.Command == "" {
		args.Command = args.Cmd
	}
	return args.Command, args.Workdir, true
}

// emitExecBeginEvents emits the pre-exec events for a batch of tool calls:
// for exec commands a hook marker followed by exec_command_begin, for patch
// applies patch_apply_begin.
func (s *SessionState) emitExecBeginEvents(ctx workflow.Context, ctrl *LoopControl, calls []models.ConversationItem) {
	for _, fc := range calls {
		if command, workdir, ok := execCallDetails(fc); ok {
			cwd := workdir
			if cwd == "" {
				cwd = s.Config.Cwd
			}
			argv := []string{"bash", "-lc", command}

			s.emitEvent(ctx, ctrl, Event{
				Type:   rollout.EventExecCommandBegin,
				CallID: fc.CallID + execHookBeforeSuffix,
				Argv:   argv,
				Cwd:    cwd,
			})
			s.emitEvent(ctx, ctrl, Event{
				Type:   rollout.EventExecCommandBegin,
				CallID: fc.CallID,
				Argv:   argv,
				Cwd:    cwd,
			})
			continue
		}
		if fc.Name == "apply_patch" {
			s.emitEvent(ctx, ctrl, Event{
				Type:   rollout.EventPatchApplyBegin,
				CallID: fc.CallID,
			})
		}
	}
}

// emitExecEndEvents emits the post-exec events matching emitExecBeginEvents:
// exec_command_end plus the trailing hook marker, or patch apply outcome.
func (s *SessionState) emitExecEndEvents(ctx workflow.Context, ctrl *LoopControl, calls []models.ConversationItem, results []activities.ToolActivityOutput) {
	resultByCallID := make(map[string]activities.ToolActivityOutput, len(results))
	for _, r := range results {
		resultByCallID[r.CallID] = r
	}

	for _, fc := range calls {
		result, found := resultByCallID[fc.CallID]
		if _, _, ok := execCallDetails(fc); ok {
			ev := Event{
				Type:   rollout.EventExecCommandEnd,
				CallID: fc.CallID,
			}
			if found {
				ev.ExitCode = result.ExitCode
				ev.Stdout = result.Content
			}
			s.emitEvent(ctx, ctrl, ev)
			s.emitEvent(ctx, ctrl, Event{
				Type:     rollout.EventExecCommandEnd,
				CallID:   fc.CallID + execHookAfterSuffix,
				ExitCode: ev.ExitCode,
			})
			continue
		}
		if fc.Name == "apply_patch" {
			eventType := rollout.EventPatchApplySuccess
			if found && result.Success != nil && !*result.Success {
				eventType = rollout.EventPatchApplyFailure
			}
			ev := Event{Type: eventType, CallID: fc.CallID}
			if found {
				ev.Stdout = result.Content
			}
			s.emitEvent(ctx, ctrl, ev)
		}
	}
}
