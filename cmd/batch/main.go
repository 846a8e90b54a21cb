// batch is the non-interactive runner: it starts one agentic session, submits
// a single user message, streams the session's stamped protocol events to
// stdout as line-delimited JSON, and exits when the turn completes.
//
// Exit codes: 0 on normal completion, 1 on fatal initialization errors or a
// rate limit with no account left to switch to.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	"golang.org/x/term"

	"github.com/sessionforge/agentcore/internal/models"
	"github.com/sessionforge/agentcore/internal/netctx"
	"github.com/sessionforge/agentcore/internal/rollout"
	"github.com/sessionforge/agentcore/internal/sandbox"
	"github.com/sessionforge/agentcore/internal/temporalclient"
	"github.com/sessionforge/agentcore/internal/workflow"
)

const defaultTaskQueue = "agentcore"

func main() {
	os.Exit(run())
}

func run() int {
	message := flag.String("m", "", "User message to submit (required)")
	cwd := flag.String("cwd", "", "Working directory for tool execution")
	codeHome := flag.String("code-home", defaultCodeHome(), "State root directory")
	provider := flag.String("provider", "", "Model provider (openai, anthropic)")
	model := flag.String("model", "", "Model name")
	approval := flag.String("approval", string(models.ApprovalNever), "Approval mode (never, on-request, unless-trusted, always-ask, on-failure)")
	sandboxMode := flag.String("sandbox", "", "Sandbox mode (full-access, read-only, workspace-write)")
	taskQueue := flag.String("task-queue", defaultTaskQueue, "Temporal task queue")
	timeout := flag.Duration("timeout", 30*time.Minute, "Overall run timeout")
	flag.Parse()

	if *message == "" {
		fmt.Fprintln(os.Stderr, "batch: -m <message> is required")
		return 1
	}

	if err := netctx.SetDefaultOriginator(netctx.DefaultOriginator); err != nil {
		log.Printf("Originator already initialized: %v", err)
	}

	opts, err := temporalclient.LoadClientOptions("", "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "batch: load temporal options: %v\n", err)
		return 1
	}
	c, err := client.Dial(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "batch: dial temporal: %v\n", err)
		return 1
	}
	defer c.Close()

	cfg := models.DefaultSessionConfiguration()
	cfg.Cwd = *cwd
	cfg.CodeHome = *codeHome
	cfg.ApprovalMode = models.ApprovalMode(*approval)
	cfg.SandboxMode = *sandboxMode
	if cfg.SandboxMode == "" {
		// Fall back to the state root's sandbox policy file.
		if policy, err := sandbox.LoadPolicyFile(filepath.Join(*codeHome, "sandbox.yaml")); err != nil {
			fmt.Fprintf(os.Stderr, "batch: sandbox policy: %v\n", err)
			return 1
		} else if policy != nil {
			cfg.SandboxMode = string(policy.Mode)
			for _, root := range policy.WritableRoots {
				cfg.SandboxWritableRoots = append(cfg.SandboxWritableRoots, string(root))
			}
			cfg.SandboxNetworkAccess = policy.NetworkAccess
		}
	}
	cfg.RolloutPersistence = true
	cfg.DisableSuggestions = true
	if *provider != "" {
		cfg.Model.Provider = *provider
	}
	if *model != "" {
		cfg.Model.Model = *model
	}

	workflowID := "batch-" + uuid.NewString()
	input := workflow.WorkflowInput{
		ConversationID: workflowID,
		UserMessage:    *message,
		Config:         cfg,
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	wfRun, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: *taskQueue,
	}, workflow.AgenticWorkflow, input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "batch: start workflow: %v\n", err)
		return 1
	}

	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Printf("Session %s started", wfRun.GetID())
	}

	// Ctrl-C: interrupt the turn, then request shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Interrupt received, cancelling turn")
		updateCtx, updateCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer updateCancel()
		_, _ = c.UpdateWorkflow(updateCtx, client.UpdateWorkflowOptions{
			WorkflowID:   workflowID,
			UpdateName:   workflow.UpdateInterrupt,
			Args:         []interface{}{workflow.InterruptRequest{}},
			WaitForStage: client.WorkflowUpdateStageCompleted,
		})
		requestShutdown(c, workflowID)
	}()

	code := streamEvents(ctx, c, workflowID)
	requestShutdown(c, workflowID)
	return code
}

// streamEvents polls the get_events query and prints each new event as one
// JSON line. Returns the exit code once the turn completes or aborts.
func streamEvents(ctx context.Context, c client.Client, workflowID string) int {
	encoder := json.NewEncoder(os.Stdout)
	var cursor int64

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "batch: timed out waiting for completion")
			return 1
		case <-time.After(250 * time.Millisecond):
		}

		resp, err := c.QueryWorkflow(ctx, workflowID, "", workflow.QueryGetEvents, cursor)
		if err != nil {
			fmt.Fprintf(os.Stderr, "batch: query events: %v\n", err)
			return 1
		}
		var events []workflow.Event
		if err := resp.Get(&events); err != nil {
			fmt.Fprintf(os.Stderr, "batch: decode events: %v\n", err)
			return 1
		}

		for _, ev := range events {
			cursor = ev.Cursor
			if err := encoder.Encode(ev); err != nil {
				return 1
			}

			switch ev.Type {
			case rollout.EventTaskComplete:
				return 0
			case rollout.EventTurnAborted:
				if ev.Message == "rate limited" {
					return 1
				}
				return 0
			}
		}
	}
}

// requestShutdown asks the workflow to finish. Best effort.
func requestShutdown(c client.Client, workflowID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, _ = c.UpdateWorkflow(ctx, client.UpdateWorkflowOptions{
		WorkflowID:   workflowID,
		UpdateName:   workflow.UpdateShutdown,
		Args:         []interface{}{workflow.ShutdownRequest{Reason: "batch run finished"}},
		WaitForStage: client.WorkflowUpdateStageCompleted,
	})
}

// defaultCodeHome resolves the state root: CODE_HOME, then CODEX_HOME, then
// ~/.code.
func defaultCodeHome() string {
	if home := os.Getenv("CODE_HOME"); home != "" {
		return home
	}
	if home := os.Getenv("CODEX_HOME"); home != "" {
		return home
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return ".code"
	}
	return filepath.Join(userHome, ".code")
}
