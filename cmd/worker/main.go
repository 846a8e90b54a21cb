// Worker executable: runs a Temporal worker hosting the session workflows and
// every activity they dispatch (LLM calls, tool execution, MCP bridging,
// instruction loading, account arbitration, rollout persistence).
package main

import (
	"context"
	"log"
	"os"
	"path/filepath"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/sessionforge/agentcore/internal/activities"
	"github.com/sessionforge/agentcore/internal/auth"
	"github.com/sessionforge/agentcore/internal/llm"
	"github.com/sessionforge/agentcore/internal/mcp"
	"github.com/sessionforge/agentcore/internal/netctx"
	"github.com/sessionforge/agentcore/internal/sandbox"
	"github.com/sessionforge/agentcore/internal/temporalclient"
	"github.com/sessionforge/agentcore/internal/tools"
	"github.com/sessionforge/agentcore/internal/tools/handlers"
	"github.com/sessionforge/agentcore/internal/workflow"
)

const (
	// TaskQueue is the default task queue for session workflows.
	TaskQueue = "agentcore"
)

func main() {
	if err := netctx.SetDefaultOriginator(netctx.DefaultOriginator); err != nil {
		log.Printf("Originator already initialized: %v", err)
	}

	opts, err := temporalclient.LoadClientOptions("", "")
	if err != nil {
		log.Fatalf("Failed to load Temporal client options: %v", err)
	}
	c, err := client.Dial(opts)
	if err != nil {
		log.Fatalf("Failed to create Temporal client: %v", err)
	}
	defer c.Close()

	taskQueue := os.Getenv("AGENTCORE_TASK_QUEUE")
	if taskQueue == "" {
		taskQueue = TaskQueue
	}

	w := worker.New(c, taskQueue, worker.Options{})

	// Register workflows
	w.RegisterWorkflow(workflow.AgenticWorkflow)
	w.RegisterWorkflow(workflow.AgenticWorkflowContinued)
	w.RegisterWorkflow(workflow.HarnessWorkflow)
	w.RegisterWorkflow(workflow.HarnessWorkflowContinued)

	// Tool registry: built-in handlers plus the MCP dispatch handler.
	sandboxMgr := sandbox.NewSandboxManager()
	execSessions := handlers.NewExecSessionStore()
	defer execSessions.CloseAll()
	mcpStore := mcp.NewMcpStore()

	toolRegistry := tools.NewToolRegistry()
	toolRegistry.Register(handlers.NewShellToolWithSandbox(sandboxMgr))
	toolRegistry.Register(handlers.NewShellCommandTool(execSessions, sandboxMgr))
	toolRegistry.Register(handlers.NewExecCommandTool(execSessions, sandboxMgr))
	toolRegistry.Register(handlers.NewWriteStdinTool(execSessions))
	toolRegistry.Register(handlers.NewReadFileTool())
	toolRegistry.Register(handlers.NewWriteFileTool())
	toolRegistry.Register(handlers.NewListDirTool())
	toolRegistry.Register(handlers.NewGrepFilesTool())
	toolRegistry.Register(handlers.NewApplyPatchTool())
	toolRegistry.Register(handlers.NewMCPHandler(mcpStore))

	log.Printf("Registered %d tools", toolRegistry.ToolCount())

	// LLM client: multi-provider, dispatching on ModelConfig.Provider.
	llmClient := llm.NewMultiProviderClient()

	// Register activities
	llmActivities := activities.NewLLMActivities(llmClient)
	w.RegisterActivity(llmActivities.ExecuteLLMCall)
	w.RegisterActivity(llmActivities.ExecuteCompact)
	w.RegisterActivity(llmActivities.GenerateSuggestions)

	toolActivities := activities.NewToolActivities(toolRegistry)
	w.RegisterActivity(toolActivities.ExecuteTool)

	instructionActivities := activities.NewInstructionActivities()
	w.RegisterActivity(instructionActivities.LoadWorkerInstructions)
	w.RegisterActivity(instructionActivities.LoadPersonalInstructions)
	w.RegisterActivity(instructionActivities.LoadExecPolicy)

	mcpActivities := activities.NewMcpActivities(mcpStore)
	w.RegisterActivity(mcpActivities.InitializeMcpServers)
	w.RegisterActivity(mcpActivities.CleanupMcpServers)

	accountActivities := activities.NewAccountActivities()
	w.RegisterActivity(accountActivities.SwitchAccountOnRateLimit)
	w.RegisterActivity(accountActivities.RecordRateLimitSnapshot)
	w.RegisterActivity(accountActivities.GetActiveAccount)

	rolloutActivities := activities.NewRolloutActivities()
	w.RegisterActivity(rolloutActivities.RecordRolloutEvents)
	w.RegisterActivity(rolloutActivities.CloseSessionLog)

	// Daily maintenance sweep over the state root (stale usage snapshots,
	// old debug logs).
	codeHome := defaultCodeHome()
	sweeper := auth.NewSweeper(codeHome)
	if err := sweeper.Start(); err != nil {
		log.Printf("Failed to start maintenance sweeper: %v", err)
	} else {
		defer sweeper.Stop()
	}

	// Watch for out-of-process account switches (e.g. a login CLI editing
	// active_account.txt) so operators see them in the worker log.
	watchCtx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()
	if store, err := auth.NewStore(codeHome); err == nil {
		go func() {
			err := store.WatchActiveAccount(watchCtx, func(accountID string) {
				log.Printf("Active account changed: %s", accountID)
			})
			if err != nil && watchCtx.Err() == nil {
				log.Printf("Account watch stopped: %v", err)
			}
		}()
	}

	log.Printf("Starting worker on task queue: %s", taskQueue)

	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatalf("Worker exited with error: %v", err)
	}

	log.Println("Worker stopped")
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
