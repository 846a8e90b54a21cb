// Package handlers contains built-in tool handler implementations.
//
// exec_command.go implements the session-based exec tools: exec_command /
// shell_command start a process (PTY or pipes) and either return its output
// directly or hand back a session id; write_stdin feeds an existing session
// and polls for new output.
package handlers

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	execpkg "github.com/sessionforge/agentcore/internal/exec"
	"github.com/sessionforge/agentcore/internal/execenv"
	"github.com/sessionforge/agentcore/internal/execsession"
	"github.com/sessionforge/agentcore/internal/sandbox"
	"github.com/sessionforge/agentcore/internal/tools"
)

// Yield-time bounds for exec_command / write_stdin.
const (
	defaultExecYieldMs = 10_000
	minExecYieldMs     = 250
	maxExecYieldMs     = 30_000

	defaultWriteStdinYieldMs = 250
	minEmptyPollYieldMs      = 5_000
)

// sessionIdleTimeout is how long an exited exec session may sit untouched
// before it is reaped.
const sessionIdleTimeout = 30 * time.Minute

// ExecSessionStore keeps live exec sessions across activity invocations on
// one worker. Session ids are numeric and process-local.
type ExecSessionStore struct {
	mu       sync.Mutex
	nextID   int64
	sessions map[int64]*execsession.ExecSession
}

// NewExecSessionStore creates an empty session store.
func NewExecSessionStore() *ExecSessionStore {
	return &ExecSessionStore{sessions: make(map[int64]*execsession.ExecSession)}
}

func (s *ExecSessionStore) add(session *execsession.ExecSession) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.sessions[id] = session
	s.reapIdleLocked()
	return id
}

func (s *ExecSessionStore) get(id int64) (*execsession.ExecSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

func (s *ExecSessionStore) remove(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.Close()
		delete(s.sessions, id)
	}
}

// reapIdleLocked closes exited sessions idle past the timeout; sessions whose
// process is still running are kept. Callers hold s.mu.
func (s *ExecSessionStore) reapIdleLocked() {
	cutoff := time.Now().Add(-sessionIdleTimeout)
	for id, sess := range s.sessions {
		if sess.LastUsed.Before(cutoff) && sess.HasExited() {
			sess.Close()
			delete(s.sessions, id)
		}
	}
}

// CloseAll terminates every live session. Called on worker shutdown.
func (s *ExecSessionStore) CloseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		sess.Close()
		delete(s.sessions, id)
	}
}

// ExecCommandTool starts a process in a persistent exec session.
type ExecCommandTool struct {
	name       string
	store      *ExecSessionStore
	sandboxMgr sandbox.SandboxManager
}

// NewExecCommandTool creates the exec_command handler.
func NewExecCommandTool(store *ExecSessionStore, mgr sandbox.SandboxManager) *ExecCommandTool {
	return &ExecCommandTool{name: "exec_command", store: store, sandboxMgr: mgr}
}

// NewShellCommandTool creates the shell_command handler: the same session
// machinery under the default tool set's name.
func NewShellCommandTool(store *ExecSessionStore, mgr sandbox.SandboxManager) *ExecCommandTool {
	return &ExecCommandTool{name: "shell_command", store: store, sandboxMgr: mgr}
}

// Name returns the tool's name.
func (t *ExecCommandTool) Name() string { return t.name }

// Kind returns ToolKindFunction.
func (t *ExecCommandTool) Kind() tools.ToolKind { return tools.ToolKindFunction }

// IsMutating always reports true: an arbitrary command may modify anything.
func (t *ExecCommandTool) IsMutating(*tools.ToolInvocation) bool { return true }

// Handle starts the command and waits up to yield_time_ms for it to finish.
// A command still running at the deadline yields its session id and the
// output so far.
func (t *ExecCommandTool) Handle(ctx context.Context, invocation *tools.ToolInvocation) (*tools.ToolOutput, error) {
	started := time.Now()

	cmdStr, _ := invocation.Arguments["cmd"].(string)
	if cmdStr == "" {
		cmdStr, _ = invocation.Arguments["command"].(string)
	}
	if cmdStr == "" {
		return nil, tools.NewValidationError("missing required argument: cmd")
	}

	shell, _ := invocation.Arguments["shell"].(string)
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = "bash"
	}
	login := true
	if v, ok := invocation.Arguments["login"].(bool); ok {
		login = v
	}
	tty, _ := invocation.Arguments["tty"].(bool)

	workdir, _ := invocation.Arguments["workdir"].(string)
	if workdir == "" {
		workdir = invocation.Cwd
	}

	shellArgs := []string{"-c", cmdStr}
	if login {
		shellArgs = append([]string{"-l"}, shellArgs...)
	}

	spec := sandbox.CommandSpec{Program: shell, Args: shellArgs, Cwd: workdir}
	execEnv, err := resolveSandboxEnv(t.sandboxMgr, spec, invocation.SandboxPolicy)
	if err != nil {
		return nil, tools.NewValidationError("sandbox setup failed: " + err.Error())
	}

	env := buildSessionEnv(invocation.EnvPolicy, execEnv.Env)

	session, err := execsession.StartSession(execsession.SessionOpts{
		ProcessID: invocation.CallID,
		Command:   execEnv.Command,
		Cwd:       execEnv.Cwd,
		Env:       env,
		TTY:       tty,
	})
	if err != nil {
		return nil, tools.NewValidationError("failed to start command: " + err.Error())
	}

	yieldMs := clampYieldMs(invocation.Arguments, defaultExecYieldMs)
	deadline := time.Now().Add(time.Duration(yieldMs) * time.Millisecond)
	output := session.CollectOutput(deadline, invocation.Heartbeat)

	limited, truncated := execpkg.LimitOutput(output)

	if session.HasExited() {
		exitCode := session.ExitCode()
		session.Close()

		success := exitCode != nil && *exitCode == 0
		return &tools.ToolOutput{
			Content:    string(limited),
			Success:    &success,
			ExitCode:   exitCode,
			Truncated:  truncated,
			DurationMs: time.Since(started).Milliseconds(),
		}, nil
	}

	// Still running: park the session and hand back its id.
	id := t.store.add(session)
	success := true
	return &tools.ToolOutput{
		Content:    fmt.Sprintf("[still running; session_id=%d]\n%s", id, limited),
		Success:    &success,
		Truncated:  truncated,
		DurationMs: time.Since(started).Milliseconds(),
	}, nil
}

// WriteStdinTool feeds bytes to a live exec session and polls for output.
type WriteStdinTool struct {
	store *ExecSessionStore
}

// NewWriteStdinTool creates the write_stdin handler.
func NewWriteStdinTool(store *ExecSessionStore) *WriteStdinTool {
	return &WriteStdinTool{store: store}
}

// Name returns the tool's name.
func (t *WriteStdinTool) Name() string { return "write_stdin" }

// Kind returns ToolKindFunction.
func (t *WriteStdinTool) Kind() tools.ToolKind { return tools.ToolKindFunction }

// IsMutating always reports true.
func (t *WriteStdinTool) IsMutating(*tools.ToolInvocation) bool { return true }

// Handle writes chars to the session's stdin (when non-empty) and returns
// output produced within yield_time_ms.
func (t *WriteStdinTool) Handle(ctx context.Context, invocation *tools.ToolInvocation) (*tools.ToolOutput, error) {
	started := time.Now()

	idVal, ok := invocation.Arguments["session_id"]
	if !ok {
		return nil, tools.NewValidationError("missing required argument: session_id")
	}
	id, ok := toSessionID(idVal)
	if !ok {
		return nil, tools.NewValidationError("session_id must be a number")
	}

	session, found := t.store.get(id)
	if !found {
		return nil, tools.NewValidationErrorf("no exec session with id %d", id)
	}

	chars, _ := invocation.Arguments["chars"].(string)

	yieldDefault := defaultWriteStdinYieldMs
	if chars == "" {
		yieldDefault = minEmptyPollYieldMs
	}
	yieldMs := clampYieldMs(invocation.Arguments, yieldDefault)
	if chars == "" && yieldMs < minEmptyPollYieldMs {
		yieldMs = minEmptyPollYieldMs
	}

	if chars != "" {
		if err := session.WriteStdin([]byte(chars)); err != nil {
			return nil, tools.NewValidationError("write failed: " + err.Error())
		}
	}

	deadline := time.Now().Add(time.Duration(yieldMs) * time.Millisecond)
	output := session.CollectOutput(deadline, invocation.Heartbeat)
	limited, truncated := execpkg.LimitOutput(output)

	out := &tools.ToolOutput{
		Content:    string(limited),
		Truncated:  truncated,
		DurationMs: time.Since(started).Milliseconds(),
	}

	if session.HasExited() {
		out.ExitCode = session.ExitCode()
		success := out.ExitCode != nil && *out.ExitCode == 0
		out.Success = &success
		t.store.remove(id)
	} else {
		success := true
		out.Success = &success
		out.Content = fmt.Sprintf("[still running; session_id=%d]\n%s", id, out.Content)
	}
	return out, nil
}

// resolveSandboxEnv applies sandbox wrapping if a policy is set.
func resolveSandboxEnv(mgr sandbox.SandboxManager, spec sandbox.CommandSpec, policyRef *tools.SandboxPolicyRef) (*sandbox.ExecEnv, error) {
	if policyRef == nil || mgr == nil {
		return &sandbox.ExecEnv{
			Command: append([]string{spec.Program}, spec.Args...),
			Cwd:     spec.Cwd,
		}, nil
	}
	return mgr.Transform(spec, sandboxPolicyRefToPolicy(policyRef))
}

// buildSessionEnv resolves the child environment from the env policy plus
// sandbox-injected variables. nil means inherit.
func buildSessionEnv(envPolicy *tools.EnvPolicyRef, sandboxEnv map[string]string) []string {
	var env []string
	if envPolicy != nil {
		env = execenv.EnvMapToSlice(resolveFilteredEnv(envPolicy))
	}
	if len(sandboxEnv) > 0 {
		if env == nil {
			env = os.Environ()
		}
		env = appendEnvMap(env, sandboxEnv)
	}
	return env
}

// clampYieldMs resolves yield_time_ms within [minExecYieldMs, maxExecYieldMs].
func clampYieldMs(args map[string]interface{}, def int) int {
	yield := def
	if v, ok := args["yield_time_ms"]; ok {
		switch n := v.(type) {
		case float64:
			yield = int(n)
		case int:
			yield = n
		case string:
			if parsed, err := strconv.Atoi(n); err == nil {
				yield = parsed
			}
		}
	}
	if yield < minExecYieldMs {
		yield = minExecYieldMs
	}
	if yield > maxExecYieldMs {
		yield = maxExecYieldMs
	}
	return yield
}

func toSessionID(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		return parsed, err == nil
	}
	return 0, false
}
