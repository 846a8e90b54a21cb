package sandbox

import (
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(env []string) map[string]string {
	m := make(map[string]string, len(env))
	for _, kv := range env {
		parts := strings.SplitN(kv, "=", 2)
		m[parts[0]] = parts[1]
	}
	return m
}

func TestBuildEnv_WhitelistOnly(t *testing.T) {
	t.Setenv("PATH", "/usr/bin")
	t.Setenv("SECRET_TOKEN", "hunter2")

	env := envMap(buildEnv(SpawnSpec{}))
	assert.Equal(t, "/usr/bin", env["PATH"])
	assert.NotContains(t, env, "SECRET_TOKEN")
}

func TestBuildEnv_SpecOverrides(t *testing.T) {
	t.Setenv("PATH", "/usr/bin")

	env := envMap(buildEnv(SpawnSpec{Env: map[string]string{"PATH": "/opt/bin", "FOO": "bar"}}))
	assert.Equal(t, "/opt/bin", env["PATH"])
	assert.Equal(t, "bar", env["FOO"])
}

func TestBuildEnv_NetworkDisabledInjection(t *testing.T) {
	restricted := &SandboxPolicy{Mode: ModeWorkspaceWrite}
	env := envMap(buildEnv(SpawnSpec{Policy: restricted}))
	assert.Equal(t, "1", env["CODEX_SANDBOX_NETWORK_DISABLED"])
	assert.Equal(t, string(ModeWorkspaceWrite), env["CODEX_SANDBOX"])

	withNet := &SandboxPolicy{Mode: ModeWorkspaceWrite, NetworkAccess: true}
	env = envMap(buildEnv(SpawnSpec{Policy: withNet}))
	assert.NotContains(t, env, "CODEX_SANDBOX_NETWORK_DISABLED")

	full := &SandboxPolicy{Mode: ModeFullAccess}
	env = envMap(buildEnv(SpawnSpec{Policy: full}))
	assert.NotContains(t, env, "CODEX_SANDBOX")
}

func TestBuildEnv_Deterministic(t *testing.T) {
	spec := SpawnSpec{Env: map[string]string{"B": "2", "A": "1", "C": "3"}}
	first := buildEnv(spec)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, buildEnv(spec))
	}
}

func TestIsRetryableSpawnErr(t *testing.T) {
	assert.True(t, isRetryableSpawnErr(syscall.EAGAIN))
	assert.True(t, isRetryableSpawnErr(syscall.ENOMEM))
	assert.False(t, isRetryableSpawnErr(syscall.ENOENT))
	assert.False(t, isRetryableSpawnErr(syscall.EACCES))
}

func TestSpawn_StartAndWait(t *testing.T) {
	child, err := Spawn(SpawnSpec{
		Program: "sh",
		Args:    []string{"-c", "true"},
	})
	require.NoError(t, err)
	require.NotZero(t, child.Pid)
	assert.NoError(t, child.Wait())
}

func TestSpawn_KillTerminatesGroup(t *testing.T) {
	child, err := Spawn(SpawnSpec{
		Program: "sh",
		Args:    []string{"-c", "sleep 30"},
	})
	require.NoError(t, err)

	child.Kill()
	err = child.Wait()
	require.Error(t, err)
}

func TestSpawn_UnknownProgramNotRetried(t *testing.T) {
	_, err := Spawn(SpawnSpec{Program: "definitely-not-a-real-binary-xyz"})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "retries exhausted")
}
