package sandbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPolicyFile_Missing(t *testing.T) {
	policy, err := LoadPolicyFile(filepath.Join(t.TempDir(), "sandbox.yaml"))
	require.NoError(t, err)
	assert.Nil(t, policy)
}

func TestLoadPolicyFile_Full(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sandbox.yaml")
	content := "mode: workspace-write\nwritable_roots:\n  - /tmp/work\n  - /tmp/cache\nnetwork_access: true\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	policy, err := LoadPolicyFile(path)
	require.NoError(t, err)
	require.NotNil(t, policy)
	assert.Equal(t, ModeWorkspaceWrite, policy.Mode)
	assert.Equal(t, []WritableRoot{"/tmp/work", "/tmp/cache"}, policy.WritableRoots)
	assert.True(t, policy.NetworkAccess)
	assert.True(t, policy.IsRestricted())
}

func TestLoadPolicyFile_InvalidMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sandbox.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mode: everything-goes\n"), 0o600))

	_, err := LoadPolicyFile(path)
	assert.Error(t, err)
}

func TestLoadPolicyFile_EmptyModeMeansNoPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sandbox.yaml")
	require.NoError(t, os.WriteFile(path, []byte("network_access: true\n"), 0o600))

	policy, err := LoadPolicyFile(path)
	require.NoError(t, err)
	assert.Nil(t, policy)
}
