package patch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveTitle_NoopUpdate(t *testing.T) {
	// A hunk whose only chunk is pure context: no line edits, no rename.
	p, err := Parse("*** Begin Patch\n*** Update File: a.txt\n@@\n hello\n*** End Patch\n")
	require.NoError(t, err)
	assert.Equal(t, "No changes", ResolveTitle(p))
}

func TestResolveTitle_RenameOnly(t *testing.T) {
	p, err := Parse("*** Begin Patch\n*** Update File: a.txt\n*** Move to: b.txt\n*** End Patch\n")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", ResolveTitle(p))
}

func TestResolveTitle_Updated(t *testing.T) {
	p, err := Parse("*** Begin Patch\n*** Update File: a.txt\n@@\n-old\n+new\n*** End Patch\n")
	require.NoError(t, err)
	assert.Equal(t, "Updated", ResolveTitle(p))
}

func TestResolveTitle_AddIsUpdated(t *testing.T) {
	p, err := Parse("*** Begin Patch\n*** Add File: c.txt\n+hello\n*** End Patch\n")
	require.NoError(t, err)
	assert.Equal(t, "Updated", ResolveTitle(p))
}

func TestResolveTitle_RenamePlusNoopIsRenamed(t *testing.T) {
	p, err := Parse("*** Begin Patch\n" +
		"*** Update File: a.txt\n*** Move to: b.txt\n" +
		"*** Update File: c.txt\n@@\n context\n" +
		"*** End Patch\n")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", ResolveTitle(p))
}

func TestResolveTitle_MixedIsUpdated(t *testing.T) {
	p, err := Parse("*** Begin Patch\n" +
		"*** Update File: a.txt\n*** Move to: b.txt\n" +
		"*** Update File: c.txt\n@@\n-x\n+y\n" +
		"*** End Patch\n")
	require.NoError(t, err)
	assert.Equal(t, "Updated", ResolveTitle(p))
}

func TestClassifyHunk_RenameWithEditsIsEdit(t *testing.T) {
	p, err := Parse("*** Begin Patch\n*** Update File: a.txt\n*** Move to: b.txt\n@@\n-x\n+y\n*** End Patch\n")
	require.NoError(t, err)
	require.Len(t, p.Hunks, 1)
	assert.Equal(t, ChangeEdit, ClassifyHunk(p.Hunks[0]))
}
