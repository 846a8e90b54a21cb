package patch

// record.go classifies patches for display: whether a file operation actually
// changes line content, only renames, or does nothing, and the title a patch
// record should carry.

// ChangeKind classifies a single hunk's effect.
type ChangeKind int

const (
	// ChangeEdit modifies file content (add, delete, or line edits).
	ChangeEdit ChangeKind = iota
	// ChangeRenameOnly moves a file without touching its lines.
	ChangeRenameOnly
	// ChangeNoop neither edits lines nor renames.
	ChangeNoop
)

// chunksEditLines reports whether any chunk changes content. A chunk whose
// old and new lines are identical is pure context.
func chunksEditLines(chunks []UpdateChunk) bool {
	for _, chunk := range chunks {
		if len(chunk.OldLines) != len(chunk.NewLines) {
			return true
		}
		for i := range chunk.OldLines {
			if chunk.OldLines[i] != chunk.NewLines[i] {
				return true
			}
		}
	}
	return false
}

// ClassifyHunk determines a hunk's change kind.
func ClassifyHunk(h Hunk) ChangeKind {
	switch h.Type {
	case HunkAdd, HunkDelete:
		return ChangeEdit
	default:
		if chunksEditLines(h.Chunks) {
			return ChangeEdit
		}
		if h.MovePath != "" {
			return ChangeRenameOnly
		}
		return ChangeNoop
	}
}

// ResolveTitle produces the patch record title: "Renamed" when every hunk is
// rename-only, "No changes" when every hunk is a noop, "Updated" otherwise.
// Noop hunks don't demote an otherwise rename-only patch.
func ResolveTitle(p *Patch) string {
	if p == nil || len(p.Hunks) == 0 {
		return "No changes"
	}

	renames, noops := 0, 0
	for _, h := range p.Hunks {
		switch ClassifyHunk(h) {
		case ChangeRenameOnly:
			renames++
		case ChangeNoop:
			noops++
		}
	}

	switch {
	case noops == len(p.Hunks):
		return "No changes"
	case renames+noops == len(p.Hunks):
		return "Renamed"
	default:
		return "Updated"
	}
}
