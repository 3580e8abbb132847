package sync

import (
	"fmt"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// PushStatus classifies a local-to-remote write attempt.
type PushStatus int

const (
	// PushClean means local and remote versions agree; the write
	// proceeds tagged with remote version + 1.
	PushClean PushStatus = iota

	// PushConflict means the versions diverged and no override was
	// requested; the write must be rejected.
	PushConflict

	// PushForced means the versions diverged but the override flag was
	// set; the write proceeds with remote version + 1, discarding the
	// intervening remote changes.
	PushForced
)

// PushCheck is the outcome of the pre-write version comparison.
type PushCheck struct {
	Status        PushStatus
	LocalVersion  int
	RemoteVersion int

	// NextVersion is the version the write must be tagged with. Always
	// remote + 1, never local + 1, so a forced write cannot resurrect a
	// stale counter.
	NextVersion int
}

// CheckPush compares the locally recorded version against the freshly
// fetched remote version. Local greater than remote should not occur
// under single-writer discipline; it is treated as a conflict rather
// than assumed safe.
func CheckPush(localVersion, remoteVersion int, force bool) PushCheck {
	check := PushCheck{
		LocalVersion:  localVersion,
		RemoteVersion: remoteVersion,
		NextVersion:   remoteVersion + 1,
	}

	switch {
	case localVersion == remoteVersion:
		check.Status = PushClean
	case force:
		check.Status = PushForced
	default:
		check.Status = PushConflict
	}

	return check
}

// OverrideSummary describes what a forced push is about to discard by
// diffing the remote content against the local content. It feeds the
// override warning so the loss is visible, not silent.
func OverrideSummary(remoteText, localText string) string {
	dmp := diffmatchpatch.New()

	diffs := dmp.DiffMain(remoteText, localText, true)
	diffs = dmp.DiffCleanupSemantic(diffs)

	var discarded, added int

	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			discarded += len(d.Text)
		case diffmatchpatch.DiffInsert:
			added += len(d.Text)
		case diffmatchpatch.DiffEqual:
		}
	}

	return fmt.Sprintf("override discards %d chars of remote content and writes %d chars of local content", discarded, added)
}
