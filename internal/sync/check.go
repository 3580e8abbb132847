package sync

import (
	"context"
	"fmt"

	"github.com/aaronshaf/cn/internal/dupes"
	"github.com/aaronshaf/cn/internal/mapping"
	"github.com/aaronshaf/cn/internal/pagestate"
)

// CheckResult is the outcome of the standalone consistency check:
// mapping/file disagreements as warnings, duplicate id groups ranked
// for cleanup. Nothing is repaired automatically.
type CheckResult struct {
	Tracked    int
	Warnings   []string
	Duplicates []dupes.Set
}

// Healthy reports whether the check found nothing to flag.
func (c *CheckResult) Healthy() bool {
	return len(c.Warnings) == 0 && len(c.Duplicates) == 0
}

// Check verifies the sync directory against its mapping: every mapped
// path must resolve to a file whose embedded id matches the mapping
// key, and no id may appear in more than one file.
func (e *Engine) Check(ctx context.Context) (*CheckResult, error) {
	m, err := mapping.Load(e.root)
	if err != nil {
		return nil, err
	}

	result := &CheckResult{Tracked: len(m.Pages)}

	_, warnings := pagestate.Build(e.root, m.Pages)
	for _, w := range warnings {
		result.Warnings = append(result.Warnings, w.String())
	}

	sets, err := dupes.Scan(ctx, e.root)
	if err != nil {
		return nil, fmt.Errorf("scanning for duplicates: %w", err)
	}

	result.Duplicates = sets

	return result, nil
}
