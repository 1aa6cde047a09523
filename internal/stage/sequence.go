package stage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"MailPrompter/internal/domain"
)

// DirAllocator derives the next ordinal from existing file names; nothing is persisted.
// It scans every configured directory and also counts names carrying the archive prefix,
// so ordinals keep increasing after originals leave the fetched directory.
// Two processes allocating for the same category and day can race.
type DirAllocator struct {
	dirs []string
}

// NewDirAllocator scans the given directories; empty and duplicate entries are dropped.
func NewDirAllocator(dirs ...string) *DirAllocator {
	seen := map[string]struct{}{}
	a := &DirAllocator{}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		key := filepath.Clean(dir)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		a.dirs = append(a.dirs, dir)
	}
	return a
}

// Next returns max(existing ordinal) + 1, or 1 when the day has no items yet.
func (a *DirAllocator) Next(ctx context.Context, category string, day time.Time) (int, error) {
	highest, err := a.Highest(ctx, category, day)
	if err != nil {
		return 0, err
	}
	return highest + 1, nil
}

// Highest returns the largest ordinal in use for category and day, 0 if none.
// Names whose ordinal segment is not a number are ignored.
func (a *DirAllocator) Highest(ctx context.Context, category string, day time.Time) (int, error) {
	prefix := category + "_" + day.Format(domain.DayLayout) + "_"
	highest := 0

	for _, dir := range a.dirs {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		entries, err := os.ReadDir(dir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("scan %s: %w", dir, err)
		}

		for _, entry := range entries {
			name := strings.TrimPrefix(entry.Name(), PrefixProcessed)
			if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, itemExt) {
				continue
			}
			if len(name) < len(prefix)+len(itemExt) {
				continue
			}
			ordinal, ok := parseOrdinal(name[len(prefix) : len(name)-len(itemExt)])
			if !ok {
				continue
			}
			if ordinal > highest {
				highest = ordinal
			}
		}
	}

	return highest, nil
}
