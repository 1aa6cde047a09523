// Package stage implements the directory-and-filename convention that holds the state of
// every unit of work. Each transition is a single rename between directories or prefixes.
package stage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/bmatcuk/doublestar/v4"

	"MailPrompter/internal/domain"
)

var (
	// ErrExists is returned instead of overwriting an existing file.
	ErrExists = errors.New("destination already exists")
	// ErrNotPending is returned when a transition is requested from the wrong stage.
	ErrNotPending = errors.New("item is not pending for this transition")
)

// Dirs holds the four directory roles. Fetched and Archive may point at the same place.
type Dirs struct {
	Fetched   string
	Archive   string
	Prompts   string
	Completed string
}

// Store performs stage transitions over Dirs.
type Store struct {
	dirs Dirs
}

// NewStore wires the directory roles.
func NewStore(dirs Dirs) *Store {
	return &Store{dirs: dirs}
}

// Dirs returns the configured directory roles.
func (s *Store) Dirs() Dirs {
	return s.dirs
}

// Ensure creates every directory role.
func (s *Store) Ensure() error {
	for _, dir := range s.unique() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// FormatFetched renders the body of a fetched item file.
func FormatFetched(subject, rawDate, content string) []byte {
	return []byte("Subject: " + subject + "\nDate: " + rawDate + "\n\n" + content)
}

// CreateFetched writes a new item into the fetched directory. It never overwrites.
func (s *Store) CreateFetched(item domain.Item, subject, rawDate, content string) (domain.Item, error) {
	item.Name = FetchedName(item.Category, item.Day, item.Ordinal)
	item.Path = filepath.Join(s.dirs.Fetched, item.Name)
	item.Stage = domain.StageFetched

	if err := writeNew(item.Path, FormatFetched(subject, rawDate, content)); err != nil {
		return domain.Item{}, fmt.Errorf("write %s: %w", item.Name, err)
	}
	return item, nil
}

// PendingFetched lists fetched items that belong to one of the categories, sorted by name.
// Fetched items of any other category are returned as unclaimed and are never touched.
func (s *Store) PendingFetched(categories []string) (items, unclaimed []domain.Item, err error) {
	known := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		known[c] = struct{}{}
	}

	names, err := list(s.dirs.Fetched, fetchedGlob)
	if err != nil {
		return nil, nil, err
	}

	items = make([]domain.Item, 0, len(names))
	for _, name := range names {
		item, ok := ParseFetched(name)
		if !ok {
			continue
		}
		item.Path = filepath.Join(s.dirs.Fetched, name)
		if _, ok := known[item.Category]; !ok {
			unclaimed = append(unclaimed, item)
			continue
		}
		items = append(items, item)
	}
	return items, unclaimed, nil
}

// PendingPrompts lists prompts still waiting for automation, sorted by name.
func (s *Store) PendingPrompts() ([]domain.Item, error) {
	names, err := list(s.dirs.Prompts, promptGlob)
	if err != nil {
		return nil, err
	}

	items := make([]domain.Item, 0, len(names))
	for _, name := range names {
		item, ok := ParsePrompt(name)
		if !ok {
			continue
		}
		item.Path = filepath.Join(s.dirs.Prompts, name)
		items = append(items, item)
	}
	return items, nil
}

// Read returns the content of the item file.
func (s *Store) Read(item domain.Item) ([]byte, error) {
	data, err := os.ReadFile(item.Path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", item.Name, err)
	}
	return data, nil
}

// Promote moves a fetched item to Archived and writes its pending prompt.
// The prompt is written first; if archiving fails it is removed again so the item
// stays fetched and is retried on the next run.
func (s *Store) Promote(item domain.Item, prompt []byte) (domain.Item, error) {
	if item.Stage != domain.StageFetched {
		return domain.Item{}, fmt.Errorf("promote %s: %w", item.Name, ErrNotPending)
	}

	pending := item
	pending.Stage = domain.StagePrompted
	pending.Name = PromptName(item.Name)
	pending.Path = filepath.Join(s.dirs.Prompts, pending.Name)

	if err := writeNew(pending.Path, prompt); err != nil {
		return domain.Item{}, fmt.Errorf("write prompt %s: %w", pending.Name, err)
	}

	archived := filepath.Join(s.dirs.Archive, ArchivedName(item.Name))
	if err := move(item.Path, archived); err != nil {
		if rmErr := os.Remove(pending.Path); rmErr != nil {
			return domain.Item{}, fmt.Errorf("archive %s: %w (prompt cleanup: %v)", item.Name, err, rmErr)
		}
		return domain.Item{}, fmt.Errorf("archive %s: %w", item.Name, err)
	}

	return pending, nil
}

// MarkEmpty parks a prompt with no content.
func (s *Store) MarkEmpty(item domain.Item) (domain.Item, error) {
	return s.settle(item, s.dirs.Prompts, EmptyName(item.Name), domain.StageEmpty)
}

// Complete moves a prompt to the completed directory.
func (s *Store) Complete(item domain.Item) (domain.Item, error) {
	return s.settle(item, s.dirs.Completed, CompletedName(item.Name), domain.StageCompleted)
}

// Fail parks a prompt whose automation failed, for manual inspection.
func (s *Store) Fail(item domain.Item) (domain.Item, error) {
	return s.settle(item, s.dirs.Prompts, FailedName(item.Name), domain.StageFailed)
}

func (s *Store) settle(item domain.Item, dir, name string, to domain.Stage) (domain.Item, error) {
	if item.Stage != domain.StagePrompted {
		return domain.Item{}, fmt.Errorf("%s %s: %w", to, item.Name, ErrNotPending)
	}

	next := item
	next.Stage = to
	next.Name = name
	next.Path = filepath.Join(dir, name)

	if err := move(item.Path, next.Path); err != nil {
		return domain.Item{}, fmt.Errorf("%s %s: %w", to, item.Name, err)
	}
	return next, nil
}

// Census counts the items found in every stage.
func (s *Store) Census() (map[domain.Stage]int, error) {
	counts := map[domain.Stage]int{}
	for _, dir := range s.unique() {
		names, err := list(dir, "*")
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			if item, ok := Classify(name); ok {
				counts[item.Stage]++
			}
		}
	}
	return counts, nil
}

func (s *Store) unique() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, dir := range []string{s.dirs.Fetched, s.dirs.Archive, s.dirs.Prompts, s.dirs.Completed} {
		if dir == "" {
			continue
		}
		key := filepath.Clean(dir)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, dir)
	}
	return out
}

// list returns regular file names in dir matching pattern. A missing directory has no work.
func list(dir, pattern string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ok, err := doublestar.Match(pattern, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("match %s: %w", pattern, err)
		}
		if ok {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// writeNew writes data to a hidden temporary file and renames it into place,
// refusing to replace an existing file.
func writeNew(path string, data []byte) error {
	if err := ensureAbsent(path); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".pending-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return err
	}

	if err := ensureAbsent(path); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}

// move relocates src to dst without overwriting, copying across filesystems when needed.
func move(src, dst string) error {
	if err := ensureAbsent(dst); err != nil {
		return err
	}

	err := os.Rename(src, dst)
	if err == nil || !errors.Is(err, syscall.EXDEV) {
		return err
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := writeNew(dst, data); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return nil
}

func ensureAbsent(path string) error {
	_, err := os.Lstat(path)
	if err == nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), ErrExists)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
