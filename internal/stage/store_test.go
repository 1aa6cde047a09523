package stage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MailPrompter/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	s := NewStore(Dirs{
		Fetched:   filepath.Join(root, "fetched"),
		Archive:   filepath.Join(root, "archive"),
		Prompts:   filepath.Join(root, "prompts"),
		Completed: filepath.Join(root, "completed"),
	})
	require.NoError(t, s.Ensure())
	return s
}

func fetchedItem(t *testing.T, s *Store, ordinal int) domain.Item {
	t.Helper()
	item, err := s.CreateFetched(domain.Item{
		Category: "agency1",
		Day:      time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC),
		Ordinal:  ordinal,
	}, "Booking Confirmed #123", "Mon, 15 Jan 2024 10:00:00 +0000", "name: Jane")
	require.NoError(t, err)
	return item
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestCreateFetched(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	item := fetchedItem(t, s, 1)

	assert.Equal(t, "agency1_20240115_001.txt", item.Name)
	assert.Equal(t, domain.StageFetched, item.Stage)

	data, err := os.ReadFile(item.Path)
	require.NoError(t, err)
	assert.Equal(t, "Subject: Booking Confirmed #123\nDate: Mon, 15 Jan 2024 10:00:00 +0000\n\nname: Jane", string(data))

	entries, err := os.ReadDir(s.Dirs().Fetched)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")
}

func TestCreateFetchedNeverOverwrites(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	first := fetchedItem(t, s, 1)

	_, err := s.CreateFetched(domain.Item{Category: "agency1", Day: first.Day, Ordinal: 1}, "other", "", "other")
	require.ErrorIs(t, err, ErrExists)

	data, err := os.ReadFile(first.Path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "name: Jane")
}

func TestPendingFetchedFiltersCategories(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	fetchedItem(t, s, 2)
	fetchedItem(t, s, 1)
	touch(t, s.Dirs().Fetched, "agency9_20240115_001.txt", "readme.txt", "processed_agency1_20240115_005.txt")

	items, unclaimed, err := s.PendingFetched([]string{"agency1"})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "agency1_20240115_001.txt", items[0].Name)
	assert.Equal(t, "agency1_20240115_002.txt", items[1].Name)

	require.Len(t, unclaimed, 1)
	assert.Equal(t, "agency9", unclaimed[0].Category)
	assert.Equal(t, filepath.Join(s.Dirs().Fetched, "agency9_20240115_001.txt"), unclaimed[0].Path)
}

func TestPromote(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	item := fetchedItem(t, s, 1)

	prompt, err := s.Promote(item, []byte("book Jane"))
	require.NoError(t, err)

	assert.Equal(t, domain.StagePrompted, prompt.Stage)
	assert.Equal(t, "processed_agency1_20240115_001_robot_command.txt", prompt.Name)
	assert.False(t, exists(item.Path))
	assert.True(t, exists(filepath.Join(s.Dirs().Archive, "processed_agency1_20240115_001.txt")))

	data, err := os.ReadFile(prompt.Path)
	require.NoError(t, err)
	assert.Equal(t, "book Jane", string(data))
}

func TestPromoteRollsBackPromptWhenArchiveFails(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	item := fetchedItem(t, s, 1)
	touch(t, s.Dirs().Archive, "processed_agency1_20240115_001.txt")

	_, err := s.Promote(item, []byte("book Jane"))
	require.ErrorIs(t, err, ErrExists)

	assert.True(t, exists(item.Path), "item stays fetched")
	assert.False(t, exists(filepath.Join(s.Dirs().Prompts, PromptName(item.Name))))
}

func TestPromoteSharedFetchedAndArchiveDir(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	s := NewStore(Dirs{
		Fetched:   filepath.Join(root, "mails"),
		Archive:   filepath.Join(root, "mails"),
		Prompts:   filepath.Join(root, "prompts"),
		Completed: filepath.Join(root, "done"),
	})
	require.NoError(t, s.Ensure())
	item := fetchedItem(t, s, 1)

	_, err := s.Promote(item, []byte("cmd"))
	require.NoError(t, err)

	pending, _, err := s.PendingFetched([]string{"agency1"})
	require.NoError(t, err)
	assert.Empty(t, pending, "archived originals are not picked up again")
}

func TestPendingPromptsIdempotent(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	for i := 1; i <= 3; i++ {
		_, err := s.Promote(fetchedItem(t, s, i), []byte("cmd"))
		require.NoError(t, err)
	}
	touch(t, s.Dirs().Prompts,
		"failed_robot_command_agency1_20240115_009_robot_command.txt",
		"empty_robot_command_agency1_20240115_010_robot_command.txt",
	)

	first, err := s.PendingPrompts()
	require.NoError(t, err)
	second, err := s.PendingPrompts()
	require.NoError(t, err)

	require.Len(t, first, 3)
	assert.Equal(t, first, second)
}

func TestTerminalTransitions(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	var prompts []domain.Item
	for i := 1; i <= 3; i++ {
		p, err := s.Promote(fetchedItem(t, s, i), []byte("cmd"))
		require.NoError(t, err)
		prompts = append(prompts, p)
	}

	done, err := s.Complete(prompts[0])
	require.NoError(t, err)
	assert.Equal(t, domain.StageCompleted, done.Stage)
	assert.Equal(t, filepath.Join(s.Dirs().Completed, "completed_agency1_20240115_001_robot_command.txt"), done.Path)
	assert.False(t, exists(prompts[0].Path))
	assert.True(t, exists(done.Path))

	failed, err := s.Fail(prompts[1])
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Dirs().Prompts, "failed_robot_command_agency1_20240115_002_robot_command.txt"), failed.Path)
	assert.False(t, exists(prompts[1].Path))

	empty, err := s.MarkEmpty(prompts[2])
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Dirs().Prompts, "empty_robot_command_agency1_20240115_003_robot_command.txt"), empty.Path)

	pending, err := s.PendingPrompts()
	require.NoError(t, err)
	assert.Empty(t, pending)

	completed, err := os.ReadDir(s.Dirs().Completed)
	require.NoError(t, err)
	assert.Len(t, completed, 1)

	_, err = s.Complete(done)
	require.ErrorIs(t, err, ErrNotPending)
}

func TestCensus(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	fetchedItem(t, s, 1)
	_, err := s.Promote(fetchedItem(t, s, 2), []byte("cmd"))
	require.NoError(t, err)
	p3, err := s.Promote(fetchedItem(t, s, 3), []byte("cmd"))
	require.NoError(t, err)
	_, err = s.Complete(p3)
	require.NoError(t, err)

	counts, err := s.Census()
	require.NoError(t, err)
	assert.Equal(t, 1, counts[domain.StageFetched])
	assert.Equal(t, 2, counts[domain.StageArchived])
	assert.Equal(t, 1, counts[domain.StagePrompted])
	assert.Equal(t, 1, counts[domain.StageCompleted])
}
