package stage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MailPrompter/internal/domain"
)

func TestNames(t *testing.T) {
	t.Parallel()

	day := time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC)
	name := FetchedName("agency1", day, 1)
	assert.Equal(t, "agency1_20240115_001.txt", name)
	assert.Equal(t, "agency1_20240115_1000.txt", FetchedName("agency1", day, 1000))

	assert.Equal(t, "processed_agency1_20240115_001.txt", ArchivedName(name))

	prompt := PromptName(name)
	assert.Equal(t, "processed_agency1_20240115_001_robot_command.txt", prompt)
	assert.Equal(t, "completed_agency1_20240115_001_robot_command.txt", CompletedName(prompt))
	assert.Equal(t, "failed_robot_command_agency1_20240115_001_robot_command.txt", FailedName(prompt))
	assert.Equal(t, "empty_robot_command_agency1_20240115_001_robot_command.txt", EmptyName(prompt))
}

func TestTerminalRenameReplacesFirstOccurrenceOnly(t *testing.T) {
	t.Parallel()

	prompt := "processed_processed_x_20240115_001_robot_command.txt"
	assert.Equal(t, "completed_processed_x_20240115_001_robot_command.txt", CompletedName(prompt))
}

func TestParseFetched(t *testing.T) {
	t.Parallel()

	item, ok := ParseFetched("agency_one_20240115_007.txt")
	require.True(t, ok)
	assert.Equal(t, "agency_one", item.Category)
	assert.Equal(t, 7, item.Ordinal)
	assert.Equal(t, "20240115", item.DayStamp())
	assert.Equal(t, domain.StageFetched, item.Stage)

	for _, name := range []string{
		"agency1_20240115_01.txt",
		"agency1_20241315_001.txt",
		"agency1_2024011_001.txt",
		"agency1_20240115_0a1.txt",
		"_20240115_001.txt",
		"agency1_20240115_001.eml",
		"processed_agency1_20240115_001.txt",
		".pending-agency1_20240115_001.txt",
	} {
		_, ok := ParseFetched(name)
		assert.False(t, ok, name)
	}
}

func TestParsePrompt(t *testing.T) {
	t.Parallel()

	item, ok := ParsePrompt("processed_agency1_20240115_002_robot_command.txt")
	require.True(t, ok)
	assert.Equal(t, "agency1", item.Category)
	assert.Equal(t, 2, item.Ordinal)
	assert.Equal(t, domain.StagePrompted, item.Stage)

	_, ok = ParsePrompt("completed_agency1_20240115_002_robot_command.txt")
	assert.False(t, ok)
	_, ok = ParsePrompt("processed_agency1_20240115_002.txt")
	assert.False(t, ok)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := map[string]domain.Stage{
		"agency1_20240115_001.txt":                                    domain.StageFetched,
		"processed_agency1_20240115_001.txt":                          domain.StageArchived,
		"processed_agency1_20240115_001_robot_command.txt":            domain.StagePrompted,
		"completed_agency1_20240115_001_robot_command.txt":            domain.StageCompleted,
		"failed_robot_command_agency1_20240115_001_robot_command.txt": domain.StageFailed,
		"empty_robot_command_agency1_20240115_001_robot_command.txt":  domain.StageEmpty,
	}
	for name, want := range cases {
		item, ok := Classify(name)
		require.True(t, ok, name)
		assert.Equal(t, want, item.Stage, name)
		assert.Equal(t, "agency1", item.Category, name)
	}

	_, ok := Classify("notes.txt")
	assert.False(t, ok)
}
