package storage

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MailPrompter/internal/domain"
	"MailPrompter/internal/stage"
)

func openTestLedger(t *testing.T, seed Seeder) *Ledger {
	t.Helper()
	l, err := Open(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "ledger.db"), seed)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "", nil)
	require.Error(t, err)

	_, err = Open(context.Background(), DriverPostgres, "", nil)
	require.Error(t, err)
}

func TestLedger_NextSeedsFromDirectories(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"agency1_20240115_001.txt",
		"processed_agency1_20240115_004.txt",
		"agency1_20240116_009.txt",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	l := openTestLedger(t, stage.NewDirAllocator(dir))
	ctx := context.Background()

	n, err := l.Next(ctx, "agency1", day(2024, 1, 15))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	// The seed is read once; later files are not rescanned.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agency1_20240115_042.txt"), []byte("x"), 0o644))
	n, err = l.Next(ctx, "agency1", day(2024, 1, 15))
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	n, err = l.Next(ctx, "agency2", day(2024, 1, 15))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLedger_NextWithoutSeeder(t *testing.T) {
	l := openTestLedger(t, nil)
	for want := 1; want <= 3; want++ {
		n, err := l.Next(context.Background(), "agency1", day(2024, 3, 3))
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
}

func TestLedger_NextConcurrentIsUnique(t *testing.T) {
	l := openTestLedger(t, nil)

	const workers = 10
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		got = map[int]bool{}
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := l.Next(context.Background(), "agency1", day(2024, 3, 3))
			assert.NoError(t, err)
			mu.Lock()
			got[n] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, got, workers)
	for i := 1; i <= workers; i++ {
		assert.True(t, got[i], "ordinal %d missing", i)
	}
}

func TestLedger_CountersSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ledger.db")
	ctx := context.Background()

	l, err := Open(ctx, DriverSQLite, path, nil)
	require.NoError(t, err)
	_, err = l.Next(ctx, "agency1", day(2024, 3, 3))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	l, err = Open(ctx, DriverSQLite, path, nil)
	require.NoError(t, err)
	defer l.Close()

	n, err := l.Next(ctx, "agency1", day(2024, 3, 3))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestLedger_RecordAndRecent(t *testing.T) {
	l := openTestLedger(t, nil)
	ctx := context.Background()
	base := time.Date(2024, 3, 3, 10, 0, 0, 0, time.UTC)

	item := domain.Item{Category: "agency1", Day: day(2024, 1, 15), Ordinal: 1, Name: "agency1_20240115_001.txt"}
	require.NoError(t, l.Record(ctx, domain.Transition{
		RunID: "run-1", Item: item, To: domain.StageFetched, Recorded: base,
	}))
	require.NoError(t, l.Record(ctx, domain.Transition{
		ID: "t-2", RunID: "run-1", Item: item, From: domain.StageFetched, To: domain.StagePrompted,
		Detail: "prompt written", Recorded: base.Add(time.Second),
	}))
	require.NoError(t, l.Record(ctx, domain.Transition{
		ID: "t-3", RunID: "run-1", Item: item, From: domain.StagePrompted, To: domain.StageCompleted,
		Recorded: base.Add(1500 * time.Millisecond),
	}))

	recent, err := l.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)

	assert.Equal(t, "t-3", recent[0].ID)
	assert.Equal(t, domain.StageCompleted, recent[0].To)
	assert.Equal(t, "t-2", recent[1].ID)
	assert.Equal(t, "prompt written", recent[1].Detail)
	assert.Equal(t, domain.StageFetched, recent[1].From)
	assert.Equal(t, "agency1", recent[1].Item.Category)
	assert.Equal(t, 1, recent[1].Item.Ordinal)
	assert.True(t, recent[1].Item.Day.Equal(day(2024, 1, 15)))
	assert.True(t, recent[1].Recorded.Equal(base.Add(time.Second)))

	all, err := l.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.NotEmpty(t, all[2].ID)

	none, err := l.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestLedger_ReleaseReturnsOnlyTheLastOrdinal(t *testing.T) {
	l := openTestLedger(t, nil)
	ctx := context.Background()
	d := day(2024, 3, 3)

	n, err := l.Next(ctx, "agency1", d)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.NoError(t, l.Release(ctx, "agency1", d, 1))
	n, err = l.Next(ctx, "agency1", d)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "released ordinal is handed out again")

	n, err = l.Next(ctx, "agency1", d)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	// 2 is already taken after 1, so releasing 1 must not rewind the counter.
	require.NoError(t, l.Release(ctx, "agency1", d, 1))
	n, err = l.Next(ctx, "agency1", d)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, l.Release(ctx, "agency2", d, 1), "unknown counters are left alone")
}
