package badgerjournal

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	deployer "github.com/branched-services/go-deployer"
	"github.com/branched-services/go-deployer/journal/journaltest"
)

func openTemp(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(t.TempDir(), WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournal(t *testing.T) {
	journaltest.Run(t, func(t *testing.T) deployer.Journal {
		return openTemp(t)
	})
}

func TestJournalInMemory(t *testing.T) {
	journaltest.Run(t, func(t *testing.T) deployer.Journal {
		j, err := Open("", InMemory())
		require.NoError(t, err)
		t.Cleanup(func() { j.Close() })
		return j
	})
}

func TestJournalSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	want := journaltest.Record("plan", "Main#token", deployer.Confirmed)

	j, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, j.Record(ctx, "plan", "Main#token", want))
	require.NoError(t, j.Close())

	j, err = Open(dir)
	require.NoError(t, err)
	defer j.Close()

	got, found, err := j.Lookup(ctx, "plan", "Main#token")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, want.TxHash, got.TxHash)
	assert.Equal(t, deployer.Confirmed, got.State)
}

func TestJournalPlanPrefixes(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()

	// "chain" must not list records of "chain-1".
	require.NoError(t, j.Record(ctx, "chain", "Main#a", journaltest.Record("chain", "Main#a", deployer.Confirmed)))
	require.NoError(t, j.Record(ctx, "chain-1", "Main#b", journaltest.Record("chain-1", "Main#b", deployer.Confirmed)))

	recs, err := j.Records(ctx, "chain")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Main#a", recs[0].FutureID)
}
