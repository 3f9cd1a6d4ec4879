// Package journaltest holds the behavior every deployer.Journal backend
// must share. Backends call Run from their own tests.
package journaltest

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	deployer "github.com/branched-services/go-deployer"
)

// Factory returns an empty journal. It is called once per subtest.
type Factory func(t *testing.T) deployer.Journal

// Run exercises j against the Journal contract.
func Run(t *testing.T, newJournal Factory) {
	t.Run("lookup missing", func(t *testing.T) {
		j := newJournal(t)
		rec, found, err := j.Lookup(context.Background(), "plan", "Main#token")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, rec)
	})

	t.Run("record and lookup", func(t *testing.T) {
		j := newJournal(t)
		ctx := context.Background()
		want := Record("plan", "Main#token", deployer.Confirmed)

		require.NoError(t, j.Record(ctx, "plan", "Main#token", want))
		got, found, err := j.Lookup(ctx, "plan", "Main#token")
		require.NoError(t, err)
		require.True(t, found)
		assertRecord(t, want, *got)
	})

	t.Run("upsert replaces", func(t *testing.T) {
		j := newJournal(t)
		ctx := context.Background()
		first := Record("plan", "Main#token", deployer.Submitted)
		first.Value = nil
		second := Record("plan", "Main#token", deployer.Confirmed)

		require.NoError(t, j.Record(ctx, "plan", "Main#token", first))
		require.NoError(t, j.Record(ctx, "plan", "Main#token", second))

		got, found, err := j.Lookup(ctx, "plan", "Main#token")
		require.NoError(t, err)
		require.True(t, found)
		assertRecord(t, second, *got)
	})

	t.Run("plans are isolated", func(t *testing.T) {
		j := newJournal(t)
		ctx := context.Background()
		require.NoError(t, j.Record(ctx, "plan-a", "Main#token", Record("plan-a", "Main#token", deployer.Confirmed)))

		_, found, err := j.Lookup(ctx, "plan-b", "Main#token")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("failure details", func(t *testing.T) {
		j := newJournal(t)
		ctx := context.Background()
		want := Record("plan", "Main#xfer", deployer.Failed)
		want.Value = nil
		want.ErrorKind = "Revert"
		want.Error = "deployer: transaction reverted: insufficient balance"

		require.NoError(t, j.Record(ctx, "plan", "Main#xfer", want))
		got, _, err := j.Lookup(ctx, "plan", "Main#xfer")
		require.NoError(t, err)
		assertRecord(t, want, *got)
	})

	t.Run("concurrent writes", func(t *testing.T) {
		j := newJournal(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id := fmt.Sprintf("Main#f%d", i)
				assert.NoError(t, j.Record(ctx, "plan", id, Record("plan", id, deployer.Confirmed)))
			}(i)
		}
		wg.Wait()

		for i := 0; i < 16; i++ {
			_, found, err := j.Lookup(ctx, "plan", fmt.Sprintf("Main#f%d", i))
			require.NoError(t, err)
			assert.True(t, found)
		}
	})

	t.Run("list and wipe", func(t *testing.T) {
		j := newJournal(t)
		lister, ok := j.(deployer.Lister)
		if !ok {
			t.Skip("journal does not list records")
		}
		ctx := context.Background()

		base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		for i, id := range []string{"Main#b", "Main#a", "Main#c"} {
			rec := Record("plan", id, deployer.Confirmed)
			rec.UpdatedAt = base.Add(time.Duration(i) * time.Second)
			require.NoError(t, j.Record(ctx, "plan", id, rec))
		}
		require.NoError(t, j.Record(ctx, "other", "Main#z", Record("other", "Main#z", deployer.Confirmed)))

		recs, err := lister.Records(ctx, "plan")
		require.NoError(t, err)
		ids := make([]string, len(recs))
		for i, rec := range recs {
			ids[i] = rec.FutureID
		}
		assert.Equal(t, []string{"Main#b", "Main#a", "Main#c"}, ids)

		wiper, ok := j.(deployer.Wiper)
		if !ok {
			return
		}
		require.NoError(t, wiper.Wipe(ctx, "plan", "Main#a"))
		_, found, err := j.Lookup(ctx, "plan", "Main#a")
		require.NoError(t, err)
		assert.False(t, found)

		recs, err = lister.Records(ctx, "plan")
		require.NoError(t, err)
		assert.Len(t, recs, 2)
	})
}

// Record returns a populated record for (planID, futureID).
func Record(planID, futureID string, state deployer.State) deployer.ExecutionRecord {
	v, _ := deployer.ScalarValue(big.NewInt(100000000000))
	return deployer.ExecutionRecord{
		PlanID:      planID,
		FutureID:    futureID,
		Name:        futureID,
		Kind:        "deploy",
		State:       state,
		Value:       &v,
		TxHash:      common.HexToHash("0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060"),
		Fingerprint: "0x2f7a1c",
		RunID:       "run-1",
		UpdatedAt:   time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func assertRecord(t *testing.T, want, got deployer.ExecutionRecord) {
	t.Helper()
	assert.Equal(t, want.PlanID, got.PlanID)
	assert.Equal(t, want.FutureID, got.FutureID)
	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, want.Kind, got.Kind)
	assert.Equal(t, want.State, got.State)
	assert.Equal(t, want.TxHash, got.TxHash)
	assert.Equal(t, want.Fingerprint, got.Fingerprint)
	assert.Equal(t, want.ErrorKind, got.ErrorKind)
	assert.Equal(t, want.Error, got.Error)
	assert.Equal(t, want.RunID, got.RunID)
	assert.True(t, want.UpdatedAt.Equal(got.UpdatedAt), "updatedAt: want %s, got %s", want.UpdatedAt, got.UpdatedAt)
	if want.Value == nil {
		assert.Nil(t, got.Value)
		return
	}
	require.NotNil(t, got.Value)
	assert.True(t, want.Value.Equal(*got.Value), "value: want %s, got %s", want.Value, got.Value)
}
