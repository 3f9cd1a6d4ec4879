package deployer_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	deployer "github.com/branched-services/go-deployer"
	"github.com/branched-services/go-deployer/journal/journaltest"
)

func TestMemoryJournal(t *testing.T) {
	journaltest.Run(t, func(t *testing.T) deployer.Journal {
		return deployer.NewMemoryJournal()
	})
}

func TestMemoryJournalCopiesRecords(t *testing.T) {
	ctx := context.Background()
	j := deployer.NewMemoryJournal()
	rec := journaltest.Record("plan", "Main#token", deployer.Confirmed)
	if err := j.Record(ctx, "plan", "Main#token", rec); err != nil {
		t.Fatal(err)
	}

	got, _, _ := j.Lookup(ctx, "plan", "Main#token")
	got.State = deployer.Failed
	*got.Value = deployer.UnitValue()

	again, _, _ := j.Lookup(ctx, "plan", "Main#token")
	if again.State != deployer.Confirmed {
		t.Errorf("Expected stored state to be unchanged, got %s", again.State)
	}
	if again.Value.Kind() == deployer.ValueUnit {
		t.Error("Expected stored value to be unchanged")
	}
}

func TestRecordEncoding(t *testing.T) {
	rec := journaltest.Record("plan", "Main#token", deployer.Submitted)
	data, err := deployer.MarshalRecord(rec)
	if err != nil {
		t.Fatalf("MarshalRecord: %v", err)
	}

	for _, key := range []string{`"futureId":"Main#token"`, `"state":"submitted"`, `"txHash":"0x5c50`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("Expected %s in %s", key, data)
		}
	}

	got, err := deployer.UnmarshalRecord(data)
	if err != nil {
		t.Fatalf("UnmarshalRecord: %v", err)
	}
	if got.State != deployer.Submitted || got.TxHash != rec.TxHash {
		t.Errorf("Expected submitted %s, got %s %s", rec.TxHash, got.State, got.TxHash)
	}

	if _, err := deployer.UnmarshalRecord([]byte(`{"state":"done"}`)); err == nil {
		t.Error("Expected error for unknown state")
	}
}

func TestRecordHasTx(t *testing.T) {
	rec := deployer.ExecutionRecord{}
	if rec.HasTx() {
		t.Error("Zero hash should not count as a transaction")
	}
	rec.TxHash = common.HexToHash("0x01")
	if !rec.HasTx() {
		t.Error("Expected HasTx")
	}
}

func TestSortRecords(t *testing.T) {
	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	recs := []deployer.ExecutionRecord{
		{FutureID: "Main#c", UpdatedAt: at.Add(time.Second)},
		{FutureID: "Main#b", UpdatedAt: at},
		{FutureID: "Main#a", UpdatedAt: at},
	}
	deployer.SortRecords(recs)

	expected := []string{"Main#a", "Main#b", "Main#c"}
	for i, rec := range recs {
		if rec.FutureID != expected[i] {
			t.Errorf("Position %d: expected %s, got %s", i, expected[i], rec.FutureID)
		}
	}
}
