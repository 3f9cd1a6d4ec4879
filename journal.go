package deployer

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ExecutionRecord is the durable outcome of one future within a plan.
type ExecutionRecord struct {
	PlanID      string         `json:"planId"`
	FutureID    string         `json:"futureId"`
	Name        string         `json:"name"`
	Kind        string         `json:"kind"`
	State       State          `json:"state"`
	Value       *ResolvedValue `json:"value,omitempty"`
	TxHash      common.Hash    `json:"txHash,omitempty"`
	Fingerprint string         `json:"fingerprint"`
	ErrorKind   string         `json:"errorKind,omitempty"`
	Error       string         `json:"error,omitempty"`
	RunID       string         `json:"runId"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// HasTx reports whether a transaction was broadcast for the record.
func (r *ExecutionRecord) HasTx() bool {
	return r.TxHash != (common.Hash{})
}

// MarshalRecord encodes a record in the layout shared by every journal backend.
func MarshalRecord(rec ExecutionRecord) ([]byte, error) {
	return json.Marshal(rec)
}

// UnmarshalRecord decodes a record written by MarshalRecord.
func UnmarshalRecord(data []byte) (*ExecutionRecord, error) {
	var rec ExecutionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Journal persists per-future records so a plan can be resumed.
// Record must be durable when it returns; the engine does not advance past
// a future until its record is written. Implementations must be safe for
// concurrent use on distinct keys.
type Journal interface {
	// Record upserts the record for (planID, futureID) atomically.
	Record(ctx context.Context, planID, futureID string, rec ExecutionRecord) error

	// Lookup returns the record for (planID, futureID), if any.
	Lookup(ctx context.Context, planID, futureID string) (*ExecutionRecord, bool, error)
}

// Lister is implemented by journals that can enumerate a plan's records.
type Lister interface {
	Records(ctx context.Context, planID string) ([]ExecutionRecord, error)
}

// Wiper is implemented by journals that can drop a record, forcing the
// future to execute again on the next run.
type Wiper interface {
	Wipe(ctx context.Context, planID, futureID string) error
}

// SortRecords orders records by update time, then future ID.
func SortRecords(recs []ExecutionRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].UpdatedAt.Equal(recs[j].UpdatedAt) {
			return recs[i].UpdatedAt.Before(recs[j].UpdatedAt)
		}
		return recs[i].FutureID < recs[j].FutureID
	})
}

// MemoryJournal is an in-process Journal for tests and dry runs.
type MemoryJournal struct {
	mu      sync.RWMutex
	records map[string]map[string]ExecutionRecord
}

// NewMemoryJournal creates an empty MemoryJournal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{records: make(map[string]map[string]ExecutionRecord)}
}

// Record implements Journal.
func (j *MemoryJournal) Record(_ context.Context, planID, futureID string, rec ExecutionRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	plan, ok := j.records[planID]
	if !ok {
		plan = make(map[string]ExecutionRecord)
		j.records[planID] = plan
	}
	plan[futureID] = copyRecord(rec)
	return nil
}

// Lookup implements Journal.
func (j *MemoryJournal) Lookup(_ context.Context, planID, futureID string) (*ExecutionRecord, bool, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	rec, ok := j.records[planID][futureID]
	if !ok {
		return nil, false, nil
	}
	cp := copyRecord(rec)
	return &cp, true, nil
}

// Records implements Lister.
func (j *MemoryJournal) Records(_ context.Context, planID string) ([]ExecutionRecord, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]ExecutionRecord, 0, len(j.records[planID]))
	for _, rec := range j.records[planID] {
		out = append(out, copyRecord(rec))
	}
	SortRecords(out)
	return out, nil
}

// Wipe implements Wiper.
func (j *MemoryJournal) Wipe(_ context.Context, planID, futureID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.records[planID], futureID)
	return nil
}

func copyRecord(rec ExecutionRecord) ExecutionRecord {
	if rec.Value != nil {
		v := *rec.Value
		rec.Value = &v
	}
	return rec
}
