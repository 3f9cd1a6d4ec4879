package deployer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Event reports a state transition of a future.
type Event struct {
	PlanID   string
	RunID    string
	FutureID string
	Name     string
	Kind     Kind
	State    State
	TxHash   common.Hash
	Value    *ResolvedValue
	Err      error

	// Skipped is set when the future was already Confirmed in the journal
	// and nothing was sent to the network.
	Skipped bool
}

// Engine executes plans against a Network, journaling every transition.
type Engine struct {
	network Network
	journal Journal
	cfg     *engineConfig
}

// NewEngine creates an Engine. A nil journal uses a fresh MemoryJournal,
// which makes runs non-resumable across processes.
func NewEngine(network Network, journal Journal, opts ...EngineOption) *Engine {
	cfg := defaultEngineConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if journal == nil {
		journal = NewMemoryJournal()
	}
	return &Engine{network: network, journal: journal, cfg: cfg}
}

// Journal returns the journal the engine records to.
func (e *Engine) Journal() Journal {
	return e.journal
}

// Run executes plan until every future is Confirmed or one fails.
// Futures already Confirmed in the journal are skipped without network
// access. The Registry is returned whether the run completed or halted;
// on halt the error is a *FutureError naming the failed future, or wraps
// ErrCancelled.
func (e *Engine) Run(ctx context.Context, plan *Plan) (*Registry, error) {
	runID := e.cfg.runID
	if runID == "" {
		runID = uuid.NewString()
	}
	r := &run{
		Engine:  e,
		plan:    plan,
		rs:      newRunState(plan),
		runID:   runID,
		log:     e.cfg.logger.With("plan", plan.id, "run", runID),
		senders: make(map[common.Address]*sync.Mutex),
	}

	r.log.Info("Starting run", "futures", plan.Len(), "concurrency", e.cfg.concurrency)
	start := time.Now()

	var err error
	if e.cfg.concurrency > 1 {
		err = r.concurrent(ctx)
	} else {
		err = r.sequential(ctx)
	}

	reg := newRegistry(plan, r.rs)
	if err != nil {
		r.log.Error("Run halted", "error", err, "confirmed", len(reg.Confirmed()))
		return reg, err
	}
	r.log.Info("Run complete", "futures", plan.Len(), "elapsed", time.Since(start).Round(time.Millisecond))
	return reg, nil
}

// run is the state of one Engine.Run call.
type run struct {
	*Engine
	plan  *Plan
	rs    *runState
	runID string
	log   *slog.Logger

	mu      sync.Mutex
	senders map[common.Address]*sync.Mutex
}

func (r *run) sequential(ctx context.Context) error {
	for _, f := range r.plan.order {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		if err := r.execute(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

// concurrent launches every future whose dependencies are Confirmed, up to
// the configured limit. After the first failure or cancellation nothing new
// is launched; in-flight futures finish (or drain) before it returns.
func (r *run) concurrent(ctx context.Context) error {
	var g errgroup.Group
	g.SetLimit(r.cfg.concurrency)

	done := make(chan *Future, r.plan.Len())
	launched := make(map[*Future]bool, r.plan.Len())
	inFlight := 0

	var (
		errMu    sync.Mutex
		firstErr error
	)
	halted := func() bool {
		errMu.Lock()
		defer errMu.Unlock()
		return firstErr != nil
	}

	for {
		for _, f := range r.plan.order {
			if launched[f] || halted() || ctx.Err() != nil || !r.rs.ready(f) {
				continue
			}
			launched[f] = true
			inFlight++
			g.Go(func() error {
				if err := r.execute(ctx, f); err != nil {
					errMu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					errMu.Unlock()
				}
				done <- f
				return nil
			})
		}
		if inFlight == 0 {
			break
		}
		<-done
		inFlight--
	}
	_ = g.Wait()

	if firstErr != nil {
		return firstErr
	}
	if len(launched) < r.plan.Len() {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrCancelled, err)
		}
	}
	return nil
}

// execute drives one future to a terminal state, or returns the error that
// halts the run.
func (r *run) execute(ctx context.Context, f *Future) error {
	rec, found, err := r.journal.Lookup(ctx, r.plan.id, f.id)
	if err != nil {
		return r.halt(f, fmt.Errorf("%w: %w", ErrJournalRead, err))
	}

	if found {
		if rec.State == Confirmed {
			if rec.Fingerprint != f.fingerprint {
				return r.halt(f, ErrFutureChanged)
			}
			v := UnitValue()
			if rec.Value != nil {
				v = *rec.Value
			}
			r.rs.confirm(f, v)
			r.log.Info("Future already confirmed, skipping", "future", f.id)
			r.emit(Event{FutureID: f.id, Name: f.name, Kind: f.kind, State: Confirmed, TxHash: rec.TxHash, Value: &v, Skipped: true})
			return nil
		}
		if rec.HasTx() {
			handled, err := r.resume(ctx, f, rec)
			if handled || err != nil {
				return err
			}
		}
	}

	r.metrics().trackInFlight(1)
	defer r.metrics().trackInFlight(-1)

	start := time.Now()
	defer func() {
		r.metrics().observeAction(f.kind, time.Since(start).Seconds())
	}()

	act, err := newAction(f, r.rs, r.cfg.sender)
	if err != nil {
		return r.fail(ctx, f, common.Hash{}, err)
	}

	if f.kind == StaticCall {
		return r.staticCall(ctx, f, act)
	}
	return r.transact(ctx, f, act, start)
}

// resume re-checks a journaled transaction from an earlier run before
// anything is resubmitted. handled is false only when a journaled revert
// should be retried.
func (r *run) resume(ctx context.Context, f *Future, rec *ExecutionRecord) (handled bool, err error) {
	if rec.Fingerprint != f.fingerprint {
		if rec.State == Failed {
			return false, nil
		}
		return true, r.halt(f, ErrFutureChanged)
	}

	r.log.Info("Checking journaled transaction", "future", f.id, "tx", rec.TxHash, "state", rec.State)
	receipt, err := r.network.TransactionReceipt(ctx, rec.TxHash)
	if err != nil {
		return true, r.failInFlight(ctx, f, rec.TxHash, rec.Value, classify(ctx, ctx, err))
	}

	simulated := UnitValue()
	if rec.Value != nil {
		simulated = *rec.Value
	}

	switch {
	case receipt == nil:
		// Pending, including a transaction that outlived an earlier timeout.
		// Only wipe forgets it.
		r.rs.submitted(f, rec.TxHash)
		return true, r.await(ctx, f, rec.TxHash, simulated, time.Now())
	case receipt.Succeeded():
		r.log.Info("Adopting confirmed transaction", "future", f.id, "tx", rec.TxHash)
		return true, r.confirm(ctx, f, rec.TxHash, resultOf(f, receipt, simulated))
	case rec.State != Failed:
		return true, r.fail(ctx, f, rec.TxHash, &RevertError{Reason: receipt.RevertReason, TxHash: rec.TxHash})
	default:
		// The revert is already journaled; run the future again.
		return false, nil
	}
}

func (r *run) staticCall(ctx context.Context, f *Future, act *action) error {
	actx, cancel := context.WithTimeout(ctx, r.cfg.actionTimeout)
	defer cancel()

	data, err := r.network.Call(actx, act.callRequest())
	if err != nil {
		return r.fail(ctx, f, common.Hash{}, classify(ctx, actx, err))
	}
	v, err := act.decodeResult(data)
	if err != nil {
		return r.fail(ctx, f, common.Hash{}, err)
	}
	return r.confirm(ctx, f, common.Hash{}, v)
}

func (r *run) transact(ctx context.Context, f *Future, act *action, start time.Time) error {
	actx, cancel := context.WithDeadline(ctx, start.Add(r.cfg.actionTimeout))
	defer cancel()

	simulated := UnitValue()
	if f.kind == Call {
		data, err := r.network.Call(actx, act.callRequest())
		if err != nil {
			return r.fail(ctx, f, common.Hash{}, classify(ctx, actx, err))
		}
		if simulated, err = act.decodeResult(data); err != nil {
			return r.fail(ctx, f, common.Hash{}, err)
		}
	}

	unlock := r.lockSender(act.from)
	hash, err := r.network.SendTransaction(actx, act.txRequest())
	unlock()
	if err != nil {
		return r.fail(ctx, f, common.Hash{}, classify(ctx, actx, err))
	}

	rec := r.record(f, Submitted)
	rec.TxHash = hash
	rec.Value = &simulated
	if err := r.write(ctx, f, rec); err != nil {
		return err
	}
	r.rs.submitted(f, hash)
	r.log.Info("Transaction submitted", "future", f.id, "tx", hash, "from", act.from)
	r.emit(Event{FutureID: f.id, Name: f.name, Kind: f.kind, State: Submitted, TxHash: hash})

	return r.await(ctx, f, hash, simulated, start)
}

// await polls for the receipt of hash and settles the future.
func (r *run) await(ctx context.Context, f *Future, hash common.Hash, simulated ResolvedValue, start time.Time) error {
	receipt, err := r.waitReceipt(ctx, hash, start.Add(r.cfg.actionTimeout))
	switch {
	case errors.Is(err, ErrCancelled):
		rec := r.record(f, Unknown)
		rec.TxHash = hash
		rec.Value = &simulated
		if werr := r.write(ctx, f, rec); werr != nil {
			return werr
		}
		r.rs.transition(f, Unknown)
		r.log.Warn("Run cancelled with transaction in flight", "future", f.id, "tx", hash)
		r.emit(Event{FutureID: f.id, Name: f.name, Kind: f.kind, State: Unknown, TxHash: hash, Err: err})
		return &FutureError{Name: f.name, FutureID: f.id, Err: err}
	case err != nil:
		return r.failInFlight(ctx, f, hash, &simulated, err)
	case !receipt.Succeeded():
		return r.fail(ctx, f, hash, &RevertError{Reason: receipt.RevertReason, TxHash: hash})
	}
	return r.confirm(ctx, f, hash, resultOf(f, receipt, simulated))
}

// waitReceipt polls until the receipt is available or deadline passes.
// When ctx is cancelled polling continues for the drain window and then
// returns ErrCancelled.
func (r *run) waitReceipt(ctx context.Context, hash common.Hash, deadline time.Time) (*Receipt, error) {
	pollCtx, cancel := context.WithDeadline(context.WithoutCancel(ctx), deadline)
	defer cancel()

	ticker := time.NewTicker(r.cfg.pollInterval)
	defer ticker.Stop()

	cancelled := ctx.Done()
	var drain <-chan time.Time

	for {
		receipt, err := r.network.TransactionReceipt(pollCtx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && pollCtx.Err() == nil {
			r.log.Debug("Receipt poll failed", "tx", hash, "error", err)
		}

		select {
		case <-ticker.C:
		case <-cancelled:
			cancelled = nil
			if r.cfg.drainTimeout == 0 {
				return nil, ErrCancelled
			}
			timer := time.NewTimer(r.cfg.drainTimeout)
			defer timer.Stop()
			drain = timer.C
		case <-drain:
			return nil, ErrCancelled
		case <-pollCtx.Done():
			if ctx.Err() != nil {
				return nil, ErrCancelled
			}
			return nil, fmt.Errorf("%w: no receipt for %s", ErrTimeout, hash)
		}
	}
}

// confirm persists the Confirmed record and only then marks f Confirmed in
// memory.
func (r *run) confirm(ctx context.Context, f *Future, hash common.Hash, v ResolvedValue) error {
	rec := r.record(f, Confirmed)
	rec.TxHash = hash
	rec.Value = &v
	if err := r.write(ctx, f, rec); err != nil {
		return err
	}
	r.rs.confirm(f, v)
	r.metrics().observeState(f.kind, Confirmed)
	r.log.Info("Future confirmed", "future", f.id, "kind", f.kind, "value", v.String())
	r.emit(Event{FutureID: f.id, Name: f.name, Kind: f.kind, State: Confirmed, TxHash: hash, Value: &v})
	return nil
}

// fail records f as Failed and returns the error that halts the run.
// Cancellation before anything was sent leaves the future Pending.
func (r *run) fail(ctx context.Context, f *Future, hash common.Hash, cause error) error {
	return r.failInFlight(ctx, f, hash, nil, cause)
}

// failInFlight is fail for a transaction whose outcome is still open. The
// simulated value is kept so a later run can adopt the receipt.
func (r *run) failInFlight(ctx context.Context, f *Future, hash common.Hash, simulated *ResolvedValue, cause error) error {
	if errors.Is(cause, ErrCancelled) && hash == (common.Hash{}) {
		return &FutureError{Name: f.name, FutureID: f.id, Err: cause}
	}

	rec := r.record(f, Failed)
	rec.TxHash = hash
	rec.Value = simulated
	rec.ErrorKind = ErrorKind(cause)
	rec.Error = cause.Error()
	if err := r.write(ctx, f, rec); err != nil {
		return err
	}
	r.rs.transition(f, Failed)
	r.metrics().observeState(f.kind, Failed)
	r.log.Error("Future failed", "future", f.id, "kind", rec.ErrorKind, "error", cause)
	r.emit(Event{FutureID: f.id, Name: f.name, Kind: f.kind, State: Failed, TxHash: hash, Err: cause})
	return &FutureError{Name: f.name, FutureID: f.id, Err: cause}
}

// halt stops the run without touching the journal.
func (r *run) halt(f *Future, cause error) error {
	r.log.Error("Run stopped", "future", f.id, "error", cause)
	return &FutureError{Name: f.name, FutureID: f.id, Err: cause}
}

// write persists rec. Writes are not cancelled with the run so that
// outcomes of in-flight transactions are always recorded.
func (r *run) write(ctx context.Context, f *Future, rec ExecutionRecord) error {
	err := r.journal.Record(context.WithoutCancel(ctx), r.plan.id, f.id, rec)
	r.metrics().observeJournalWrite(err)
	if err != nil {
		return r.halt(f, fmt.Errorf("%w: %w", ErrJournalWriteFailure, err))
	}
	return nil
}

func (r *run) record(f *Future, s State) ExecutionRecord {
	return ExecutionRecord{
		PlanID:      r.plan.id,
		FutureID:    f.id,
		Name:        f.name,
		Kind:        f.kind.String(),
		State:       s,
		Fingerprint: f.fingerprint,
		RunID:       r.runID,
		UpdatedAt:   time.Now().UTC(),
	}
}

func (r *run) emit(ev Event) {
	ev.PlanID = r.plan.id
	ev.RunID = r.runID
	if r.cfg.observer != nil {
		r.cfg.observer(ev)
	}
}

func (r *run) metrics() *Metrics {
	return r.cfg.metrics
}

// lockSender serializes submissions from one address so nonces are
// assigned in submission order.
func (r *run) lockSender(addr common.Address) (unlock func()) {
	r.mu.Lock()
	m, ok := r.senders[addr]
	if !ok {
		m = &sync.Mutex{}
		r.senders[addr] = m
	}
	r.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// resultOf derives the resolved value from a successful receipt.
func resultOf(f *Future, receipt *Receipt, simulated ResolvedValue) ResolvedValue {
	if f.kind == Deploy {
		return AddressValue(receipt.ContractAddress)
	}
	return simulated
}

// classify maps a network error to the failure taxonomy. actx is the
// action's own context, carrying its timeout.
func classify(ctx, actx context.Context, err error) error {
	switch {
	case errors.Is(err, ErrRevert):
		return err
	case ctx.Err() != nil:
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	case errors.Is(actx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case errors.Is(err, ErrSubmission):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrSubmission, err)
	}
}
