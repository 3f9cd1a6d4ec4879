package deployer

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// runState tracks the state and resolved value of every future during one
// Run. The Plan itself is never mutated.
type runState struct {
	mu     sync.RWMutex
	states map[*Future]State
	values map[*Future]ResolvedValue
	txs    map[*Future]common.Hash
}

// newRunState creates a state table with every future Pending.
func newRunState(plan *Plan) *runState {
	rs := &runState{
		states: make(map[*Future]State, plan.Len()),
		values: make(map[*Future]ResolvedValue, plan.Len()),
		txs:    make(map[*Future]common.Hash),
	}
	for _, f := range plan.order {
		rs.states[f] = Pending
	}
	return rs
}

func (rs *runState) state(f *Future) State {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.states[f]
}

func (rs *runState) value(f *Future) (ResolvedValue, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	v, ok := rs.values[f]
	return v, ok
}

func (rs *runState) txHash(f *Future) common.Hash {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.txs[f]
}

// transition moves f to s. Confirmed and Failed are terminal within a run.
func (rs *runState) transition(f *Future, s State) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if cur := rs.states[f]; cur == Confirmed || cur == Failed {
		return
	}
	rs.states[f] = s
}

// submitted records the in-flight transaction for f.
func (rs *runState) submitted(f *Future, hash common.Hash) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.txs[f] = hash
	rs.states[f] = Submitted
}

// confirm stores the resolved value and marks f Confirmed.
func (rs *runState) confirm(f *Future, v ResolvedValue) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.values[f] = v
	rs.states[f] = Confirmed
}

// ready reports whether every dependency of f is Confirmed.
func (rs *runState) ready(f *Future) bool {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	for _, dep := range f.deps {
		if rs.states[dep] != Confirmed {
			return false
		}
	}
	return true
}

// substitute replaces a reference with its dependency's resolved value.
// Literals pass through unchanged.
func (rs *runState) substitute(arg Argument) (any, error) {
	switch a := arg.(type) {
	case *Literal:
		return a.value, nil
	case *Reference:
		v, ok := rs.value(a.future)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotYetResolved, a.Name)
		}
		if a.Field == "" {
			return v, nil
		}
		field, ok := v.Field(a.Field)
		if !ok {
			return nil, fmt.Errorf("%w: %s has no field %q", ErrUnknownReference, a.Name, a.Field)
		}
		return field, nil
	case *Parameter:
		return nil, fmt.Errorf("%w: %s", ErrUnknownParameter, a.Name)
	case nil:
		return nil, nil
	}
	return nil, &TypeMismatchError{Expected: "argument", Got: describe(arg)}
}

// snapshot copies the table for the Registry.
func (rs *runState) snapshot() (map[*Future]State, map[*Future]ResolvedValue) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	states := make(map[*Future]State, len(rs.states))
	for f, s := range rs.states {
		states[f] = s
	}
	values := make(map[*Future]ResolvedValue, len(rs.values))
	for f, v := range rs.values {
		values[f] = v
	}
	return states, values
}
