package deployer

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// Registry exposes the results of a run by declared name. It is a snapshot
// taken when the run ended and never changes afterwards.
type Registry struct {
	plan   *Plan
	states map[*Future]State
	values map[*Future]ResolvedValue
}

func newRegistry(plan *Plan, rs *runState) *Registry {
	states, values := rs.snapshot()
	return &Registry{plan: plan, states: states, values: values}
}

// Plan returns the plan the registry was produced from.
func (r *Registry) Plan() *Plan {
	return r.plan
}

// Get returns the resolved value of a Confirmed future.
func (r *Registry) Get(name string) (ResolvedValue, error) {
	f, ok := r.plan.byName[name]
	if !ok {
		return ResolvedValue{}, fmt.Errorf("%w: %s", ErrUnknownReference, name)
	}
	if r.states[f] != Confirmed {
		return ResolvedValue{}, fmt.Errorf("%w: %s is %s", ErrNotYetResolved, name, r.states[f])
	}
	return r.values[f], nil
}

// State returns the state a future ended the run in.
func (r *Registry) State(name string) (State, bool) {
	f, ok := r.plan.byName[name]
	if !ok {
		return Pending, false
	}
	return r.states[f], true
}

// Address returns the address a Confirmed future resolved to.
func (r *Registry) Address(name string) (common.Address, error) {
	v, err := r.Get(name)
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := v.Address()
	if !ok {
		return common.Address{}, &TypeMismatchError{Expected: "address", Got: v.Kind().String()}
	}
	return addr, nil
}

// Names returns every declared name, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.plan.byName))
	for name := range r.plan.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Confirmed returns the names of Confirmed futures in resolved order.
func (r *Registry) Confirmed() []string {
	var names []string
	for _, f := range r.plan.order {
		if r.states[f] == Confirmed {
			names = append(names, f.name)
		}
	}
	return names
}

// Contract is a deployed contract handle: its address and ABI.
type Contract struct {
	Name    string
	Address common.Address
	ABI     abi.ABI
}

// Contract returns the handle for a Confirmed Deploy future.
func (r *Registry) Contract(name string) (*Contract, error) {
	addr, err := r.Address(name)
	if err != nil {
		return nil, err
	}
	f := r.plan.byName[name]
	if f.kind != Deploy {
		return nil, fmt.Errorf("%w: %s is a %s, not a deployment", ErrInvalidDeclaration, name, f.kind)
	}
	return &Contract{Name: f.artifact.Name, Address: addr, ABI: f.artifact.ABI}, nil
}

// Bind returns a go-ethereum binding for a deployed contract, for callers
// that continue interacting with it after the run.
func (r *Registry) Bind(name string, backend bind.ContractBackend) (*bind.BoundContract, error) {
	c, err := r.Contract(name)
	if err != nil {
		return nil, err
	}
	return bind.NewBoundContract(c.Address, c.ABI, backend, backend, backend), nil
}
