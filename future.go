package deployer

import (
	"strconv"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Kind is the type of on-chain action a future performs.
type Kind uint8

const (
	// Deploy creates a contract.
	Deploy Kind = iota

	// Call submits a state-changing transaction.
	Call

	// StaticCall performs a read-only simulated call.
	StaticCall
)

var kindNames = [...]string{"deploy", "call", "static_call"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// ParseKind parses "deploy", "call" or "static_call" (also "staticCall").
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "deploy":
		return Deploy, true
	case "call":
		return Call, true
	case "static_call", "staticCall", "staticcall":
		return StaticCall, true
	}
	return 0, false
}

// State is the lifecycle position of a future.
type State uint8

const (
	// Pending futures have not been acted on.
	Pending State = iota

	// Submitted futures have a transaction awaiting inclusion.
	Submitted

	// Confirmed futures have a resolved value. Terminal.
	Confirmed

	// Failed futures reverted, timed out or could not be submitted. Terminal.
	Failed

	// Unknown futures were in flight when the run stopped; the next run
	// re-checks their transaction before doing anything else.
	Unknown
)

var stateNames = [...]string{"pending", "submitted", "confirmed", "failed", "unknown"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

// ParseState is the inverse of State.String.
func ParseState(s string) (State, bool) {
	for i, name := range stateNames {
		if name == s {
			return State(i), true
		}
	}
	return 0, false
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	parsed, ok := ParseState(string(text))
	if !ok {
		return &TypeMismatchError{Expected: "future state", Got: string(text)}
	}
	*s = parsed
	return nil
}

// Future is a pending on-chain action inside a Plan. Futures are created by
// the Builder and never mutated afterwards; execution state lives in the
// Engine and the Journal.
type Future struct {
	id          string
	name        string
	kind        Kind
	index       int // declaration order
	artifact    *Artifact
	method      abi.Method // Call/StaticCall only
	target      Argument
	args        []Argument
	from        Argument
	value       Argument
	after       []*Future
	deps        []*Future
	fingerprint string
}

// ID returns the unique identifier, "<module>#<name>".
func (f *Future) ID() string {
	return f.id
}

// Name returns the declared name.
func (f *Future) Name() string {
	return f.name
}

// Kind returns the action kind.
func (f *Future) Kind() Kind {
	return f.kind
}

// Artifact returns the contract deployed (Deploy) or called (Call/StaticCall).
func (f *Future) Artifact() *Artifact {
	return f.artifact
}

// Method returns the ABI method for Call/StaticCall futures.
func (f *Future) Method() abi.Method {
	return f.method
}

// Target returns the call target argument, or nil for Deploy.
func (f *Future) Target() Argument {
	return f.target
}

// Args returns a copy of the argument list.
func (f *Future) Args() []Argument {
	cp := make([]Argument, len(f.args))
	copy(cp, f.args)
	return cp
}

// From returns the sender argument, or nil when the engine default applies.
func (f *Future) From() Argument {
	return f.from
}

// Value returns the wei value argument, or nil.
func (f *Future) Value() Argument {
	return f.value
}

// Dependencies returns the futures that must be confirmed before this one,
// in declaration order.
func (f *Future) Dependencies() []*Future {
	cp := make([]*Future, len(f.deps))
	copy(cp, f.deps)
	return cp
}

// Fingerprint identifies the declaration content; a journaled future whose
// fingerprint differs was declared differently when it ran.
func (f *Future) Fingerprint() string {
	return f.fingerprint
}

// inputs returns the ABI inputs the arguments are encoded against.
func (f *Future) inputs() abi.Arguments {
	if f.kind == Deploy {
		return f.artifact.ABI.Constructor.Inputs
	}
	return f.method.Inputs
}

// methodName is used in argument errors.
func (f *Future) methodName() string {
	if f.kind == Deploy {
		return f.artifact.Name + ".constructor"
	}
	return f.artifact.Name + "." + f.method.Name
}

// Plan is an immutable, dependency-ordered set of futures.
type Plan struct {
	id     string
	module string
	order  []*Future
	byName map[string]*Future
}

// ID returns the plan identity used to key journal records.
func (p *Plan) ID() string {
	return p.id
}

// Module returns the module name prefixing future IDs.
func (p *Plan) Module() string {
	return p.module
}

// Len returns the number of futures.
func (p *Plan) Len() int {
	return len(p.order)
}

// Futures returns the futures in resolved order.
func (p *Plan) Futures() []*Future {
	cp := make([]*Future, len(p.order))
	copy(cp, p.order)
	return cp
}

// Future returns the future declared under name.
func (p *Plan) Future(name string) (*Future, bool) {
	f, ok := p.byName[name]
	return f, ok
}

// ForEachFuture iterates in resolved order. Return false to stop iteration.
func (p *Plan) ForEachFuture(fn func(int, *Future) bool) {
	for i, f := range p.order {
		if !fn(i, f) {
			return
		}
	}
}
