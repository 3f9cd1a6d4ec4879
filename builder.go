package deployer

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// Declaration describes one action by name. References to other
// declarations are expressed with Ref/RefField and build-time inputs with
// Param; any other value is a literal.
type Declaration struct {
	Name string
	Kind Kind

	// Contract is the artifact to deploy (Deploy), or the ABI of the target
	// (Call/StaticCall). It may be omitted for calls whose Target references
	// a Deploy declaration.
	Contract string

	// Target is the called address for Call/StaticCall.
	Target any

	// Function is a method name or full signature for Call/StaticCall.
	Function string

	Args  []any
	From  any
	Value any

	// After lists declarations that must be confirmed first even though no
	// argument references them.
	After []string
}

// Builder turns declarations into a Plan. It performs no network access.
type Builder struct {
	cfg   *builderConfig
	decls []Declaration
	names map[string]struct{}
}

// NewBuilder creates a new Builder with the given options.
func NewBuilder(opts ...BuilderOption) *Builder {
	cfg := defaultBuilderConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return &Builder{
		cfg:   cfg,
		decls: make([]Declaration, 0, 16),
		names: make(map[string]struct{}),
	}
}

// Add appends a declaration. Names must be unique within the builder.
func (b *Builder) Add(d Declaration) error {
	if d.Name == "" {
		return &DeclarationError{Name: d.Name, Err: fmt.Errorf("%w: empty name", ErrInvalidDeclaration)}
	}
	if strings.ContainsAny(d.Name, "#.") {
		return &DeclarationError{Name: d.Name, Err: fmt.Errorf("%w: name may not contain '#' or '.'", ErrInvalidDeclaration)}
	}
	if _, dup := b.names[d.Name]; dup {
		return &DeclarationError{Name: d.Name, Err: ErrDuplicateDeclaration}
	}
	b.names[d.Name] = struct{}{}
	b.decls = append(b.decls, d)
	return nil
}

// Deploy declares a contract deployment.
func (b *Builder) Deploy(name, contract string, args ...any) error {
	return b.Add(Declaration{Name: name, Kind: Deploy, Contract: contract, Args: args})
}

// Call declares a state-changing call on target.
func (b *Builder) Call(name string, target any, function string, args ...any) error {
	return b.Add(Declaration{Name: name, Kind: Call, Target: target, Function: function, Args: args})
}

// StaticCall declares a read-only call on target.
func (b *Builder) StaticCall(name string, target any, function string, args ...any) error {
	return b.Add(Declaration{Name: name, Kind: StaticCall, Target: target, Function: function, Args: args})
}

// Len returns the number of declarations added so far.
func (b *Builder) Len() int {
	return len(b.decls)
}

// Build binds references, checks every declaration against its artifact
// and returns the dependency-ordered Plan. Errors are structural and are
// reported before anything executes.
func (b *Builder) Build() (*Plan, error) {
	plan := &Plan{
		id:     b.cfg.planID,
		module: b.cfg.module,
		byName: make(map[string]*Future, len(b.decls)),
	}
	if plan.id == "" {
		plan.id = plan.module
	}

	futures := make([]*Future, len(b.decls))
	for i, d := range b.decls {
		futures[i] = &Future{
			id:    plan.module + "#" + d.Name,
			name:  d.Name,
			kind:  d.Kind,
			index: i,
		}
		plan.byName[d.Name] = futures[i]
	}

	// Deploy artifacts first: calls may take their ABI from a referenced deployment.
	for i, d := range b.decls {
		if d.Kind != Deploy {
			continue
		}
		if err := b.bindDeploy(futures[i], d); err != nil {
			return nil, &DeclarationError{Name: d.Name, Err: err}
		}
	}

	for i, d := range b.decls {
		f := futures[i]
		if err := b.bindArguments(f, d, plan.byName); err != nil {
			return nil, &DeclarationError{Name: d.Name, Err: err}
		}
		if d.Kind != Deploy {
			if err := b.bindCall(f, d); err != nil {
				return nil, &DeclarationError{Name: d.Name, Err: err}
			}
		}
		if n := len(f.inputs()); len(f.args) != n {
			return nil, &DeclarationError{Name: d.Name, Err: &ArgumentError{
				Method: f.methodName(),
				Index:  len(f.args),
				Err:    fmt.Errorf("%w: want %d, got %d", ErrArgumentCount, n, len(f.args)),
			}}
		}
		f.fingerprint = fingerprint(f)
	}

	order, err := resolve(futures)
	if err != nil {
		return nil, err
	}
	plan.order = order
	return plan, nil
}

func (b *Builder) bindDeploy(f *Future, d Declaration) error {
	if d.Contract == "" {
		return fmt.Errorf("%w: deploy needs a contract", ErrInvalidDeclaration)
	}
	if d.Target != nil || d.Function != "" {
		return fmt.Errorf("%w: deploy takes no target or function", ErrInvalidDeclaration)
	}
	a, ok := b.cfg.artifacts.Artifact(d.Contract)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownContract, d.Contract)
	}
	if len(a.Bytecode) == 0 {
		return fmt.Errorf("%w: %s has no bytecode", ErrInvalidDeclaration, d.Contract)
	}
	f.artifact = a
	return nil
}

func (b *Builder) bindCall(f *Future, d Declaration) error {
	if d.Kind != Call && d.Kind != StaticCall {
		return fmt.Errorf("%w: unknown kind %s", ErrInvalidDeclaration, d.Kind)
	}
	if f.target == nil {
		return fmt.Errorf("%w: %s needs a target", ErrInvalidDeclaration, d.Kind)
	}
	if d.Function == "" {
		return fmt.Errorf("%w: %s needs a function", ErrInvalidDeclaration, d.Kind)
	}

	switch {
	case d.Contract != "":
		a, ok := b.cfg.artifacts.Artifact(d.Contract)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownContract, d.Contract)
		}
		f.artifact = a
	default:
		ref, ok := f.target.(*Reference)
		if !ok || ref.Field != "" || ref.future.kind != Deploy {
			return fmt.Errorf("%w: contract is required unless target references a deployment", ErrInvalidDeclaration)
		}
		f.artifact = ref.future.artifact
	}

	m, err := f.artifact.Method(d.Function)
	if err != nil {
		return err
	}
	f.method = m
	return nil
}

// bindArguments converts raw values to Arguments, substitutes parameters
// and points references at their futures.
func (b *Builder) bindArguments(f *Future, d Declaration, byName map[string]*Future) error {
	deps := make(map[*Future]struct{})

	bind := func(v any) (Argument, error) {
		if v == nil {
			return nil, nil
		}
		arg := toArgument(v)
		if p, ok := arg.(*Parameter); ok {
			val, ok := b.cfg.parameters[p.Name]
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnknownParameter, p.Name)
			}
			arg = toArgument(val)
		}
		if lit, ok := arg.(*Literal); ok && nestsArgument(lit.value) {
			return nil, fmt.Errorf("%w: references and parameters must be top-level arguments", ErrInvalidDeclaration)
		}
		if r, ok := arg.(*Reference); ok {
			target, ok := byName[r.Name]
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnknownReference, r.Name)
			}
			deps[target] = struct{}{}
			return &Reference{Name: r.Name, Field: r.Field, future: target}, nil
		}
		return arg, nil
	}

	var err error
	if d.Kind != Deploy {
		if f.target, err = bind(d.Target); err != nil {
			return fmt.Errorf("target: %w", err)
		}
	}
	if f.from, err = bind(d.From); err != nil {
		return fmt.Errorf("from: %w", err)
	}
	if f.value, err = bind(d.Value); err != nil {
		return fmt.Errorf("value: %w", err)
	}
	f.args = make([]Argument, len(d.Args))
	for i, raw := range d.Args {
		if raw == nil {
			return fmt.Errorf("argument %d: %w: nil", i, ErrInvalidDeclaration)
		}
		if f.args[i], err = bind(raw); err != nil {
			return fmt.Errorf("argument %d: %w", i, err)
		}
	}
	for _, name := range d.After {
		target, ok := byName[name]
		if !ok {
			return fmt.Errorf("after: %w: %s", ErrUnknownReference, name)
		}
		deps[target] = struct{}{}
		f.after = append(f.after, target)
	}

	f.deps = make([]*Future, 0, len(deps))
	for dep := range deps {
		f.deps = append(f.deps, dep)
	}
	sort.Slice(f.deps, func(i, j int) bool { return f.deps[i].index < f.deps[j].index })
	return nil
}

func nestsArgument(v any) bool {
	items, ok := v.([]any)
	if !ok {
		return false
	}
	for _, item := range items {
		if _, ok := item.(Argument); ok {
			return true
		}
		if nestsArgument(item) {
			return true
		}
	}
	return false
}

// fingerprint hashes the declaration content that determines what the
// future does on chain.
func fingerprint(f *Future) string {
	var sb strings.Builder
	sb.WriteString(f.kind.String())
	sb.WriteByte('|')
	sb.WriteString(f.artifact.Name)
	sb.WriteByte('|')
	if f.kind == Deploy {
		sb.WriteString(crypto.Keccak256Hash(f.artifact.Bytecode).Hex())
	} else {
		sb.WriteString(f.method.Sig)
	}
	writeArg := func(a Argument) {
		sb.WriteByte('|')
		if a != nil {
			sb.WriteString(a.String())
		}
	}
	writeArg(f.target)
	for _, a := range f.args {
		writeArg(a)
	}
	writeArg(f.from)
	writeArg(f.value)
	for _, dep := range f.after {
		sb.WriteString("|after:" + dep.name)
	}
	return crypto.Keccak256Hash([]byte(sb.String())).Hex()
}

// IsDeclarationError reports whether err came from plan construction rather
// than execution.
func IsDeclarationError(err error) bool {
	var de *DeclarationError
	var ce *CycleError
	return errors.As(err, &de) || errors.As(err, &ce)
}
