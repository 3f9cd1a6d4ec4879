package deployer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"
	"strconv"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Argument is an input to a declaration: either a literal known at build time
// or a placeholder resolved later. This is a sealed interface.
type Argument interface {
	// isArgument is unexported to seal the interface.
	isArgument()

	// String renders the argument for fingerprints and diagnostics.
	String() string
}

// Literal is a constant value. Go values are coerced to the parameter's ABI
// type only when the action is encoded.
type Literal struct {
	value any
}

func (l *Literal) isArgument() {}

// Value returns the wrapped Go value.
func (l *Literal) Value() any {
	return l.value
}

func (l *Literal) String() string {
	switch v := l.value.(type) {
	case nil:
		return "null"
	case common.Address:
		return v.Hex()
	case []byte:
		return hexutil.Encode(v)
	case *big.Int:
		return v.String()
	case []any:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, elem := range v {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.WriteString(toArgument(elem).String())
		}
		buf.WriteByte(']')
		return buf.String()
	case string:
		return strconv.Quote(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Reference points at another declaration's resolved value, optionally
// selecting a named field when that value is a struct.
type Reference struct {
	Name  string
	Field string

	future *Future // bound by the Builder
}

func (r *Reference) isArgument() {}

// Future returns the future this reference is bound to, or nil before Build.
func (r *Reference) Future() *Future {
	return r.future
}

func (r *Reference) String() string {
	if r.Field != "" {
		return "ref(" + r.Name + "." + r.Field + ")"
	}
	return "ref(" + r.Name + ")"
}

// Parameter is replaced by a caller-supplied value at build time.
type Parameter struct {
	Name string
}

func (p *Parameter) isArgument() {}

func (p *Parameter) String() string {
	return "param(" + p.Name + ")"
}

// Lit wraps a Go value as a literal argument.
func Lit(v any) *Literal {
	return &Literal{value: v}
}

// Ref references the resolved value of the named declaration.
func Ref(name string) *Reference {
	return &Reference{Name: name}
}

// RefField references one field of the named declaration's struct result.
func RefField(name, field string) *Reference {
	return &Reference{Name: name, Field: field}
}

// Param references a build-time parameter.
func Param(name string) *Parameter {
	return &Parameter{Name: name}
}

// toArgument converts any value to an Argument, wrapping plain values as literals.
func toArgument(v any) Argument {
	if arg, ok := v.(Argument); ok {
		return arg
	}
	return Lit(v)
}

// ValueKind tags the variant held by a ResolvedValue.
type ValueKind uint8

const (
	// ValueUnit is the result of an action that returns nothing.
	ValueUnit ValueKind = iota

	// ValueAddress holds an address, e.g. a deployed contract.
	ValueAddress

	// ValueScalar holds a *big.Int, bool or string.
	ValueScalar

	// ValueBytes holds a byte sequence.
	ValueBytes

	// ValueStruct holds ordered, optionally named fields.
	ValueStruct
)

var valueKindNames = [...]string{"unit", "address", "scalar", "bytes", "struct"}

func (k ValueKind) String() string {
	if int(k) < len(valueKindNames) {
		return valueKindNames[k]
	}
	return "ValueKind(" + strconv.Itoa(int(k)) + ")"
}

// Field is one member of a struct ResolvedValue.
type Field struct {
	Name  string
	Value ResolvedValue
}

// ResolvedValue is the concrete outcome of a confirmed future.
// Values are immutable; accessors return copies of mutable data.
type ResolvedValue struct {
	kind    ValueKind
	address common.Address
	scalar  any
	bytes   []byte
	fields  []Field
}

// UnitValue returns the empty result.
func UnitValue() ResolvedValue {
	return ResolvedValue{kind: ValueUnit}
}

// AddressValue wraps an address.
func AddressValue(addr common.Address) ResolvedValue {
	return ResolvedValue{kind: ValueAddress, address: addr}
}

// ScalarValue wraps a *big.Int, bool or string. Other integer kinds are
// widened to *big.Int.
func ScalarValue(v any) (ResolvedValue, error) {
	switch s := v.(type) {
	case *big.Int:
		return ResolvedValue{kind: ValueScalar, scalar: new(big.Int).Set(s)}, nil
	case bool, string:
		return ResolvedValue{kind: ValueScalar, scalar: s}, nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return ResolvedValue{kind: ValueScalar, scalar: big.NewInt(rv.Int())}, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return ResolvedValue{kind: ValueScalar, scalar: new(big.Int).SetUint64(rv.Uint())}, nil
	}
	return ResolvedValue{}, &TypeMismatchError{Expected: "scalar", Got: fmt.Sprintf("%T", v)}
}

// BytesValue wraps a copy of b.
func BytesValue(b []byte) ResolvedValue {
	return ResolvedValue{kind: ValueBytes, bytes: common.CopyBytes(b)}
}

// StructValue wraps ordered fields.
func StructValue(fields ...Field) ResolvedValue {
	cp := make([]Field, len(fields))
	copy(cp, fields)
	return ResolvedValue{kind: ValueStruct, fields: cp}
}

// Kind returns the variant tag.
func (v ResolvedValue) Kind() ValueKind {
	return v.kind
}

// Address returns the address held by an address value.
func (v ResolvedValue) Address() (common.Address, bool) {
	return v.address, v.kind == ValueAddress
}

// Scalar returns the scalar held by a scalar value.
func (v ResolvedValue) Scalar() (any, bool) {
	if v.kind != ValueScalar {
		return nil, false
	}
	if n, ok := v.scalar.(*big.Int); ok {
		return new(big.Int).Set(n), true
	}
	return v.scalar, true
}

// BigInt returns the integer held by a numeric scalar value.
func (v ResolvedValue) BigInt() (*big.Int, bool) {
	n, ok := v.scalar.(*big.Int)
	if !ok || v.kind != ValueScalar {
		return nil, false
	}
	return new(big.Int).Set(n), true
}

// Bytes returns a copy of the bytes held by a bytes value.
func (v ResolvedValue) Bytes() ([]byte, bool) {
	return common.CopyBytes(v.bytes), v.kind == ValueBytes
}

// Fields returns a copy of the fields of a struct value.
func (v ResolvedValue) Fields() []Field {
	cp := make([]Field, len(v.fields))
	copy(cp, v.fields)
	return cp
}

// Field looks up a struct field by name, or by position when name is a
// decimal index.
func (v ResolvedValue) Field(name string) (ResolvedValue, bool) {
	if v.kind != ValueStruct {
		return ResolvedValue{}, false
	}
	for _, f := range v.fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	if i, err := strconv.Atoi(name); err == nil && i >= 0 && i < len(v.fields) {
		return v.fields[i].Value, true
	}
	return ResolvedValue{}, false
}

// Equal reports whether two values hold the same variant and content.
func (v ResolvedValue) Equal(o ResolvedValue) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case ValueUnit:
		return true
	case ValueAddress:
		return v.address == o.address
	case ValueBytes:
		return bytes.Equal(v.bytes, o.bytes)
	case ValueScalar:
		a, aok := v.scalar.(*big.Int)
		b, bok := o.scalar.(*big.Int)
		if aok && bok {
			return a.Cmp(b) == 0
		}
		return v.scalar == o.scalar
	case ValueStruct:
		if len(v.fields) != len(o.fields) {
			return false
		}
		for i := range v.fields {
			if v.fields[i].Name != o.fields[i].Name || !v.fields[i].Value.Equal(o.fields[i].Value) {
				return false
			}
		}
		return true
	}
	return false
}

// GoValue returns the value in the shape accepted by argument coercion:
// common.Address, *big.Int, bool, string, []byte, or []any for structs.
func (v ResolvedValue) GoValue() any {
	switch v.kind {
	case ValueAddress:
		return v.address
	case ValueScalar:
		s, _ := v.Scalar()
		return s
	case ValueBytes:
		return common.CopyBytes(v.bytes)
	case ValueStruct:
		out := make([]any, len(v.fields))
		for i, f := range v.fields {
			out[i] = f.Value.GoValue()
		}
		return out
	default:
		return nil
	}
}

func (v ResolvedValue) String() string {
	switch v.kind {
	case ValueUnit:
		return "()"
	case ValueAddress:
		return v.address.Hex()
	case ValueBytes:
		return hexutil.Encode(v.bytes)
	case ValueScalar:
		if s, ok := v.scalar.(string); ok {
			return strconv.Quote(s)
		}
		return fmt.Sprintf("%v", v.scalar)
	case ValueStruct:
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, f := range v.fields {
			if i > 0 {
				buf.WriteString(", ")
			}
			if f.Name != "" {
				buf.WriteString(f.Name)
				buf.WriteString(": ")
			}
			buf.WriteString(f.Value.String())
		}
		buf.WriteByte('}')
		return buf.String()
	}
	return "?"
}

// jsonValue is the persisted form of a ResolvedValue.
type jsonValue struct {
	Kind   string      `json:"kind"`
	Type   string      `json:"type,omitempty"`
	Value  string      `json:"value,omitempty"`
	Fields []jsonField `json:"fields,omitempty"`
}

type jsonField struct {
	Name  string        `json:"name,omitempty"`
	Value ResolvedValue `json:"value"`
}

// MarshalJSON implements json.Marshaler.
func (v ResolvedValue) MarshalJSON() ([]byte, error) {
	out := jsonValue{Kind: v.kind.String()}
	switch v.kind {
	case ValueAddress:
		out.Value = v.address.Hex()
	case ValueBytes:
		out.Value = hexutil.Encode(v.bytes)
	case ValueScalar:
		switch s := v.scalar.(type) {
		case *big.Int:
			out.Type, out.Value = "int", s.String()
		case bool:
			out.Type, out.Value = "bool", strconv.FormatBool(s)
		case string:
			out.Type, out.Value = "string", s
		}
	case ValueStruct:
		out.Fields = make([]jsonField, len(v.fields))
		for i, f := range v.fields {
			out.Fields[i] = jsonField{Name: f.Name, Value: f.Value}
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *ResolvedValue) UnmarshalJSON(data []byte) error {
	var in jsonValue
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch in.Kind {
	case "unit", "":
		*v = UnitValue()
	case "address":
		if !common.IsHexAddress(in.Value) {
			return fmt.Errorf("deployer: invalid address %q", in.Value)
		}
		*v = AddressValue(common.HexToAddress(in.Value))
	case "bytes":
		b, err := hexutil.Decode(in.Value)
		if err != nil {
			return fmt.Errorf("deployer: invalid bytes value: %w", err)
		}
		*v = BytesValue(b)
	case "scalar":
		switch in.Type {
		case "int":
			n, ok := new(big.Int).SetString(in.Value, 10)
			if !ok {
				return fmt.Errorf("deployer: invalid integer %q", in.Value)
			}
			*v = ResolvedValue{kind: ValueScalar, scalar: n}
		case "bool":
			b, err := strconv.ParseBool(in.Value)
			if err != nil {
				return fmt.Errorf("deployer: invalid bool %q", in.Value)
			}
			*v = ResolvedValue{kind: ValueScalar, scalar: b}
		default:
			*v = ResolvedValue{kind: ValueScalar, scalar: in.Value}
		}
	case "struct":
		fields := make([]Field, len(in.Fields))
		for i, f := range in.Fields {
			fields[i] = Field{Name: f.Name, Value: f.Value}
		}
		*v = ResolvedValue{kind: ValueStruct, fields: fields}
	default:
		return fmt.Errorf("deployer: unknown value kind %q", in.Kind)
	}
	return nil
}

// valueFromABI converts a decoded ABI value of type t into a ResolvedValue.
func valueFromABI(t abi.Type, v any) (ResolvedValue, error) {
	switch t.T {
	case abi.AddressTy:
		addr, ok := v.(common.Address)
		if !ok {
			return ResolvedValue{}, &TypeMismatchError{Expected: "address", Got: fmt.Sprintf("%T", v)}
		}
		return AddressValue(addr), nil

	case abi.IntTy, abi.UintTy, abi.BoolTy, abi.StringTy:
		return ScalarValue(v)

	case abi.BytesTy:
		b, ok := v.([]byte)
		if !ok {
			return ResolvedValue{}, &TypeMismatchError{Expected: "bytes", Got: fmt.Sprintf("%T", v)}
		}
		return BytesValue(b), nil

	case abi.FixedBytesTy, abi.HashTy, abi.FunctionTy:
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Array {
			return ResolvedValue{}, &TypeMismatchError{Expected: t.String(), Got: fmt.Sprintf("%T", v)}
		}
		b := make([]byte, rv.Len())
		reflect.Copy(reflect.ValueOf(b), rv)
		return BytesValue(b), nil

	case abi.SliceTy, abi.ArrayTy:
		rv := reflect.ValueOf(v)
		fields := make([]Field, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			elem, err := valueFromABI(*t.Elem, rv.Index(i).Interface())
			if err != nil {
				return ResolvedValue{}, err
			}
			fields[i] = Field{Value: elem}
		}
		return StructValue(fields...), nil

	case abi.TupleTy:
		rv := reflect.Indirect(reflect.ValueOf(v))
		if rv.Kind() != reflect.Struct {
			return ResolvedValue{}, &TypeMismatchError{Expected: t.String(), Got: fmt.Sprintf("%T", v)}
		}
		fields := make([]Field, len(t.TupleElems))
		for i, elemType := range t.TupleElems {
			elem, err := valueFromABI(*elemType, rv.Field(i).Interface())
			if err != nil {
				return ResolvedValue{}, err
			}
			name := ""
			if i < len(t.TupleRawNames) {
				name = t.TupleRawNames[i]
			}
			fields[i] = Field{Name: name, Value: elem}
		}
		return StructValue(fields...), nil
	}

	return ResolvedValue{}, &TypeMismatchError{Expected: "supported ABI type", Got: t.String()}
}

// valueFromOutputs decodes return data against a method's outputs.
// No outputs yields unit, a single output yields that value, and several
// outputs yield a struct keyed by output name.
func valueFromOutputs(outputs abi.Arguments, data []byte) (ResolvedValue, error) {
	if len(outputs) == 0 {
		return UnitValue(), nil
	}
	decoded, err := outputs.Unpack(data)
	if err != nil {
		return ResolvedValue{}, fmt.Errorf("deployer: decode return data: %w", err)
	}
	if len(decoded) == 1 {
		return valueFromABI(outputs[0].Type, decoded[0])
	}
	fields := make([]Field, len(decoded))
	for i, d := range decoded {
		val, err := valueFromABI(outputs[i].Type, d)
		if err != nil {
			return ResolvedValue{}, err
		}
		fields[i] = Field{Name: outputs[i].Name, Value: val}
	}
	return StructValue(fields...), nil
}
