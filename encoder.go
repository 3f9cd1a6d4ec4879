package deployer

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// coerce converts a Go value to the exact representation go-ethereum packs
// for t. Integers are checked against the type's bit width and byte strings
// against fixed sizes; values that don't fit fail with ErrArgumentOverflow
// instead of being truncated.
//
// Accepted inputs:
//   - integers: *big.Int, any Go int/uint kind, json.Number, integral
//     float64, decimal or 0x-prefixed hex strings
//   - address: common.Address, [20]byte, 0x-prefixed hex string
//   - bool: bool, "true"/"false"
//   - string: string
//   - bytes/bytesN: []byte, [N]byte, common.Hash, 0x-prefixed hex string
//   - arrays and tuples: []any (tuples positionally) or any Go slice
func coerce(t abi.Type, v any) (any, error) {
	if rv, ok := v.(ResolvedValue); ok {
		v = rv.GoValue()
	}

	switch t.T {
	case abi.IntTy, abi.UintTy:
		n, err := toBigInt(v)
		if err != nil {
			return nil, err
		}
		if err := checkIntRange(t, n); err != nil {
			return nil, err
		}
		return packableInt(t, n), nil

	case abi.AddressTy:
		return toAddress(v)

	case abi.BoolTy:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			switch strings.ToLower(b) {
			case "true":
				return true, nil
			case "false":
				return false, nil
			}
		}
		return nil, &TypeMismatchError{Expected: "bool", Got: describe(v)}

	case abi.StringTy:
		s, ok := v.(string)
		if !ok {
			return nil, &TypeMismatchError{Expected: "string", Got: describe(v)}
		}
		return s, nil

	case abi.BytesTy:
		return toBytes(v)

	case abi.FixedBytesTy:
		b, err := toBytes(v)
		if err != nil {
			return nil, err
		}
		if len(b) > t.Size {
			return nil, fmt.Errorf("%w: %d bytes do not fit in %s", ErrArgumentOverflow, len(b), t.String())
		}
		arr := reflect.New(t.GetType()).Elem()
		reflect.Copy(arr, reflect.ValueOf(b))
		return arr.Interface(), nil

	case abi.SliceTy, abi.ArrayTy:
		elems, err := toSlice(v)
		if err != nil {
			return nil, &TypeMismatchError{Expected: t.String(), Got: describe(v)}
		}
		if t.T == abi.ArrayTy && len(elems) != t.Size {
			return nil, &TypeMismatchError{Expected: t.String(), Got: fmt.Sprintf("%d elements", len(elems))}
		}
		goType := t.GetType()
		var out reflect.Value
		if t.T == abi.ArrayTy {
			out = reflect.New(goType).Elem()
		} else {
			out = reflect.MakeSlice(goType, len(elems), len(elems))
		}
		for i, elem := range elems {
			c, err := coerce(*t.Elem, elem)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			if err := assign(out.Index(i), c); err != nil {
				return nil, err
			}
		}
		return out.Interface(), nil

	case abi.TupleTy:
		elems, err := toSlice(v)
		if err != nil || len(elems) != len(t.TupleElems) {
			return nil, &TypeMismatchError{Expected: t.String(), Got: describe(v)}
		}
		out := reflect.New(t.GetType()).Elem()
		for i, elemType := range t.TupleElems {
			c, err := coerce(*elemType, elems[i])
			if err != nil {
				return nil, fmt.Errorf("field %d: %w", i, err)
			}
			if err := assign(out.Field(i), c); err != nil {
				return nil, err
			}
		}
		return out.Interface(), nil
	}

	return nil, &TypeMismatchError{Expected: "supported ABI type", Got: t.String()}
}

// coerceArgs coerces every value against the matching input. Errors carry
// the argument index.
func coerceArgs(method string, inputs abi.Arguments, values []any) ([]any, error) {
	if len(values) != len(inputs) {
		return nil, &ArgumentError{Method: method, Index: len(values), Err: ErrArgumentCount}
	}
	out := make([]any, len(values))
	for i, v := range values {
		c, err := coerce(inputs[i].Type, v)
		if err != nil {
			return nil, &ArgumentError{Method: method, Index: i, Err: err}
		}
		out[i] = c
	}
	return out, nil
}

// checkIntRange validates n against the signedness and bit width of t.
func checkIntRange(t abi.Type, n *big.Int) error {
	if t.T == abi.UintTy {
		if n.Sign() < 0 || n.BitLen() > t.Size {
			return fmt.Errorf("%w: %s does not fit in %s", ErrArgumentOverflow, n, t.String())
		}
		return nil
	}
	limit := new(big.Int).Lsh(big.NewInt(1), uint(t.Size-1))
	minimum := new(big.Int).Neg(limit)
	if n.Cmp(minimum) < 0 || n.Cmp(limit) >= 0 {
		return fmt.Errorf("%w: %s does not fit in %s", ErrArgumentOverflow, n, t.String())
	}
	return nil
}

// packableInt returns n as the Go kind go-ethereum expects: intN/uintN for
// widths up to 64 bits, *big.Int above.
func packableInt(t abi.Type, n *big.Int) any {
	goType := t.GetType()
	if goType.Kind() == reflect.Ptr {
		return new(big.Int).Set(n)
	}
	out := reflect.New(goType).Elem()
	if t.T == abi.UintTy {
		out.SetUint(n.Uint64())
	} else {
		out.SetInt(n.Int64())
	}
	return out.Interface()
}

func toBigInt(v any) (*big.Int, error) {
	if rv, ok := v.(ResolvedValue); ok {
		v = rv.GoValue()
	}
	switch n := v.(type) {
	case *big.Int:
		if n == nil {
			return nil, &TypeMismatchError{Expected: "integer", Got: "nil"}
		}
		return new(big.Int).Set(n), nil
	case big.Int:
		return new(big.Int).Set(&n), nil
	case json.Number:
		return parseInteger(string(n))
	case string:
		return parseInteger(n)
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.IsNaN(n) {
			return nil, &TypeMismatchError{Expected: "integer", Got: fmt.Sprintf("%v", n)}
		}
		i, _ := new(big.Float).SetFloat64(n).Int(nil)
		return i, nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return big.NewInt(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return new(big.Int).SetUint64(rv.Uint()), nil
	}
	return nil, &TypeMismatchError{Expected: "integer", Got: describe(v)}
}

func parseInteger(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	neg := strings.HasPrefix(s, "-")
	digits := strings.TrimPrefix(s, "-")
	base := 10
	if strings.HasPrefix(digits, "0x") || strings.HasPrefix(digits, "0X") {
		digits, base = digits[2:], 16
	}
	if strings.HasPrefix(digits, "-") || strings.HasPrefix(digits, "+") {
		return nil, &TypeMismatchError{Expected: "integer", Got: fmt.Sprintf("%q", s)}
	}
	n, ok := new(big.Int).SetString(digits, base)
	if !ok || digits == "" {
		return nil, &TypeMismatchError{Expected: "integer", Got: fmt.Sprintf("%q", s)}
	}
	if neg {
		n.Neg(n)
	}
	return n, nil
}

func toAddress(v any) (common.Address, error) {
	if rv, ok := v.(ResolvedValue); ok {
		v = rv.GoValue()
	}
	switch a := v.(type) {
	case common.Address:
		return a, nil
	case [20]byte:
		return common.Address(a), nil
	case string:
		if !common.IsHexAddress(a) {
			return common.Address{}, &TypeMismatchError{Expected: "address", Got: fmt.Sprintf("%q", a)}
		}
		return common.HexToAddress(a), nil
	}
	return common.Address{}, &TypeMismatchError{Expected: "address", Got: describe(v)}
}

func toBytes(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return common.CopyBytes(b), nil
	case common.Hash:
		return b.Bytes(), nil
	case string:
		decoded, err := hexutil.Decode(b)
		if err != nil {
			return nil, &TypeMismatchError{Expected: "0x-prefixed hex bytes", Got: fmt.Sprintf("%q", b)}
		}
		return decoded, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Array && rv.Type().Elem().Kind() == reflect.Uint8 {
		out := make([]byte, rv.Len())
		reflect.Copy(reflect.ValueOf(out), rv)
		return out, nil
	}
	return nil, &TypeMismatchError{Expected: "bytes", Got: describe(v)}
}

func toSlice(v any) ([]any, error) {
	if s, ok := v.([]any); ok {
		return s, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, &TypeMismatchError{Expected: "list", Got: describe(v)}
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

// assign stores a coerced value into a reflect slot of the ABI Go type.
func assign(dst reflect.Value, v any) error {
	src := reflect.ValueOf(v)
	switch {
	case src.Type().AssignableTo(dst.Type()):
		dst.Set(src)
	case src.Type().ConvertibleTo(dst.Type()):
		dst.Set(src.Convert(dst.Type()))
	default:
		return &TypeMismatchError{Expected: dst.Type().String(), Got: src.Type().String()}
	}
	return nil
}

func describe(v any) string {
	if v == nil {
		return "nil"
	}
	return fmt.Sprintf("%T", v)
}
