package declfile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"

	deployer "github.com/branched-services/go-deployer"
)

type jsonDecl struct {
	Kind     string            `json:"kind"`
	Contract string            `json:"contract"`
	Target   json.RawMessage   `json:"target"`
	Function string            `json:"function"`
	Args     []json.RawMessage `json:"args"`
	From     json.RawMessage   `json:"from"`
	Value    json.RawMessage   `json:"value"`
	After    []string          `json:"after"`
}

// ParseJSON decodes declarations from a JSON object, keeping key order.
func ParseJSON(data []byte) ([]deployer.Declaration, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}

	var decls []deployer.Declaration
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFormat, err)
		}
		name := tok.(string)

		var raw jsonDecl
		if err := dec.Decode(&raw); err != nil {
			return nil, formatError(name, "%v", err)
		}
		decl, err := raw.declaration(name)
		if err != nil {
			return nil, err
		}
		decls = append(decls, decl)
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	return decls, nil
}

func (j jsonDecl) declaration(name string) (deployer.Declaration, error) {
	kind, ok := deployer.ParseKind(j.Kind)
	if !ok {
		return deployer.Declaration{}, formatError(name, "unknown kind %q", j.Kind)
	}
	d := deployer.Declaration{
		Name:     name,
		Kind:     kind,
		Contract: j.Contract,
		Function: j.Function,
		After:    j.After,
	}

	var err error
	if d.Target, err = decodeArgument(j.Target, true); err != nil {
		return d, formatError(name, "target: %v", err)
	}
	if d.From, err = decodeArgument(j.From, true); err != nil {
		return d, formatError(name, "from: %v", err)
	}
	if d.Value, err = decodeArgument(j.Value, true); err != nil {
		return d, formatError(name, "value: %v", err)
	}
	for i, raw := range j.Args {
		arg, err := decodeArgument(raw, true)
		if err != nil {
			return d, formatError(name, "argument %d: %v", i, err)
		}
		d.Args = append(d.Args, arg)
	}
	return d, nil
}

// ParseParameters decodes a JSON parameters object. Integers become
// *big.Int so large amounts keep full precision.
func ParseParameters(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: parameters: %v", ErrFormat, err)
	}
	params := make(map[string]any, len(raw))
	for k, v := range raw {
		converted, err := convertJSON(v, false)
		if err != nil {
			return nil, fmt.Errorf("%w: parameter %s: %v", ErrFormat, k, err)
		}
		params[k] = converted
	}
	return params, nil
}

// decodeArgument decodes one argument. An absent value is nil.
func decodeArgument(raw json.RawMessage, topLevel bool) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return convertJSON(v, topLevel)
}

// convertJSON turns decoded JSON into builder arguments. Placeholders are
// only recognized where topLevel is set.
func convertJSON(v any, topLevel bool) (any, error) {
	switch x := v.(type) {
	case json.Number:
		return parseInteger(x.String())
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			c, err := convertJSON(e, false)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	case map[string]any:
		if !topLevel {
			return nil, fmt.Errorf("objects are only allowed as top-level placeholders")
		}
		return placeholder(x)
	default:
		return v, nil
	}
}

func placeholder(m map[string]any) (any, error) {
	if ref, ok := m["ref"].(string); ok {
		field, _ := m["field"].(string)
		if len(m) > 2 || (len(m) == 2 && field == "") {
			return nil, fmt.Errorf("ref placeholder takes only ref and field")
		}
		if field != "" {
			return deployer.RefField(ref, field), nil
		}
		return deployer.Ref(ref), nil
	}
	if param, ok := m["param"].(string); ok && len(m) == 1 {
		return deployer.Param(param), nil
	}
	return nil, fmt.Errorf("expected {\"ref\": name} or {\"param\": name}")
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("%w: expected %q, got %v", ErrFormat, want, tok)
	}
	return nil
}

// maxIntegerBits is the widest ABI integer.
const maxIntegerBits = 256

// parseInteger accepts plain decimal integers and integral exponent
// forms such as 1e18.
func parseInteger(s string) (*big.Int, error) {
	if n, ok := new(big.Int).SetString(s, 10); ok {
		return n, nil
	}
	f, ok := new(big.Float).SetPrec(512).SetString(s)
	if !ok {
		return nil, fmt.Errorf("%s is not an integer", s)
	}
	return floatToInteger(f, s)
}

// floatToInteger converts an integral f, refusing values wider than any
// ABI integer before they are expanded.
func floatToInteger(f *big.Float, text string) (*big.Int, error) {
	if f.IsInf() || !f.IsInt() {
		return nil, fmt.Errorf("%s is not an integer", text)
	}
	if f.MantExp(nil) > maxIntegerBits {
		return nil, fmt.Errorf("%s exceeds %d bits", text, maxIntegerBits)
	}
	n, _ := f.Int(nil)
	return n, nil
}
