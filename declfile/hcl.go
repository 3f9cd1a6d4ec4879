package declfile

import (
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	deployer "github.com/branched-services/go-deployer"
)

var fileSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "deploy", LabelNames: []string{"name"}},
		{Type: "call", LabelNames: []string{"name"}},
		{Type: "static_call", LabelNames: []string{"name"}},
	},
}

var declSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "contract"},
		{Name: "target"},
		{Name: "function"},
		{Name: "args"},
		{Name: "from"},
		{Name: "value"},
		{Name: "after"},
	},
}

// ParseHCL decodes declarations from HCL source. Blocks are declarations
// in source order.
func ParseHCL(src []byte, filename string) ([]deployer.Declaration, error) {
	file, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w: %s", ErrFormat, diags.Error())
	}

	content, diags := file.Body.Content(fileSchema)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w: %s", ErrFormat, diags.Error())
	}

	decls := make([]deployer.Declaration, 0, len(content.Blocks))
	for _, block := range content.Blocks {
		decl, err := decodeBlock(block)
		if err != nil {
			return nil, err
		}
		decls = append(decls, decl)
	}
	return decls, nil
}

func decodeBlock(block *hcl.Block) (deployer.Declaration, error) {
	name := block.Labels[0]
	kind, _ := deployer.ParseKind(block.Type)
	d := deployer.Declaration{Name: name, Kind: kind}

	content, diags := block.Body.Content(declSchema)
	if diags.HasErrors() {
		return d, formatError(name, "%s", diags.Error())
	}
	attrs := content.Attributes

	var err error
	if attr, ok := attrs["contract"]; ok {
		if d.Contract, err = stringAttr(attr); err != nil {
			return d, formatError(name, "contract: %v", err)
		}
	}
	if attr, ok := attrs["function"]; ok {
		if d.Function, err = stringAttr(attr); err != nil {
			return d, formatError(name, "function: %v", err)
		}
	}
	for _, field := range []struct {
		name string
		dst  *any
	}{
		{"target", &d.Target},
		{"from", &d.From},
		{"value", &d.Value},
	} {
		if attr, ok := attrs[field.name]; ok {
			if *field.dst, err = exprArgument(attr.Expr); err != nil {
				return d, formatError(name, "%s: %v", field.name, err)
			}
		}
	}

	if attr, ok := attrs["args"]; ok {
		exprs, diags := hcl.ExprList(attr.Expr)
		if diags.HasErrors() {
			return d, formatError(name, "args: %s", diags.Error())
		}
		for i, expr := range exprs {
			arg, err := exprArgument(expr)
			if err != nil {
				return d, formatError(name, "argument %d: %v", i, err)
			}
			d.Args = append(d.Args, arg)
		}
	}

	if attr, ok := attrs["after"]; ok {
		if d.After, err = afterList(attr.Expr); err != nil {
			return d, formatError(name, "after: %v", err)
		}
	}
	return d, nil
}

// exprArgument converts a top-level expression: future.<name>[.<field>]
// becomes a reference, param.<name> a parameter, anything else a literal.
func exprArgument(expr hcl.Expression) (any, error) {
	if traversal, diags := hcl.AbsTraversalForExpr(expr); !diags.HasErrors() {
		return traversalArgument(traversal)
	}
	if len(expr.Variables()) > 0 {
		return nil, fmt.Errorf("references must be whole arguments, not nested in %s", expr.Range())
	}
	v, diags := expr.Value(nil)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%s", diags.Error())
	}
	return ctyToGo(v)
}

func traversalArgument(t hcl.Traversal) (any, error) {
	var parts []string
	for _, step := range t {
		switch s := step.(type) {
		case hcl.TraverseRoot:
			parts = append(parts, s.Name)
		case hcl.TraverseAttr:
			parts = append(parts, s.Name)
		default:
			return nil, fmt.Errorf("unsupported traversal at %s", t.SourceRange())
		}
	}

	switch {
	case parts[0] == "future" && len(parts) == 2:
		return deployer.Ref(parts[1]), nil
	case parts[0] == "future" && len(parts) == 3:
		return deployer.RefField(parts[1], parts[2]), nil
	case parts[0] == "param" && len(parts) == 2:
		return deployer.Param(parts[1]), nil
	}
	return nil, fmt.Errorf("unknown reference %s; expected future.<name>[.<field>] or param.<name>", strings.Join(parts, "."))
}

func afterList(expr hcl.Expression) ([]string, error) {
	exprs, diags := hcl.ExprList(expr)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%s", diags.Error())
	}
	names := make([]string, 0, len(exprs))
	for _, e := range exprs {
		if traversal, diags := hcl.AbsTraversalForExpr(e); !diags.HasErrors() {
			attr, ok := traversal[len(traversal)-1].(hcl.TraverseAttr)
			if traversal.RootName() != "future" || len(traversal) != 2 || !ok {
				return nil, fmt.Errorf("expected future.<name> at %s", e.Range())
			}
			names = append(names, attr.Name)
			continue
		}
		v, diags := e.Value(nil)
		if diags.HasErrors() || v.Type() != cty.String || v.IsNull() {
			return nil, fmt.Errorf("expected a name at %s", e.Range())
		}
		names = append(names, v.AsString())
	}
	return names, nil
}

func stringAttr(attr *hcl.Attribute) (string, error) {
	v, diags := attr.Expr.Value(nil)
	if diags.HasErrors() {
		return "", fmt.Errorf("%s", diags.Error())
	}
	if v.Type() != cty.String || v.IsNull() {
		return "", fmt.Errorf("expected a string, got %s", v.Type().FriendlyName())
	}
	return v.AsString(), nil
}

// ctyToGo converts literal values: numbers to *big.Int, tuples and lists
// to []any.
func ctyToGo(v cty.Value) (any, error) {
	if v.IsNull() {
		return nil, nil
	}
	if !v.IsKnown() {
		return nil, fmt.Errorf("value is not known")
	}

	ty := v.Type()
	switch {
	case ty == cty.String:
		return v.AsString(), nil
	case ty == cty.Bool:
		return v.True(), nil
	case ty == cty.Number:
		bf := v.AsBigFloat()
		return floatToInteger(bf, bf.Text('g', -1))
	case ty.IsTupleType() || ty.IsListType():
		out := make([]any, 0, v.LengthInt())
		for _, e := range v.AsValueSlice() {
			c, err := ctyToGo(e)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported value of type %s", ty.FriendlyName())
}
