// Package declfile loads deployment declarations and parameters from JSON
// and HCL files.
//
// JSON declarations are an object keyed by declaration name. Key order is
// declaration order:
//
//	{
//	  "token": {"kind": "deploy", "contract": "TetherToken",
//	            "args": [{"param": "supply"}, "Tether USD", "USD", 6],
//	            "from": {"param": "deployer"}},
//	  "xfer":  {"kind": "call", "target": {"ref": "token"}, "function": "transfer",
//	            "args": ["0x70997970C51812dc3A010C7d01b50e0d17dc79C8", 500],
//	            "from": {"param": "deployer"}}
//	}
//
// HCL declarations use one block per future:
//
//	deploy "token" {
//	  contract = "TetherToken"
//	  args     = [param.supply, "Tether USD", "USD", 6]
//	  from     = param.deployer
//	}
//
//	call "xfer" {
//	  target   = future.token
//	  function = "transfer"
//	  args     = ["0x70997970C51812dc3A010C7d01b50e0d17dc79C8", 500]
//	  from     = param.deployer
//	}
//
// References to a field of a struct result are written {"ref": "pair",
// "field": "reserve0"} or future.pair.reserve0.
package declfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	deployer "github.com/branched-services/go-deployer"
)

// ErrFormat is returned for files that are not valid declaration input.
var ErrFormat = errors.New("declfile: invalid format")

// Load reads declarations from path. The format is chosen by extension:
// .json, or .hcl.
func Load(path string) ([]deployer.Declaration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("declfile: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return ParseJSON(data)
	case ".hcl":
		return ParseHCL(data, path)
	default:
		return nil, fmt.Errorf("%w: unsupported extension %q", ErrFormat, filepath.Ext(path))
	}
}

// LoadParameters reads a JSON parameters file.
func LoadParameters(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("declfile: %w", err)
	}
	return ParseParameters(data)
}

func formatError(name string, format string, args ...any) error {
	return &deployer.DeclarationError{
		Name: name,
		Err:  fmt.Errorf("%w: "+format, append([]any{ErrFormat}, args...)...),
	}
}
