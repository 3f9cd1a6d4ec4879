package deployer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Artifact is a compiled contract: its ABI and creation bytecode.
// Artifacts without bytecode can be used as call targets but not deployed.
type Artifact struct {
	Name     string
	ABI      abi.ABI
	Bytecode []byte
}

// NewArtifact creates an artifact from a JSON ABI and hex bytecode.
func NewArtifact(name, abiJSON, bytecodeHex string) (*Artifact, error) {
	parsed, err := ParseABI(abiJSON)
	if err != nil {
		return nil, fmt.Errorf("deployer: parse ABI for %s: %w", name, err)
	}
	var code []byte
	if bytecodeHex != "" {
		if !strings.HasPrefix(bytecodeHex, "0x") {
			bytecodeHex = "0x" + bytecodeHex
		}
		code, err = hexutil.Decode(bytecodeHex)
		if err != nil {
			return nil, fmt.Errorf("deployer: decode bytecode for %s: %w", name, err)
		}
	}
	return &Artifact{Name: name, ABI: parsed, Bytecode: code}, nil
}

// MustArtifact is like NewArtifact but panics on error.
func MustArtifact(name, abiJSON, bytecodeHex string) *Artifact {
	a, err := NewArtifact(name, abiJSON, bytecodeHex)
	if err != nil {
		panic(err)
	}
	return a
}

// HasMethod returns true if the contract has a method with the given name or signature.
func (a *Artifact) HasMethod(nameOrSig string) bool {
	_, err := a.Method(nameOrSig)
	return err == nil
}

// Method resolves a function by name ("transfer") or full signature
// ("transfer(address,uint256)"). Overloads must use the signature form.
func (a *Artifact) Method(nameOrSig string) (abi.Method, error) {
	if strings.Contains(nameOrSig, "(") {
		for _, m := range a.ABI.Methods {
			if m.Sig == nameOrSig {
				return m, nil
			}
		}
		return abi.Method{}, &MethodNotFoundError{Contract: a.Name, Method: nameOrSig}
	}
	m, ok := a.ABI.Methods[nameOrSig]
	if !ok {
		return abi.Method{}, &MethodNotFoundError{Contract: a.Name, Method: nameOrSig}
	}
	return m, nil
}

// MethodNames returns all method names in the contract ABI, sorted.
func (a *Artifact) MethodNames() []string {
	names := make([]string, 0, len(a.ABI.Methods))
	for name := range a.ABI.Methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ArtifactSource looks up artifacts by contract name.
type ArtifactSource interface {
	Artifact(name string) (*Artifact, bool)
}

// Artifacts is an in-memory ArtifactSource.
type Artifacts struct {
	byName map[string]*Artifact
}

// NewArtifacts creates a set from the given artifacts.
func NewArtifacts(artifacts ...*Artifact) *Artifacts {
	s := &Artifacts{byName: make(map[string]*Artifact, len(artifacts))}
	for _, a := range artifacts {
		s.Add(a)
	}
	return s
}

// Add registers an artifact, replacing any previous one with the same name.
func (s *Artifacts) Add(a *Artifact) {
	s.byName[a.Name] = a
}

// Artifact implements ArtifactSource.
func (s *Artifacts) Artifact(name string) (*Artifact, bool) {
	a, ok := s.byName[name]
	return a, ok
}

// Names returns the registered contract names, sorted.
func (s *Artifacts) Names() []string {
	names := make([]string, 0, len(s.byName))
	for name := range s.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// artifactFile covers both Hardhat ("bytecode": "0x...") and Foundry
// ("bytecode": {"object": "0x..."}) artifact layouts.
type artifactFile struct {
	ContractName string          `json:"contractName"`
	ABI          json.RawMessage `json:"abi"`
	Bytecode     json.RawMessage `json:"bytecode"`
}

// ParseArtifactJSON decodes a Hardhat or Foundry artifact. fallbackName is
// used when the file doesn't carry a contractName.
func ParseArtifactJSON(data []byte, fallbackName string) (*Artifact, error) {
	var f artifactFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("deployer: parse artifact %s: %w", fallbackName, err)
	}
	if len(f.ABI) == 0 {
		return nil, fmt.Errorf("deployer: artifact %s has no abi", fallbackName)
	}
	name := f.ContractName
	if name == "" {
		name = fallbackName
	}

	var code string
	trimmed := bytes.TrimSpace(f.Bytecode)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
	case trimmed[0] == '"':
		if err := json.Unmarshal(trimmed, &code); err != nil {
			return nil, fmt.Errorf("deployer: artifact %s bytecode: %w", name, err)
		}
	default:
		var obj struct {
			Object string `json:"object"`
		}
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, fmt.Errorf("deployer: artifact %s bytecode: %w", name, err)
		}
		code = obj.Object
	}
	if code == "0x" {
		code = ""
	}
	return NewArtifact(name, string(f.ABI), code)
}

// LoadArtifactDir walks dir for *.json artifacts. Files that aren't
// artifacts (no abi field, e.g. Hardhat debug files) are skipped.
func LoadArtifactDir(dir string) (*Artifacts, error) {
	set := NewArtifacts()
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".json" || strings.HasSuffix(path, ".dbg.json") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var probe map[string]json.RawMessage
		if json.Unmarshal(data, &probe) != nil {
			return nil
		}
		if _, ok := probe["abi"]; !ok {
			return nil
		}
		a, err := ParseArtifactJSON(data, strings.TrimSuffix(filepath.Base(path), ".json"))
		if err != nil {
			return err
		}
		set.Add(a)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return set, nil
}

// ParseABI parses a JSON ABI string into an abi.ABI.
func ParseABI(abiJSON string) (abi.ABI, error) {
	return abi.JSON(strings.NewReader(abiJSON))
}

// MustParseABI is like ParseABI but panics on error.
func MustParseABI(abiJSON string) abi.ABI {
	parsed, err := ParseABI(abiJSON)
	if err != nil {
		panic(err)
	}
	return parsed
}
