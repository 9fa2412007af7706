// Package asm models the legacy assembly documents emitted by solc --asm-json.
package asm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"zkc.dev/zkc"

	"golang.org/x/exp/maps"
)

// Assembly is a legacy assembly document.
// The runtime code of a contract is the Assembly in Data["0"].
type Assembly struct {
	AuxData *string          `json:".auxdata,omitempty"`
	Code    []Instruction    `json:".code"`
	Data    map[string]*Data `json:".data,omitempty"`

	// Factory dependencies discovered by the dependency passes, as contract paths.
	DeployDependencies  map[string]struct{} `json:"-"`
	RuntimeDependencies map[string]struct{} `json:"-"`
}

// Data is an entry of the ".data" section.
// Exactly one of the fields is set.
type Data struct {
	Assembly *Assembly
	Hash     string
	// Path is set by the dependency passes once the entry has been resolved to a contract.
	Path string
}

func (d *Data) MarshalJSON() ([]byte, error) {
	switch {
	case d.Assembly != nil:
		return json.Marshal(d.Assembly)
	case d.Path != "":
		return json.Marshal(d.Path)
	default:
		return json.Marshal(d.Hash)
	}
}

func (d *Data) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		d.Assembly = new(Assembly)
		return json.Unmarshal(data, d.Assembly)
	}
	return json.Unmarshal(data, &d.Hash)
}

// Parse decodes a JSON assembly document and validates every instruction in it.
func Parse(data []byte) (*Assembly, error) {
	var a Assembly
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, err
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

// Validate checks every instruction of the document, including nested assemblies.
func (a *Assembly) Validate() error {
	for i, ix := range a.Code {
		if err := ix.Validate(); err != nil {
			return fmt.Errorf("instruction %d: %w", i, err)
		}
	}
	for _, k := range sortedKeys(a.Data) {
		if sub := a.Data[k].Assembly; sub != nil {
			if err := sub.Validate(); err != nil {
				return fmt.Errorf(".data[%s]: %w", k, err)
			}
		}
	}
	return nil
}

// Runtime returns the runtime code assembly embedded in a deploy code assembly.
func (a *Assembly) Runtime() (*Assembly, error) {
	d, ok := a.Data["0"]
	if !ok {
		return nil, errors.New("runtime code data not found")
	}
	switch {
	case d.Assembly != nil:
		return d.Assembly, nil
	case d.Path != "":
		return nil, fmt.Errorf("expected runtime code instructions, found path %q", d.Path)
	default:
		return nil, fmt.Errorf("expected runtime code instructions, found hash %q", d.Hash)
	}
}

// Keccak256 is the hex Keccak-256 of the JSON serialization of the document.
// It identifies a nested assembly among the contracts of a project.
func (a *Assembly) Keccak256() string {
	data, err := json.Marshal(a)
	if err != nil {
		panic(err)
	}
	return zkc.Keccak256Hex(data)
}

// DeployDependenciesPass resolves the nested assemblies of the deploy code into contract paths.
// hashPaths maps the Keccak256 of every contract in the project to its path.
// The returned map goes from padded data index to path, or hash for unresolved entries.
// Index 0 is the runtime code of the contract itself and always maps to fullPath.
func (a *Assembly) DeployDependenciesPass(fullPath string, hashPaths map[string]string) (map[string]string, error) {
	indexPaths := map[string]string{PadIndex(""): fullPath}
	if a.DeployDependencies == nil {
		a.DeployDependencies = make(map[string]struct{})
	}
	if err := resolveData(a.Data, hashPaths, indexPaths, a.DeployDependencies, true); err != nil {
		return nil, err
	}
	return indexPaths, nil
}

// RuntimeDependenciesPass is DeployDependenciesPass for the data of the runtime code.
func (a *Assembly) RuntimeDependenciesPass(fullPath string, hashPaths map[string]string) (map[string]string, error) {
	indexPaths := map[string]string{PadIndex(""): fullPath}
	if a.RuntimeDependencies == nil {
		a.RuntimeDependencies = make(map[string]struct{})
	}
	d, ok := a.Data["0"]
	if !ok || d.Assembly == nil {
		return indexPaths, nil
	}
	if err := resolveData(d.Assembly.Data, hashPaths, indexPaths, a.RuntimeDependencies, false); err != nil {
		return nil, err
	}
	return indexPaths, nil
}

func resolveData(data map[string]*Data, hashPaths, indexPaths map[string]string, deps map[string]struct{}, skipRuntime bool) error {
	for _, index := range sortedKeys(data) {
		if skipRuntime && index == "0" {
			continue
		}
		d := data[index]
		switch {
		case d.Assembly != nil:
			hash := d.Assembly.Keccak256()
			p, ok := hashPaths[hash]
			if !ok {
				return fmt.Errorf("contract path not found for hash %s", hash)
			}
			deps[p] = struct{}{}
			indexPaths[PadIndex(index)] = p
			*d = Data{Path: p}
		case d.Hash != "":
			indexPaths[PadIndex(index)] = d.Hash
		}
	}
	return nil
}

// String lists the code of the document with instruction indexes.
func (a *Assembly) String() string {
	var sb strings.Builder
	for i, ix := range a.Code {
		if ix.Name == Tag {
			fmt.Fprintf(&sb, "%03d %v\n", i, ix)
		} else {
			fmt.Fprintf(&sb, "%03d     %v\n", i, ix)
		}
	}
	return sb.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}
