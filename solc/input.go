package solc

import (
	"fmt"
	"os"
	"strings"

	"zkc.dev/zkc"
)

// Input is a standard JSON input document.
type Input struct {
	Language string            `json:"language"`
	Sources  map[string]Source `json:"sources"`
	Settings Settings          `json:"settings"`
}

type Source struct {
	Content string `json:"content"`
}

type Settings struct {
	// Libraries maps files to library names to addresses.
	Libraries       map[string]map[string]string   `json:"libraries,omitempty"`
	OutputSelection map[string]map[string][]string `json:"outputSelection"`
	Optimizer       Optimizer                      `json:"optimizer"`
}

type Optimizer struct {
	Enabled bool `json:"enabled"`
}

// NewInput reads the Solidity files at paths into an input document.
func NewInput(paths []string, libraries map[string]map[string]string, pipeline zkc.Pipeline, optimize bool) (*Input, error) {
	sources := make(map[string]Source, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("source file %q reading error: %w", p, err)
		}
		sources[p] = Source{Content: string(data)}
	}
	return &Input{
		Language: "Solidity",
		Sources:  sources,
		Settings: Settings{
			Libraries:       libraries,
			OutputSelection: OutputSelection(pipeline),
			Optimizer:       Optimizer{Enabled: optimize},
		},
	}, nil
}

// OutputSelection requests what the pipeline lowers, for every contract.
func OutputSelection(pipeline zkc.Pipeline) map[string]map[string][]string {
	outs := []string{"abi"}
	switch pipeline {
	case zkc.PipelineEVMLA:
		outs = append(outs, "evm.legacyAssembly")
	case zkc.PipelineYul:
		outs = append(outs, "irOptimized")
	}
	return map[string]map[string][]string{
		"*": {"*": outs, "": {"ast"}},
	}
}

// ParseLibraries parses library links of the form file:Name=0xaddress.
func ParseLibraries(xs []string) (map[string]map[string]string, error) {
	ret := make(map[string]map[string]string)
	for _, x := range xs {
		path, addr, ok := strings.Cut(x, "=")
		if !ok {
			return nil, fmt.Errorf("library %q: address is missing", x)
		}
		i := strings.LastIndex(path, ":")
		if i < 0 {
			return nil, fmt.Errorf("library %q: contract name is missing", x)
		}
		file, name := path[:i], path[i+1:]
		if file == "" || name == "" {
			return nil, fmt.Errorf("library %q: empty file or contract name", x)
		}
		if !strings.HasPrefix(addr, "0x") || len(addr) != 42 || strings.Trim(addr[2:], "0123456789abcdefABCDEF") != "" {
			return nil, fmt.Errorf("library %q: malformed address %q", x, addr)
		}
		if ret[file] == nil {
			ret[file] = make(map[string]string)
		}
		ret[file][name] = addr
	}
	return ret, nil
}
