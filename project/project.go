// Package project compiles the contracts of a project, each at most once, building the contracts
// they depend on first.
package project

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"golang.org/x/exp/maps"

	"zkc.dev/zkc"
	"zkc.dev/zkc/backend"
	"zkc.dev/zkc/yul"
)

var (
	ErrContractNotFound = errors.New("contract not found in the project")
	ErrLibraryNotFound  = errors.New("library not found in the project")
)

// ErrDependencyCycle is returned when waiting for a contract would never end,
// because the contract is, possibly indirectly, waiting for the requester.
type ErrDependencyCycle struct {
	From, To string
}

func (e ErrDependencyCycle) Error() string {
	return fmt.Sprintf("dependency cycle: %s requires %s, which is waiting for it", e.From, e.To)
}

// DumpFlag selects the intermediate representations written while compiling.
type DumpFlag uint8

const (
	// DumpEthIR writes the functions recovered from legacy assembly.
	DumpEthIR DumpFlag = 1 << iota
	// DumpIR writes the target IR of every code part.
	DumpIR
)

type Config struct {
	Version zkc.Version
	// Libraries maps files to library names to their hex addresses.
	Libraries map[string]map[string]string
	// Backend builds the lowered modules. A default one is created if nil.
	Backend *backend.Backend
	// Workers is the number of contracts compiled at the same time by CompileAll.
	Workers int

	Dump       DumpFlag
	DumpWriter io.Writer
}

// Project is a set of contracts which may refer to each other.
type Project struct {
	version   zkc.Version
	libraries map[string]map[string]string
	backend   *backend.Backend
	workers   int

	contracts    []*Contract
	byPath       map[string]ContractID
	byIdentifier map[string]ContractID

	dump   DumpFlag
	dumpMu sync.Mutex
	dumpW  io.Writer

	mu     sync.Mutex
	states []state
	// waitsFor has an edge from every task blocked on another contract to the task building it.
	waitsFor map[*task]*task
}

func New(cfg Config, contracts ...*Contract) (*Project, error) {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Backend == nil {
		b, err := backend.New(backend.Config{})
		if err != nil {
			return nil, err
		}
		cfg.Backend = b
	}
	if cfg.DumpWriter == nil {
		cfg.DumpWriter = io.Discard
	}
	p := &Project{
		version:      cfg.Version,
		libraries:    cfg.Libraries,
		backend:      cfg.Backend,
		workers:      cfg.Workers,
		byPath:       make(map[string]ContractID, len(contracts)),
		byIdentifier: make(map[string]ContractID, len(contracts)),
		dump:         cfg.Dump,
		dumpW:        cfg.DumpWriter,
		waitsFor:     make(map[*task]*task),
	}
	// the arena is in path order
	contracts = slices.Clone(contracts)
	slices.SortFunc(contracts, func(a, b *Contract) int { return strings.Compare(a.Path, b.Path) })
	for _, c := range contracts {
		if _, exists := p.byPath[c.Path]; exists {
			return nil, fmt.Errorf("duplicate contract path %s", c.Path)
		}
		id := ContractID(len(p.contracts))
		p.contracts = append(p.contracts, c)
		p.byPath[c.Path] = id
		p.byIdentifier[c.Identifier] = id
	}
	p.states = make([]state, len(p.contracts))
	return p, nil
}

func (p *Project) Version() zkc.Version {
	return p.version
}

// Paths returns the paths of the contracts in order.
func (p *Project) Paths() []string {
	ret := make([]string, len(p.contracts))
	for i, c := range p.contracts {
		ret[i] = c.Path
	}
	return ret
}

// Contract returns the contract at the path, or nil.
func (p *Project) Contract(path string) *Contract {
	id, ok := p.byPath[path]
	if !ok {
		return nil
	}
	return p.contracts[id]
}

// ResolvePath returns the path of the contract with the identifier.
// Paths resolve to themselves, and the identifiers of runtime code objects to their contract.
func (p *Project) ResolvePath(identifier string) (string, error) {
	id, err := p.resolve(identifier)
	if err != nil {
		return "", err
	}
	return p.contracts[id].Path, nil
}

func (p *Project) resolve(identifier string) (ContractID, error) {
	if id, ok := p.byPath[identifier]; ok {
		return id, nil
	}
	if id, ok := p.byIdentifier[strings.TrimSuffix(identifier, yul.RuntimeSuffix)]; ok {
		return id, nil
	}
	return 0, fmt.Errorf("contract with identifier `%s`: %w", identifier, ErrContractNotFound)
}

// ResolveLibrary returns the hex address, without prefix, of the library at path, as file:Name.
func (p *Project) ResolveLibrary(path string) (string, error) {
	file, name, ok := cutLast(path, ":")
	if ok {
		if addr, ok := p.libraries[file][name]; ok {
			return strings.TrimPrefix(addr, "0x"), nil
		}
	}
	return "", fmt.Errorf("library `%s`: %w", path, ErrLibraryNotFound)
}

func cutLast(s, sep string) (before, after string, found bool) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+len(sep):], true
}

// Libraries returns the linked libraries, sorted by file:Name.
func (p *Project) Libraries() []string {
	var ret []string
	for _, file := range sortedKeys(p.libraries) {
		for _, name := range sortedKeys(p.libraries[file]) {
			ret = append(ret, file+":"+name)
		}
	}
	return ret
}

func sortedKeys[V any](m map[string]V) []string {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}
