package project

import (
	"context"
	"fmt"
	"time"

	"go.brendoncarroll.net/stdctx/logctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"zkc.dev/zkc/backend"
	"zkc.dev/zkc/codegen"
)

type phase uint8

const (
	phaseSource phase = iota
	phaseWaiter
	phaseBuild
	phaseError
)

type state struct {
	phase phase
	// task is the compilation in progress in phaseWaiter.
	task  *task
	build *ContractBuild
	err   error
}

// task is the compilation of one contract. done is closed once it has a result.
type task struct {
	contract ContractID
	done     chan struct{}
}

type taskKey struct{}

func taskFrom(ctx context.Context) *task {
	t, _ := ctx.Value(taskKey{}).(*task)
	return t
}

// Compile builds the contract at path, unless it has been built or has failed already.
// If another goroutine is building it, Compile waits for the result.
func (p *Project) Compile(ctx context.Context, path string) (*ContractBuild, error) {
	id, ok := p.byPath[path]
	if !ok {
		return nil, fmt.Errorf("contract %s: %w", path, ErrContractNotFound)
	}
	return p.compile(ctx, id)
}

// CompileAll builds every contract of the project.
// If any contract fails, the error of the first one in path order is returned.
func (p *Project) CompileAll(ctx context.Context) (*Build, error) {
	var eg errgroup.Group
	eg.SetLimit(p.workers)
	for i := range p.contracts {
		id := ContractID(i)
		eg.Go(func() error {
			// results are collected from the state table below
			p.compile(ctx, id)
			return nil
		})
	}
	eg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	build := &Build{Contracts: make(map[string]*ContractBuild, len(p.contracts))}
	for i, c := range p.contracts {
		st := p.states[i]
		switch st.phase {
		case phaseBuild:
			build.Contracts[c.Path] = st.build
		case phaseError:
			return nil, st.err
		default:
			return nil, fmt.Errorf("contract %s was not built", c.Path)
		}
	}
	return build, nil
}

func (p *Project) compile(ctx context.Context, id ContractID) (*ContractBuild, error) {
	requester := taskFrom(ctx)
	for {
		p.mu.Lock()
		st := &p.states[id]
		switch st.phase {
		case phaseSource:
			t := &task{contract: id, done: make(chan struct{})}
			st.phase, st.task = phaseWaiter, t
			if requester != nil {
				// the requester is blocked for as long as it builds the dependency
				p.waitsFor[requester] = t
			}
			p.mu.Unlock()

			b, err := p.build(context.WithValue(ctx, taskKey{}, t), p.contracts[id])

			p.mu.Lock()
			if err != nil {
				st.phase, st.err = phaseError, err
			} else {
				st.phase, st.build = phaseBuild, b
			}
			st.task = nil
			if requester != nil {
				delete(p.waitsFor, requester)
			}
			p.mu.Unlock()
			close(t.done)
			return b, err

		case phaseWaiter:
			owner := st.task
			if requester != nil && p.reaches(owner, requester) {
				p.mu.Unlock()
				return nil, ErrDependencyCycle{From: p.contracts[requester.contract].Path, To: p.contracts[id].Path}
			}
			if requester != nil {
				p.waitsFor[requester] = owner
			}
			p.mu.Unlock()

			logctx.Debug(ctx, "waiting for contract", zap.String("path", p.contracts[id].Path))
			var err error
			select {
			case <-owner.done:
			case <-ctx.Done():
				err = ctx.Err()
			}
			if requester != nil {
				p.mu.Lock()
				delete(p.waitsFor, requester)
				p.mu.Unlock()
			}
			if err != nil {
				return nil, err
			}

		case phaseBuild:
			b := st.build
			p.mu.Unlock()
			return b, nil

		case phaseError:
			err := st.err
			p.mu.Unlock()
			return nil, err

		default:
			p.mu.Unlock()
			panic(st.phase)
		}
	}
}

// reaches returns true if from is, or is waiting for, to. Requires p.mu.
func (p *Project) reaches(from, to *task) bool {
	for t := from; t != nil; t = p.waitsFor[t] {
		if t == to {
			return true
		}
	}
	return false
}

// build lowers and builds the runtime code of c, then its deploy code which embeds the runtime code hash.
func (p *Project) build(ctx context.Context, c *Contract) (*ContractBuild, error) {
	start := time.Now()
	logctx.Info(ctx, "compiling contract", zap.String("path", c.Path))
	deps := dependencies{p}

	runtime, err := p.lower(codegen.NewRuntimeContext(ctx, c.Path, deps), c.Runtime)
	if err != nil {
		return nil, err
	}
	deploy, err := p.lower(codegen.NewDeployContext(ctx, c.Path, deps, codegen.RuntimeHashOf(runtime)), c.Deploy)
	if err != nil {
		return nil, err
	}
	// contracts which are only created by name still have to be deployed alongside
	for _, identifier := range sortedKeys(c.FactoryDependencies) {
		path, err := p.ResolvePath(identifier)
		if err != nil {
			return nil, err
		}
		if path == c.Path {
			continue
		}
		hash, err := deps.Compile(ctx, identifier)
		if err != nil {
			return nil, err
		}
		deploy.FactoryDependencies[hash] = path
	}

	b := &ContractBuild{
		Path:                c.Path,
		Identifier:          c.Identifier,
		Deploy:              deploy,
		Runtime:             runtime,
		ABI:                 c.ABI,
		FactoryDependencies: make(map[string]string),
	}
	for _, a := range []*backend.Artifact{runtime, deploy} {
		for h, path := range a.FactoryDependencies {
			b.FactoryDependencies[h] = path
		}
	}
	logctx.Info(ctx, "compiled contract",
		zap.String("path", c.Path),
		zap.String("hash", deploy.Hash),
		zap.Duration("elapsed", time.Since(start)),
	)
	return b, nil
}

func (p *Project) lower(c *codegen.Context, src Source) (*backend.Artifact, error) {
	if s, ok := src.(*EVMLASource); ok && p.dump&DumpEthIR != 0 {
		p.writeDump(c.Path(), c.CodeType(), "ethir", s.IR)
	}
	if err := src.Declare(c); err != nil {
		return nil, fmt.Errorf("[compile %s %v] declaration pass: %w", c.Path(), c.CodeType(), err)
	}
	if err := src.Define(c); err != nil {
		return nil, fmt.Errorf("[compile %s %v] definition pass: %w", c.Path(), c.CodeType(), err)
	}
	m, err := c.Finish()
	if err != nil {
		return nil, fmt.Errorf("[compile %s %v] %w", c.Path(), c.CodeType(), err)
	}
	if p.dump&DumpIR != 0 {
		p.writeDump(c.Path(), c.CodeType(), "ir", m)
	}
	a, err := p.backend.Build(c.Ctx(), m)
	if err != nil {
		return nil, fmt.Errorf("[compile %s %v] %w", c.Path(), c.CodeType(), err)
	}
	a.FactoryDependencies = c.FactoryDependencies
	return a, nil
}

func (p *Project) writeDump(path string, ct codegen.CodeType, kind string, x fmt.Stringer) {
	p.dumpMu.Lock()
	defer p.dumpMu.Unlock()
	fmt.Fprintf(p.dumpW, "// %s %v %s\n%v\n", path, ct, kind, x)
}

// dependencies is the view of the project given to the code being lowered.
type dependencies struct {
	*Project
}

var _ codegen.Dependency = dependencies{}

// Compile builds the contract with the identifier and returns the hash of its deploy code.
func (d dependencies) Compile(ctx context.Context, identifier string) (string, error) {
	id, err := d.resolve(identifier)
	if err != nil {
		return "", err
	}
	b, err := d.compile(ctx, id)
	if err != nil {
		return "", fmt.Errorf("dependency contract `%s` compiling error: %w", identifier, err)
	}
	return b.Deploy.Hash, nil
}
