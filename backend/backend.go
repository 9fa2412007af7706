// Package backend turns verified target IR modules into bytecode artifacts.
//
// Artifacts are cached in memory by a fingerprint of the module, and optionally in a SQLite
// database so that unchanged contracts are not rebuilt across runs.
package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.brendoncarroll.net/stdctx/logctx"
	"go.uber.org/zap"

	"zkc.dev/zkc"
	"zkc.dev/zkc/internal/cadata"
	"zkc.dev/zkc/internal/sqlstores"
	"zkc.dev/zkc/internal/stores"
	"zkc.dev/zkc/vmir"
)

// DefaultCacheSize is the number of artifacts kept in memory.
const DefaultCacheSize = 256

// Store holds the bytecode of artifacts.
type Store interface {
	cadata.Store
	MaxSize() int
}

// Artifact is the output of the backend for one module.
type Artifact struct {
	// Bytecode is the encoded module.
	Bytecode []byte
	// Hash is the hex content hash of Bytecode.
	Hash string
	// Module is the module as it was encoded.
	Module *vmir.Module
	// FactoryDependencies maps the hashes of embedded contracts to their paths.
	FactoryDependencies map[string]string
}

// ContentHash implements codegen.Artifact.
func (a *Artifact) ContentHash() string {
	return a.Hash
}

// Text is the target IR listing of the artifact.
func (a *Artifact) Text() string {
	return a.Module.String()
}

type Config struct {
	// Optimize enables constant folding.
	Optimize  bool
	CacheSize int
	// Store receives the bytecode. It defaults to Index if set, otherwise to an in memory store.
	Store Store
	// Index records which module fingerprints were built into which blobs.
	Index *sqlstores.Store
}

type Stats struct {
	Builds    int
	CacheHits int
	IndexHits int
}

// Backend builds modules. It is safe for concurrent use.
type Backend struct {
	optimize bool
	store    Store
	index    *sqlstores.Store
	cache    *lru.Cache[cadata.ID, *Artifact]

	mu    sync.Mutex
	stats Stats
}

func New(cfg Config) (*Backend, error) {
	if cfg.CacheSize == 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.Store == nil {
		if cfg.Index != nil {
			cfg.Store = cfg.Index
		} else {
			cfg.Store = stores.NewMem(zkc.Hash, zkc.MaxSizeBytes)
		}
	}
	cache, err := lru.New[cadata.ID, *Artifact](cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	return &Backend{
		optimize: cfg.Optimize,
		store:    cfg.Store,
		index:    cfg.Index,
		cache:    cache,
	}, nil
}

// Build verifies m and encodes it, optimizing it first if configured to.
// The returned artifact belongs to the caller.
func (b *Backend) Build(ctx context.Context, m *vmir.Module) (*Artifact, error) {
	if err := m.Verify(); err != nil {
		return nil, err
	}
	fp := b.Fingerprint(m)
	if a, ok := b.cache.Get(fp); ok {
		b.count(func(s *Stats) { s.CacheHits++ })
		logctx.Debug(ctx, "backend cache hit", zap.String("module", m.Name), zap.Stringer("fingerprint", fp))
		return a.clone(), nil
	}
	if b.index != nil {
		a, err := b.load(ctx, fp)
		switch {
		case err == nil:
			b.count(func(s *Stats) { s.IndexHits++ })
			logctx.Debug(ctx, "backend index hit", zap.String("module", m.Name), zap.Stringer("fingerprint", fp))
			b.cache.Add(fp, a)
			return a.clone(), nil
		case !cadata.IsErrNotFound(err):
			return nil, err
		}
	}

	if b.optimize {
		n := vmir.Fold(m)
		logctx.Debug(ctx, "folded constants", zap.String("module", m.Name), zap.Int("removed", n))
	}
	data := vmir.Encode(m)
	id, err := b.store.Post(ctx, nil, data)
	if err != nil {
		return nil, fmt.Errorf("storing bytecode of %s: %w", m.Name, err)
	}
	if b.index != nil {
		if err := b.index.PutArtifact(ctx, fp, id, []byte(m.Name)); err != nil {
			return nil, err
		}
	}
	a := &Artifact{Bytecode: data, Hash: id.String(), Module: m}
	b.count(func(s *Stats) { s.Builds++ })
	b.cache.Add(fp, a)
	return a.clone(), nil
}

// load rebuilds an artifact from the blob recorded for fp.
func (b *Backend) load(ctx context.Context, fp cadata.ID) (*Artifact, error) {
	id, _, err := b.index.GetArtifact(ctx, fp)
	if err != nil {
		return nil, err
	}
	data, err := stores.Load(ctx, b.store, id)
	if err != nil {
		return nil, err
	}
	if err := cadata.Check(zkc.Hash, &id, nil, data); err != nil {
		return nil, err
	}
	m, err := vmir.Decode(data)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("cached artifact %v", id), err)
	}
	return &Artifact{Bytecode: data, Hash: id.String(), Module: m}, nil
}

// Fingerprint identifies the output of Build for m.
// It covers the module and the options of the backend.
func (b *Backend) Fingerprint(m *vmir.Module) cadata.ID {
	var opts cadata.ID
	if b.optimize {
		opts[0] = 1
	}
	return zkc.Hash(&opts, vmir.Encode(m))
}

// Store returns where the bytecode of artifacts is kept.
func (b *Backend) Store() Store {
	return b.store
}

func (b *Backend) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

func (b *Backend) count(fn func(s *Stats)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(&b.stats)
}

func (a *Artifact) clone() *Artifact {
	a2 := *a
	a2.FactoryDependencies = nil
	return &a2
}
