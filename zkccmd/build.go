package zkccmd

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"go.brendoncarroll.net/star"
	"go.brendoncarroll.net/stdctx/logctx"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"

	"zkc.dev/zkc"
	"zkc.dev/zkc/backend"
	"zkc.dev/zkc/internal/sqlstores"
	"zkc.dev/zkc/project"
	"zkc.dev/zkc/solc"
)

var (
	configParam    = stringParam("config")
	inputParam     = stringParam("input")
	solcParam      = stringParam("solc")
	solcVersionOpt = stringParam("solc-version")
	workersParam   = star.Param[int]{
		Name:     "workers",
		Repeated: true,
		Parse:    parseInt,
	}
	librariesParam    = listParam("libraries")
	dumpParam         = listParam("dump")
	outParam          = stringParam("out")
	cacheParam        = stringParam("cache")
	optimizeParam     = boolParam("optimize")
	forceEVMLAParam   = boolParam("force-evmla")
	overwriteParam    = boolParam("overwrite")
	binParam          = boolParam("bin")
	asmParam          = boolParam("asm")
	abiParam          = boolParam("abi")
	combinedJSONParam = boolParam("combined-json")
	standardJSONParam = boolParam("standard-json")
	watchParam        = boolParam("watch")

	sourcesParam = star.Param[string]{
		Name:     "sources",
		Repeated: true,
		Parse:    star.ParseString,
	}
)

var buildCmd = star.Command{
	Metadata: star.Metadata{
		Short: "compile Solidity sources, or the standard JSON output of solc with --input",
	},
	Pos: []star.IParam{sourcesParam},
	Flags: []star.IParam{
		configParam, inputParam, solcParam, solcVersionOpt, workersParam,
		librariesParam, dumpParam, outParam, cacheParam,
		optimizeParam, forceEVMLAParam, overwriteParam,
		binParam, asmParam, abiParam, combinedJSONParam, standardJSONParam,
		watchParam, verboseParam,
	},
	F: func(c star.Context) error {
		ctx, sync, err := setup(c)
		if err != nil {
			return err
		}
		defer sync()
		cfg, err := buildConfig(c)
		if err != nil {
			return err
		}
		j := &buildJob{
			cfg:          cfg,
			input:        loadOr(c, inputParam, ""),
			sources:      sourcesParam.LoadAll(c),
			standardJSON: loadOr(c, standardJSONParam, false),
			out:          printer{c},
		}
		if err := j.run(ctx); err != nil {
			return err
		}
		if !loadOr(c, watchParam, false) {
			return nil
		}
		return j.watch(ctx)
	},
}

func parseInt(x string) (int, error) {
	return strconv.Atoi(x)
}

// printer writes to the output of a command.
type printer struct {
	c star.Context
}

func (p printer) Write(data []byte) (int, error) {
	p.c.Printf("%s", data)
	return len(data), nil
}

func sortedPaths(b *project.Build) []string {
	paths := maps.Keys(b.Contracts)
	slices.Sort(paths)
	return paths
}

// buildConfig reads the config file, if any, and applies the flags over it.
func buildConfig(c star.Context) (Config, error) {
	cfg := DefaultConfig()
	if p := loadOr(c, configParam, ""); p != "" {
		var err error
		if cfg, err = LoadConfig(p); err != nil {
			return Config{}, err
		}
	}
	return cfg.Merge(Config{
		Solc:         loadOr(c, solcParam, ""),
		SolcVersion:  loadOr(c, solcVersionOpt, ""),
		Optimize:     loadOr(c, optimizeParam, false),
		Workers:      loadOr(c, workersParam, 0),
		Libraries:    loadList(c, librariesParam),
		Dump:         loadList(c, dumpParam),
		ForceEVMLA:   loadOr(c, forceEVMLAParam, false),
		Cache:        loadOr(c, cacheParam, ""),
		OutputDir:    loadOr(c, outParam, ""),
		Overwrite:    loadOr(c, overwriteParam, false),
		Binary:       loadOr(c, binParam, false),
		Assembly:     loadOr(c, asmParam, false),
		ABI:          loadOr(c, abiParam, false),
		CombinedJSON: loadOr(c, combinedJSONParam, false),
	}), nil
}

type buildJob struct {
	cfg Config
	// input is a file holding solc output, or - for stdin. Sources are compiled with solc if empty.
	input        string
	sources      []string
	standardJSON bool
	out          io.Writer
}

func (j *buildJob) run(ctx context.Context) error {
	id, err := uuid.NewRandom()
	if err != nil {
		return err
	}
	start := time.Now()
	logctx.Info(ctx, "build started", zap.Stringer("build", id))

	libs, err := solc.ParseLibraries(j.cfg.Libraries)
	if err != nil {
		return err
	}
	output, v, pipeline, err := j.solcOutput(ctx, libs)
	if err != nil {
		return err
	}
	if err := output.Check(ctx); err != nil {
		if j.standardJSON {
			return json.NewEncoder(j.out).Encode(output)
		}
		return err
	}
	contracts, err := output.ProjectContracts(ctx, v, pipeline, YulParser)
	if err != nil {
		return err
	}
	b, closeBackend, err := j.backend(ctx)
	if err != nil {
		return err
	}
	defer closeBackend()
	dump, err := j.cfg.DumpFlags()
	if err != nil {
		return err
	}
	p, err := project.New(project.Config{
		Version:    v,
		Libraries:  libs,
		Backend:    b,
		Workers:    j.cfg.Workers,
		Dump:       dump,
		DumpWriter: os.Stderr,
	}, contracts...)
	if err != nil {
		return err
	}
	build, err := p.CompileAll(ctx)
	if err != nil {
		return err
	}
	stats := b.Stats()
	logctx.Info(ctx, "build finished",
		zap.Stringer("build", id),
		zap.Int("contracts", len(build.Contracts)),
		zap.Int("built", stats.Builds),
		zap.Int("cached", stats.CacheHits+stats.IndexHits),
		zap.Duration("elapsed", time.Since(start)),
	)
	if j.standardJSON {
		if err := output.WriteBuild(build); err != nil {
			return err
		}
		return json.NewEncoder(j.out).Encode(output)
	}
	return j.writeBuild(ctx, build)
}

// solcOutput reads or produces the solc output, and picks the pipeline to lower it with.
func (j *buildJob) solcOutput(ctx context.Context, libs map[string]map[string]string) (*solc.Output, zkc.Version, zkc.Pipeline, error) {
	var v zkc.Version
	if j.cfg.SolcVersion != "" {
		var err error
		if v, err = zkc.ParseVersion(j.cfg.SolcVersion); err != nil {
			return nil, "", 0, err
		}
	}
	if j.input != "" {
		var data []byte
		var err error
		if j.input == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(j.input)
		}
		if err != nil {
			return nil, "", 0, err
		}
		output, err := solc.ParseOutput(data)
		if err != nil {
			return nil, "", 0, err
		}
		if v == "" {
			if v, err = zkc.ParseVersion(output.Version); err != nil {
				return nil, "", 0, fmt.Errorf("the version of solc is needed, use --solc-version: %w", err)
			}
		}
		return output, v, j.pipeline(ctx, v), nil
	}

	if len(j.sources) == 0 {
		return nil, "", 0, errors.New("the input files are missing")
	}
	sc := solc.NewCompiler(j.cfg.Solc)
	if v == "" {
		var err error
		if v, err = sc.Version(ctx); err != nil {
			return nil, "", 0, err
		}
	}
	pipeline := j.pipeline(ctx, v)
	in, err := solc.NewInput(j.sources, libs, pipeline, j.cfg.Optimize)
	if err != nil {
		return nil, "", 0, err
	}
	output, err := sc.StandardJSON(ctx, in)
	if err != nil {
		return nil, "", 0, err
	}
	return output, v, pipeline, nil
}

func (j *buildJob) pipeline(ctx context.Context, v zkc.Version) zkc.Pipeline {
	p := zkc.ChoosePipeline(v, j.cfg.ForceEVMLA)
	if p == zkc.PipelineYul && YulParser == nil {
		logctx.Warnf(ctx, "no Yul parser available, lowering legacy assembly of solc %v", v)
		p = zkc.PipelineEVMLA
	}
	return p
}

// backend creates the backend, with the persistent cache if configured.
func (j *buildJob) backend(ctx context.Context) (*backend.Backend, func(), error) {
	cfg := backend.Config{Optimize: j.cfg.Optimize}
	closeDB := func() {}
	if j.cfg.Cache != "" {
		db, err := sqlstores.Open(ctx, j.cfg.Cache)
		if err != nil {
			return nil, nil, err
		}
		closeDB = func() { db.Close() }
		cfg.Index = sqlstores.NewStore(db, zkc.Hash, zkc.MaxSizeBytes)
	}
	b, err := backend.New(cfg)
	if err != nil {
		closeDB()
		return nil, nil, err
	}
	return b, closeDB, nil
}

func (j *buildJob) writeBuild(ctx context.Context, build *project.Build) error {
	cfg := j.cfg
	switch {
	case cfg.OutputDir != "" && cfg.CombinedJSON:
		data, err := build.CombinedJSON()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
			return err
		}
		p := filepath.Join(cfg.OutputDir, "combined.json")
		if _, err := os.Stat(p); err == nil && !cfg.Overwrite {
			return fmt.Errorf("refusing to overwrite an existing file %q (use --overwrite to force)", p)
		}
		return os.WriteFile(p, data, 0o644)
	case cfg.OutputDir != "":
		outs := project.Outputs{Assembly: cfg.Assembly, Binary: cfg.Binary, ABI: cfg.ABI}
		if outs == (project.Outputs{}) {
			outs = project.Outputs{Binary: true, ABI: true}
		}
		if err := build.WriteToDirectory(ctx, cfg.OutputDir, outs, cfg.Overwrite); err != nil {
			return err
		}
		logctx.Infof(ctx, "compiler run successful, artifacts can be found in directory %s", cfg.OutputDir)
		return nil
	case cfg.CombinedJSON:
		data, err := build.CombinedJSON()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(j.out, "%s\n", data)
		return err
	case cfg.Assembly || cfg.Binary:
		for _, path := range sortedPaths(build) {
			cb := build.Contracts[path]
			if cfg.Assembly {
				fmt.Fprintf(j.out, "Contract `%s` assembly:\n\n%s\n", path, cb.Deploy.Text())
			}
			if cfg.Binary {
				fmt.Fprintf(j.out, "Contract `%s` bytecode: 0x%s\n", path, hex.EncodeToString(cb.Deploy.Bytecode))
			}
		}
		return nil
	default:
		logctx.Infof(ctx, "compiler run successful, no output requested, use --bin or --asm")
		return nil
	}
}

// watch builds again every time one of the inputs changes, until ctx is done.
func (j *buildJob) watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	files := j.sources
	if j.input != "" && j.input != "-" {
		files = []string{j.input}
	}
	for _, f := range files {
		if err := w.Add(f); err != nil {
			return err
		}
	}
	logctx.Infof(ctx, "watching %d file(s) for changes", len(files))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-w.Errors:
			return err
		case ev := <-w.Events:
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			// editors write in bursts
			time.Sleep(50 * time.Millisecond)
			drain(w.Events)
			if ev.Has(fsnotify.Rename) {
				// the file was replaced, so it has to be watched again
				w.Add(ev.Name)
			}
			if err := j.run(ctx); err != nil {
				logctx.Error(ctx, "build failed", zap.Error(err))
			}
		}
	}
}

func drain[T any](ch <-chan T) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
