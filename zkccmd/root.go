// Package zkccmd implements the zkc command line tool.
package zkccmd

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"
	"go.brendoncarroll.net/star"
	"go.brendoncarroll.net/stdctx/logctx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"zkc.dev/zkc"
	"zkc.dev/zkc/solc"
)

func Root() star.Command {
	return root
}

var root = star.NewDir(star.Metadata{
	Short: "compiles solc output to target IR bytecode",
}, map[star.Symbol]star.Command{
	"build": buildCmd,
	"ethir": ethirCmd,
	"run":   runCmd,
})

// YulParser parses the Yul source text in solc output. Without one, legacy assembly is requested instead.
var YulParser solc.YulParser

// newLogger logs to stderr, with colors on a terminal.
func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		cfg.Development = true
	}
	return cfg.Build()
}

// setup returns the context of a command, with a logger.
func setup(c star.Context) (context.Context, func(), error) {
	l, err := newLogger(loadOr(c, verboseParam, false))
	if err != nil {
		return nil, nil, err
	}
	ctx := logctx.NewContext(c.Context, l)
	return ctx, func() { l.Sync() }, nil
}

func parseBool(x string) (bool, error) {
	return strconv.ParseBool(x)
}

// Optional flags are repeated params without a default, the last value given wins.

func boolParam(name star.Symbol) star.Param[bool] {
	return star.Param[bool]{
		Name:     name,
		Repeated: true,
		Parse:    parseBool,
	}
}

func stringParam(name star.Symbol) star.Param[string] {
	return star.Param[string]{
		Name:     name,
		Repeated: true,
		Parse:    star.ParseString,
	}
}

// listParam takes comma separated lists, and can be given more than once.
func listParam(name star.Symbol) star.Param[[]string] {
	return star.Param[[]string]{
		Name:     name,
		Repeated: true,
		Parse: func(x string) ([]string, error) {
			var ret []string
			for _, s := range strings.Split(x, ",") {
				if s = strings.TrimSpace(s); s != "" {
					ret = append(ret, s)
				}
			}
			return ret, nil
		},
	}
}

// loadOr returns the last value given for p, or def.
func loadOr[T any](c star.Context, p star.Param[T], def T) T {
	if x, ok := p.LoadOpt(c); ok {
		return x
	}
	return def
}

func loadList(c star.Context, p star.Param[[]string]) []string {
	var ret []string
	for _, xs := range p.LoadAll(c) {
		ret = append(ret, xs...)
	}
	return ret
}

var verboseParam = boolParam("verbose")

var defaultVersion = zkc.MustParseVersion("0.8.20")

var versionParam = star.Param[zkc.Version]{
	Name:     "solc-version",
	Repeated: true,
	Parse:    zkc.ParseVersion,
}

var asmFileParam = star.Param[string]{
	Name:  "file",
	Parse: star.ParseString,
}
