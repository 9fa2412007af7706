package solc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"zkc.dev/zkc"
)

// DefaultExecutable is looked up in PATH.
const DefaultExecutable = "solc"

// LastSupportedVersion is the newest front-end whose output can be lowered.
var LastSupportedVersion = zkc.MustParseVersion("0.8.30")

// Compiler runs a solc executable.
type Compiler struct {
	Executable string
}

func NewCompiler(executable string) *Compiler {
	if executable == "" {
		executable = DefaultExecutable
	}
	return &Compiler{Executable: executable}
}

var versionRE = regexp.MustCompile(`Version: (\d+\.\d+\.\d+)`)

// Version asks the executable for its version.
func (sc *Compiler) Version(ctx context.Context) (zkc.Version, error) {
	out, err := sc.run(ctx, nil, "--version")
	if err != nil {
		return "", err
	}
	return ParseVersionOutput(string(out))
}

// ParseVersionOutput finds the version in the output of solc --version.
func ParseVersionOutput(out string) (zkc.Version, error) {
	m := versionRE.FindStringSubmatch(out)
	if m == nil {
		return "", fmt.Errorf("solc version not found in %q", strings.TrimSpace(out))
	}
	v, err := zkc.ParseVersion(m[1])
	if err != nil {
		return "", err
	}
	if v.Compare(LastSupportedVersion) > 0 {
		return "", fmt.Errorf("solc versions >%v are not supported yet, found %v", LastSupportedVersion, v)
	}
	return v, nil
}

// StandardJSON compiles the input document.
func (sc *Compiler) StandardJSON(ctx context.Context, in *Input, args ...string) (*Output, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	out, err := sc.run(ctx, data, append([]string{"--standard-json"}, args...)...)
	if err != nil {
		return nil, err
	}
	return ParseOutput(out)
}

// ParseOutput decodes a standard JSON output document.
func ParseOutput(data []byte) (*Output, error) {
	var o Output
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("solc standard JSON output parsing error: %w", err)
	}
	return &o, nil
}

func (sc *Compiler) run(ctx context.Context, stdin []byte, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, sc.Executable, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w: %s", sc.Executable, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}
