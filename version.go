package zkc

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// Version is a canonical semantic version of the upstream solc front-end, e.g. "v0.8.16".
type Version string

// ParseVersion accepts versions with or without the leading "v".
// Build metadata such as "+commit.07a7930e" is discarded.
func ParseVersion(x string) (Version, error) {
	x = strings.TrimSpace(x)
	if !strings.HasPrefix(x, "v") {
		x = "v" + x
	}
	if !semver.IsValid(x) {
		return "", fmt.Errorf("invalid version %q", x)
	}
	return Version(semver.Canonical(x)), nil
}

// MustParseVersion is like ParseVersion but panics on invalid input.
func MustParseVersion(x string) Version {
	v, err := ParseVersion(x)
	if err != nil {
		panic(err)
	}
	return v
}

func (v Version) String() string {
	return strings.TrimPrefix(string(v), "v")
}

func (v Version) Compare(other Version) int {
	return semver.Compare(string(v), string(other))
}

// AtLeast returns true if v >= other.
func (v Version) AtLeast(other Version) bool {
	return v.Compare(other) >= 0
}

// Minor returns the minor component of the version, or -1 if the version is invalid.
func (v Version) Minor() int {
	mm := semver.MajorMinor(string(v))
	_, minor, ok := strings.Cut(mm, ".")
	if !ok {
		return -1
	}
	n, err := strconv.Atoi(minor)
	if err != nil {
		return -1
	}
	return n
}

// Pipeline is the form of the upstream output that is lowered.
type Pipeline uint8

const (
	PipelineYul Pipeline = iota
	PipelineEVMLA
)

func (p Pipeline) String() string {
	switch p {
	case PipelineYul:
		return "Yul"
	case PipelineEVMLA:
		return "EVMLA"
	default:
		return fmt.Sprintf("Pipeline(%d)", p)
	}
}

// ChoosePipeline selects legacy assembly for front-ends older than 0.8, or if forced.
func ChoosePipeline(v Version, forceEVMLA bool) Pipeline {
	if forceEVMLA || v.Minor() < 8 {
		return PipelineEVMLA
	}
	return PipelineYul
}
