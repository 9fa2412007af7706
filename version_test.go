package zkc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseVersion(t *testing.T) {
	v, err := ParseVersion("0.8.16+commit.07a7930e")
	require.NoError(t, err)
	require.Equal(t, Version("v0.8.16"), v)
	require.Equal(t, "0.8.16", v.String())
	require.Equal(t, 8, v.Minor())
	require.True(t, v.AtLeast(MustParseVersion("0.8.0")))
	require.False(t, MustParseVersion("0.7.6").AtLeast(MustParseVersion("0.8.0")))

	_, err = ParseVersion("eight")
	require.Error(t, err)
}

func TestChoosePipeline(t *testing.T) {
	require.Equal(t, PipelineEVMLA, ChoosePipeline(MustParseVersion("0.7.6"), false))
	require.Equal(t, PipelineYul, ChoosePipeline(MustParseVersion("0.8.1"), false))
	require.Equal(t, PipelineEVMLA, ChoosePipeline(MustParseVersion("0.8.1"), true))
}

func TestKeccak256(t *testing.T) {
	require.Equal(t, "c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470", Keccak256Hex(nil))
}
