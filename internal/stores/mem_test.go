package stores

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"zkc.dev/zkc"
	"zkc.dev/zkc/internal/cadata"
)

func TestMem(t *testing.T) {
	ctx := context.Background()
	s := NewMem(zkc.Hash, 16)

	id, err := s.Post(ctx, nil, []byte("bytecode"))
	require.NoError(t, err)
	require.Equal(t, zkc.Hash(nil, []byte("bytecode")), id)

	data, err := Load(ctx, s, id)
	require.NoError(t, err)
	require.Equal(t, "bytecode", string(data))

	_, err = s.Post(ctx, nil, make([]byte, 17))
	require.ErrorIs(t, err, cadata.ErrTooLarge)

	missing := cadata.ID{1}
	_, err = Load(ctx, s, missing)
	require.True(t, cadata.IsErrNotFound(err))
	require.Equal(t, 1, s.Len())
}
