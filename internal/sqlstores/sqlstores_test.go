package sqlstores

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"zkc.dev/zkc"
	"zkc.dev/zkc/internal/cadata"
)

func newTestStore(t testing.TB) *Store {
	ctx := context.Background()
	db, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db, zkc.Hash, 1<<20)
}

func TestMigrateIdempotent(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, Migrate(ctx, db))
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.Post(ctx, nil, []byte{1, 2, 3})
	require.NoError(t, err)
	// posting twice is fine
	_, err = s.Post(ctx, nil, []byte{1, 2, 3})
	require.NoError(t, err)

	ok, err := s.Exists(ctx, &id)
	require.NoError(t, err)
	require.True(t, ok)

	buf := make([]byte, 8)
	n, err := s.Get(ctx, &id, nil, buf)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, buf[:n])

	require.NoError(t, s.Delete(ctx, &id))
	_, err = s.Get(ctx, &id, nil, buf)
	require.True(t, cadata.IsErrNotFound(err))
}

func TestArtifacts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	fp := cadata.ID{7}
	_, _, err := s.GetArtifact(ctx, fp)
	require.True(t, cadata.IsErrNotFound(err))

	blob, err := s.Post(ctx, nil, []byte("code"))
	require.NoError(t, err)
	require.NoError(t, s.PutArtifact(ctx, fp, blob, []byte(`{"a":1}`)))

	gotBlob, meta, err := s.GetArtifact(ctx, fp)
	require.NoError(t, err)
	require.Equal(t, blob, gotBlob)
	require.Equal(t, `{"a":1}`, string(meta))
}
