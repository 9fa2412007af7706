package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.brendoncarroll.net/stdctx/logctx"
	"go.uber.org/zap"

	"zkc.dev/zkc"
	"zkc.dev/zkc/internal/cadata"
	"zkc.dev/zkc/internal/sqlstores"
	"zkc.dev/zkc/internal/stores"
)

func Context(t testing.TB) context.Context {
	ctx := context.Background()
	ctx, cf := context.WithCancel(ctx)
	t.Cleanup(cf)
	l, err := zap.NewDevelopment()
	require.NoError(t, err)
	ctx = logctx.NewContext(ctx, l)
	return ctx
}

func NewStore(t testing.TB) *stores.Mem {
	return stores.NewMem(func(salt *cadata.ID, x []byte) (ret cadata.ID) {
		return zkc.Hash(salt, x)
	}, 1<<21)
}

// NewDBStore returns a store backed by an in memory SQLite database.
func NewDBStore(t testing.TB) *sqlstores.Store {
	db, err := sqlstores.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlstores.NewStore(db, zkc.Hash, 1<<21)
}
