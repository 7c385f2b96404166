package index

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/pemilu/internal/testing/fake"
	"go.dedis.ch/pemilu/store/kv"
)

func TestKVIndex_Members(t *testing.T) {
	db := makeDB(t)
	backend := makeBackend()

	idx := NewKVIndex(db, backend, contract, 1, 0, sets...)

	members, err := idx.Members(context.Background(), "candidates")
	require.NoError(t, err)
	require.Equal(t, []common.Hash{memberB, memberA}, members)
	require.Len(t, backend.Queries, 1)

	// Only the new blocks are requested.
	backend.AddLog(makeLog(candidateRemoved, memberB, 8, 0))
	backend.SetHead(9, 0)

	members, err = idx.Members(context.Background(), "candidates")
	require.NoError(t, err)
	require.Equal(t, []common.Hash{memberA}, members)
	require.Len(t, backend.Queries, 2)
	require.Equal(t, uint64(7), backend.Queries[1].FromBlock.Uint64())

	// Nothing new.
	members, err = idx.Members(context.Background(), "voters")
	require.NoError(t, err)
	require.Equal(t, []common.Hash{memberA}, members)
	require.Len(t, backend.Queries, 2)

	// A new instance uses the saved state.
	idx = NewKVIndex(db, backend, contract, 1, 0, sets...)
	backend.SetHead(10, 0)

	require.NoError(t, idx.Sync(context.Background()))
	require.Len(t, backend.Queries, 3)
	require.Equal(t, uint64(10), backend.Queries[2].FromBlock.Uint64())

	require.NoError(t, idx.Reset())

	members, err = idx.Members(context.Background(), "candidates")
	require.NoError(t, err)
	require.Equal(t, []common.Hash{memberA}, members)
	require.Len(t, backend.Queries, 4)
	require.Equal(t, uint64(1), backend.Queries[3].FromBlock.Uint64())
}

func TestKVIndex_FromChanged_Sync(t *testing.T) {
	db := makeDB(t)
	backend := makeBackend()

	idx := NewKVIndex(db, backend, contract, 1, 0, sets...)
	require.NoError(t, idx.Sync(context.Background()))

	// Starting after the addition of A in block 5.
	idx = NewKVIndex(db, backend, contract, 6, 0, sets...)

	members, err := idx.Members(context.Background(), "candidates")
	require.NoError(t, err)
	require.Empty(t, members)
	require.Equal(t, uint64(6), backend.Queries[1].FromBlock.Uint64())
}

func TestKVIndex_AheadOfChain_Members(t *testing.T) {
	idx := NewKVIndex(makeDB(t), makeBackend(), contract, 100, 0, sets...)

	members, err := idx.Members(context.Background(), "voters")
	require.NoError(t, err)
	require.Empty(t, members)
}

func TestKVIndex_Failures(t *testing.T) {
	db := makeDB(t)

	idx := NewKVIndex(db, fake.NewBadBackend(), contract, 0, 0, sets...)

	_, err := idx.Members(context.Background(), "unknown")
	require.EqualError(t, err, "unknown set 'unknown'")

	_, err = idx.Members(context.Background(), "voters")
	require.EqualError(t, err, fake.Err("sync failed: failed to get head"))

	backend := makeBackend()
	backend.LogErr = fake.NewCounter(1)

	idx = NewKVIndex(db, backend, contract, 0, 3, sets...)

	err = idx.Sync(context.Background())
	require.EqualError(t, err, fake.Err("scan failed: failed to get logs [3, 5]"))

	// The first window has been saved.
	backend.LogErr = nil

	require.NoError(t, idx.Sync(context.Background()))
	require.Equal(t, uint64(3), backend.Queries[2].FromBlock.Uint64())
}

// -----------------------------------------------------------------------------
// Utility functions

func makeDB(t *testing.T) kv.DB {
	db, err := kv.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	return db
}
