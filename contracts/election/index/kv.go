package index

import (
	"bytes"
	"context"
	"encoding/binary"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"go.dedis.ch/pemilu"
	"go.dedis.ch/pemilu/chain"
	"go.dedis.ch/pemilu/store/kv"
	"golang.org/x/xerrors"
)

var (
	keyLast  = []byte("last")
	keyFrom  = []byte("from")
	prefixes = []byte("m/")
)

// kvIndex is an index that saves the sets and the last indexed block in the
// database, so that only the new blocks are requested.
//
// - implements index.Index
type kvIndex struct {
	sync.Mutex
	scanner

	db     kv.DB
	bucket []byte
	from   uint64
	logger zerolog.Logger
}

// NewKVIndex returns an index persisted in the database. The history of the
// contract is read starting at the given block.
func NewKVIndex(db kv.DB, backend chain.Backend, contract common.Address,
	from, maxRange uint64, sets ...Set) Index {

	return &kvIndex{
		scanner: scanner{
			backend:  backend,
			contract: contract,
			sets:     sets,
			maxRange: maxRange,
		},
		db:     db,
		bucket: []byte("index/" + strings.ToLower(contract.Hex())),
		from:   from,
		logger: pemilu.Logger.With().Str("role", "index").Logger(),
	}
}

// Members implements index.Index. It synchronizes the index then returns the
// members stored in the database.
func (idx *kvIndex) Members(ctx context.Context, set string) ([]common.Hash, error) {
	if !idx.hasSet(set) {
		return nil, xerrors.Errorf("unknown set '%s'", set)
	}

	err := idx.Sync(ctx)
	if err != nil {
		return nil, xerrors.Errorf("sync failed: %v", err)
	}

	members := make(map[common.Hash]position)
	prefix := memberPrefix(set)

	err = idx.db.View(idx.bucket, func(b kv.Bucket) error {
		return b.Scan(prefix, func(k, v []byte) error {
			pos, err := positionFromBytes(v)
			if err != nil {
				return xerrors.Errorf("corrupted member: %v", err)
			}

			members[common.BytesToHash(k[len(prefix):])] = pos

			return nil
		})
	})

	// The bucket does not exist when the starting block is ahead of the
	// chain.
	if err != nil && idx.exists() {
		return nil, xerrors.Errorf("failed to read: %v", err)
	}

	return sortMembers(members), nil
}

// Sync implements index.Index. It reads the events of the blocks produced
// since the last synchronization.
func (idx *kvIndex) Sync(ctx context.Context) error {
	idx.Lock()
	defer idx.Unlock()

	head, err := idx.backend.BlockNumber(ctx)
	if err != nil {
		return xerrors.Errorf("failed to get head: %v", err)
	}

	start, err := idx.start()
	if err != nil {
		return xerrors.Errorf("failed to read state: %v", err)
	}

	if start > head {
		return nil
	}

	err = idx.scan(ctx, start, head, func(end uint64, changes []change) error {
		err := idx.db.Update(idx.bucket, func(b kv.Bucket) error {
			for _, c := range changes {
				key := append(memberPrefix(c.set), c.member.Bytes()...)

				var err error
				if c.added {
					err = b.Set(key, c.pos.bytes())
				} else {
					err = b.Delete(key)
				}

				if err != nil {
					return xerrors.Errorf("failed to write member: %v", err)
				}
			}

			err := b.Set(keyFrom, uint64Bytes(idx.from))
			if err != nil {
				return xerrors.Errorf("failed to write origin: %v", err)
			}

			return b.Set(keyLast, uint64Bytes(end))
		})
		if err != nil {
			return xerrors.Errorf("failed to update: %v", err)
		}

		idx.logger.Debug().
			Uint64("block", end).
			Int("changes", len(changes)).
			Msg("index updated")

		return nil
	})

	if err != nil {
		return xerrors.Errorf("scan failed: %v", err)
	}

	return nil
}

// Reset implements index.Index. It deletes the state of the index.
func (idx *kvIndex) Reset() error {
	idx.Lock()
	defer idx.Unlock()

	err := idx.db.DeleteBucket(idx.bucket)
	if err != nil {
		return xerrors.Errorf("failed to reset: %v", err)
	}

	return nil
}

// start returns the first block to scan. The state is dropped when it was
// built from another starting block.
func (idx *kvIndex) start() (uint64, error) {
	var last, from []byte

	err := idx.db.View(idx.bucket, func(b kv.Bucket) error {
		last = b.Get(keyLast)
		from = b.Get(keyFrom)
		return nil
	})

	if err != nil || last == nil {
		return idx.from, nil
	}

	if !bytes.Equal(from, uint64Bytes(idx.from)) {
		idx.logger.Info().Uint64("from", idx.from).Msg("starting block changed, index is rebuilt")

		err = idx.db.DeleteBucket(idx.bucket)
		if err != nil {
			return 0, err
		}

		return idx.from, nil
	}

	return binary.BigEndian.Uint64(last) + 1, nil
}

func (idx *kvIndex) exists() bool {
	return idx.db.View(idx.bucket, func(kv.Bucket) error { return nil }) == nil
}

func memberPrefix(set string) []byte {
	return append(append(append([]byte{}, prefixes...), set...), '/')
}

func uint64Bytes(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)

	return buf
}
