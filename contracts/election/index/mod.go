// Package index reconstructs sets of members out of the events of a contract.
//
// A set is described by the topic of the event adding a member and the one
// removing it. The member is the first indexed argument of both events, like
// the identifier of a candidate or the address of a voter. The events are
// replayed in the order of the chain so that a member removed then added again
// is part of the set.
package index

import (
	"context"
	"encoding/binary"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.dedis.ch/pemilu/chain"
	"golang.org/x/xerrors"
)

// DefaultMaxRange is the largest number of blocks requested in a single
// eth_getLogs call. Public endpoints usually refuse larger ranges.
const DefaultMaxRange = 5000

// Set is the definition of a set of members.
type Set struct {
	Name    string
	Added   common.Hash
	Removed common.Hash
}

// Index provides the members of the sets of a contract.
type Index interface {
	// Members returns the members of the set in the order they were added.
	Members(ctx context.Context, set string) ([]common.Hash, error)

	// Sync brings the index up to the head of the chain.
	Sync(ctx context.Context) error

	// Reset drops the state of the index.
	Reset() error
}

// position is the place of an event in the chain.
type position struct {
	block uint64
	index uint64
}

func (p position) less(o position) bool {
	if p.block != o.block {
		return p.block < o.block
	}

	return p.index < o.index
}

func (p position) bytes() []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf, p.block)
	binary.BigEndian.PutUint64(buf[8:], p.index)

	return buf
}

func positionFromBytes(buf []byte) (position, error) {
	if len(buf) != 16 {
		return position{}, xerrors.Errorf("invalid position length %d", len(buf))
	}

	return position{
		block: binary.BigEndian.Uint64(buf),
		index: binary.BigEndian.Uint64(buf[8:]),
	}, nil
}

// state is the content of the sets, indexed by name then by member.
type state map[string]map[common.Hash]position

// change is the effect of an event on a set.
type change struct {
	set    string
	member common.Hash
	pos    position
	added  bool
}

// scanner fetches the events of the sets in bounded windows of blocks.
type scanner struct {
	backend  chain.Backend
	contract common.Address
	sets     []Set
	maxRange uint64
}

func (s scanner) topics() []common.Hash {
	topics := make([]common.Hash, 0, len(s.sets)*2)
	for _, set := range s.sets {
		topics = append(topics, set.Added, set.Removed)
	}

	return topics
}

// scan returns the changes in the range of blocks, sorted in the order of the
// chain. The callback is invoked after each window so that the progress can be
// saved.
func (s scanner) scan(ctx context.Context, from, to uint64, fn func(end uint64, changes []change) error) error {
	maxRange := s.maxRange
	if maxRange == 0 {
		maxRange = DefaultMaxRange
	}

	for start := from; start <= to; {
		end := start + maxRange - 1
		if end > to || end < start {
			end = to
		}

		query := ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(start),
			ToBlock:   new(big.Int).SetUint64(end),
			Addresses: []common.Address{s.contract},
			Topics:    [][]common.Hash{s.topics()},
		}

		logs, err := s.backend.FilterLogs(ctx, query)
		if err != nil {
			return xerrors.Errorf("failed to get logs [%d, %d]: %v", start, end, err)
		}

		err = fn(end, s.changes(logs))
		if err != nil {
			return err
		}

		if end == to {
			break
		}

		start = end + 1
	}

	return nil
}

func (s scanner) changes(logs []types.Log) []change {
	sort.SliceStable(logs, func(i, j int) bool {
		return position{block: logs[i].BlockNumber, index: uint64(logs[i].Index)}.
			less(position{block: logs[j].BlockNumber, index: uint64(logs[j].Index)})
	})

	changes := make([]change, 0, len(logs))

	for _, log := range logs {
		if log.Removed || len(log.Topics) < 2 {
			continue
		}

		for _, set := range s.sets {
			var added bool

			switch log.Topics[0] {
			case set.Added:
				added = true
			case set.Removed:
				added = false
			default:
				continue
			}

			changes = append(changes, change{
				set:    set.Name,
				member: log.Topics[1],
				pos:    position{block: log.BlockNumber, index: uint64(log.Index)},
				added:  added,
			})
		}
	}

	return changes
}

func (s scanner) hasSet(name string) bool {
	for _, set := range s.sets {
		if set.Name == name {
			return true
		}
	}

	return false
}

func (st state) apply(changes []change) {
	for _, c := range changes {
		members, found := st[c.set]
		if !found {
			members = make(map[common.Hash]position)
			st[c.set] = members
		}

		if c.added {
			members[c.member] = c.pos
		} else {
			delete(members, c.member)
		}
	}
}

func sortMembers(members map[common.Hash]position) []common.Hash {
	res := make([]common.Hash, 0, len(members))
	for member := range members {
		res = append(res, member)
	}

	sort.Slice(res, func(i, j int) bool {
		return members[res[i]].less(members[res[j]])
	})

	return res
}

// scanIndex is an index without storage that reads the complete history of
// the contract on every request.
//
// - implements index.Index
type scanIndex struct {
	scanner
	from uint64
}

// NewScanIndex returns an index that reads the history starting at the given
// block on every request.
func NewScanIndex(backend chain.Backend, contract common.Address, from, maxRange uint64, sets ...Set) Index {
	return scanIndex{
		scanner: scanner{
			backend:  backend,
			contract: contract,
			sets:     sets,
			maxRange: maxRange,
		},
		from: from,
	}
}

// Members implements index.Index. It replays the complete history of the
// contract.
func (idx scanIndex) Members(ctx context.Context, set string) ([]common.Hash, error) {
	if !idx.hasSet(set) {
		return nil, xerrors.Errorf("unknown set '%s'", set)
	}

	head, err := idx.backend.BlockNumber(ctx)
	if err != nil {
		return nil, xerrors.Errorf("failed to get head: %v", err)
	}

	st := make(state)

	if idx.from <= head {
		err = idx.scan(ctx, idx.from, head, func(_ uint64, changes []change) error {
			st.apply(changes)
			return nil
		})
		if err != nil {
			return nil, xerrors.Errorf("scan failed: %v", err)
		}
	}

	return sortMembers(st[set]), nil
}

// Sync implements index.Index. There is nothing to synchronize.
func (idx scanIndex) Sync(context.Context) error {
	return nil
}

// Reset implements index.Index. There is nothing to reset.
func (idx scanIndex) Reset() error {
	return nil
}
