package fake

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/xerrors"
)

// CandidateEntry is a candidate stored by the fake contract.
type CandidateEntry struct {
	Name     string
	ImageCID string
	Votes    uint64
}

// VoterEntry is a voter stored by the fake contract.
type VoterEntry struct {
	Registered bool
	Voted      bool
	Candidate  uint64
}

// Contract is a fake election contract answering the calls of a fake backend.
type Contract struct {
	sync.Mutex

	ABI        abi.ABI
	Address    common.Address
	Owner      common.Address
	Admins     map[common.Address]bool
	Candidates map[uint64]CandidateEntry
	Voters     map[common.Address]VoterEntry
	Count      uint64
	Start      uint64
	End        uint64
	Revert     string
}

// NewContract returns an empty fake contract.
func NewContract(def abi.ABI, address, owner common.Address) *Contract {
	return &Contract{
		ABI:        def,
		Address:    address,
		Owner:      owner,
		Admins:     map[common.Address]bool{owner: true},
		Candidates: make(map[uint64]CandidateEntry),
		Voters:     make(map[common.Address]VoterEntry),
	}
}

// Attach makes the backend answer the calls with the contract.
func (c *Contract) Attach(backend *Backend) {
	backend.CallFn = c.Call
}

// AddCandidate stores a candidate and emits the event in the backend at its
// current head.
func (c *Contract) AddCandidate(backend *Backend, name, image string) uint64 {
	c.Lock()
	c.Count++
	id := c.Count
	c.Candidates[id] = CandidateEntry{Name: name, ImageCID: image}
	c.Unlock()

	c.emit(backend, "CandidateAdded", common.BigToHash(new(big.Int).SetUint64(id)))

	return id
}

// RemoveCandidate deletes a candidate and emits the event.
func (c *Contract) RemoveCandidate(backend *Backend, id uint64) {
	c.Lock()
	delete(c.Candidates, id)
	c.Unlock()

	c.emit(backend, "CandidateRemoved", common.BigToHash(new(big.Int).SetUint64(id)))
}

// RegisterVoter registers a voter and emits the event.
func (c *Contract) RegisterVoter(backend *Backend, voter common.Address) {
	c.Lock()
	c.Voters[voter] = VoterEntry{Registered: true}
	c.Unlock()

	c.emit(backend, "VoterRegistered", common.BytesToHash(voter.Bytes()))
}

// RemoveVoter removes a voter and emits the event.
func (c *Contract) RemoveVoter(backend *Backend, voter common.Address) {
	c.Lock()
	delete(c.Voters, voter)
	c.Unlock()

	c.emit(backend, "VoterRemoved", common.BytesToHash(voter.Bytes()))
}

// Call implements the handler of the fake backend.
func (c *Contract) Call(msg ethereum.CallMsg) ([]byte, error) {
	c.Lock()
	defer c.Unlock()

	if c.Revert != "" {
		return nil, xerrors.Errorf("execution reverted: %s", c.Revert)
	}

	if len(msg.Data) < 4 {
		return nil, xerrors.New("missing selector")
	}

	method, err := c.ABI.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}

	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}

	switch method.Name {
	case "owner":
		return method.Outputs.Pack(c.Owner)
	case "admins":
		return method.Outputs.Pack(c.Admins[args[0].(common.Address)])
	case "candidateCount":
		return method.Outputs.Pack(new(big.Int).SetUint64(c.Count))
	case "candidates":
		id := args[0].(*big.Int).Uint64()
		entry, found := c.Candidates[id]
		if !found {
			id = 0
		}

		return method.Outputs.Pack(new(big.Int).SetUint64(id), entry.Name,
			new(big.Int).SetUint64(entry.Votes), entry.ImageCID, found)
	case "voterCount":
		return method.Outputs.Pack(big.NewInt(int64(len(c.Voters))))
	case "voters":
		entry := c.Voters[args[0].(common.Address)]

		return method.Outputs.Pack(entry.Registered, entry.Voted,
			new(big.Int).SetUint64(entry.Candidate))
	case "getVotingPeriod":
		return method.Outputs.Pack(new(big.Int).SetUint64(c.Start),
			new(big.Int).SetUint64(c.End))
	case "getWinner":
		if len(c.Candidates) == 0 {
			return nil, xerrors.New("execution reverted: No candidates")
		}

		var winner uint64
		for id, entry := range c.Candidates {
			best, found := c.Candidates[winner]
			if !found || entry.Votes > best.Votes || (entry.Votes == best.Votes && id < winner) {
				winner = id
			}
		}

		entry := c.Candidates[winner]

		return method.Outputs.Pack(new(big.Int).SetUint64(winner), entry.Name,
			new(big.Int).SetUint64(entry.Votes))
	default:
		return nil, xerrors.Errorf("method '%s' is not a view", method.Name)
	}
}

func (c *Contract) emit(backend *Backend, event string, member common.Hash) {
	backend.Lock()
	number := backend.Header.Number.Uint64()
	index := uint(len(backend.Logs))
	backend.Unlock()

	backend.AddLog(types.Log{
		Address:     c.Address,
		Topics:      []common.Hash{c.ABI.Events[event].ID, member},
		BlockNumber: number,
		Index:       index,
	})
}
