package election

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/pemilu"
	"go.dedis.ch/pemilu/chain"
	"go.dedis.ch/pemilu/chain/txbuilder"
	"go.dedis.ch/pemilu/contracts/election/types"
	"go.dedis.ch/pemilu/internal/testing/fake"
	"golang.org/x/xerrors"
)

const validCID = "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"

var (
	contractAddr = common.HexToAddress("0xc0")
	ownerAddr    = common.HexToAddress("0xaa")
	adminAddr    = common.HexToAddress("0xab")
	voterAddr    = common.HexToAddress("0xbb")
	otherAddr    = common.HexToAddress("0xbc")
)

func TestService_Status(t *testing.T) {
	srv, _, _ := makeService(t)

	status, err := srv.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, types.StatusResponse{
		ChainID:     1337,
		BlockNumber: 10,
		Contract:    contractAddr.Hex(),
		Version:     pemilu.Version,
	}, status)

	require.Equal(t, contractAddr, srv.Address())
	require.NotNil(t, srv.Index())

	srv.backend = fake.NewBadBackend()

	_, err = srv.Status(context.Background())
	require.EqualError(t, err, fake.Err("failed to get chain id"))
}

func TestService_Roles(t *testing.T) {
	srv, _, contract := makeService(t)

	owner, err := srv.Owner(context.Background())
	require.NoError(t, err)
	require.Equal(t, ownerAddr, owner)

	admin, err := srv.IsAdmin(context.Background(), adminAddr)
	require.NoError(t, err)
	require.True(t, admin)

	admin, err = srv.IsAdmin(context.Background(), voterAddr)
	require.NoError(t, err)
	require.False(t, admin)

	contract.Revert = "paused"

	_, err = srv.Owner(context.Background())
	require.EqualError(t, err, "call to 'owner' failed: execution reverted: paused")

	_, err = srv.IsAdmin(context.Background(), voterAddr)
	require.EqualError(t, err, "call to 'admins' failed: execution reverted: paused")
}

func TestService_Candidate(t *testing.T) {
	srv, backend, contract := makeService(t)

	id := contract.AddCandidate(backend, "Alice", validCID)

	candidate, err := srv.Candidate(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, types.Candidate{ID: id, Name: "Alice", ImageCID: validCID}, candidate)

	_, err = srv.Candidate(context.Background(), 42)
	require.Equal(t, ErrCandidateNotFound, err)

	count, err := srv.CandidateCount(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(1), count)
}

func TestService_Candidates(t *testing.T) {
	srv, backend, contract := makeService(t)

	contract.AddCandidate(backend, "Alice", "")
	bob := contract.AddCandidate(backend, "Bob", "")
	contract.AddCandidate(backend, "Carol", "")
	contract.RemoveCandidate(backend, bob)

	candidates, err := srv.Candidates(context.Background())
	require.NoError(t, err)
	require.Equal(t, []types.Candidate{
		{ID: 1, Name: "Alice"},
		{ID: 3, Name: "Carol"},
	}, candidates)

	// A candidate known by the index but not by the contract is skipped.
	contract.Lock()
	delete(contract.Candidates, 3)
	contract.Unlock()

	candidates, err = srv.Candidates(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	srv.backend = fake.NewBadBackend()
	srv.index = badIndex{}

	_, err = srv.Candidates(context.Background())
	require.EqualError(t, err, fake.Err("failed to read index"))
}

func TestService_Cache_Candidates(t *testing.T) {
	srv, backend, contract := makeService(t, WithCacheTTL(time.Hour))

	contract.AddCandidate(backend, "Alice", "")

	candidates, err := srv.Candidates(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	contract.AddCandidate(backend, "Bob", "")

	candidates, err = srv.Candidates(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	srv.InvalidateCache()

	candidates, err = srv.Candidates(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	srv, _, _ = makeService(t, WithCacheTTL(time.Hour), WithCacheTTL(0))
	require.Nil(t, srv.cache)
	srv.InvalidateCache()
}

func TestService_Voters(t *testing.T) {
	srv, backend, contract := makeService(t, WithCacheTTL(time.Hour))

	contract.RegisterVoter(backend, voterAddr)
	contract.RegisterVoter(backend, otherAddr)
	contract.RemoveVoter(backend, voterAddr)

	backend.SetHead(11, 1001)
	contract.RegisterVoter(backend, voterAddr)

	contract.Lock()
	contract.Voters[otherAddr] = fake.VoterEntry{Registered: true, Voted: true, Candidate: 2}
	contract.Unlock()

	voters, err := srv.Voters(context.Background())
	require.NoError(t, err)
	require.Equal(t, []types.Voter{
		{
			ID:              1,
			Address:         otherAddr.Hex(),
			IsRegistered:    true,
			HasVoted:        true,
			VoteCandidateID: 2,
		},
		{
			ID:           2,
			Address:      voterAddr.Hex(),
			IsRegistered: true,
		},
	}, voters)

	count, err := srv.VoterCount(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(2), count)

	srv.InvalidateCache()
	srv.index = badIndex{}

	_, err = srv.Voters(context.Background())
	require.EqualError(t, err, fake.Err("failed to read index"))
}

func TestService_VotingPeriod(t *testing.T) {
	srv, _, contract := makeService(t)

	contract.Start = 900
	contract.End = 1100

	period, err := srv.VotingPeriod(context.Background())
	require.NoError(t, err)
	require.Equal(t, types.VotingPeriod{
		StartTime:   900,
		EndTime:     1100,
		CurrentTime: 1000,
		IsSet:       true,
		IsActive:    true,
	}, period)
}

func TestService_Winner(t *testing.T) {
	srv, backend, contract := makeService(t)

	_, err := srv.Winner(context.Background(), voterAddr)
	require.Equal(t, ErrNotAdmin, err)

	_, err = srv.Winner(context.Background(), adminAddr)
	require.EqualError(t, err, "call to 'getWinner' failed: execution reverted: No candidates")

	contract.AddCandidate(backend, "Alice", "")
	bob := contract.AddCandidate(backend, "Bob", "")

	contract.Lock()
	contract.Candidates[bob] = fake.CandidateEntry{Name: "Bob", Votes: 3}
	contract.Unlock()

	winner, err := srv.Winner(context.Background(), adminAddr)
	require.NoError(t, err)
	require.Equal(t, types.Winner{ID: bob, Name: "Bob", VoteCount: 3}, winner)
}

func TestService_AddAdmin(t *testing.T) {
	srv, backend, _ := makeService(t)

	tx, err := srv.AddAdmin(context.Background(), ownerAddr, voterAddr)
	require.NoError(t, err)
	require.Equal(t, ownerAddr.Hex(), tx.From)
	require.Equal(t, contractAddr.Hex(), tx.To)
	require.Equal(t, uint64(60000), tx.Gas)
	require.Equal(t, uint64(7), tx.Nonce)
	require.Equal(t, expectData(t, srv, "addAdmin", voterAddr), tx.Data)
	require.Equal(t, ownerAddr, backend.Estimates[0].From)

	_, err = srv.AddAdmin(context.Background(), adminAddr, voterAddr)
	require.Equal(t, ErrNotOwner, err)

	tx, err = srv.RemoveAdmin(context.Background(), ownerAddr, adminAddr)
	require.NoError(t, err)
	require.Equal(t, expectData(t, srv, "removeAdmin", adminAddr), tx.Data)

	_, err = srv.RemoveAdmin(context.Background(), adminAddr, adminAddr)
	require.Equal(t, ErrNotOwner, err)

	srv.backend = fake.NewBadBackend()

	_, err = srv.AddAdmin(context.Background(), ownerAddr, voterAddr)
	require.EqualError(t, err, fake.Err("failed to get owner: failed to call 'owner'"))
}

func TestService_AddCandidate(t *testing.T) {
	srv, _, _ := makeService(t)

	tx, err := srv.AddCandidate(context.Background(), adminAddr, " Alice ", validCID)
	require.NoError(t, err)
	require.Equal(t, expectData(t, srv, "addCandidate", "Alice", validCID), tx.Data)

	tx, err = srv.AddCandidate(context.Background(), adminAddr, "Bob", "")
	require.NoError(t, err)
	require.Equal(t, expectData(t, srv, "addCandidate", "Bob", ""), tx.Data)

	_, err = srv.AddCandidate(context.Background(), voterAddr, "Alice", "")
	require.Equal(t, ErrNotAdmin, err)

	_, err = srv.AddCandidate(context.Background(), adminAddr, "  ", "")
	require.Equal(t, ErrInvalidCandidate, err)

	_, err = srv.AddCandidate(context.Background(), adminAddr, "Alice", "not a cid")
	require.Equal(t, ErrInvalidCID, err)
}

func TestService_RemoveCandidate(t *testing.T) {
	srv, backend, contract := makeService(t)

	id := contract.AddCandidate(backend, "Alice", "")

	_, err := srv.RemoveCandidate(context.Background(), adminAddr, id)
	require.NoError(t, err)

	_, err = srv.RemoveCandidate(context.Background(), adminAddr, 42)
	require.Equal(t, ErrCandidateNotFound, err)

	_, err = srv.RemoveCandidate(context.Background(), voterAddr, id)
	require.Equal(t, ErrNotAdmin, err)
}

func TestService_RegisterVoter(t *testing.T) {
	srv, backend, contract := makeService(t)

	tx, err := srv.RegisterVoter(context.Background(), voterAddr)
	require.NoError(t, err)
	require.Equal(t, voterAddr.Hex(), tx.From)
	require.Equal(t, expectData(t, srv, "registerVoter"), tx.Data)

	contract.RegisterVoter(backend, voterAddr)

	_, err = srv.RegisterVoter(context.Background(), voterAddr)
	require.Equal(t, ErrAlreadyRegistered, err)
}

func TestService_RemoveVoter(t *testing.T) {
	srv, backend, contract := makeService(t)

	_, err := srv.RemoveVoter(context.Background(), adminAddr, voterAddr)
	require.Equal(t, ErrNotRegistered, err)

	contract.RegisterVoter(backend, voterAddr)

	tx, err := srv.RemoveVoter(context.Background(), adminAddr, voterAddr)
	require.NoError(t, err)
	require.Equal(t, expectData(t, srv, "removeVoter", voterAddr), tx.Data)

	_, err = srv.RemoveVoter(context.Background(), voterAddr, voterAddr)
	require.Equal(t, ErrNotAdmin, err)
}

func TestService_Vote(t *testing.T) {
	srv, backend, contract := makeService(t)

	id := contract.AddCandidate(backend, "Alice", "")

	_, err := srv.Vote(context.Background(), voterAddr, id)

	var periodErr *PeriodError
	require.True(t, xerrors.As(err, &periodErr))
	require.Equal(t, types.PeriodDetails{CurrentTime: 1000}, periodErr.Details)
	require.EqualError(t, err, "Voting period is not active")

	contract.Start = 500
	contract.End = 2000

	_, err = srv.Vote(context.Background(), voterAddr, id)
	require.Equal(t, ErrNotRegistered, err)

	contract.RegisterVoter(backend, voterAddr)

	_, err = srv.Vote(context.Background(), voterAddr, 42)
	require.Equal(t, ErrCandidateNotFound, err)

	tx, err := srv.Vote(context.Background(), voterAddr, id)
	require.NoError(t, err)
	require.Equal(t, expectData(t, srv, "vote", bigInt(id)), tx.Data)

	contract.Lock()
	contract.Voters[voterAddr] = fake.VoterEntry{Registered: true, Voted: true, Candidate: id}
	contract.Unlock()

	_, err = srv.Vote(context.Background(), voterAddr, id)
	require.Equal(t, ErrAlreadyVoted, err)

	srv.backend = fake.NewBadBackend()

	_, err = srv.Vote(context.Background(), voterAddr, id)
	require.EqualError(t, err,
		fake.Err("failed to get voting period: failed to call 'getVotingPeriod'"))
}

func TestService_SetVotingPeriod(t *testing.T) {
	srv, _, _ := makeService(t)

	tx, err := srv.SetVotingPeriod(context.Background(), adminAddr, 100, 200)
	require.NoError(t, err)
	require.Equal(t, expectData(t, srv, "setVotingPeriod", bigInt(100), bigInt(200)), tx.Data)

	_, err = srv.SetVotingPeriod(context.Background(), adminAddr, 0, 200)
	require.Equal(t, ErrInvalidPeriod, err)

	_, err = srv.SetVotingPeriod(context.Background(), adminAddr, 200, 200)
	require.Equal(t, ErrInvalidPeriod, err)

	_, err = srv.SetVotingPeriod(context.Background(), voterAddr, 100, 200)
	require.Equal(t, ErrNotAdmin, err)
}

func TestService_StopVotingPeriod(t *testing.T) {
	srv, backend, _ := makeService(t)

	tx, err := srv.StopVotingPeriod(context.Background(), adminAddr)
	require.NoError(t, err)
	require.Equal(t, expectData(t, srv, "stopVotingPeriod"), tx.Data)

	_, err = srv.StopVotingPeriod(context.Background(), voterAddr)
	require.Equal(t, ErrNotAdmin, err)

	backend.GasErr = xerrors.New("execution reverted: Voting period not set")

	_, err = srv.StopVotingPeriod(context.Background(), adminAddr)
	require.EqualError(t, err,
		"failed to build transaction: failed to estimate gas: execution reverted: Voting period not set")

	revert := chain.AsRevert(err)
	require.NotNil(t, revert)
	require.Equal(t, "Voting period not set", revert.Reason)

	srv.backend = fake.NewBadBackend()

	_, err = srv.StopVotingPeriod(context.Background(), adminAddr)
	require.EqualError(t, err, fake.Err("failed to check admin: failed to call 'admins'"))
}

// -----------------------------------------------------------------------------
// Utility functions

func makeService(t *testing.T, opts ...ServiceOption) (*Service, *fake.Backend, *fake.Contract) {
	def, err := LoadABI("")
	require.NoError(t, err)

	backend := fake.NewBackend(10, 1000)

	contract := fake.NewContract(def, contractAddr, ownerAddr)
	contract.Admins[adminAddr] = true
	contract.Attach(backend)

	srv := NewService(backend, txbuilder.NewBuilder(backend, 20), contractAddr, def, opts...)

	return srv, backend, contract
}

func expectData(t *testing.T, srv *Service, method string, args ...interface{}) string {
	data, err := srv.abi.Pack(method, args...)
	require.NoError(t, err)

	return hexutil.Encode(data)
}

type badIndex struct{}

func (badIndex) Members(context.Context, string) ([]common.Hash, error) {
	return nil, fake.GetError()
}

func (badIndex) Sync(context.Context) error {
	return fake.GetError()
}

func (badIndex) Reset() error {
	return fake.GetError()
}

func bigInt(v uint64) *big.Int {
	return new(big.Int).SetUint64(v)
}
