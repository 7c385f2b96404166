// Package election implements the client side of the election contract.
//
// Reads are plain contract calls. Writes are checked against the state of the
// contract then returned as unsigned transactions, to be signed and sent by
// the wallet of the sender. The contract stays the only authority: a check
// that passes here can still revert on-chain.
//
// The contract does not expose the lists of candidates and voters. They are
// rebuilt from the events by an index.
package election

import (
	"context"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ipfs/go-cid"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.dedis.ch/pemilu"
	"go.dedis.ch/pemilu/chain"
	"go.dedis.ch/pemilu/chain/txbuilder"
	"go.dedis.ch/pemilu/contracts/election/index"
	"go.dedis.ch/pemilu/contracts/election/types"
	"golang.org/x/xerrors"
)

var promTransactions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "pemilu_election_transactions_total",
	Help: "number of transactions built for the election contract",
}, []string{"method", "status"})

func init() {
	pemilu.PromCollectors = append(pemilu.PromCollectors, promTransactions)
}

const (
	keyCandidates = "candidates"
	keyVoters     = "voters"
)

// TxBuilder creates the unsigned transaction of a contract call.
type TxBuilder interface {
	Build(ctx context.Context, from, to common.Address, data []byte) (txbuilder.RawTransaction, error)
}

// Service provides the operations on the election contract.
type Service struct {
	binding

	builder TxBuilder
	index   index.Index
	cache   *cache.Cache
	logger  zerolog.Logger
}

// ServiceOption is the type of option to create a service.
type ServiceOption func(*Service)

// WithIndex sets the index providing the lists of candidates and voters.
func WithIndex(idx index.Index) ServiceOption {
	return func(s *Service) {
		s.index = idx
	}
}

// WithCacheTTL keeps the lists of candidates and voters for the given
// duration. The lists are not cached when the duration is zero.
func WithCacheTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.cache = cache.New(ttl, 2*ttl)
		} else {
			s.cache = nil
		}
	}
}

// NewService returns the service of the contract at the address. By default,
// the lists are read from the complete history of the chain on every request.
func NewService(backend chain.Backend, builder TxBuilder, address common.Address,
	def abi.ABI, opts ...ServiceOption) *Service {

	s := &Service{
		binding: binding{
			backend: backend,
			address: address,
			abi:     def,
		},
		builder: builder,
		index:   index.NewScanIndex(backend, address, 0, 0, Sets(def)...),
		logger:  pemilu.Logger.With().Str("role", "election").Logger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Address returns the address of the contract.
func (s *Service) Address() common.Address {
	return s.address
}

// Index returns the index of the lists of the contract.
func (s *Service) Index() index.Index {
	return s.index
}

// Status returns the state of the endpoint.
func (s *Service) Status(ctx context.Context) (types.StatusResponse, error) {
	chainID, err := s.backend.ChainID(ctx)
	if err != nil {
		return types.StatusResponse{}, xerrors.Errorf("failed to get chain id: %v", err)
	}

	number, err := s.backend.BlockNumber(ctx)
	if err != nil {
		return types.StatusResponse{}, xerrors.Errorf("failed to get head: %v", err)
	}

	return types.StatusResponse{
		ChainID:     chainID.Uint64(),
		BlockNumber: number,
		Contract:    s.address.Hex(),
		Version:     pemilu.Version,
	}, nil
}

// Owner returns the owner of the contract.
func (s *Service) Owner(ctx context.Context) (common.Address, error) {
	res, err := s.call(ctx, common.Address{}, "owner")
	if err != nil {
		return common.Address{}, err
	}

	v, err := field(res, 0)
	if err != nil {
		return common.Address{}, err
	}

	owner, ok := v.(common.Address)
	if !ok {
		return common.Address{}, xerrors.Errorf("invalid owner type '%T'", v)
	}

	return owner, nil
}

// IsAdmin returns true if the address is an admin of the contract.
func (s *Service) IsAdmin(ctx context.Context, addr common.Address) (bool, error) {
	res, err := s.call(ctx, common.Address{}, "admins", addr)
	if err != nil {
		return false, err
	}

	return asBool(res, 0)
}

// CandidateCount returns the number of candidates created by the contract.
func (s *Service) CandidateCount(ctx context.Context) (uint64, error) {
	res, err := s.call(ctx, common.Address{}, "candidateCount")
	if err != nil {
		return 0, err
	}

	return asUint64(res, 0)
}

// Candidate returns the candidate with the identifier.
func (s *Service) Candidate(ctx context.Context, id uint64) (types.Candidate, error) {
	res, err := s.call(ctx, common.Address{}, "candidates", new(big.Int).SetUint64(id))
	if err != nil {
		return types.Candidate{}, err
	}

	exists, err := asBool(res, 4)
	if err != nil {
		return types.Candidate{}, err
	}

	if !exists {
		return types.Candidate{}, ErrCandidateNotFound
	}

	candidate := types.Candidate{}

	candidate.ID, err = asUint64(res, 0)
	if err != nil {
		return candidate, err
	}

	candidate.Name, err = asString(res, 1)
	if err != nil {
		return candidate, err
	}

	candidate.VoteCount, err = asUint64(res, 2)
	if err != nil {
		return candidate, err
	}

	candidate.ImageCID, err = asString(res, 3)
	if err != nil {
		return candidate, err
	}

	return candidate, nil
}

// Candidates returns the active candidates sorted by identifier.
func (s *Service) Candidates(ctx context.Context) ([]types.Candidate, error) {
	cached, found := s.cached(keyCandidates)
	if found {
		return cached.([]types.Candidate), nil
	}

	members, err := s.index.Members(ctx, CandidatesSet)
	if err != nil {
		return nil, xerrors.Errorf("failed to read index: %v", err)
	}

	candidates := make([]types.Candidate, 0, len(members))

	for _, member := range members {
		id := new(big.Int).SetBytes(member.Bytes())
		if !id.IsUint64() {
			continue
		}

		candidate, err := s.Candidate(ctx, id.Uint64())
		if xerrors.Is(err, ErrCandidateNotFound) {
			// The index might be ahead of the node serving the call.
			continue
		}

		if err != nil {
			return nil, xerrors.Errorf("failed to get candidate %d: %v", id, err)
		}

		candidates = append(candidates, candidate)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].ID < candidates[j].ID
	})

	s.store(keyCandidates, candidates)

	return candidates, nil
}

// VoterCount returns the number of registered voters.
func (s *Service) VoterCount(ctx context.Context) (uint64, error) {
	res, err := s.call(ctx, common.Address{}, "voterCount")
	if err != nil {
		return 0, err
	}

	return asUint64(res, 0)
}

// Voter returns the state of the voter.
func (s *Service) Voter(ctx context.Context, addr common.Address) (types.VoterStatus, error) {
	res, err := s.call(ctx, common.Address{}, "voters", addr)
	if err != nil {
		return types.VoterStatus{}, err
	}

	status := types.VoterStatus{}

	status.IsRegistered, err = asBool(res, 0)
	if err != nil {
		return status, err
	}

	status.HasVoted, err = asBool(res, 1)
	if err != nil {
		return status, err
	}

	status.VoteCandidateID, err = asUint64(res, 2)
	if err != nil {
		return status, err
	}

	return status, nil
}

// Voters returns the registered voters in the order of registration.
func (s *Service) Voters(ctx context.Context) ([]types.Voter, error) {
	cached, found := s.cached(keyVoters)
	if found {
		return cached.([]types.Voter), nil
	}

	members, err := s.index.Members(ctx, VotersSet)
	if err != nil {
		return nil, xerrors.Errorf("failed to read index: %v", err)
	}

	voters := make([]types.Voter, 0, len(members))

	for _, member := range members {
		addr := common.BytesToAddress(member.Bytes())

		status, err := s.Voter(ctx, addr)
		if err != nil {
			return nil, xerrors.Errorf("failed to get voter %s: %v", addr.Hex(), err)
		}

		if !status.IsRegistered {
			continue
		}

		voters = append(voters, types.Voter{
			ID:              len(voters) + 1,
			Address:         addr.Hex(),
			IsRegistered:    status.IsRegistered,
			HasVoted:        status.HasVoted,
			VoteCandidateID: status.VoteCandidateID,
		})
	}

	s.store(keyVoters, voters)

	return voters, nil
}

// VotingPeriod returns the voting period evaluated at the timestamp of the
// latest block.
func (s *Service) VotingPeriod(ctx context.Context) (types.VotingPeriod, error) {
	res, err := s.call(ctx, common.Address{}, "getVotingPeriod")
	if err != nil {
		return types.VotingPeriod{}, err
	}

	start, err := asUint64(res, 0)
	if err != nil {
		return types.VotingPeriod{}, err
	}

	end, err := asUint64(res, 1)
	if err != nil {
		return types.VotingPeriod{}, err
	}

	now, err := chain.LatestTime(ctx, s.backend)
	if err != nil {
		return types.VotingPeriod{}, err
	}

	return newPeriod(start, end, now), nil
}

// Winner returns the candidate with the most votes. Only an admin can request
// it.
func (s *Service) Winner(ctx context.Context, from common.Address) (types.Winner, error) {
	err := s.checkAdmin(ctx, from)
	if err != nil {
		return types.Winner{}, err
	}

	res, err := s.call(ctx, from, "getWinner")
	if err != nil {
		return types.Winner{}, err
	}

	winner := types.Winner{}

	winner.ID, err = asUint64(res, 0)
	if err != nil {
		return winner, err
	}

	winner.Name, err = asString(res, 1)
	if err != nil {
		return winner, err
	}

	winner.VoteCount, err = asUint64(res, 2)
	if err != nil {
		return winner, err
	}

	return winner, nil
}

// AddAdmin returns the transaction of the owner adding an admin.
func (s *Service) AddAdmin(ctx context.Context, owner, admin common.Address) (txbuilder.RawTransaction, error) {
	err := s.checkOwner(ctx, owner)
	if err != nil {
		return txbuilder.RawTransaction{}, err
	}

	return s.transact(ctx, owner, "addAdmin", admin)
}

// RemoveAdmin returns the transaction of the owner removing an admin.
func (s *Service) RemoveAdmin(ctx context.Context, owner, admin common.Address) (txbuilder.RawTransaction, error) {
	err := s.checkOwner(ctx, owner)
	if err != nil {
		return txbuilder.RawTransaction{}, err
	}

	return s.transact(ctx, owner, "removeAdmin", admin)
}

// AddCandidate returns the transaction of an admin adding a candidate. The
// image is optional but must be a valid CID when present.
func (s *Service) AddCandidate(ctx context.Context, from common.Address,
	name, image string) (txbuilder.RawTransaction, error) {

	err := s.checkAdmin(ctx, from)
	if err != nil {
		return txbuilder.RawTransaction{}, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return txbuilder.RawTransaction{}, ErrInvalidCandidate
	}

	image = strings.TrimSpace(image)
	if image != "" {
		_, err = cid.Decode(image)
		if err != nil {
			s.logger.Debug().Err(err).Str("cid", image).Msg("invalid image")
			return txbuilder.RawTransaction{}, ErrInvalidCID
		}
	}

	return s.transact(ctx, from, "addCandidate", name, image)
}

// RemoveCandidate returns the transaction of an admin removing a candidate.
func (s *Service) RemoveCandidate(ctx context.Context, from common.Address, id uint64) (txbuilder.RawTransaction, error) {
	err := s.checkAdmin(ctx, from)
	if err != nil {
		return txbuilder.RawTransaction{}, err
	}

	_, err = s.Candidate(ctx, id)
	if err != nil {
		return txbuilder.RawTransaction{}, err
	}

	return s.transact(ctx, from, "removeCandidate", new(big.Int).SetUint64(id))
}

// RegisterVoter returns the transaction of a voter registering itself.
func (s *Service) RegisterVoter(ctx context.Context, voter common.Address) (txbuilder.RawTransaction, error) {
	status, err := s.Voter(ctx, voter)
	if err != nil {
		return txbuilder.RawTransaction{}, err
	}

	if status.IsRegistered {
		return txbuilder.RawTransaction{}, ErrAlreadyRegistered
	}

	return s.transact(ctx, voter, "registerVoter")
}

// RemoveVoter returns the transaction of an admin removing a voter.
func (s *Service) RemoveVoter(ctx context.Context, from, voter common.Address) (txbuilder.RawTransaction, error) {
	err := s.checkAdmin(ctx, from)
	if err != nil {
		return txbuilder.RawTransaction{}, err
	}

	status, err := s.Voter(ctx, voter)
	if err != nil {
		return txbuilder.RawTransaction{}, err
	}

	if !status.IsRegistered {
		return txbuilder.RawTransaction{}, ErrNotRegistered
	}

	return s.transact(ctx, from, "removeVoter", voter)
}

// Vote returns the transaction of a voter voting for a candidate. A
// *PeriodError is returned outside of the voting period.
func (s *Service) Vote(ctx context.Context, from common.Address, id uint64) (txbuilder.RawTransaction, error) {
	period, err := s.VotingPeriod(ctx)
	if err != nil {
		return txbuilder.RawTransaction{}, xerrors.Errorf("failed to get voting period: %v", err)
	}

	if !period.IsActive {
		return txbuilder.RawTransaction{}, &PeriodError{
			Details: types.PeriodDetails{
				CurrentTime: period.CurrentTime,
				StartTime:   period.StartTime,
				EndTime:     period.EndTime,
			},
		}
	}

	status, err := s.Voter(ctx, from)
	if err != nil {
		return txbuilder.RawTransaction{}, err
	}

	if !status.IsRegistered {
		return txbuilder.RawTransaction{}, ErrNotRegistered
	}

	if status.HasVoted {
		return txbuilder.RawTransaction{}, ErrAlreadyVoted
	}

	_, err = s.Candidate(ctx, id)
	if err != nil {
		return txbuilder.RawTransaction{}, err
	}

	return s.transact(ctx, from, "vote", new(big.Int).SetUint64(id))
}

// SetVotingPeriod returns the transaction of an admin setting the voting
// period, as Unix timestamps.
func (s *Service) SetVotingPeriod(ctx context.Context, from common.Address,
	start, end uint64) (txbuilder.RawTransaction, error) {

	err := s.checkAdmin(ctx, from)
	if err != nil {
		return txbuilder.RawTransaction{}, err
	}

	if start == 0 || start >= end {
		return txbuilder.RawTransaction{}, ErrInvalidPeriod
	}

	return s.transact(ctx, from, "setVotingPeriod",
		new(big.Int).SetUint64(start), new(big.Int).SetUint64(end))
}

// StopVotingPeriod returns the transaction of an admin ending the voting
// period.
func (s *Service) StopVotingPeriod(ctx context.Context, from common.Address) (txbuilder.RawTransaction, error) {
	err := s.checkAdmin(ctx, from)
	if err != nil {
		return txbuilder.RawTransaction{}, err
	}

	return s.transact(ctx, from, "stopVotingPeriod")
}

// InvalidateCache drops the cached lists.
func (s *Service) InvalidateCache() {
	if s.cache != nil {
		s.cache.Flush()
	}
}

func (s *Service) checkOwner(ctx context.Context, addr common.Address) error {
	owner, err := s.Owner(ctx)
	if err != nil {
		return xerrors.Errorf("failed to get owner: %v", err)
	}

	if owner != addr {
		return ErrNotOwner
	}

	return nil
}

func (s *Service) checkAdmin(ctx context.Context, addr common.Address) error {
	admin, err := s.IsAdmin(ctx, addr)
	if err != nil {
		return xerrors.Errorf("failed to check admin: %v", err)
	}

	if !admin {
		return ErrNotAdmin
	}

	return nil
}

func (s *Service) transact(ctx context.Context, from common.Address, method string,
	args ...interface{}) (txbuilder.RawTransaction, error) {

	data, err := s.pack(method, args...)
	if err != nil {
		return txbuilder.RawTransaction{}, err
	}

	tx, err := s.builder.Build(ctx, from, s.address, data)
	if err != nil {
		promTransactions.WithLabelValues(method, "error").Inc()
		return txbuilder.RawTransaction{}, xerrors.Errorf("failed to build transaction: %w", err)
	}

	promTransactions.WithLabelValues(method, "ok").Inc()

	s.logger.Debug().
		Str("method", method).
		Str("from", tx.From).
		Uint64("nonce", tx.Nonce).
		Uint64("gas", tx.Gas).
		Msg("transaction built")

	return tx, nil
}

func (s *Service) cached(key string) (interface{}, bool) {
	if s.cache == nil {
		return nil, false
	}

	return s.cache.Get(key)
}

func (s *Service) store(key string, value interface{}) {
	if s.cache != nil {
		s.cache.SetDefault(key, value)
	}
}

// field returns the i-th unpacked output.
func field(res []interface{}, i int) (interface{}, error) {
	if i >= len(res) {
		return nil, xerrors.Errorf("missing output %d in %d results", i, len(res))
	}

	return res[i], nil
}

func asUint64(res []interface{}, i int) (uint64, error) {
	v, err := field(res, i)
	if err != nil {
		return 0, err
	}

	n, ok := v.(*big.Int)
	if !ok {
		return 0, xerrors.Errorf("invalid number type '%T'", v)
	}

	if !n.IsUint64() {
		return 0, xerrors.Errorf("number '%s' out of range", n)
	}

	return n.Uint64(), nil
}

func asBool(res []interface{}, i int) (bool, error) {
	v, err := field(res, i)
	if err != nil {
		return false, err
	}

	b, ok := v.(bool)
	if !ok {
		return false, xerrors.Errorf("invalid bool type '%T'", v)
	}

	return b, nil
}

func asString(res []interface{}, i int) (string, error) {
	v, err := field(res, i)
	if err != nil {
		return "", err
	}

	s, ok := v.(string)
	if !ok {
		return "", xerrors.Errorf("invalid string type '%T'", v)
	}

	return s, nil
}
