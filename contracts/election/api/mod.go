// Package api implements the REST endpoints of the election contract.
//
// Every error is returned as {"detail": ...}. The write endpoints return the
// unsigned transaction in the "tx_hash" field, next to a message.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"go.dedis.ch/pemilu"
	"go.dedis.ch/pemilu/chain"
	"go.dedis.ch/pemilu/chain/txbuilder"
	"go.dedis.ch/pemilu/contracts/election"
	"go.dedis.ch/pemilu/contracts/election/types"
	"go.dedis.ch/pemilu/internal/tracing"
	"golang.org/x/xerrors"
)

const maxBodySize = 1 << 20

// Service is the set of operations of the election contract served by the
// API.
type Service interface {
	Status(ctx context.Context) (types.StatusResponse, error)
	IsAdmin(ctx context.Context, addr common.Address) (bool, error)
	CandidateCount(ctx context.Context) (uint64, error)
	Candidate(ctx context.Context, id uint64) (types.Candidate, error)
	Candidates(ctx context.Context) ([]types.Candidate, error)
	VoterCount(ctx context.Context) (uint64, error)
	Voter(ctx context.Context, addr common.Address) (types.VoterStatus, error)
	Voters(ctx context.Context) ([]types.Voter, error)
	VotingPeriod(ctx context.Context) (types.VotingPeriod, error)
	Winner(ctx context.Context, from common.Address) (types.Winner, error)

	AddAdmin(ctx context.Context, owner, admin common.Address) (txbuilder.RawTransaction, error)
	RemoveAdmin(ctx context.Context, owner, admin common.Address) (txbuilder.RawTransaction, error)
	AddCandidate(ctx context.Context, from common.Address, name, image string) (txbuilder.RawTransaction, error)
	RemoveCandidate(ctx context.Context, from common.Address, id uint64) (txbuilder.RawTransaction, error)
	RegisterVoter(ctx context.Context, voter common.Address) (txbuilder.RawTransaction, error)
	RemoveVoter(ctx context.Context, from, voter common.Address) (txbuilder.RawTransaction, error)
	Vote(ctx context.Context, from common.Address, id uint64) (txbuilder.RawTransaction, error)
	SetVotingPeriod(ctx context.Context, from common.Address, start, end uint64) (txbuilder.RawTransaction, error)
	StopVotingPeriod(ctx context.Context, from common.Address) (txbuilder.RawTransaction, error)
}

// Router is where the routes are registered. The proxy satisfies it.
type Router interface {
	RegisterRoute(method, path string, handler func(http.ResponseWriter, *http.Request))
}

// API serves the operations of the service.
type API struct {
	srv    Service
	logger zerolog.Logger
}

// NewAPI returns the API of the service.
func NewAPI(srv Service) API {
	return API{
		srv:    srv,
		logger: pemilu.Logger.With().Str("role", "api").Logger(),
	}
}

// Register registers the routes of the API. The more specific paths are
// registered first as the router uses the first match.
func (a API) Register(r Router) {
	r.RegisterRoute(http.MethodGet, "/", a.Home)
	r.RegisterRoute(http.MethodGet, "/status", a.Status)

	r.RegisterRoute(http.MethodPost, "/admins", a.AddAdmin)
	r.RegisterRoute(http.MethodGet, "/admins/check/{address}", a.CheckAdmin)
	r.RegisterRoute(http.MethodPost, "/admins/stop-voting-period", a.StopVotingPeriod)
	r.RegisterRoute(http.MethodPost, "/admins/winner", a.Winner)
	r.RegisterRoute(http.MethodDelete, "/admins/{admin_address}", a.RemoveAdmin)

	r.RegisterRoute(http.MethodGet, "/candidates", a.Candidates)
	r.RegisterRoute(http.MethodPost, "/candidates", a.AddCandidate)
	r.RegisterRoute(http.MethodGet, "/candidates/{candidate_id}", a.Candidate)
	r.RegisterRoute(http.MethodDelete, "/candidates/{candidate_id}", a.RemoveCandidate)
	r.RegisterRoute(http.MethodGet, "/candidates_count", a.CandidateCount)

	r.RegisterRoute(http.MethodGet, "/voters", a.Voters)
	r.RegisterRoute(http.MethodGet, "/voters/check/{address}", a.CheckVoter)
	r.RegisterRoute(http.MethodPost, "/voters/register", a.RegisterVoter)
	r.RegisterRoute(http.MethodPost, "/voters/vote", a.Vote)
	r.RegisterRoute(http.MethodPost, "/voters/set-voting-period", a.SetVotingPeriod)
	r.RegisterRoute(http.MethodGet, "/voters/{voter_address}", a.Voter)
	r.RegisterRoute(http.MethodDelete, "/voters/{voter_address}", a.RemoveVoter)
	r.RegisterRoute(http.MethodGet, "/voters_count", a.VoterCount)

	r.RegisterRoute(http.MethodGet, "/voting-period", a.VotingPeriod)
}

// Home answers the health check.
func (a API) Home(w http.ResponseWriter, r *http.Request) {
	a.write(w, r, types.MessageResponse{Message: "Hello World"})
}

// Status returns the state of the endpoint and the contract.
func (a API) Status(w http.ResponseWriter, r *http.Request) {
	status, err := a.srv.Status(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}

	a.write(w, r, status)
}

// AddAdmin returns the transaction of the owner adding an admin.
func (a API) AddAdmin(w http.ResponseWriter, r *http.Request) {
	owner, err := chain.ParseAddress(r.URL.Query().Get("owner_address"))
	if err != nil {
		a.fail(w, r, err)
		return
	}

	admin, err := chain.ParseAddress(r.URL.Query().Get("new_admin_address"))
	if err != nil {
		a.fail(w, r, err)
		return
	}

	tx, err := a.srv.AddAdmin(r.Context(), owner, admin)
	a.writeTx(w, r, "Admin added successfully", tx, err)
}

// RemoveAdmin returns the transaction of the owner removing an admin.
func (a API) RemoveAdmin(w http.ResponseWriter, r *http.Request) {
	owner, err := chain.ParseAddress(r.URL.Query().Get("owner_address"))
	if err != nil {
		a.fail(w, r, err)
		return
	}

	admin, err := chain.ParseAddress(mux.Vars(r)["admin_address"])
	if err != nil {
		a.fail(w, r, err)
		return
	}

	tx, err := a.srv.RemoveAdmin(r.Context(), owner, admin)
	a.writeTx(w, r, "Admin removed successfully", tx, err)
}

// CheckAdmin tells if the address is an admin.
func (a API) CheckAdmin(w http.ResponseWriter, r *http.Request) {
	addr, err := chain.ParseAddress(mux.Vars(r)["address"])
	if err != nil {
		a.fail(w, r, err)
		return
	}

	admin, err := a.srv.IsAdmin(r.Context(), addr)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	a.write(w, r, types.AdminCheckResponse{IsAdmin: admin})
}

// StopVotingPeriod returns the transaction of an admin ending the voting
// period.
func (a API) StopVotingPeriod(w http.ResponseWriter, r *http.Request) {
	var req types.AddressRequest

	from, ok := a.decodeSender(w, r, &req, &req.Address)
	if !ok {
		return
	}

	tx, err := a.srv.StopVotingPeriod(r.Context(), from)
	a.writeTx(w, r, "Voting period stopped successfully", tx, err)
}

// Winner returns the candidate with the most votes.
func (a API) Winner(w http.ResponseWriter, r *http.Request) {
	var req types.AddressRequest

	from, ok := a.decodeSender(w, r, &req, &req.Address)
	if !ok {
		return
	}

	winner, err := a.srv.Winner(r.Context(), from)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	a.write(w, r, types.WinnerResponse{Winner: winner})
}

// Candidates returns the active candidates.
func (a API) Candidates(w http.ResponseWriter, r *http.Request) {
	candidates, err := a.srv.Candidates(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}

	a.write(w, r, candidates)
}

// AddCandidate returns the transaction of an admin adding a candidate.
func (a API) AddCandidate(w http.ResponseWriter, r *http.Request) {
	var req types.AddCandidateRequest

	from, ok := a.decodeSender(w, r, &req, &req.Address)
	if !ok {
		return
	}

	tx, err := a.srv.AddCandidate(r.Context(), from, req.Name, req.ImageCID)
	a.writeTx(w, r, "Candidate added successfully", tx, err)
}

// Candidate returns the details of a candidate.
func (a API) Candidate(w http.ResponseWriter, r *http.Request) {
	id, ok := a.candidateID(w, r)
	if !ok {
		return
	}

	candidate, err := a.srv.Candidate(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	a.write(w, r, candidate)
}

// RemoveCandidate returns the transaction of an admin removing a candidate.
// The identifier in the body is optional but must match the path.
func (a API) RemoveCandidate(w http.ResponseWriter, r *http.Request) {
	id, ok := a.candidateID(w, r)
	if !ok {
		return
	}

	var req types.RemoveCandidateRequest

	from, ok := a.decodeSender(w, r, &req, &req.Address)
	if !ok {
		return
	}

	if req.CandidateID != nil && *req.CandidateID != id {
		a.detail(w, r, http.StatusBadRequest, "Candidate id does not match the path")
		return
	}

	tx, err := a.srv.RemoveCandidate(r.Context(), from, id)
	a.writeTx(w, r, "Candidate removed successfully", tx, err)
}

// CandidateCount returns the number of candidates created by the contract.
func (a API) CandidateCount(w http.ResponseWriter, r *http.Request) {
	count, err := a.srv.CandidateCount(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}

	a.write(w, r, count)
}

// Voters returns the registered voters.
func (a API) Voters(w http.ResponseWriter, r *http.Request) {
	voters, err := a.srv.Voters(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}

	a.write(w, r, voters)
}

// CheckVoter returns the state of a voter.
func (a API) CheckVoter(w http.ResponseWriter, r *http.Request) {
	status, ok := a.voterStatus(w, r, "address")
	if !ok {
		return
	}

	a.write(w, r, types.VoterCheckResponse{
		IsRegistered:    status.IsRegistered,
		HasVoted:        status.HasVoted,
		VoteCandidateID: status.VoteCandidateID,
	})
}

// Voter returns the state of a voter.
func (a API) Voter(w http.ResponseWriter, r *http.Request) {
	status, ok := a.voterStatus(w, r, "voter_address")
	if !ok {
		return
	}

	a.write(w, r, status)
}

// RegisterVoter returns the transaction of a voter registering itself.
func (a API) RegisterVoter(w http.ResponseWriter, r *http.Request) {
	voter, err := chain.ParseAddress(r.URL.Query().Get("address"))
	if err != nil {
		a.fail(w, r, err)
		return
	}

	tx, err := a.srv.RegisterVoter(r.Context(), voter)
	a.writeTx(w, r, "Voter registered successfully", tx, err)
}

// RemoveVoter returns the transaction of an admin removing a voter. The voter
// in the body is optional but must match the path.
func (a API) RemoveVoter(w http.ResponseWriter, r *http.Request) {
	voter, err := chain.ParseAddress(mux.Vars(r)["voter_address"])
	if err != nil {
		a.fail(w, r, err)
		return
	}

	var req types.RemoveVoterRequest

	from, ok := a.decodeSender(w, r, &req, &req.Address)
	if !ok {
		return
	}

	if req.VoterAddress != "" {
		other, err := chain.ParseAddress(req.VoterAddress)
		if err != nil {
			a.fail(w, r, err)
			return
		}

		if other != voter {
			a.detail(w, r, http.StatusBadRequest, "Voter address does not match the path")
			return
		}
	}

	tx, err := a.srv.RemoveVoter(r.Context(), from, voter)
	a.writeTx(w, r, "Voter removed successfully", tx, err)
}

// Vote returns the transaction of a voter voting for a candidate.
func (a API) Vote(w http.ResponseWriter, r *http.Request) {
	var req types.VoteRequest

	from, ok := a.decodeSender(w, r, &req, &req.Address)
	if !ok {
		return
	}

	if req.CandidateID == nil {
		a.detail(w, r, http.StatusBadRequest, "Missing candidateId")
		return
	}

	tx, err := a.srv.Vote(r.Context(), from, *req.CandidateID)
	a.writeTx(w, r, "Vote cast successfully", tx, err)
}

// SetVotingPeriod returns the transaction of an admin setting the voting
// period.
func (a API) SetVotingPeriod(w http.ResponseWriter, r *http.Request) {
	var req types.VotingPeriodRequest

	from, ok := a.decodeSender(w, r, &req, &req.Address)
	if !ok {
		return
	}

	if req.StartTime == nil || req.EndTime == nil {
		a.detail(w, r, http.StatusBadRequest, "Missing startTime or endTime")
		return
	}

	tx, err := a.srv.SetVotingPeriod(r.Context(), from, *req.StartTime, *req.EndTime)
	a.writeTx(w, r, "Voting period set successfully", tx, err)
}

// VoterCount returns the number of registered voters.
func (a API) VoterCount(w http.ResponseWriter, r *http.Request) {
	count, err := a.srv.VoterCount(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}

	a.write(w, r, count)
}

// VotingPeriod returns the voting period.
func (a API) VotingPeriod(w http.ResponseWriter, r *http.Request) {
	period, err := a.srv.VotingPeriod(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}

	a.write(w, r, period)
}

func (a API) voterStatus(w http.ResponseWriter, r *http.Request, name string) (types.VoterStatus, bool) {
	addr, err := chain.ParseAddress(mux.Vars(r)[name])
	if err != nil {
		a.fail(w, r, err)
		return types.VoterStatus{}, false
	}

	status, err := a.srv.Voter(r.Context(), addr)
	if err != nil {
		a.fail(w, r, err)
		return types.VoterStatus{}, false
	}

	return status, true
}

func (a API) candidateID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["candidate_id"], 10, 64)
	if err != nil {
		a.detail(w, r, http.StatusBadRequest, "Invalid candidate id")
		return 0, false
	}

	return id, true
}

// decodeSender decodes the body of the request and parses the address of the
// sender that it contains.
func (a API) decodeSender(w http.ResponseWriter, r *http.Request, req interface{},
	addr *string) (common.Address, bool) {

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))

	err := dec.Decode(req)
	if err != nil {
		a.detail(w, r, http.StatusBadRequest, "Invalid request body")
		return common.Address{}, false
	}

	from, err := chain.ParseAddress(*addr)
	if err != nil {
		a.fail(w, r, err)
		return common.Address{}, false
	}

	return from, true
}

func (a API) writeTx(w http.ResponseWriter, r *http.Request, msg string,
	tx txbuilder.RawTransaction, err error) {

	if err != nil {
		a.fail(w, r, err)
		return
	}

	a.write(w, r, types.TransactionResponse{Message: msg, TxHash: tx})
}

// fail writes the error with the status code matching its kind.
func (a API) fail(w http.ResponseWriter, r *http.Request, err error) {
	var periodErr *election.PeriodError

	if xerrors.As(err, &periodErr) {
		a.writeStatus(w, r, http.StatusBadRequest, types.ErrorResponse{
			Detail: types.PeriodErrorDetail{
				Message: periodErr.Error(),
				Details: periodErr.Details,
			},
		})
		return
	}

	for _, known := range knownErrors {
		if xerrors.Is(err, known.err) {
			a.detail(w, r, known.status, known.err.Error())
			return
		}
	}

	revert := chain.AsRevert(err)
	if revert != nil {
		a.detail(w, r, http.StatusBadRequest, revert.Error())
		return
	}

	requestID := tracing.RequestID(r.Context())

	a.logger.Error().Err(err).
		Str("requestID", requestID).
		Str("url", r.URL.Path).
		Msg("request failed")

	// The cause stays in the log as it can carry the endpoint of the node.
	detail := http.StatusText(http.StatusInternalServerError)
	if requestID != tracing.UndefinedRequest {
		detail += " (request " + requestID + ")"
	}

	a.detail(w, r, http.StatusInternalServerError, detail)
}

var knownErrors = []struct {
	err    error
	status int
}{
	{chain.ErrInvalidAddress, http.StatusBadRequest},
	{election.ErrInvalidPeriod, http.StatusBadRequest},
	{election.ErrInvalidCandidate, http.StatusBadRequest},
	{election.ErrInvalidCID, http.StatusBadRequest},
	{election.ErrNotOwner, http.StatusForbidden},
	{election.ErrNotAdmin, http.StatusForbidden},
	{election.ErrNotRegistered, http.StatusForbidden},
	{election.ErrCandidateNotFound, http.StatusNotFound},
	{election.ErrAlreadyRegistered, http.StatusConflict},
	{election.ErrAlreadyVoted, http.StatusConflict},
}

func (a API) detail(w http.ResponseWriter, r *http.Request, status int, detail string) {
	a.writeStatus(w, r, status, types.ErrorResponse{Detail: detail})
}

func (a API) write(w http.ResponseWriter, r *http.Request, v interface{}) {
	a.writeStatus(w, r, http.StatusOK, v)
}

func (a API) writeStatus(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		a.logger.Warn().Err(err).
			Str("requestID", tracing.RequestID(r.Context())).
			Msg("failed to write response")
	}
}
