// Package types defines the JSON messages of the election REST API.
package types

import "go.dedis.ch/pemilu/chain/txbuilder"

// Candidate is a candidate of the election as stored by the contract.
type Candidate struct {
	ID        uint64 `json:"id"`
	Name      string `json:"name"`
	VoteCount uint64 `json:"voteCount"`
	ImageCID  string `json:"imageCID"`
}

// Winner is the candidate with the most votes.
type Winner struct {
	ID        uint64 `json:"id"`
	Name      string `json:"name"`
	VoteCount uint64 `json:"voteCount"`
}

// VoterStatus is the state of a voter as stored by the contract.
type VoterStatus struct {
	IsRegistered    bool   `json:"isRegistered"`
	HasVoted        bool   `json:"hasVoted"`
	VoteCandidateID uint64 `json:"voteCandidateId"`
}

// Voter is an entry of the list of registered voters. The ID is the position
// of the voter in the list, starting at 1.
type Voter struct {
	ID              int    `json:"id"`
	Address         string `json:"address"`
	IsRegistered    bool   `json:"isRegistered"`
	HasVoted        bool   `json:"hasVoted"`
	VoteCandidateID uint64 `json:"voteCandidateId"`
}

// VotingPeriod is the voting window of the contract, evaluated against the
// timestamp of the latest block.
type VotingPeriod struct {
	StartTime   uint64 `json:"startTime"`
	EndTime     uint64 `json:"endTime"`
	CurrentTime uint64 `json:"currentTime"`
	IsSet       bool   `json:"isSet"`
	IsActive    bool   `json:"isActive"`
	HasEnded    bool   `json:"hasEnded"`
}

// AddCandidateRequest is the body of a request to add a candidate.
type AddCandidateRequest struct {
	Name     string `json:"name"`
	Address  string `json:"address"`
	ImageCID string `json:"imageCID"`
}

// RemoveCandidateRequest is the body of a request to remove a candidate. The
// identifier is optional as the path already contains it.
type RemoveCandidateRequest struct {
	Address     string  `json:"address"`
	CandidateID *uint64 `json:"candidateId"`
}

// AddressRequest is the body of the requests that only need the address of
// the sender.
type AddressRequest struct {
	Address string `json:"address"`
}

// RemoveVoterRequest is the body of a request to remove a voter. The voter
// address is optional as the path already contains it.
type RemoveVoterRequest struct {
	Address      string `json:"address"`
	VoterAddress string `json:"voterAddress"`
}

// VoteRequest is the body of a request to vote.
type VoteRequest struct {
	Address     string  `json:"address"`
	CandidateID *uint64 `json:"candidateId"`
}

// VotingPeriodRequest is the body of a request to set the voting period.
type VotingPeriodRequest struct {
	Address   string  `json:"address"`
	StartTime *uint64 `json:"startTime"`
	EndTime   *uint64 `json:"endTime"`
}

// MessageResponse is a response with a simple message.
type MessageResponse struct {
	Message string `json:"message"`
}

// TransactionResponse is the response of the write endpoints. The transaction
// must be signed and sent by the wallet of the caller.
type TransactionResponse struct {
	Message string                   `json:"message"`
	TxHash  txbuilder.RawTransaction `json:"tx_hash"`
}

// AdminCheckResponse tells if an address is an admin.
type AdminCheckResponse struct {
	IsAdmin bool `json:"is_admin"`
}

// VoterCheckResponse tells if an address is a registered voter.
type VoterCheckResponse struct {
	IsRegistered    bool   `json:"is_registered"`
	HasVoted        bool   `json:"has_voted"`
	VoteCandidateID uint64 `json:"vote_candidate_id"`
}

// WinnerResponse wraps the winner of the election.
type WinnerResponse struct {
	Winner Winner `json:"winner"`
}

// StatusResponse describes the endpoint and the contract the gateway uses.
type StatusResponse struct {
	ChainID     uint64 `json:"chainId"`
	BlockNumber uint64 `json:"blockNumber"`
	Contract    string `json:"contract"`
	Version     string `json:"version"`
}

// ErrorResponse is the body of every error. The detail is either a string or
// a structured object.
type ErrorResponse struct {
	Detail interface{} `json:"detail"`
}

// PeriodDetails is the snapshot of the voting period returned when a vote is
// refused because the period is not active.
type PeriodDetails struct {
	CurrentTime uint64 `json:"currentTime"`
	StartTime   uint64 `json:"startTime"`
	EndTime     uint64 `json:"endTime"`
}

// PeriodErrorDetail is the detail of the error returned when voting outside of
// the voting period.
type PeriodErrorDetail struct {
	Message string        `json:"message"`
	Details PeriodDetails `json:"details"`
}
