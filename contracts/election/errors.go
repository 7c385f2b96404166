package election

import (
	"go.dedis.ch/pemilu/contracts/election/types"
	"golang.org/x/xerrors"
)

var (
	// ErrNotOwner is returned when a sender other than the owner manages the
	// admins.
	ErrNotOwner = xerrors.New("Only the owner can manage admins")

	// ErrNotAdmin is returned when the sender of an admin action is not an
	// admin.
	ErrNotAdmin = xerrors.New("Only admins can perform this action")

	// ErrNotRegistered is returned when the voter is not registered.
	ErrNotRegistered = xerrors.New("Voter is not registered")

	// ErrAlreadyRegistered is returned when the voter registers twice.
	ErrAlreadyRegistered = xerrors.New("Voter is already registered")

	// ErrAlreadyVoted is returned when the voter votes twice.
	ErrAlreadyVoted = xerrors.New("Voter has already voted")

	// ErrInvalidPeriod is returned when the start of the period is zero or not
	// before its end.
	ErrInvalidPeriod = xerrors.New("Start time must be positive and before end time")

	// ErrInvalidCandidate is returned when the name of a candidate is empty.
	ErrInvalidCandidate = xerrors.New("Candidate name must not be empty")

	// ErrInvalidCID is returned when the image of a candidate is not a valid
	// content identifier.
	ErrInvalidCID = xerrors.New("Invalid image CID")

	// ErrCandidateNotFound is returned when the candidate does not exist.
	ErrCandidateNotFound = xerrors.New("Candidate not found")
)

// PeriodError is returned when voting outside of the voting period.
type PeriodError struct {
	Details types.PeriodDetails
}

// Error implements error.
func (e *PeriodError) Error() string {
	return "Voting period is not active"
}
