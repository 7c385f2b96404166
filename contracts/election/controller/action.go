package controller

import (
	"context"
	"fmt"
	"time"

	"go.dedis.ch/pemilu/cli/node"
	"go.dedis.ch/pemilu/contracts/election"
	"golang.org/x/xerrors"
)

const actionTimeout = 30 * time.Second

// infoAction prints a summary of the contract.
//
// - implements node.ActionTemplate
type infoAction struct{}

// Execute implements node.ActionTemplate. It prints the owner, the counters
// and the voting period of the contract.
func (infoAction) Execute(ctx node.Context) error {
	srv, err := getService(ctx)
	if err != nil {
		return err
	}

	c, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	owner, err := srv.Owner(c)
	if err != nil {
		return xerrors.Errorf("failed to get owner: %v", err)
	}

	candidates, err := srv.CandidateCount(c)
	if err != nil {
		return xerrors.Errorf("failed to count candidates: %v", err)
	}

	voters, err := srv.VoterCount(c)
	if err != nil {
		return xerrors.Errorf("failed to count voters: %v", err)
	}

	period, err := srv.VotingPeriod(c)
	if err != nil {
		return xerrors.Errorf("failed to get voting period: %v", err)
	}

	fmt.Fprintf(ctx.Out, "contract: %s\n", srv.Address().Hex())
	fmt.Fprintf(ctx.Out, "owner: %s\n", owner.Hex())
	fmt.Fprintf(ctx.Out, "candidates: %d\n", candidates)
	fmt.Fprintf(ctx.Out, "voters: %d\n", voters)

	if !period.IsSet {
		fmt.Fprintln(ctx.Out, "voting period: not set")
		return nil
	}

	state := "pending"
	if period.IsActive {
		state = "active"
	} else if period.HasEnded {
		state = "ended"
	}

	fmt.Fprintf(ctx.Out, "voting period: %s to %s (%s)\n",
		formatTime(period.StartTime), formatTime(period.EndTime), state)

	return nil
}

// candidatesAction prints the active candidates.
//
// - implements node.ActionTemplate
type candidatesAction struct{}

// Execute implements node.ActionTemplate.
func (candidatesAction) Execute(ctx node.Context) error {
	srv, err := getService(ctx)
	if err != nil {
		return err
	}

	c, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	candidates, err := srv.Candidates(c)
	if err != nil {
		return xerrors.Errorf("failed to list candidates: %v", err)
	}

	for _, candidate := range candidates {
		fmt.Fprintf(ctx.Out, "#%d %s votes=%d image=%s\n",
			candidate.ID, candidate.Name, candidate.VoteCount, candidate.ImageCID)
	}

	return nil
}

// votersAction prints the registered voters.
//
// - implements node.ActionTemplate
type votersAction struct{}

// Execute implements node.ActionTemplate.
func (votersAction) Execute(ctx node.Context) error {
	srv, err := getService(ctx)
	if err != nil {
		return err
	}

	c, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	voters, err := srv.Voters(c)
	if err != nil {
		return xerrors.Errorf("failed to list voters: %v", err)
	}

	for _, voter := range voters {
		fmt.Fprintf(ctx.Out, "#%d %s voted=%t candidate=%d\n",
			voter.ID, voter.Address, voter.HasVoted, voter.VoteCandidateID)
	}

	return nil
}

// syncAction reads the pending events into the index.
//
// - implements node.ActionTemplate
type syncAction struct{}

// Execute implements node.ActionTemplate.
func (syncAction) Execute(ctx node.Context) error {
	srv, err := getService(ctx)
	if err != nil {
		return err
	}

	c, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	err = srv.Index().Sync(c)
	if err != nil {
		return xerrors.Errorf("failed to sync: %v", err)
	}

	srv.InvalidateCache()

	fmt.Fprintln(ctx.Out, "index is up to date")

	return nil
}

// resetAction drops the index.
//
// - implements node.ActionTemplate
type resetAction struct{}

// Execute implements node.ActionTemplate.
func (resetAction) Execute(ctx node.Context) error {
	srv, err := getService(ctx)
	if err != nil {
		return err
	}

	err = srv.Index().Reset()
	if err != nil {
		return xerrors.Errorf("failed to reset: %v", err)
	}

	srv.InvalidateCache()

	fmt.Fprintln(ctx.Out, "index has been reset")

	return nil
}

func getService(ctx node.Context) (*election.Service, error) {
	var srv *election.Service

	err := ctx.Injector.Resolve(&srv)
	if err != nil {
		return nil, xerrors.Errorf("injector: %v", err)
	}

	return srv, nil
}

func formatTime(ts uint64) string {
	return time.Unix(int64(ts), 0).UTC().Format(time.RFC3339)
}
