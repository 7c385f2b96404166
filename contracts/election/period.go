package election

import "go.dedis.ch/pemilu/contracts/election/types"

// newPeriod evaluates the voting period at the given time. A period is set
// when both bounds are non-zero, and the bounds are inclusive.
func newPeriod(start, end, now uint64) types.VotingPeriod {
	isSet := start != 0 && end != 0

	return types.VotingPeriod{
		StartTime:   start,
		EndTime:     end,
		CurrentTime: now,
		IsSet:       isSet,
		IsActive:    isSet && start <= now && now <= end,
		HasEnded:    isSet && now > end,
	}
}
