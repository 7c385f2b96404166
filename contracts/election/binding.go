package election

import (
	"bytes"
	"context"
	_ "embed"
	"os"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.dedis.ch/pemilu/chain"
	"go.dedis.ch/pemilu/contracts/election/index"
	"golang.org/x/xerrors"
)

//go:embed abi/Pemilu.json
var embeddedABI []byte

const (
	// CandidatesSet is the name of the set of candidates in the index.
	CandidatesSet = "candidates"

	// VotersSet is the name of the set of registered voters in the index.
	VotersSet = "voters"
)

// LoadABI returns the definition of the contract. The embedded one is used
// when the path is empty.
func LoadABI(path string) (abi.ABI, error) {
	data := embeddedABI

	if path != "" {
		var err error

		data, err = os.ReadFile(path)
		if err != nil {
			return abi.ABI{}, xerrors.Errorf("failed to read abi: %v", err)
		}
	}

	def, err := abi.JSON(bytes.NewReader(data))
	if err != nil {
		return abi.ABI{}, xerrors.Errorf("failed to parse abi: %v", err)
	}

	for _, name := range requiredMethods {
		_, found := def.Methods[name]
		if !found {
			return abi.ABI{}, xerrors.Errorf("abi is missing method '%s'", name)
		}
	}

	for _, name := range requiredEvents {
		event, found := def.Events[name]
		if !found {
			return abi.ABI{}, xerrors.Errorf("abi is missing event '%s'", name)
		}

		// The index reads the member from the first topic after the event
		// identifier.
		if len(event.Inputs) == 0 || !event.Inputs[0].Indexed {
			return abi.ABI{}, xerrors.Errorf("abi event '%s' must have an indexed first input", name)
		}
	}

	for name, kinds := range readOutputs {
		err = checkOutputs(def.Methods[name], kinds)
		if err != nil {
			return abi.ABI{}, err
		}
	}

	return def, nil
}

// checkOutputs returns an error if the outputs of the method do not match the
// kinds the service unpacks.
func checkOutputs(method abi.Method, kinds []byte) error {
	if len(method.Outputs) != len(kinds) {
		return xerrors.Errorf("abi method '%s' has %d outputs, expected %d",
			method.Name, len(method.Outputs), len(kinds))
	}

	for i, kind := range kinds {
		typ := method.Outputs[i].Type
		if typ.T != kind {
			return xerrors.Errorf("abi method '%s' has output %d of type '%s'",
				method.Name, i, typ.String())
		}
	}

	return nil
}

var requiredMethods = []string{
	"owner", "admins", "candidateCount", "candidates", "voterCount", "voters",
	"getVotingPeriod", "getWinner", "addAdmin", "removeAdmin", "addCandidate",
	"removeCandidate", "registerVoter", "removeVoter", "vote",
	"setVotingPeriod", "stopVotingPeriod",
}

// readOutputs are the kinds of the outputs of the read methods, in order.
var readOutputs = map[string][]byte{
	"owner":           {abi.AddressTy},
	"admins":          {abi.BoolTy},
	"candidateCount":  {abi.UintTy},
	"candidates":      {abi.UintTy, abi.StringTy, abi.UintTy, abi.StringTy, abi.BoolTy},
	"voterCount":      {abi.UintTy},
	"voters":          {abi.BoolTy, abi.BoolTy, abi.UintTy},
	"getVotingPeriod": {abi.UintTy, abi.UintTy},
	"getWinner":       {abi.UintTy, abi.StringTy, abi.UintTy},
}

var requiredEvents = []string{
	"CandidateAdded", "CandidateRemoved", "VoterRegistered", "VoterRemoved",
}

// Sets returns the sets of members the index must reconstruct for the
// contract.
func Sets(def abi.ABI) []index.Set {
	return []index.Set{
		{
			Name:    CandidatesSet,
			Added:   def.Events["CandidateAdded"].ID,
			Removed: def.Events["CandidateRemoved"].ID,
		},
		{
			Name:    VotersSet,
			Added:   def.Events["VoterRegistered"].ID,
			Removed: def.Events["VoterRemoved"].ID,
		},
	}
}

// binding packs the calls to the contract and unpacks the results.
type binding struct {
	backend chain.Backend
	address common.Address
	abi     abi.ABI
}

// pack returns the call data of the method.
func (b binding) pack(method string, args ...interface{}) ([]byte, error) {
	data, err := b.abi.Pack(method, args...)
	if err != nil {
		return nil, xerrors.Errorf("failed to pack '%s': %v", method, err)
	}

	return data, nil
}

// call executes a read-only call on the latest state of the contract. A
// revert is returned as a *chain.RevertError.
func (b binding) call(ctx context.Context, from common.Address, method string,
	args ...interface{}) ([]interface{}, error) {

	data, err := b.pack(method, args...)
	if err != nil {
		return nil, err
	}

	msg := ethereum.CallMsg{
		From: from,
		To:   &b.address,
		Data: data,
	}

	out, err := b.backend.CallContract(ctx, msg, nil)
	if err != nil {
		revert := chain.AsRevert(err)
		if revert != nil {
			return nil, xerrors.Errorf("call to '%s' failed: %w", method, revert)
		}

		return nil, xerrors.Errorf("failed to call '%s': %v", method, err)
	}

	res, err := b.abi.Unpack(method, out)
	if err != nil {
		return nil, xerrors.Errorf("failed to unpack '%s': %v", method, err)
	}

	return res, nil
}
