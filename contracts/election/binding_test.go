package election

import (
	"context"
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/pemilu/chain"
	"go.dedis.ch/pemilu/internal/testing/fake"
)

func TestLoadABI(t *testing.T) {
	def, err := LoadABI("")
	require.NoError(t, err)
	require.Contains(t, def.Methods, "vote")

	path := filepath.Join(t.TempDir(), "Pemilu.json")
	require.NoError(t, os.WriteFile(path, embeddedABI, 0600))

	def, err = LoadABI(path)
	require.NoError(t, err)
	require.Contains(t, def.Events, "CandidateAdded")
}

func TestLoadABI_Failures(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadABI(filepath.Join(dir, "unknown.json"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to read abi: ")

	path := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0600))

	_, err = LoadABI(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to parse abi: ")

	require.NoError(t, os.WriteFile(path, []byte("[]"), 0600))

	_, err = LoadABI(path)
	require.EqualError(t, err, "abi is missing method 'owner'")

	content := ""
	for i, name := range requiredMethods {
		if i > 0 {
			content += ","
		}
		content += `{"type":"function","name":"` + name + `","inputs":[],"outputs":[]}`
	}

	require.NoError(t, os.WriteFile(path, []byte("["+content+"]"), 0600))

	_, err = LoadABI(path)
	require.EqualError(t, err, "abi is missing event 'CandidateAdded'")
}

func TestLoadABI_Outputs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Pemilu.json")

	writeABI(t, path, func(entry map[string]interface{}) {
		if entry["name"] == "candidates" {
			outputs := entry["outputs"].([]interface{})
			entry["outputs"] = outputs[:3]
		}
	})

	_, err := LoadABI(path)
	require.EqualError(t, err, "abi method 'candidates' has 3 outputs, expected 5")

	writeABI(t, path, func(entry map[string]interface{}) {
		if entry["name"] == "getWinner" {
			outputs := entry["outputs"].([]interface{})
			outputs[1] = map[string]interface{}{"name": "", "type": "bytes32", "internalType": "bytes32"}
		}
	})

	_, err = LoadABI(path)
	require.EqualError(t, err, "abi method 'getWinner' has output 1 of type 'bytes32'")

	writeABI(t, path, func(entry map[string]interface{}) {
		if entry["name"] == "VoterRemoved" {
			input := entry["inputs"].([]interface{})[0].(map[string]interface{})
			input["indexed"] = false
		}
	})

	_, err = LoadABI(path)
	require.EqualError(t, err, "abi event 'VoterRemoved' must have an indexed first input")
}

func TestField(t *testing.T) {
	res := []interface{}{big.NewInt(7), true}

	n, err := asUint64(res, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(7), n)

	_, err = asBool(res, 0)
	require.EqualError(t, err, "invalid bool type '*big.Int'")

	_, err = asString(res, 2)
	require.EqualError(t, err, "missing output 2 in 2 results")

	_, err = field(nil, 0)
	require.EqualError(t, err, "missing output 0 in 0 results")
}

func TestSets(t *testing.T) {
	def, err := LoadABI("")
	require.NoError(t, err)

	sets := Sets(def)
	require.Len(t, sets, 2)
	require.Equal(t, CandidatesSet, sets[0].Name)
	require.Equal(t, def.Events["CandidateRemoved"].ID, sets[0].Removed)
	require.Equal(t, VotersSet, sets[1].Name)
	require.Equal(t, def.Events["VoterRegistered"].ID, sets[1].Added)
}

func TestBinding_Call(t *testing.T) {
	def, err := LoadABI("")
	require.NoError(t, err)

	backend := fake.NewBackend(1, 1)
	contract := fake.NewContract(def, common.HexToAddress("0xc0"), common.HexToAddress("0xaa"))
	contract.Attach(backend)

	b := binding{backend: backend, address: contract.Address, abi: def}

	res, err := b.call(context.Background(), common.Address{}, "owner")
	require.NoError(t, err)
	require.Equal(t, contract.Owner, res[0])

	_, err = b.call(context.Background(), common.Address{}, "unknown")
	require.EqualError(t, err, "failed to pack 'unknown': method 'unknown' not found")

	contract.Revert = "paused"

	_, err = b.call(context.Background(), common.Address{}, "owner")
	require.EqualError(t, err, "call to 'owner' failed: execution reverted: paused")
	require.Equal(t, "paused", chain.AsRevert(err).Reason)

	backend.CallFn = nil

	_, err = b.call(context.Background(), common.Address{}, "owner")
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to unpack 'owner': ")

	b.backend = fake.NewBadBackend()

	_, err = b.call(context.Background(), common.Address{}, "owner")
	require.EqualError(t, err, fake.Err("failed to call 'owner'"))
}

// -----------------------------------------------------------------------------
// Utility functions

// writeABI writes the embedded definition after applying the change to every
// entry.
func writeABI(t *testing.T, path string, change func(map[string]interface{})) {
	var entries []map[string]interface{}
	require.NoError(t, json.Unmarshal(embeddedABI, &entries))

	for _, entry := range entries {
		change(entry)
	}

	data, err := json.Marshal(entries)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, data, 0600))
}
