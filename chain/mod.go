// Package chain defines the abstraction of the JSON-RPC endpoint used by the
// gateway and the helpers shared by the components talking to it.
package chain

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/xerrors"
)

// ErrInvalidAddress is returned when a string is not an Ethereum address.
var ErrInvalidAddress = xerrors.New("Invalid Ethereum address")

// Backend is the set of JSON-RPC calls the gateway needs. An
// *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractCaller

	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)

	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)

	SuggestGasPrice(ctx context.Context) (*big.Int, error)

	SuggestGasTipCap(ctx context.Context) (*big.Int, error)

	// HeaderByNumber returns the latest header when the number is nil.
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)

	BlockNumber(ctx context.Context) (uint64, error)

	ChainID(ctx context.Context) (*big.Int, error)

	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)

	Close()
}

// ParseAddress returns the address encoded in the string. The 0x prefix is
// optional. An address with mixed case must match its EIP-55 checksum.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)

	if !common.IsHexAddress(s) {
		return common.Address{}, ErrInvalidAddress
	}

	addr := common.HexToAddress(s)

	digits := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if digits != strings.ToLower(digits) && digits != strings.ToUpper(digits) {
		if addr.Hex()[2:] != digits {
			return common.Address{}, ErrInvalidAddress
		}
	}

	return addr, nil
}

// RevertError is returned when the endpoint reports that the execution of the
// contract reverted.
type RevertError struct {
	Reason string
}

// Error implements error.
func (e *RevertError) Error() string {
	if e.Reason == "" {
		return "execution reverted"
	}

	return "execution reverted: " + e.Reason
}

// AsRevert returns the revert error described by the error of the endpoint,
// or nil if the error is not about a revert.
func AsRevert(err error) *RevertError {
	if err == nil {
		return nil
	}

	var revert *RevertError
	if xerrors.As(err, &revert) {
		return revert
	}

	msg := err.Error()
	if !strings.Contains(msg, "execution reverted") && !strings.Contains(msg, "revert") {
		return nil
	}

	var dataErr rpc.DataError
	if xerrors.As(err, &dataErr) {
		reason, ok := decodeRevertData(dataErr.ErrorData())
		if ok {
			return &RevertError{Reason: reason}
		}
	}

	idx := strings.Index(msg, "execution reverted: ")
	if idx >= 0 {
		return &RevertError{Reason: msg[idx+len("execution reverted: "):]}
	}

	return &RevertError{}
}

func decodeRevertData(data interface{}) (string, bool) {
	str, ok := data.(string)
	if !ok {
		return "", false
	}

	raw, err := hexutil.Decode(str)
	if err != nil {
		return "", false
	}

	reason, err := abi.UnpackRevert(raw)
	if err != nil {
		return "", false
	}

	return reason, true
}

// LatestTime returns the timestamp of the latest block, which is the time the
// contract compares against.
func LatestTime(ctx context.Context, backend Backend) (uint64, error) {
	header, err := backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, xerrors.Errorf("failed to get header: %v", err)
	}

	return header.Time, nil
}
