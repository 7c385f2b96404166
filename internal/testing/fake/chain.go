package fake

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Backend is a fake JSON-RPC endpoint. Contract calls are delegated to the
// handler and the logs are filtered like a node would do.
//
// - implements chain.Backend
type Backend struct {
	sync.Mutex

	Err       error
	CallFn    func(msg ethereum.CallMsg) ([]byte, error)
	Code      []byte
	Nonce     uint64
	Gas       uint64
	GasErr    error
	TipCap    *big.Int
	TipErr    error
	GasPrice  *big.Int
	Header    *types.Header
	ChainIDV  *big.Int
	Logs      []types.Log
	LogErr    *Counter
	Queries   []ethereum.FilterQuery
	Estimates []ethereum.CallMsg
	Closed    bool
}

// NewBackend returns a fake endpoint with a London header at the given block
// number and time.
func NewBackend(number, time uint64) *Backend {
	return &Backend{
		Nonce:    7,
		Gas:      50000,
		TipCap:   big.NewInt(1_000_000_000),
		GasPrice: big.NewInt(3_000_000_000),
		Header: &types.Header{
			Number:  new(big.Int).SetUint64(number),
			Time:    time,
			BaseFee: big.NewInt(2_000_000_000),
		},
		ChainIDV: big.NewInt(1337),
	}
}

// NewBadBackend returns a fake endpoint that fails every call.
func NewBadBackend() *Backend {
	return &Backend{Err: fakeErr}
}

// CodeAt implements chain.Backend.
func (b *Backend) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	if b.Err != nil {
		return nil, b.Err
	}

	return b.Code, nil
}

// CallContract implements chain.Backend. It calls the handler.
func (b *Backend) CallContract(ctx context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if b.Err != nil {
		return nil, b.Err
	}

	if b.CallFn == nil {
		return nil, nil
	}

	return b.CallFn(msg)
}

// EstimateGas implements chain.Backend.
func (b *Backend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	b.Lock()
	b.Estimates = append(b.Estimates, msg)
	b.Unlock()

	if b.Err != nil {
		return 0, b.Err
	}

	if b.GasErr != nil {
		return 0, b.GasErr
	}

	return b.Gas, nil
}

// PendingNonceAt implements chain.Backend.
func (b *Backend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	if b.Err != nil {
		return 0, b.Err
	}

	return b.Nonce, nil
}

// SuggestGasPrice implements chain.Backend.
func (b *Backend) SuggestGasPrice(context.Context) (*big.Int, error) {
	if b.Err != nil {
		return nil, b.Err
	}

	return b.GasPrice, nil
}

// SuggestGasTipCap implements chain.Backend.
func (b *Backend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	if b.Err != nil {
		return nil, b.Err
	}

	if b.TipErr != nil {
		return nil, b.TipErr
	}

	return b.TipCap, nil
}

// HeaderByNumber implements chain.Backend. It always returns the header of the
// fake.
func (b *Backend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	if b.Err != nil {
		return nil, b.Err
	}

	b.Lock()
	defer b.Unlock()

	return types.CopyHeader(b.Header), nil
}

// BlockNumber implements chain.Backend.
func (b *Backend) BlockNumber(context.Context) (uint64, error) {
	if b.Err != nil {
		return 0, b.Err
	}

	b.Lock()
	defer b.Unlock()

	return b.Header.Number.Uint64(), nil
}

// ChainID implements chain.Backend.
func (b *Backend) ChainID(context.Context) (*big.Int, error) {
	if b.Err != nil {
		return nil, b.Err
	}

	return b.ChainIDV, nil
}

// FilterLogs implements chain.Backend. It returns the logs in the range of
// blocks that match the address and the first topic of the query.
func (b *Backend) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	b.Lock()
	defer b.Unlock()

	b.Queries = append(b.Queries, q)

	if b.Err != nil {
		return nil, b.Err
	}

	if b.LogErr != nil {
		if b.LogErr.Done() {
			return nil, fakeErr
		}

		b.LogErr.Decrease()
	}

	res := []types.Log{}

	for _, log := range b.Logs {
		if q.FromBlock != nil && log.BlockNumber < q.FromBlock.Uint64() {
			continue
		}

		if q.ToBlock != nil && log.BlockNumber > q.ToBlock.Uint64() {
			continue
		}

		if !matchAddress(q.Addresses, log.Address) || !matchTopics(q.Topics, log.Topics) {
			continue
		}

		res = append(res, log)
	}

	return res, nil
}

// Close implements chain.Backend.
func (b *Backend) Close() {
	b.Lock()
	b.Closed = true
	b.Unlock()
}

// SetHead moves the head of the fake chain.
func (b *Backend) SetHead(number, time uint64) {
	b.Lock()
	b.Header.Number = new(big.Int).SetUint64(number)
	b.Header.Time = time
	b.Unlock()
}

// AddLog appends a log to the fake chain.
func (b *Backend) AddLog(log types.Log) {
	b.Lock()
	b.Logs = append(b.Logs, log)
	b.Unlock()
}

func matchAddress(addrs []common.Address, addr common.Address) bool {
	if len(addrs) == 0 {
		return true
	}

	for _, a := range addrs {
		if a == addr {
			return true
		}
	}

	return false
}

func matchTopics(query [][]common.Hash, topics []common.Hash) bool {
	for i, alternatives := range query {
		if len(alternatives) == 0 {
			continue
		}

		if i >= len(topics) {
			return false
		}

		found := false
		for _, topic := range alternatives {
			if topic == topics[i] {
				found = true
			}
		}

		if !found {
			return false
		}
	}

	return true
}
