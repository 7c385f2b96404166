// Package txbuilder creates the unsigned transactions returned by the write
// endpoints. The caller signs and broadcasts them with their own wallet.
package txbuilder

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"go.dedis.ch/pemilu/chain"
	"golang.org/x/xerrors"
)

// DefaultGasMargin is the percentage added to the estimated gas.
const DefaultGasMargin = 20

// RawTransaction is the payload of a transaction ready to be signed.
type RawTransaction struct {
	Value                uint64   `json:"value"`
	From                 string   `json:"from"`
	Nonce                uint64   `json:"nonce"`
	Gas                  uint64   `json:"gas"`
	MaxFeePerGas         *big.Int `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *big.Int `json:"maxPriorityFeePerGas,omitempty"`
	GasPrice             *big.Int `json:"gasPrice,omitempty"`
	Type                 uint8    `json:"type"`
	ChainID              uint64   `json:"chainId"`
	To                   string   `json:"to"`
	Data                 string   `json:"data"`
}

// Builder fills the fields of a transaction from the state of the chain.
type Builder struct {
	backend chain.Backend
	margin  uint64
}

// NewBuilder returns a builder adding the margin, in percent, to the
// estimated gas.
func NewBuilder(backend chain.Backend, margin int) Builder {
	if margin < 0 {
		margin = DefaultGasMargin
	}

	return Builder{
		backend: backend,
		margin:  uint64(margin),
	}
}

// Build returns the unsigned transaction calling the contract with the data.
// The fee fields follow EIP-1559 when the latest block has a base fee, and
// fall back to a legacy gas price otherwise. A reverted estimation returns a
// *chain.RevertError.
func (b Builder) Build(ctx context.Context, from, to common.Address, data []byte) (RawTransaction, error) {
	chainID, err := b.backend.ChainID(ctx)
	if err != nil {
		return RawTransaction{}, xerrors.Errorf("failed to get chain id: %v", err)
	}

	head, err := b.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return RawTransaction{}, xerrors.Errorf("failed to get header: %v", err)
	}

	nonce, err := b.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return RawTransaction{}, xerrors.Errorf("failed to get nonce: %v", err)
	}

	tx := RawTransaction{
		From:    from.Hex(),
		To:      to.Hex(),
		Nonce:   nonce,
		ChainID: chainID.Uint64(),
		Data:    hexutil.Encode(data),
	}

	msg := ethereum.CallMsg{
		From:  from,
		To:    &to,
		Data:  data,
		Value: new(big.Int),
	}

	if head.BaseFee != nil {
		tip, err := b.backend.SuggestGasTipCap(ctx)
		if err != nil {
			return RawTransaction{}, xerrors.Errorf("failed to get tip: %v", err)
		}

		maxFee := new(big.Int).Mul(head.BaseFee, big.NewInt(2))
		maxFee.Add(maxFee, tip)

		tx.Type = types.DynamicFeeTxType
		tx.MaxPriorityFeePerGas = tip
		tx.MaxFeePerGas = maxFee

		msg.GasTipCap = tip
		msg.GasFeeCap = maxFee
	} else {
		price, err := b.backend.SuggestGasPrice(ctx)
		if err != nil {
			return RawTransaction{}, xerrors.Errorf("failed to get gas price: %v", err)
		}

		tx.Type = types.LegacyTxType
		tx.GasPrice = price

		msg.GasPrice = price
	}

	gas, err := b.backend.EstimateGas(ctx, msg)
	if err != nil {
		revert := chain.AsRevert(err)
		if revert != nil {
			return RawTransaction{}, xerrors.Errorf("failed to estimate gas: %w", revert)
		}

		return RawTransaction{}, xerrors.Errorf("failed to estimate gas: %v", err)
	}

	tx.Gas = gas * (100 + b.margin) / 100

	return tx, nil
}

// Unsigned returns the go-ethereum transaction described by the payload, whose
// hash is the one the wallet signs.
func (tx RawTransaction) Unsigned() (*types.Transaction, error) {
	data, err := hexutil.Decode(tx.Data)
	if err != nil {
		return nil, xerrors.Errorf("invalid data: %v", err)
	}

	to := common.HexToAddress(tx.To)

	switch tx.Type {
	case types.DynamicFeeTxType:
		return types.NewTx(&types.DynamicFeeTx{
			ChainID:   new(big.Int).SetUint64(tx.ChainID),
			Nonce:     tx.Nonce,
			GasTipCap: tx.MaxPriorityFeePerGas,
			GasFeeCap: tx.MaxFeePerGas,
			Gas:       tx.Gas,
			To:        &to,
			Value:     new(big.Int).SetUint64(tx.Value),
			Data:      data,
		}), nil
	case types.LegacyTxType:
		return types.NewTx(&types.LegacyTx{
			Nonce:    tx.Nonce,
			GasPrice: tx.GasPrice,
			Gas:      tx.Gas,
			To:       &to,
			Value:    new(big.Int).SetUint64(tx.Value),
			Data:     data,
		}), nil
	default:
		return nil, xerrors.Errorf("unsupported type %d", tx.Type)
	}
}

// SigningHash returns the hash that the wallet of the sender signs for the
// transaction.
func (tx RawTransaction) SigningHash() (common.Hash, error) {
	unsigned, err := tx.Unsigned()
	if err != nil {
		return common.Hash{}, xerrors.Errorf("failed to create tx: %v", err)
	}

	signer := types.LatestSignerForChainID(new(big.Int).SetUint64(tx.ChainID))

	return signer.Hash(unsigned), nil
}
