package controller

import (
	"context"
	"fmt"
	"time"

	"go.dedis.ch/pemilu/chain"
	"go.dedis.ch/pemilu/cli/node"
	"golang.org/x/xerrors"
)

const actionTimeout = 20 * time.Second

// statusAction is an action to print the state of the chain.
//
// - implements node.ActionTemplate
type statusAction struct{}

// Execute implements node.ActionTemplate. It prints the chain id, the head of
// the chain and the suggested fees.
func (statusAction) Execute(ctx node.Context) error {
	var backend chain.Backend

	err := ctx.Injector.Resolve(&backend)
	if err != nil {
		return xerrors.Errorf("injector: %v", err)
	}

	c, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	id, err := backend.ChainID(c)
	if err != nil {
		return xerrors.Errorf("failed to get chain id: %v", err)
	}

	head, err := backend.HeaderByNumber(c, nil)
	if err != nil {
		return xerrors.Errorf("failed to get header: %v", err)
	}

	fmt.Fprintf(ctx.Out, "chain id: %s\n", id)
	fmt.Fprintf(ctx.Out, "head: #%s at %s\n", head.Number,
		time.Unix(int64(head.Time), 0).UTC().Format(time.RFC3339))

	if head.BaseFee != nil {
		fmt.Fprintf(ctx.Out, "base fee: %s wei\n", head.BaseFee)

		tip, err := backend.SuggestGasTipCap(c)
		if err == nil {
			fmt.Fprintf(ctx.Out, "suggested tip: %s wei\n", tip)
		}
	} else {
		price, err := backend.SuggestGasPrice(c)
		if err == nil {
			fmt.Fprintf(ctx.Out, "gas price: %s wei\n", price)
		}
	}

	return nil
}
