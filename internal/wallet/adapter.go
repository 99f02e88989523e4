package wallet

import (
	"context"
	"math/big"

	"polysentry/internal/chain"
)

// explorerReader adapts the block-explorer client to the ChainReader slice
// the enricher consumes.
type explorerReader struct {
	ex *chain.Explorer
}

// NewChainReader wraps a block-explorer client as a ChainReader.
func NewChainReader(ex *chain.Explorer) ChainReader {
	return explorerReader{ex: ex}
}

func (r explorerReader) FirstTransaction(ctx context.Context, address string) (*TxRef, error) {
	tx, err := r.ex.FirstTransaction(ctx, address)
	if err != nil || tx == nil {
		return nil, err
	}
	return &TxRef{Block: tx.Block(), TimeMs: tx.TimeMs()}, nil
}

func (r explorerReader) TransactionCount(ctx context.Context, address string) (int64, error) {
	return r.ex.TransactionCount(ctx, address)
}

func (r explorerReader) IsContract(ctx context.Context, address string) (bool, error) {
	return r.ex.IsContract(ctx, address)
}

func (r explorerReader) Balance(ctx context.Context, address string) (*big.Int, error) {
	return r.ex.Balance(ctx, address)
}
