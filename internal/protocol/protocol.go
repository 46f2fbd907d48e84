// Package protocol binds the prediction-market contract, its ERC20 collateral and
// the market's V3 pool. Contract returns are decoded into typed structures at the
// boundary; a malformed return is a *model.DecodeError.
package protocol

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"liquidityAgent/internal/model"
)

// Backend is the transport the bindings run on. *chain.Client implements it.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Transact(ctx context.Context, to common.Address, data []byte) (*types.Transaction, error)
	WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

// Reader is the chain read interface consumed by the coordinator.
type Reader interface {
	GetMarket(ctx context.Context, marketID uint64) (model.Market, error)
	GetSqrtPriceX96(ctx context.Context, marketID uint64) (*big.Int, error)
	GetPosition(ctx context.Context, tokenID *big.Int) (model.OnchainPosition, error)
	BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error)
	TokenOfOwnerByIndex(ctx context.Context, owner common.Address, index *big.Int) (*big.Int, error)
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
}

// Writer is the chain write interface consumed by the coordinator.
type Writer interface {
	CreatePosition(ctx context.Context, params CreatePositionParams) (PendingTx, error)
	ClosePosition(ctx context.Context, params ClosePositionParams) (PendingTx, error)
	Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (PendingTx, error)
}

// PendingTx is a submitted transaction.
type PendingTx interface {
	Hash() common.Hash
	Wait(ctx context.Context) (Confirmation, error)
}

// Confirmation is the mined result of a transaction.
type Confirmation struct {
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
	Logs        []types.Log
}

// CreatePositionParams are the arguments of createLiquidityPosition.
type CreatePositionParams struct {
	MarketID         uint64
	CollateralAmount *big.Int
	Range            model.TickRange
	MinAmountTokenA  *big.Int
	MinAmountTokenB  *big.Int
	Deadline         time.Time
}

// ClosePositionParams are the arguments of closeLiquidityPosition.
type ClosePositionParams struct {
	TokenID         *big.Int
	MinAmountTokenA *big.Int
	MinAmountTokenB *big.Int
	Deadline        time.Time
}

// MaxUint256 returns 2^256-1, the unlimited approval amount.
func MaxUint256() *big.Int {
	return new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
}
