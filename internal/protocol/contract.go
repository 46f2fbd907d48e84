package protocol

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"liquidityAgent/internal/chain"
	"liquidityAgent/internal/model"
)

// Contract implements Reader and Writer over a Backend.
type Contract struct {
	backend Backend
	address common.Address
	market  abi.ABI
	erc20   abi.ABI
	poolABI abi.ABI
}

// NewContract binds the market contract at address.
func NewContract(backend Backend, address common.Address) (*Contract, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend is nil")
	}
	marketABI, err := MarketABI()
	if err != nil {
		return nil, fmt.Errorf("parse market abi: %w", err)
	}
	erc20ABI, err := ERC20ABI()
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	poolABI, err := V3PoolABI()
	if err != nil {
		return nil, fmt.Errorf("parse pool abi: %w", err)
	}
	return &Contract{
		backend: backend,
		address: address,
		market:  marketABI,
		erc20:   erc20ABI,
		poolABI: poolABI,
	}, nil
}

// Address returns the market contract address.
func (c *Contract) Address() common.Address {
	return c.address
}

// GetMarket reads and decodes a market.
func (c *Contract) GetMarket(ctx context.Context, marketID uint64) (model.Market, error) {
	values, err := c.call(ctx, c.address, c.market, "getMarket", new(big.Int).SetUint64(marketID))
	if err != nil {
		return model.Market{}, err
	}
	m, err := decodeMarket(marketID, values)
	if err != nil {
		return model.Market{}, err
	}
	sqrt, err := c.GetSqrtPriceX96(ctx, marketID)
	if err != nil {
		return model.Market{}, err
	}
	m.SqrtPriceX96 = sqrt
	return m, nil
}

// GetSqrtPriceX96 returns the market's current sqrt price.
func (c *Contract) GetSqrtPriceX96(ctx context.Context, marketID uint64) (*big.Int, error) {
	values, err := c.call(ctx, c.address, c.market, "getSqrtPriceX96", new(big.Int).SetUint64(marketID))
	if err != nil {
		return nil, err
	}
	return singleBigInt("getSqrtPriceX96", values)
}

// GetPosition reads and decodes a position record.
func (c *Contract) GetPosition(ctx context.Context, tokenID *big.Int) (model.OnchainPosition, error) {
	values, err := c.call(ctx, c.address, c.market, "getPosition", tokenID)
	if err != nil {
		return model.OnchainPosition{}, err
	}
	return decodePosition(values)
}

// BalanceOf returns the number of position NFTs held by owner.
func (c *Contract) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	values, err := c.call(ctx, c.address, c.market, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	return singleBigInt("balanceOf", values)
}

// TokenOfOwnerByIndex returns the position id at index of owner's enumeration.
func (c *Contract) TokenOfOwnerByIndex(ctx context.Context, owner common.Address, index *big.Int) (*big.Int, error) {
	values, err := c.call(ctx, c.address, c.market, "tokenOfOwnerByIndex", owner, index)
	if err != nil {
		return nil, err
	}
	return singleBigInt("tokenOfOwnerByIndex", values)
}

// TokenBalance returns the ERC20 balance of owner.
func (c *Contract) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	values, err := c.call(ctx, token, c.erc20, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	return singleBigInt("erc20.balanceOf", values)
}

// Allowance returns the ERC20 allowance of spender over owner's tokens.
func (c *Contract) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	values, err := c.call(ctx, token, c.erc20, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return singleBigInt("erc20.allowance", values)
}

// PoolSlot0 reads slot0 of a V3 pool.
func (c *Contract) PoolSlot0(ctx context.Context, pool common.Address) (model.PoolSlot0, error) {
	values, err := c.call(ctx, pool, c.poolABI, "slot0")
	if err != nil {
		return model.PoolSlot0{}, err
	}
	return decodeSlot0(values)
}

// CreatePosition submits createLiquidityPosition.
func (c *Contract) CreatePosition(ctx context.Context, params CreatePositionParams) (PendingTx, error) {
	return c.transact(ctx, c.address, c.market, "createLiquidityPosition",
		new(big.Int).SetUint64(params.MarketID),
		params.CollateralAmount,
		big.NewInt(int64(params.Range.Lower)),
		big.NewInt(int64(params.Range.Upper)),
		orZero(params.MinAmountTokenA),
		orZero(params.MinAmountTokenB),
		big.NewInt(params.Deadline.Unix()),
	)
}

// ClosePosition submits closeLiquidityPosition.
func (c *Contract) ClosePosition(ctx context.Context, params ClosePositionParams) (PendingTx, error) {
	return c.transact(ctx, c.address, c.market, "closeLiquidityPosition",
		params.TokenID,
		orZero(params.MinAmountTokenA),
		orZero(params.MinAmountTokenB),
		big.NewInt(params.Deadline.Unix()),
	)
}

// Approve submits an ERC20 approval.
func (c *Contract) Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (PendingTx, error) {
	return c.transact(ctx, token, c.erc20, "approve", spender, amount)
}

func (c *Contract) call(ctx context.Context, to common.Address, parsed abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, &chain.ReadError{Op: method, Err: fmt.Errorf("pack: %w", err)}
	}
	msg := ethereum.CallMsg{To: &to, Data: data}
	resp, err := c.backend.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, &chain.ReadError{Op: method, Err: err}
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, model.NewDecodeError(method, "", "unpack: %v", err)
	}
	return values, nil
}

func (c *Contract) transact(ctx context.Context, to common.Address, parsed abi.ABI, method string, args ...interface{}) (PendingTx, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, &chain.WriteError{Op: method, Err: fmt.Errorf("pack: %w", err)}
	}
	tx, err := c.backend.Transact(ctx, to, data)
	if err != nil {
		var werr *chain.WriteError
		if errors.As(err, &werr) {
			werr.Op = method + " " + werr.Op
			return nil, werr
		}
		return nil, &chain.WriteError{Op: method, Err: err}
	}
	return &pendingTx{backend: c.backend, tx: tx, method: method}, nil
}

type pendingTx struct {
	backend Backend
	tx      *types.Transaction
	method  string
}

func (p *pendingTx) Hash() common.Hash {
	return p.tx.Hash()
}

func (p *pendingTx) Wait(ctx context.Context) (Confirmation, error) {
	receipt, err := p.backend.WaitMined(ctx, p.tx)
	if err != nil {
		var werr *chain.WriteError
		if errors.As(err, &werr) {
			werr.Op = p.method + " " + werr.Op
			return Confirmation{}, werr
		}
		return Confirmation{}, &chain.WriteError{Op: p.method, TxHash: p.tx.Hash().Hex(), Err: err}
	}
	conf := Confirmation{
		TxHash:  receipt.TxHash,
		GasUsed: receipt.GasUsed,
	}
	if receipt.BlockNumber != nil {
		conf.BlockNumber = receipt.BlockNumber.Uint64()
	}
	conf.Logs = make([]types.Log, 0, len(receipt.Logs))
	for _, l := range receipt.Logs {
		if l != nil {
			conf.Logs = append(conf.Logs, *l)
		}
	}
	return conf, nil
}

// MintedTokenID finds the ERC721 mint (Transfer from the zero address to owner)
// emitted by contract among logs.
func MintedTokenID(logs []types.Log, contract, owner common.Address) (*big.Int, bool) {
	marketABI, err := MarketABI()
	if err != nil {
		return nil, false
	}
	transferID := marketABI.Events["Transfer"].ID
	for _, l := range logs {
		if l.Address != contract || len(l.Topics) != 4 || l.Topics[0] != transferID {
			continue
		}
		from := common.BytesToAddress(l.Topics[1].Bytes())
		to := common.BytesToAddress(l.Topics[2].Bytes())
		if from != (common.Address{}) || to != owner {
			continue
		}
		return new(big.Int).SetBytes(l.Topics[3].Bytes()), true
	}
	return nil, false
}

func singleBigInt(method string, values []interface{}) (*big.Int, error) {
	if len(values) != 1 {
		return nil, model.NewDecodeError(method, "", "expected 1 output, got %d", len(values))
	}
	v, err := asBigInt(values[0])
	if err != nil {
		return nil, model.NewDecodeError(method, "", "%v", err)
	}
	return v, nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
