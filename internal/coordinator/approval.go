package coordinator

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"liquidityAgent/internal/protocol"
)

// ensureCollateralApproval grants the market contract an unlimited allowance
// when the current one does not cover amount. The approval is a standing trust
// grant to the market contract.
func (c *Coordinator) ensureCollateralApproval(ctx context.Context, token common.Address, amount *big.Int) error {
	spender := c.cfg.MarketContract
	allowance, err := c.reader.Allowance(ctx, token, c.cfg.Owner, spender)
	if err != nil {
		return fmt.Errorf("read allowance: %w", err)
	}
	if allowance.Cmp(amount) >= 0 {
		return nil
	}

	c.logger.Info("approving collateral",
		zap.String("token", token.Hex()),
		zap.String("spender", spender.Hex()),
		zap.String("allowance", allowance.String()),
		zap.String("required", amount.String()),
	)

	pending, err := c.writer.Approve(ctx, token, spender, protocol.MaxUint256())
	if err != nil {
		return fmt.Errorf("approve collateral: %w", err)
	}
	conf, err := c.wait(ctx, pending)
	if err != nil {
		return fmt.Errorf("approve collateral: %w", err)
	}

	c.logger.Info("collateral approved",
		zap.String("tx", conf.TxHash.Hex()),
		zap.Uint64("block", conf.BlockNumber),
		zap.Uint64("gas_used", conf.GasUsed),
	)
	return nil
}
