package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"liquidityAgent/internal/agent"
	"liquidityAgent/internal/config"
	"liquidityAgent/internal/model"
	"liquidityAgent/internal/protocol"
	"liquidityAgent/internal/tickmath"
)

func newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the price band and tick range for a likelihood",
		RunE:  runPlan,
	}
	cmd.Flags().Float64("likelihood", 0, "probability of YES in [0, 1]")
	cmd.Flags().Uint64("market-id", 0, "clamp to this market's tick bounds")
	cmd.Flags().Float64("concentration-range", 0.05, "full width of the price band")
	cmd.Flags().Float64("min-price", 0.01, "lowest target price")
	cmd.Flags().Float64("max-price", 0.99, "highest target price")
	_ = cmd.MarkFlagRequired("likelihood")
	return cmd
}

func runPlan(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	likelihood, _ := cmd.Flags().GetFloat64("likelihood")

	var (
		market *model.Market
		slot0  *model.PoolSlot0
	)
	if cmd.Flags().Changed("market-id") {
		marketID, _ := cmd.Flags().GetUint64("market-id")
		m, s, err := fetchMarket(cfg, marketID)
		if err != nil {
			return err
		}
		market, slot0 = &m, s
	}

	plan, err := agent.PlanPosition(agent.PlanConfig{
		ConcentrationRange: cfg.ConcentrationRange,
		MinPrice:           cfg.MinPrice,
		MaxPrice:           cfg.MaxPrice,
	}, likelihood, market)
	if err != nil {
		return err
	}

	return renderPlan(cmd.OutOrStdout(), plan, market, slot0)
}

// fetchMarket reads the market and, when it has a pool, the pool's slot0.
func fetchMarket(cfg config.Config, marketID uint64) (model.Market, *model.PoolSlot0, error) {
	if err := cfg.ValidateRead(); err != nil {
		return model.Market{}, nil, err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return model.Market{}, nil, err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg.PrivateKey = ""
	chainClient, err := dialChain(ctx, cfg, logger)
	if err != nil {
		return model.Market{}, nil, err
	}
	defer chainClient.Close()

	contract, err := protocol.NewContract(chainClient, cfg.Market())
	if err != nil {
		return model.Market{}, nil, err
	}
	market, err := contract.GetMarket(ctx, marketID)
	if err != nil {
		return model.Market{}, nil, err
	}
	if market.Pool == (common.Address{}) {
		return market, nil, nil
	}
	slot0, err := contract.PoolSlot0(ctx, market.Pool)
	if err != nil {
		logger.Warn("pool slot0 read failed", zap.String("pool", market.Pool.Hex()), zap.Error(err))
		return market, nil, nil
	}
	return market, &slot0, nil
}

func renderPlan(out io.Writer, plan agent.Plan, market *model.Market, slot0 *model.PoolSlot0) error {
	rows := [][]string{
		{"likelihood", fmt.Sprintf("%.4f", plan.Likelihood)},
		{"target price", fmt.Sprintf("%.4f", plan.TargetPrice)},
		{"price band", fmt.Sprintf("%.4f-%.4f", plan.Band.Lower, plan.Band.Upper)},
		{"tick range", fmt.Sprintf("[%d, %d]", plan.Range.Lower, plan.Range.Upper)},
		{"range prices", fmt.Sprintf("%.4f-%.4f", tickmath.TickToPrice(plan.Range.Lower), tickmath.TickToPrice(plan.Range.Upper))},
	}
	if market != nil {
		rows = append(rows,
			[]string{"market", fmt.Sprintf("%d", market.ID)},
			[]string{"market bounds", fmt.Sprintf("[%d, %d]", market.MinTick, market.MaxTick)},
			[]string{"current tick", fmt.Sprintf("%d", plan.CurrentTick)},
			[]string{"settled", fmt.Sprintf("%t", market.Settled)},
		)
	}
	if slot0 != nil {
		rows = append(rows,
			[]string{"pool tick", fmt.Sprintf("%d", slot0.Tick)},
			[]string{"pool price", fmt.Sprintf("%.4f", tickmath.SqrtPriceX96ToPrice(slot0.SqrtPriceX96))},
		)
	}

	table := tablewriter.NewWriter(out)
	table.Header("Field", "Value")
	for _, row := range rows {
		if err := table.Append(row[0], row[1]); err != nil {
			return fmt.Errorf("render plan: %w", err)
		}
	}
	return table.Render()
}
