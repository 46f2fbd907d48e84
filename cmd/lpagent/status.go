package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"liquidityAgent/internal/config"
	"liquidityAgent/internal/coordinator"
	"liquidityAgent/internal/model"
	"liquidityAgent/internal/policy"
	"liquidityAgent/internal/protocol"
	"liquidityAgent/internal/storage"
	"liquidityAgent/internal/tickmath"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the wallet's on-chain positions",
		RunE:  runStatus,
	}
	cmd.Flags().String("owner", "", "wallet address, defaults to the private key's address")
	cmd.Flags().String("private-key", "", "hex private key of the agent wallet")
	cmd.Flags().Bool("all", false, "include closed and settled positions")
	cmd.Flags().Int("events", 0, "also print the last N events of the event journal")
	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.ValidateRead(); err != nil {
		return err
	}
	showAll, _ := cmd.Flags().GetBool("all")
	lastEvents, _ := cmd.Flags().GetInt("events")

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := dialChain(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer chainClient.Close()

	owner := chainClient.From()
	if cfg.Owner != "" {
		owner = common.HexToAddress(cfg.Owner)
	}
	if owner == (common.Address{}) {
		return fmt.Errorf("owner or private-key is required")
	}

	contract, err := protocol.NewContract(chainClient, cfg.Market())
	if err != nil {
		return err
	}
	coord := coordinator.New(coordinator.Config{
		Owner:          owner,
		MarketContract: cfg.Market(),
	}, contract, contract, policy.New(policy.Config{}, logger), nil, nil, logger)

	positions, err := coord.OwnedPositions(ctx)
	if err != nil {
		return err
	}

	prices := make(map[uint64]float64)
	for _, p := range positions {
		if _, ok := prices[p.MarketID]; ok || p.Settled {
			continue
		}
		price, err := coord.CurrentPrice(ctx, p.MarketID)
		if err != nil {
			logger.Sugar().Warnf("price read failed for market %d: %v", p.MarketID, err)
			continue
		}
		prices[p.MarketID] = price
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "owner %s, market contract %s\n", owner.Hex(), cfg.Market().Hex())
	if err := renderPositions(out, positions, prices, showAll); err != nil {
		return err
	}
	if lastEvents <= 0 {
		return nil
	}

	events, err := storage.ReadEvents(cfg.EventsOut)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nevents from %s\n", cfg.EventsOut)
	return renderEvents(out, events, lastEvents)
}

func renderPositions(out io.Writer, positions []model.OnchainPosition, prices map[uint64]float64, showAll bool) error {
	table := tablewriter.NewWriter(out)
	table.Header("Token", "Market", "Kind", "Lower", "Upper", "Price band", "Current", "Liquidity", "Settled")

	for _, p := range positions {
		if !showAll && !p.OpenLiquidity() {
			continue
		}
		current := "-"
		if price, ok := prices[p.MarketID]; ok {
			current = fmt.Sprintf("%.4f", price)
		}
		liquidity := "0"
		if p.Liquidity != nil {
			liquidity = p.Liquidity.String()
		}
		err := table.Append(
			p.TokenID.String(),
			fmt.Sprintf("%d", p.MarketID),
			p.Kind.String(),
			fmt.Sprintf("%d", p.Range.Lower),
			fmt.Sprintf("%d", p.Range.Upper),
			fmt.Sprintf("%.4f-%.4f", tickmath.TickToPrice(p.Range.Lower), tickmath.TickToPrice(p.Range.Upper)),
			current,
			liquidity,
			fmt.Sprintf("%t", p.Settled),
		)
		if err != nil {
			return fmt.Errorf("render positions: %w", err)
		}
	}
	return table.Render()
}

// renderEvents prints the last limit events of a journal, oldest first.
func renderEvents(out io.Writer, events []model.Event, limit int) error {
	if len(events) > limit {
		events = events[len(events)-limit:]
	}

	table := tablewriter.NewWriter(out)
	table.Header("Time", "Event", "Market", "Position", "Ticks", "Tx", "Detail")
	for _, e := range events {
		position, ticks := "-", "-"
		if e.Position != nil {
			position = e.Position.ID
			ticks = fmt.Sprintf("[%d, %d]", e.Position.Range.Lower, e.Position.Range.Upper)
		}
		detail := e.Error
		if detail == "" && e.CurrentPrice != 0 {
			detail = fmt.Sprintf("price %.4f", e.CurrentPrice)
		}
		tx := e.TxHash
		if tx == "" {
			tx = "-"
		}
		err := table.Append(
			e.Timestamp.UTC().Format(time.RFC3339),
			string(e.Type),
			fmt.Sprintf("%d", e.MarketID),
			position,
			ticks,
			tx,
			detail,
		)
		if err != nil {
			return fmt.Errorf("render events: %w", err)
		}
	}
	return table.Render()
}
