package main

import (
	"bytes"
	"context"
	"math/big"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"liquidityAgent/internal/agent"
	"liquidityAgent/internal/model"
	"liquidityAgent/internal/storage"
)

func TestRenderPlan(t *testing.T) {
	plan, err := agent.PlanPosition(agent.PlanConfig{ConcentrationRange: 0.05, MinPrice: 0.01, MaxPrice: 0.99}, 0.73, nil)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	var buf bytes.Buffer
	if err := renderPlan(&buf, plan, nil, nil); err != nil {
		t.Fatalf("render: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"0.7300", "0.7050-0.7550", "[-3600, -2800]"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
	if strings.Contains(out, "market bounds") {
		t.Fatalf("unbounded plan must not print market rows")
	}
}

func TestRenderPositionsFiltersClosed(t *testing.T) {
	positions := []model.OnchainPosition{
		{TokenID: big.NewInt(11), Kind: model.PositionKindLiquidity, MarketID: 1, Liquidity: big.NewInt(500), Range: model.TickRange{Lower: -3600, Upper: -2800}},
		{TokenID: big.NewInt(12), Kind: model.PositionKindLiquidity, MarketID: 2, Liquidity: big.NewInt(0), Range: model.TickRange{Lower: -400, Upper: 0}},
	}
	var buf bytes.Buffer
	if err := renderPositions(&buf, positions, map[uint64]float64{1: 0.731}, false); err != nil {
		t.Fatalf("render: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "11") || !strings.Contains(out, "0.7310") {
		t.Fatalf("expected open position row:\n%s", out)
	}
	if strings.Contains(out, "-400") {
		t.Fatalf("closed position must be hidden:\n%s", out)
	}

	buf.Reset()
	if err := renderPositions(&buf, positions, nil, true); err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(buf.String(), "-400") {
		t.Fatalf("expected closed position with --all:\n%s", buf.String())
	}
}

func TestRenderEventsShowsJournalTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	journal := storage.NewJsonlStorage(path)
	defer journal.Close()

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := []model.Event{
		{Type: model.EventPositionCreated, Timestamp: ts, MarketID: 1, TxHash: "0xaaa",
			Position: &model.LiquidityPosition{ID: "p-old", MarketID: 1, Range: model.TickRange{Lower: -3600, Upper: -2800}}},
		{Type: model.EventPositionNeedsAdjustment, Timestamp: ts.Add(time.Minute), MarketID: 1, CurrentPrice: 0.5123,
			Position: &model.LiquidityPosition{ID: "p-old", MarketID: 1, Range: model.TickRange{Lower: -3600, Upper: -2800}}},
		{Type: model.EventError, Timestamp: ts.Add(2 * time.Minute), MarketID: 2, Error: "insufficient collateral"},
	}
	for _, e := range events {
		if err := journal.Emit(context.Background(), e); err != nil {
			t.Fatalf("emit: %v", err)
		}
	}

	read, err := storage.ReadEvents(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var buf bytes.Buffer
	if err := renderEvents(&buf, read, 2); err != nil {
		t.Fatalf("render: %v", err)
	}

	out := buf.String()
	if strings.Contains(out, "0xaaa") {
		t.Fatalf("only the last 2 events must be shown:\n%s", out)
	}
	for _, want := range []string{"price 0.5123", "insufficient collateral", "2026-03-01T12:02:00Z"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}
