package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"liquidityAgent/internal/agent"
	"liquidityAgent/internal/attest"
	"liquidityAgent/internal/chain"
	"liquidityAgent/internal/config"
	"liquidityAgent/internal/coordinator"
	"liquidityAgent/internal/listing"
	"liquidityAgent/internal/oracle"
	"liquidityAgent/internal/policy"
	"liquidityAgent/internal/protocol"
	"liquidityAgent/internal/storage"
	"liquidityAgent/internal/storage/postgres"
)

func main() {
	root := &cobra.Command{
		Use:          "lpagent",
		Short:        "Prediction market liquidity agent",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")
	root.PersistentFlags().String("rpc", "", "chain RPC URL")
	root.PersistentFlags().String("market-address", "", "market contract address")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the agent",
		RunE:  runAgent,
	}

	runCmd.Flags().Uint64("chain-id", 0, "expected chain id, 0 skips the check")
	runCmd.Flags().String("private-key", "", "hex private key of the agent wallet")
	runCmd.Flags().String("attestation-address", "", "attestation service contract address")
	runCmd.Flags().String("attestation-schema", "", "prediction schema uid")
	runCmd.Flags().Uint64("attestation-from-block", 0, "first block to scan for attestations, 0 means head")
	runCmd.Flags().Uint64("attestation-batch-size", 2000, "blocks per attestation log query")
	runCmd.Flags().String("checkpoint", "./data/attest_checkpoint.json", "attestation checkpoint file path")
	runCmd.Flags().String("graphql-url", "", "market indexer GraphQL endpoint")
	runCmd.Flags().String("graphql-api-key", "", "market indexer API key")
	runCmd.Flags().String("oracle-api-key", "", "OpenAI-compatible API key")
	runCmd.Flags().String("oracle-base-url", "", "OpenAI-compatible base URL")
	runCmd.Flags().String("oracle-model", oracle.DefaultModel, "oracle model name")
	runCmd.Flags().String("collateral-amount", "100", "collateral per position, in token units")
	runCmd.Flags().String("emergency-stop-balance", "0", "halt when wallet collateral falls below this, 0 disables")
	runCmd.Flags().Float64("concentration-range", 0.05, "full width of the price band")
	runCmd.Flags().Float64("min-price", 0.01, "lowest target price")
	runCmd.Flags().Float64("max-price", 0.99, "highest target price")
	runCmd.Flags().Float64("deviation-threshold", 0.02, "relative drift that counts as a deviation")
	runCmd.Flags().Duration("cooldown", 10*time.Minute, "pause after an adjustment request")
	runCmd.Flags().Int("max-positions", 10, "position ceiling, 0 means unlimited")
	runCmd.Flags().Duration("poll-interval", 30*time.Second, "attestation polling interval")
	runCmd.Flags().Duration("item-timeout", 15*time.Minute, "upper bound for one queued open batch or adjustment")
	runCmd.Flags().Duration("scan-interval", 5*time.Minute, "market scan interval")
	runCmd.Flags().Int("max-retries", 5, "maximum retry attempts for chain reads")
	runCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	runCmd.Flags().Float64("rpc-rate-limit", 10, "chain reads per second, 0 means unlimited")
	runCmd.Flags().String("events-out", "./data/events.jsonl", "event journal JSONL path")
	runCmd.Flags().String("pg-dsn", "", "Postgres DSN for position persistence")

	root.AddCommand(runCmd)
	root.AddCommand(newStatusCmd())
	root.AddCommand(newPlanCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runAgent(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := dialChain(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer chainClient.Close()

	contract, err := protocol.NewContract(chainClient, cfg.Market())
	if err != nil {
		return err
	}

	journal := storage.NewJsonlStorage(cfg.EventsOut)
	defer journal.Close()
	sinks := storage.Fanout{journal}
	var store *postgres.Store
	if cfg.PgDSN != "" {
		store, err = postgres.NewStore(ctx, cfg.PgDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
		sinks = append(sinks, store)
	}

	monitor := policy.New(policy.Config{
		DeviationThreshold: cfg.DeviationThreshold,
		Cooldown:           cfg.Cooldown,
		MaxPositions:       cfg.MaxPositions,
	}, logger.Named("policy"))

	units := protocol.NewCollateralSession(chainClient, logger.Named("collateral"))
	coord := coordinator.New(coordinator.Config{
		Owner:                chainClient.From(),
		MarketContract:       cfg.Market(),
		Deadline:             cfg.TxDeadline,
		ConfirmTimeout:       cfg.ConfirmTimeout,
		EmergencyStopBalance: cfg.EmergencyStopBalance,
	}, contract, contract, monitor, units, sinks, logger.Named("coordinator"))

	deps := agent.Deps{
		Coordinator: coord,
		Markets:     contract,
		Units:       units,
		Policy:      monitor,
	}
	if store != nil {
		deps.Positions = store
	}
	if cfg.GraphQLURL != "" {
		deps.Lister = listing.NewClient(cfg.GraphQLURL, cfg.GraphQLAPIKey, logger.Named("listing"))
		estimator, err := oracle.New(oracle.Config{
			APIKey:  cfg.OracleAPIKey,
			BaseURL: cfg.OracleBaseURL,
			Model:   cfg.OracleModel,
		}, logger.Named("oracle"))
		if err != nil {
			return err
		}
		deps.Estimator = estimator
	}
	if cfg.AttestationEnabled() {
		schema, err := cfg.Schema()
		if err != nil {
			return err
		}
		easAddress := common.HexToAddress(cfg.AttestationAddress)
		stream := attest.StreamKey(easAddress, schema)
		var checkpoint attest.Checkpointer = attest.NewFileCheckpoint(cfg.AttestationCheckpoint, stream)
		if store != nil {
			checkpoint = attest.NewStateCheckpoint(store, stream)
		}
		watcher, err := attest.NewWatcher(attest.Config{
			Contract:       easAddress,
			Schema:         schema,
			MarketContract: cfg.Market(),
			FromBlock:      cfg.AttestationFromBlock,
			BatchSize:      cfg.AttestationBatchSize,
		}, chainClient, checkpoint, logger.Named("attest"))
		if err != nil {
			return err
		}
		deps.Signals = watcher
	}

	lp, err := agent.New(agent.Config{
		Plan: agent.PlanConfig{
			ConcentrationRange: cfg.ConcentrationRange,
			MinPrice:           cfg.MinPrice,
			MaxPrice:           cfg.MaxPrice,
		},
		MarketContract:   cfg.Market(),
		CollateralAmount: cfg.CollateralAmount,
		ScanInterval:     cfg.ScanInterval,
		PollInterval:     cfg.PollInterval,
		QueueSize:        cfg.QueueSize,
		ItemTimeout:      cfg.ItemTimeout,
	}, deps, logger.Named("agent"))
	if err != nil {
		return err
	}

	logger.Info("agent start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("chain_id", chainClient.ChainID().String()),
		zap.String("wallet", chainClient.From().Hex()),
		zap.String("market", cfg.Market().Hex()),
		zap.Bool("listing", deps.Lister != nil),
		zap.Bool("attestations", deps.Signals != nil),
		zap.String("collateral_amount", cfg.CollateralAmount.String()),
		zap.Int("max_positions", cfg.MaxPositions),
		zap.String("events_out", cfg.EventsOut),
		zap.Bool("postgres", store != nil),
	)

	return lp.Run(ctx)
}

func dialChain(ctx context.Context, cfg config.Config, logger *zap.Logger) (*chain.Client, error) {
	chainClient, err := chain.NewClient(ctx, chain.ClientConfig{
		RPCURL:       cfg.RPCURL,
		PrivateKey:   cfg.PrivateKey,
		RateLimit:    cfg.RPCRateLimit,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}, logger.Named("chain"))
	if err != nil {
		return nil, fmt.Errorf("connect rpc: %w", err)
	}
	if cfg.ChainID != 0 && chainClient.ChainID().Uint64() != cfg.ChainID {
		chainClient.Close()
		return nil, fmt.Errorf("chain id mismatch: rpc reports %s, expected %d", chainClient.ChainID(), cfg.ChainID)
	}
	return chainClient, nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
