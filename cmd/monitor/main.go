package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"deltaScope/internal/chain"
	"deltaScope/internal/config"
	"deltaScope/internal/dex"
	"deltaScope/internal/model"
	"deltaScope/internal/monitor"
	"deltaScope/internal/portfolio"
	"deltaScope/internal/pricing"
	"deltaScope/internal/storage"
	"deltaScope/internal/storage/postgres"
	"deltaScope/internal/venue"
)

func main() {
	root := &cobra.Command{
		Use:          "monitor",
		Short:        "Cross-venue exposure monitor",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the monitor loop",
		RunE:  runMonitor,
	}
	addPipelineFlags(runCmd)
	runCmd.Flags().Duration("interval", 5*time.Minute, "refresh interval")
	root.AddCommand(runCmd)

	snapshotCmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Run one refresh cycle and print snapshots as JSON",
		RunE:  runSnapshot,
	}
	addPipelineFlags(snapshotCmd)
	root.AddCommand(snapshotCmd)

	accountsCmd := &cobra.Command{
		Use:   "accounts",
		Short: "Print the resolved monitored-account list",
		RunE:  runAccounts,
	}
	accountsCmd.Flags().StringSlice("account", nil, "monitored addresses (comma-separated, onchain or onchain=venue)")
	accountsCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(accountsCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addPipelineFlags(cmd *cobra.Command) {
	cmd.Flags().String("rpc", "", "EVM RPC URL")
	cmd.Flags().String("venue-url", "", "off-chain venue API base URL (default production)")
	cmd.Flags().String("multicall", "", "multicall contract address (default Multicall3)")
	cmd.Flags().StringSlice("account", nil, "monitored addresses (comma-separated, onchain or onchain=venue)")
	cmd.Flags().String("pg-dsn", "", "Postgres DSN (empty uses the JSONL sink)")
	cmd.Flags().String("out", "./data/snapshots.jsonl", "output JSONL path when no DSN is set")
	cmd.Flags().Duration("cache-ttl", 60*time.Second, "price cache TTL")
	cmd.Flags().Float64("rebalance-band-usd", 500.0, "net-delta notional band before flagging a rebalance")
	cmd.Flags().Int("max-retries", 5, "maximum transport retry attempts")
	cmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner, cleanup, logger, err := buildRunner(ctx, cmd)
	if err != nil {
		return err
	}
	defer cleanup()
	defer logger.Sync()

	return runner.Run(ctx)
}

func runSnapshot(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner, cleanup, logger, err := buildRunner(ctx, cmd)
	if err != nil {
		return err
	}
	defer cleanup()
	defer logger.Sync()

	snapshots, err := runner.RunOnce(ctx)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(snapshots)
}

func runAccounts(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	accounts, err := monitor.ParseAccounts(cfg.Accounts)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		return fmt.Errorf("account list is required")
	}

	for _, account := range accounts {
		line := account.Address
		if account.VenueAddress != "" {
			line += " venue=" + account.VenueAddress
		}
		if account.IsActive {
			line += " active"
		}
		fmt.Println(line)
	}
	return nil
}

// buildRunner wires the full pipeline from config: chain client, batched
// reader, venue client, shared cache, discovery engine, aggregator, store.
func buildRunner(ctx context.Context, cmd *cobra.Command) (*monitor.Runner, func(), *zap.Logger, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, nil, nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, nil, err
	}

	if cfg.RPCURL == "" {
		return nil, nil, nil, fmt.Errorf("rpc url is required")
	}

	accounts, err := monitor.ParseAccounts(cfg.Accounts)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(accounts) == 0 {
		return nil, nil, nil, fmt.Errorf("account list is required")
	}

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect rpc: %w", err)
	}
	cleanup := func() { chainClient.Close() }

	// Round-trip the RPC before wiring anything else, so a dead or
	// wrong-network endpoint fails at startup instead of mid-cycle.
	chainID, err := chainClient.GetChainID(ctx)
	if err != nil {
		cleanup()
		return nil, nil, nil, fmt.Errorf("fetch chain id: %w", err)
	}
	block, err := chainClient.LatestBlockNumber(ctx)
	if err != nil {
		cleanup()
		return nil, nil, nil, fmt.Errorf("fetch latest block: %w", err)
	}
	logger.Info("rpc connected",
		zap.String("chain_id", chainID.String()),
		zap.Uint64("block", block),
	)

	multicallAddress := common.Address{}
	if cfg.MulticallAddress != "" {
		if !common.IsHexAddress(cfg.MulticallAddress) {
			cleanup()
			return nil, nil, nil, fmt.Errorf("invalid multicall address: %s", cfg.MulticallAddress)
		}
		multicallAddress = common.HexToAddress(cfg.MulticallAddress)
	}
	batcher := chain.NewMulticall(chainClient, multicallAddress, uint(cfg.MaxRetries), cfg.RetryBackoff)

	venueClient := venue.NewClient(cfg.VenueURL, logger,
		venue.WithMaxTries(uint(cfg.MaxRetries)),
		venue.WithRetryBackoff(cfg.RetryBackoff),
	)

	cache := pricing.New(cfg.CacheTTL, venueClient, logger)
	engine := dex.NewEngine(batcher, dex.DefaultRegistry(), dex.NewTokenTable(), cache, logger)

	var store storage.Store
	if cfg.PGDSN != "" {
		pgStore, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			cleanup()
			return nil, nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		store = pgStore
		cleanup = func() {
			pgStore.Close()
			chainClient.Close()
		}
	} else {
		store = storage.NewJsonlStore(cfg.Out)
	}

	wallet := monitor.WalletFunc(func(ctx context.Context, account string) ([]model.WalletBalance, error) {
		return engine.WalletBalances(ctx, chainClient, account)
	})

	runner := monitor.NewRunner(monitor.Deps{
		LPs:        engine,
		Venue:      venueClient,
		Wallet:     wallet,
		Aggregator: portfolio.NewAggregator(logger),
		Cache:      cache,
		Store:      store,
		Logger:     logger,
	}, accounts, cfg.RebalanceBandUSD, cfg.Interval)

	logger.Info("monitor configured",
		zap.String("rpc", cfg.RPCURL),
		zap.Int("accounts", len(accounts)),
		zap.Duration("interval", cfg.Interval),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Float64("rebalance_band_usd", cfg.RebalanceBandUSD),
		zap.Bool("postgres", cfg.PGDSN != ""),
	)

	return runner, cleanup, logger, nil
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
