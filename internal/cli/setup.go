package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	deployer "github.com/branched-services/go-deployer"
	"github.com/branched-services/go-deployer/declfile"
	"github.com/branched-services/go-deployer/ethnet"
	"github.com/branched-services/go-deployer/internal/config"
	"github.com/branched-services/go-deployer/journal/badgerjournal"
	"github.com/branched-services/go-deployer/journal/pgjournal"
	"github.com/branched-services/go-deployer/journal/redisjournal"
	"github.com/branched-services/go-deployer/signer"
)

// connection is a network plus the accounts it can sign for.
type connection struct {
	network  deployer.Network
	accounts []common.Address
	close    func()
}

type connectFunc func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*connection, error)

// dialNetwork connects to cfg.RPCURL and loads the configured keys.
func dialNetwork(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*connection, error) {
	ec, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.RPCURL, err)
	}
	chainID, err := ec.ChainID(ctx)
	if err != nil {
		ec.Close()
		return nil, fmt.Errorf("chain id: %w", err)
	}

	var s *signer.LocalSigner
	switch {
	case cfg.Signer.Dev:
		s, err = signer.DevSigner(chainID)
	case cfg.Signer.Keystore != "":
		s, err = signer.LoadKeystore(chainID, cfg.Signer.Keystore, cfg.Signer.Passphrase)
	default:
		s, err = signer.FromHex(chainID, cfg.Signer.Keys...)
	}
	if err != nil {
		ec.Close()
		return nil, err
	}
	if len(s.Accounts()) == 0 {
		logger.Warn("No signing keys configured; only static calls can be executed")
	}

	opts := []ethnet.Option{
		ethnet.WithLogger(logger),
		ethnet.WithGasBuffer(cfg.Gas.BufferPercent),
	}
	if cfg.Gas.Limit > 0 {
		opts = append(opts, ethnet.WithGasLimit(cfg.Gas.Limit))
	}
	client, err := ethnet.New(ctx, ec, s, opts...)
	if err != nil {
		ec.Close()
		return nil, err
	}
	logger.Info("Connected", "rpc", cfg.RPCURL, "chain_id", chainID, "accounts", len(s.Accounts()))
	return &connection{network: client, accounts: s.Accounts(), close: ec.Close}, nil
}

// openJournal opens the configured backend. The returned func releases it.
func openJournal(ctx context.Context, cfg *config.Config, logger *slog.Logger) (deployer.Journal, func(), error) {
	switch cfg.Journal.Backend {
	case config.BackendMemory:
		return deployer.NewMemoryJournal(), func() {}, nil
	case config.BackendBadger:
		j, err := badgerjournal.Open(cfg.Journal.Dir, badgerjournal.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return j, func() {
			if err := j.Close(); err != nil {
				logger.Error("Failed to close journal", "error", err)
			}
		}, nil
	case config.BackendPostgres:
		j, pool, err := pgjournal.Connect(ctx, cfg.Journal.PostgresDSN, pgjournal.WithTable(cfg.Journal.PostgresTable))
		if err != nil {
			return nil, nil, err
		}
		return j, pool.Close, nil
	case config.BackendRedis:
		j, client, err := redisjournal.Connect(ctx, cfg.Journal.RedisURL, redisjournal.WithPrefix(cfg.Journal.RedisPrefix))
		if err != nil {
			return nil, nil, err
		}
		return j, func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown journal backend %q", config.ErrInvalid, cfg.Journal.Backend)
	}
}

// buildPlan loads declarations, artifacts and parameters and builds the plan.
// All failures are input errors.
func buildPlan(cfg *config.Config) (*deployer.Plan, error) {
	if cfg.Plan.Declarations == "" {
		return nil, usageError(errors.New("no declarations file given"))
	}
	decls, err := declfile.Load(cfg.Plan.Declarations)
	if err != nil {
		return nil, usageError(err)
	}

	opts := []deployer.BuilderOption{
		deployer.WithModule(cfg.Plan.Module),
		deployer.WithPlanID(cfg.Plan.ID),
	}
	if cfg.Plan.Artifacts != "" {
		artifacts, err := deployer.LoadArtifactDir(cfg.Plan.Artifacts)
		if err != nil {
			return nil, usageError(fmt.Errorf("load artifacts: %w", err))
		}
		opts = append(opts, deployer.WithArtifacts(artifacts))
	}
	if cfg.Plan.Parameters != "" {
		params, err := declfile.LoadParameters(cfg.Plan.Parameters)
		if err != nil {
			return nil, usageError(err)
		}
		opts = append(opts, deployer.WithParameters(params))
	}

	b := deployer.NewBuilder(opts...)
	for _, d := range decls {
		if err := b.Add(d); err != nil {
			return nil, usageError(err)
		}
	}
	plan, err := b.Build()
	if err != nil {
		return nil, usageError(err)
	}
	return plan, nil
}

// planID is the journal key of the configured plan without building it.
func planID(cfg *config.Config) string {
	if cfg.Plan.ID != "" {
		return cfg.Plan.ID
	}
	return cfg.Plan.Module
}

// serveMetrics exposes reg on addr until the returned func is called.
func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) func() {
	srv := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("Serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
