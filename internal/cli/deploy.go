package cli

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	deployer "github.com/branched-services/go-deployer"
)

func (a *app) deployCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy [declarations]",
		Short: "Execute a deployment, resuming from the journal",
		Long: `Execute every declaration in dependency order.

Steps already confirmed in the journal are skipped. If a step fails the run
stops, everything confirmed so far stays journaled, and running the same
command again resumes at the failed step.

Exit status is 1 when a step failed and 2 for invalid input.`,
		Args: cobra.MaximumNArgs(1),
		PreRun: func(cmd *cobra.Command, args []string) {
			a.bind(cmd.Flags(), map[string]string{
				"rpc_url":               "rpc-url",
				"plan.artifacts":        "artifacts",
				"plan.parameters":       "parameters",
				"signer.keys":           "key",
				"signer.keystore":       "keystore",
				"signer.passphrase":     "passphrase",
				"signer.dev":            "dev",
				"engine.from":           "from",
				"engine.concurrency":    "concurrency",
				"engine.action_timeout": "action-timeout",
				"engine.poll_interval":  "poll-interval",
				"engine.drain_timeout":  "drain-timeout",
				"gas.buffer_percent":    "gas-buffer",
				"gas.limit":             "gas-limit",
				"metrics.addr":          "metrics-addr",
			})
			if len(args) == 1 {
				a.v.Set("plan.declarations", args[0])
			}
		},
		RunE: a.runDeploy,
	}

	flags := cmd.Flags()
	flags.String("rpc-url", "", "JSON-RPC endpoint (or DEPLOYER_RPC_URL)")
	flags.String("artifacts", "", "directory of Hardhat or Foundry artifacts")
	flags.String("parameters", "", "JSON parameters file")
	flags.StringSlice("key", nil, "hex private key to sign with (repeatable)")
	flags.String("keystore", "", "V3 keystore file to sign with")
	flags.String("passphrase", "", "keystore passphrase (or DEPLOYER_SIGNER_PASSPHRASE)")
	flags.Bool("dev", false, "sign with the well-known development keys")
	flags.String("from", "", "default sender (default is the first signing account)")
	flags.Int("concurrency", 1, "maximum actions in flight")
	flags.Duration("action-timeout", 0, "time to wait for one action (default 5m)")
	flags.Duration("poll-interval", 0, "receipt polling interval (default 1s)")
	flags.Duration("drain-timeout", 0, "time to wait for in-flight actions after interrupt (default 30s)")
	flags.Uint64("gas-buffer", 20, "percent added to gas estimates")
	flags.Uint64("gas-limit", 0, "fixed gas limit instead of estimating")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address during the run")
	return cmd
}

func (a *app) runDeploy(cmd *cobra.Command, _ []string) error {
	cfg, err := a.load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return usageError(err)
	}
	logger := a.logger(cfg)

	plan, err := buildPlan(cfg)
	if err != nil {
		return err
	}

	opts := []deployer.EngineOption{
		deployer.WithLogger(logger),
		deployer.WithConcurrency(cfg.Engine.Concurrency),
		deployer.WithActionTimeout(cfg.Engine.ActionTimeout),
		deployer.WithPollInterval(cfg.Engine.PollInterval),
		deployer.WithDrainTimeout(cfg.Engine.DrainTimeout),
		deployer.WithObserver(newProgress(a.stdout).observe),
	}
	if cfg.Engine.From != "" {
		if !common.IsHexAddress(cfg.Engine.From) {
			return usageError(fmt.Errorf("invalid sender address %q", cfg.Engine.From))
		}
		opts = append(opts, deployer.WithDefaultSender(common.HexToAddress(cfg.Engine.From)))
	}

	ctx := cmd.Context()
	journal, closeJournal, err := openJournal(ctx, cfg, logger)
	if err != nil {
		return failure(err)
	}
	defer closeJournal()

	conn, err := a.connect(ctx, cfg, logger)
	if err != nil {
		return failure(err)
	}
	if conn.close != nil {
		defer conn.close()
	}
	if cfg.Engine.From == "" && len(conn.accounts) > 0 {
		opts = append(opts, deployer.WithDefaultSender(conn.accounts[0]))
	}

	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, deployer.WithMetrics(deployer.NewMetrics(reg)))
		stop := serveMetrics(cfg.Metrics.Addr, reg, logger)
		defer stop()
	}

	fmt.Fprintf(a.stdout, "Plan %s: %d futures\n", plan.ID(), plan.Len())
	registry, runErr := deployer.NewEngine(conn.network, journal, opts...).Run(ctx, plan)
	printRegistry(a.stdout, registry)
	if runErr != nil {
		reportHalt(a.stderr, runErr)
		return failure(runErr)
	}
	return nil
}

// progress prints one line per future transition.
type progress struct {
	mu sync.Mutex
	w  io.Writer
}

func newProgress(w io.Writer) *progress {
	return &progress{w: w}
}

func (p *progress) observe(ev deployer.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case ev.Skipped:
		fmt.Fprintf(p.w, "  %-10s %s (journaled)\n", ev.State, ev.FutureID)
	case ev.Err != nil:
		fmt.Fprintf(p.w, "  %-10s %s: %s: %v\n", ev.State, ev.FutureID, deployer.ErrorKind(ev.Err), ev.Err)
	case ev.State == deployer.Submitted:
		fmt.Fprintf(p.w, "  %-10s %s tx=%s\n", ev.State, ev.FutureID, ev.TxHash.Hex())
	case ev.Value != nil:
		fmt.Fprintf(p.w, "  %-10s %s -> %s\n", ev.State, ev.FutureID, ev.Value)
	default:
		fmt.Fprintf(p.w, "  %-10s %s\n", ev.State, ev.FutureID)
	}
}

func printRegistry(w io.Writer, registry *deployer.Registry) {
	if registry == nil {
		return
	}
	confirmed := registry.Confirmed()
	fmt.Fprintf(w, "Confirmed %d of %d\n", len(confirmed), len(registry.Names()))
	tw := newTable(w)
	for _, name := range confirmed {
		v, err := registry.Get(name)
		if err != nil {
			continue
		}
		fmt.Fprintf(tw, "  %s\t%s\n", name, v)
	}
	_ = tw.Flush()
}

func reportHalt(w io.Writer, err error) {
	var fe *deployer.FutureError
	switch {
	case errors.As(err, &fe):
		fmt.Fprintf(w, "Deployment halted at %q (%s): %s\n", fe.Name, fe.FutureID, fe.Kind())
		if fe.Resumable() {
			fmt.Fprintln(w, "Confirmed steps are journaled; run the same command again to resume.")
		} else {
			fmt.Fprintln(w, "The journal may not reflect the chain; inspect it with 'deployer status' before resuming.")
		}
	case errors.Is(err, deployer.ErrCancelled):
		fmt.Fprintln(w, "Deployment interrupted; run the same command again to resume.")
	}
}
