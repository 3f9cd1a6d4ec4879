package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	deployer "github.com/branched-services/go-deployer"
)

func (a *app) planCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan [declarations]",
		Short: "Show the execution order without touching the network",
		Args:  cobra.MaximumNArgs(1),
		PreRun: func(cmd *cobra.Command, args []string) {
			a.bind(cmd.Flags(), map[string]string{
				"plan.artifacts":  "artifacts",
				"plan.parameters": "parameters",
			})
			if len(args) == 1 {
				a.v.Set("plan.declarations", args[0])
			}
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.load()
			if err != nil {
				return err
			}
			plan, err := buildPlan(cfg)
			if err != nil {
				return err
			}
			printPlan(a.stdout, plan)
			return nil
		},
	}
	cmd.Flags().String("artifacts", "", "directory of Hardhat or Foundry artifacts")
	cmd.Flags().String("parameters", "", "JSON parameters file")
	return cmd
}

func (a *app) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List the journaled state of a plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.load()
			if err != nil {
				return err
			}
			if err := cfg.ValidateJournal(); err != nil {
				return usageError(err)
			}
			logger := a.logger(cfg)

			journal, closeJournal, err := openJournal(cmd.Context(), cfg, logger)
			if err != nil {
				return failure(err)
			}
			defer closeJournal()

			lister, ok := journal.(deployer.Lister)
			if !ok {
				return usageError(fmt.Errorf("journal backend %q cannot list records", cfg.Journal.Backend))
			}
			id := planID(cfg)
			recs, err := lister.Records(cmd.Context(), id)
			if err != nil {
				return failure(err)
			}
			printRecords(a.stdout, id, recs)
			return nil
		},
	}
}

func (a *app) wipeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "wipe <future>",
		Short: "Forget the journaled state of one future",
		Long: `Remove one future from the journal so the next deploy executes it again.
The future is given by ID ("Main#token") or by declared name ("token"),
which is qualified with the configured module.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load()
			if err != nil {
				return err
			}
			if err := cfg.ValidateJournal(); err != nil {
				return usageError(err)
			}
			logger := a.logger(cfg)

			journal, closeJournal, err := openJournal(cmd.Context(), cfg, logger)
			if err != nil {
				return failure(err)
			}
			defer closeJournal()

			wiper, ok := journal.(deployer.Wiper)
			if !ok {
				return usageError(fmt.Errorf("journal backend %q cannot wipe records", cfg.Journal.Backend))
			}
			futureID := args[0]
			if !strings.Contains(futureID, "#") {
				futureID = cfg.Plan.Module + "#" + futureID
			}
			id := planID(cfg)
			if err := wiper.Wipe(cmd.Context(), id, futureID); err != nil {
				return failure(err)
			}
			fmt.Fprintf(a.stdout, "Wiped %s from plan %s\n", futureID, id)
			return nil
		},
	}
}

func printPlan(w io.Writer, plan *deployer.Plan) {
	fmt.Fprintf(w, "Plan %s: %d futures\n", plan.ID(), plan.Len())
	tw := newTable(w)
	fmt.Fprintln(tw, "  #\tFUTURE\tKIND\tDEPENDS ON")
	for i, f := range plan.Futures() {
		deps := make([]string, 0, len(f.Dependencies()))
		for _, d := range f.Dependencies() {
			deps = append(deps, d.Name())
		}
		after := "-"
		if len(deps) > 0 {
			after = strings.Join(deps, ", ")
		}
		fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\n", i+1, f.ID(), f.Kind(), after)
	}
	_ = tw.Flush()
}

func printRecords(w io.Writer, planID string, recs []deployer.ExecutionRecord) {
	if len(recs) == 0 {
		fmt.Fprintf(w, "No records for plan %s\n", planID)
		return
	}
	fmt.Fprintf(w, "Plan %s: %d records\n", planID, len(recs))
	tw := newTable(w)
	fmt.Fprintln(tw, "  FUTURE\tSTATE\tTX\tRESULT")
	for _, rec := range recs {
		tx := "-"
		if rec.TxHash != (common.Hash{}) {
			tx = rec.TxHash.Hex()
		}
		result := "-"
		switch {
		case rec.Error != "":
			result = rec.ErrorKind + ": " + rec.Error
		case rec.Value != nil:
			result = rec.Value.String()
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", rec.FutureID, rec.State, tx, result)
	}
	_ = tw.Flush()
}

// newTable creates a tabwriter for aligned output.
func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}
