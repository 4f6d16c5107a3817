package main

import (
	"time"

	"github.com/spf13/cobra"
)

var (
	learnUser  int64
	learnSince time.Duration
	backfillN  int
)

var decayCmd = &cobra.Command{
	Use:   "decay",
	Short: "Apply relevance decay and expire old memories",
	Long: `Runs one decay pass: relevance drops linearly per day since the last
access, short-term memories past their TTL expire, and memories whose
relevance reaches zero are deactivated. Running it twice a day is harmless.`,
	Args: cobra.NoArgs,
	RunE: runDecay,
}

var learnCmd = &cobra.Command{
	Use:   "learn",
	Short: "Update preference profiles from message history",
	Args:  cobra.NoArgs,
	RunE:  runLearn,
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Embed chunks stored while the embedding provider was down",
	Args:  cobra.NoArgs,
	RunE:  runBackfill,
}

func init() {
	learnCmd.Flags().Int64Var(&learnUser, "user", 0, "learn a single user (0 learns every recently active user)")
	learnCmd.Flags().DurationVar(&learnSince, "since", 24*time.Hour, "activity window when learning every user")
	backfillCmd.Flags().IntVarP(&backfillN, "limit", "n", 0, "maximum chunks to embed (0 embeds all)")
	rootCmd.AddCommand(decayCmd, learnCmd, backfillCmd)
}

func runDecay(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.engine.Memories().Decay(cmd.Context())
	if jsonOutput {
		if perr := printJSON(cmd, report); perr != nil {
			return perr
		}
	} else {
		cmd.Printf("Scanned %d, decayed %d, expired %d, exhausted %d\n",
			report.Scanned, report.Decayed, report.Expired, report.Exhausted)
	}
	return err
}

func runLearn(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if learnUser != 0 {
		profile, err := a.learner.Learn(ctx, learnUser)
		if err != nil {
			return err
		}
		return printJSON(cmd, profile)
	}

	n, err := a.learner.LearnActive(ctx, time.Now().Add(-learnSince))
	cmd.Printf("Learned %d profiles\n", n)
	return err
}

func runBackfill(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.engine.Documents().Backfill(cmd.Context(), backfillN)
	cmd.Printf("Embedded %d chunks\n", n)
	return err
}
