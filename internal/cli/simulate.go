package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/ILLUVRSE/agentdao/internal/deliberation"
	"github.com/ILLUVRSE/agentdao/internal/lifecycle"
	"github.com/ILLUVRSE/agentdao/internal/models"
	"github.com/ILLUVRSE/agentdao/internal/notify"
	"github.com/ILLUVRSE/agentdao/internal/scheduler"
	"github.com/ILLUVRSE/agentdao/internal/seed"
	"github.com/ILLUVRSE/agentdao/internal/store"
)

var (
	simProposals int
	simSeed      int64
	simAuthor    string
	simDemo      bool
	simVerbose   bool
)

func init() {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run proposals through deliberation on a virtual clock and print the final state",
		Run:   runSimulate,
	}
	cmd.Flags().IntVarP(&simProposals, "proposals", "n", 3, "Number of proposals to submit")
	cmd.Flags().Int64Var(&simSeed, "seed", 1, "Random seed for votes and hashes")
	cmd.Flags().StringVar(&simAuthor, "author", "0xSIM...0001", "Author address of submitted proposals")
	cmd.Flags().BoolVar(&simDemo, "demo", false, "Start from the demo dataset")
	cmd.Flags().BoolVarP(&simVerbose, "verbose", "v", false, "Log notifications to stderr")

	RootCmd.AddCommand(cmd)
}

// simulation is the printed result of a simulate run.
type simulation struct {
	State         store.State           `json:"state"`
	Stats         models.Stats          `json:"stats"`
	Notifications []notify.Notification `json:"notifications"`
}

type simulateOptions struct {
	Proposals int
	Seed      int64
	Author    string
	Demo      bool
	Log       io.Writer
}

var simTypes = []models.ProposalType{
	models.ProposalFunding,
	models.ProposalGovernance,
	models.ProposalDevelopment,
	models.ProposalCommunity,
	models.ProposalOther,
}

func runSimulation(ctx context.Context, opts simulateOptions) (simulation, error) {
	if opts.Proposals < 0 {
		return simulation{}, fmt.Errorf("proposals must not be negative")
	}
	if opts.Log == nil {
		opts.Log = io.Discard
	}
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := scheduler.NewVirtual(start)
	feed := notify.NewFeed(opts.Proposals*8+16, clock.Now)

	ctrl := lifecycle.New(lifecycle.Options{
		Store:        store.NewMemoryStore(seed.Initial(opts.Demo, start)),
		Scheduler:    clock,
		Seed:         opts.Seed,
		Deliberation: deliberation.DefaultConfig(),
		Notifier:     notify.Multi{feed, notify.NewLogNotifier(log.New(opts.Log, "[notify] ", 0))},
		Logger:       log.New(opts.Log, "[lifecycle] ", 0),
	})

	for i := 0; i < opts.Proposals; i++ {
		draft := models.Draft{
			Title:       fmt.Sprintf("Simulated proposal %d", i+1),
			Description: fmt.Sprintf("Generated by the simulator with seed %d.", opts.Seed),
			Type:        simTypes[i%len(simTypes)],
			Author:      opts.Author,
		}
		if _, err := ctrl.SubmitProposal(ctx, draft); err != nil {
			return simulation{}, err
		}
		// Stagger submissions so runs interleave the way concurrent users would.
		clock.Advance(time.Second)
	}
	clock.RunUntilIdle()

	return simulation{
		State:         ctrl.Snapshot(),
		Stats:         ctrl.Stats(),
		Notifications: feed.Recent(0),
	}, nil
}

func runSimulate(cmd *cobra.Command, args []string) {
	opts := simulateOptions{
		Proposals: simProposals,
		Seed:      simSeed,
		Author:    simAuthor,
		Demo:      simDemo,
	}
	if simVerbose {
		opts.Log = cmd.ErrOrStderr()
	}
	result, err := runSimulation(cmd.Context(), opts)
	if err != nil {
		exitErr("simulate", err)
	}
	b, _ := json.MarshalIndent(result, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
}
