package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/stepwise/internal/engine"
)

// ClaimOptions holds flags for the claim command.
type ClaimOptions struct {
	*RootOptions
	Owner string
	Lease time.Duration
	Force bool
}

// NewClaimCommand creates the claim command.
func NewClaimCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ClaimOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "claim <plan>",
		Short: "Claim the next ready step",
		Long: `Atomically take the lowest-index step that is pending (or held under an
expired lease) and whose dependencies are completed.

Without --owner the configured owner is used; if none is configured a
fresh id is generated and printed. Claiming again with the same owner
resumes the step and renews its lease.

Exit codes:
  0 - Step claimed
  1 - No step is ready (the error lists blocked and held steps)
  3 - Store busy; retry
  4 - Plan document changed since init; run reinit

Examples:
  stepwise claim plans/storage.yaml --owner builder-1
  stepwise claim plans/storage.yaml --lease 10m --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd, func(s *session, out *OutputFormatter) error {
				res, err := s.engine.Claim(cmd.Context(), engine.ClaimRequest{
					Plan:  s.planKey(args[0]),
					Owner: s.owner(opts.Owner),
					Lease: opts.Lease,
					Force: opts.Force,
				})
				if err != nil {
					return err
				}
				return out.Render(res, func(w io.Writer) { printClaim(w, res) })
			})
		},
	}

	cmd.Flags().StringVar(&opts.Owner, "owner", "", "worker identity (default from config, else generated)")
	cmd.Flags().DurationVar(&opts.Lease, "lease", 0, "lease duration (default from config)")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "take over steps held under live leases")

	return cmd
}

func printClaim(w io.Writer, res engine.ClaimResult) {
	verb := "claimed"
	switch {
	case res.Resumed:
		verb = "resumed"
	case res.Reclaimed:
		verb = "reclaimed"
	}
	fmt.Fprintf(w, "%s %s %q as %s until %s\n", verb, res.Step, res.Title, res.Owner, formatTime(res.LeaseExpiresAt))
	if res.PreviousOwner != "" {
		fmt.Fprintf(w, "  previous owner: %s (%d items reset)\n", res.PreviousOwner, res.ItemsReset)
	}
	for _, it := range res.Items {
		fmt.Fprintf(w, "  [%s] %s#%d %s\n", it.Status, it.Kind, it.Ordinal, it.Text)
	}
}
