package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/stepwise/internal/engine"
)

// stepFlags are the plan/step/owner arguments shared by step commands.
type stepFlags struct {
	Owner string
}

func (f *stepFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.Owner, "owner", "", "worker identity (default from config)")
}

// NewStartCommand creates the start command.
func NewStartCommand(rootOpts *RootOptions) *cobra.Command {
	var flags stepFlags

	cmd := &cobra.Command{
		Use:   "start <plan> <step>",
		Short: "Mark a claimed step as in progress",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withSession(cmd, func(s *session, out *OutputFormatter) error {
				res, err := s.engine.Start(cmd.Context(), s.planKey(args[0]), args[1], s.owner(flags.Owner))
				if err != nil {
					return err
				}
				return out.Render(res, func(w io.Writer) {
					fmt.Fprintf(w, "started %s at %s\n", res.Step, formatTime(res.StartedAt))
				})
			})
		},
	}
	flags.register(cmd)
	return cmd
}

// NewHeartbeatCommand creates the heartbeat command.
func NewHeartbeatCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		flags stepFlags
		lease time.Duration
	)

	cmd := &cobra.Command{
		Use:   "heartbeat <plan> <step>",
		Short: "Extend the lease on a held step",
		Long: `Extend the caller's lease to now + lease. Workers should heartbeat at
roughly half the lease duration.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withSession(cmd, func(s *session, out *OutputFormatter) error {
				res, err := s.engine.Heartbeat(cmd.Context(), s.planKey(args[0]), args[1], s.owner(flags.Owner), lease)
				if err != nil {
					return err
				}
				return out.Render(res, func(w io.Writer) {
					fmt.Fprintf(w, "lease on %s extended until %s\n", res.Step, formatTime(res.LeaseExpiresAt))
				})
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().DurationVar(&lease, "lease", 0, "lease duration (default from config)")
	return cmd
}

// NewCompleteCommand creates the complete command.
func NewCompleteCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		flags  stepFlags
		commit string
		force  bool
		reason string
	)

	cmd := &cobra.Command{
		Use:   "complete <plan> <step>",
		Short: "Complete a held step",
		Long: `Mark a held step completed.

By default every checklist item must be completed or deferred; otherwise
the command fails with OPEN_ITEMS and lists them. --force completes the
remaining items and records --reason.

Example:
  stepwise complete plans/storage.yaml S1 --commit $(git rev-parse HEAD)`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withSession(cmd, func(s *session, out *OutputFormatter) error {
				res, err := s.engine.Complete(cmd.Context(), engine.CompleteRequest{
					Plan:   s.planKey(args[0]),
					Step:   args[1],
					Owner:  s.owner(flags.Owner),
					Commit: commit,
					Force:  force,
					Reason: reason,
				})
				if err != nil {
					return err
				}
				return out.Render(res, func(w io.Writer) {
					fmt.Fprintf(w, "completed %s", res.Step)
					if res.Commit != "" {
						fmt.Fprintf(w, " at %s", res.Commit)
					}
					if res.Forced {
						fmt.Fprintf(w, " (forced, %d items)", res.ItemsForced)
					}
					fmt.Fprintln(w)
					if res.PlanCompleted {
						fmt.Fprintf(w, "plan %s completed\n", res.Plan)
					}
				})
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&commit, "commit", "", "commit that completed the step")
	cmd.Flags().BoolVar(&force, "force", false, "complete despite unresolved checklist items")
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded with a forced completion")
	return cmd
}

// NewReleaseCommand creates the release command.
func NewReleaseCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		flags stepFlags
		admin bool
	)

	cmd := &cobra.Command{
		Use:   "release <plan> <step>",
		Short: "Return a held step to pending",
		Long: `Give up a held step. Unfinished checklist items are reset to open.

--admin releases a step regardless of who holds it, for steps stranded by
a crashed worker.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withSession(cmd, func(s *session, out *OutputFormatter) error {
				res, err := s.engine.Release(cmd.Context(), engine.ReleaseRequest{
					Plan:  s.planKey(args[0]),
					Step:  args[1],
					Owner: s.owner(flags.Owner),
					Admin: admin,
				})
				if err != nil {
					return err
				}
				return out.Render(res, func(w io.Writer) {
					if !res.Released {
						fmt.Fprintf(w, "%s was not held\n", res.Step)
						return
					}
					fmt.Fprintf(w, "released %s from %s (%d items reset)\n", res.Step, res.PreviousOwner, res.ItemsReset)
				})
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&admin, "admin", false, "release regardless of the holder")
	return cmd
}
