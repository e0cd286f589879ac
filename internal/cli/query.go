package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/stepwise/internal/engine"
	"github.com/roach88/stepwise/internal/ir"
)

// NewReadyCommand creates the ready command.
func NewReadyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ready <plan>",
		Short: "List steps claim would consider, without claiming",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withSession(cmd, func(s *session, out *OutputFormatter) error {
				res, err := s.engine.Ready(cmd.Context(), s.planKey(args[0]))
				if err != nil {
					return err
				}
				return out.Render(res, func(w io.Writer) { printReady(w, res) })
			})
		},
	}
}

func printReady(w io.Writer, res engine.ReadyResult) {
	if res.AllCompleted {
		fmt.Fprintf(w, "%s: all steps completed\n", res.Plan)
		return
	}
	if len(res.Ready) == 0 {
		fmt.Fprintf(w, "%s: no step is ready\n", res.Plan)
	}
	for _, r := range res.Ready {
		fmt.Fprintf(w, "ready    %s %q", r.Anchor, r.Title)
		if r.Expired {
			fmt.Fprintf(w, " (lease of %s expired)", r.PreviousOwner)
		}
		fmt.Fprintln(w)
	}
	for _, h := range res.Held {
		fmt.Fprintf(w, "held     %s by %s until %s\n", h.Anchor, h.Owner, formatTime(h.LeaseExpiresAt))
	}
	for _, b := range res.Blocked {
		fmt.Fprintf(w, "blocked  %s waiting on %s\n", b.Anchor, strings.Join(b.WaitingOn, ", "))
	}
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <plan>",
		Short: "Show per-step progress and checklist detail",
		Long: `Show every step with its status, holder, lease and checklist, plus a
drift report. Drift is reported but does not fail show.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withSession(cmd, func(s *session, out *OutputFormatter) error {
				res, err := s.engine.Show(cmd.Context(), s.planKey(args[0]))
				if err != nil {
					return err
				}
				return out.Render(res, func(w io.Writer) { printShow(w, res, rootOpts.Verbose) })
			})
		},
	}
}

func printShow(w io.Writer, res engine.ShowResult, verbose bool) {
	title := res.Plan.Title
	if title == "" {
		title = res.Plan.Path
	}
	fmt.Fprintf(w, "%s [%s] %d/%d steps, items %s\n",
		title, res.Plan.Status, res.StepsCompleted, res.StepsTotal, formatRollup(res.Items))
	if res.Drift.Drifted {
		fmt.Fprintf(w, "warning: %s\n", res.Drift.Warning)
	}

	for _, s := range res.Steps {
		fmt.Fprintf(w, "%s %-11s %s", s.Anchor, s.Status, s.Title)
		if s.ClaimedBy != "" && s.Status.Held() {
			fmt.Fprintf(w, " (%s", s.ClaimedBy)
			if s.LeaseExpiresAt != nil {
				fmt.Fprintf(w, " until %s", formatTime(*s.LeaseExpiresAt))
			}
			if s.Expired {
				fmt.Fprint(w, ", expired")
			}
			fmt.Fprint(w, ")")
		}
		if s.CommitHash != "" {
			fmt.Fprintf(w, " @%s", s.CommitHash)
		}
		fmt.Fprintln(w)
		if len(s.DependsOn) > 0 {
			fmt.Fprintf(w, "    depends on %s\n", strings.Join(s.DependsOn, ", "))
		}
		if !verbose && s.Status == ir.StepCompleted {
			continue
		}
		for _, it := range s.Items {
			fmt.Fprintf(w, "    [%s] %s#%d %s\n", it.Status, it.Kind, it.Ordinal, it.Text)
		}
		if s.Artifacts > 0 {
			fmt.Fprintf(w, "    %d artifacts\n", s.Artifacts)
		}
	}
}

// NewPlansCommand creates the plans command.
func NewPlansCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "plans",
		Short: "List initialized plans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withSession(cmd, func(s *session, out *OutputFormatter) error {
				plans, err := s.engine.Plans(cmd.Context())
				if err != nil {
					return err
				}
				if plans == nil {
					plans = []ir.Plan{}
				}
				return out.Render(plans, func(w io.Writer) {
					if len(plans) == 0 {
						fmt.Fprintln(w, "No plans initialized.")
					}
					for _, p := range plans {
						fmt.Fprintf(w, "%s [%s] %s\n", p.Path, p.Status, ir.ShortHash(p.Hash))
					}
				})
			})
		},
	}
}

// NewArtifactsCommand creates the artifacts command.
func NewArtifactsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "artifacts <plan> <step>",
		Short: "List a step's recorded artifacts",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withSession(cmd, func(s *session, out *OutputFormatter) error {
				list, err := s.engine.Artifacts(cmd.Context(), s.planKey(args[0]), args[1])
				if err != nil {
					return err
				}
				if list == nil {
					list = []ir.Artifact{}
				}
				return out.Render(list, func(w io.Writer) {
					for _, a := range list {
						fmt.Fprintf(w, "#%d %s %s\n", a.ID, formatTime(a.RecordedAt), a.Kind)
						for _, line := range strings.Split(a.Summary, "\n") {
							fmt.Fprintf(w, "    %s\n", line)
						}
					}
				})
			})
		},
	}
}
