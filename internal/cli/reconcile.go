package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/stepwise/internal/engine"
	"github.com/roach88/stepwise/internal/ir"
	"github.com/roach88/stepwise/internal/trailer"
)

// ReconcileOptions holds flags for the reconcile command.
type ReconcileOptions struct {
	*RootOptions
	GitDir  string
	LogFile string
	Force   bool
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReconcileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reconcile <plan>",
		Short: "Mark steps completed from commit trailers",
		Long: `Walk the commit log oldest first and mark every step named by a
Stepwise-Step trailer for this plan as completed with that commit.

By default the log is read with git from the coordination root. Use --git
to read another repository, or --log to read output produced with
git log --format='` + trailer.LogFormat + `' from a file ("-" for stdin).

A step already completed with a different commit is reported as a
conflict and left alone unless --force is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.GitDir, "git", "", "repository to read the log from (default: the root)")
	cmd.Flags().StringVar(&opts.LogFile, "log", "", "read a pre-captured log from a file, or - for stdin")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "overwrite conflicting commits")
	cmd.MarkFlagsMutuallyExclusive("git", "log")

	return cmd
}

func runReconcile(cmd *cobra.Command, opts *ReconcileOptions, planArg string) error {
	return opts.withSession(cmd, func(s *session, out *OutputFormatter) error {
		commits, err := opts.readCommits(cmd, s)
		if err != nil {
			return err
		}
		plan := s.planKey(planArg)
		entries := trailer.Entries(commits, plan)
		out.VerboseLog("read %d commits, %d tagged for %s", len(commits), len(entries), plan)

		res, err := s.engine.Reconcile(cmd.Context(), plan, entries, opts.Force)
		if err != nil {
			return err
		}
		return out.Render(res, func(w io.Writer) { printReconcile(w, res) })
	})
}

func (o *ReconcileOptions) readCommits(cmd *cobra.Command, s *session) ([]trailer.Commit, error) {
	switch {
	case o.LogFile == "-":
		return trailer.ParseLog(cmd.InOrStdin())
	case o.LogFile != "":
		f, err := os.Open(o.LogFile)
		if err != nil {
			return nil, fmt.Errorf("open log: %w", err)
		}
		defer f.Close()
		return trailer.ParseLog(f)
	}
	dir := o.GitDir
	if dir == "" {
		dir = s.cfg.Root
	}
	return trailer.ReadGitLog(cmd.Context(), dir)
}

func printReconcile(w io.Writer, res engine.ReconcileResult) {
	fmt.Fprintf(w, "reconciled %d steps, %d unchanged\n", len(res.Reconciled), len(res.Unchanged))
	printList(w, "completed", res.Reconciled)
	for _, c := range res.Conflicts {
		verb := "kept"
		if c.Overwritten {
			verb = "overwrote"
		}
		fmt.Fprintf(w, "conflict %s: store has %s, log has %s (%s)\n",
			c.Step, ir.ShortHash(c.StoreCommit), ir.ShortHash(c.LogCommit), verb)
	}
	printList(w, "unknown", res.Unknown)
	if res.PlanCompleted {
		fmt.Fprintln(w, "plan completed")
	}
}

// NewTrailerCommand creates the trailer command.
func NewTrailerCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "trailer <plan> <step>",
		Short:   "Print the commit trailer that ties a commit to a step",
		Example: `  git commit -m "Add schema" -m "$(stepwise trailer plans/storage.yaml S1)"`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			root := rootOpts.Root
			if root == "" {
				root = "."
			}
			plan := planKey(root, args[0])
			text := trailer.Format(plan, args[1])
			return out.Render(map[string]string{"plan": plan, "step": args[1], "trailer": text}, func(w io.Writer) {
				fmt.Fprint(w, text)
			})
		},
	}
}
