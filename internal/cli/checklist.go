package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/stepwise/internal/engine"
	"github.com/roach88/stepwise/internal/ir"
)

// parseItemUpdate parses "kind#ordinal=status", e.g. "test#2=completed".
func parseItemUpdate(arg string) (engine.ItemUpdate, error) {
	ref, status, ok := strings.Cut(arg, "=")
	if !ok {
		return engine.ItemUpdate{}, fmt.Errorf("item %q: want kind#ordinal=status", arg)
	}
	kind, ordinal, ok := strings.Cut(ref, "#")
	if !ok {
		return engine.ItemUpdate{}, fmt.Errorf("item %q: want kind#ordinal=status", arg)
	}
	n, err := strconv.Atoi(ordinal)
	if err != nil {
		return engine.ItemUpdate{}, fmt.Errorf("item %q: ordinal must be a number", arg)
	}
	return engine.ItemUpdate{
		Kind:    ir.ItemKind(strings.TrimSpace(kind)),
		Ordinal: n,
		Status:  ir.ItemStatus(strings.TrimSpace(status)),
	}, nil
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	var flags stepFlags

	cmd := &cobra.Command{
		Use:   "update <plan> <step> <kind#ordinal=status>...",
		Short: "Set checklist item statuses",
		Long: `Set the status of one or more checklist items of a held step in one
transaction. Kinds are task, test and checkpoint; statuses are open,
in_progress, completed and deferred. If any item does not exist nothing
is changed.

Example:
  stepwise update plans/storage.yaml S1 task#1=completed test#1=deferred`,
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			items := make([]engine.ItemUpdate, 0, len(args)-2)
			for _, arg := range args[2:] {
				u, err := parseItemUpdate(arg)
				if err != nil {
					return rootOpts.formatter(cmd).Fail(ir.NewInvalidArgumentError(err.Error()))
				}
				items = append(items, u)
			}

			return rootOpts.withSession(cmd, func(s *session, out *OutputFormatter) error {
				res, err := s.engine.UpdateChecklist(cmd.Context(), engine.ChecklistRequest{
					Plan:  s.planKey(args[0]),
					Step:  args[1],
					Owner: s.owner(flags.Owner),
					Items: items,
				})
				if err != nil {
					return err
				}
				return out.Render(res, func(w io.Writer) {
					fmt.Fprintf(w, "updated %d items of %s\n", res.Updated, res.Step)
					for _, k := range ir.ItemKinds {
						r := res.Rollup[k]
						if r.Total == 0 {
							continue
						}
						fmt.Fprintf(w, "  %s: %s\n", k, formatRollup(r))
					}
				})
			})
		},
	}
	flags.register(cmd)
	return cmd
}

// NewArtifactCommand creates the artifact command.
func NewArtifactCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		flags   stepFlags
		kind    string
		summary string
	)

	cmd := &cobra.Command{
		Use:   "artifact <plan> <step>",
		Short: "Record an audit artifact on a held step",
		Long: `Append an immutable breadcrumb (a decision, a test log, a link) to a
held step. Use --summary - to read the summary from stdin. Summaries
longer than 2000 characters are truncated.

Example:
  go test ./... 2>&1 | stepwise artifact plans/storage.yaml S1 --kind test-log --summary -`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := summary
			if text == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return rootOpts.formatter(cmd).Fail(fmt.Errorf("read summary: %w", err))
				}
				text = string(data)
			}

			return rootOpts.withSession(cmd, func(s *session, out *OutputFormatter) error {
				res, err := s.engine.RecordArtifact(cmd.Context(), engine.ArtifactRequest{
					Plan:    s.planKey(args[0]),
					Step:    args[1],
					Owner:   s.owner(flags.Owner),
					Kind:    kind,
					Summary: text,
				})
				if err != nil {
					return err
				}
				return out.Render(res, func(w io.Writer) {
					fmt.Fprintf(w, "recorded %s artifact #%d on %s", res.Kind, res.ID, res.Step)
					if res.Truncated {
						fmt.Fprint(w, " (summary truncated)")
					}
					fmt.Fprintln(w)
				})
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&kind, "kind", "note", "artifact kind")
	cmd.Flags().StringVar(&summary, "summary", "", "artifact summary, or - for stdin")
	return cmd
}

func formatRollup(r engine.Rollup) string {
	return fmt.Sprintf("%d/%d completed, %d deferred, %d in progress, %d open",
		r.Completed, r.Total, r.Deferred, r.InProgress, r.Open)
}
