package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/stepwise/internal/engine"
	"github.com/roach88/stepwise/internal/ir"
	"github.com/roach88/stepwise/internal/planfile"
)

// loadDocument reads and parses the plan document for key.
func (s *session) loadDocument(key string) (planfile.Document, error) {
	path := key
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.cfg.Root, filepath.FromSlash(key))
	}
	return planfile.Load(path)
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init <plan>",
		Short: "Load a plan document as a new coordination record",
		Long: `Parse a plan document and record its steps, dependencies and checklist
items. The document's hash becomes the drift baseline.

Initializing a plan that already has a record changes nothing.

Example:
  stepwise init plans/storage.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withSession(cmd, func(s *session, out *OutputFormatter) error {
				key := s.planKey(args[0])
				doc, err := s.loadDocument(key)
				if err != nil {
					return err
				}
				res, err := s.engine.Init(cmd.Context(), key, doc.Source, doc.Plan)
				if err != nil {
					return err
				}
				return out.Render(res, func(w io.Writer) {
					if res.AlreadyInitialized {
						fmt.Fprintf(w, "%s already initialized (hash %s)\n", res.Plan, ir.ShortHash(res.Hash))
						return
					}
					fmt.Fprintf(w, "initialized %s: %d steps, %d dependencies, %d items (hash %s)\n",
						res.Plan, res.StepsCreated, res.DependenciesCreated, res.ItemsCreated, ir.ShortHash(res.Hash))
				})
			})
		},
	}
}

// NewReinitCommand creates the reinit command.
func NewReinitCommand(rootOpts *RootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "reinit <plan>",
		Short: "Adopt an edited plan document",
		Long: `Replace a plan's structure with the current contents of its document and
record the new drift baseline.

Completed steps whose anchors survive keep their completion. Every other
step starts pending and held leases are dropped. Artifacts are kept.
A plan that is done is refused unless --force is given.

Example:
  stepwise reinit plans/storage.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withSession(cmd, func(s *session, out *OutputFormatter) error {
				key := s.planKey(args[0])
				doc, err := s.loadDocument(key)
				if err != nil {
					return err
				}
				res, err := s.engine.Reinit(cmd.Context(), engine.ReinitRequest{
					Plan:   key,
					Source: doc.Source,
					Parsed: doc.Plan,
					Force:  force,
				})
				if err != nil {
					return err
				}
				return out.Render(res, func(w io.Writer) {
					fmt.Fprintf(w, "reinitialized %s: %d steps (hash %s -> %s)\n",
						res.Plan, res.StepsCreated, ir.ShortHash(res.PreviousHash), ir.ShortHash(res.Hash))
					printList(w, "preserved", res.Preserved)
					printList(w, "released", res.Released)
					printList(w, "dropped", res.Dropped)
					if res.PlanCompleted {
						fmt.Fprintln(w, "plan completed")
					}
				})
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "re-initialize a plan that is already done")

	return cmd
}

// printList writes "  label: a, b" when items is non-empty.
func printList(w io.Writer, label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "  %s: %s\n", label, strings.Join(items, ", "))
}
