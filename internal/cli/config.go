package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/stepwise/internal/config"
)

// NewConfigCommand creates the config command and its subcommands.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the root's .stepwise/config.yaml",
	}
	cmd.AddCommand(newConfigInitCommand(rootOpts))
	cmd.AddCommand(newConfigShowCommand(rootOpts))
	return cmd
}

func newConfigInitCommand(rootOpts *RootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			root := rootOpts.Root
			if root == "" {
				root = "."
			}
			path, written, err := config.WriteDefault(root, force)
			if err != nil {
				return out.Fail(err)
			}
			data := map[string]interface{}{"path": path, "written": written}
			return out.Render(data, func(w io.Writer) {
				if written {
					fmt.Fprintf(w, "wrote %s\n", path)
				} else {
					fmt.Fprintf(w, "%s already exists (use --force to overwrite)\n", path)
				}
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func newConfigShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return out.Fail(err)
			}
			data := map[string]interface{}{
				"root":         cfg.Root,
				"database":     cfg.DatabasePath(),
				"lease":        cfg.LeaseDuration().String(),
				"busy_timeout": cfg.BusyTimeoutDuration().String(),
				"owner":        cfg.Owner,
				"max_readers":  cfg.MaxReaders,
			}
			return out.Render(data, func(w io.Writer) {
				fmt.Fprintf(w, "root:         %s\n", cfg.Root)
				fmt.Fprintf(w, "database:     %s\n", cfg.DatabasePath())
				fmt.Fprintf(w, "lease:        %s\n", cfg.LeaseDuration())
				fmt.Fprintf(w, "busy_timeout: %s\n", cfg.BusyTimeoutDuration())
				fmt.Fprintf(w, "owner:        %q\n", cfg.Owner)
				fmt.Fprintf(w, "max_readers:  %d\n", cfg.MaxReaders)
			})
		},
	}
}
