package cli

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/stepwise/internal/config"
	"github.com/roach88/stepwise/internal/engine"
	"github.com/roach88/stepwise/internal/store"
	"github.com/roach88/stepwise/internal/trailer"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose  bool
	Format   string // "json" | "text"
	Root     string // coordination root; plan paths are relative to it
	Database string // overrides the configured database path

	// Owners overrides owner generation (for testing). If nil, claims
	// without an owner get a UUIDv7-based id.
	Owners engine.OwnerGenerator

	// Clock overrides the engine clock (for testing).
	Clock engine.Clock
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the stepwise CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stepwise",
		Short: "stepwise - coordinate workers on a shared plan",
		Long: `Coordinate several workers executing one plan document.

Workers claim steps under time-bounded leases, tick off checklist items,
record artifacts and complete steps. All state lives in one local SQLite
file; every write is a single exclusive transaction.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Root, "root", ".", "coordination root directory")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to the SQLite database (default from config)")

	// Add subcommands
	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewReinitCommand(opts))
	cmd.AddCommand(NewClaimCommand(opts))
	cmd.AddCommand(NewStartCommand(opts))
	cmd.AddCommand(NewHeartbeatCommand(opts))
	cmd.AddCommand(NewUpdateCommand(opts))
	cmd.AddCommand(NewArtifactCommand(opts))
	cmd.AddCommand(NewCompleteCommand(opts))
	cmd.AddCommand(NewReleaseCommand(opts))
	cmd.AddCommand(NewReadyCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewPlansCommand(opts))
	cmd.AddCommand(NewArtifactsCommand(opts))
	cmd.AddCommand(NewReconcileCommand(opts))
	cmd.AddCommand(NewTrailerCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))

	return cmd
}

// Main runs the CLI with args and returns the process exit code.
// Errors not already reported by a command are printed to stderr.
func Main(args []string, stdout, stderr io.Writer) int {
	return run(&RootOptions{}, args, stdout, stderr)
}

func run(opts *RootOptions, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCommand(opts)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.Execute()
	if err == nil {
		return ExitSuccess
	}
	if exitErr, ok := err.(*ExitError); !ok || !exitErr.Reported {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return GetExitCode(err)
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// formatter builds the output formatter for cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// logger writes engine logs to stderr so JSON on stdout stays clean.
func (o *RootOptions) logger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// loadConfig reads the root's config and applies the --db override.
func (o *RootOptions) loadConfig() (config.Config, error) {
	root := o.Root
	if root == "" {
		root = "."
	}
	cfg, err := config.Load(root)
	if err != nil {
		return config.Config{}, err
	}
	if o.Database != "" {
		db, err := filepath.Abs(o.Database)
		if err != nil {
			return config.Config{}, fmt.Errorf("resolve --db: %w", err)
		}
		cfg.Database = db
	}
	return cfg, nil
}

// session is the store and engine one command runs against.
type session struct {
	cfg    config.Config
	store  *store.Store
	engine *engine.Engine
	logger *slog.Logger
}

// open loads config, opens the store and builds the engine.
func (o *RootOptions) open(cmd *cobra.Command) (*session, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDir(); err != nil {
		return nil, err
	}

	logger := o.logger(cmd)
	logger.Debug("opening store",
		"path", cfg.DatabasePath(),
		"busy_timeout", cfg.BusyTimeoutDuration(),
		"max_readers", cfg.MaxReaders,
	)
	st, err := store.Open(cfg.DatabasePath(),
		store.WithBusyTimeout(cfg.BusyTimeoutDuration()),
		store.WithMaxReaders(cfg.MaxReaders),
	)
	if err != nil {
		return nil, err
	}

	engOpts := []engine.Option{
		engine.WithDocumentSource(engine.DirSource{Root: cfg.Root}),
		engine.WithDefaultLease(cfg.LeaseDuration()),
		engine.WithLogger(logger),
	}
	if o.Owners != nil {
		engOpts = append(engOpts, engine.WithOwnerGenerator(o.Owners))
	}
	if o.Clock != nil {
		engOpts = append(engOpts, engine.WithClock(o.Clock))
	}

	return &session{
		cfg:    cfg,
		store:  st,
		engine: engine.New(st, engOpts...),
		logger: logger,
	}, nil
}

func (s *session) Close() {
	if err := s.store.Close(); err != nil {
		s.logger.Error("error closing database", "error", err)
	}
}

// owner returns the flag value, or the configured owner.
func (s *session) owner(flag string) string {
	if flag != "" {
		return flag
	}
	return s.cfg.Owner
}

// planKey turns a plan argument into the path the store keys it by:
// relative to the root, slash-separated.
func (s *session) planKey(arg string) string {
	return planKey(s.cfg.Root, arg)
}

func planKey(root, arg string) string {
	p := strings.TrimSpace(arg)
	if filepath.IsAbs(p) {
		if absRoot, err := filepath.Abs(root); err == nil {
			if rel, err := filepath.Rel(absRoot, p); err == nil && !strings.HasPrefix(rel, "..") {
				p = rel
			}
		}
	}
	return trailer.NormalizePlan(p)
}

// withSession opens a session, runs fn and reports its error.
func (o *RootOptions) withSession(cmd *cobra.Command, fn func(s *session, out *OutputFormatter) error) error {
	out := o.formatter(cmd)
	s, err := o.open(cmd)
	if err != nil {
		return out.Fail(err)
	}
	defer s.Close()

	if err := fn(s, out); err != nil {
		if _, ok := err.(*ExitError); ok {
			return err
		}
		return out.Fail(err)
	}
	return nil
}

// formatTime renders a timestamp for text output.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
