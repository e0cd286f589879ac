package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/roach88/stepwise/internal/ir"
	"github.com/roach88/stepwise/internal/store"
)

// DefaultLease is the lease granted by claim and heartbeat when the caller
// does not ask for a specific duration.
const DefaultLease = 30 * time.Minute

// DocumentSource reads the current bytes of a plan document by plan path.
// The drift guard hashes what it returns.
type DocumentSource interface {
	ReadDocument(plan string) ([]byte, error)
}

// DirSource reads plan documents from the filesystem, resolving relative
// plan paths against a root directory.
type DirSource struct {
	Root string
}

// ReadDocument reads root/plan, or plan itself when it is absolute.
func (d DirSource) ReadDocument(plan string) ([]byte, error) {
	path := plan
	if !filepath.IsAbs(path) {
		path = filepath.Join(d.Root, plan)
	}
	return os.ReadFile(path)
}

// Engine executes coordination operations against a Store.
//
// Thread-safety model:
//   - every method is safe from any goroutine
//   - mutual exclusion comes from store.Update, not from in-process locks,
//     so several Engines (or processes) may share one database file
//
// INVARIANTS:
//   - the engine holds no step state between calls
//   - every timestamp comes from clock, truncated to milliseconds
type Engine struct {
	store  *store.Store
	clock  Clock
	docs   DocumentSource
	owners OwnerGenerator
	lease  time.Duration
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source. Default: SystemClock.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithDocumentSource sets where the drift guard reads plan documents.
// Default: DirSource rooted at the current directory.
func WithDocumentSource(d DocumentSource) Option {
	return func(e *Engine) {
		if d != nil {
			e.docs = d
		}
	}
}

// WithOwnerGenerator sets how owner ids are minted for anonymous claims.
// Default: UUIDv7Owners.
func WithOwnerGenerator(g OwnerGenerator) Option {
	return func(e *Engine) {
		if g != nil {
			e.owners = g
		}
	}
}

// WithDefaultLease sets the lease used when a request leaves it zero.
func WithDefaultLease(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.lease = d
		}
	}
}

// WithLogger sets the structured logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an Engine over s.
//
// The engine does not own s; callers close the store themselves.
func New(s *store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:  s,
		clock:  SystemClock{},
		docs:   DirSource{Root: "."},
		owners: UUIDv7Owners{},
		lease:  DefaultLease,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the underlying store.
func (e *Engine) Store() *store.Store {
	return e.store
}

// NewOwner mints a fresh owner id.
func (e *Engine) NewOwner() string {
	return e.owners.Generate()
}

// leaseFor returns d, or the engine default when d is zero.
func (e *Engine) leaseFor(d time.Duration) (time.Duration, error) {
	if d < 0 {
		return 0, ir.NewInvalidArgumentError(fmt.Sprintf("lease must be positive, got %s", d))
	}
	if d == 0 {
		return e.lease, nil
	}
	return d, nil
}

// loadPlan fetches a plan inside tx or fails with PLAN_NOT_FOUND.
func loadPlan(ctx context.Context, tx *store.Tx, plan string) (ir.Plan, error) {
	p, found, err := tx.GetPlan(ctx, plan)
	if err != nil {
		return ir.Plan{}, err
	}
	if !found {
		return ir.Plan{}, ir.NewPlanNotFoundError(plan)
	}
	return p, nil
}

// loadStep fetches a step inside tx or fails with STEP_NOT_FOUND.
func loadStep(ctx context.Context, tx *store.Tx, plan, anchor string) (ir.Step, error) {
	s, found, err := tx.GetStep(ctx, plan, anchor)
	if err != nil {
		return ir.Step{}, err
	}
	if !found {
		return ir.Step{}, ir.NewStepNotFoundError(plan, anchor)
	}
	return s, nil
}

// requireArgs rejects empty identifiers before any transaction is opened.
func requireArgs(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			return ir.NewInvalidArgumentError(pairs[i] + " is required")
		}
	}
	return nil
}

// markPlanDoneIfFinished flips the plan to done once no step is left open.
func (e *Engine) markPlanDoneIfFinished(ctx context.Context, tx *store.Tx, plan string, now time.Time) (bool, error) {
	remaining, err := tx.CountIncompleteSteps(ctx, plan)
	if err != nil {
		return false, err
	}
	if remaining > 0 {
		return false, nil
	}
	if err := tx.SetPlanStatus(ctx, plan, ir.PlanDone, now); err != nil {
		return false, err
	}
	return true, nil
}
