package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/onedrivesync/core/internal/accountid"
	"github.com/onedrivesync/core/internal/progress"
	"github.com/onedrivesync/core/internal/store"
)

// EngineFactory lazily builds the *Engine for one account. The real
// implementation resolves the account's config, mints a graph.Client from
// its Authenticator-backed TokenSource, and calls NewEngine; tests inject a
// stub. Grounded on the donor Orchestrator's engineFactoryFunc, re-keyed
// from "one drive" to "one HashedAccountId".
type EngineFactory func(ctx context.Context, hashedID accountid.HashedAccountId) (*Engine, error)

// accountEntry is one account's registry bookkeeping: its lazily-built
// Engine, a non-reentrant CAS guard, and the cancel func for its current (or
// most recent) run.
type accountEntry struct {
	engine  *Engine
	running atomic.Bool

	mu         sync.Mutex
	cancel     context.CancelFunc
	lastReport Report
	lastErr    error
}

// AccountRegistry is the process-local, in-memory realization of spec
// §4.8.1: one *Engine and one non-reentrant CAS flag per HashedAccountId,
// enforcing "exactly one SyncOrchestrator runs per account at a time;
// multiple accounts may run concurrently and are isolated" (spec §5).
// Grounded on the donor's Orchestrator, scaled from one process driving N
// drives of a single account to N independently-registered accounts.
type AccountRegistry struct {
	mu       sync.Mutex
	accounts map[accountid.HashedAccountId]*accountEntry

	factory EngineFactory
	logger  *slog.Logger
}

// NewAccountRegistry builds a registry that constructs engines on demand via
// factory.
func NewAccountRegistry(factory EngineFactory, logger *slog.Logger) *AccountRegistry {
	if logger == nil {
		logger = slog.Default()
	}

	return &AccountRegistry{
		accounts: make(map[accountid.HashedAccountId]*accountEntry),
		factory:  factory,
		logger:   logger,
	}
}

// getOrCreateEntry returns the account's entry, lazily building its Engine
// via the factory on first use. Unlike the donor's getOrCreateClient (only
// called sequentially within one RunOnce), this is called from whatever
// goroutine handles an inbound StartSync/GetConflicts request, so it is
// guarded by mu rather than assumed sequential.
func (r *AccountRegistry) getOrCreateEntry(ctx context.Context, hashedID accountid.HashedAccountId) (*accountEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.accounts[hashedID]; ok {
		return entry, nil
	}

	eng, err := r.factory(ctx, hashedID)
	if err != nil {
		return nil, fmt.Errorf("account registry: building engine for %s: %w", hashedID, err)
	}

	entry := &accountEntry{engine: eng}
	r.accounts[hashedID] = entry

	return entry, nil
}

// StartSync looks up or lazily constructs the account's Engine, then runs
// one sync cycle guarded by the account's non-reentrant CAS flag. A
// duplicate request for an account already running is dropped silently —
// RunOnce-on-top-of-RunOnce never returns an error here, mirroring the
// donor's "RunOnce never returns an error" design: callers read back the
// result via LastResult.
func (r *AccountRegistry) StartSync(ctx context.Context, hashedID accountid.HashedAccountId) error {
	entry, err := r.getOrCreateEntry(ctx, hashedID)
	if err != nil {
		return err
	}

	if !entry.running.CompareAndSwap(false, true) {
		r.logger.Info("sync already running for account, ignoring duplicate start",
			slog.String("account", hashedID.String()))

		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)

	entry.mu.Lock()
	entry.cancel = cancel
	entry.mu.Unlock()

	go entry.run(runCtx, r.logger, hashedID)

	return nil
}

// run executes the account's sync cycle with panic recovery (grounded on
// the donor's DriveRunner.run), records the outcome for LastResult, and
// releases the CAS flag so a subsequent StartSync can proceed.
func (e *accountEntry) run(ctx context.Context, logger *slog.Logger, hashedID accountid.HashedAccountId) {
	defer e.running.Store(false)

	report, err := e.safeRunOnce(ctx, logger, hashedID)

	e.mu.Lock()
	e.lastReport = report
	e.lastErr = err
	e.cancel = nil
	e.mu.Unlock()
}

func (e *accountEntry) safeRunOnce(
	ctx context.Context, logger *slog.Logger, hashedID accountid.HashedAccountId,
) (report Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("account registry: panic syncing account %s: %v", hashedID, r)
			logger.Error("sync panicked", slog.String("account", hashedID.String()), slog.Any("panic", r))
		}
	}()

	return e.engine.RunOnce(ctx)
}

// StopSync cancels the account's current sync run, if one is in flight. It
// is a no-op for an account that is idle or unknown.
func (r *AccountRegistry) StopSync(hashedID accountid.HashedAccountId) {
	r.mu.Lock()
	entry, ok := r.accounts[hashedID]
	r.mu.Unlock()

	if !ok {
		return
	}

	entry.mu.Lock()
	cancel := entry.cancel
	entry.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// LastResult returns the Report and error from the account's most recently
// completed run, and whether any run has completed yet.
func (r *AccountRegistry) LastResult(hashedID accountid.HashedAccountId) (Report, error, bool) {
	r.mu.Lock()
	entry, ok := r.accounts[hashedID]
	r.mu.Unlock()

	if !ok {
		return Report{}, nil, false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.lastReport.Status == "" && entry.lastErr == nil {
		return Report{}, nil, false
	}

	return entry.lastReport, entry.lastErr, true
}

// GetConflicts delegates straight to the account's StateStore slice (via its
// Engine), requiring no running sync — spec §4.8.1.
func (r *AccountRegistry) GetConflicts(ctx context.Context, hashedID accountid.HashedAccountId) ([]store.Conflict, error) {
	entry, err := r.getOrCreateEntry(ctx, hashedID)
	if err != nil {
		return nil, err
	}

	return entry.engine.ListConflicts(ctx)
}

// ResolveConflict delegates straight to the account's StateStore slice,
// requiring no running sync — spec §4.8.1.
func (r *AccountRegistry) ResolveConflict(
	ctx context.Context, hashedID accountid.HashedAccountId, conflictID, relativePath string, strategy store.ResolutionStrategy,
) error {
	entry, err := r.getOrCreateEntry(ctx, hashedID)
	if err != nil {
		return err
	}

	return entry.engine.ResolveConflict(ctx, conflictID, relativePath, strategy)
}

// Progress returns the account's progress Coordinator, lazily constructing
// its Engine if necessary, so a caller can Subscribe before the first
// StartSync call.
func (r *AccountRegistry) Progress(ctx context.Context, hashedID accountid.HashedAccountId) (*progress.Coordinator, error) {
	entry, err := r.getOrCreateEntry(ctx, hashedID)
	if err != nil {
		return nil, err
	}

	return entry.engine.Progress(), nil
}
