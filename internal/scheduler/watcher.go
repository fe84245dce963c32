package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/xsync/xsync/internal/config"
	"github.com/xsync/xsync/internal/models"
)

// Registrar is the subset of the sync service the accounts watcher drives.
type Registrar interface {
	RegisterSync(ctx context.Context, account, frequency, startTime string) error
	UnregisterSync(ctx context.Context, account string) error
	Job(account string) (models.SyncJob, bool)
}

// Watcher keeps the registered accounts in line with the accounts file.
// Accounts registered through other paths are never touched.
type Watcher struct {
	path     string
	reg      Registrar
	logger   *slog.Logger
	debounce time.Duration

	mu      sync.Mutex
	applied map[string]config.AccountSpec
}

// NewWatcher creates a watcher for the YAML accounts file at path.
func NewWatcher(path string, reg Registrar, logger *slog.Logger) *Watcher {
	return &Watcher{
		path:     path,
		reg:      reg,
		logger:   logger.With("accounts_file", path),
		debounce: 250 * time.Millisecond,
		applied:  make(map[string]config.AccountSpec),
	}
}

// Reconcile loads the file and registers new or changed accounts and
// unregisters accounts that were removed from it. A file that fails to parse
// leaves the current schedules untouched.
func (w *Watcher) Reconcile(ctx context.Context) error {
	specs, err := config.LoadAccounts(w.path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	wanted := make(map[string]bool, len(specs))
	var failed int
	for _, spec := range specs {
		wanted[spec.Account] = true
		if prev, ok := w.applied[spec.Account]; ok && prev == spec {
			continue
		}
		if w.alreadyScheduled(spec) {
			w.applied[spec.Account] = spec
			continue
		}
		if err := w.reg.RegisterSync(ctx, spec.Account, spec.Frequency, spec.StartTime); err != nil {
			failed++
			w.logger.Error("failed to register account from file", "account", spec.Account, "error", err)
			continue
		}
		w.applied[spec.Account] = spec
	}

	for account := range w.applied {
		if wanted[account] {
			continue
		}
		err := w.reg.UnregisterSync(ctx, account)
		if err != nil && !errors.Is(err, models.ErrNoSuchTask) {
			failed++
			w.logger.Error("failed to unregister account removed from file", "account", account, "error", err)
			continue
		}
		delete(w.applied, account)
	}

	w.logger.Info("accounts file reconciled", "accounts", len(specs), "failed", failed)
	if failed > 0 {
		return fmt.Errorf("%d accounts could not be reconciled", failed)
	}
	return nil
}

// alreadyScheduled reports whether a live schedule already matches spec, as
// after a restart that restored persisted jobs.
func (w *Watcher) alreadyScheduled(spec config.AccountSpec) bool {
	job, ok := w.reg.Job(spec.Account)
	if !ok || job.Frequency != spec.Frequency {
		return false
	}
	start, err := time.Parse(time.RFC3339, spec.StartTime)
	return err == nil && start.Equal(job.BackfillStart)
}

// Run reconciles once, then again after every change to the file until ctx
// is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Reconcile(ctx); err != nil {
		w.logger.Warn("initial accounts reconcile incomplete", "error", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer fw.Close()

	// Watch the directory so editors that replace the file are still seen.
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	schedule := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(w.debounce, func() {
			if ctx.Err() != nil {
				return
			}
			if err := w.Reconcile(ctx); err != nil {
				w.logger.Warn("accounts reconcile incomplete", "error", err)
			}
		})
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	name := filepath.Base(w.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return fmt.Errorf("file watcher closed")
			}
			if filepath.Base(ev.Name) != name {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.logger.Debug("accounts file changed", "op", ev.Op.String())
				schedule()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return fmt.Errorf("file watcher closed")
			}
			w.logger.Warn("file watcher error", "error", err)
		}
	}
}
