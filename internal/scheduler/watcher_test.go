package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/xsync/xsync/internal/logging"
	"github.com/xsync/xsync/internal/models"
)

type fakeRegistrar struct {
	mu           sync.Mutex
	jobs         map[string]models.SyncJob
	registered   []string
	unregistered []string
	failFor      string
}

func newFakeRegistrar() *fakeRegistrar {
	return &fakeRegistrar{jobs: make(map[string]models.SyncJob)}
}

func (f *fakeRegistrar) RegisterSync(ctx context.Context, account, frequency, startTime string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if account == f.failFor {
		return fmt.Errorf("register %s: %w", account, models.ErrInvalidFrequency)
	}
	start, _ := time.Parse(time.RFC3339, startTime)
	f.jobs[account] = models.SyncJob{Account: account, Frequency: frequency, BackfillStart: start}
	f.registered = append(f.registered, account)
	return nil
}

func (f *fakeRegistrar) UnregisterSync(ctx context.Context, account string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.jobs[account]; !ok {
		return models.ErrNoSuchTask
	}
	delete(f.jobs, account)
	f.unregistered = append(f.unregistered, account)
	return nil
}

func (f *fakeRegistrar) Job(account string) (models.SyncJob, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[account]
	return job, ok
}

func (f *fakeRegistrar) calls() (reg, unreg []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.registered...), append([]string(nil), f.unregistered...)
}

func writeAccounts(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

const twoAccounts = `
accounts:
  - account: nytimes
    frequency: 1 hour
    start_time: "2025-01-01T00:00:00Z"
  - account: bbc
    frequency: 30 minutes
    start_time: "2025-01-01T00:00:00Z"
`

func TestWatcher_Reconcile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	reg := newFakeRegistrar()
	w := NewWatcher(path, reg, logging.Discard())

	writeAccounts(t, path, twoAccounts)
	if err := w.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	registered, _ := reg.calls()
	if len(registered) != 2 {
		t.Fatalf("expected 2 registrations, got %v", registered)
	}

	// Unchanged file is a no-op.
	if err := w.Reconcile(ctx); err != nil {
		t.Fatal(err)
	}
	if registered, _ = reg.calls(); len(registered) != 2 {
		t.Errorf("expected no new registrations, got %v", registered)
	}

	// bbc changes frequency, nytimes is removed.
	writeAccounts(t, path, `
accounts:
  - account: bbc
    frequency: 1 day
    start_time: "2025-01-01T00:00:00Z"
`)
	if err := w.Reconcile(ctx); err != nil {
		t.Fatal(err)
	}
	registered, unregistered := reg.calls()
	if len(registered) != 3 || registered[2] != "bbc" {
		t.Errorf("expected bbc re-registered, got %v", registered)
	}
	if len(unregistered) != 1 || unregistered[0] != "nytimes" {
		t.Errorf("expected nytimes unregistered, got %v", unregistered)
	}
	if job, _ := reg.Job("bbc"); job.Frequency != "1 day" {
		t.Errorf("bbc frequency = %q", job.Frequency)
	}
}

func TestWatcher_SkipsMatchingLiveSchedule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	reg := newFakeRegistrar()
	reg.jobs["nytimes"] = models.SyncJob{
		Account:       "nytimes",
		Frequency:     "1 hour",
		BackfillStart: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	w := NewWatcher(path, reg, logging.Discard())

	writeAccounts(t, path, twoAccounts)
	if err := w.Reconcile(context.Background()); err != nil {
		t.Fatal(err)
	}

	registered, _ := reg.calls()
	if len(registered) != 1 || registered[0] != "bbc" {
		t.Errorf("expected only bbc registered, got %v", registered)
	}
}

func TestWatcher_BadFileKeepsSchedules(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	reg := newFakeRegistrar()
	w := NewWatcher(path, reg, logging.Discard())

	writeAccounts(t, path, twoAccounts)
	if err := w.Reconcile(ctx); err != nil {
		t.Fatal(err)
	}

	writeAccounts(t, path, "accounts: [this is not: valid")
	if err := w.Reconcile(ctx); err == nil {
		t.Fatal("expected parse error")
	}
	if _, unregistered := reg.calls(); len(unregistered) != 0 {
		t.Errorf("expected no unregistrations, got %v", unregistered)
	}
}

func TestWatcher_RegistrationFailureRetried(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	reg := newFakeRegistrar()
	reg.failFor = "bbc"
	w := NewWatcher(path, reg, logging.Discard())

	writeAccounts(t, path, twoAccounts)
	if err := w.Reconcile(ctx); err == nil {
		t.Fatal("expected error for failed registration")
	}

	reg.mu.Lock()
	reg.failFor = ""
	reg.mu.Unlock()

	if err := w.Reconcile(ctx); err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	registered, _ := reg.calls()
	if len(registered) != 2 {
		t.Errorf("expected bbc registered on retry, got %v", registered)
	}
}

func TestWatcher_RunPicksUpChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	writeAccounts(t, path, "accounts: []\n")

	reg := newFakeRegistrar()
	w := NewWatcher(path, reg, logging.Discard())
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to subscribe before writing.
	time.Sleep(100 * time.Millisecond)
	writeAccounts(t, path, twoAccounts)

	waitFor(t, func() bool {
		registered, _ := reg.calls()
		return len(registered) == 2
	})

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
