package models

import "time"

// SyncJob is the persisted schedule of one tracked account. BackfillStart never
// changes for the life of the job.
type SyncJob struct {
	Account       string        `json:"media_account"`
	Frequency     string        `json:"update_frequency"`
	Interval      time.Duration `json:"interval"`
	BackfillStart time.Time     `json:"start_time"`
	NextRunAt     *time.Time    `json:"next_run_at,omitempty"`
	LastRunAt     *time.Time    `json:"last_run_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// SyncWindow is the half-open range [Lower, Upper) a run collects. Lower doubles
// as the early-stop watermark.
type SyncWindow struct {
	Lower time.Time
	Upper time.Time
}

// Contains reports whether t falls inside the window.
func (w SyncWindow) Contains(t time.Time) bool {
	return !t.Before(w.Lower) && t.Before(w.Upper)
}

// RecurringWindow returns the window for a scheduled tick: one interval back from
// now, never earlier than the account's backfill start.
func RecurringWindow(now time.Time, interval time.Duration, backfillStart time.Time) SyncWindow {
	lower := now.Add(-interval)
	if lower.Before(backfillStart) {
		lower = backfillStart
	}
	return SyncWindow{Lower: lower.UTC(), Upper: now.UTC()}
}

// BackfillWindow returns the window for the one-shot initial run.
func BackfillWindow(now, backfillStart time.Time) SyncWindow {
	return SyncWindow{Lower: backfillStart.UTC(), Upper: now.UTC()}
}
