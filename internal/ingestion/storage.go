package ingestion

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xsync/xsync/internal/models"
)

// InteractionRepository is the durable interaction store.
type InteractionRepository interface {
	// Exists reports whether an interaction with id is stored.
	Exists(ctx context.Context, id string) (bool, error)

	// Get returns the stored interaction, or nil when absent.
	Get(ctx context.Context, id string) (*models.Interaction, error)

	// Insert stores a new interaction. It returns models.ErrUniqueViolation when
	// the id is already present.
	Insert(ctx context.Context, in models.Interaction) error

	// Upsert stores or replaces the interaction keyed by its id.
	Upsert(ctx context.Context, in models.Interaction) error

	// List returns one page of interactions, newest first, and the total match count.
	List(ctx context.Context, q models.InteractionQuery) ([]models.Interaction, int, error)

	// Stats counts the interactions of one actor per type.
	Stats(ctx context.Context, userID string) (models.InteractionStats, error)
}

// SyncJobRepository persists per-account schedules.
type SyncJobRepository interface {
	Save(ctx context.Context, job models.SyncJob) error
	Get(ctx context.Context, account string) (*models.SyncJob, error)
	List(ctx context.Context) ([]models.SyncJob, error)
	Delete(ctx context.Context, account string) error
	MarkRun(ctx context.Context, account string, lastRun, nextRun time.Time) error
}

// MemoryInteractionRepository implements an in-memory interaction store for
// tests and dry runs.
type MemoryInteractionRepository struct {
	mu   sync.RWMutex
	rows map[string]models.Interaction
}

// NewMemoryInteractionRepository creates an empty in-memory store.
func NewMemoryInteractionRepository() *MemoryInteractionRepository {
	return &MemoryInteractionRepository{rows: make(map[string]models.Interaction)}
}

func (r *MemoryInteractionRepository) Exists(ctx context.Context, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rows[id]
	return ok, nil
}

func (r *MemoryInteractionRepository) Get(ctx context.Context, id string) (*models.Interaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	in, ok := r.rows[id]
	if !ok {
		return nil, nil
	}
	return &in, nil
}

func (r *MemoryInteractionRepository) Insert(ctx context.Context, in models.Interaction) error {
	if err := in.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[in.InteractionID]; ok {
		return fmt.Errorf("insert %s: %w", in.InteractionID, models.ErrUniqueViolation)
	}
	r.rows[in.InteractionID] = in
	return nil
}

func (r *MemoryInteractionRepository) Upsert(ctx context.Context, in models.Interaction) error {
	if err := in.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[in.InteractionID] = in
	return nil
}

func (r *MemoryInteractionRepository) List(ctx context.Context, q models.InteractionQuery) ([]models.Interaction, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []models.Interaction
	for _, in := range r.rows {
		if q.Account != "" && in.Account != q.Account {
			continue
		}
		if q.Username != "" && !strings.EqualFold(in.Username, q.Username) {
			continue
		}
		if q.Start != nil && in.InteractionTime.Before(*q.Start) {
			continue
		}
		if q.End != nil && in.InteractionTime.After(*q.End) {
			continue
		}
		matched = append(matched, in)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].InteractionTime.Equal(matched[j].InteractionTime) {
			return matched[i].InteractionTime.After(matched[j].InteractionTime)
		}
		return matched[i].InteractionID > matched[j].InteractionID
	})

	total := len(matched)
	if q.PerPage <= 0 {
		return matched, total, nil
	}
	start := (max(q.Page, 1) - 1) * q.PerPage
	if start >= total {
		return []models.Interaction{}, total, nil
	}
	end := min(start+q.PerPage, total)
	return matched[start:end], total, nil
}

func (r *MemoryInteractionRepository) Stats(ctx context.Context, userID string) (models.InteractionStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := models.NewInteractionStats(userID)
	for _, in := range r.rows {
		if in.UserID == userID {
			stats.ByType[in.Type]++
			stats.Total++
		}
	}
	return stats, nil
}

// Count returns the number of stored interactions.
func (r *MemoryInteractionRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rows)
}

// MemorySyncJobRepository implements an in-memory schedule store.
type MemorySyncJobRepository struct {
	mu   sync.RWMutex
	jobs map[string]models.SyncJob
}

// NewMemorySyncJobRepository creates an empty in-memory schedule store.
func NewMemorySyncJobRepository() *MemorySyncJobRepository {
	return &MemorySyncJobRepository{jobs: make(map[string]models.SyncJob)}
}

func (r *MemorySyncJobRepository) Save(ctx context.Context, job models.SyncJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	if prev, ok := r.jobs[job.Account]; ok {
		job.CreatedAt = prev.CreatedAt
	} else {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	r.jobs[job.Account] = job
	return nil
}

func (r *MemorySyncJobRepository) Get(ctx context.Context, account string) (*models.SyncJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[account]
	if !ok {
		return nil, nil
	}
	return &job, nil
}

func (r *MemorySyncJobRepository) List(ctx context.Context) ([]models.SyncJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.SyncJob, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account < out[j].Account })
	return out, nil
}

func (r *MemorySyncJobRepository) Delete(ctx context.Context, account string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, account)
	return nil
}

func (r *MemorySyncJobRepository) MarkRun(ctx context.Context, account string, lastRun, nextRun time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[account]
	if !ok {
		return nil
	}
	last, next := lastRun.UTC(), nextRun.UTC()
	job.LastRunAt = &last
	job.NextRunAt = &next
	job.UpdatedAt = time.Now().UTC()
	r.jobs[account] = job
	return nil
}
