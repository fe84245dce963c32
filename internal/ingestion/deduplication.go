package ingestion

import (
	"strings"

	"github.com/xsync/xsync/internal/models"
)

// Deduplicator keeps the first occurrence of each interaction id. Feed it
// channels in precedence order so the earliest channel's copy wins.
type Deduplicator struct {
	seen  map[string]struct{}
	stats DeduplicationStats
}

// DeduplicationStats tracks deduplication metrics.
type DeduplicationStats struct {
	TotalProcessed int
	Duplicates     int
	Unique         int
}

// NewDeduplicator creates an empty deduplicator.
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{seen: make(map[string]struct{})}
}

// IsNew reports whether id has not been seen yet.
func (d *Deduplicator) IsNew(id string) bool {
	_, ok := d.seen[id]
	return !ok
}

// Filter appends the unseen interactions of items to dst and marks them seen.
func (d *Deduplicator) Filter(dst, items []models.Interaction) []models.Interaction {
	for _, in := range items {
		d.stats.TotalProcessed++
		if !d.IsNew(in.InteractionID) {
			d.stats.Duplicates++
			continue
		}
		d.seen[in.InteractionID] = struct{}{}
		d.stats.Unique++
		dst = append(dst, in)
	}
	return dst
}

// Stats returns the current deduplication statistics.
func (d *Deduplicator) Stats() DeduplicationStats {
	return d.stats
}

// Dedupe returns items with duplicate ids removed, first occurrence kept.
func Dedupe(items []models.Interaction) []models.Interaction {
	return NewDeduplicator().Filter(make([]models.Interaction, 0, len(items)), items)
}

// FilterByUsername keeps interactions whose actor matches username,
// ignoring case and a leading "@". An empty username keeps everything.
func FilterByUsername(items []models.Interaction, username string) []models.Interaction {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if username == "" {
		return items
	}
	out := make([]models.Interaction, 0, len(items))
	for _, in := range items {
		if strings.EqualFold(in.Username, username) {
			out = append(out, in)
		}
	}
	return out
}
