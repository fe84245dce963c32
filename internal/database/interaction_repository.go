package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xsync/xsync/internal/models"
)

const interactionColumns = `
	interaction_id,
	media_account,
	user_id,
	username,
	avatar_url,
	interaction_type,
	interaction_content,
	interaction_time,
	post_id,
	post_time,
	nostr_published,
	nostr_event_id`

// InteractionRepository stores interactions in the x_interactions table.
type InteractionRepository struct {
	db *sql.DB
}

// NewInteractionRepository creates a new interaction repository.
func NewInteractionRepository(db *sql.DB) *InteractionRepository {
	return &InteractionRepository{db: db}
}

// Exists reports whether an interaction with id is stored.
func (r *InteractionRepository) Exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM x_interactions WHERE interaction_id = $1`, id,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check interaction %s: %w", id, err)
	}
	return true, nil
}

// Get returns the stored interaction, or nil when absent.
func (r *InteractionRepository) Get(ctx context.Context, id string) (*models.Interaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+interactionColumns+` FROM x_interactions WHERE interaction_id = $1`, id)

	in, err := scanInteraction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get interaction %s: %w", id, err)
	}
	return &in, nil
}

// Insert stores a new interaction, returning models.ErrUniqueViolation when the
// id already exists.
func (r *InteractionRepository) Insert(ctx context.Context, in models.Interaction) error {
	if err := in.Validate(); err != nil {
		return err
	}

	query := `INSERT INTO x_interactions (` + interactionColumns + `,
			created_at,
			updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)`

	_, err := r.db.ExecContext(ctx, query, interactionArgs(in, time.Now().UTC())...)
	return mapWriteError("insert interaction", in.InteractionID, err)
}

// Upsert stores the interaction or replaces the stored copy.
func (r *InteractionRepository) Upsert(ctx context.Context, in models.Interaction) error {
	if err := in.Validate(); err != nil {
		return err
	}

	query := `INSERT INTO x_interactions (` + interactionColumns + `,
			created_at,
			updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
		ON CONFLICT (interaction_id) DO UPDATE SET
			media_account = excluded.media_account,
			user_id = excluded.user_id,
			username = excluded.username,
			avatar_url = excluded.avatar_url,
			interaction_type = excluded.interaction_type,
			interaction_content = excluded.interaction_content,
			interaction_time = excluded.interaction_time,
			post_id = excluded.post_id,
			post_time = excluded.post_time,
			nostr_published = excluded.nostr_published,
			nostr_event_id = excluded.nostr_event_id,
			updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query, interactionArgs(in, time.Now().UTC())...)
	return mapWriteError("upsert interaction", in.InteractionID, err)
}

// List returns one page of interactions, newest first, and the total number
// of matches.
func (r *InteractionRepository) List(ctx context.Context, q models.InteractionQuery) ([]models.Interaction, int, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if q.Account != "" {
		add("media_account = $%d", q.Account)
	}
	if q.Username != "" {
		add("LOWER(username) = LOWER($%d)", q.Username)
	}
	if q.Start != nil {
		add("interaction_time >= $%d", q.Start.UTC())
	}
	if q.End != nil {
		add("interaction_time <= $%d", q.End.UTC())
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM x_interactions`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count interactions: %w", err)
	}

	query := `SELECT ` + interactionColumns + ` FROM x_interactions` + where +
		` ORDER BY interaction_time DESC, interaction_id DESC`
	if q.PerPage > 0 {
		page := max(q.Page, 1)
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", q.PerPage, (page-1)*q.PerPage)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list interactions: %w", err)
	}
	defer rows.Close()

	out := []models.Interaction{}
	for rows.Next() {
		in, err := scanInteraction(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan interaction: %w", err)
		}
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list interactions: %w", err)
	}
	return out, total, nil
}

// Stats counts one actor's interactions per type.
func (r *InteractionRepository) Stats(ctx context.Context, userID string) (models.InteractionStats, error) {
	stats := models.NewInteractionStats(userID)

	rows, err := r.db.QueryContext(ctx, `
		SELECT interaction_type, COUNT(*)
		FROM x_interactions
		WHERE user_id = $1
		GROUP BY interaction_type
	`, userID)
	if err != nil {
		return stats, fmt.Errorf("interaction stats for %s: %w", userID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			typ   string
			count int
		)
		if err := rows.Scan(&typ, &count); err != nil {
			return stats, fmt.Errorf("scan interaction stats: %w", err)
		}
		stats.ByType[models.InteractionType(typ)] = count
		stats.Total += count
	}
	return stats, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInteraction(row rowScanner) (models.Interaction, error) {
	var (
		in       models.Interaction
		typ      string
		postTime sql.NullTime
		eventID  sql.NullString
	)
	err := row.Scan(
		&in.InteractionID,
		&in.Account,
		&in.UserID,
		&in.Username,
		&in.AvatarURL,
		&typ,
		&in.Content,
		&in.InteractionTime,
		&in.PostID,
		&postTime,
		&in.Published,
		&eventID,
	)
	if err != nil {
		return models.Interaction{}, err
	}

	in.Type = models.InteractionType(typ)
	in.InteractionTime = in.InteractionTime.UTC()
	in.PostTime = timePtr(postTime)
	if eventID.Valid {
		in.PublishEventID = &eventID.String
	}
	return in, nil
}

func interactionArgs(in models.Interaction, now time.Time) []any {
	var eventID any
	if in.PublishEventID != nil {
		eventID = *in.PublishEventID
	}

	return []any{
		in.InteractionID,
		in.Account,
		in.UserID,
		in.Username,
		in.AvatarURL,
		string(in.Type),
		in.Content,
		in.InteractionTime.UTC(),
		in.PostID,
		nullableTime(in.PostTime),
		in.Published,
		eventID,
		now,
	}
}
