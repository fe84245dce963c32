package models

import (
	"fmt"
	"time"
)

// InteractionType classifies how an actor engaged with a tracked account.
type InteractionType string

const (
	InteractionQuote   InteractionType = "quote"
	InteractionRetweet InteractionType = "retweet"
	InteractionReply   InteractionType = "reply"
	InteractionMention InteractionType = "mention"
)

// Channels lists interaction types in channel precedence order. When the same
// interaction surfaces on several channels, the earliest channel wins.
var Channels = []InteractionType{
	InteractionQuote,
	InteractionRetweet,
	InteractionReply,
	InteractionMention,
}

// Valid reports whether t is one of the known interaction types.
func (t InteractionType) Valid() bool {
	switch t {
	case InteractionQuote, InteractionRetweet, InteractionReply, InteractionMention:
		return true
	}
	return false
}

// PostScoped reports whether the channel is anchored on a post rather than on the
// tracked account itself.
func (t InteractionType) PostScoped() bool {
	return t == InteractionQuote || t == InteractionRetweet || t == InteractionReply
}

// Interaction is the canonical, deduplicated record of one social interaction.
// InteractionID is the source-assigned natural key and the idempotency key for
// persistence.
type Interaction struct {
	InteractionID   string          `json:"interaction_id"`
	Account         string          `json:"media_account"`
	UserID          string          `json:"user_id"`
	Username        string          `json:"username"`
	AvatarURL       string          `json:"avatar_url,omitempty"`
	Type            InteractionType `json:"interaction_type"`
	Content         string          `json:"interaction_content"`
	InteractionTime time.Time       `json:"interaction_time"`
	PostID          string          `json:"post_id"`
	PostTime        *time.Time      `json:"post_time,omitempty"`
	Published       bool            `json:"published"`
	PublishEventID  *string         `json:"publish_event_id,omitempty"`
}

// Validate checks the fields the store requires.
func (i Interaction) Validate() error {
	if i.InteractionID == "" {
		return fmt.Errorf("interaction_id is required")
	}
	if i.Account == "" {
		return fmt.Errorf("media account is required")
	}
	if i.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if !i.Type.Valid() {
		return fmt.Errorf("invalid interaction type %q", i.Type)
	}
	if i.InteractionTime.IsZero() {
		return fmt.Errorf("interaction_time is required")
	}
	return nil
}

// InteractionQuery filters the read side of the interaction store.
type InteractionQuery struct {
	Account  string
	Username string
	Start    *time.Time
	End      *time.Time
	Page     int
	PerPage  int
}

// Pagination describes a page of results.
type Pagination struct {
	CurrentPage int  `json:"current_page"`
	PerPage     int  `json:"per_page"`
	TotalItems  int  `json:"total_items"`
	TotalPages  int  `json:"total_pages"`
	HasNext     bool `json:"has_next"`
	HasPrev     bool `json:"has_prev"`
}

// NewPagination computes page metadata from a total count.
func NewPagination(page, perPage, total int) Pagination {
	pages := 0
	if perPage > 0 {
		pages = (total + perPage - 1) / perPage
	}
	return Pagination{
		CurrentPage: page,
		PerPage:     perPage,
		TotalItems:  total,
		TotalPages:  pages,
		HasNext:     page < pages,
		HasPrev:     page > 1,
	}
}

// InteractionPage is one page of stored interactions.
type InteractionPage struct {
	Account      string        `json:"media_account"`
	Username     string        `json:"username,omitempty"`
	Pagination   Pagination    `json:"pagination"`
	Interactions []Interaction `json:"interactions"`
}

// InteractionStats counts a user's interactions per type.
type InteractionStats struct {
	UserID string                  `json:"user_id"`
	Total  int                     `json:"total_interactions"`
	ByType map[InteractionType]int `json:"interaction_summary"`
}

// NewInteractionStats returns stats with every known type present at zero.
func NewInteractionStats(userID string) InteractionStats {
	byType := make(map[InteractionType]int, len(Channels))
	for _, t := range Channels {
		byType[t] = 0
	}
	return InteractionStats{UserID: userID, ByType: byType}
}
