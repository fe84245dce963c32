package relay

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/xsync/xsync/internal/models"
)

// Event kinds.
const (
	KindNote   = 1
	KindRepost = 6
)

// Event is the envelope submitted to the relay.
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig,omitempty"`
}

// Ack is the relay's answer to a submitted event.
type Ack struct {
	EventID  string
	Accepted bool
	Message  string
}

// KindFor maps an interaction type to an event kind. Reposts carry their own
// kind; everything else is a note.
func KindFor(t models.InteractionType) int {
	if t == models.InteractionRetweet {
		return KindRepost
	}
	return KindNote
}

// EventID is the content address of an event: hex sha256 of its content.
// Publishing the same content twice yields the same id.
func EventID(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// NewEvent builds the relay event for an interaction.
func NewEvent(in models.Interaction, pubKey string) Event {
	tags := [][]string{
		{"t", string(in.Type)},
		{"account", in.Account},
		{"user", in.UserID, in.Username},
		{"source", in.InteractionID},
	}
	if in.PostID != "" {
		tags = append(tags, []string{"post", in.PostID})
	}

	return Event{
		ID:        EventID(in.Content),
		PubKey:    pubKey,
		CreatedAt: in.InteractionTime.Unix(),
		Kind:      KindFor(in.Type),
		Tags:      tags,
		Content:   in.Content,
	}
}
