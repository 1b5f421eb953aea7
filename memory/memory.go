package memory

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Role identifies the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Turn is a single role-tagged message held in short-term memory.
//
// A turn is created on ingest and evicted by FIFO order when STM exceeds
// capacity, or lazily when its TTL expires. Embedding may be nil when no
// embedder was available at ingest time.
type Turn struct {
	ID            string    `json:"id"`
	Role          Role      `json:"role"`
	Content       string    `json:"content"`
	Embedding     []float32 `json:"embedding,omitempty"`
	Intent        string    `json:"intent,omitempty"`
	Keywords      []string  `json:"keywords,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	TokenEstimate int       `json:"token_estimate"`
}

// Chunk is a summarized group of turns held in mid-term memory.
//
// SourceTurnIDs is a contiguous slice of STM insertion order. Importance is
// in [0,1]. GraphMirrorID is set when the chunk has been mirrored into a
// graph store as a Summary node.
type Chunk struct {
	ID            string    `json:"id"`
	Summary       string    `json:"summary"`
	SourceTurnIDs []string  `json:"source_turn_ids"`
	Topics        []string  `json:"topics,omitempty"`
	Embedding     []float32 `json:"embedding,omitempty"`
	Importance    float64   `json:"importance"`
	MessageCount  int       `json:"message_count"`
	CreatedAt     time.Time `json:"created_at"`
	GraphMirrorID string    `json:"graph_mirror_id,omitempty"`
}

// NewID returns a lexicographically sortable unique id. ULIDs encode the
// creation time, so insertion order is recoverable from ids alone.
func NewID() string {
	return ulid.Make().String()
}

// NewTurn builds a Turn with a fresh id, the current timestamp, and a
// token estimate derived from the content.
func NewTurn(role Role, content string) Turn {
	return Turn{
		ID:            NewID(),
		Role:          role,
		Content:       content,
		CreatedAt:     time.Now().UTC(),
		TokenEstimate: EstimateTokens(content),
	}
}
