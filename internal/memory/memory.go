// Package memory holds bounded, expiring multi-turn conversation
// history keyed by (user, channel, thread).
package memory

import (
	"context"
	"strings"
	"time"

	"github.com/askgopher/askgopher/internal/ttlstore"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleAsker     Role = "asker"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a conversation. Immutable once appended.
type Turn struct {
	Role Role
	Text string
	At   time.Time
}

// Key identifies a conversation. Distinct threads in the same channel
// are distinct conversations.
type Key struct {
	UserID    string
	ChannelID string
	ThreadID  string
}

func (k Key) String() string {
	return strings.Join([]string{k.UserID, k.ChannelID, k.ThreadID}, "/")
}

// estimateTokens uses the rough 4-chars-per-token heuristic.
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}

type conversation struct {
	turns []Turn
}

// Store keeps per-conversation turn windows. Appends on one key are
// serialized; conversations idle past the configured expiry read as
// empty and are removed by the background sweep.
type Store struct {
	conversations *ttlstore.Table[conversation]
	maxTurns      int
	tokenBudget   int
}

// NewStore creates a Store. maxTurns bounds the window by count,
// tokenBudget by approximate tokens (0 disables the token bound), and
// idleExpiry is how long an untouched conversation survives.
func NewStore(maxTurns, tokenBudget int, idleExpiry time.Duration) *Store {
	if maxTurns <= 0 {
		maxTurns = 20
	}
	if idleExpiry <= 0 {
		idleExpiry = 30 * time.Minute
	}
	return &Store{
		conversations: ttlstore.New[conversation](ttlstore.Options{
			TTL:        idleExpiry,
			TouchOnGet: true,
		}),
		maxTurns:    maxTurns,
		tokenBudget: tokenBudget,
	}
}

// Context returns the conversation's turns in order, oldest first.
// An unknown or expired key yields an empty slice.
func (s *Store) Context(key Key) []Turn {
	c, ok := s.conversations.Get(key.String())
	if !ok {
		return nil
	}
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Append adds turns to the conversation, dropping the oldest turns
// first once the window exceeds its count or token bound. The whole
// append is atomic per key.
func (s *Store) Append(key Key, turns ...Turn) {
	if len(turns) == 0 {
		return
	}
	s.conversations.Update(key.String(), func(c conversation, ok bool) (conversation, bool) {
		c.turns = append(c.turns, turns...)
		c.turns = s.trim(c.turns)
		return c, true
	})
}

// trim enforces the window bounds, keeping the most recent turns.
func (s *Store) trim(turns []Turn) []Turn {
	if len(turns) > s.maxTurns {
		turns = turns[len(turns)-s.maxTurns:]
	}
	if s.tokenBudget > 0 {
		total := 0
		for _, t := range turns {
			total += estimateTokens(t.Text)
		}
		for len(turns) > 1 && total > s.tokenBudget {
			total -= estimateTokens(turns[0].Text)
			turns = turns[1:]
		}
	}
	// Re-slice into a fresh array so dropped turns are collectable.
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

// Clear is the explicit destructive reset: the conversation is hard
// deleted, not soft-expired.
func (s *Store) Clear(key Key) {
	s.conversations.Delete(key.String())
}

// RunSweeper removes idle conversations at the given interval until
// ctx is cancelled.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	s.conversations.Run(ctx, interval)
}
