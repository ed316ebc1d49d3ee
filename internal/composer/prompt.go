// Package composer assembles completion prompts from conversation
// history, retrieved knowledge chunks, and related issue evidence.
package composer

import (
	"fmt"
	"strings"

	"github.com/askgopher/askgopher/internal/completion"
	"github.com/askgopher/askgopher/internal/evidence"
	"github.com/askgopher/askgopher/internal/memory"
	"github.com/askgopher/askgopher/internal/retrieval"
)

const defaultMaxContextTokens = 4000

const systemPreamble = `You are a helpful assistant answering questions in a team chat.
Answer concisely using the provided documentation excerpts when they are relevant.
If the excerpts do not cover the question, say so rather than inventing details.`

// Composer builds the message list sent to the completion API.
type Composer struct {
	MaxContextTokens int
}

// New creates a Composer with the given token budget for injected
// context. If maxContextTokens <= 0, the default (4000) is used.
func New(maxContextTokens int) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{MaxContextTokens: maxContextTokens}
}

// Build assembles the prompt: one system message carrying grounding
// context and evidence, the conversation history, then the question.
// Chunks arrive ordered by descending score, so the budget drops the
// least relevant ones first.
func (c *Composer) Build(history []memory.Turn, chunks []retrieval.Chunk, issues []evidence.Issue, question string) []completion.Message {
	msgs := make([]completion.Message, 0, len(history)+2)
	msgs = append(msgs, completion.Message{
		Role:    "system",
		Content: c.buildSystem(chunks, issues),
	})

	for _, turn := range history {
		role := "user"
		if turn.Role == memory.RoleAssistant {
			role = "assistant"
		}
		msgs = append(msgs, completion.Message{Role: role, Content: turn.Text})
	}

	msgs = append(msgs, completion.Message{Role: "user", Content: question})
	return msgs
}

// buildSystem renders the system message, keeping injected context
// within the token budget.
func (c *Composer) buildSystem(chunks []retrieval.Chunk, issues []evidence.Issue) string {
	var sb strings.Builder
	sb.WriteString(systemPreamble)

	remaining := c.MaxContextTokens - EstimateTokens(sb.String())

	if len(chunks) > 0 {
		header := "\n\n[Documentation]\n"
		remaining -= EstimateTokens(header)
		var entries []string
		for _, ch := range chunks {
			entry := formatChunk(ch)
			tokens := EstimateTokens(entry)
			if tokens > remaining {
				continue
			}
			entries = append(entries, entry)
			remaining -= tokens
		}
		if len(entries) > 0 {
			sb.WriteString(header)
			for _, e := range entries {
				sb.WriteString(e)
			}
		}
	}

	if len(issues) > 0 {
		sb.WriteString("\n[Related Issues]\n")
		for _, is := range issues {
			sb.WriteString(fmt.Sprintf("- #%d (%s): %s %s\n", is.Number, is.State, is.Title, is.URL))
		}
		sb.WriteString("Mention a related issue only if it clearly matches the question.\n")
	}

	return sb.String()
}

func formatChunk(ch retrieval.Chunk) string {
	return fmt.Sprintf("(Score: %.2f, Source: %s)\n%s\n\n", ch.Score, ch.SourceID, ch.Text)
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
