package ollama

import (
	"context"
	"fmt"
	"io"
)

// EnsureReady verifies the Ollama server is reachable, pulls the embed
// model if it is missing, and runs a warm-up embedding so the first
// real query does not pay the model load cost. Progress messages go to w.
func EnsureReady(ctx context.Context, c *Client, embedModel string, w io.Writer) error {
	if !c.IsRunning(ctx) {
		return fmt.Errorf("ollama is not running; start it with 'ollama serve'")
	}

	if !c.HasModel(ctx, embedModel) {
		fmt.Fprintf(w, "pulling embedding model %s...\n", embedModel)
		if err := c.PullModel(ctx, embedModel, func(p PullProgress) {
			if p.Total > 0 {
				fmt.Fprintf(w, "\r%s: %d%%", p.Status, p.Completed*100/p.Total)
			}
		}); err != nil {
			return fmt.Errorf("pulling %s: %w", embedModel, err)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "warming up %s...\n", embedModel)
	if _, err := c.Embed(ctx, embedModel, "ready"); err != nil {
		return fmt.Errorf("warming up %s: %w", embedModel, err)
	}

	return nil
}
