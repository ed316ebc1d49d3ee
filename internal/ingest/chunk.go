package ingest

import "strings"

const defaultChunkSize = 1200

// SplitChunks slices text into chunks of at most maxChars characters,
// preferring paragraph boundaries. Paragraphs longer than the limit
// are split on sentence-ish boundaries, falling back to a hard cut.
func SplitChunks(text string, maxChars int) []string {
	if maxChars <= 0 {
		maxChars = defaultChunkSize
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= maxChars {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		if current.Len() > 0 && current.Len()+len(para)+2 > maxChars {
			flush()
		}

		if len(para) > maxChars {
			flush()
			for _, piece := range splitLong(para, maxChars) {
				chunks = append(chunks, piece)
			}
			continue
		}

		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()

	return chunks
}

// splitLong cuts an oversized paragraph at the last sentence or word
// boundary before the limit.
func splitLong(text string, maxChars int) []string {
	var out []string
	for len(text) > maxChars {
		cut := maxChars
		if i := strings.LastIndexAny(text[:maxChars], ".!?"); i > maxChars/2 {
			cut = i + 1
		} else if i := strings.LastIndex(text[:maxChars], " "); i > maxChars/2 {
			cut = i
		}
		out = append(out, strings.TrimSpace(text[:cut]))
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}
