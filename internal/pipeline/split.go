package pipeline

import "strings"

// Split cuts text into pieces of at most max runes for transports
// with message length limits. Cuts prefer the last newline before the
// limit, then the last space, then a hard rune cut. Multi-byte runes
// are never split.
func Split(text string, max int) []string {
	if max <= 0 {
		return []string{text}
	}

	var parts []string
	runes := []rune(text)
	for len(runes) > max {
		cut := max
		window := string(runes[:max])
		if i := strings.LastIndexByte(window, '\n'); i > 0 {
			cut = len([]rune(window[:i]))
		} else if i := strings.LastIndexByte(window, ' '); i > 0 {
			cut = len([]rune(window[:i]))
		}
		parts = append(parts, strings.TrimSpace(string(runes[:cut])))
		runes = runes[cut:]
		for len(runes) > 0 && (runes[0] == ' ' || runes[0] == '\n') {
			runes = runes[1:]
		}
	}
	if rest := strings.TrimSpace(string(runes)); rest != "" {
		parts = append(parts, rest)
	}
	if parts == nil {
		parts = []string{""}
	}
	return parts
}
