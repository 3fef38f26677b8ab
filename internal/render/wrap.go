package render

import "strings"

// wrapLines greedily wraps text into lines no wider than maxWidth,
// using measure to get the rendered width of a candidate line. Words
// are accumulated until the next word would overflow; a single word
// wider than maxWidth gets its own line rather than being broken.
//
// The result is clipped to maxLines; excess text is dropped, not
// reflowed to another page.
func wrapLines(measure func(string) float64, text string, maxWidth float64, maxLines int) []string {
	if maxLines <= 0 {
		return nil
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var lines []string
	current := words[0]
	for _, word := range words[1:] {
		candidate := current + " " + word
		if measure(candidate) <= maxWidth {
			current = candidate
			continue
		}
		lines = append(lines, current)
		if len(lines) == maxLines {
			return lines
		}
		current = word
	}
	lines = append(lines, current)
	if len(lines) > maxLines {
		lines = lines[:maxLines]
	}
	return lines
}
