package discord

import (
	"strings"
	"unicode/utf8"
)

// Embed limits imposed by the webhook protocol. Lengths are counted in
// characters (runes), which is what the protocol enforces.
const (
	maxEmbedDescription = 4096
	maxEmbedTitle       = 256
	maxEmbedsPerMessage = 10
)

// splitSummary splits a summary into segments of at most maxLen runes.
// Splitting prefers section boundaries ("## " at line start) over arbitrary
// offsets; a single oversized section is split at the newline nearest to but
// not past the budget, never mid-line.
func splitSummary(text string, maxLen int) []string {
	if utf8.RuneCountInString(text) <= maxLen {
		return []string{text}
	}

	sections := splitSections(text)

	var parts []string
	var current strings.Builder
	currentLen := 0

	flush := func() {
		if currentLen > 0 {
			parts = append(parts, current.String())
			current.Reset()
			currentLen = 0
		}
	}

	for _, section := range sections {
		secLen := utf8.RuneCountInString(section)
		if currentLen+secLen <= maxLen {
			current.WriteString(section)
			currentLen += secLen
			continue
		}

		flush()
		if secLen > maxLen {
			parts = append(parts, splitByLength(section, maxLen)...)
			continue
		}
		current.WriteString(section)
		currentLen = secLen
	}
	flush()

	return parts
}

// splitSections cuts the text before every line starting with a heading
// marker, keeping the marker with its section.
func splitSections(text string) []string {
	lines := strings.SplitAfter(text, "\n")

	var sections []string
	var current strings.Builder
	for _, line := range lines {
		if strings.HasPrefix(line, "## ") && current.Len() > 0 {
			sections = append(sections, current.String())
			current.Reset()
		}
		current.WriteString(line)
	}
	if current.Len() > 0 {
		sections = append(sections, current.String())
	}
	return sections
}

// splitByLength splits at the last newline within the budget, falling back
// to a hard cut only when a single line exceeds the budget on its own.
func splitByLength(text string, maxLen int) []string {
	runes := []rune(text)

	var parts []string
	for len(runes) > maxLen {
		cut := maxLen
		for i := maxLen - 1; i > 0; i-- {
			if runes[i] == '\n' {
				cut = i
				break
			}
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
		for len(runes) > 0 && runes[0] == '\n' {
			runes = runes[1:]
		}
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}

// truncateRunes bounds s to max runes, appending an ellipsis marker when
// anything was cut.
func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max-3]) + "..."
}

// clipRunes bounds s to max runes without adding a marker, for callers that
// append their own.
func clipRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
