package editor

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	listPrefix    = regexp.MustCompile(`^\s*(?:[-*+]|\d+[.)])\s+`)
	sentenceBreak = regexp.MustCompile(`[.!?](?:\s*\[\d+(?:\s*,\s*\d+)*\])*\s+`)
)

// deduper drops sentences already written earlier in the report. It is
// best-effort: only exact matches after normalization are detected.
type deduper struct {
	seen map[string]bool
}

func (d *deduper) text(body string) string {
	var out []string
	for _, line := range strings.Split(body, "\n") {
		if kept, ok := d.line(line); ok {
			out = append(out, kept)
		}
	}
	return strings.Join(out, "\n")
}

// line returns the line with repeated sentences removed, or false when
// nothing new remains. Headings and short lines are always kept.
func (d *deduper) line(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") || len(key(trimmed)) < minDedupLen {
		return line, true
	}

	prefix := listPrefix.FindString(line)
	var kept []string
	var long, keptLong int
	for _, s := range splitSentences(line[len(prefix):]) {
		k := key(s)
		if len(k) < minDedupLen {
			kept = append(kept, s)
			continue
		}
		long++
		if d.seen[k] {
			continue
		}
		d.seen[k] = true
		keptLong++
		kept = append(kept, s)
	}

	if long > 0 && keptLong == 0 {
		return "", false
	}
	return prefix + strings.Join(kept, " "), true
}

func splitSentences(s string) []string {
	var out []string
	start := 0
	for _, loc := range sentenceBreak.FindAllStringIndex(s, -1) {
		if part := strings.TrimSpace(s[start:loc[1]]); part != "" {
			out = append(out, part)
		}
		start = loc[1]
	}
	if rest := strings.TrimSpace(s[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

// key normalizes a sentence for comparison: citations and punctuation are
// removed, case and whitespace folded.
func key(s string) string {
	s = citation.ReplaceAllString(s, " ")
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
