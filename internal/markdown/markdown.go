package markdown

import (
	"regexp"
	"strings"
)

var (
	headingPattern  = regexp.MustCompile(`(?m)^#{1,6}\s+\S`)
	listPattern     = regexp.MustCompile(`(?m)^[\-\*]\s+\S`)
	linkPattern     = regexp.MustCompile(`\[.+?\]\(.+?\)`)
	imagePattern    = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	inlineLink      = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	fencePattern    = regexp.MustCompile("(?m)^\\s*(```|~~~).*$")
	blockPrefix     = regexp.MustCompile(`(?m)^\s{0,3}(#{1,6}\s+|>\s?|[\-\*\+]\s+|\d+[.)]\s+)`)
	rulePattern     = regexp.MustCompile(`(?m)^\s*([\-\*_]\s*){3,}$`)
	emphasisPattern = regexp.MustCompile(`(\*\*|__|\*|_|~~|` + "`" + `)`)
	tableRule       = regexp.MustCompile(`(?m)^\s*\|?(\s*:?-{3,}:?\s*\|)+\s*:?-*:?\s*$`)
)

// IsMarkdownContentType checks if the Content-Type header indicates markdown.
func IsMarkdownContentType(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.HasPrefix(ct, "text/markdown") ||
		strings.HasPrefix(ct, "text/x-markdown")
}

// LooksLikeHTML checks if content appears to be an HTML document or fragment.
func LooksLikeHTML(content string) bool {
	lower := strings.ToLower(strings.TrimSpace(content))
	if strings.HasPrefix(lower, "<!doctype") ||
		strings.HasPrefix(lower, "<html") ||
		strings.HasPrefix(lower, "<head") ||
		strings.HasPrefix(lower, "<body") {
		return true
	}
	// Fragments: a leading tag plus a closing tag somewhere.
	return strings.HasPrefix(lower, "<") && strings.Contains(lower, "</")
}

// IsMarkdownContent uses heuristics to detect if content is markdown.
func IsMarkdownContent(content string) bool {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" || LooksLikeHTML(trimmed) {
		return false
	}
	return headingPattern.MatchString(trimmed) ||
		listPattern.MatchString(trimmed) ||
		linkPattern.MatchString(trimmed)
}

// Detect reports whether content is markdown, checking the Content-Type
// first and falling back to content heuristics.
func Detect(contentType, content string) bool {
	if IsMarkdownContentType(contentType) {
		return true
	}
	return IsMarkdownContent(content)
}

// Title returns the text of the first level-one heading, or "".
func Title(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
	}
	return ""
}

// Strip removes markdown syntax and keeps the readable text. Line structure is
// preserved; link targets and images are dropped.
func Strip(content string) string {
	s := fencePattern.ReplaceAllString(content, "")
	s = tableRule.ReplaceAllString(s, "")
	s = rulePattern.ReplaceAllString(s, "")
	s = imagePattern.ReplaceAllString(s, "$1")
	s = inlineLink.ReplaceAllString(s, "$1")
	s = blockPrefix.ReplaceAllString(s, "")
	s = emphasisPattern.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "|", " ")
	return s
}
