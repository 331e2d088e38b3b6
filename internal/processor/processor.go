package processor

import (
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/mfenderov/dossier/internal/markdown"
	"golang.org/x/net/html"
)

// Processor turns fetched page content into markdown and into normalized
// plain text for comparison.
type Processor struct{}

// New creates a new processor.
func New() *Processor {
	return &Processor{}
}

// Convert transforms HTML content into Markdown.
func (p *Processor) Convert(htmlContent string) (string, error) {
	if htmlContent == "" {
		return "", nil
	}

	md, err := htmltomarkdown.ConvertString(htmlContent)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(md), nil
}

// ToMarkdown converts content to markdown unless it already is markdown or
// plain text. It returns the markdown and the best title it could find.
func (p *Processor) ToMarkdown(contentType, content string) (string, string, error) {
	if markdown.Detect(contentType, content) || !markdown.LooksLikeHTML(content) {
		return strings.TrimSpace(content), markdown.Title(content), nil
	}

	title := p.ExtractTitle(content)
	md, err := p.Convert(content)
	if err != nil {
		return "", title, err
	}
	if title == "" {
		title = markdown.Title(md)
	}
	return md, title, nil
}

// ExtractTitle extracts the <title> content from HTML.
func (p *Processor) ExtractTitle(htmlContent string) string {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return ""
	}

	var title string
	var findTitle func(*html.Node)
	findTitle = func(n *html.Node) {
		if title != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "title" {
			if n.FirstChild != nil {
				title = n.FirstChild.Data
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			findTitle(c)
		}
	}
	findTitle(doc)

	return strings.TrimSpace(title)
}

// Text returns the visible text of an HTML document, skipping scripts,
// styles and other non-content elements.
func (p *Processor) Text(htmlContent string) string {
	z := html.NewTokenizer(strings.NewReader(htmlContent))
	var b strings.Builder
	skip := 0

	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.StartTagToken:
			if name, _ := z.TagName(); nonContent(string(name)) {
				skip++
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); nonContent(string(name)) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
				b.WriteByte(' ')
			}
		}
	}
}

func nonContent(tag string) bool {
	switch tag {
	case "script", "style", "noscript", "template", "svg", "head":
		return true
	}
	return false
}

// Normalize reduces content to plain text with collapsed whitespace. The
// stored document is left untouched; the result is only used for comparing
// and measuring content.
func (p *Processor) Normalize(content string) string {
	var text string
	if markdown.LooksLikeHTML(content) {
		text = p.Text(content)
	} else {
		text = markdown.Strip(content)
	}
	return strings.Join(strings.Fields(text), " ")
}
