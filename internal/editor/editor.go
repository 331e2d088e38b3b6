package editor

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mfenderov/dossier/internal/curator"
	"github.com/mfenderov/dossier/pkg/models"
)

// Lines and sentences shorter than this (after normalization) are never
// treated as duplicates.
const minDedupLen = 20

// Option adds enrichment data to a compiled report.
type Option func(*models.Report)

// WithEmployeeCount records the approximate employee count in the report
// header. Counts below 1 are ignored.
func WithEmployeeCount(n int) Option {
	return func(r *models.Report) {
		if n > 0 {
			r.EmployeeCount = n
		}
	}
}

// Compile assembles briefings into a report in fixed category priority order.
// Each chunk is passed to emit as soon as it is final; chunks are never
// revised. emit may be nil.
func Compile(jobID string, q models.ResearchQuery, briefings []models.Briefing, emit func(models.ReportChunk), opts ...Option) *models.Report {
	ordered := make([]models.Briefing, len(briefings))
	copy(ordered, briefings)
	sortBriefings(ordered)

	report := &models.Report{
		JobID:     jobID,
		Query:     q,
		Briefings: ordered,
		CreatedAt: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(report)
	}

	add := func(category models.Category, text string) {
		chunk := models.ReportChunk{Index: len(report.Chunks), Category: category, Text: text}
		report.Chunks = append(report.Chunks, chunk)
		if emit != nil {
			emit(chunk)
		}
	}

	add("", header(q, report.EmployeeCount))

	refs := newReferences()
	dedup := &deduper{seen: make(map[string]bool)}

	for _, b := range ordered {
		var sb strings.Builder
		fmt.Fprintf(&sb, "## %s\n\n", b.Category.Title())

		switch b.Status {
		case models.BriefingOK:
			numbers := refs.cite(b.Category, b.Sources)
			body := renumber(b.Text, numbers)
			if text := strings.TrimSpace(dedup.text(body)); text != "" {
				sb.WriteString(text)
			} else {
				sb.WriteString("_Covered in earlier sections._")
			}
		case models.BriefingEmpty:
			fmt.Fprintf(&sb, "_No relevant documents found for %s._", strings.ToLower(b.Category.Title()))
		default:
			reason := b.Reason
			if reason == "" {
				reason = "source unavailable"
			}
			fmt.Fprintf(&sb, "_%s unavailable: %s._", b.Category.Title(), reason)
		}

		add(b.Category, strings.TrimRight(sb.String(), "\n")+"\n")
	}

	report.References = refs.list
	if len(refs.list) > 0 {
		var sb strings.Builder
		sb.WriteString("## References\n\n")
		for _, r := range refs.list {
			title := r.Title
			if title == "" {
				title = r.URL
			}
			fmt.Fprintf(&sb, "%d. [%s](%s)\n", r.Number, escapeLinkText(title), r.URL)
		}
		add("", sb.String())
	}

	parts := make([]string, len(report.Chunks))
	for i, c := range report.Chunks {
		parts[i] = strings.TrimRight(c.Text, "\n")
	}
	report.Content = strings.Join(parts, "\n\n") + "\n"

	return report
}

func header(q models.ResearchQuery, employees int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s Research Report\n", q.Company)

	var meta []string
	if q.URL != "" {
		meta = append(meta, "- Website: "+q.URL)
	}
	if q.Industry != "" {
		meta = append(meta, "- Industry: "+q.Industry)
	}
	if q.HQLocation != "" {
		meta = append(meta, "- Headquarters: "+q.HQLocation)
	}
	if employees > 0 {
		meta = append(meta, "- Employees: ~"+humanize.Comma(int64(employees)))
	}
	if len(meta) > 0 {
		sb.WriteString("\n")
		sb.WriteString(strings.Join(meta, "\n"))
		sb.WriteString("\n")
	}
	return sb.String()
}

func sortBriefings(bs []models.Briefing) {
	sort.SliceStable(bs, func(i, j int) bool {
		return models.CategoryLess(bs[i].Category, bs[j].Category)
	})
}

type references struct {
	byURL map[string]int
	list  []models.Reference
}

func newReferences() *references {
	return &references{byURL: make(map[string]int)}
}

// cite registers sources and returns the global reference number for each
// local (1-based) source position.
func (r *references) cite(category models.Category, sources []models.Document) map[int]int {
	numbers := make(map[int]int, len(sources))
	for i, d := range sources {
		key := curator.Canonicalize(d.URL)
		if key == "" {
			continue
		}
		n, ok := r.byURL[key]
		if !ok {
			n = len(r.list) + 1
			r.byURL[key] = n
			r.list = append(r.list, models.Reference{Number: n, Title: d.Title, URL: d.URL, Category: category})
		}
		numbers[i+1] = n
	}
	return numbers
}

var citation = regexp.MustCompile(`\[(\d+(?:\s*,\s*\d+)*)\]`)

// renumber rewrites local citations like [2] or [1, 3] to report-wide numbers.
// Unknown numbers are left as written.
func renumber(text string, numbers map[int]int) string {
	return citation.ReplaceAllStringFunc(text, func(m string) string {
		inner := m[1 : len(m)-1]
		parts := strings.Split(inner, ",")
		for i, p := range parts {
			local, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil {
				return m
			}
			if global, ok := numbers[local]; ok {
				parts[i] = strconv.Itoa(global)
			} else {
				parts[i] = strconv.Itoa(local)
			}
		}
		return "[" + strings.Join(parts, ", ") + "]"
	})
}

func escapeLinkText(s string) string {
	return strings.NewReplacer("[", `\[`, "]", `\]`).Replace(s)
}
