package models

import "time"

// BriefingStatus describes how a category's briefing came to be.
type BriefingStatus string

const (
	BriefingOK          BriefingStatus = "ok"
	BriefingEmpty       BriefingStatus = "empty"       // no documents survived curation
	BriefingUnavailable BriefingStatus = "unavailable" // source or synthesis failure
)

// Briefing is the synthesized summary for one category.
type Briefing struct {
	Category Category       `json:"category"`
	Status   BriefingStatus `json:"status"`
	Text     string         `json:"text,omitempty"`
	Reason   string         `json:"reason,omitempty"`
	Sources  []Document     `json:"sources,omitempty"`
}

// Available reports whether the briefing carries synthesized text.
func (b Briefing) Available() bool {
	return b.Status == BriefingOK
}

// ReportChunk is one ordered piece of the compiled report.
type ReportChunk struct {
	Index    int      `json:"index"`
	Category Category `json:"category,omitempty"`
	Text     string   `json:"text"`
}

// Reference is a cited source in the final report.
type Reference struct {
	Number   int      `json:"number"`
	Title    string   `json:"title"`
	URL      string   `json:"url"`
	Category Category `json:"category"`
}

// Report is the compiled research report. It is never modified after the
// editor returns it.
type Report struct {
	JobID      string        `json:"job_id"`
	Query      ResearchQuery `json:"query"`
	Briefings  []Briefing    `json:"briefings"`
	Chunks     []ReportChunk `json:"chunks"`
	References []Reference   `json:"references"`
	Content    string        `json:"content"` // concatenated markdown of all chunks
	CreatedAt  time.Time     `json:"created_at"`

	EmployeeCount int `json:"employee_count,omitempty"` // approximate, 0 if unknown
}

// Briefing returns the briefing for the given category, if present.
func (r *Report) Briefing(c Category) (Briefing, bool) {
	for _, b := range r.Briefings {
		if b.Category == c {
			return b, true
		}
	}
	return Briefing{}, false
}
