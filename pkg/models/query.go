package models

import (
	"fmt"
	"strings"
)

// ResearchQuery describes the company being researched. It is created once per
// job and passed by value afterwards.
type ResearchQuery struct {
	Company    string `json:"company"`
	URL        string `json:"company_url,omitempty"`
	Industry   string `json:"industry,omitempty"`
	HQLocation string `json:"hq_location,omitempty"`
}

// Validate checks that the query identifies a company.
func (q ResearchQuery) Validate() error {
	if strings.TrimSpace(q.Company) == "" {
		return fmt.Errorf("company is required")
	}
	return nil
}

// Text returns the relevance anchor used when scoring documents.
func (q ResearchQuery) Text() string {
	parts := []string{strings.TrimSpace(q.Company)}
	if q.Industry != "" {
		parts = append(parts, strings.TrimSpace(q.Industry))
	}
	if q.HQLocation != "" {
		parts = append(parts, strings.TrimSpace(q.HQLocation))
	}
	return strings.Join(parts, " ")
}
