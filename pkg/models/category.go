package models

import (
	"fmt"
	"sort"
	"strings"
)

// Category identifies which research area a document or briefing belongs to.
type Category string

const (
	CategoryCompany   Category = "company"
	CategoryIndustry  Category = "industry"
	CategoryFinancial Category = "financial"
	CategoryNews      Category = "news"
)

// Categories returns all categories in report priority order.
func Categories() []Category {
	return []Category{CategoryCompany, CategoryIndustry, CategoryFinancial, CategoryNews}
}

// Priority returns the position of c in report order, or -1 for unknown categories.
func (c Category) Priority() int {
	for i, known := range Categories() {
		if c == known {
			return i
		}
	}
	return -1
}

// Title returns the human-readable section heading for the category.
func (c Category) Title() string {
	switch c {
	case CategoryCompany:
		return "Company Overview"
	case CategoryIndustry:
		return "Industry Overview"
	case CategoryFinancial:
		return "Financial Overview"
	case CategoryNews:
		return "News"
	case "":
		return ""
	}
	return strings.ToUpper(string(c[:1])) + string(c[1:])
}

// CategoryLess orders categories by report priority; unknown categories
// sort last by name.
func CategoryLess(a, b Category) bool {
	pa, pb := a.Priority(), b.Priority()
	switch {
	case pa >= 0 && pb >= 0:
		return pa < pb
	case pa >= 0:
		return true
	case pb >= 0:
		return false
	}
	return a < b
}

// SortCategories sorts categories with CategoryLess.
func SortCategories(cats []Category) {
	sort.Slice(cats, func(i, j int) bool { return CategoryLess(cats[i], cats[j]) })
}

// ParseCategory validates a category name.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if c.Priority() < 0 {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}
