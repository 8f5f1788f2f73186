package chat

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Category classifies a memory into one of a fixed, closed set of life
// areas. Stored lower-case; an unknown category is a client error, never
// a silent drop.
type Category string

const (
	CategoryHealth        Category = "health"
	CategoryCareer        Category = "career"
	CategoryFamily        Category = "family"
	CategoryFinance       Category = "finance"
	CategoryRelationships Category = "relationships"
	CategoryHobbies       Category = "hobbies"
	CategoryTravel        Category = "travel"
	CategoryPreferences   Category = "preferences"
	CategoryOther         Category = "other"
)

// Categories returns the full allowed category set in a stable order.
func Categories() []Category {
	return []Category{
		CategoryHealth,
		CategoryCareer,
		CategoryFamily,
		CategoryFinance,
		CategoryRelationships,
		CategoryHobbies,
		CategoryTravel,
		CategoryPreferences,
		CategoryOther,
	}
}

// ParseCategory normalizes and validates a category string.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories() {
		if c == known {
			return c, nil
		}
	}
	return "", ValidationError{Field: "category", Reason: fmt.Sprintf("unknown category %q", s)}
}

// Memory is an atomic fact extracted from conversation.
type Memory struct {
	ID           string     `json:"id"`
	Memory       string     `json:"memory"`
	Keywords     []string   `json:"keywords"`
	Category     Category   `json:"category,omitempty"`
	TopicID      *string    `json:"topic_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	AccessCount  int        `json:"access_count"`
	LastAccessed *time.Time `json:"last_accessed,omitempty"`
}

// MemoryPatch is a partial update to a memory. Nil fields are left
// untouched. Patches arrive from the consolidation oracle and from the
// HTTP API, and are validated before any mutation.
type MemoryPatch struct {
	Memory   *string  `json:"memory,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
	Category *string  `json:"category,omitempty"`
	TopicID  *string  `json:"topic_id,omitempty"`
}

// ValidationError is returned when client-supplied data fails a domain
// rule. It is surfaced before any mutation takes place.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

// NormalizeKeywords lower-cases, trims, de-duplicates, and sorts a
// keyword list. Empty entries are dropped.
func NormalizeKeywords(keywords []string) []string {
	seen := make(map[string]bool, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// SharedKeywords returns how many keywords the two lists have in common.
// Both lists are expected to already be normalized.
func SharedKeywords(a, b []string) int {
	set := make(map[string]bool, len(a))
	for _, k := range a {
		set[k] = true
	}
	shared := 0
	for _, k := range b {
		if set[k] {
			shared++
		}
	}
	return shared
}

// ValidateNewMemory enforces the creation invariant: a memory must carry
// at least one of a non-empty keyword set or a category, and the category
// (if present) must be a member of the allowed set.
func ValidateNewMemory(text string, keywords []string, category string) ([]string, Category, error) {
	if strings.TrimSpace(text) == "" {
		return nil, "", ValidationError{Field: "memory", Reason: "must not be empty"}
	}

	normalized := NormalizeKeywords(keywords)

	var cat Category
	if category != "" {
		var err error
		cat, err = ParseCategory(category)
		if err != nil {
			return nil, "", err
		}
	}

	if len(normalized) == 0 && cat == "" {
		return nil, "", ValidationError{Reason: "memory requires at least one keyword or a category"}
	}

	return normalized, cat, nil
}
