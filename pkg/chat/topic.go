package chat

import "time"

// Topic is a named cluster grouping messages and memories believed to
// concern the same subject. Names are matched case-insensitively; topics
// with near-duplicate names are only unified during explicit
// consolidation merges, never at extraction time.
type Topic struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
