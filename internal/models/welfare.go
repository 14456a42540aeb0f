package models

import "time"

// WelfareStatus indicates an entry's publication state.
type WelfareStatus string

const (
	WelfareStatusPublished WelfareStatus = "published"
	WelfareStatusDraft     WelfareStatus = "draft"
)

// Welfare is the persisted form of an enriched announcement. Link is unique
// across the store and drives crawl idempotence.
type Welfare struct {
	ID              string        `json:"id" badgerhold:"key"`
	Title           string        `json:"title"`
	Link            string        `json:"link" badgerhold:"unique"`
	Details         string        `json:"details"`
	Summary         string        `json:"summary"`
	Forward         bool          `json:"forward"` // Re-posted from another agency's site
	PublicationDate string        `json:"publication_date"`
	Status          WelfareStatus `json:"status"`
	LocationID      int           `json:"location_id"`
	CategoryIDs     []int         `json:"category_ids"`
	IdentityIDs     []int         `json:"identity_ids"`
	CreatedAt       time.Time     `json:"created_at"`
}
