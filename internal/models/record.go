package models

// Sentinel values written into records when a pipeline stage has nothing
// usable to work with. Downstream consumers key on these exact strings.
const (
	// NoSummary marks a record whose content produced no usable summary.
	NoSummary = "無摘要"
	// NoContent marks an announcement page with an empty body.
	NoContent = "無内文"
	// NoneSentinel is the LLM's "no applicable label" answer for identities.
	NoneSentinel = "無"
)

// CrawlRecord is one announcement captured by a crawl pass. Content holds
// the markdown-converted page body, possibly augmented with text extracted
// from attached documents.
type CrawlRecord struct {
	City    string `json:"city"`
	URL     string `json:"url"`
	Title   string `json:"title"`
	Date    string `json:"date"` // ISO "YYYY-MM-DD"
	Content string `json:"content"`
}

// EnrichedRecord is a CrawlRecord after LLM enrichment.
type EnrichedRecord struct {
	CrawlRecord
	Summary    string   `json:"summary"`
	Categories []string `json:"categories"`
	Identities []string `json:"identities"`
}

// CrawlTask is one unit of BFS work inside a site crawl: a URL plus the
// depth it sits at in the site's level configuration.
type CrawlTask struct {
	URL   string `json:"url"`
	Level int    `json:"level"`
}
