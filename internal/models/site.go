package models

// LevelConfig describes one layer of a site's navigation hierarchy: which
// anchors to follow and which attribute carries the target URL.
type LevelConfig struct {
	Selector string `json:"selector"`
	URLAttr  string `json:"url_attr,omitempty"` // Defaults to "href"
}

// ExtractConfig holds the selectors used on leaf announcement pages.
type ExtractConfig struct {
	Title   string `json:"title"`
	Date    string `json:"date"`
	Content string `json:"content"`
}

// SiteConfig is one city's crawl configuration, loaded from sites.json.
// StopSelector decides whether a fetched page is a leaf announcement;
// Levels drive the breadth-first expansion of non-leaf pages.
type SiteConfig struct {
	City             string        `json:"city"`
	StartURL         string        `json:"start_url"`
	BaseURL          string        `json:"base_url"`
	StopSelector     string        `json:"stop_selector"`
	Levels           []LevelConfig `json:"levels"`
	Extract          ExtractConfig `json:"extract"`
	DownloadSelector string        `json:"download_selector,omitempty"`
	MaxDepth         int           `json:"max_depth,omitempty"` // 0 means len(Levels)
}

// URLAttrOrDefault returns the configured URL attribute or "href".
func (l LevelConfig) URLAttrOrDefault() string {
	if l.URLAttr != "" {
		return l.URLAttr
	}
	return "href"
}
