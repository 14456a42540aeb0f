package crawler

import (
	"context"
	"strings"
	"sync"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"

	"github.com/cherites0610/welfare-pipeline/internal/common"
	"github.com/cherites0610/welfare-pipeline/internal/models"
)

// DocumentExtractor pulls text out of linked attachments.
type DocumentExtractor interface {
	ExtractText(ctx context.Context, url string, maxPages int) string
}

// GenericStrategy crawls any site describable by sites.json selectors: a
// breadth-first walk over the configured levels, stopping at pages the
// stop selector matches and extracting those as announcements.
type GenericStrategy struct {
	fetcher     *Fetcher
	extractor   DocumentExtractor
	logger      arbor.ILogger
	concurrency int
	pageTimeout time.Duration
	maxPages    int
}

// NewGenericStrategy creates the selector-driven fallback strategy.
func NewGenericStrategy(fetcher *Fetcher, extractor DocumentExtractor, cfg common.CrawlerConfig, logger arbor.ILogger) *GenericStrategy {
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	pageTimeout := cfg.PageTimeout
	if pageTimeout <= 0 {
		pageTimeout = 15 * time.Second
	}

	return &GenericStrategy{
		fetcher:     fetcher,
		extractor:   extractor,
		logger:      logger,
		concurrency: concurrency,
		pageTimeout: pageTimeout,
		maxPages:    cfg.MaxPages,
	}
}

// CrawlCity walks the site breadth first. Tasks run in batches of the
// configured concurrency; a failing task is logged and dropped without
// affecting its batch.
func (s *GenericStrategy) CrawlCity(ctx context.Context, site models.SiteConfig, known *LinkSet) ([]models.CrawlRecord, error) {
	maxDepth := site.MaxDepth
	if maxDepth <= 0 {
		maxDepth = len(site.Levels)
	}

	pending := []models.CrawlTask{{URL: site.StartURL, Level: 0}}
	visited := NewLinkSet(nil)
	visited.TryAdd(site.StartURL)

	var mu sync.Mutex
	var records []models.CrawlRecord

	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return records, err
		}

		batch := pending
		if len(batch) > s.concurrency {
			batch = batch[:s.concurrency]
		}
		pending = pending[len(batch):]

		var wg sync.WaitGroup
		for _, task := range batch {
			wg.Add(1)
			go func(task models.CrawlTask) {
				defer wg.Done()

				record, next, err := s.processTask(ctx, site, task, known, visited, maxDepth)
				if err != nil {
					s.logger.Warn().
						Err(err).
						Str("city", site.City).
						Str("url", task.URL).
						Int("level", task.Level).
						Msg("Crawl task failed")
					return
				}

				mu.Lock()
				defer mu.Unlock()
				if record != nil {
					records = append(records, *record)
				}
				pending = append(pending, next...)
			}(task)
		}
		wg.Wait()
	}

	s.logger.Info().
		Str("city", site.City).
		Int("records", len(records)).
		Int("pages_visited", visited.Len()).
		Msg("Site crawl finished")

	return records, nil
}

// processTask fetches one page and either extracts it as an announcement
// or expands it into the next level of tasks.
func (s *GenericStrategy) processTask(ctx context.Context, site models.SiteConfig, task models.CrawlTask, known, visited *LinkSet, maxDepth int) (*models.CrawlRecord, []models.CrawlTask, error) {
	// The page timeout covers the fetch only. Attachment downloads have
	// their own, longer timeout inside the extractor.
	pageCtx, cancel := context.WithTimeout(ctx, s.pageTimeout)
	defer cancel()

	doc, err := s.fetcher.GetDocument(pageCtx, task.URL)
	if err != nil {
		return nil, nil, err
	}

	if site.StopSelector != "" && doc.Find(site.StopSelector).Length() > 0 {
		if !known.TryAdd(task.URL) {
			// Announcement already stored by a previous pass.
			return nil, nil, nil
		}
		record := s.extractRecord(ctx, site, task.URL, doc)
		return &record, nil, nil
	}

	if task.Level >= maxDepth || task.Level >= len(site.Levels) {
		return nil, nil, nil
	}

	level := site.Levels[task.Level]
	var next []models.CrawlTask
	doc.Find(level.Selector).Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr(level.URLAttrOrDefault())
		if !ok {
			return
		}
		resolved, err := common.ResolveURL(site.BaseURL, href)
		if err != nil {
			return
		}
		if !visited.TryAdd(resolved) {
			return
		}
		next = append(next, models.CrawlTask{URL: resolved, Level: task.Level + 1})
	})

	return nil, next, nil
}

// extractRecord builds a CrawlRecord from a leaf announcement page.
func (s *GenericStrategy) extractRecord(ctx context.Context, site models.SiteConfig, pageURL string, doc *goquery.Document) models.CrawlRecord {
	title := strings.TrimSpace(doc.Find(site.Extract.Title).First().Text())

	date := ""
	if iso, ok := common.ParseDateToISO(doc.Find(site.Extract.Date).First().Text()); ok {
		date = iso
	}

	content := s.extractContent(ctx, site, doc)
	if content == "" {
		content = models.NoContent
	}

	return models.CrawlRecord{
		City:    site.City,
		URL:     pageURL,
		Title:   title,
		Date:    date,
		Content: content,
	}
}

// extractContent converts the announcement body to markdown. Pages that
// publish their content only as attachments fall back to extracting the
// linked files.
func (s *GenericStrategy) extractContent(ctx context.Context, site models.SiteConfig, doc *goquery.Document) string {
	var parts []string

	body := doc.Find(site.Extract.Content).First()
	if body.Length() > 0 {
		converter := md.NewConverter(site.BaseURL, true, nil)
		markdown := strings.TrimSpace(converter.Convert(body))
		if markdown != "" {
			parts = append(parts, markdown)
		}
	}

	if len(parts) == 0 && site.DownloadSelector != "" && s.extractor != nil {
		doc.Find(site.DownloadSelector).Each(func(_ int, sel *goquery.Selection) {
			href, ok := sel.Attr("href")
			if !ok {
				return
			}
			resolved, err := common.ResolveURL(site.BaseURL, href)
			if err != nil {
				return
			}
			if text := s.extractor.ExtractText(ctx, resolved, s.maxPages); text != "" {
				parts = append(parts, text)
			}
		})
	}

	return strings.TrimSpace(strings.Join(parts, "\n\n"))
}
