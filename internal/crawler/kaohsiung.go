package crawler

import (
	"context"
	"fmt"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"

	"github.com/cherites0610/welfare-pipeline/internal/common"
	"github.com/cherites0610/welfare-pipeline/internal/models"
	"github.com/cherites0610/welfare-pipeline/internal/queue"
)

// kaohsiungCategories are the site's announcement category codes queried
// through its JSON list endpoint.
var kaohsiungCategories = []string{"child", "woman", "elder", "assist", "disability"}

// kaohsiungListItem is one row of the site's JSON list response.
type kaohsiungListItem struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Date  string `json:"postDate"`
}

// kaohsiungListResponse is the JSON list endpoint's envelope.
type kaohsiungListResponse struct {
	Total int                 `json:"total"`
	Items []kaohsiungListItem `json:"items"`
}

// KaohsiungStrategy crawls the Kaohsiung City social affairs site. Lists
// come from a JSON query endpoint rather than HTML pages; only detail
// pages are scraped. Records are bulk-enqueued at the end of the pass so
// an aborted run enqueues nothing rather than an unknown prefix.
type KaohsiungStrategy struct {
	fetcher     *Fetcher
	extractor   DocumentExtractor
	enqueuer    Enqueuer
	logger      arbor.ILogger
	pageTimeout time.Duration
	maxPages    int
}

// NewKaohsiungStrategy creates the Kaohsiung-specific strategy.
func NewKaohsiungStrategy(fetcher *Fetcher, extractor DocumentExtractor, enqueuer Enqueuer, cfg common.CrawlerConfig, logger arbor.ILogger) *KaohsiungStrategy {
	pageTimeout := cfg.PageTimeout
	if pageTimeout <= 0 {
		pageTimeout = 15 * time.Second
	}
	return &KaohsiungStrategy{
		fetcher:     fetcher,
		extractor:   extractor,
		enqueuer:    enqueuer,
		logger:      logger,
		pageTimeout: pageTimeout,
		maxPages:    cfg.MaxPages,
	}
}

// SelfEnqueues reports that this strategy pushes its own records onto the
// queue; the orchestrator must not enqueue them again.
func (s *KaohsiungStrategy) SelfEnqueues() bool { return true }

// CrawlCity queries each category's list endpoint, scrapes new detail
// pages, and bulk-enqueues everything found at the end.
func (s *KaohsiungStrategy) CrawlCity(ctx context.Context, site models.SiteConfig, known *LinkSet) ([]models.CrawlRecord, error) {
	var records []models.CrawlRecord

	for _, category := range kaohsiungCategories {
		listURL := fmt.Sprintf("%s/api/news?category=%s&size=100", strings.TrimRight(site.BaseURL, "/"), category)

		listCtx, cancel := context.WithTimeout(ctx, s.pageTimeout)
		var list kaohsiungListResponse
		err := s.fetcher.GetJSON(listCtx, listURL, &list)
		cancel()
		if err != nil {
			s.logger.Warn().
				Err(err).
				Str("category", category).
				Msg("Kaohsiung list query failed")
			continue
		}

		for _, item := range list.Items {
			detailURL, err := common.ResolveURL(site.BaseURL, item.URL)
			if err != nil {
				continue
			}
			if !known.TryAdd(detailURL) {
				continue
			}

			record, err := s.crawlDetail(ctx, site, detailURL, item)
			if err != nil {
				s.logger.Warn().Err(err).Str("url", detailURL).Msg("Kaohsiung detail page failed")
				continue
			}
			records = append(records, record)
		}
	}

	if len(records) > 0 && s.enqueuer != nil {
		msgs := make([]queue.JobMessage, 0, len(records))
		for _, record := range records {
			msg, err := queue.NewJobMessage(record.URL, "process", record)
			if err != nil {
				s.logger.Error().Err(err).Str("url", record.URL).Msg("Failed to build job message")
				continue
			}
			msgs = append(msgs, msg)
		}
		if err := s.enqueuer.EnqueueBulk(ctx, msgs); err != nil {
			return records, fmt.Errorf("failed to bulk enqueue records: %w", err)
		}
	}

	s.logger.Info().
		Str("city", site.City).
		Int("records", len(records)).
		Msg("Kaohsiung crawl finished")

	return records, nil
}

// crawlDetail scrapes one announcement. The list item already carries the
// title and date; the detail page supplies the body.
func (s *KaohsiungStrategy) crawlDetail(ctx context.Context, site models.SiteConfig, detailURL string, item kaohsiungListItem) (models.CrawlRecord, error) {
	detailCtx, cancel := context.WithTimeout(ctx, s.pageTimeout)
	defer cancel()

	doc, err := s.fetcher.GetDocument(detailCtx, detailURL)
	if err != nil {
		return models.CrawlRecord{}, err
	}

	title := strings.TrimSpace(item.Title)
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1, h2.news-title").First().Text())
	}

	date := ""
	if iso, ok := common.ParseDateToISO(item.Date); ok {
		date = iso
	}

	content := ""
	body := doc.Find("div.news-detail, div.article-body").First()
	if body.Length() > 0 {
		converter := md.NewConverter(site.BaseURL, true, nil)
		content = strings.TrimSpace(converter.Convert(body))
	}

	if content == "" && s.extractor != nil {
		doc.Find("ul.file-list a[href]").Each(func(_ int, sel *goquery.Selection) {
			if content != "" {
				return
			}
			href, _ := sel.Attr("href")
			resolved, err := common.ResolveURL(site.BaseURL, href)
			if err != nil {
				return
			}
			content = s.extractor.ExtractText(ctx, resolved, s.maxPages)
		})
	}

	if content == "" {
		content = models.NoContent
	}

	return models.CrawlRecord{
		City:    site.City,
		URL:     detailURL,
		Title:   title,
		Date:    date,
		Content: content,
	}, nil
}
