package crawler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"

	"github.com/cherites0610/welfare-pipeline/internal/common"
	"github.com/cherites0610/welfare-pipeline/internal/models"
)

// taipeiMaxListPages bounds pagination per category. The site's list pages
// loop back to page 1 past the end instead of 404ing.
const taipeiMaxListPages = 20

// TaipeiStrategy crawls the Taipei City social welfare announcement site.
// The site has a fixed three-level layout the generic selectors cannot
// express: a category index, paginated list pages per category, and
// detail pages.
type TaipeiStrategy struct {
	fetcher     *Fetcher
	extractor   DocumentExtractor
	logger      arbor.ILogger
	pageTimeout time.Duration
	maxPages    int
}

// NewTaipeiStrategy creates the Taipei-specific strategy.
func NewTaipeiStrategy(fetcher *Fetcher, extractor DocumentExtractor, cfg common.CrawlerConfig, logger arbor.ILogger) *TaipeiStrategy {
	pageTimeout := cfg.PageTimeout
	if pageTimeout <= 0 {
		pageTimeout = 15 * time.Second
	}
	return &TaipeiStrategy{
		fetcher:     fetcher,
		extractor:   extractor,
		logger:      logger,
		pageTimeout: pageTimeout,
		maxPages:    cfg.MaxPages,
	}
}

// CrawlCity walks category index, list pages, and detail pages in order.
// Categories run concurrently; pagination within a category is sequential
// because page N+1's link only renders on page N.
func (s *TaipeiStrategy) CrawlCity(ctx context.Context, site models.SiteConfig, known *LinkSet) ([]models.CrawlRecord, error) {
	indexCtx, cancel := context.WithTimeout(ctx, s.pageTimeout)
	doc, err := s.fetcher.GetDocument(indexCtx, site.StartURL)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to load category index: %w", err)
	}

	var categoryURLs []string
	doc.Find("ul.nav-category a, .category-list a").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		resolved, err := common.ResolveURL(site.BaseURL, href)
		if err != nil {
			return
		}
		categoryURLs = append(categoryURLs, resolved)
	})

	var mu sync.Mutex
	var records []models.CrawlRecord
	var wg sync.WaitGroup

	for _, categoryURL := range categoryURLs {
		wg.Add(1)
		go func(categoryURL string) {
			defer wg.Done()
			found := s.crawlCategory(ctx, site, categoryURL, known)
			mu.Lock()
			records = append(records, found...)
			mu.Unlock()
		}(categoryURL)
	}
	wg.Wait()

	s.logger.Info().
		Str("city", site.City).
		Int("categories", len(categoryURLs)).
		Int("records", len(records)).
		Msg("Taipei crawl finished")

	return records, nil
}

// crawlCategory pages through one category's announcement list.
func (s *TaipeiStrategy) crawlCategory(ctx context.Context, site models.SiteConfig, categoryURL string, known *LinkSet) []models.CrawlRecord {
	var records []models.CrawlRecord

	pageURL := categoryURL
	for page := 1; page <= taipeiMaxListPages && pageURL != ""; page++ {
		listCtx, cancel := context.WithTimeout(ctx, s.pageTimeout)
		doc, err := s.fetcher.GetDocument(listCtx, pageURL)
		cancel()
		if err != nil {
			s.logger.Warn().
				Err(err).
				Str("url", pageURL).
				Int("page", page).
				Msg("Taipei list page failed")
			return records
		}

		doc.Find("table.list tbody tr td a, ul.list-items a.item-link").Each(func(_ int, sel *goquery.Selection) {
			href, ok := sel.Attr("href")
			if !ok {
				return
			}
			detailURL, err := common.ResolveURL(site.BaseURL, href)
			if err != nil {
				return
			}
			if !known.TryAdd(detailURL) {
				return
			}
			if record, err := s.crawlDetail(ctx, site, detailURL); err != nil {
				s.logger.Warn().Err(err).Str("url", detailURL).Msg("Taipei detail page failed")
			} else {
				records = append(records, record)
			}
		})

		pageURL = ""
		if next, ok := doc.Find("a.page-next, li.next > a").First().Attr("href"); ok {
			if resolved, err := common.ResolveURL(site.BaseURL, next); err == nil && resolved != categoryURL {
				pageURL = resolved
			}
		}
	}

	return records
}

// crawlDetail extracts one announcement.
func (s *TaipeiStrategy) crawlDetail(ctx context.Context, site models.SiteConfig, detailURL string) (models.CrawlRecord, error) {
	detailCtx, cancel := context.WithTimeout(ctx, s.pageTimeout)
	defer cancel()

	doc, err := s.fetcher.GetDocument(detailCtx, detailURL)
	if err != nil {
		return models.CrawlRecord{}, err
	}

	title := strings.TrimSpace(doc.Find("h1.page-title, h2.title").First().Text())

	date := ""
	if iso, ok := common.ParseDateToISO(doc.Find("div.news-info .date, span.publish-date").First().Text()); ok {
		date = iso
	}

	content := ""
	body := doc.Find("div.news-content, article.content").First()
	if body.Length() > 0 {
		converter := md.NewConverter(site.BaseURL, true, nil)
		content = strings.TrimSpace(converter.Convert(body))
	}

	if content == "" && s.extractor != nil {
		doc.Find("div.attachments a[href]").Each(func(_ int, sel *goquery.Selection) {
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
