package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cherites0610/welfare-pipeline/internal/common"
	"github.com/cherites0610/welfare-pipeline/internal/models"
)

func testCrawlerConfig() common.CrawlerConfig {
	return common.CrawlerConfig{
		Concurrency: 4,
		PageTimeout: 5 * time.Second,
		MaxBodySize: 10 * 1024 * 1024,
		MaxPages:    3,
	}
}

func newTestFetcher(cfg common.CrawlerConfig) *Fetcher {
	client := &http.Client{Timeout: 5 * time.Second}
	return NewFetcher(client, cfg, common.GetLogger())
}

// newAnnouncementSite serves a two-level site: an index listing detail
// pages, and detail pages carrying the stop marker.
func newAnnouncementSite(t *testing.T, detailCount int) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><ul class="news">`)
		for i := 1; i <= detailCount; i++ {
			fmt.Fprintf(w, `<li><a href="/detail/%d">公告 %d</a></li>`, i, i)
		}
		fmt.Fprint(w, `</ul></body></html>`)
	})
	for i := 1; i <= detailCount; i++ {
		i := i
		mux.HandleFunc(fmt.Sprintf("/detail/%d", i), func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, `<html><body>
				<h1 class="title">育兒津貼公告%d</h1>
				<span class="date">114-05-%02d</span>
				<div class="content"><p>本市發放育兒津貼第%d期。</p></div>
			</body></html>`, i, i, i)
		})
	}

	return httptest.NewServer(mux)
}

func siteConfigFor(server *httptest.Server) models.SiteConfig {
	return models.SiteConfig{
		City:         "臺南市",
		StartURL:     server.URL + "/",
		BaseURL:      server.URL,
		StopSelector: "h1.title",
		Levels: []models.LevelConfig{
			{Selector: "ul.news a"},
		},
		Extract: models.ExtractConfig{
			Title:   "h1.title",
			Date:    "span.date",
			Content: "div.content",
		},
	}
}

func TestGenericStrategy_CrawlsTwoLevelSite(t *testing.T) {
	server := newAnnouncementSite(t, 3)
	defer server.Close()

	cfg := testCrawlerConfig()
	strategy := NewGenericStrategy(newTestFetcher(cfg), nil, cfg, common.GetLogger())

	records, err := strategy.CrawlCity(context.Background(), siteConfigFor(server), NewLinkSet(nil))
	require.NoError(t, err)
	require.Len(t, records, 3)

	byTitle := make(map[string]models.CrawlRecord)
	for _, r := range records {
		byTitle[r.Title] = r
	}
	first, ok := byTitle["育兒津貼公告1"]
	require.True(t, ok)
	assert.Equal(t, "臺南市", first.City)
	assert.Equal(t, "2025-05-01", first.Date)
	assert.Contains(t, first.Content, "育兒津貼第1期")
	assert.Equal(t, server.URL+"/detail/1", first.URL)
}

func TestGenericStrategy_SkipsKnownLinks(t *testing.T) {
	server := newAnnouncementSite(t, 3)
	defer server.Close()

	cfg := testCrawlerConfig()
	strategy := NewGenericStrategy(newTestFetcher(cfg), nil, cfg, common.GetLogger())

	known := NewLinkSet(map[string]struct{}{
		server.URL + "/detail/1": {},
		server.URL + "/detail/2": {},
	})

	records, err := strategy.CrawlCity(context.Background(), siteConfigFor(server), known)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "育兒津貼公告3", records[0].Title)
}

func TestGenericStrategy_BatchesTasksByConcurrency(t *testing.T) {
	const detailCount = 5
	const detailDelay = 100 * time.Millisecond

	var mu sync.Mutex
	inFlight := 0
	maxInFlight := 0

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><ul class="news">`)
		for i := 1; i <= detailCount; i++ {
			fmt.Fprintf(w, `<li><a href="/detail/%d">公告 %d</a></li>`, i, i)
		}
		fmt.Fprint(w, `</ul></body></html>`)
	})
	for i := 1; i <= detailCount; i++ {
		i := i
		mux.HandleFunc(fmt.Sprintf("/detail/%d", i), func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			inFlight++
			if inFlight > maxInFlight {
				maxInFlight = inFlight
			}
			mu.Unlock()
			time.Sleep(detailDelay)
			mu.Lock()
			inFlight--
			mu.Unlock()

			fmt.Fprintf(w, `<html><body>
				<h1 class="title">育兒津貼公告%d</h1>
				<span class="date">114-05-%02d</span>
				<div class="content"><p>本市發放育兒津貼第%d期。</p></div>
			</body></html>`, i, i, i)
		})
	}
	server := httptest.NewServer(mux)
	defer server.Close()

	cfg := testCrawlerConfig()
	cfg.Concurrency = 2
	strategy := NewGenericStrategy(newTestFetcher(cfg), nil, cfg, common.GetLogger())

	start := time.Now()
	records, err := strategy.CrawlCity(context.Background(), siteConfigFor(server), NewLinkSet(nil))
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.Len(t, records, detailCount)
	assert.LessOrEqual(t, maxInFlight, 2, "no more than Concurrency tasks may run at once")
	// Five tasks in batches of two take three sequential rounds.
	assert.GreaterOrEqual(t, elapsed, 3*detailDelay-detailDelay/2)
}

func TestGenericStrategy_SecondRunYieldsNoNewRecords(t *testing.T) {
	server := newAnnouncementSite(t, 3)
	defer server.Close()

	cfg := testCrawlerConfig()
	strategy := NewGenericStrategy(newTestFetcher(cfg), nil, cfg, common.GetLogger())

	known := NewLinkSet(nil)
	first, err := strategy.CrawlCity(context.Background(), siteConfigFor(server), known)
	require.NoError(t, err)
	require.Len(t, first, 3)

	second, err := strategy.CrawlCity(context.Background(), siteConfigFor(server), known)
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestGenericStrategy_EmptyContentSentinel(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><a class="lnk" href="/detail">公告</a></body></html>`)
	})
	mux.HandleFunc("/detail", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><h1 class="title">純附件公告</h1><span class="date">114-01-01</span><div class="content"></div></body></html>`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	site := models.SiteConfig{
		City:         "彰化縣",
		StartURL:     server.URL + "/",
		BaseURL:      server.URL,
		StopSelector: "h1.title",
		Levels:       []models.LevelConfig{{Selector: "a.lnk"}},
		Extract: models.ExtractConfig{
			Title:   "h1.title",
			Date:    "span.date",
			Content: "div.content",
		},
	}

	cfg := testCrawlerConfig()
	strategy := NewGenericStrategy(newTestFetcher(cfg), nil, cfg, common.GetLogger())

	records, err := strategy.CrawlCity(context.Background(), site, NewLinkSet(nil))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.NoContent, records[0].Content)
}

func TestGenericStrategy_FailingPageDoesNotAbortBatch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<a class="lnk" href="/broken">壞頁</a>
			<a class="lnk" href="/detail">公告</a>
		</body></html>`)
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/detail", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><h1 class="title">存活公告</h1><span class="date">114-02-02</span><div class="content">內容</div></body></html>`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	site := models.SiteConfig{
		City:         "南投縣",
		StartURL:     server.URL + "/",
		BaseURL:      server.URL,
		StopSelector: "h1.title",
		Levels:       []models.LevelConfig{{Selector: "a.lnk"}},
		Extract: models.ExtractConfig{
			Title:   "h1.title",
			Date:    "span.date",
			Content: "div.content",
		},
	}

	cfg := testCrawlerConfig()
	strategy := NewGenericStrategy(newTestFetcher(cfg), nil, cfg, common.GetLogger())

	records, err := strategy.CrawlCity(context.Background(), site, NewLinkSet(nil))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "存活公告", records[0].Title)
}

func TestLinkSet_TryAdd(t *testing.T) {
	set := NewLinkSet(map[string]struct{}{"https://a.gov.tw": {}})

	assert.False(t, set.TryAdd("https://a.gov.tw"))
	assert.True(t, set.TryAdd("https://b.gov.tw"))
	assert.False(t, set.TryAdd("https://b.gov.tw"))
	assert.Equal(t, 2, set.Len())
}

func TestRegistry_FallsBackToGeneric(t *testing.T) {
	cfg := testCrawlerConfig()
	generic := NewGenericStrategy(newTestFetcher(cfg), nil, cfg, common.GetLogger())
	taipei := NewTaipeiStrategy(newTestFetcher(cfg), nil, cfg, common.GetLogger())

	registry := NewRegistry(generic)
	registry.Register("臺北市", taipei)

	assert.Equal(t, Strategy(taipei), registry.For("臺北市"))
	assert.Equal(t, Strategy(generic), registry.For("嘉義市"))
}
