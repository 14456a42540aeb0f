package enrich

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cherites0610/welfare-pipeline/internal/common"
	"github.com/cherites0610/welfare-pipeline/internal/llm"
	"github.com/cherites0610/welfare-pipeline/internal/models"
	"github.com/cherites0610/welfare-pipeline/internal/ratelimit"
	"github.com/cherites0610/welfare-pipeline/internal/storage"
)

// fakeProvider returns canned responses in call order.
type fakeProvider struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     int
}

func (f *fakeProvider) GenerateContent(ctx context.Context, prompt string) (*llm.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.responses) {
		return &llm.Result{Text: f.responses[i], TotalTokens: 100}, nil
	}
	return &llm.Result{Text: "", TotalTokens: 0}, nil
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeStore struct {
	mu      sync.Mutex
	created []*models.Welfare
	err     error
}

func (f *fakeStore) Create(ctx context.Context, welfare *models.Welfare) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.created = append(f.created, welfare)
	return nil
}

func newTestWorker(t *testing.T, provider llm.Provider, store WelfareCreator, cfg common.EnrichmentConfig) *Worker {
	t.Helper()
	sideLog := storage.NewSideLog(filepath.Join(t.TempDir(), "enriched.json"), common.GetLogger())
	limiter := ratelimit.NewWithWindow(1000, time.Minute)
	return NewWorker(provider, limiter, store, sideLog, cfg, common.GetLogger())
}

func enabledConfig() common.EnrichmentConfig {
	return common.EnrichmentConfig{
		Enabled:           true,
		StageRetryDelay:   50 * time.Millisecond,
		SummaryMaxLength:  150,
		MaxIdentityLabels: 8,
	}
}

func TestWorker_ProcessFullPipeline(t *testing.T) {
	provider := &fakeProvider{responses: []string{
		"本市提供65歲以上長者假牙補助，每人最高四萬元。",
		"老人福利|社會救助福利",
		"65歲以上|中低收入戶",
	}}
	store := &fakeStore{}
	worker := newTestWorker(t, provider, store, enabledConfig())

	record := models.CrawlRecord{
		City:    "高雄市",
		URL:     "https://kaohsiung.gov.tw/news/1",
		Title:   "假牙補助",
		Date:    "2025-05-20",
		Content: "高雄市政府補助65歲以上長者裝置假牙。",
	}

	require.NoError(t, worker.Process(context.Background(), record))
	assert.Equal(t, 3, provider.callCount())

	require.Len(t, store.created, 1)
	created := store.created[0]
	assert.Equal(t, "假牙補助", created.Title)
	assert.Equal(t, 6, created.LocationID)
	assert.Equal(t, []int{3, 4}, created.CategoryIDs)
	assert.Equal(t, []int{3, 6}, created.IdentityIDs)
	assert.Equal(t, models.WelfareStatusPublished, created.Status)
}

func TestWorker_EmptyContentUsesSentinelsWithoutLLM(t *testing.T) {
	provider := &fakeProvider{}
	store := &fakeStore{}
	worker := newTestWorker(t, provider, store, enabledConfig())

	record := models.CrawlRecord{
		City:    "臺北市",
		URL:     "https://taipei.gov.tw/news/1",
		Title:   "無內文公告",
		Content: models.NoContent,
	}

	require.NoError(t, worker.Process(context.Background(), record))
	assert.Zero(t, provider.callCount())

	require.Len(t, store.created, 1)
	created := store.created[0]
	assert.Equal(t, models.NoSummary, created.Summary)
	assert.Equal(t, []int{5}, created.CategoryIDs)
	assert.Empty(t, created.IdentityIDs)
}

func TestWorker_FiltersNonWhitelistLabels(t *testing.T) {
	provider := &fakeProvider{responses: []string{
		"摘要內容。",
		"老人福利|不存在的分類",
		"65歲以上|無|火星人",
	}}
	store := &fakeStore{}
	worker := newTestWorker(t, provider, store, enabledConfig())

	record := models.CrawlRecord{
		City:    "臺中市",
		URL:     "https://taichung.gov.tw/news/1",
		Title:   "公告",
		Content: "內容",
	}

	require.NoError(t, worker.Process(context.Background(), record))
	require.Len(t, store.created, 1)
	assert.Equal(t, []int{3}, store.created[0].CategoryIDs)
	assert.Equal(t, []int{3}, store.created[0].IdentityIDs)
}

func TestWorker_DeduplicatesRepeatedLabels(t *testing.T) {
	provider := &fakeProvider{responses: []string{
		"摘要內容。",
		"老人福利|老人福利",
		"65歲以上|65歲以上|中低收入戶",
	}}
	store := &fakeStore{}
	worker := newTestWorker(t, provider, store, enabledConfig())

	record := models.CrawlRecord{
		City:    "高雄市",
		URL:     "https://kaohsiung.gov.tw/news/2",
		Title:   "公告",
		Content: "內容",
	}

	require.NoError(t, worker.Process(context.Background(), record))
	require.Len(t, store.created, 1)
	assert.Equal(t, []int{3}, store.created[0].CategoryIDs)
	assert.Equal(t, []int{3, 6}, store.created[0].IdentityIDs)
}

func TestWorker_AllLabelsFilteredFallsBackToDefault(t *testing.T) {
	provider := &fakeProvider{responses: []string{
		"摘要內容。",
		"完全不相關|也不相關",
		"無",
	}}
	store := &fakeStore{}
	worker := newTestWorker(t, provider, store, enabledConfig())

	record := models.CrawlRecord{
		City:    "臺南市",
		URL:     "https://tainan.gov.tw/news/1",
		Title:   "公告",
		Content: "內容",
	}

	require.NoError(t, worker.Process(context.Background(), record))
	require.Len(t, store.created, 1)
	assert.Equal(t, []int{5}, store.created[0].CategoryIDs)
	assert.Empty(t, store.created[0].IdentityIDs)
}

func TestWorker_StageRetriesOnceThenFails(t *testing.T) {
	provider := &fakeProvider{errs: []error{
		errors.New("quota exceeded"),
		errors.New("quota exceeded"),
	}}
	store := &fakeStore{}
	worker := newTestWorker(t, provider, store, enabledConfig())

	record := models.CrawlRecord{
		City:    "桃園市",
		URL:     "https://taoyuan.gov.tw/news/1",
		Title:   "公告",
		Content: "內容",
	}

	err := worker.Process(context.Background(), record)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "summary stage failed")
	assert.Equal(t, 2, provider.callCount())
	assert.Empty(t, store.created)
}

func TestWorker_StageRetrySucceeds(t *testing.T) {
	provider := &fakeProvider{
		errs:      []error{errors.New("temporary failure"), nil, nil, nil},
		responses: []string{"", "摘要內容。", "老人福利", "65歲以上"},
	}
	store := &fakeStore{}
	worker := newTestWorker(t, provider, store, enabledConfig())

	record := models.CrawlRecord{
		City:    "宜蘭縣",
		URL:     "https://yilan.gov.tw/news/1",
		Title:   "公告",
		Content: "內容",
	}

	require.NoError(t, worker.Process(context.Background(), record))
	assert.Equal(t, 4, provider.callCount())
	require.Len(t, store.created, 1)
}

func TestWorker_DisabledSkipsJob(t *testing.T) {
	provider := &fakeProvider{}
	store := &fakeStore{}
	cfg := enabledConfig()
	cfg.Enabled = false
	worker := newTestWorker(t, provider, store, cfg)

	record := models.CrawlRecord{City: "臺北市", URL: "https://taipei.gov.tw/news/1", Content: "內容"}

	require.NoError(t, worker.Process(context.Background(), record))
	assert.Zero(t, provider.callCount())
	assert.Empty(t, store.created)
}

func TestWorker_UnknownCityFailsJob(t *testing.T) {
	provider := &fakeProvider{responses: []string{"摘要。", "老人福利", "65歲以上"}}
	store := &fakeStore{}
	worker := newTestWorker(t, provider, store, enabledConfig())

	record := models.CrawlRecord{
		City:    "不存在市",
		URL:     "https://nowhere.gov.tw/news/1",
		Content: "內容",
	}

	err := worker.Process(context.Background(), record)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown city")
	assert.Empty(t, store.created)
}

func TestWorker_SummaryTruncatedAndFlattened(t *testing.T) {
	long := ""
	for i := 0; i < 40; i++ {
		long += "很長的摘要內容"
	}
	provider := &fakeProvider{responses: []string{
		"第一行\n第二行" + long,
		"老人福利",
		"無",
	}}
	store := &fakeStore{}
	worker := newTestWorker(t, provider, store, enabledConfig())

	record := models.CrawlRecord{
		City:    "花蓮縣",
		URL:     "https://hualien.gov.tw/news/1",
		Content: "內容",
	}

	require.NoError(t, worker.Process(context.Background(), record))
	require.Len(t, store.created, 1)
	summary := store.created[0].Summary
	assert.NotContains(t, summary, "\n")
	assert.LessOrEqual(t, len([]rune(summary)), 150)
}
