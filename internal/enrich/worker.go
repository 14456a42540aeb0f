package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/cherites0610/welfare-pipeline/internal/common"
	"github.com/cherites0610/welfare-pipeline/internal/llm"
	"github.com/cherites0610/welfare-pipeline/internal/models"
	"github.com/cherites0610/welfare-pipeline/internal/queue"
	"github.com/cherites0610/welfare-pipeline/internal/ratelimit"
	"github.com/cherites0610/welfare-pipeline/internal/storage"
)

// WelfareCreator persists one enriched announcement.
type WelfareCreator interface {
	Create(ctx context.Context, welfare *models.Welfare) error
}

// Worker enriches crawled announcements: summary, categories, and target
// identities, each a rate-limited LLM call. A stage that fails gets one
// in-stage retry after a long delay; a stage failing twice fails the job
// and hands control back to the queue's attempt policy.
type Worker struct {
	provider   llm.Provider
	limiter    *ratelimit.Limiter
	store      WelfareCreator
	sideLog    *storage.SideLog
	logger     arbor.ILogger
	enabled    bool
	retryDelay time.Duration
	maxSummary int
	maxLabels  int
}

// NewWorker creates an enrichment worker.
func NewWorker(provider llm.Provider, limiter *ratelimit.Limiter, store WelfareCreator, sideLog *storage.SideLog, cfg common.EnrichmentConfig, logger arbor.ILogger) *Worker {
	retryDelay := cfg.StageRetryDelay
	if retryDelay <= 0 {
		retryDelay = 5 * time.Minute
	}
	maxSummary := cfg.SummaryMaxLength
	if maxSummary <= 0 {
		maxSummary = 150
	}
	maxLabels := cfg.MaxIdentityLabels
	if maxLabels <= 0 {
		maxLabels = 8
	}

	return &Worker{
		provider:   provider,
		limiter:    limiter,
		store:      store,
		sideLog:    sideLog,
		logger:     logger,
		enabled:    cfg.Enabled,
		retryDelay: retryDelay,
		maxSummary: maxSummary,
		maxLabels:  maxLabels,
	}
}

// Handle is the queue handler for "process" jobs.
func (w *Worker) Handle(ctx context.Context, msg *queue.JobMessage) error {
	var record models.CrawlRecord
	if err := json.Unmarshal(msg.Payload, &record); err != nil {
		return fmt.Errorf("invalid crawl record payload: %w", err)
	}
	return w.Process(ctx, record)
}

// Process runs the three enrichment stages and persists the result.
func (w *Worker) Process(ctx context.Context, record models.CrawlRecord) error {
	if !w.enabled {
		w.logger.Info().
			Str("url", record.URL).
			Msg("Enrichment disabled, job skipped")
		return nil
	}

	content := record.Content
	if content == models.NoContent {
		content = ""
	}

	summary, err := w.summarize(ctx, content)
	if err != nil {
		return fmt.Errorf("summary stage failed for %s: %w", record.URL, err)
	}

	categories, err := w.categorize(ctx, content)
	if err != nil {
		return fmt.Errorf("category stage failed for %s: %w", record.URL, err)
	}

	identities, err := w.tagIdentities(ctx, content)
	if err != nil {
		return fmt.Errorf("identity stage failed for %s: %w", record.URL, err)
	}

	enriched := models.EnrichedRecord{
		CrawlRecord: record,
		Summary:     summary,
		Categories:  categories,
		Identities:  identities,
	}

	if err := w.persist(ctx, enriched); err != nil {
		return fmt.Errorf("persist stage failed for %s: %w", record.URL, err)
	}

	w.logger.Info().
		Str("url", record.URL).
		Str("city", record.City).
		Int("categories", len(categories)).
		Int("identities", len(identities)).
		Msg("Record enriched")

	return nil
}

// summarize produces a compact summary, or the no-summary sentinel for
// empty content without spending an LLM call.
func (w *Worker) summarize(ctx context.Context, content string) (string, error) {
	if content == "" {
		return models.NoSummary, nil
	}

	text, err := w.generateWithStageRetry(ctx, summaryPrompt(content))
	if err != nil {
		return "", err
	}

	summary := strings.TrimSpace(strings.ReplaceAll(text, "\n", ""))
	if runes := []rune(summary); len(runes) > w.maxSummary {
		summary = string(runes[:w.maxSummary])
	}
	if summary == "" {
		summary = models.NoSummary
	}
	return summary, nil
}

// categorize returns whitelisted category labels, falling back to the
// default category when nothing usable comes back.
func (w *Worker) categorize(ctx context.Context, content string) ([]string, error) {
	if content == "" {
		return []string{models.DefaultCategory}, nil
	}

	text, err := w.generateWithStageRetry(ctx, categoryPrompt(content))
	if err != nil {
		return nil, err
	}

	var categories []string
	seen := make(map[string]bool)
	for _, label := range splitLabels(text) {
		if seen[label] {
			continue
		}
		if _, ok := models.CategoryIDByName(label); ok {
			seen[label] = true
			categories = append(categories, label)
		}
	}
	if len(categories) == 0 {
		categories = []string{models.DefaultCategory}
	}
	return categories, nil
}

// tagIdentities returns whitelisted identity labels. The none sentinel
// and unknown labels are dropped; empty is a valid answer.
func (w *Worker) tagIdentities(ctx context.Context, content string) ([]string, error) {
	if content == "" {
		return []string{}, nil
	}

	text, err := w.generateWithStageRetry(ctx, identityPrompt(content, w.maxLabels))
	if err != nil {
		return nil, err
	}

	identities := []string{}
	seen := make(map[string]bool)
	for _, label := range splitLabels(text) {
		if label == models.NoneSentinel || seen[label] {
			continue
		}
		if _, ok := models.IdentityIDByName(label); !ok {
			continue
		}
		seen[label] = true
		identities = append(identities, label)
		if len(identities) >= w.maxLabels {
			break
		}
	}
	return identities, nil
}

// generateWithStageRetry makes one rate-limited LLM call, retrying once
// after the stage retry delay. Rate limit quotas reset on the order of
// minutes, so a short second delay would just burn the retry.
func (w *Worker) generateWithStageRetry(ctx context.Context, prompt string) (string, error) {
	text, firstErr := w.generate(ctx, prompt)
	if firstErr == nil {
		return text, nil
	}

	w.logger.Warn().
		Err(firstErr).
		Dur("retry_delay", w.retryDelay).
		Msg("Enrichment stage failed, retrying after delay")

	select {
	case <-time.After(w.retryDelay):
	case <-ctx.Done():
		return "", ctx.Err()
	}

	text, retryErr := w.generate(ctx, prompt)
	if retryErr != nil {
		return "", fmt.Errorf("stage retry failed: %w (first attempt: %v)", retryErr, firstErr)
	}
	return text, nil
}

func (w *Worker) generate(ctx context.Context, prompt string) (string, error) {
	if err := w.limiter.Wait(ctx); err != nil {
		return "", err
	}

	result, err := w.provider.GenerateContent(ctx, prompt)
	if err != nil {
		return "", err
	}

	w.logger.Debug().
		Str("provider", w.provider.Name()).
		Int("total_tokens", int(result.TotalTokens)).
		Msg("LLM call completed")

	return result.Text, nil
}

// persist maps labels to IDs, appends the record to the side log, and
// creates the welfare entry. An unresolvable city name fails the job; a
// record stored under a wrong location is worse than a retried one.
func (w *Worker) persist(ctx context.Context, enriched models.EnrichedRecord) error {
	locationID, ok := models.LocationIDByName(enriched.City)
	if !ok {
		return fmt.Errorf("unknown city %q", enriched.City)
	}

	categoryIDs := make([]int, 0, len(enriched.Categories))
	for _, label := range enriched.Categories {
		if id, ok := models.CategoryIDByName(label); ok {
			categoryIDs = append(categoryIDs, id)
		}
	}
	identityIDs := make([]int, 0, len(enriched.Identities))
	for _, label := range enriched.Identities {
		if id, ok := models.IdentityIDByName(label); ok {
			identityIDs = append(identityIDs, id)
		}
	}

	if err := w.sideLog.Append(enriched); err != nil {
		return fmt.Errorf("failed to append side log: %w", err)
	}

	welfare := &models.Welfare{
		Title:           enriched.Title,
		Link:            enriched.URL,
		Details:         enriched.Content,
		Summary:         enriched.Summary,
		Forward:         false,
		PublicationDate: enriched.Date,
		Status:          models.WelfareStatusPublished,
		LocationID:      locationID,
		CategoryIDs:     categoryIDs,
		IdentityIDs:     identityIDs,
	}

	return w.store.Create(ctx, welfare)
}
