package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/cherites0610/welfare-pipeline/internal/models"
	"github.com/cherites0610/welfare-pipeline/internal/queue"
	"github.com/cherites0610/welfare-pipeline/internal/storage"
)

// Orchestrator runs a full crawl pass across every configured city.
type Orchestrator struct {
	registry *Registry
	links    LinkLister
	enqueuer Enqueuer
	snapshot *storage.SnapshotWriter
	logger   arbor.ILogger
	sites    map[string]models.SiteConfig
}

// NewOrchestrator creates a crawl orchestrator.
func NewOrchestrator(registry *Registry, links LinkLister, enqueuer Enqueuer, snapshot *storage.SnapshotWriter, logger arbor.ILogger) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		links:    links,
		enqueuer: enqueuer,
		snapshot: snapshot,
		logger:   logger,
		sites:    make(map[string]models.SiteConfig),
	}
}

// LoadSites reads the per-city crawl configuration file. The file is a
// JSON object keyed by city name.
func (o *Orchestrator) LoadSites(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read sites file %s: %w", path, err)
	}

	var sites map[string]models.SiteConfig
	if err := json.Unmarshal(data, &sites); err != nil {
		return fmt.Errorf("failed to parse sites file %s: %w", path, err)
	}

	for city, site := range sites {
		site.City = city
		if site.StartURL == "" || site.BaseURL == "" {
			return fmt.Errorf("site config for %s is missing start_url or base_url", city)
		}
		sites[city] = site
	}

	o.sites = sites
	o.logger.Info().Int("cities", len(sites)).Str("path", path).Msg("Site configuration loaded")
	return nil
}

// Sites returns the loaded site configurations.
func (o *Orchestrator) Sites() map[string]models.SiteConfig {
	return o.sites
}

// CrawlAllCities runs one full crawl pass:
//  1. load the stored links into a shared set
//  2. run every city's strategy concurrently
//  3. flatten the results
//  4. write a snapshot per city
//  5. enqueue every record for enrichment
//
// The snapshot and the enqueue are independent writes; a crash between
// them loses only not-yet-enqueued records.
func (o *Orchestrator) CrawlAllCities(ctx context.Context) error {
	if len(o.sites) == 0 {
		return fmt.Errorf("no sites configured")
	}

	existing, err := o.links.ListLinks(ctx)
	if err != nil {
		return fmt.Errorf("failed to load existing links: %w", err)
	}
	known := NewLinkSet(existing)

	o.logger.Info().
		Int("cities", len(o.sites)).
		Int("known_links", known.Len()).
		Msg("Starting crawl pass")

	type cityResult struct {
		city       string
		records    []models.CrawlRecord
		selfQueued bool
	}

	var mu sync.Mutex
	var results []cityResult
	var wg sync.WaitGroup

	for city, site := range o.sites {
		wg.Add(1)
		go func(city string, site models.SiteConfig) {
			defer wg.Done()

			strategy := o.registry.For(city)
			records, err := strategy.CrawlCity(ctx, site, known)
			if err != nil {
				o.logger.Error().Err(err).Str("city", city).Msg("City crawl failed")
			}
			if len(records) == 0 {
				return
			}

			selfQueued := false
			if se, ok := strategy.(SelfEnqueuer); ok && se.SelfEnqueues() {
				selfQueued = true
			}

			mu.Lock()
			results = append(results, cityResult{city: city, records: records, selfQueued: selfQueued})
			mu.Unlock()
		}(city, site)
	}
	wg.Wait()

	total := 0
	enqueued := 0
	for _, result := range results {
		total += len(result.records)

		if _, err := o.snapshot.Write(result.city, result.records); err != nil {
			o.logger.Error().Err(err).Str("city", result.city).Msg("Snapshot write failed")
		}

		if result.selfQueued {
			continue
		}
		for _, record := range result.records {
			msg, err := queue.NewJobMessage(record.URL, "process", record)
			if err != nil {
				o.logger.Error().Err(err).Str("url", record.URL).Msg("Failed to build job message")
				continue
			}
			if err := o.enqueuer.Enqueue(ctx, msg); err != nil {
				o.logger.Error().Err(err).Str("url", record.URL).Msg("Failed to enqueue record")
				continue
			}
			enqueued++
		}
	}

	o.logger.Info().
		Int("records", total).
		Int("enqueued", enqueued).
		Msg("Crawl pass finished")

	return nil
}
