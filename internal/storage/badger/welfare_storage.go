package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/cherites0610/welfare-pipeline/internal/models"
)

// WelfareStorage persists enriched welfare announcements
type WelfareStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewWelfareStorage creates a new WelfareStorage instance
func NewWelfareStorage(db *BadgerDB, logger arbor.ILogger) *WelfareStorage {
	return &WelfareStorage{
		db:     db,
		logger: logger,
	}
}

// Create stores a new welfare entry. The entry's Link must be unique;
// inserting a duplicate link is an error.
func (s *WelfareStorage) Create(ctx context.Context, welfare *models.Welfare) error {
	if welfare.Link == "" {
		return fmt.Errorf("welfare link is required")
	}
	if welfare.ID == "" {
		welfare.ID = uuid.New().String()
	}
	if welfare.CreatedAt.IsZero() {
		welfare.CreatedAt = time.Now()
	}
	if welfare.Status == "" {
		welfare.Status = models.WelfareStatusPublished
	}

	if err := s.db.Store().Insert(welfare.ID, welfare); err != nil {
		return fmt.Errorf("failed to create welfare entry: %w", err)
	}

	s.logger.Debug().
		Str("id", welfare.ID).
		Str("link", welfare.Link).
		Msg("Welfare entry created")
	return nil
}

// GetByLink returns the entry for a link, or nil when absent.
func (s *WelfareStorage) GetByLink(ctx context.Context, link string) (*models.Welfare, error) {
	var welfare models.Welfare
	err := s.db.Store().FindOne(&welfare, badgerhold.Where("Link").Eq(link))
	if err == badgerhold.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get welfare by link: %w", err)
	}
	return &welfare, nil
}

// ListLinks returns the set of all stored announcement links. Crawl passes
// use it to skip announcements already in the store.
func (s *WelfareStorage) ListLinks(ctx context.Context) (map[string]struct{}, error) {
	links := make(map[string]struct{})
	err := s.db.Store().ForEach(badgerhold.Where("Link").Ne(""), func(w *models.Welfare) error {
		links[w.Link] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list welfare links: %w", err)
	}
	return links, nil
}

// ListByLocation returns entries for one location, newest first.
func (s *WelfareStorage) ListByLocation(ctx context.Context, locationID int) ([]*models.Welfare, error) {
	var entries []models.Welfare
	query := badgerhold.Where("LocationID").Eq(locationID).SortBy("PublicationDate").Reverse()
	if err := s.db.Store().Find(&entries, query); err != nil {
		return nil, fmt.Errorf("failed to list welfare by location: %w", err)
	}

	result := make([]*models.Welfare, len(entries))
	for i := range entries {
		result[i] = &entries[i]
	}
	return result, nil
}

// Count returns the number of stored entries.
func (s *WelfareStorage) Count(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.Welfare{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count welfare entries: %w", err)
	}
	return int(count), nil
}
