package search

import (
	"context"
	"log"

	"avatarstudio/api/internal/store"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	primary  Searcher
	indexer  recordIndexer
	fallback Searcher
	loader   recordLoader
}

type recordIndexer interface {
	IndexProfile(record ProfileRecord) error
	IndexProfiles(records []ProfileRecord) error
	Healthy() bool
}

type recordLoader interface {
	LoadAllRecords(ctx context.Context) ([]ProfileRecord, error)
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	s := &Service{}
	if meili != nil {
		s.primary = meili
		s.indexer = meili
	}
	if pgfts != nil {
		s.fallback = pgfts
		s.loader = pgfts
	}
	return s
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.primary != nil && s.primary.Healthy() {
		results, total, err := s.primary.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}

	results, total, err := s.fallback.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexProfile pushes profile to Meilisearch in the background. The
// Postgres fallback reads the generated column and needs no indexing.
func (s *Service) IndexProfile(_ context.Context, profile store.Profile) error {
	if s.indexer == nil || !s.indexer.Healthy() {
		return nil
	}
	record := RecordFromProfile(profile)
	go func() {
		if err := s.indexer.IndexProfile(record); err != nil {
			log.Printf("search: index profile %s: %v", record.ID, err)
		}
	}()
	return nil
}

// ReindexAllFromPG reindexes every profile from PostgreSQL into Meilisearch.
// Called during bootstrap.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.indexer == nil || !s.indexer.Healthy() || s.loader == nil {
		return
	}
	records, err := s.loader.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.indexer.IndexProfiles(records); err != nil {
		log.Printf("search: reindex profiles: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
