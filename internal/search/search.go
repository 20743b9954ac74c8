// Package search indexes avatar profiles for the owner's profile search.
package search

import (
	"time"

	"avatarstudio/api/internal/store"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Snippet         string   `json:"snippet"`
	PrimaryLanguage string   `json:"primaryLanguage,omitempty"`
	PersonaTags     []string `json:"personaTags,omitempty"`
}

// Query describes a search request. Searches are always scoped to one owner.
type Query struct {
	Text    string
	OwnerID string
	Limit   int
	Offset  int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// ProfileRecord is the data we index for a profile.
type ProfileRecord struct {
	ID              string   `json:"id"`
	OwnerID         string   `json:"ownerId"`
	Name            string   `json:"name"`
	PrimaryLanguage string   `json:"primaryLanguage"`
	PersonaTags     []string `json:"personaTags"`
	MBTIType        string   `json:"mbtiType"`
	Backstory       string   `json:"backstory"`
	UpdatedAt       int64    `json:"updatedAt"`
}

// RecordFromProfile projects the searchable part of a profile. Hidden rules
// are never indexed.
func RecordFromProfile(p store.Profile) ProfileRecord {
	updated := p.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	tags := p.PersonaTags
	if tags == nil {
		tags = []string{}
	}
	return ProfileRecord{
		ID:              p.ID,
		OwnerID:         p.OwnerID,
		Name:            p.Name,
		PrimaryLanguage: p.PrimaryLanguage,
		PersonaTags:     tags,
		MBTIType:        p.MBTIType,
		Backstory:       p.Backstory,
		UpdatedAt:       updated.Unix(),
	}
}

func normalizePage(q Query) (limit, offset int) {
	limit = q.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset = q.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
