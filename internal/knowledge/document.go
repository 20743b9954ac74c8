// Package knowledge keeps the knowledge documents of one avatar profile
// consistent between blob storage, the metadata table and the documents a
// wizard session is still holding in memory.
package knowledge

import (
	"strings"
	"time"

	"avatarstudio/api/internal/store"
)

// Provenance tells where a document lives.
type Provenance string

const (
	// ProvenanceProfile documents have a stored object and a metadata row.
	ProvenanceProfile Provenance = "profile"
	// ProvenanceDraft documents exist only in the memory of an authoring
	// session that has not been finalized yet.
	ProvenanceDraft Provenance = "draft-local"
)

type Document struct {
	ID          string     `json:"id"`
	ProfileID   string     `json:"profileId,omitempty"`
	DisplayName string     `json:"displayName"`
	SizeBytes   int64      `json:"sizeBytes"`
	ContentType string     `json:"contentType"`
	PageCount   int        `json:"pageCount,omitempty"`
	UploadedAt  time.Time  `json:"uploadedAt"`
	Provenance  Provenance `json:"provenance"`
	Linked      bool       `json:"linked"`
	StorageRef  string     `json:"-"`

	// content is the in-memory file handle of a draft-local document. It is
	// session scoped and never persisted anywhere.
	content []byte
}

// Downloadable reports whether the document has bytes that can be served.
func (d Document) Downloadable() bool {
	return d.StorageRef != "" || len(d.content) > 0
}

func fromRow(row store.KnowledgeRow) Document {
	return Document{
		ID:          row.ID,
		ProfileID:   row.ProfileID,
		DisplayName: row.DisplayName,
		SizeBytes:   row.SizeBytes,
		ContentType: row.ContentType,
		PageCount:   row.PageCount,
		UploadedAt:  row.UploadedAt,
		Provenance:  ProvenanceProfile,
		Linked:      row.Linked,
		StorageRef:  row.StorageKey,
	}
}

// Merge returns the combined view of profile-sourced and draft-local
// documents. Profile documents come first and are never folded together.
// A draft whose display name matches a profile document is dropped, as is a
// draft whose name repeats an earlier draft. Merge is idempotent.
func Merge(profileDocs, drafts []Document) []Document {
	merged := make([]Document, 0, len(profileDocs)+len(drafts))
	seen := make(map[string]bool, len(profileDocs)+len(drafts))

	for _, doc := range profileDocs {
		if doc.Provenance != ProvenanceProfile {
			continue
		}
		merged = append(merged, doc)
		seen[nameKey(doc.DisplayName)] = true
	}
	for _, doc := range drafts {
		if doc.Provenance != ProvenanceDraft {
			continue
		}
		key := nameKey(doc.DisplayName)
		if seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, doc)
	}
	return merged
}

func nameKey(name string) string {
	return strings.TrimSpace(name)
}
