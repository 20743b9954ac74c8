package knowledge

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ledongthuc/pdf"

	"avatarstudio/api/internal/attachment"
	"avatarstudio/api/internal/failure"
	"avatarstudio/api/internal/feed"
	"avatarstudio/api/internal/store"
	"avatarstudio/api/internal/util"
)

// Attachments is the part of attachment.Store the ledger needs.
type Attachments interface {
	Validate(purpose attachment.Purpose, file attachment.File) error
	Upload(ctx context.Context, purpose attachment.Purpose, file attachment.File, ownerID, scopeID string) (attachment.Stored, error)
	ResolveURL(ref string) (string, error)
	Remove(ctx context.Context, ref string) error
}

// MetadataStore is the knowledge metadata table.
type MetadataStore interface {
	InsertKnowledge(ctx context.Context, row store.KnowledgeRow) (store.KnowledgeRow, error)
	ListKnowledge(ctx context.Context, profileID string) ([]store.KnowledgeRow, error)
	SetKnowledgeLinked(ctx context.Context, id string, linked bool) error
	DeleteKnowledge(ctx context.Context, id string) error
}

// Publisher announces document-set changes to other views of the profile.
type Publisher interface {
	Publish(ctx context.Context, change feed.Change) error
}

// Download is what a caller gets back for a document: a URL for stored
// documents, the bytes for draft-local ones.
type Download struct {
	Name        string
	ContentType string
	URL         string
	Content     []byte
}

// Ledger holds the merged knowledge view of one profile for one session.
type Ledger struct {
	attachments Attachments
	rows        MetadataStore
	publisher   Publisher
	ownerID     string
	now         func() time.Time

	mu          sync.Mutex
	profileID   string
	profileDocs []Document
	drafts      []Document
}

// NewLedger creates a ledger for ownerID. profileID may be empty while the
// profile has not been persisted; uploads are then held as drafts.
func NewLedger(attachments Attachments, rows MetadataStore, publisher Publisher, ownerID, profileID string) *Ledger {
	return &Ledger{
		attachments: attachments,
		rows:        rows,
		publisher:   publisher,
		ownerID:     ownerID,
		profileID:   profileID,
		now:         time.Now,
	}
}

func (l *Ledger) ProfileID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.profileID
}

// AttachProfile records the id the profile received on its first save.
// Later uploads go straight to storage; existing drafts wait for Promote.
func (l *Ledger) AttachProfile(profileID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.profileID == "" {
		l.profileID = profileID
	}
}

// Refresh reloads the profile-sourced documents from the metadata table.
func (l *Ledger) Refresh(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refreshLocked(ctx)
}

func (l *Ledger) refreshLocked(ctx context.Context) error {
	if l.profileID == "" {
		return nil
	}
	rows, err := l.rows.ListKnowledge(ctx, l.profileID)
	if err != nil {
		return failure.Persistence("knowledge.refresh", err)
	}
	docs := make([]Document, 0, len(rows))
	for _, row := range rows {
		docs = append(docs, fromRow(row))
	}
	l.profileDocs = docs
	l.dropShadowedDraftsLocked()
	return nil
}

// Documents returns the merged, deduplicated view.
func (l *Ledger) Documents() []Document {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Merge(l.profileDocs, l.drafts)
}

// Drafts returns the documents still held only in memory.
func (l *Ledger) Drafts() []Document {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Document(nil), l.drafts...)
}

// Upload stores file against the profile when it exists, otherwise keeps it
// as an unlinked draft. A draft with the same name as an existing draft
// replaces its content and keeps its id and link state.
func (l *Ledger) Upload(ctx context.Context, file attachment.File) (Document, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.profileID == "" {
		if err := l.attachments.Validate(attachment.PurposeKnowledge, file); err != nil {
			return Document{}, err
		}
		if i := l.draftIndexByNameLocked(file.Name); i >= 0 {
			draft := &l.drafts[i]
			draft.SizeBytes = file.Size()
			draft.PageCount = pageCount(file)
			draft.UploadedAt = l.now().UTC()
			draft.content = append([]byte(nil), file.Data...)
			return *draft, nil
		}
		doc := Document{
			ID:          util.NewID("kd"),
			DisplayName: file.Name,
			SizeBytes:   file.Size(),
			ContentType: "application/pdf",
			PageCount:   pageCount(file),
			UploadedAt:  l.now().UTC(),
			Provenance:  ProvenanceDraft,
			Linked:      false,
			content:     append([]byte(nil), file.Data...),
		}
		l.drafts = append(l.drafts, doc)
		return doc, nil
	}

	doc, err := l.storeLocked(ctx, file, true)
	if err != nil {
		return Document{}, err
	}
	l.profileDocs = append(l.profileDocs, doc)
	l.dropShadowedDraftsLocked()
	l.publishLocked(ctx)
	return doc, nil
}

// storeLocked uploads the bytes and inserts the metadata row. If the row
// cannot be written the uploaded object is removed again.
func (l *Ledger) storeLocked(ctx context.Context, file attachment.File, linked bool) (Document, error) {
	stored, err := l.attachments.Upload(ctx, attachment.PurposeKnowledge, file, l.ownerID, l.profileID)
	if err != nil {
		return Document{}, err
	}
	row, err := l.rows.InsertKnowledge(ctx, store.KnowledgeRow{
		ProfileID:   l.profileID,
		OwnerID:     l.ownerID,
		DisplayName: file.Name,
		StorageKey:  stored.Ref,
		SizeBytes:   stored.SizeBytes,
		ContentType: stored.ContentType,
		PageCount:   pageCount(file),
		Linked:      linked,
	})
	if err != nil {
		if removeErr := l.attachments.Remove(ctx, stored.Ref); removeErr != nil {
			log.Printf("knowledge: orphaned object %s after failed insert: %v", stored.Ref, removeErr)
		}
		return Document{}, failure.Persistence("knowledge.upload", err)
	}
	return fromRow(row), nil
}

// ToggleLink flips whether the avatar uses the document. Unlinking only hides
// a document; it never deletes the stored object or the metadata row.
func (l *Ledger) ToggleLink(ctx context.Context, documentID string) (Document, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if i := indexOf(l.drafts, documentID); i >= 0 {
		l.drafts[i].Linked = !l.drafts[i].Linked
		return l.drafts[i], nil
	}

	i := indexOf(l.profileDocs, documentID)
	if i < 0 {
		return Document{}, failure.NotFound("knowledge.toggle", fmt.Sprintf("document %s not found", documentID))
	}
	linked := !l.profileDocs[i].Linked
	if err := l.rows.SetKnowledgeLinked(ctx, documentID, linked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			l.profileDocs = append(l.profileDocs[:i:i], l.profileDocs[i+1:]...)
			return Document{}, failure.NotFound("knowledge.toggle", fmt.Sprintf("document %s was deleted elsewhere", documentID))
		}
		return Document{}, failure.Persistence("knowledge.toggle", err)
	}
	if !linked {
		log.Printf("knowledge: document %s unlinked from profile %s, stored object kept", documentID, l.profileID)
	}
	l.profileDocs[i].Linked = linked
	l.publishLocked(ctx)
	return l.profileDocs[i], nil
}

// Delete removes a document for good. Stored documents lose their object
// first and their metadata row second; a failed object removal leaves the
// row in place so the caller can retry. Drafts are simply dropped.
func (l *Ledger) Delete(ctx context.Context, documentID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if i := indexOf(l.drafts, documentID); i >= 0 {
		l.drafts = append(l.drafts[:i:i], l.drafts[i+1:]...)
		return nil
	}

	i := indexOf(l.profileDocs, documentID)
	if i < 0 {
		return failure.NotFound("knowledge.delete", fmt.Sprintf("document %s not found", documentID))
	}
	doc := l.profileDocs[i]
	if err := l.attachments.Remove(ctx, doc.StorageRef); err != nil {
		return err
	}
	if err := l.rows.DeleteKnowledge(ctx, doc.ID); err != nil {
		return failure.Persistence("knowledge.delete", err)
	}
	l.profileDocs = append(l.profileDocs[:i:i], l.profileDocs[i+1:]...)
	l.publishLocked(ctx)
	return nil
}

// Download resolves a document to a URL or, for drafts, its bytes.
func (l *Ledger) Download(ctx context.Context, documentID string) (Download, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, ok := l.findLocked(documentID)
	if !ok {
		return Download{}, failure.NotFound("knowledge.download", fmt.Sprintf("document %s not found", documentID))
	}
	if !doc.Downloadable() {
		return Download{}, failure.NotAvailable("knowledge.download", fmt.Sprintf("document %s is not available for download", doc.DisplayName))
	}
	out := Download{Name: doc.DisplayName, ContentType: doc.ContentType}
	if doc.StorageRef != "" {
		url, err := l.attachments.ResolveURL(doc.StorageRef)
		if err != nil {
			return Download{}, err
		}
		out.URL = url
		return out, nil
	}
	out.Content = append([]byte(nil), doc.content...)
	return out, nil
}

// Promote turns every visible draft into a stored document of profileID.
// Drafts hidden behind a profile document of the same name are dropped, not
// stored. Each draft is promoted exactly once; on failure the remaining
// drafts stay in place so a retry continues where this call stopped.
func (l *Ledger) Promote(ctx context.Context, profileID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.profileID == "" {
		l.profileID = profileID
	}
	if l.profileID != profileID {
		return failure.Validation("knowledge.promote", fmt.Sprintf("ledger belongs to profile %s", l.profileID), "profileId")
	}
	l.dropShadowedDraftsLocked()
	if len(l.drafts) == 0 {
		return nil
	}

	promoted := 0
	defer func() {
		if promoted > 0 {
			l.publishLocked(ctx)
		}
	}()
	for len(l.drafts) > 0 {
		draft := l.drafts[0]
		doc, err := l.storeLocked(ctx, attachment.File{
			Name:        draft.DisplayName,
			ContentType: draft.ContentType,
			Data:        draft.content,
		}, draft.Linked)
		if err != nil {
			return err
		}
		l.profileDocs = append(l.profileDocs, doc)
		l.drafts = l.drafts[1:]
		promoted++
	}
	return nil
}

// Discard drops all drafts, e.g. when the authoring session is abandoned.
func (l *Ledger) Discard() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.drafts = nil
}

// dropShadowedDraftsLocked removes drafts that Merge would hide: those named
// like a profile document or like an earlier draft.
func (l *Ledger) dropShadowedDraftsLocked() {
	if len(l.drafts) == 0 {
		return
	}
	seen := make(map[string]bool, len(l.profileDocs)+len(l.drafts))
	for _, doc := range l.profileDocs {
		seen[nameKey(doc.DisplayName)] = true
	}
	kept := l.drafts[:0:0]
	for _, draft := range l.drafts {
		key := nameKey(draft.DisplayName)
		if seen[key] {
			log.Printf("knowledge: draft %s shadowed by an existing document, dropped", draft.DisplayName)
			continue
		}
		seen[key] = true
		kept = append(kept, draft)
	}
	l.drafts = kept
}

func (l *Ledger) draftIndexByNameLocked(name string) int {
	key := nameKey(name)
	for i, draft := range l.drafts {
		if nameKey(draft.DisplayName) == key {
			return i
		}
	}
	return -1
}

func (l *Ledger) findLocked(documentID string) (Document, bool) {
	for _, doc := range Merge(l.profileDocs, l.drafts) {
		if doc.ID == documentID {
			return doc, true
		}
	}
	return Document{}, false
}

func (l *Ledger) publishLocked(ctx context.Context) {
	if l.publisher == nil || l.profileID == "" {
		return
	}
	change := feed.Change{
		ProfileID: l.profileID,
		Origin:    feed.OriginFrom(ctx),
		Kind:      feed.KindDocuments,
		At:        l.now().UTC(),
	}
	if err := l.publisher.Publish(ctx, change); err != nil {
		log.Printf("knowledge: publish change for %s: %v", l.profileID, err)
	}
}

func indexOf(docs []Document, id string) int {
	for i, doc := range docs {
		if doc.ID == id {
			return i
		}
	}
	return -1
}

// pageCount reads the page count of a PDF. It is informational only, so a
// file the parser cannot read reports zero.
func pageCount(file attachment.File) (pages int) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("knowledge: page count for %s: parser panic: %v", file.Name, r)
			pages = 0
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(file.Data), file.Size())
	if err != nil {
		return 0
	}
	return reader.NumPage()
}
