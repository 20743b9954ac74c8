package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"slices"
	"sync"
	"testing"
	"time"

	"avatarstudio/api/internal/attachment"
	"avatarstudio/api/internal/config"
	"avatarstudio/api/internal/feed"
	"avatarstudio/api/internal/session"
	"avatarstudio/api/internal/store"
)

type fakeStore struct {
	mu       sync.Mutex
	profiles map[string]store.Profile
	rows     []store.KnowledgeRow
	seq      int
	pingErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{profiles: make(map[string]store.Profile)}
}

func (f *fakeStore) Ping(context.Context) error {
	return f.pingErr
}

func (f *fakeStore) CreateProfile(_ context.Context, profile store.Profile) (store.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	profile.ID = fmt.Sprintf("av_%d", f.seq)
	now := time.Now().UTC()
	profile.CreatedAt, profile.UpdatedAt = now, now
	f.profiles[profile.ID] = profile.Clone()
	return profile, nil
}

func (f *fakeStore) GetProfile(_ context.Context, id string) (store.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	profile, ok := f.profiles[id]
	if !ok {
		return store.Profile{}, sql.ErrNoRows
	}
	return profile.Clone(), nil
}

func (f *fakeStore) UpdateProfile(_ context.Context, id string, patch store.ProfilePatch) (store.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	profile, ok := f.profiles[id]
	if !ok {
		return store.Profile{}, sql.ErrNoRows
	}
	patch.ApplyTo(&profile)
	profile.UpdatedAt = time.Now().UTC()
	f.profiles[id] = profile
	return profile.Clone(), nil
}

func (f *fakeStore) ListProfilesByOwner(_ context.Context, ownerID string) ([]store.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Profile
	for _, p := range f.profiles {
		if p.OwnerID == ownerID {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

func (f *fakeStore) InsertKnowledge(_ context.Context, row store.KnowledgeRow) (store.KnowledgeRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	row.ID = fmt.Sprintf("kd_%d", f.seq)
	f.rows = append(f.rows, row)
	return row, nil
}

func (f *fakeStore) ListKnowledge(_ context.Context, profileID string) ([]store.KnowledgeRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.KnowledgeRow
	for _, row := range f.rows {
		if row.ProfileID == profileID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeStore) SetKnowledgeLinked(_ context.Context, id string, linked bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.rows {
		if f.rows[i].ID == id {
			f.rows[i].Linked = linked
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) DeleteKnowledge(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = slices.DeleteFunc(f.rows, func(r store.KnowledgeRow) bool { return r.ID == id })
	return nil
}

type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	// when set, Put signals entered and waits for release
	entered chan struct{}
	release chan struct{}
}

func (b *fakeBlobs) Put(_ context.Context, key string, body io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	b.mu.Lock()
	entered, release, putErr := b.entered, b.release, b.putErr
	b.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
		<-release
	}
	if putErr != nil {
		return putErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
	return nil
}

func (b *fakeBlobs) failPuts(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.putErr = err
}

func (b *fakeBlobs) holdPuts() (entered, release chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entered = make(chan struct{}, 1)
	b.release = make(chan struct{})
	return b.entered, b.release
}

func (b *fakeBlobs) PublicURL(key string) (string, error) {
	return "https://cdn.test/" + key, nil
}

func (b *fakeBlobs) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.objects[key]; !ok {
		return attachment.ErrObjectNotFound
	}
	delete(b.objects, key)
	return nil
}

func (b *fakeBlobs) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}

type testEnv struct {
	store   *fakeStore
	blobs   *fakeBlobs
	service *Service
	handler http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.Config{
		WizardTTL:           time.Hour,
		MaxDocumentBytes:    attachment.MB,
		MaxAvatarImageBytes: attachment.MB,
		MaxUserPictureBytes: attachment.MB,
	}
	policies := attachment.DefaultPolicies()
	for purpose, policy := range policies {
		policy.MaxBytes = attachment.MB
		policies[purpose] = policy
	}

	hub := feed.NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hub.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	fs := newFakeStore()
	blobs := &fakeBlobs{objects: map[string][]byte{}}
	svc := New(cfg, Deps{
		Store:  fs,
		Files:  attachment.NewStore(blobs, policies),
		Hub:    hub,
		Drafts: session.NewMemoryDraftStore(),
	})
	return &testEnv{
		store:   fs,
		blobs:   blobs,
		service: svc,
		handler: NewHTTPServer(svc, "*").Handler(),
	}
}

func (e *testEnv) do(t *testing.T, method, path, owner string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if owner != "" {
		req.Header.Set(ownerHeader, owner)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) upload(t *testing.T, path, owner, name, contentType string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(ownerHeader, owner)
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decodeJSON[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return out
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rr.Code, rr.Body.String())
	}
}

func samplePDF() []byte {
	return []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n")
}
