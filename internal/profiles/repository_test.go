package profiles

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"avatarstudio/api/internal/failure"
	"avatarstudio/api/internal/feed"
	"avatarstudio/api/internal/store"
)

type memoryStore struct {
	mu        sync.Mutex
	profiles  map[string]store.Profile
	seq       int
	createErr error
	updateErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{profiles: make(map[string]store.Profile)}
}

func (m *memoryStore) CreateProfile(_ context.Context, profile store.Profile) (store.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return store.Profile{}, m.createErr
	}
	m.seq++
	profile.ID = "av_" + string(rune('0'+m.seq))
	m.profiles[profile.ID] = profile.Clone()
	return profile, nil
}

func (m *memoryStore) GetProfile(_ context.Context, id string) (store.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	profile, ok := m.profiles[id]
	if !ok {
		return store.Profile{}, sql.ErrNoRows
	}
	return profile.Clone(), nil
}

func (m *memoryStore) UpdateProfile(_ context.Context, id string, patch store.ProfilePatch) (store.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return store.Profile{}, m.updateErr
	}
	profile, ok := m.profiles[id]
	if !ok {
		return store.Profile{}, sql.ErrNoRows
	}
	patch.ApplyTo(&profile)
	m.profiles[id] = profile
	return profile.Clone(), nil
}

func (m *memoryStore) ListProfilesByOwner(_ context.Context, ownerID string) ([]store.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Profile
	for _, p := range m.profiles {
		if p.OwnerID == ownerID {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

type recordingIndexer struct {
	mu      sync.Mutex
	indexed []store.Profile
	err     error
}

func (r *recordingIndexer) IndexProfile(_ context.Context, profile store.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexed = append(r.indexed, profile)
	return r.err
}

func runHub(t *testing.T) *feed.Hub {
	t.Helper()
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
	return hub
}

func strPtr(s string) *string { return &s }

func TestTwoViewsConvergeOnUpdate(t *testing.T) {
	hub := runHub(t)
	repo := NewRepository(newMemoryStore(), hub, nil)
	ctx := context.Background()

	id, err := repo.Create(ctx, store.Profile{OwnerID: "user-1", Name: "Old"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	wizardView := make(chan feed.Change, 4)
	detailView := make(chan feed.Change, 4)
	wizardSub := repo.SubscribeToChanges(id, func(c feed.Change) { wizardView <- c })
	defer wizardSub.Unsubscribe()
	detailSub := repo.SubscribeToChanges(id, func(c feed.Change) { detailView <- c })
	defer detailSub.Unsubscribe()

	if _, err := repo.Update(feed.WithOrigin(ctx, "wz_wizard"), id, store.ProfilePatch{Name: strPtr("New")}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	select {
	case change := <-detailView:
		if change.Fields == nil || change.Fields.Name == nil || *change.Fields.Name != "New" {
			t.Fatalf("expected name New, got %+v", change.Fields)
		}
		if change.Origin != "wz_wizard" {
			t.Fatalf("expected origin wz_wizard, got %q", change.Origin)
		}
		if len(change.Changed) != 1 || change.Changed[0] != store.FieldName {
			t.Fatalf("expected only name to change, got %v", change.Changed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("detail view was not notified")
	}

	select {
	case <-wizardView:
	case <-time.After(2 * time.Second):
		t.Fatal("writing view should also see the change")
	}
}

func TestUpdateLeavesOtherFieldsAlone(t *testing.T) {
	s := newMemoryStore()
	repo := NewRepository(s, feed.NewHub(nil), nil)
	ctx := context.Background()

	id, err := repo.Create(ctx, store.Profile{OwnerID: "user-1", Name: "A", Backstory: "kept"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := repo.Update(ctx, id, store.ProfilePatch{Name: strPtr("B")})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Name != "B" || got.Backstory != "kept" {
		t.Fatalf("unexpected profile %+v", got)
	}
}

func TestMissingProfileIsNotFound(t *testing.T) {
	repo := NewRepository(newMemoryStore(), feed.NewHub(nil), nil)
	ctx := context.Background()

	if _, err := repo.Get(ctx, "av_missing"); !errors.Is(err, failure.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := repo.Update(ctx, "av_missing", store.ProfilePatch{Name: strPtr("x")}); !errors.Is(err, failure.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStoreFailuresArePersistenceErrors(t *testing.T) {
	s := newMemoryStore()
	repo := NewRepository(s, feed.NewHub(nil), nil)
	ctx := context.Background()

	s.createErr = errors.New("connection refused")
	if _, err := repo.Create(ctx, store.Profile{OwnerID: "user-1"}); !errors.Is(err, failure.ErrPersistence) {
		t.Fatalf("expected persistence failure, got %v", err)
	}

	s.createErr = nil
	id, _ := repo.Create(ctx, store.Profile{OwnerID: "user-1"})
	s.updateErr = errors.New("timeout")
	if _, err := repo.Update(ctx, id, store.ProfilePatch{Name: strPtr("x")}); !errors.Is(err, failure.ErrPersistence) {
		t.Fatalf("expected persistence failure, got %v", err)
	}
}

func TestCreateRequiresOwner(t *testing.T) {
	repo := NewRepository(newMemoryStore(), feed.NewHub(nil), nil)
	if _, err := repo.Create(context.Background(), store.Profile{Name: "x"}); !errors.Is(err, failure.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestWritesAreIndexed(t *testing.T) {
	indexer := &recordingIndexer{err: errors.New("search down")}
	repo := NewRepository(newMemoryStore(), feed.NewHub(nil), indexer)
	ctx := context.Background()

	id, err := repo.Create(ctx, store.Profile{OwnerID: "user-1", Name: "A"})
	if err != nil {
		t.Fatalf("index failures must not fail the write: %v", err)
	}
	if _, err := repo.Update(ctx, id, store.ProfilePatch{Name: strPtr("B")}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(indexer.indexed) != 2 || indexer.indexed[1].Name != "B" {
		t.Fatalf("expected two index calls ending with B, got %+v", indexer.indexed)
	}
}
