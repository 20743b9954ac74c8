package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"avatarstudio/api/internal/store"
)

type draftStore interface {
	Save(context.Context, string, Draft) error
	Load(context.Context, string) (Draft, error)
	Clear(context.Context, string) error
}

func setupTestRedis(t *testing.T) (*RedisDraftStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	drafts, err := NewRedisDraftStore("redis://"+s.Addr(), time.Hour)
	if err != nil {
		t.Fatalf("failed to create redis draft store: %v", err)
	}
	t.Cleanup(func() { _ = drafts.Close() })
	return drafts, s
}

func sampleDraft() Draft {
	return Draft{
		OwnerID: "user-1",
		Mode:    "create",
		Step:    2,
		Profile: store.Profile{
			Name:            "Test",
			Age:             30,
			Gender:          "male",
			PrimaryLanguage: "English",
			PersonaTags:     []string{"a", "b", "c", "d", "e"},
		},
	}
}

func TestDraftStores(t *testing.T) {
	redisStore, _ := setupTestRedis(t)
	stores := map[string]draftStore{
		"redis":  redisStore,
		"memory": NewMemoryDraftStore(),
	}

	for name, drafts := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, err := drafts.Load(ctx, "wz_1"); !errors.Is(err, ErrDraftNotFound) {
				t.Fatalf("expected ErrDraftNotFound, got %v", err)
			}

			if err := drafts.Save(ctx, "wz_1", sampleDraft()); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			got, err := drafts.Load(ctx, "wz_1")
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if got.Step != 2 || got.Profile.Name != "Test" || len(got.Profile.PersonaTags) != 5 {
				t.Errorf("unexpected draft %+v", got)
			}
			if got.SavedAt.IsZero() {
				t.Error("expected SavedAt to be stamped")
			}

			if err := drafts.Clear(ctx, "wz_1"); err != nil {
				t.Fatalf("Clear failed: %v", err)
			}
			if _, err := drafts.Load(ctx, "wz_1"); !errors.Is(err, ErrDraftNotFound) {
				t.Fatalf("expected draft to be cleared, got %v", err)
			}
		})
	}
}

func TestRedisDraftExpires(t *testing.T) {
	drafts, s := setupTestRedis(t)
	ctx := context.Background()

	if err := drafts.Save(ctx, "av_1", sampleDraft()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	s.FastForward(2 * time.Hour)

	if _, err := drafts.Load(ctx, "av_1"); !errors.Is(err, ErrDraftNotFound) {
		t.Fatalf("expected expired draft, got %v", err)
	}
}

func TestNewRedisDraftStoreRejectsBadURL(t *testing.T) {
	if _, err := NewRedisDraftStore("not-a-url", time.Hour); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestMemoryDraftStoreCopiesProfile(t *testing.T) {
	drafts := NewMemoryDraftStore()
	draft := sampleDraft()
	if err := drafts.Save(context.Background(), "k", draft); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	draft.Profile.PersonaTags[0] = "mutated"

	got, _ := drafts.Load(context.Background(), "k")
	if got.Profile.PersonaTags[0] != "a" {
		t.Fatal("stored draft must not alias caller slices")
	}
}
