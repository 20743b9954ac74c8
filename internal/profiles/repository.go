// Package profiles persists avatar profiles and announces every write on the
// change feed so other open views converge on the latest values.
package profiles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"avatarstudio/api/internal/failure"
	"avatarstudio/api/internal/feed"
	"avatarstudio/api/internal/store"
)

// Store is the profile half of store.PostgresStore.
type Store interface {
	CreateProfile(ctx context.Context, profile store.Profile) (store.Profile, error)
	GetProfile(ctx context.Context, id string) (store.Profile, error)
	UpdateProfile(ctx context.Context, id string, patch store.ProfilePatch) (store.Profile, error)
	ListProfilesByOwner(ctx context.Context, ownerID string) ([]store.Profile, error)
}

// Indexer keeps the search index in step with writes.
type Indexer interface {
	IndexProfile(ctx context.Context, profile store.Profile) error
}

type Repository struct {
	store   Store
	hub     *feed.Hub
	indexer Indexer
}

// NewRepository wires the repository. indexer may be nil.
func NewRepository(s Store, hub *feed.Hub, indexer Indexer) *Repository {
	return &Repository{store: s, hub: hub, indexer: indexer}
}

// Create inserts profile and returns its new id.
func (r *Repository) Create(ctx context.Context, profile store.Profile) (string, error) {
	if profile.OwnerID == "" {
		return "", failure.Validation("profiles.create", "owner is required", "ownerId")
	}
	created, err := r.store.CreateProfile(ctx, profile)
	if err != nil {
		return "", failure.Persistence("profiles.create", err)
	}
	patch := store.PatchFromProfile(created)
	r.afterWrite(ctx, created, &patch)
	return created.ID, nil
}

// Update writes only the fields set on patch. An empty patch is a no-op.
func (r *Repository) Update(ctx context.Context, id string, patch store.ProfilePatch) (store.Profile, error) {
	if patch.IsEmpty() {
		return r.Get(ctx, id)
	}
	updated, err := r.store.UpdateProfile(ctx, id, patch)
	if err != nil {
		return store.Profile{}, mapStoreError("profiles.update", id, err)
	}
	r.afterWrite(ctx, updated, &patch)
	return updated, nil
}

func (r *Repository) Get(ctx context.Context, id string) (store.Profile, error) {
	profile, err := r.store.GetProfile(ctx, id)
	if err != nil {
		return store.Profile{}, mapStoreError("profiles.get", id, err)
	}
	return profile, nil
}

func (r *Repository) ListByOwner(ctx context.Context, ownerID string) ([]store.Profile, error) {
	profiles, err := r.store.ListProfilesByOwner(ctx, ownerID)
	if err != nil {
		return nil, failure.Persistence("profiles.list", err)
	}
	return profiles, nil
}

// SubscribeToChanges registers fn for field and document changes of id. The
// caller owns the returned handle and must release it.
func (r *Repository) SubscribeToChanges(id string, fn func(feed.Change)) *feed.Subscription {
	return r.hub.Subscribe(id, fn)
}

func (r *Repository) afterWrite(ctx context.Context, profile store.Profile, patch *store.ProfilePatch) {
	if r.hub != nil {
		change := feed.Change{
			ProfileID: profile.ID,
			Origin:    feed.OriginFrom(ctx),
			Kind:      feed.KindProfile,
			Fields:    patch,
		}
		if err := r.hub.Publish(ctx, change); err != nil {
			log.Printf("profiles: publish change for %s: %v", profile.ID, err)
		}
	}
	if r.indexer != nil {
		if err := r.indexer.IndexProfile(ctx, profile); err != nil {
			log.Printf("profiles: index %s: %v", profile.ID, err)
		}
	}
}

func mapStoreError(op, id string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return failure.NotFound(op, fmt.Sprintf("profile %s not found", id))
	}
	return failure.Persistence(op, err)
}
