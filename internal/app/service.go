package app

import (
	"context"
	"fmt"
	"log"
	"maps"
	"net/http"
	"sort"
	"sync"
	"time"

	"avatarstudio/api/internal/attachment"
	"avatarstudio/api/internal/config"
	"avatarstudio/api/internal/failure"
	"avatarstudio/api/internal/feed"
	"avatarstudio/api/internal/knowledge"
	"avatarstudio/api/internal/profiles"
	"avatarstudio/api/internal/search"
	"avatarstudio/api/internal/store"
	"avatarstudio/api/internal/util"
	"avatarstudio/api/internal/wizard"
)

type dataStore interface {
	profiles.Store
	knowledge.MetadataStore
	Ping(context.Context) error
}

type profileSearcher interface {
	Search(q search.Query) search.Response
}

// Deps are the collaborators the service is built from. Search, Drafts and
// Checks are optional.
type Deps struct {
	Store  dataStore
	Files  *attachment.Store
	Hub    *feed.Hub
	Drafts wizard.DraftCache
	Search *search.Service
	// Checks are extra readiness probes keyed by name, e.g. "storage".
	Checks map[string]func(context.Context) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	profiles *profiles.Repository
	files    *attachment.Store
	hub      *feed.Hub
	drafts   wizard.DraftCache
	search   profileSearcher
	checks   map[string]func(context.Context) error

	wizardTTL time.Duration
	wizardMu  sync.Mutex
	wizards   map[string]*wizard.Controller
}

func New(cfg config.Config, deps Deps) *Service {
	var indexer profiles.Indexer
	var searcher profileSearcher
	if deps.Search != nil {
		indexer = deps.Search
		searcher = deps.Search
	}
	ttl := cfg.WizardTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Service{
		cfg:       cfg,
		store:     deps.Store,
		profiles:  profiles.NewRepository(deps.Store, deps.Hub, indexer),
		files:     deps.Files,
		hub:       deps.Hub,
		drafts:    deps.Drafts,
		search:    searcher,
		checks:    deps.Checks,
		wizardTTL: ttl,
		wizards:   make(map[string]*wizard.Controller),
	}
}

// Bootstrap brings the search index up to date with the database.
func (s *Service) Bootstrap(ctx context.Context) error {
	if idx, ok := s.search.(*search.Service); ok && idx != nil {
		idx.ReindexAllFromPG(ctx)
	}
	return nil
}

// Ping checks the health of service dependencies (database, etc.)
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ReadyChecks runs every readiness probe and reports each result by name.
func (s *Service) ReadyChecks(ctx context.Context) map[string]error {
	results := map[string]error{"database": s.store.Ping(ctx)}
	for name, check := range s.checks {
		results[name] = check(ctx)
	}
	return results
}

// StartWizard opens a create-mode authoring session for ownerID.
func (s *Service) StartWizard(ctx context.Context, ownerID string) (*wizard.Controller, error) {
	id := util.NewID("wz")
	c, err := wizard.New(ctx, s.wizardConfig(id, ownerID, ""))
	if err != nil {
		return nil, err
	}
	s.registerWizard(c)
	log.Printf("app: wizard %s started for %s", id, ownerID)
	return c, nil
}

// EditWizard opens an edit-mode authoring session on profileID.
func (s *Service) EditWizard(ctx context.Context, ownerID, profileID string) (*wizard.Controller, error) {
	id := util.NewID("wz")
	c, err := wizard.Open(ctx, s.wizardConfig(id, ownerID, profileID), profileID)
	if err != nil {
		return nil, err
	}
	s.registerWizard(c)
	log.Printf("app: wizard %s opened on %s for %s", id, profileID, ownerID)
	return c, nil
}

func (s *Service) wizardConfig(sessionID, ownerID, profileID string) wizard.Config {
	return wizard.Config{
		SessionID: sessionID,
		OwnerID:   ownerID,
		Profiles:  s.profiles,
		Ledger:    knowledge.NewLedger(s.files, s.store, s.hub, ownerID, profileID),
		Drafts:    s.drafts,
	}
}

func (s *Service) registerWizard(c *wizard.Controller) {
	s.PruneWizards(time.Now())
	s.wizardMu.Lock()
	defer s.wizardMu.Unlock()
	s.wizards[c.ID()] = c
}

// Wizard returns the live session sessionID of ownerID. The registry lock is
// never held while a controller is consulted, so a session busy with a slow
// save does not hold up lookups of other sessions.
func (s *Service) Wizard(ownerID, sessionID string) (*wizard.Controller, error) {
	s.wizardMu.Lock()
	c, ok := s.wizards[sessionID]
	s.wizardMu.Unlock()
	if !ok || c.OwnerID() != ownerID {
		return nil, failure.NotFound("app.wizard", fmt.Sprintf("wizard session %s not found", sessionID))
	}
	if s.expired(c, time.Now()) {
		s.forgetWizard(sessionID, c)
		return nil, failure.NotFound("app.wizard", fmt.Sprintf("wizard session %s not found", sessionID))
	}
	return c, nil
}

// ReleaseWizard forgets a session that has finished or exited.
func (s *Service) ReleaseWizard(sessionID string) {
	s.wizardMu.Lock()
	c, ok := s.wizards[sessionID]
	s.wizardMu.Unlock()
	if ok {
		s.forgetWizard(sessionID, c)
	}
}

// PruneWizards closes sessions idle for longer than the wizard TTL. Their
// cached drafts stay, so the owner can resume them later.
func (s *Service) PruneWizards(now time.Time) int {
	s.wizardMu.Lock()
	live := maps.Clone(s.wizards)
	s.wizardMu.Unlock()

	pruned := 0
	for id, c := range live {
		if s.expired(c, now) && s.forgetWizard(id, c) {
			pruned++
		}
	}
	return pruned
}

func (s *Service) expired(c *wizard.Controller, now time.Time) bool {
	return c.Closed() || now.Sub(c.LastActive()) > s.wizardTTL
}

// forgetWizard removes c if it is still registered under id and closes it
// outside the registry lock.
func (s *Service) forgetWizard(id string, c *wizard.Controller) bool {
	s.wizardMu.Lock()
	if s.wizards[id] != c {
		s.wizardMu.Unlock()
		return false
	}
	delete(s.wizards, id)
	s.wizardMu.Unlock()
	c.Close()
	return true
}

// RunWizardReaper prunes idle sessions until ctx is done.
func (s *Service) RunWizardReaper(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.PruneWizards(now); n > 0 {
				log.Printf("app: closed %d idle wizard sessions", n)
			}
		}
	}
}

// WizardCount returns the number of live sessions.
func (s *Service) WizardCount() int {
	s.wizardMu.Lock()
	defer s.wizardMu.Unlock()
	return len(s.wizards)
}

// WizardImage stores an avatar image for a session and adds its URL to the
// working copy. Images of a profile that does not exist yet are scoped to
// the session.
func (s *Service) WizardImage(ctx context.Context, c *wizard.Controller, file attachment.File) (wizard.State, error) {
	scope := c.State().ProfileID
	if scope == "" {
		scope = c.ID()
	}
	stored, err := s.files.Upload(ctx, attachment.PurposeAvatarImage, file, c.OwnerID(), scope)
	if err != nil {
		return wizard.State{}, err
	}
	if err := c.AddImage(ctx, stored.URL); err != nil {
		return wizard.State{}, err
	}
	return c.State(), nil
}

// GetProfile returns a profile of ownerID. Profiles of other owners are
// reported as missing.
func (s *Service) GetProfile(ctx context.Context, ownerID, profileID string) (store.Profile, error) {
	profile, err := s.profiles.Get(ctx, profileID)
	if err != nil {
		return store.Profile{}, err
	}
	if profile.OwnerID != ownerID {
		return store.Profile{}, failure.NotFound("app.profile", fmt.Sprintf("profile %s not found", profileID))
	}
	return profile, nil
}

func (s *Service) ListProfiles(ctx context.Context, ownerID string) ([]store.Profile, error) {
	list, err := s.profiles.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].UpdatedAt.After(list[j].UpdatedAt)
	})
	return list, nil
}

// UpdateProfile writes a partial update from a detail view. The patch is
// normalized the same way the wizard normalizes its edits.
func (s *Service) UpdateProfile(ctx context.Context, ownerID, profileID string, patch store.ProfilePatch) (store.Profile, error) {
	current, err := s.GetProfile(ctx, ownerID, profileID)
	if err != nil {
		return store.Profile{}, err
	}
	next := current.Clone()
	if err := wizard.ApplyPatch(&next, patch); err != nil {
		return store.Profile{}, err
	}
	fields := patch.Fields()
	if patch.PrimaryLanguage != nil {
		fields = append(fields, store.FieldSecondaryLanguages)
	}
	return s.profiles.Update(ctx, profileID, store.PatchFromProfile(next).Only(fields...))
}

// ProfileLedger loads the knowledge ledger of a persisted profile.
func (s *Service) ProfileLedger(ctx context.Context, ownerID, profileID string) (*knowledge.Ledger, error) {
	if _, err := s.GetProfile(ctx, ownerID, profileID); err != nil {
		return nil, err
	}
	ledger := knowledge.NewLedger(s.files, s.store, s.hub, ownerID, profileID)
	if err := ledger.Refresh(ctx); err != nil {
		return nil, err
	}
	return ledger, nil
}

// AddProfileImage uploads an avatar image and appends it to the profile.
func (s *Service) AddProfileImage(ctx context.Context, ownerID, profileID string, file attachment.File) (store.Profile, error) {
	current, err := s.GetProfile(ctx, ownerID, profileID)
	if err != nil {
		return store.Profile{}, err
	}
	stored, err := s.files.Upload(ctx, attachment.PurposeAvatarImage, file, ownerID, profileID)
	if err != nil {
		return store.Profile{}, err
	}
	images := append(current.Images, stored.URL)
	updated, err := s.profiles.Update(ctx, profileID, store.ProfilePatch{Images: &images})
	if err != nil {
		if removeErr := s.files.Remove(ctx, stored.Ref); removeErr != nil {
			log.Printf("app: orphaned image %s: %v", stored.Ref, removeErr)
		}
		return store.Profile{}, err
	}
	return updated, nil
}

// UploadUserPicture stores the caller's own profile picture.
func (s *Service) UploadUserPicture(ctx context.Context, ownerID string, file attachment.File) (attachment.Stored, error) {
	return s.files.Upload(ctx, attachment.PurposeUserPicture, file, ownerID, "me")
}

// WatchProfile subscribes fn to changes of a profile of ownerID.
func (s *Service) WatchProfile(ctx context.Context, ownerID, profileID string, fn func(feed.Change)) (*feed.Subscription, error) {
	if _, err := s.GetProfile(ctx, ownerID, profileID); err != nil {
		return nil, err
	}
	return s.profiles.SubscribeToChanges(profileID, fn), nil
}

func (s *Service) SearchProfiles(ownerID, text string, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{}, domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search is not configured", nil)
	}
	return s.search.Search(search.Query{Text: text, OwnerID: ownerID, Limit: limit, Offset: offset}), nil
}

// uploadLimit is the configured size cap for a purpose, used to bound the
// request body before the multipart form is parsed.
func (s *Service) uploadLimit(purpose attachment.Purpose) int64 {
	var limit int64
	switch purpose {
	case attachment.PurposeKnowledge:
		limit = s.cfg.MaxDocumentBytes
	case attachment.PurposeAvatarImage:
		limit = s.cfg.MaxAvatarImageBytes
	case attachment.PurposeUserPicture:
		limit = s.cfg.MaxUserPictureBytes
	}
	if limit <= 0 {
		limit = attachment.DefaultPolicies()[purpose].MaxBytes
	}
	return limit
}
