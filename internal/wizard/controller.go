// Package wizard drives one authoring session of an avatar profile through
// its fixed sequence of steps.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"avatarstudio/api/internal/attachment"
	"avatarstudio/api/internal/avatar"
	"avatarstudio/api/internal/failure"
	"avatarstudio/api/internal/feed"
	"avatarstudio/api/internal/knowledge"
	"avatarstudio/api/internal/session"
	"avatarstudio/api/internal/store"
)

type Mode string

const (
	ModeCreate Mode = "create"
	ModeEdit   Mode = "edit"
)

// Profiles is the repository the wizard persists through.
type Profiles interface {
	Create(ctx context.Context, profile store.Profile) (string, error)
	Update(ctx context.Context, id string, patch store.ProfilePatch) (store.Profile, error)
	Get(ctx context.Context, id string) (store.Profile, error)
	SubscribeToChanges(id string, fn func(feed.Change)) *feed.Subscription
}

// DraftCache holds the unsaved working copy of a session, keyed by DraftKey.
type DraftCache interface {
	Save(ctx context.Context, key string, draft session.Draft) error
	Load(ctx context.Context, key string) (session.Draft, error)
	Clear(ctx context.Context, key string) error
}

// DraftKey is the cache key of a session: the profile id once there is one,
// otherwise the owner's pending new profile. Parallel create sessions of one
// owner share that key; the latest cached draft is the one a new session
// resumes.
func DraftKey(ownerID, profileID string) string {
	if profileID != "" {
		return "profile:" + profileID
	}
	return "new:" + ownerID
}

type Config struct {
	SessionID string
	OwnerID   string
	Profiles  Profiles
	Ledger    *knowledge.Ledger
	// Drafts is optional; without it an interrupted session cannot resume.
	Drafts DraftCache
}

// StepData is the working copy of the profile plus its knowledge files.
type StepData struct {
	store.Profile
	KnowledgeFiles []knowledge.Document `json:"knowledgeFiles"`
}

// State is a point-in-time view of the session for rendering.
type State struct {
	SessionID   string   `json:"sessionId"`
	ProfileID   string   `json:"profileId,omitempty"`
	Mode        Mode     `json:"mode"`
	StepIndex   int      `json:"currentStepIndex"`
	StepName    string   `json:"stepName"`
	StepCount   int      `json:"stepCount"`
	Progress    int      `json:"progress"`
	// Dirty reports unsaved field edits only; SaveDraft clears it.
	Dirty       bool     `json:"isDirty"`
	DirtyFields []string `json:"dirtyFields,omitempty"`
	// PendingDocuments reports draft documents that Finish has yet to
	// promote. They survive SaveDraft.
	PendingDocuments bool `json:"pendingDocuments,omitempty"`
	// Conflicts lists fields another session changed while this one had
	// unsaved edits to them. Saving overwrites the remote values.
	Conflicts []string `json:"conflicts,omitempty"`
	Restored  bool     `json:"restored,omitempty"`
	Closed    bool     `json:"closed,omitempty"`
	Data      StepData `json:"stepData"`
}

type ExitDecision struct {
	Exited            bool     `json:"exited"`
	NeedsConfirmation bool     `json:"needsConfirmation"`
	DirtyFields       []string `json:"dirtyFields,omitempty"`
	PendingDocuments  bool     `json:"pendingDocuments,omitempty"`
}

type Controller struct {
	id       string
	ownerID  string
	mode     Mode
	profiles Profiles
	ledger   *knowledge.Ledger
	drafts   DraftCache

	mu        sync.Mutex
	step      int
	working   store.Profile
	snapshot  store.Profile
	conflicts []string
	restored  bool
	// resumedFrom is the session whose cached draft this one restored.
	resumedFrom string
	sub         *feed.Subscription

	// written under mu, read without it by the session registry
	closed     atomic.Bool
	lastActive atomic.Int64
}

func newController(cfg Config, mode Mode) (*Controller, error) {
	if cfg.SessionID == "" {
		return nil, errors.New("wizard: session id is required")
	}
	if cfg.OwnerID == "" {
		return nil, failure.Validation("wizard.start", "owner is required", "ownerId")
	}
	if cfg.Profiles == nil || cfg.Ledger == nil {
		return nil, errors.New("wizard: profiles and ledger are required")
	}
	c := &Controller{
		id:       cfg.SessionID,
		ownerID:  cfg.OwnerID,
		mode:     mode,
		profiles: cfg.Profiles,
		ledger:   cfg.Ledger,
		drafts:   cfg.Drafts,
	}
	c.lastActive.Store(time.Now().UnixNano())
	return c, nil
}

// New starts a session that creates a new profile. An unsaved draft of the
// owner's previous create session is restored when the cache has one.
func New(ctx context.Context, cfg Config) (*Controller, error) {
	c, err := newController(cfg, ModeCreate)
	if err != nil {
		return nil, err
	}
	c.working = emptyProfile(cfg.OwnerID)
	c.snapshot = c.working.Clone()
	c.restoreDraft(ctx)
	return c, nil
}

// Open starts a session that edits the existing profile profileID.
func Open(ctx context.Context, cfg Config, profileID string) (*Controller, error) {
	c, err := newController(cfg, ModeEdit)
	if err != nil {
		return nil, err
	}
	profile, err := c.profiles.Get(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if profile.OwnerID != cfg.OwnerID {
		return nil, failure.NotFound("wizard.open", fmt.Sprintf("profile %s not found", profileID))
	}
	c.ledger.AttachProfile(profile.ID)
	if err := c.ledger.Refresh(ctx); err != nil {
		return nil, err
	}
	c.working = profile.Clone()
	c.snapshot = profile.Clone()
	c.restoreDraft(ctx)
	c.sub = c.profiles.SubscribeToChanges(profile.ID, c.handleChange)
	return c, nil
}

func emptyProfile(ownerID string) store.Profile {
	return store.Profile{
		OwnerID:            ownerID,
		SecondaryLanguages: []string{},
		Images:             []string{},
		PersonaTags:        []string{},
	}
}

func (c *Controller) ID() string {
	return c.id
}

func (c *Controller) OwnerID() string {
	return c.ownerID
}

// LastActive reports when the session was last touched. It does not wait for
// an operation in progress.
func (c *Controller) LastActive() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

// State returns the current view of the session.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	dirty := c.dirtyFieldsLocked()
	return State{
		SessionID:        c.id,
		ProfileID:        c.working.ID,
		Mode:             c.mode,
		StepIndex:        c.step,
		StepName:         Step(c.step).String(),
		StepCount:        StepCount(),
		Progress:         Progress(c.step, StepCount()),
		Dirty:            len(dirty) > 0,
		DirtyFields:      dirty,
		PendingDocuments: len(c.ledger.Drafts()) > 0,
		Conflicts:        append([]string(nil), c.conflicts...),
		Restored:         c.restored,
		Closed:           c.closed.Load(),
		Data: StepData{
			Profile:        c.working.Clone(),
			KnowledgeFiles: c.ledger.Documents(),
		},
	}
}

// Progress returns the completion percentage of the current step.
func (c *Controller) Progress() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Progress(c.step, StepCount())
}

// GoNext advances one step when the current step is complete. On the last
// step it only validates.
func (c *Controller) GoNext(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usableLocked("wizard.next"); err != nil {
		return err
	}
	if err := c.validateLocked("wizard.next", c.step); err != nil {
		return err
	}
	if c.step < StepCount()-1 {
		c.step++
	}
	c.cacheLocked(ctx)
	return nil
}

// GoBack moves one step back. Going back never validates.
func (c *Controller) GoBack(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usableLocked("wizard.back"); err != nil {
		return err
	}
	if c.step > 0 {
		c.step--
	}
	c.cacheLocked(ctx)
	return nil
}

// SaveDraft persists the working copy after validating the current step and
// returns the profile id. Only fields changed since the last save are
// written. On failure the working copy and dirty state are left as they were.
func (c *Controller) SaveDraft(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usableLocked("wizard.save"); err != nil {
		return "", err
	}
	if err := c.validateLocked("wizard.save", c.step); err != nil {
		return "", err
	}
	id, err := c.persistLocked(ctx)
	if err != nil {
		return "", err
	}
	c.clearCacheLocked(ctx)
	return id, nil
}

// Finish validates every step, persists the profile and, for a new profile,
// promotes the session's draft documents. It is only available on the last
// step. A failed promotion can be retried; documents already promoted are
// not uploaded again.
func (c *Controller) Finish(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usableLocked("wizard.finish"); err != nil {
		return "", err
	}
	if c.step != StepCount()-1 {
		return "", failure.Validation("wizard.finish", fmt.Sprintf("finish is only available on the %s step", Step(StepCount()-1)))
	}
	var missing []string
	for i := range steps {
		missing = append(missing, steps[i].missing(c.working)...)
	}
	if len(missing) > 0 {
		return "", failure.Validation("wizard.finish", "profile is incomplete", missing...)
	}

	id, err := c.persistLocked(ctx)
	if err != nil {
		return "", err
	}
	if c.mode == ModeCreate {
		if err := c.ledger.Promote(c.origin(ctx), id); err != nil {
			return id, err
		}
	}
	c.clearCacheLocked(ctx)
	c.closeLocked()
	log.Printf("wizard: session %s finished profile %s (%s)", c.id, id, c.mode)
	return id, nil
}

// RequestExit leaves the session. With unsaved work and no confirmation it
// reports that confirmation is needed and stays open. Confirmed exits drop
// the unsaved work, including the cached draft.
func (c *Controller) RequestExit(ctx context.Context, confirmed bool) ExitDecision {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return ExitDecision{Exited: true}
	}
	dirty := c.dirtyFieldsLocked()
	hasDrafts := len(c.ledger.Drafts()) > 0
	if (len(dirty) > 0 || hasDrafts) && !confirmed {
		return ExitDecision{NeedsConfirmation: true, DirtyFields: dirty, PendingDocuments: hasDrafts}
	}
	c.clearCacheLocked(ctx)
	c.ledger.Discard()
	c.closeLocked()
	return ExitDecision{Exited: true}
}

// Close releases the session's change subscription without touching the
// cached draft, so the work can be resumed later.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Controller) Closed() bool {
	return c.closed.Load()
}

func (c *Controller) closeLocked() {
	if c.closed.Load() {
		return
	}
	c.closed.Store(true)
	c.sub.Unsubscribe()
	c.sub = nil
}

func (c *Controller) persistLocked(ctx context.Context) (string, error) {
	ctx = c.origin(ctx)
	if c.working.ID == "" {
		profile := c.working.Clone()
		profile.OwnerID = c.ownerID
		id, err := c.profiles.Create(ctx, profile)
		if err != nil {
			return "", err
		}
		// the cached draft was keyed by owner until now
		c.clearCacheLocked(ctx)
		c.working.ID = id
		c.snapshot = c.working.Clone()
		c.conflicts = nil
		c.ledger.AttachProfile(id)
		c.sub = c.profiles.SubscribeToChanges(id, c.handleChange)
		return id, nil
	}

	dirty := c.dirtyFieldsLocked()
	if len(dirty) > 0 {
		patch := store.PatchFromProfile(c.working).Only(dirty...)
		if _, err := c.profiles.Update(ctx, c.working.ID, patch); err != nil {
			return "", err
		}
		patch.ApplyTo(&c.snapshot)
	}
	c.conflicts = nil
	return c.working.ID, nil
}

func (c *Controller) validateLocked(op string, step int) error {
	missing := steps[step].missing(c.working)
	if len(missing) == 0 {
		return nil
	}
	return failure.Validation(op, fmt.Sprintf("%s step is incomplete", Step(step)), missing...)
}

func (c *Controller) usableLocked(op string) error {
	if c.closed.Load() {
		return failure.NotAvailable(op, fmt.Sprintf("wizard session %s is closed", c.id))
	}
	c.lastActive.Store(time.Now().UnixNano())
	return nil
}

func (c *Controller) dirtyFieldsLocked() []string {
	return diffFields(c.snapshot, c.working)
}

func (c *Controller) origin(ctx context.Context) context.Context {
	return feed.WithOrigin(ctx, c.id)
}

func (c *Controller) draftKeyLocked() string {
	return DraftKey(c.ownerID, c.working.ID)
}

func (c *Controller) restoreDraft(ctx context.Context) {
	if c.drafts == nil {
		return
	}
	draft, err := c.drafts.Load(ctx, c.draftKeyLocked())
	if err != nil {
		if !errors.Is(err, session.ErrDraftNotFound) {
			log.Printf("wizard: load draft for %s: %v", c.id, err)
		}
		return
	}
	if draft.OwnerID != c.ownerID || Mode(draft.Mode) != c.mode || draft.ProfileID != c.working.ID {
		return
	}
	restored := draft.Profile.Clone()
	restored.ID = c.working.ID
	restored.OwnerID = c.ownerID
	restored.CreatedAt = c.working.CreatedAt
	restored.UpdatedAt = c.working.UpdatedAt
	c.working = restored
	c.step = clampStep(draft.Step)
	c.restored = true
	c.resumedFrom = draft.SessionID
}

func (c *Controller) cacheLocked(ctx context.Context) {
	if c.drafts == nil {
		return
	}
	if len(c.dirtyFieldsLocked()) == 0 && c.step == 0 {
		return
	}
	draft := session.Draft{
		SessionID: c.id,
		ProfileID: c.working.ID,
		OwnerID:   c.ownerID,
		Mode:      string(c.mode),
		Step:      c.step,
		Profile:   c.working.Clone(),
	}
	if err := c.drafts.Save(ctx, c.draftKeyLocked(), draft); err != nil {
		log.Printf("wizard: cache draft for %s: %v", c.id, err)
	}
}

// clearCacheLocked drops the cached draft. The owner-wide key of an unsaved
// profile is shared by parallel create sessions, so it is only cleared when
// the cached draft was written by this session or the one it resumed.
func (c *Controller) clearCacheLocked(ctx context.Context) {
	if c.drafts == nil {
		return
	}
	key := c.draftKeyLocked()
	if c.working.ID == "" {
		draft, err := c.drafts.Load(ctx, key)
		if errors.Is(err, session.ErrDraftNotFound) {
			return
		}
		if err == nil && !c.ownsDraft(draft) {
			return
		}
	}
	if err := c.drafts.Clear(ctx, key); err != nil {
		log.Printf("wizard: clear draft for %s: %v", c.id, err)
	}
}

func (c *Controller) ownsDraft(draft session.Draft) bool {
	return draft.SessionID == "" || draft.SessionID == c.id || draft.SessionID == c.resumedFrom
}

func clampStep(step int) int {
	if step < 0 {
		return 0
	}
	if step >= StepCount() {
		return StepCount() - 1
	}
	return step
}

// Apply sets the fields present in patch on the working copy. Values are
// normalized; unsupported languages or MBTI codes, negative ages and more
// than the maximum number of persona tags are rejected without changing
// anything.
func (c *Controller) Apply(ctx context.Context, patch store.ProfilePatch) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usableLocked("wizard.apply"); err != nil {
		return err
	}
	next := c.working.Clone()
	if err := ApplyPatch(&next, patch); err != nil {
		return err
	}
	c.working = next
	c.cacheLocked(ctx)
	return nil
}

// ApplyPatch normalizes the fields of patch and applies them to profile. On
// error profile is left unchanged.
func ApplyPatch(profile *store.Profile, patch store.ProfilePatch) error {
	const op = "wizard.apply"
	if patch.Name != nil {
		trimmed := strings.TrimSpace(*patch.Name)
		patch.Name = &trimmed
	}
	if patch.Age != nil && *patch.Age < 0 {
		return failure.Validation(op, "age cannot be negative", store.FieldAge)
	}
	if patch.PrimaryLanguage != nil && *patch.PrimaryLanguage != "" {
		lang := avatar.NormalizeLanguage(*patch.PrimaryLanguage)
		if lang == "" {
			return failure.Validation(op, fmt.Sprintf("unsupported language %q", *patch.PrimaryLanguage), store.FieldPrimaryLanguage)
		}
		patch.PrimaryLanguage = &lang
	}
	if patch.SecondaryLanguages != nil {
		for _, v := range *patch.SecondaryLanguages {
			if avatar.NormalizeLanguage(v) == "" {
				return failure.Validation(op, fmt.Sprintf("unsupported language %q", v), store.FieldSecondaryLanguages)
			}
		}
	}
	if patch.MBTIType != nil && *patch.MBTIType != "" {
		code := avatar.NormalizeMBTI(*patch.MBTIType)
		if code == "" {
			return failure.Validation(op, fmt.Sprintf("unknown MBTI type %q", *patch.MBTIType), store.FieldMBTIType)
		}
		patch.MBTIType = &code
	}
	if patch.PersonaTags != nil {
		tags := avatar.PersonaTags(*patch.PersonaTags)
		if distinctTags(*patch.PersonaTags) > avatar.MaxPersonaTags {
			return failure.Validation(op, fmt.Sprintf("at most %d persona tags are allowed", avatar.MaxPersonaTags), store.FieldPersonaTags)
		}
		patch.PersonaTags = &tags
	}
	if patch.Images != nil {
		images := make([]string, 0, len(*patch.Images))
		for _, img := range *patch.Images {
			if img = strings.TrimSpace(img); img != "" && !slices.Contains(images, img) {
				images = append(images, img)
			}
		}
		patch.Images = &images
	}

	patch.ApplyTo(profile)
	if patch.PrimaryLanguage != nil || patch.SecondaryLanguages != nil {
		profile.SecondaryLanguages = avatar.SecondaryLanguages(profile.PrimaryLanguage, profile.SecondaryLanguages)
	}
	return nil
}

func distinctTags(values []string) int {
	var seen []string
	for _, v := range values {
		tag := avatar.NormalizeTag(v)
		if tag != "" && !avatar.ContainsFold(seen, tag) {
			seen = append(seen, tag)
		}
	}
	return len(seen)
}

// AddTag adds a persona tag. Adding a tag beyond the maximum is rejected;
// adding one that is already present is a no-op.
func (c *Controller) AddTag(ctx context.Context, tag string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usableLocked("wizard.tags"); err != nil {
		return err
	}
	tag = avatar.NormalizeTag(tag)
	if tag == "" {
		return failure.Validation("wizard.tags", "tag is empty", store.FieldPersonaTags)
	}
	if avatar.ContainsFold(c.working.PersonaTags, tag) {
		return nil
	}
	if len(c.working.PersonaTags) >= avatar.MaxPersonaTags {
		return failure.Validation("wizard.tags", fmt.Sprintf("at most %d persona tags are allowed", avatar.MaxPersonaTags), store.FieldPersonaTags)
	}
	c.working.PersonaTags = append(slices.Clone(c.working.PersonaTags), tag)
	c.cacheLocked(ctx)
	return nil
}

// RemoveTag removes a persona tag. Removal is allowed below the minimum;
// only moving forward is blocked by it.
func (c *Controller) RemoveTag(ctx context.Context, tag string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usableLocked("wizard.tags"); err != nil {
		return err
	}
	c.working.PersonaTags = avatar.RemoveFold(c.working.PersonaTags, avatar.NormalizeTag(tag))
	c.cacheLocked(ctx)
	return nil
}

func (c *Controller) SetPrimaryLanguage(ctx context.Context, language string) error {
	return c.Apply(ctx, store.ProfilePatch{PrimaryLanguage: &language})
}

// AddSecondaryLanguage adds language unless it is the primary language or
// already present.
func (c *Controller) AddSecondaryLanguage(ctx context.Context, language string) error {
	c.mu.Lock()
	current := append(slices.Clone(c.working.SecondaryLanguages), language)
	c.mu.Unlock()
	return c.Apply(ctx, store.ProfilePatch{SecondaryLanguages: &current})
}

func (c *Controller) RemoveSecondaryLanguage(ctx context.Context, language string) error {
	c.mu.Lock()
	remaining := avatar.RemoveFold(c.working.SecondaryLanguages, strings.TrimSpace(language))
	c.mu.Unlock()
	return c.Apply(ctx, store.ProfilePatch{SecondaryLanguages: &remaining})
}

func (c *Controller) AddImage(ctx context.Context, url string) error {
	c.mu.Lock()
	images := append(slices.Clone(c.working.Images), url)
	c.mu.Unlock()
	return c.Apply(ctx, store.ProfilePatch{Images: &images})
}

func (c *Controller) RemoveImage(ctx context.Context, url string) error {
	c.mu.Lock()
	images := slices.DeleteFunc(slices.Clone(c.working.Images), func(s string) bool { return s == url })
	c.mu.Unlock()
	return c.Apply(ctx, store.ProfilePatch{Images: &images})
}

// UploadKnowledge adds a knowledge document to the session.
func (c *Controller) UploadKnowledge(ctx context.Context, file attachment.File) (knowledge.Document, error) {
	if err := c.touch("wizard.knowledge"); err != nil {
		return knowledge.Document{}, err
	}
	return c.ledger.Upload(c.origin(ctx), file)
}

func (c *Controller) ToggleKnowledge(ctx context.Context, documentID string) (knowledge.Document, error) {
	if err := c.touch("wizard.knowledge"); err != nil {
		return knowledge.Document{}, err
	}
	return c.ledger.ToggleLink(c.origin(ctx), documentID)
}

func (c *Controller) DeleteKnowledge(ctx context.Context, documentID string) error {
	if err := c.touch("wizard.knowledge"); err != nil {
		return err
	}
	return c.ledger.Delete(c.origin(ctx), documentID)
}

func (c *Controller) DownloadKnowledge(ctx context.Context, documentID string) (knowledge.Download, error) {
	if err := c.touch("wizard.knowledge"); err != nil {
		return knowledge.Download{}, err
	}
	return c.ledger.Download(ctx, documentID)
}

func (c *Controller) touch(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usableLocked(op)
}

// diffFields lists the fields whose values differ between a and b.
func diffFields(a, b store.Profile) []string {
	var fields []string
	if a.Name != b.Name {
		fields = append(fields, store.FieldName)
	}
	if a.OriginCountry != b.OriginCountry {
		fields = append(fields, store.FieldOriginCountry)
	}
	if a.Age != b.Age {
		fields = append(fields, store.FieldAge)
	}
	if a.Gender != b.Gender {
		fields = append(fields, store.FieldGender)
	}
	if a.PrimaryLanguage != b.PrimaryLanguage {
		fields = append(fields, store.FieldPrimaryLanguage)
	}
	if !slices.Equal(a.SecondaryLanguages, b.SecondaryLanguages) {
		fields = append(fields, store.FieldSecondaryLanguages)
	}
	if !slices.Equal(a.Images, b.Images) {
		fields = append(fields, store.FieldImages)
	}
	if !slices.Equal(a.PersonaTags, b.PersonaTags) {
		fields = append(fields, store.FieldPersonaTags)
	}
	if a.MBTIType != b.MBTIType {
		fields = append(fields, store.FieldMBTIType)
	}
	if a.Backstory != b.Backstory {
		fields = append(fields, store.FieldBackstory)
	}
	if a.HiddenRules != b.HiddenRules {
		fields = append(fields, store.FieldHiddenRules)
	}
	return fields
}
