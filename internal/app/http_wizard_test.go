package app

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	"avatarstudio/api/internal/attachment"
	"avatarstudio/api/internal/wizard"
)

func startWizard(t *testing.T, env *testEnv, owner string) wizard.State {
	t.Helper()
	rr := env.do(t, http.MethodPost, "/api/wizard", owner, nil)
	expectStatus(t, rr, http.StatusCreated)
	return decodeJSON[wizard.State](t, rr)
}

func fillDetailStep(t *testing.T, env *testEnv, path, owner string) {
	t.Helper()
	rr := env.do(t, http.MethodPatch, path, owner, map[string]any{
		"name":            "Mira",
		"age":             27,
		"gender":          "female",
		"primaryLanguage": "korean",
	})
	expectStatus(t, rr, http.StatusOK)
}

func TestOwnerHeaderRequired(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/api/wizard", "", nil)

	expectStatus(t, rr, http.StatusUnauthorized)
	if code := decodeJSON[map[string]any](t, rr)["code"]; code != "UNAUTHORIZED" {
		t.Errorf("expected UNAUTHORIZED, got %v", code)
	}
}

func TestWizardCreateFlowOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	state := startWizard(t, env, "user-1")
	if state.Mode != wizard.ModeCreate || state.StepIndex != 0 || state.Progress != 0 {
		t.Fatalf("unexpected initial state: %+v", state)
	}
	path := "/api/wizard/" + state.SessionID

	fillDetailStep(t, env, path, "user-1")
	expectStatus(t, env.do(t, http.MethodPost, path+"/next", "user-1", nil), http.StatusOK)

	for i := 0; i < 5; i++ {
		rr := env.do(t, http.MethodPost, path+"/tags", "user-1", map[string]string{"tag": fmt.Sprintf("calm%d", i)})
		expectStatus(t, rr, http.StatusOK)
	}
	expectStatus(t, env.do(t, http.MethodPost, path+"/next", "user-1", nil), http.StatusOK)

	rr := env.do(t, http.MethodPatch, path, "user-1", map[string]any{"backstory": "Grew up by the sea."})
	expectStatus(t, rr, http.StatusOK)
	expectStatus(t, env.do(t, http.MethodPost, path+"/next", "user-1", nil), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodPost, path+"/next", "user-1", nil), http.StatusOK)

	rr = env.upload(t, path+"/knowledge", "user-1", "guide.pdf", "application/pdf", samplePDF())
	expectStatus(t, rr, http.StatusCreated)
	if env.blobs.count() != 0 {
		t.Fatalf("draft documents must not be stored before finish, found %d blobs", env.blobs.count())
	}
	doc := decodeJSON[map[string]map[string]any](t, rr)["document"]
	rr = env.do(t, http.MethodPost, fmt.Sprintf("%s/knowledge/%s/toggle", path, doc["id"]), "user-1", nil)
	expectStatus(t, rr, http.StatusOK)

	rr = env.do(t, http.MethodGet, path, "user-1", nil)
	expectStatus(t, rr, http.StatusOK)
	state = decodeJSON[wizard.State](t, rr)
	if state.StepName != "knowledge" || state.Progress != 100 {
		t.Fatalf("expected last step at 100%%, got %s at %d", state.StepName, state.Progress)
	}

	rr = env.do(t, http.MethodPost, path+"/finish", "user-1", nil)
	expectStatus(t, rr, http.StatusOK)
	profileID, _ := decodeJSON[map[string]any](t, rr)["profileId"].(string)
	if profileID == "" {
		t.Fatal("expected a profile id")
	}
	if env.blobs.count() != 1 {
		t.Errorf("expected the promoted document in storage, found %d blobs", env.blobs.count())
	}
	if env.service.WizardCount() != 0 {
		t.Errorf("expected finished session to be released")
	}

	rr = env.do(t, http.MethodGet, "/api/profiles/"+profileID, "user-1", nil)
	expectStatus(t, rr, http.StatusOK)
	profile := decodeJSON[map[string]any](t, rr)
	if profile["name"] != "Mira" || profile["primaryLanguage"] != "Korean" {
		t.Errorf("unexpected profile: %v", profile)
	}

	rr = env.do(t, http.MethodGet, "/api/profiles/"+profileID+"/knowledge", "user-1", nil)
	expectStatus(t, rr, http.StatusOK)
	docs := decodeJSON[map[string][]map[string]any](t, rr)["documents"]
	if len(docs) != 1 || docs[0]["linked"] != true {
		t.Errorf("expected one linked document, got %v", docs)
	}
}

func TestWizardNextReportsMissingFields(t *testing.T) {
	env := newTestEnv(t)
	state := startWizard(t, env, "user-1")
	path := "/api/wizard/" + state.SessionID

	env.do(t, http.MethodPatch, path, "user-1", map[string]any{"name": "Mira"})
	rr := env.do(t, http.MethodPost, path+"/next", "user-1", nil)

	expectStatus(t, rr, http.StatusUnprocessableEntity)
	body := decodeJSON[map[string]any](t, rr)
	if body["code"] != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %v", body["code"])
	}
	details := body["details"].(map[string]any)
	fields := details["fields"].([]any)
	for _, want := range []string{"age", "gender", "primaryLanguage"} {
		if !slices.Contains(fields, any(want)) {
			t.Errorf("expected %s in missing fields %v", want, fields)
		}
	}

	rr = env.do(t, http.MethodGet, path, "user-1", nil)
	if got := decodeJSON[wizard.State](t, rr).StepIndex; got != 0 {
		t.Errorf("expected to stay on step 0, got %d", got)
	}
}

func TestWizardPatchRejectsInvalidInput(t *testing.T) {
	env := newTestEnv(t)
	path := "/api/wizard/" + startWizard(t, env, "user-1").SessionID

	rr := env.do(t, http.MethodPatch, path, "user-1", map[string]any{"age": -3})
	expectStatus(t, rr, http.StatusUnprocessableEntity)

	rr = env.do(t, http.MethodPatch, path, "user-1", map[string]any{"primaryLanguage": "Elvish"})
	expectStatus(t, rr, http.StatusUnprocessableEntity)

	rr = env.do(t, http.MethodPost, path+"/tags", "user-1", map[string]string{"tag": ""})
	expectStatus(t, rr, http.StatusUnprocessableEntity)

	rr = env.do(t, http.MethodPatch, path, "user-1", "not an object")
	expectStatus(t, rr, http.StatusBadRequest)
}

func TestWizardTagLimit(t *testing.T) {
	env := newTestEnv(t)
	path := "/api/wizard/" + startWizard(t, env, "user-1").SessionID

	for i := 0; i < 25; i++ {
		rr := env.do(t, http.MethodPost, path+"/tags", "user-1", map[string]string{"tag": fmt.Sprintf("t%d", i)})
		expectStatus(t, rr, http.StatusOK)
	}
	rr := env.do(t, http.MethodPost, path+"/tags", "user-1", map[string]string{"tag": "one-too-many"})
	expectStatus(t, rr, http.StatusUnprocessableEntity)

	rr = env.do(t, http.MethodDelete, path+"/tags/t0", "user-1", nil)
	expectStatus(t, rr, http.StatusOK)
	if got := len(decodeJSON[wizard.State](t, rr).Data.PersonaTags); got != 24 {
		t.Errorf("expected 24 tags, got %d", got)
	}
}

func TestOversizedUploadRejected(t *testing.T) {
	env := newTestEnv(t)
	path := "/api/wizard/" + startWizard(t, env, "user-1").SessionID

	// Within the body allowance, rejected by the upload policy.
	rr := env.upload(t, path+"/knowledge", "user-1", "big.pdf", "application/pdf",
		append(samplePDF(), make([]byte, attachment.MB)...))
	expectStatus(t, rr, http.StatusRequestEntityTooLarge)

	// Beyond the body allowance, cut off while reading.
	rr = env.upload(t, path+"/knowledge", "user-1", "huge.pdf", "application/pdf",
		append(samplePDF(), make([]byte, 3*attachment.MB)...))
	expectStatus(t, rr, http.StatusRequestEntityTooLarge)
	if code := decodeJSON[map[string]any](t, rr)["code"]; code != "UPLOAD_REJECTED" {
		t.Errorf("expected UPLOAD_REJECTED, got %v", code)
	}

	rr = env.do(t, http.MethodGet, path, "user-1", nil)
	if files := decodeJSON[wizard.State](t, rr).Data.KnowledgeFiles; len(files) != 0 {
		t.Errorf("rejected uploads must not be listed, got %v", files)
	}
}

func TestWrongTypeUploadRejected(t *testing.T) {
	env := newTestEnv(t)
	path := "/api/wizard/" + startWizard(t, env, "user-1").SessionID

	rr := env.upload(t, path+"/knowledge", "user-1", "notes.txt", "text/plain", []byte("plain notes"))

	expectStatus(t, rr, http.StatusUnsupportedMediaType)
}

func TestWizardExitNeedsConfirmation(t *testing.T) {
	env := newTestEnv(t)
	path := "/api/wizard/" + startWizard(t, env, "user-1").SessionID
	env.do(t, http.MethodPatch, path, "user-1", map[string]any{"name": "Mira"})

	rr := env.do(t, http.MethodPost, path+"/exit", "user-1", map[string]bool{"confirmed": false})
	expectStatus(t, rr, http.StatusOK)
	decision := decodeJSON[wizard.ExitDecision](t, rr)
	if decision.Exited || !decision.NeedsConfirmation {
		t.Fatalf("expected confirmation request, got %+v", decision)
	}

	rr = env.do(t, http.MethodPost, path+"/exit", "user-1", map[string]bool{"confirmed": true})
	if !decodeJSON[wizard.ExitDecision](t, rr).Exited {
		t.Fatal("expected confirmed exit")
	}
	expectStatus(t, env.do(t, http.MethodGet, path, "user-1", nil), http.StatusNotFound)
}

// wizardOnLastStep walks a new session to the knowledge step with one draft
// document and returns its path.
func wizardOnLastStep(t *testing.T, env *testEnv, owner string) string {
	t.Helper()
	path := "/api/wizard/" + startWizard(t, env, owner).SessionID
	fillDetailStep(t, env, path, owner)
	expectStatus(t, env.do(t, http.MethodPost, path+"/next", owner, nil), http.StatusOK)
	for i := 0; i < 5; i++ {
		rr := env.do(t, http.MethodPost, path+"/tags", owner, map[string]string{"tag": fmt.Sprintf("calm%d", i)})
		expectStatus(t, rr, http.StatusOK)
	}
	expectStatus(t, env.do(t, http.MethodPost, path+"/next", owner, nil), http.StatusOK)
	rr := env.do(t, http.MethodPatch, path, owner, map[string]any{"backstory": "Grew up by the sea."})
	expectStatus(t, rr, http.StatusOK)
	expectStatus(t, env.do(t, http.MethodPost, path+"/next", owner, nil), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodPost, path+"/next", owner, nil), http.StatusOK)
	rr = env.upload(t, path+"/knowledge", owner, "guide.pdf", "application/pdf", samplePDF())
	expectStatus(t, rr, http.StatusCreated)
	return path
}

func TestFinishFailureReportsSavedProfile(t *testing.T) {
	env := newTestEnv(t)
	path := wizardOnLastStep(t, env, "user-1")

	env.blobs.failPuts(errors.New("bucket unavailable"))
	rr := env.do(t, http.MethodPost, path+"/finish", "user-1", nil)
	expectStatus(t, rr, http.StatusServiceUnavailable)
	body := decodeJSON[map[string]any](t, rr)
	details, _ := body["details"].(map[string]any)
	profileID, _ := details["profileId"].(string)
	if body["code"] != "PERSISTENCE_FAILED" || profileID == "" {
		t.Fatalf("expected persistence failure carrying the profile id, got %v", body)
	}

	env.blobs.failPuts(nil)
	rr = env.do(t, http.MethodPost, path+"/finish", "user-1", nil)
	expectStatus(t, rr, http.StatusOK)
	if got := decodeJSON[map[string]any](t, rr)["profileId"]; got != profileID {
		t.Fatalf("retry should finish the same profile %s, got %v", profileID, got)
	}
	if env.blobs.count() != 1 {
		t.Fatalf("expected the draft document stored once, found %d blobs", env.blobs.count())
	}
}

func TestBusySessionDoesNotBlockOtherLookups(t *testing.T) {
	env := newTestEnv(t)
	busy := wizardOnLastStep(t, env, "user-1")
	other := startWizard(t, env, "user-2")

	entered, release := env.blobs.holdPuts()
	finished := make(chan int, 1)
	go func() {
		req := httptest.NewRequest(http.MethodPost, busy+"/finish", nil)
		req.Header.Set(ownerHeader, "user-1")
		rr := httptest.NewRecorder()
		env.handler.ServeHTTP(rr, req)
		finished <- rr.Code
	}()
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("finish never reached storage")
	}

	done := make(chan error, 1)
	go func() {
		env.service.PruneWizards(time.Now())
		_, err := env.service.Wizard("user-2", other.SessionID)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("lookup of an idle session failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("lookup waited on the busy session")
	}

	close(release)
	select {
	case code := <-finished:
		if code != http.StatusOK {
			t.Fatalf("expected finish to complete, got %d", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("finish did not complete")
	}
}

func TestWizardSessionsAreOwnerScoped(t *testing.T) {
	env := newTestEnv(t)
	path := "/api/wizard/" + startWizard(t, env, "user-1").SessionID

	expectStatus(t, env.do(t, http.MethodGet, path, "user-2", nil), http.StatusNotFound)
	expectStatus(t, env.do(t, http.MethodGet, path, "user-1", nil), http.StatusOK)
}

func TestIdleWizardsArePruned(t *testing.T) {
	env := newTestEnv(t)
	state := startWizard(t, env, "user-1")
	path := "/api/wizard/" + state.SessionID
	env.do(t, http.MethodPatch, path, "user-1", map[string]any{"name": "Mira"})

	if n := env.service.PruneWizards(time.Now().Add(30 * time.Minute)); n != 0 {
		t.Fatalf("expected active session to survive, pruned %d", n)
	}
	if n := env.service.PruneWizards(time.Now().Add(2 * time.Hour)); n != 1 {
		t.Fatalf("expected idle session to be pruned, pruned %d", n)
	}
	expectStatus(t, env.do(t, http.MethodGet, path, "user-1", nil), http.StatusNotFound)

	resumed := startWizard(t, env, "user-1")
	if !resumed.Restored || resumed.Data.Name != "Mira" {
		t.Errorf("expected new session to resume cached draft, got %+v", resumed)
	}
}

func TestSaveDraftThenEditWizard(t *testing.T) {
	env := newTestEnv(t)
	path := "/api/wizard/" + startWizard(t, env, "user-1").SessionID
	fillDetailStep(t, env, path, "user-1")

	rr := env.do(t, http.MethodPost, path+"/draft", "user-1", nil)
	expectStatus(t, rr, http.StatusOK)
	profileID, _ := decodeJSON[map[string]any](t, rr)["profileId"].(string)
	if profileID == "" {
		t.Fatal("expected draft save to create a profile")
	}

	rr = env.do(t, http.MethodPost, "/api/profiles/"+profileID+"/wizard", "user-1", nil)
	expectStatus(t, rr, http.StatusCreated)
	state := decodeJSON[wizard.State](t, rr)
	if state.Mode != wizard.ModeEdit || state.Data.Name != "Mira" {
		t.Errorf("unexpected edit state: %+v", state)
	}

	expectStatus(t, env.do(t, http.MethodPost, "/api/profiles/"+profileID+"/wizard", "user-2", nil), http.StatusNotFound)
}
