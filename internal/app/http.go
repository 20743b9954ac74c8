package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"avatarstudio/api/internal/attachment"
	"avatarstudio/api/internal/failure"
	"avatarstudio/api/internal/feed"
	"avatarstudio/api/internal/knowledge"
	"avatarstudio/api/internal/wizard"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withMiddleware)

	r.Get("/api/health", s.handleHealth)
	r.Head("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)
	r.Head("/api/ready", s.handleReady)

	r.Group(func(r chi.Router) {
		r.Use(requireOwner)

		r.Post("/api/wizard", s.handleStartWizard)
		r.Route("/api/wizard/{sid}", func(r chi.Router) {
			r.Get("/", s.wizardHandler(s.handleWizardState))
			r.Patch("/", s.wizardHandler(s.handleWizardPatch))
			r.Post("/tags", s.wizardHandler(s.handleWizardAddTag))
			r.Delete("/tags/{tag}", s.wizardHandler(s.handleWizardRemoveTag))
			r.Post("/languages", s.wizardHandler(s.handleWizardAddLanguage))
			r.Delete("/languages/{language}", s.wizardHandler(s.handleWizardRemoveLanguage))
			r.Post("/images", s.wizardHandler(s.handleWizardAddImage))
			r.Post("/images/remove", s.wizardHandler(s.handleWizardRemoveImage))
			r.Post("/next", s.wizardHandler(s.handleWizardNext))
			r.Post("/back", s.wizardHandler(s.handleWizardBack))
			r.Post("/draft", s.wizardHandler(s.handleWizardDraft))
			r.Post("/finish", s.wizardHandler(s.handleWizardFinish))
			r.Post("/exit", s.wizardHandler(s.handleWizardExit))
			r.Post("/knowledge", s.wizardHandler(s.handleWizardUpload))
			r.Post("/knowledge/{docId}/toggle", s.wizardHandler(s.handleWizardToggle))
			r.Delete("/knowledge/{docId}", s.wizardHandler(s.handleWizardDelete))
			r.Get("/knowledge/{docId}/download", s.wizardHandler(s.handleWizardDownload))
		})

		r.Get("/api/profiles", s.handleListProfiles)
		r.Get("/api/profiles/search", s.handleSearchProfiles)
		r.Route("/api/profiles/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetProfile)
			r.Patch("/", s.handlePatchProfile)
			r.Post("/wizard", s.handleEditWizard)
			r.Get("/knowledge", s.handleProfileKnowledge)
			r.Post("/knowledge", s.handleProfileUpload)
			r.Post("/knowledge/{docId}/toggle", s.handleProfileToggle)
			r.Delete("/knowledge/{docId}", s.handleProfileDelete)
			r.Get("/knowledge/{docId}/download", s.handleProfileDownload)
			r.Post("/images", s.handleProfileImage)
			r.Get("/events", s.handleProfileEvents)
		})
		r.Post("/api/me/picture", s.handleUserPicture)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}
	for name, err := range s.service.ReadyChecks(ctx) {
		if err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

// Wizard handlers

type wizardHandlerFunc func(w http.ResponseWriter, r *http.Request, c *wizard.Controller)

func (s *HTTPServer) wizardHandler(fn wizardHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := s.service.Wizard(ownerFrom(r), chi.URLParam(r, "sid"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		fn(w, r, c)
	}
}

func (s *HTTPServer) handleStartWizard(w http.ResponseWriter, r *http.Request) {
	c, err := s.service.StartWizard(r.Context(), ownerFrom(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c.State())
}

func (s *HTTPServer) handleEditWizard(w http.ResponseWriter, r *http.Request) {
	c, err := s.service.EditWizard(r.Context(), ownerFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c.State())
}

func (s *HTTPServer) handleWizardState(w http.ResponseWriter, r *http.Request, c *wizard.Controller) {
	writeJSON(w, http.StatusOK, c.State())
}

func (s *HTTPServer) handleWizardPatch(w http.ResponseWriter, r *http.Request, c *wizard.Controller) {
	var body profilePatchInput
	if err := decodeAndValidate(r, &body); err != nil {
		writeServiceError(w, err)
		return
	}
	s.respondState(w, c, c.Apply(r.Context(), body.toPatch()))
}

func (s *HTTPServer) handleWizardAddTag(w http.ResponseWriter, r *http.Request, c *wizard.Controller) {
	var body tagInput
	if err := decodeAndValidate(r, &body); err != nil {
		writeServiceError(w, err)
		return
	}
	s.respondState(w, c, c.AddTag(r.Context(), body.Tag))
}

func (s *HTTPServer) handleWizardRemoveTag(w http.ResponseWriter, r *http.Request, c *wizard.Controller) {
	s.respondState(w, c, c.RemoveTag(r.Context(), chi.URLParam(r, "tag")))
}

func (s *HTTPServer) handleWizardAddLanguage(w http.ResponseWriter, r *http.Request, c *wizard.Controller) {
	var body languageInput
	if err := decodeAndValidate(r, &body); err != nil {
		writeServiceError(w, err)
		return
	}
	s.respondState(w, c, c.AddSecondaryLanguage(r.Context(), body.Language))
}

func (s *HTTPServer) handleWizardRemoveLanguage(w http.ResponseWriter, r *http.Request, c *wizard.Controller) {
	s.respondState(w, c, c.RemoveSecondaryLanguage(r.Context(), chi.URLParam(r, "language")))
}

func (s *HTTPServer) handleWizardAddImage(w http.ResponseWriter, r *http.Request, c *wizard.Controller) {
	file, err := readUpload(w, r, s.service.uploadLimit(attachment.PurposeAvatarImage))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	state, err := s.service.WizardImage(r.Context(), c, file)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *HTTPServer) handleWizardRemoveImage(w http.ResponseWriter, r *http.Request, c *wizard.Controller) {
	var body imageInput
	if err := decodeAndValidate(r, &body); err != nil {
		writeServiceError(w, err)
		return
	}
	s.respondState(w, c, c.RemoveImage(r.Context(), body.URL))
}

func (s *HTTPServer) handleWizardNext(w http.ResponseWriter, r *http.Request, c *wizard.Controller) {
	s.respondState(w, c, c.GoNext(r.Context()))
}

func (s *HTTPServer) handleWizardBack(w http.ResponseWriter, r *http.Request, c *wizard.Controller) {
	s.respondState(w, c, c.GoBack(r.Context()))
}

func (s *HTTPServer) handleWizardDraft(w http.ResponseWriter, r *http.Request, c *wizard.Controller) {
	id, err := c.SaveDraft(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"profileId": id, "state": c.State()})
}

func (s *HTTPServer) handleWizardFinish(w http.ResponseWriter, r *http.Request, c *wizard.Controller) {
	id, err := c.Finish(r.Context())
	if err != nil {
		if id == "" {
			writeServiceError(w, err)
			return
		}
		// the profile exists; the client retries finish on the same session
		status, code, message, details := mapError(err)
		log.Printf("app: finish %s saved profile %s but failed: %v", c.ID(), id, err)
		writeError(w, status, code, message, withProfileID(details, id))
		return
	}
	s.service.ReleaseWizard(c.ID())
	writeJSON(w, http.StatusOK, map[string]any{"profileId": id})
}

func (s *HTTPServer) handleWizardExit(w http.ResponseWriter, r *http.Request, c *wizard.Controller) {
	var body exitInput
	if err := decodeAndValidate(r, &body); err != nil {
		writeServiceError(w, err)
		return
	}
	decision := c.RequestExit(r.Context(), body.Confirmed)
	if decision.Exited {
		s.service.ReleaseWizard(c.ID())
	}
	writeJSON(w, http.StatusOK, decision)
}

func (s *HTTPServer) handleWizardUpload(w http.ResponseWriter, r *http.Request, c *wizard.Controller) {
	file, err := readUpload(w, r, s.service.uploadLimit(attachment.PurposeKnowledge))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	doc, err := c.UploadKnowledge(r.Context(), file)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"document": doc, "state": c.State()})
}

func (s *HTTPServer) handleWizardToggle(w http.ResponseWriter, r *http.Request, c *wizard.Controller) {
	doc, err := c.ToggleKnowledge(r.Context(), chi.URLParam(r, "docId"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"document": doc, "state": c.State()})
}

func (s *HTTPServer) handleWizardDelete(w http.ResponseWriter, r *http.Request, c *wizard.Controller) {
	s.respondState(w, c, c.DeleteKnowledge(r.Context(), chi.URLParam(r, "docId")))
}

func (s *HTTPServer) handleWizardDownload(w http.ResponseWriter, r *http.Request, c *wizard.Controller) {
	download, err := c.DownloadKnowledge(r.Context(), chi.URLParam(r, "docId"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeDownload(w, r, download)
}

func (s *HTTPServer) respondState(w http.ResponseWriter, c *wizard.Controller, err error) {
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c.State())
}

// Profile handlers

func (s *HTTPServer) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	list, err := s.service.ListProfiles(r.Context(), ownerFrom(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"profiles": list})
}

func (s *HTTPServer) handleSearchProfiles(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))
	resp, err := s.service.SearchProfiles(ownerFrom(r), strings.TrimSpace(query.Get("q")), limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := s.service.GetProfile(r.Context(), ownerFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *HTTPServer) handlePatchProfile(w http.ResponseWriter, r *http.Request) {
	var body profilePatchInput
	if err := decodeAndValidate(r, &body); err != nil {
		writeServiceError(w, err)
		return
	}
	ctx := feed.WithOrigin(r.Context(), requestIDFrom(r))
	profile, err := s.service.UpdateProfile(ctx, ownerFrom(r), chi.URLParam(r, "id"), body.toPatch())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *HTTPServer) profileLedger(w http.ResponseWriter, r *http.Request) (*knowledge.Ledger, bool) {
	ledger, err := s.service.ProfileLedger(r.Context(), ownerFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return nil, false
	}
	return ledger, true
}

func (s *HTTPServer) handleProfileKnowledge(w http.ResponseWriter, r *http.Request) {
	ledger, ok := s.profileLedger(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": ledger.Documents()})
}

func (s *HTTPServer) handleProfileUpload(w http.ResponseWriter, r *http.Request) {
	file, err := readUpload(w, r, s.service.uploadLimit(attachment.PurposeKnowledge))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	ledger, ok := s.profileLedger(w, r)
	if !ok {
		return
	}
	doc, err := ledger.Upload(r.Context(), file)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *HTTPServer) handleProfileToggle(w http.ResponseWriter, r *http.Request) {
	ledger, ok := s.profileLedger(w, r)
	if !ok {
		return
	}
	doc, err := ledger.ToggleLink(r.Context(), chi.URLParam(r, "docId"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *HTTPServer) handleProfileDelete(w http.ResponseWriter, r *http.Request) {
	ledger, ok := s.profileLedger(w, r)
	if !ok {
		return
	}
	if err := ledger.Delete(r.Context(), chi.URLParam(r, "docId")); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleProfileDownload(w http.ResponseWriter, r *http.Request) {
	ledger, ok := s.profileLedger(w, r)
	if !ok {
		return
	}
	download, err := ledger.Download(r.Context(), chi.URLParam(r, "docId"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeDownload(w, r, download)
}

func (s *HTTPServer) handleProfileImage(w http.ResponseWriter, r *http.Request) {
	file, err := readUpload(w, r, s.service.uploadLimit(attachment.PurposeAvatarImage))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	profile, err := s.service.AddProfileImage(r.Context(), ownerFrom(r), chi.URLParam(r, "id"), file)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *HTTPServer) handleUserPicture(w http.ResponseWriter, r *http.Request) {
	file, err := readUpload(w, r, s.service.uploadLimit(attachment.PurposeUserPicture))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	stored, err := s.service.UploadUserPicture(r.Context(), ownerFrom(r), file)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"url": stored.URL, "sizeBytes": stored.SizeBytes})
}

// handleProfileEvents streams changes of one profile as server-sent events.
// Events missed while disconnected are not replayed; clients re-fetch the
// profile when they reconnect.
func (s *HTTPServer) handleProfileEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", "Streaming unsupported", nil)
		return
	}
	profileID := chi.URLParam(r, "id")
	changes := make(chan feed.Change, 16)
	sub, err := s.service.WatchProfile(r.Context(), ownerFrom(r), profileID, func(change feed.Change) {
		select {
		case changes <- change:
		default:
			log.Printf("app: event stream for %s is slow, dropped change", profileID)
		}
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer sub.Unsubscribe()

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(25 * time.Second)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			_, _ = io.WriteString(w, ": ping\n\n")
			flusher.Flush()
		case change := <-changes:
			payload, err := json.Marshal(change)
			if err != nil {
				log.Printf("app: encode change for %s: %v", profileID, err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", change.Kind, payload)
			flusher.Flush()
		}
	}
}

// Plumbing

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writeJSON(writer, http.StatusNoContent, map[string]any{})
		} else {
			next.ServeHTTP(writer, r)
		}

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","owner":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			r.Header.Get(ownerHeader),
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

func requestIDFrom(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey{}).(string)
	return id
}

const ownerHeader = "X-Owner-ID"

type ownerKey struct{}

// requireOwner reads the owner identity set by the authenticating gateway.
func requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := strings.TrimSpace(r.Header.Get(ownerHeader))
		if owner == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", ownerHeader+" header is required", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey{}, owner)))
	})
}

func ownerFrom(r *http.Request) string {
	owner, _ := r.Context().Value(ownerKey{}).(string)
	return owner
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Owner-ID, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func withProfileID(details any, profileID string) map[string]any {
	out := map[string]any{"profileId": profileID}
	if m, ok := details.(map[string]any); ok {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

func writeServiceError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		log.Printf("app: %s: %v", code, err)
	}
	writeError(w, status, code, message, details)
}

// writeDownload redirects to a stored document or streams draft bytes.
func writeDownload(w http.ResponseWriter, r *http.Request, download knowledge.Download) {
	if download.URL != "" {
		http.Redirect(w, r, download.URL, http.StatusTemporaryRedirect)
		return
	}
	header := w.Header()
	header.Set("Content-Type", download.ContentType)
	header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", download.Name))
	header.Set("Content-Length", strconv.Itoa(len(download.Content)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(download.Content)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return domainError(http.StatusBadRequest, "INVALID_BODY", "invalid JSON body", nil)
	}
	return nil
}

const multipartOverhead = 1 << 20

// readUpload reads the "file" part of a multipart request, refusing bodies
// larger than limit before they are buffered.
func readUpload(w http.ResponseWriter, r *http.Request, limit int64) (attachment.File, error) {
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			return attachment.File{}, failure.UploadRejected("app.upload",
				fmt.Sprintf("upload exceeds the %d MB limit", limit/attachment.MB), "size")
		}
		return attachment.File{}, domainError(http.StatusBadRequest, "INVALID_UPLOAD", "expected a multipart form with a file field", nil)
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	part, header, err := r.FormFile("file")
	if err != nil {
		return attachment.File{}, domainError(http.StatusBadRequest, "INVALID_UPLOAD", "file field is required", nil)
	}
	defer part.Close()
	data, err := io.ReadAll(part)
	if err != nil {
		return attachment.File{}, domainError(http.StatusBadRequest, "INVALID_UPLOAD", "could not read the uploaded file", nil)
	}
	return attachment.File{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}
