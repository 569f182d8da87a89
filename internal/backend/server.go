package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/bodiless/contentsync/internal/content"
)

const (
	contentRoutePrefix = "/___backend/content/"
	pagesRoute         = "/___backend/pages"
	snapshotRoute      = "/___backend/snapshot"
	eventsRoute        = "/___backend/events"

	DefaultPageTemplate = "_default"
	pageTemplateField   = "#template"
	pageIndexName       = "index"

	pushMessageType  = "pageQueryResult"
	pushWriteTimeout = 10 * time.Second
)

type Logger interface {
	Printf(format string, args ...any)
}

type ServerConfig struct {
	// JWTSecret enables bearer auth on mutating routes when set.
	JWTSecret    string
	MaxBodyBytes int64
	Validator    *Validator
	// OriginPatterns lists the hosts allowed to open the event socket from a
	// browser on another origin.
	OriginPatterns []string
	Logger         Logger
}

type Server struct {
	store ContentStore
	hub   *Hub
	cfg   ServerConfig
}

type pushMessage struct {
	Type    string      `json:"type"`
	Payload pushPayload `json:"payload"`
}

type pushPayload struct {
	ID     string     `json:"id"`
	Result pushResult `json:"result"`
}

type pushResult struct {
	Data content.Snapshot `json:"data"`
}

type createPageRequest struct {
	Path     string `json:"path"`
	Template string `json:"template"`
}

func NewServer(store ContentStore, hub *Hub) *Server {
	return NewServerWithConfig(store, hub, ServerConfig{})
}

func NewServerWithConfig(store ContentStore, hub *Hub, cfg ServerConfig) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.Validator == nil {
		validator, err := NewValidator("")
		if err != nil {
			panic(err)
		}
		cfg.Validator = validator
	}
	if hub == nil {
		hub = NewHub(store, cfg.Logger)
	}
	return &Server{store: store, hub: hub, cfg: cfg}
}

func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	correlationID := getCorrelationID(r)

	var route, requiredScope string
	switch {
	case strings.HasPrefix(r.URL.Path, contentRoutePrefix) && r.Method == http.MethodGet:
		route = "read_content"
	case strings.HasPrefix(r.URL.Path, contentRoutePrefix) && r.Method == http.MethodPost:
		route = "write_content"
		requiredScope = ScopeContentWrite
	case strings.HasPrefix(r.URL.Path, contentRoutePrefix) && r.Method == http.MethodDelete:
		route = "delete_content"
		requiredScope = ScopeContentWrite
	case r.URL.Path == pagesRoute && r.Method == http.MethodPost:
		route = "create_page"
		requiredScope = ScopeContentWrite
	case r.URL.Path == snapshotRoute && r.Method == http.MethodGet:
		route = "snapshot"
	case r.URL.Path == eventsRoute && r.Method == http.MethodGet:
		route = "events"
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
		return
	}

	if requiredScope != "" && s.cfg.JWTSecret != "" {
		if _, authErr := authorizeBearer(r.Header.Get("Authorization"), s.cfg.JWTSecret, requiredScope, time.Now().UTC()); authErr != nil {
			writeError(w, authErr.status, authErr.code, authErr.message, correlationID)
			return
		}
	}

	switch route {
	case "read_content":
		s.handleReadContent(w, r, correlationID)
	case "write_content":
		s.handleWriteContent(w, r, correlationID)
	case "delete_content":
		s.handleDeleteContent(w, r, correlationID)
	case "create_page":
		s.handleCreatePage(w, r, correlationID)
	case "snapshot":
		s.handleSnapshot(w, r, correlationID)
	case "events":
		s.handleEvents(w, r)
	}
}

func (s *Server) resourcePath(w http.ResponseWriter, r *http.Request, correlationID string) (string, bool) {
	resourcePath, err := CleanResourcePath(strings.TrimPrefix(r.URL.Path, contentRoutePrefix))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid resource path", correlationID)
		return "", false
	}
	return resourcePath, true
}

func (s *Server) handleReadContent(w http.ResponseWriter, r *http.Request, correlationID string) {
	resourcePath, ok := s.resourcePath(w, r, correlationID)
	if !ok {
		return
	}
	data, err := s.store.Load(r.Context(), resourcePath)
	if err != nil {
		s.writeStoreError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (s *Server) handleWriteContent(w http.ResponseWriter, r *http.Request, correlationID string) {
	resourcePath, ok := s.resourcePath(w, r, correlationID)
	if !ok {
		return
	}
	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return
	}
	data, err := s.cfg.Validator.Decode(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
		return
	}
	if err := s.store.Save(r.Context(), resourcePath, data); err != nil {
		s.writeStoreError(w, err, correlationID)
		return
	}
	s.logf("saved %s (correlation %s)", resourcePath, correlationID)
	s.hub.Publish(context.WithoutCancel(r.Context()), resourcePath)
	writeJSON(w, http.StatusOK, map[string]string{"path": resourcePath})
}

func (s *Server) handleDeleteContent(w http.ResponseWriter, r *http.Request, correlationID string) {
	resourcePath, ok := s.resourcePath(w, r, correlationID)
	if !ok {
		return
	}
	if err := s.store.Delete(r.Context(), resourcePath); err != nil {
		s.writeStoreError(w, err, correlationID)
		return
	}
	s.logf("deleted %s (correlation %s)", resourcePath, correlationID)
	s.hub.Publish(context.WithoutCancel(r.Context()), resourcePath)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreatePage(w http.ResponseWriter, r *http.Request, correlationID string) {
	var req createPageRequest
	if !s.decodeJSONBody(w, r, correlationID, &req) {
		return
	}
	slug := NormalizeSlug(req.Path)
	if slug == "" || strings.Contains(req.Path, "..") {
		writeError(w, http.StatusBadRequest, "bad_request", "page path is required", correlationID)
		return
	}
	template := strings.TrimSpace(req.Template)
	if template == "" {
		template = DefaultPageTemplate
	}
	indexPath := path.Join(pageDir(slug), pageIndexName)
	if _, err := s.store.Load(r.Context(), indexPath); err == nil {
		writeError(w, http.StatusConflict, "conflict", "page already exists", correlationID)
		return
	} else if !errors.Is(err, ErrNotFound) {
		s.writeStoreError(w, err, correlationID)
		return
	}
	if err := s.store.Save(r.Context(), indexPath, content.Data{pageTemplateField: template}); err != nil {
		s.writeStoreError(w, err, correlationID)
		return
	}
	s.logf("created page %s from template %s", slug, template)
	writeJSON(w, http.StatusCreated, map[string]string{"path": slug, "template": template})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request, correlationID string) {
	snapshot, err := BuildSnapshot(r.Context(), s.store, r.URL.Query().Get("page"))
	if err != nil {
		s.writeStoreError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// handleEvents pushes the page snapshot on connect and after every change
// affecting the page.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	slug := NormalizeSlug(r.URL.Query().Get("page"))
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cfg.OriginPatterns})
	if err != nil {
		s.logf("accept event socket: %v", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")

	updates, unsubscribe := s.hub.Subscribe(slug)
	defer unsubscribe()
	ctx := conn.CloseRead(r.Context())

	initial, err := BuildSnapshot(ctx, s.store, slug)
	if err != nil {
		s.logf("build snapshot for %q: %v", slug, err)
		return
	}
	if err := s.push(ctx, conn, slug, initial); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case snapshot, ok := <-updates:
			if !ok {
				return
			}
			if err := s.push(ctx, conn, slug, snapshot); err != nil {
				return
			}
		}
	}
}

func (s *Server) push(ctx context.Context, conn *websocket.Conn, slug string, snapshot content.Snapshot) error {
	ctx, cancel := context.WithTimeout(ctx, pushWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, pushMessage{
		Type: pushMessageType,
		Payload: pushPayload{
			ID:     PageID(slug),
			Result: pushResult{Data: snapshot},
		},
	})
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error, correlationID string) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "content not found", correlationID)
	case errors.Is(err, ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
	default:
		s.logf("content store error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "content store failure", correlationID)
	}
}

func (s *Server) logf(format string, args ...any) {
	if s.cfg.Logger == nil {
		return
	}
	s.cfg.Logger.Printf(format, args...)
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request, correlationID string) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", correlationID)
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", correlationID)
		return nil, false
	}
	return body, true
}

func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, correlationID string, dst any) bool {
	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}
