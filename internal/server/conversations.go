package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"tenantchat/internal/app"
	"tenantchat/pkg/domain"
)

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request, identity domain.Identity) {
	switch r.Method {
	case http.MethodGet:
		conversations, err := s.app.ListConversations(identity.ID, 100)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"conversations": conversations})
	case http.MethodPost:
		var req struct {
			Title string `json:"title"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		conversation, err := s.app.CreateConversation(identity.ID, req.Title)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, conversation)
	default:
		methodNotAllowed(w)
	}
}

// handleConversationSubtree dispatches /conversations/{id}[/...].
func (s *Server) handleConversationSubtree(w http.ResponseWriter, r *http.Request, identity domain.Identity) {
	rest := strings.TrimPrefix(r.URL.Path, "/conversations/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	conversationID := parts[0]
	switch {
	case len(parts) == 1:
		s.handleConversationByID(w, r, identity, conversationID)
	case len(parts) == 2 && parts[1] == "messages":
		s.handleMessages(w, r, identity, conversationID)
	case len(parts) == 2 && parts[1] == "documents":
		s.handleDocuments(w, r, identity, conversationID)
	case len(parts) == 4 && parts[1] == "documents" && parts[3] == "url":
		s.handleDocumentURL(w, r, identity, conversationID, parts[2])
	case len(parts) == 2 && parts[1] == "tags":
		s.handleConversationTags(w, r, identity, conversationID)
	case len(parts) == 3 && parts[1] == "tags" && parts[2] == "suggestions":
		s.handleTagSuggestions(w, r, identity, conversationID)
	case len(parts) == 3 && parts[1] == "tags":
		s.handleConversationTagByID(w, r, identity, conversationID, parts[2])
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleConversationByID(w http.ResponseWriter, r *http.Request, identity domain.Identity, conversationID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := s.app.DeleteConversation(r.Context(), identity.ID, conversationID); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request, identity domain.Identity, conversationID string) {
	switch r.Method {
	case http.MethodGet:
		messages, err := s.app.ListMessages(identity.ID, conversationID, 0)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
	case http.MethodPost:
		s.handleSendMessage(w, r, identity, conversationID)
	default:
		methodNotAllowed(w)
	}
}

// handleSendMessage streams the assistant reply as server-sent events.
// Fragments go out as they arrive; the terminal event is either "done"
// with the persisted message or "error".
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request, identity domain.Identity, conversationID string) {
	var req struct {
		Content string `json:"content"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	handle, err := s.app.SendMessage(r.Context(), identity.ID, conversationID, req.Content)
	if err != nil {
		writeAppError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for fragment := range handle.Fragments() {
		writeSSE(w, "fragment", map[string]string{"text": fragment})
		flusher.Flush()
	}
	message, err := handle.Wait()
	if err != nil {
		writeSSE(w, "error", map[string]string{"error": "stream failed"})
		flusher.Flush()
		return
	}
	writeSSE(w, "done", message)
	flusher.Flush()
}

func writeSSE(w io.Writer, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request, identity domain.Identity, conversationID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, app.MaxDocumentBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read upload")
		return
	}
	contentType := header.Header.Get("Content-Type")
	document, err := s.app.UploadDocument(r.Context(), identity.ID, conversationID, header.Filename, contentType, data)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, document)
}

func (s *Server) handleDocumentURL(w http.ResponseWriter, r *http.Request, identity domain.Identity, conversationID, documentID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	url, err := s.app.DocumentURL(r.Context(), identity.ID, conversationID, documentID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request, identity domain.Identity) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	plan, err := s.app.Usage(identity.ID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}
