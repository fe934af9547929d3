package server

import (
	"net/http"
	"strings"

	"tenantchat/internal/servicetoken"
	"tenantchat/pkg/domain"
)

func (s *Server) handleTags(w http.ResponseWriter, r *http.Request, identity domain.Identity) {
	switch r.Method {
	case http.MethodGet:
		tags, err := s.app.ListTags()
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tags": tags})
	case http.MethodPost:
		var req struct {
			Name     string   `json:"name"`
			Keywords []string `json:"keywords"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		tag, err := s.app.CreateTag(identity.ID, req.Name, req.Keywords)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, tag)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleTagByID(w http.ResponseWriter, r *http.Request, identity domain.Identity) {
	tagID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/tags/"), "/")
	if tagID == "" || strings.Contains(tagID, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := s.app.DeleteTag(identity.ID, tagID); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleConversationTags(w http.ResponseWriter, r *http.Request, identity domain.Identity, conversationID string) {
	switch r.Method {
	case http.MethodGet:
		edges, err := s.app.ConversationTags(identity.ID, conversationID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tags": edges})
	case http.MethodPost:
		var req struct {
			TagID string `json:"tagId"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := s.app.AssignTag(identity.ID, conversationID, req.TagID); err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"status": "assigned"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleConversationTagByID(w http.ResponseWriter, r *http.Request, identity domain.Identity, conversationID, tagID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := s.app.RemoveTag(identity.ID, conversationID, tagID); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (s *Server) handleTagSuggestions(w http.ResponseWriter, r *http.Request, identity domain.Identity, conversationID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	suggestions, err := s.app.SuggestTags(identity.ID, conversationID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": suggestions})
}

func (s *Server) handleGrants(w http.ResponseWriter, r *http.Request, identity domain.Identity) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		IdentityID string `json:"identityId"`
		Capability string `json:"capability"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.app.GrantPrivilege(r.Context(), identity.ID, req.IdentityID, req.Capability); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "granted"})
}

// handleMaintenance runs one named maintenance task. It is guarded by
// short-lived service tokens, not user sessions.
func (s *Server) handleMaintenance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.maintenance == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	token, ok := servicetoken.BearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	task, err := s.maintenance.Verify(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	result, err := s.app.RunMaintenance(task)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
