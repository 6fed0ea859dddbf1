package app

import (
	"net/http"
	"strconv"
	"strings"

	"memberportal/api/internal/rbac"
	"memberportal/api/internal/search"
	"memberportal/api/internal/session"
)

// handleLookup serves the read-only staff tools under /api/lookup.
func (s *HTTPServer) handleLookup(w http.ResponseWriter, r *http.Request, sess session.Session, parts []string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	if !s.service.Can(sess.Role, rbac.ActionLookup) {
		s.forbid(w, r, sess, string(rbac.ActionLookup))
		return
	}

	switch {
	case len(parts) == 2 && parts[0] == "members":
		result, err := s.service.LookupMember(r.Context(), parts[1])
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case len(parts) == 1 && parts[0] == "search":
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		tier := strings.TrimSpace(r.URL.Query().Get("tier"))
		limit := 20
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
				return
			}
			limit = parsed
		}
		offset := 0
		if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be an integer", nil)
				return
			}
			offset = parsed
		}
		if q == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "q is required", nil)
			return
		}
		writeJSON(w, http.StatusOK, s.service.SearchDirectory(r.Context(), search.Query{
			Text:   q,
			Tier:   tier,
			Limit:  limit,
			Offset: offset,
		}))

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// handleAdmin serves /api/admin/members/{memberId}/invalidate.
func (s *HTTPServer) handleAdmin(w http.ResponseWriter, r *http.Request, sess session.Session, parts []string) {
	if len(parts) != 3 || parts[0] != "members" || parts[2] != "invalidate" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	if !s.service.Can(sess.Role, rbac.ActionAdmin) {
		s.forbid(w, r, sess, string(rbac.ActionAdmin))
		return
	}
	at, err := s.service.InvalidateMember(parts[1])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "memberId": parts[1], "invalidatedAt": at})
}
