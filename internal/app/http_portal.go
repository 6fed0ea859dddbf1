package app

import (
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"memberportal/api/internal/member"
	"memberportal/api/internal/portal"
	"memberportal/api/internal/rbac"
	"memberportal/api/internal/session"
)

// handlePortal serves /api/portal/... for the session's own member.
func (s *HTTPServer) handlePortal(w http.ResponseWriter, r *http.Request, sess session.Session, parts []string) {
	action := rbac.ActionEdit
	if r.Method == http.MethodGet {
		action = rbac.ActionView
	}
	if !s.service.Can(sess.Role, action) {
		s.forbid(w, r, sess, string(action))
		return
	}

	if len(parts) == 1 && parts[0] == "history" && r.Method == http.MethodGet {
		limit := 50
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
				return
			}
			limit = parsed
		}
		items, err := s.service.History(r.Context(), sess, limit)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
		return
	}

	p, err := s.service.Portal(r.Context(), sess)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	if len(parts) == 0 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		view, err := p.View()
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
		return
	}

	if parts[0] != "sections" || len(parts) < 2 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	section, err := member.ParseSection(parts[1])
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Unknown section", nil)
		return
	}
	s.handleSection(w, r, p, section, parts[2:])
}

func (s *HTTPServer) handleSection(w http.ResponseWriter, r *http.Request, p *portal.Portal, section member.Section, parts []string) {
	ctx := r.Context()
	var err error
	status := http.StatusOK
	extra := map[string]any{}

	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
	case len(parts) == 1 && r.Method == http.MethodPost && parts[0] == "edit":
		err = p.ToggleEdit(section)
	case len(parts) == 1 && r.Method == http.MethodPost && parts[0] == "cancel":
		err = p.Cancel(section)
	case len(parts) == 1 && r.Method == http.MethodPost && parts[0] == "save":
		err = p.Save(ctx, section)
	case len(parts) == 1 && r.Method == http.MethodPost && parts[0] == "reload":
		err = p.Reload(ctx, section)
	case len(parts) == 1 && r.Method == http.MethodPatch && parts[0] == "fields":
		var body struct {
			Field string `json:"field"`
			Value any    `json:"value"`
		}
		if decodeErr := decodeBody(r, &body); decodeErr != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", decodeErr.Error(), nil)
			return
		}
		if strings.TrimSpace(body.Field) == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "field is required", nil)
			return
		}
		err = p.Mutate(section, body.Field, body.Value)
	case len(parts) == 1 && r.Method == http.MethodPost && parts[0] == "entries":
		var index int
		index, err = p.AddEntry(section)
		extra["index"] = index
		status = http.StatusCreated
	case len(parts) == 2 && r.Method == http.MethodDelete && parts[0] == "entries":
		index, convErr := strconv.Atoi(parts[1])
		if convErr != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "entry index must be an integer", nil)
			return
		}
		err = p.RemoveEntry(section, index)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	if err != nil {
		s.writeSectionError(w, r, p, section, err)
		return
	}
	view, err := p.Section(section)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	extra["section"] = view
	writeJSON(w, status, extra)
}

// writeSectionError reports a failed section action. Write failures carry the
// section view so the client can show the kept edits next to the message.
func (s *HTTPServer) writeSectionError(w http.ResponseWriter, r *http.Request, p *portal.Portal, section member.Section, err error) {
	status, code, message, details := mapError(err)
	if status == http.StatusBadGateway {
		if view, viewErr := p.Section(section); viewErr == nil {
			message = firstNonBlank(view.Error, message)
			details = map[string]any{"section": view}
		}
	}
	if status >= http.StatusInternalServerError {
		s.log.Warn("section action failed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("section", string(section)),
			zap.Error(err),
		)
	}
	writeError(w, status, code, message, details)
}
