package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/marcus/settingsync/internal/serverdb"
)

var resourceNameRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]{0,63}$`)

// readResponse is the JSON response for GET /v1/resource/{name}/latest.
// Content is null when the resource does not exist.
type readResponse struct {
	Ref     string  `json:"ref"`
	Content *string `json:"content"`
}

// writeRequest is the JSON body for POST /v1/resource/{name}.
type writeRequest struct {
	Content *string `json:"content"`
}

// writeResponse is the JSON response for POST /v1/resource/{name}.
type writeResponse struct {
	Ref string `json:"ref"`
}

// resourceInfo is one entry of GET /v1/resource.
type resourceInfo struct {
	Resource  string `json:"resource"`
	Ref       string `json:"ref"`
	MachineID string `json:"machine_id,omitempty"`
	UpdatedAt string `json:"updated_at"`
}

// deleteResponse is the JSON response for DELETE /v1/resource.
type deleteResponse struct {
	Deleted int64 `json:"deleted"`
}

// formatETag quotes a ref for the ETag header.
func formatETag(ref string) string {
	return `"` + ref + `"`
}

// parseETag accepts a quoted or bare ref from If-Match / If-None-Match.
func parseETag(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "W/")
	return strings.Trim(v, `"`)
}

// resourceName validates the {name} path value, writing a 400 when it is invalid.
func resourceName(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := r.PathValue("name")
	if !resourceNameRe.MatchString(name) {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid resource name")
		return "", false
	}
	return name, true
}

// handleListResources handles GET /v1/resource.
func (s *Server) handleListResources(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())

	rows, err := s.store.ListUserData(p.UserID)
	if err != nil {
		logFor(r.Context()).Error("list user data", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to list resources")
		return
	}

	out := make([]resourceInfo, 0, len(rows))
	for _, d := range rows {
		out = append(out, resourceInfo{
			Resource:  d.Resource,
			Ref:       d.Ref,
			MachineID: d.MachineID,
			UpdatedAt: d.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleReadResource handles GET /v1/resource/{name}/latest.
func (s *Server) handleReadResource(w http.ResponseWriter, r *http.Request) {
	name, ok := resourceName(w, r)
	if !ok {
		return
	}
	p := principalFrom(r.Context())

	d, err := s.store.GetUserData(p.UserID, name)
	if err != nil {
		logFor(r.Context()).Error("get user data", "resource", name, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to read resource")
		return
	}

	resp := readResponse{Ref: serverdb.NoRef}
	if d != nil {
		resp.Ref = d.Ref
		if !d.Deleted {
			resp.Content = &d.Content
		}
	}

	w.Header().Set("ETag", formatETag(resp.Ref))
	if inm := r.Header.Get("If-None-Match"); inm != "" && parseETag(inm) == resp.Ref {
		s.metrics.RecordRead(true)
		w.WriteHeader(http.StatusNotModified)
		return
	}
	s.metrics.RecordRead(false)
	writeJSON(w, http.StatusOK, resp)
}

// handleWriteResource handles POST /v1/resource/{name}. The If-Match header
// carries the ref the client last saw; a missing header means the client
// expects the resource not to exist.
func (s *Server) handleWriteResource(w http.ResponseWriter, r *http.Request) {
	name, ok := resourceName(w, r)
	if !ok {
		return
	}
	p := principalFrom(r.Context())

	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid json body")
		return
	}
	if req.Content == nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "content is required")
		return
	}
	if int64(len(*req.Content)) > s.config.MaxContentBytes {
		writeError(w, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "content too large")
		return
	}

	ifMatch := serverdb.NoRef
	if v := r.Header.Get("If-Match"); v != "" {
		ifMatch = parseETag(v)
	}

	ref, err := s.store.WriteUserData(p.UserID, name, *req.Content, ifMatch, p.MachineID)
	if err != nil {
		if errors.Is(err, serverdb.ErrRefMismatch) {
			s.metrics.RecordWriteConflict()
			logFor(r.Context()).Info("stale write rejected", "resource", name, "if_match", ifMatch)
			writeError(w, http.StatusPreconditionFailed, ErrCodePreconditionFailed, "resource was modified; read it again")
			return
		}
		logFor(r.Context()).Error("write user data", "resource", name, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to write resource")
		return
	}

	s.metrics.RecordWrite()
	w.Header().Set("ETag", formatETag(ref))
	writeJSON(w, http.StatusOK, writeResponse{Ref: ref})
}

// handleDeleteResources handles DELETE /v1/resource.
func (s *Server) handleDeleteResources(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())

	n, err := s.store.DeleteUserData(p.UserID)
	if err != nil {
		logFor(r.Context()).Error("delete user data", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to delete resources")
		return
	}
	logFor(r.Context()).Info("user data deleted", "count", n)
	writeJSON(w, http.StatusOK, deleteResponse{Deleted: n})
}
