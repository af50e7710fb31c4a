package httpapi

import (
	"net/http"
	"strings"

	"lingkod.org/internal/audit"
	"lingkod.org/internal/portal"
)

type createRequestRequest struct {
	CertificateType string `json:"certificate_type"`
	Purpose         string `json:"purpose"`
	Notes           string `json:"notes,omitempty"`
	ValidIDFile     string `json:"valid_id_file,omitempty"`
	ResidentID      string `json:"resident_id,omitempty"`
}

type setStatusRequest struct {
	Status string `json:"status"`
	Note   string `json:"note,omitempty"`
}

type residentUpdateRequest struct {
	FirstName  *string `json:"first_name,omitempty"`
	MiddleName *string `json:"middle_name,omitempty"`
	LastName   *string `json:"last_name,omitempty"`
	Age        *int    `json:"age,omitempty"`
	Address    *string `json:"address,omitempty"`
	Contact    *string `json:"contact,omitempty"`
}

func (a *API) handleCertificateTypes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": portal.CertificateTypes()})
}

// --- certificate requests ---

func (a *API) handleRequestsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listRequests(w, r)
	case http.MethodPost:
		a.createRequest(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// listRequests scopes the listing to the caller: officials see everything,
// residents only their own.
func (a *API) listRequests(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	if principal.Role == portal.RoleOfficial {
		writeJSON(w, http.StatusOK, map[string]any{"items": a.data.Requests()})
		return
	}
	if principal.Resident == nil {
		writeError(w, r, http.StatusForbidden, "no resident profile")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": a.data.RequestsForResident(principal.Resident.ID),
	})
}

func (a *API) createRequest(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var req createRequestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	in := portal.AddRequestInput{
		CertificateType: portal.CertificateType(req.CertificateType),
		Purpose:         req.Purpose,
		Notes:           req.Notes,
		ValidIDFile:     req.ValidIDFile,
	}
	switch principal.Role {
	case portal.RoleResident:
		// Residents file requests for themselves only.
		in.ResidentID = principal.Resident.ID
		in.ResidentName = principal.Resident.FullName()
	case portal.RoleOfficial:
		resident := a.findResident(req.ResidentID)
		if resident == nil {
			writeError(w, r, http.StatusBadRequest, "unknown resident_id")
			return
		}
		in.ResidentID = resident.ID
		in.ResidentName = resident.FullName()
	}

	ctx := audit.WithRequestID(r.Context(), RequestIDFromContext(r.Context()))
	created, err := a.data.AddRequest(ctx, in)
	if err != nil {
		handlePortalError(w, r, err)
		return
	}
	_ = audit.LogEvent(ctx, "request.created", map[string]any{
		"request_id":       created.ID,
		"certificate_type": string(created.CertificateType),
	})
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) handleRequestResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/requests/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if id, ok := strings.CutSuffix(path, "/status"); ok {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.setRequestStatus(w, r, id)
		return
	}
	if id, ok := strings.CutSuffix(path, "/history"); ok {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getRequestHistory(w, r, id)
		return
	}
	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getRequest(w, r, path)
	default:
		methodNotAllowed(w, r, http.MethodGet)
	}
}

func (a *API) getRequest(w http.ResponseWriter, r *http.Request, id string) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	req := a.findRequest(id)
	if req == nil || !canSeeRequest(principal, req) {
		writeError(w, r, http.StatusNotFound, "request not found")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (a *API) setRequestStatus(w http.ResponseWriter, r *http.Request, id string) {
	principal, ok := requireOfficial(w, r)
	if !ok {
		return
	}

	var req setStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	ctx := audit.WithRequestID(r.Context(), RequestIDFromContext(r.Context()))
	status := portal.RequestStatus(req.Status)
	if err := a.data.UpdateRequestStatus(ctx, id, status, req.Note); err != nil {
		handlePortalError(w, r, err)
		return
	}
	_ = audit.LogEvent(ctx, "request.status_changed", map[string]any{
		"request_id": id,
		"status":     req.Status,
		"official":   principal.Identity,
	})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) getRequestHistory(w http.ResponseWriter, r *http.Request, id string) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	req := a.findRequest(id)
	if req == nil || !canSeeRequest(principal, req) {
		writeError(w, r, http.StatusNotFound, "request not found")
		return
	}
	entries, err := a.data.RequestHistory(r.Context(), id)
	if err != nil {
		handlePortalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}

func canSeeRequest(p portal.Principal, req *portal.CertificateRequest) bool {
	if p.Role == portal.RoleOfficial {
		return true
	}
	return p.Resident != nil && p.Resident.ID == req.ResidentID
}

// --- residents ---

func (a *API) handleResidentsCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := requireOfficial(w, r); !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": a.data.Residents()})
}

func (a *API) handleResidentResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/residents/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if id, ok := strings.CutSuffix(path, "/approve"); ok {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.approveResident(w, r, id)
		return
	}
	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getResident(w, r, path)
	case http.MethodPatch:
		a.updateResident(w, r, path)
	case http.MethodDelete:
		a.deleteResident(w, r, path)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) getResident(w http.ResponseWriter, r *http.Request, id string) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	if !canTouchResident(principal, id) {
		writeError(w, r, http.StatusForbidden, "officials only")
		return
	}
	resident := a.findResident(id)
	if resident == nil {
		writeError(w, r, http.StatusNotFound, "resident not found")
		return
	}
	writeJSON(w, http.StatusOK, resident)
}

func (a *API) updateResident(w http.ResponseWriter, r *http.Request, id string) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	if !canTouchResident(principal, id) {
		writeError(w, r, http.StatusForbidden, "officials only")
		return
	}

	var req residentUpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	ctx := audit.WithRequestID(r.Context(), RequestIDFromContext(r.Context()))
	updated, err := a.data.UpdateProfile(ctx, id, portal.ResidentUpdate{
		FirstName:  req.FirstName,
		MiddleName: req.MiddleName,
		LastName:   req.LastName,
		Age:        req.Age,
		Address:    req.Address,
		Contact:    req.Contact,
	})
	if err != nil {
		handlePortalError(w, r, err)
		return
	}
	_ = audit.LogEvent(ctx, "resident.updated", map[string]any{"resident_id": id})
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) deleteResident(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := requireOfficial(w, r); !ok {
		return
	}
	ctx := audit.WithRequestID(r.Context(), RequestIDFromContext(r.Context()))
	if err := a.data.DeleteResident(ctx, id); err != nil {
		handlePortalError(w, r, err)
		return
	}
	_ = audit.LogEvent(ctx, "resident.deleted", map[string]any{"resident_id": id})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) approveResident(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := requireOfficial(w, r); !ok {
		return
	}
	ctx := audit.WithRequestID(r.Context(), RequestIDFromContext(r.Context()))
	if err := a.data.ApproveResident(ctx, id); err != nil {
		handlePortalError(w, r, err)
		return
	}
	_ = audit.LogEvent(ctx, "resident.approved", map[string]any{"resident_id": id})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// canTouchResident allows officials everywhere and residents on their own
// profile only.
func canTouchResident(p portal.Principal, residentID string) bool {
	if p.Role == portal.RoleOfficial {
		return true
	}
	return p.Resident != nil && p.Resident.ID == residentID
}

// --- dashboard and notifications ---

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := requireOfficial(w, r); !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pending_requests": a.data.PendingCount(),
		"active_residents": a.data.ActiveResidentCount(),
		"total_requests":   len(a.data.Requests()),
		"total_residents":  len(a.data.Residents()),
	})
}

func (a *API) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := requireOfficial(w, r); !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": a.data.Notifications()})
}

func (a *API) handleNotificationResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/notifications/")

	if path == "read-all" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		if _, ok := requireOfficial(w, r); !ok {
			return
		}
		a.data.MarkAllNotificationsRead()
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if id, ok := strings.CutSuffix(path, "/read"); ok {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		if _, ok := requireOfficial(w, r); !ok {
			return
		}
		if !a.data.MarkNotificationRead(id) {
			writeError(w, r, http.StatusNotFound, "notification not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, r, http.StatusNotFound, "resource not found")
}

// --- snapshot lookups ---

func (a *API) findRequest(id string) *portal.CertificateRequest {
	for _, req := range a.data.Requests() {
		if req.ID == id {
			return req
		}
	}
	return nil
}

func (a *API) findResident(id string) *portal.Resident {
	if id == "" {
		return nil
	}
	for _, res := range a.data.Residents() {
		if res.ID == id {
			return res
		}
	}
	return nil
}
