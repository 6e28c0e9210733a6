package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/sawpanic/scouter/internal/profile"
	"github.com/sawpanic/scouter/internal/readapi"
	"github.com/sawpanic/scouter/internal/records"
	"github.com/sawpanic/scouter/internal/scouterrors"
)

type handlers struct {
	deps Deps
}

func (h *handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *handlers) writeError(w http.ResponseWriter, err error) {
	status := scouterrors.HTTPStatus(err)
	if status >= 500 {
		h.deps.Log.Error().Err(err).Msg("request failed")
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// spaceOf extracts the authorization space from a message's first record.
func spaceOf(msg records.MessageRecord) string {
	if msg.ServerRecords == nil || len(msg.ServerRecords.Records) == 0 {
		return ""
	}
	rec := msg.ServerRecords.Records[0]
	switch {
	case rec.Spc != nil:
		return rec.Spc.Space
	case rec.Psi != nil:
		return rec.Psi.Space
	case rec.Custom != nil:
		return rec.Custom.Space
	}
	return ""
}

func (h *handlers) postMessage(w http.ResponseWriter, r *http.Request) {
	claims, err := h.deps.Auth.Authenticate(r.Context(), r)
	if err != nil {
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var msg records.MessageRecord
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed message"})
		return
	}
	if space := spaceOf(msg); space != "" && !claims.CanWrite(space) {
		h.writeJSON(w, http.StatusForbidden, map[string]string{"error": "missing write permission"})
		return
	}
	if err := h.deps.Pool.Enqueue(msg); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "queued"})
}

type profileRequest struct {
	Space     string            `json:"space"`
	DriftType profile.DriftType `json:"drift_type"`
	Profile   profile.Profile   `json:"profile"`
}

func (h *handlers) postProfile(w http.ResponseWriter, r *http.Request) {
	claims, err := h.deps.Auth.Authenticate(r.Context(), r)
	if err != nil {
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed profile"})
		return
	}
	if !claims.CanWrite(req.Space) {
		h.writeJSON(w, http.StatusForbidden, map[string]string{"error": "missing write permission"})
		return
	}
	if req.Profile.DriftType == "" {
		req.Profile.DriftType = req.DriftType
	}

	ent, err := h.deps.Profiles.Upsert(r.Context(), req.Profile)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if h.deps.Entities != nil {
		h.deps.Entities.Put(ent.UID, ent)
	}
	h.writeJSON(w, http.StatusOK, ent)
}

func (h *handlers) getProfile(w http.ResponseWriter, r *http.Request) {
	if _, err := h.deps.Auth.Authenticate(r.Context(), r); err != nil {
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	q := r.URL.Query()
	p, err := h.deps.Profiles.Get(r.Context(),
		q.Get("space"), q.Get("name"), q.Get("version"),
		profile.DriftType(q.Get("drift_type")))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

type profileStatusRequest struct {
	Space     string            `json:"space"`
	Name      string            `json:"name"`
	Version   string            `json:"version"`
	DriftType profile.DriftType `json:"drift_type"`
	Active    bool              `json:"active"`
}

func (h *handlers) putProfileStatus(w http.ResponseWriter, r *http.Request) {
	claims, err := h.deps.Auth.Authenticate(r.Context(), r)
	if err != nil {
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	var req profileStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed status update"})
		return
	}
	if !claims.CanWrite(req.Space) {
		h.writeJSON(w, http.StatusForbidden, map[string]string{"error": "missing write permission"})
		return
	}
	if err := h.deps.Profiles.SetActive(r.Context(), req.Space, req.Name, req.Version, req.DriftType, req.Active); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *handlers) getBinnedDrift(w http.ResponseWriter, r *http.Request) {
	if _, err := h.deps.Auth.Authenticate(r.Context(), r); err != nil {
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	vars := mux.Vars(r)
	q := r.URL.Query()

	maxPoints := 100
	if v := q.Get("max_data_points"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "max_data_points must be an integer"})
			return
		}
		maxPoints = n
	}

	out, err := h.deps.Read.GetBinnedDrift(r.Context(), readapi.BinnedDriftRequest{
		Space:         q.Get("space"),
		Name:          q.Get("name"),
		Version:       q.Get("version"),
		DriftType:     profile.DriftType(vars["drift_type"]),
		TimeInterval:  readapi.TimeInterval(q.Get("time_interval")),
		MaxDataPoints: maxPoints,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *handlers) getAlerts(w http.ResponseWriter, r *http.Request) {
	if _, err := h.deps.Auth.Authenticate(r.Context(), r); err != nil {
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	q := r.URL.Query()

	entityID, err := strconv.ParseInt(q.Get("entity_id"), 10, 64)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "entity_id must be an integer"})
		return
	}
	activeOnly := q.Get("active") == "true"
	limit := 100
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be an integer"})
			return
		}
	}
	var before *time.Time
	if v := q.Get("limit_datetime"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit_datetime must be RFC3339"})
			return
		}
		before = &t
	}

	alerts, err := h.deps.Alerts.List(r.Context(), entityID, activeOnly, limit, before)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, alerts)
}

type alertStatusRequest struct {
	ID     int64 `json:"id"`
	Active bool  `json:"active"`
}

func (h *handlers) putAlerts(w http.ResponseWriter, r *http.Request) {
	if _, err := h.deps.Auth.Authenticate(r.Context(), r); err != nil {
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	var req alertStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed alert update"})
		return
	}
	if err := h.deps.Alerts.SetActive(r.Context(), req.ID, req.Active); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *handlers) healthcheck(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "Alive"})
}
