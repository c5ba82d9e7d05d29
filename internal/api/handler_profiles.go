package api

import (
	"net/http"
	"time"

	"github.com/Resinat/Relayd/internal/profile"
	"github.com/Resinat/Relayd/internal/service"
)

// HandleListProfiles returns a handler for GET /api/v1/profiles.
func HandleListProfiles(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lr, ok := parseListRequest(w, r, []string{"name", "id", "updated_at"})
		if !ok {
			return
		}
		writeList(w, cp.ListProfiles(), lr, profileComparator)
	}
}

func profileComparator(sortBy string) func(a, b service.ProfileResponse) int {
	switch sortBy {
	case "id":
		return ByKey(func(p service.ProfileResponse) string { return p.ID })
	case "updated_at":
		return ByKey(func(p service.ProfileResponse) int64 {
			t, _ := time.Parse(time.RFC3339Nano, p.UpdatedAt)
			return t.UnixNano()
		})
	default:
		return ByKey(func(p service.ProfileResponse) string { return p.Spec.Name })
	}
}

// profileID reads the {id} path value, which must be a canonical UUID.
func profileID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := PathParam(r, "id")
	if !ValidateUUID(id) {
		writeInvalidArgument(w, "profile_id: must be a valid UUID")
		return "", false
	}
	return id, true
}

// HandleGetProfile returns a handler for GET /api/v1/profiles/{id}.
func HandleGetProfile(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := profileID(w, r)
		if !ok {
			return
		}
		p, err := cp.GetProfile(id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, p)
	}
}

// HandleCreateProfile returns a handler for POST /api/v1/profiles.
func HandleCreateProfile(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var spec profile.Spec
		if err := DecodeBody(r, &spec); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		p, err := cp.CreateProfile(spec)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, p)
	}
}

// HandleUpdateProfile returns a handler for PUT /api/v1/profiles/{id}.
func HandleUpdateProfile(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := profileID(w, r)
		if !ok {
			return
		}
		var spec profile.Spec
		if err := DecodeBody(r, &spec); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		p, err := cp.UpdateProfile(id, spec)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, p)
	}
}

// HandleDeleteProfile returns a handler for DELETE /api/v1/profiles/{id}.
func HandleDeleteProfile(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := profileID(w, r)
		if !ok {
			return
		}
		if err := cp.DeleteProfile(id); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleSelectRelay returns a handler for POST /api/v1/profiles/{id}/actions/select.
// An empty body selects for the first attempt.
func HandleSelectRelay(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := profileID(w, r)
		if !ok {
			return
		}
		var req service.SelectRelayRequest
		if r.ContentLength != 0 {
			if err := DecodeBody(r, &req); err != nil {
				writeDecodeBodyError(w, err)
				return
			}
		}
		sel, err := cp.SelectRelay(id, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, sel)
	}
}
