package api

import (
	"net/http"

	"github.com/Resinat/Relayd/internal/service"
)

type healthzResponse struct {
	Status string `json:"status"`
	Relays int    `json:"relays"`
}

// HandleHealthz returns a handler for GET /healthz.
// No authentication is required. The process is healthy as long as it
// serves; status is "degraded" while the relay list is empty.
func HandleHealthz(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthzResponse{Status: "ok", Relays: cp.Store.Snapshot().Len()}
		if resp.Relays == 0 {
			resp.Status = "degraded"
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}
