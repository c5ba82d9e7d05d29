package api

import (
	"cmp"
	"net/http"

	"github.com/Resinat/Relayd/internal/relay"
	"github.com/Resinat/Relayd/internal/service"
)

// HandleGetRelayListStatus returns a handler for GET /api/v1/relay-list.
func HandleGetRelayListStatus(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, cp.GetRelayListStatus())
	}
}

// HandleTriggerRelayListUpdate returns a handler for
// POST /api/v1/relay-list/actions/update. The refresh runs asynchronously.
func HandleTriggerRelayListUpdate(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cp.TriggerUpdate(); err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	}
}

// HandleListRelays returns a handler for GET /api/v1/relays. Filters:
// country, city, kind, active.
func HandleListRelays(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lr, ok := parseListRequest(w, r, []string{"hostname", "country", "city", "provider", "weight"})
		if !ok {
			return
		}
		active, err := ParseBoolQuery(r, "active")
		if err != nil {
			writeInvalidArgument(w, err.Error())
			return
		}
		q := r.URL.Query()
		relays, err := cp.ListRelays(service.RelayFilter{
			Country: q.Get("country"),
			City:    q.Get("city"),
			Kind:    q.Get("kind"),
			Active:  active,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeList(w, relays, lr, relayComparator)
	}
}

func relayComparator(sortBy string) func(a, b service.RelaySummary) int {
	switch sortBy {
	case "country":
		return ByKey(func(s service.RelaySummary) string { return s.CountryCode })
	case "city":
		return func(a, b service.RelaySummary) int {
			return cmp.Or(
				cmp.Compare(a.CountryCode, b.CountryCode),
				cmp.Compare(a.CityCode, b.CityCode),
			)
		}
	case "provider":
		return ByKey(func(s service.RelaySummary) string { return s.Provider })
	case "weight":
		return ByKey(func(s service.RelaySummary) uint64 { return s.Weight })
	default:
		return ByKey(func(s service.RelaySummary) string { return s.Hostname })
	}
}

// HandleGetRelay returns a handler for GET /api/v1/relays/{hostname}.
func HandleGetRelay(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := cp.GetRelay(PathParam(r, "hostname"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, summary)
	}
}

// HandlePreviewFilter returns a handler for POST /api/v1/relays/preview-filter.
func HandlePreviewFilter(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.PreviewFilterRequest
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		resp, err := cp.PreviewFilter(req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

// HandleGetOverrides returns a handler for GET /api/v1/overrides.
func HandleGetOverrides(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, cp.GetOverrides())
	}
}

// HandleSetOverrides returns a handler for PUT /api/v1/overrides. The body
// is the complete override set.
func HandleSetOverrides(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var overrides []relay.Override
		if err := DecodeBody(r, &overrides); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		out, err := cp.SetOverrides(overrides)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, out)
	}
}
