package api

import (
	"context"
	"net"
	"net/http"
	"strconv"

	"github.com/Resinat/Relayd/internal/service"
)

// Server wraps the HTTP server and mux for the relayd API.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates a new API server wired with all routes.
// metricsHandler may be nil, in which case /metrics is not served.
func NewServer(
	listenAddress string,
	port int,
	adminToken string,
	cp *service.ControlPlaneService,
	metricsHandler http.Handler,
	apiMaxBodyBytes int64,
) *Server {
	mux := http.NewServeMux()

	// Public (no auth)
	mux.Handle("GET /healthz", HandleHealthz(cp))
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}

	// Authenticated routes
	authed := http.NewServeMux()
	authed.Handle("GET /api/v1/system/info", HandleSystemInfo(cp.GetSystemInfo()))

	// Relay list.
	authed.Handle("GET /api/v1/relay-list", HandleGetRelayListStatus(cp))
	authed.Handle("POST /api/v1/relay-list/actions/update", HandleTriggerRelayListUpdate(cp))

	// Relays.
	authed.Handle("GET /api/v1/relays", HandleListRelays(cp))
	authed.Handle("GET /api/v1/relays/{hostname}", HandleGetRelay(cp))
	authed.Handle("POST /api/v1/relays/preview-filter", HandlePreviewFilter(cp))

	// Overrides.
	authed.Handle("GET /api/v1/overrides", HandleGetOverrides(cp))
	authed.Handle("PUT /api/v1/overrides", HandleSetOverrides(cp))

	// Profiles.
	authed.Handle("GET /api/v1/profiles", HandleListProfiles(cp))
	authed.Handle("POST /api/v1/profiles", HandleCreateProfile(cp))
	authed.Handle("GET /api/v1/profiles/{id}", HandleGetProfile(cp))
	authed.Handle("PUT /api/v1/profiles/{id}", HandleUpdateProfile(cp))
	authed.Handle("DELETE /api/v1/profiles/{id}", HandleDeleteProfile(cp))
	authed.Handle("POST /api/v1/profiles/{id}/actions/select", HandleSelectRelay(cp))

	// Availability.
	authed.Handle("GET /api/v1/availability", HandleGetAvailability(cp))
	authed.Handle("PATCH /api/v1/availability", HandlePatchAvailability(cp))

	limitedAuthed := RequestBodyLimitMiddleware(apiMaxBodyBytes, authed)
	mux.Handle("/api/", AuthMiddleware(adminToken, limitedAuthed))

	srv := &http.Server{
		Addr:    net.JoinHostPort(listenAddress, strconv.Itoa(port)),
		Handler: mux,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
	}
}

// ListenAndServe starts the HTTP server. It blocks until the server stops.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.mux
}
