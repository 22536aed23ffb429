package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dukerupert/livinlog/internal/events"
	"github.com/dukerupert/livinlog/internal/handler"
	"github.com/dukerupert/livinlog/internal/household"
	"github.com/dukerupert/livinlog/internal/invite"
	"github.com/dukerupert/livinlog/internal/middleware"
	"github.com/dukerupert/livinlog/internal/router"
	"github.com/dukerupert/livinlog/internal/selection"
	"github.com/dukerupert/livinlog/internal/share"
	ws "github.com/dukerupert/livinlog/internal/websocket"
)

// Deps are the components the HTTP surface is built on.
type Deps struct {
	Router     *router.Router
	Households *household.Service
	Sharing    *share.Coordinator
	Invites    *invite.Flow
	Selection  *selection.Reconciler
	Hub        *ws.Hub
	// InviteLimiter throttles invitation submissions. Nil disables it.
	InviteLimiter *middleware.Limiter
}

type Server struct {
	deps        Deps
	routeH      *handler.RouteHandler
	householdH  *handler.HouseholdHandler
	shareH      *handler.ShareHandler
	invitationH *handler.InvitationHandler
	logger      *slog.Logger
}

func New(deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		deps:        deps,
		routeH:      handler.NewRouteHandler(deps.Router, logger.With("component", "route_handler")),
		householdH:  handler.NewHouseholdHandler(deps.Households, deps.Router, deps.Selection, logger.With("component", "household_handler")),
		shareH:      handler.NewShareHandler(deps.Sharing, deps.Households, logger.With("component", "share_handler")),
		invitationH: handler.NewInvitationHandler(deps.Invites, logger.With("component", "invitation_handler")),
		logger:      logger,
	}
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.deps.Hub, s.greeting, s.logger.With("component", "websocket")))

	// Routing
	mux.HandleFunc("GET /api/route", s.routeH.Get)
	mux.HandleFunc("POST /api/route/retry", s.routeH.Retry)
	mux.HandleFunc("POST /api/onboarding", s.householdH.Onboard)

	// Households and members
	mux.HandleFunc("GET /api/households/{id}", s.householdH.Get)
	mux.HandleFunc("PUT /api/households/{id}", s.householdH.Rename)
	mux.HandleFunc("DELETE /api/households/{id}", s.householdH.Delete)
	mux.HandleFunc("GET /api/households/{id}/members", s.householdH.ListMembers)
	mux.HandleFunc("POST /api/households/{id}/members", s.householdH.AddMember)
	mux.HandleFunc("DELETE /api/households/{id}/members/{member_id}", s.householdH.RemoveMember)
	mux.HandleFunc("GET /api/selection", s.householdH.GetSelection)
	mux.HandleFunc("PUT /api/selection", s.householdH.Select)

	// Sharing
	mux.HandleFunc("GET /api/households/{id}/share", s.shareH.Get)
	mux.HandleFunc("POST /api/households/{id}/share", s.shareH.Share)
	mux.HandleFunc("DELETE /api/households/{id}/share", s.shareH.Stop)
	mux.HandleFunc("PUT /api/households/{id}/share/policy", s.shareH.SetPolicy)

	// Invitations
	accept := http.Handler(http.HandlerFunc(s.invitationH.Accept))
	if s.deps.InviteLimiter != nil {
		accept = middleware.Limit(s.deps.InviteLimiter)(accept)
	}
	mux.Handle("POST /api/invitations", accept)
	mux.HandleFunc("GET /api/invitations/status", s.invitationH.Status)

	return middleware.RequestLogger(s.logger.With("component", "http"))(mux)
}

// greeting is the first websocket message a client receives.
func (s *Server) greeting() events.Event {
	snap := s.deps.Router.Snapshot()
	hid := ""
	if snap.Household != nil {
		hid = snap.Household.ID
	}
	return events.New(events.RouteChanged, hid, map[string]any{"state": string(snap.State)})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
		"route":  string(s.deps.Router.State()),
	})
}
