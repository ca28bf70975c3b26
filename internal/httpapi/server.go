// Package httpapi exposes the registration service over HTTP. Routing is
// chi; handlers decode the request, call the engine, orchestrator or listing
// path, and translate error kinds to status codes. Authentication happens
// upstream: the gateway injects the authenticated user id in the
// X-User-Id header and this package only relays it.
package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"goa.design/clue/health"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/conflict"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/domain"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/engine"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/telemetry"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/update"
)

// actorHeader carries the authenticated user id set by the upstream gateway.
const actorHeader = "X-User-Id"

type (
	// Engine is the registration surface the handlers call.
	Engine interface {
		Signup(ctx context.Context, actorID, eventID, roleID, notes, specialRequirements string) (*engine.EventView, error)
		Cancel(ctx context.Context, actorID, eventID, roleID string) (*engine.EventView, error)
		AssignUserToRole(ctx context.Context, actorID, eventID, userID, roleID, notes, specialRequirements string, suppressNotifications bool) (*engine.EventView, error)
		MoveUserBetweenRoles(ctx context.Context, actorID, eventID, userID, fromRoleID, toRoleID string) (*engine.EventView, error)
		RemoveUserFromRole(ctx context.Context, actorID, eventID, userID, roleID string) (*engine.EventView, error)
		SetGroupTopic(ctx context.Context, actorID, eventID, group, topic string) (*engine.EventView, error)
		DeclineAssignment(ctx context.Context, token string) error
		BuildEventView(ctx context.Context, eventID string) (*engine.EventView, error)
		RegistrationBreakdown(ctx context.Context, eventID string) (userCount, guestCount int, err error)
	}

	// Updater applies event patches.
	Updater interface {
		Apply(ctx context.Context, actorID, eventID string, patch update.Patch, flags update.Flags) (*update.Result, error)
	}

	// ConflictDetector answers the time-conflict probe.
	ConflictDetector interface {
		Detect(ctx context.Context, q conflict.Query) ([]domain.Event, error)
	}

	// Options configures the server.
	Options struct {
		Engine    Engine
		Updater   Updater
		Conflicts ConflictDetector
		Listings  *Listings
		// Pingers feed the health endpoints. Optional.
		Pingers []health.Pinger
		Logger  telemetry.Logger
	}

	// Server is the HTTP edge.
	Server struct {
		engine    Engine
		updater   Updater
		conflicts ConflictDetector
		listings  *Listings
		pingers   []health.Pinger
		logger    telemetry.Logger
	}
)

// New constructs the HTTP edge.
func New(opts Options) (*Server, error) {
	if opts.Engine == nil {
		return nil, errors.New("engine is required")
	}
	if opts.Updater == nil {
		return nil, errors.New("updater is required")
	}
	if opts.Conflicts == nil {
		return nil, errors.New("conflict detector is required")
	}
	if opts.Listings == nil {
		return nil, errors.New("listings are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NopLogger{}
	}
	return &Server{
		engine:    opts.Engine,
		updater:   opts.Updater,
		conflicts: opts.Conflicts,
		listings:  opts.Listings,
		pingers:   opts.Pingers,
		logger:    logger,
	}, nil
}

// Router builds the route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Route("/events", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Get("/time-conflict", s.handleTimeConflict)
		r.Route("/{eventID}", func(r chi.Router) {
			r.Get("/", s.handleGetEvent)
			r.Get("/has-registrations", s.handleHasRegistrations)
			r.Post("/signup", s.handleSignup)
			r.Post("/cancel", s.handleCancel)
			r.Post("/assign", s.handleAssign)
			r.Post("/move", s.handleMove)
			r.Post("/remove", s.handleRemove)
			r.Post("/workshop-topic/{group}", s.handleWorkshopTopic)
			r.Post("/update", s.handleUpdate)
		})
	})
	r.Post("/registrations/decline", s.handleDecline)

	checker := health.NewChecker(s.pingers...)
	r.Get("/healthz", health.Handler(checker))
	r.Get("/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

// actor returns the authenticated user id relayed by the gateway, or "".
func actor(r *http.Request) string {
	return r.Header.Get(actorHeader)
}
