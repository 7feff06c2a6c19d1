/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, the middleware stack and the route table.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from proxy headers
  3. Access log: slog request logger + Prometheus HTTP metrics
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the front desk app
  6. Actor:      JWT bearer token (or X-Actor-* headers in development)

ROUTE GROUPS:
  /api/catalog/*      Time-off and blocked-time type catalogs
  /api/staff/*        Staff directory input, balances, blocked time
  /api/appointments/* Appointment input from the booking component
  /api/conflicts/*    Conflict checks
  /api/time-off/*     Request workflow, adjustments, year end
  /api/blocked-time/* Blocked time guard
  /api/closures/*     Closed period registry
  /api/resources/*    Resources and their bookings
  /api/bookings/*     Resource booking guard
  /api/sync/*         Replicated changes
  /metrics            Prometheus scrape endpoint
  /healthz            Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/warp/schedule-engine/auth"
	"github.com/warp/schedule-engine/logging"
	"github.com/warp/schedule-engine/metrics"
)

// Options configures the router's cross-cutting concerns. Zero values
// disable the corresponding feature.
type Options struct {
	CORSOrigins      []string
	Issuer           *auth.Issuer
	AllowHeaderActor bool
	Metrics          *metrics.Metrics
	MetricsPath      string
	Logger           *slog.Logger
}

// NewRouter creates a router with all routes configured.
func NewRouter(h *Handler, opts Options) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(opts.Logger, opts.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", auth.HeaderActorID, auth.HeaderActorRole, auth.HeaderDeviceID},
		AllowCredentials: true,
	}))
	r.Use(auth.Middleware(opts.Issuer, opts.AllowHeaderActor, rejectToken))
	r.Use(actorLog)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Metrics != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, opts.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/catalog", func(r chi.Router) {
			r.Post("/seed", h.SeedCatalogs)
			r.Route("/time-off-types", func(r chi.Router) {
				r.Get("/", h.ListTimeOffTypes)
				r.Post("/", h.CreateTimeOffType)
				r.Get("/{id}", h.GetTimeOffType)
				r.Put("/{id}", h.UpdateTimeOffType)
				r.Put("/{id}/active", h.SetTimeOffTypeActive)
				r.Delete("/{id}", h.DeleteTimeOffType)
			})
			r.Route("/blocked-time-types", func(r chi.Router) {
				r.Get("/", h.ListBlockedTimeTypes)
				r.Post("/", h.CreateBlockedTimeType)
				r.Get("/{id}", h.GetBlockedTimeType)
				r.Put("/{id}", h.UpdateBlockedTimeType)
				r.Put("/{id}/active", h.SetBlockedTimeTypeActive)
				r.Delete("/{id}", h.DeleteBlockedTimeType)
			})
		})

		r.Route("/staff", func(r chi.Router) {
			r.Get("/", h.ListStaff)
			r.Get("/{id}", h.GetStaff)
			r.Put("/{id}", h.PutStaff)
			r.Get("/{id}/blocked-time", h.ListStaffBlockedTime)
			r.Get("/{id}/balances/{typeID}", h.GetBalance)
			r.Get("/{id}/transactions/{typeID}", h.GetTransactions)
		})

		r.Route("/appointments", func(r chi.Router) {
			r.Get("/{id}", h.GetAppointment)
			r.Put("/{id}", h.PutAppointment)
		})

		r.Post("/conflicts/check", h.CheckConflicts)

		r.Route("/time-off", func(r chi.Router) {
			r.Route("/requests", func(r chi.Router) {
				r.Get("/", h.ListRequests)
				r.Post("/", h.SubmitRequest)
				r.Get("/{id}", h.GetRequest)
				r.Post("/{id}/approve", h.ApproveRequest)
				r.Post("/{id}/deny", h.DenyRequest)
				r.Post("/{id}/cancel", h.CancelRequest)
				r.Post("/{id}/recheck", h.RecheckRequest)
			})
			r.Post("/adjustments", h.CreateAdjustment)
			r.Post("/year-end", h.RunYearEnd)
		})

		r.Route("/blocked-time", func(r chi.Router) {
			r.Post("/", h.CreateBlockedTime)
			r.Get("/{id}", h.GetBlockedTime)
			r.Put("/{id}", h.UpdateBlockedTime)
			r.Delete("/{id}", h.DeleteBlockedTime)
		})

		r.Route("/closures", func(r chi.Router) {
			r.Get("/", h.ListClosures)
			r.Post("/", h.CreateClosure)
			r.Post("/blocking", h.BlockingClosures)
			r.Get("/{id}", h.GetClosure)
			r.Put("/{id}", h.UpdateClosure)
			r.Delete("/{id}", h.DeleteClosure)
		})

		r.Route("/resources", func(r chi.Router) {
			r.Get("/", h.ListResources)
			r.Post("/", h.CreateResource)
			r.Get("/{id}", h.GetResource)
			r.Get("/{id}/bookings", h.ListResourceBookings)
		})

		r.Route("/bookings", func(r chi.Router) {
			r.Post("/", h.BookResource)
			r.Get("/{id}", h.GetBooking)
			r.Put("/{id}", h.UpdateBooking)
			r.Post("/{id}/cancel", h.CancelBooking)
		})

		r.Post("/sync/changes", h.ApplyChange)
	})

	return r
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

// accessLog attaches a request-scoped logger to the context, then logs and
// measures the request once it completes.
func accessLog(base *slog.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			log := base.With("request_id", middleware.GetReqID(r.Context()))
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r.WithContext(logging.WithLogger(r.Context(), log)))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			elapsed := time.Since(start)
			m.ObserveHTTP(r.Method, route, status, elapsed)
			log.InfoContext(r.Context(), "http request",
				"method", r.Method, "route", route, "status", status,
				"duration_ms", elapsed.Milliseconds(), "remote", r.RemoteAddr)
		})
	}
}

// actorLog adds the actor to the request logger.
func actorLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor, ok := auth.ActorFrom(r.Context()); ok {
			log := logging.FromContext(r.Context()).With("actor_id", actor.ID, "device_id", actor.DeviceID)
			r = r.WithContext(logging.WithLogger(r.Context(), log))
		}
		next.ServeHTTP(w, r)
	})
}
