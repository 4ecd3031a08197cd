package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"server/internal/http/handlers"
	"server/internal/middleware"
)

// Options tunes the router independent of the app container.
type Options struct {
	AllowedOrigins  []string
	RateLimitPerMin int
	// StaticDir, when set, is served under /static so filesystem-store
	// references resolve in development.
	StaticDir string
}

func NewRouter(app *handlers.App, log zerolog.Logger, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		chimw.RealIP,
		chimw.Recoverer,
		middleware.RequestID,
		middleware.Logger(log),
		middleware.CORS(opts.AllowedOrigins),
		middleware.AdminIdentity,
	)
	if opts.RateLimitPerMin > 0 {
		r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
	}

	r.Get("/v1/healthz", app.Health)

	r.Route("/requests", func(r chi.Router) {
		r.Post("/", app.CreateRequest)
		r.Get("/", app.ListRequests)
		r.Get("/stats", app.QueueStats)
		r.Get("/overdue", app.OverdueRequests)
		r.Get("/admin/{adminId}", app.RequestsByAdmin)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", app.GetRequest)
			r.Put("/", app.PatchRequest)
			r.Put("/cancel", app.CancelRequest)
			r.Put("/fail", app.FailRequest)

			// operator-only transitions
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin)
				r.Put("/assign", app.AssignRequest)
				r.Put("/start", app.StartRequest)
				r.Put("/complete", app.CompleteRequest)
				r.Put("/reject", app.RejectRequest)
			})

			r.Put("/images-draft", app.SaveImageDraft)
			r.Get("/images-draft", app.GetImageDrafts)
			r.Delete("/images-draft/{role}", app.DeleteImageDraft)
		})
	})

	r.Route("/sessions/{sessionId}/document", func(r chi.Router) {
		r.Post("/", app.EnsureSessionDocument)
		r.Get("/", app.GetSessionDocument)
		r.Delete("/", app.DeleteSessionDocument)
	})

	if opts.StaticDir != "" {
		fs := http.StripPrefix("/static/", http.FileServer(http.Dir(opts.StaticDir)))
		r.Get("/static/*", fs.ServeHTTP)
	}

	return r
}
