package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/stylizer/internal/api/middleware"
	"github.com/kiranshivaraju/stylizer/internal/api/response"
	"github.com/kiranshivaraju/stylizer/internal/artifact"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	RateLimit *mw.RateLimit
	Layout    artifact.Layout

	HealthHandler http.HandlerFunc
	UploadHandler http.HandlerFunc
	StatusHandler http.HandlerFunc
	DeleteHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.Get("/api/health", orNotImplemented(deps.HealthHandler))

	r.Route("/api/images", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if deps.RateLimit != nil {
				r.Use(deps.RateLimit.Limit)
			}
			r.Post("/upload", orNotImplemented(deps.UploadHandler))
		})
		r.Get("/{id}", orNotImplemented(deps.StatusHandler))
		r.Delete("/{id}", orNotImplemented(deps.DeleteHandler))
	})

	if deps.Layout.Root != "" {
		r.Handle(artifact.OriginalURLPrefix+"*", staticFiles(artifact.OriginalURLPrefix, deps.Layout.OriginalDir()))
		r.Handle(artifact.ProcessedURLPrefix+"*", staticFiles(artifact.ProcessedURLPrefix, deps.Layout.ProcessedDir()))
	}

	return r
}

// staticFiles serves dir under prefix without directory listings.
func staticFiles(prefix, dir string) http.Handler {
	fs := http.StripPrefix(prefix, http.FileServer(http.Dir(dir)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == prefix || r.URL.Path[len(r.URL.Path)-1] == '/' {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "File not found", nil)
			return
		}
		fs.ServeHTTP(w, r)
	})
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
