package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/camden-git/framearchive/permissions"
)

// RouterConfig carries everything the HTTP API serves.
type RouterConfig struct {
	Frames         *FrameHandler
	Auth           Authenticator // nil disables authentication
	Events         http.HandlerFunc
	AllowedOrigins []string
	// uploads per minute and client address; 0 disables the limit
	UploadRateLimit int
}

// NewRouter builds the chi router for the archive API.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	})

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestContext)
	r.Use(AccessLog)
	r.Use(middleware.Recoverer)
	r.Use(Metrics)
	r.Use(corsHandler.Handler)

	r.Handle("/metrics", promhttp.Handler())
	if cfg.Events != nil {
		r.Get("/ws", cfg.Events)
	}

	permissionHandler := &PermissionHandler{}
	r.Get("/permissions/", permissionHandler.ListPermissionDefinitions)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Auth))
		r.Get("/permissions/me/", permissionHandler.CurrentPermissions)

		fh := cfg.Frames
		r.Route("/frames", func(r chi.Router) {
			read := r.With(RequirePermission(permissions.FramesRead))
			read.With(middleware.Timeout(60*time.Second)).Get("/", fh.ListFrames)
			read.With(middleware.Timeout(60*time.Second)).Get("/aggregate/", fh.AggregateFrames)
			read.Post("/zip/", fh.ZipFrames)
			read.Get("/{frame_id}/", fh.GetFrame)
			read.Get("/{frame_id}/download/", fh.DownloadFrame)
			read.Get("/{frame_id}/related/", fh.RelatedFrames)
			read.Get("/{frame_id}/headers/", fh.FrameHeaders)
			read.Get("/{frame_id}/catalog/", fh.FrameCatalog)

			ingest := r.With(RequirePermission(permissions.FramesIngest))
			if cfg.UploadRateLimit > 0 {
				ingest = ingest.With(httprate.LimitByIP(cfg.UploadRateLimit, time.Minute))
			}
			ingest.Post("/create/", fh.CreateFrames)

			remove := r.With(RequirePermission(permissions.FramesDelete))
			remove.Delete("/{frame_id}/", fh.DeleteFrame)
			remove.Get("/{frame_id}/delete/", fh.DeleteFrame)
		})
	})

	return r
}
