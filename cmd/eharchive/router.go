package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/phrazzld/eharchive/internal/api"
	apiMiddleware "github.com/phrazzld/eharchive/internal/api/middleware"
	"github.com/phrazzld/eharchive/internal/domain"
)

// setupRouter creates and configures the application router with all routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware(app.logger))

	authHandler := api.NewAuthHandler(app.db, app.config.Server.TokenTTL)
	authMiddleware := apiMiddleware.NewAuthMiddleware(app.db)
	taskHandler := api.NewTaskHandler(app.manager)

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", authHandler.Login)
		r.Get("/health", api.Health)

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)
			r.Delete("/token", authHandler.Logout)
			r.Get("/user/me", authHandler.Me)

			r.Group(func(r chi.Router) {
				r.Use(apiMiddleware.RequirePermission(domain.PermissionManageTasks))
				r.Get("/tasks", taskHandler.List)
				r.Route("/task", func(r chi.Router) {
					r.Put("/download", taskHandler.Download)
					r.Put("/export_zip", taskHandler.ExportZip)
					r.Put("/import", taskHandler.Import)
					r.Put("/fix_gallery_page", taskHandler.FixGalleryPage)
					r.Put("/update_meili_search_data", taskHandler.UpdateMeiliSearchData)
					r.Put("/update_tag_translation", taskHandler.UpdateTagTranslation)
				})
			})
		})
	})

	return r
}
