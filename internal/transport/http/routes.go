package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"
)

func Routes(h *Handler, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	// базовые middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// наш логгер (после RequestID)
	r.Use(RequestLogger(logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/detect", func(r chi.Router) {
		r.Post("/webhook", h.Webhook)
		r.Get("/status/{jobId}", h.GetStatus)
		r.Get("/results/{type}/{imageId}", h.ListResults)
		r.Post("/{type}/{imageId}", h.SubmitDetection)
	})

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	return r
}
