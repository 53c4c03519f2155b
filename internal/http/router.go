package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fjod/pharmacy-cart/pkg/logger"
)

type RouterOptions struct {
	ServiceName    string
	RequestTimeout time.Duration
	Logger         *logger.Logger
	Gatherer       prometheus.Gatherer
}

// NewRouter mounts the cart API, health and metrics endpoints.
func NewRouter(cartHandler *CartHandler, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(Logging(opts.Logger))
	if opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(opts.RequestTimeout))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(OwnerMiddleware)
		r.Route("/cart", func(r chi.Router) {
			r.Get("/", cartHandler.GetCart)
			r.Delete("/", cartHandler.ClearCart)
			r.Post("/items", cartHandler.AddItem)
			r.Put("/items/{id}", cartHandler.UpdateQuantity)
			r.Delete("/items/{id}", cartHandler.RemoveItem)
			r.Post("/items/{id}/increase", cartHandler.IncreaseQuantity)
			r.Post("/items/{id}/decrease", cartHandler.DecreaseQuantity)
		})
	})

	name := opts.ServiceName
	if name == "" {
		name = "pharmacy-cart"
	}
	return otelhttp.NewHandler(r, name)
}
