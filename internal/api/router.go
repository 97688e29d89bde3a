package api

import (
	"net/http"
	"time"

	"github.com/example/shop-checkout/internal/api/middleware"
	"github.com/example/shop-checkout/internal/auth"
	"github.com/example/shop-checkout/internal/metrics"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// RouterConfig carries what NewRouter needs besides the handlers.
type RouterConfig struct {
	JWT            *auth.JWTService
	Logger         zerolog.Logger
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
	RequestTimeout time.Duration
}

func NewRouter(handlers *Handlers, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(cfg.Logger, cfg.Metrics))
	r.Use(chimw.Recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(chimw.Timeout(cfg.RequestTimeout))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(cfg.Gatherer))
	}

	authn := middleware.AuthMiddleware(cfg.JWT)
	admin := middleware.RequireRole(auth.RoleAdmin)

	// Products
	r.Route("/products", func(r chi.Router) {
		r.Get("/", handlers.GetProducts)
		r.Get("/{id}", handlers.GetProduct)
		r.Group(func(r chi.Router) {
			r.Use(authn, admin)
			r.Post("/", handlers.CreateProduct)
			r.Put("/{id}", handlers.UpdateProduct)
			r.Delete("/{id}", handlers.DeleteProduct)
		})
	})

	// Cart
	r.Route("/cart", func(r chi.Router) {
		r.Use(authn)
		r.Get("/", handlers.GetCart)
		r.Delete("/", handlers.ClearCart)
		r.Post("/add", handlers.AddToCart)
		r.Put("/update", handlers.UpdateCartItem)
		r.Delete("/remove/{productId}", handlers.RemoveFromCart)
	})

	// Coupons
	r.Route("/coupons", func(r chi.Router) {
		r.Use(authn)
		r.Get("/", handlers.ListCoupons)
		r.Post("/apply", handlers.ApplyCoupon)
		r.With(admin).Post("/", handlers.CreateCoupon)
	})

	// Orders
	r.Route("/orders", func(r chi.Router) {
		r.Use(authn)
		r.Post("/", handlers.PlaceOrder)
		r.Get("/", handlers.GetOrders)
		r.Post("/razorpay", handlers.CreatePaymentIntent)
		r.Post("/verify", handlers.VerifyPayment)
		r.Get("/{id}", handlers.GetOrder)
		r.Put("/{id}/cancel", handlers.CancelOrder)
		r.With(admin).Put("/{id}/status", handlers.UpdateOrderStatus)
		r.With(admin).Get("/{id}/history", handlers.OrderHistory)
	})

	return otelhttp.NewHandler(r, "shop-api")
}
