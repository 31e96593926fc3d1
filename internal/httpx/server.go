// Package httpx exposes the storefront over HTTP.
package httpx

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/safar/rewear-store/internal/config"
	"github.com/safar/rewear-store/internal/idempotency"
	"github.com/safar/rewear-store/internal/models"
	"github.com/safar/rewear-store/internal/orders"
)

const defaultRequestTimeout = 15 * time.Second

type OrderService interface {
	CreateOrder(ctx context.Context, caller orders.Caller, req orders.CreateOrderRequest) (*models.Order, error)
	UpdateStatus(ctx context.Context, caller orders.Caller, orderID, status string) (*models.Order, error)
	GetOrder(ctx context.Context, caller orders.Caller, id string) (*models.Order, error)
	ListMyOrders(ctx context.Context, caller orders.Caller, cursor string, limit int) (*models.CursorPage[models.Order], error)
	ListAllOrders(ctx context.Context, caller orders.Caller, status string, page, pageSize int) (*models.OffsetPage[models.Order], error)
}

type Catalog interface {
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	ListProducts(ctx context.Context, featuredOnly bool, page, pageSize int) (*models.OffsetPage[models.Product], error)
}

type Profiles interface {
	UserImpact(ctx context.Context, userID string) (models.ImpactTotals, error)
	ListUserBadges(ctx context.Context, userID string) ([]models.Badge, error)
}

// Idempotency guards POST /orders against retried submissions.
type Idempotency interface {
	Reserve(ctx context.Context, userID, key string) (idempotency.Result, error)
	Complete(ctx context.Context, userID, key, orderID string) error
	Release(ctx context.Context, userID, key string) error
}

type Deps struct {
	Orders   OrderService
	Catalog  Catalog
	Profiles Profiles
	// Idempotency is optional.
	Idempotency Idempotency
	// Ready is optional; it backs /readyz.
	Ready        func(ctx context.Context) error
	Authenticate func(http.Handler) http.Handler
	Logger       *zap.Logger

	Production     bool
	RequestTimeout time.Duration
}

type handler struct {
	orders     OrderService
	catalog    Catalog
	profiles   Profiles
	idem       Idempotency
	ready      func(ctx context.Context) error
	logger     *zap.Logger
	production bool
}

func NewRouter(d Deps) *chi.Mux {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := d.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	h := &handler{
		orders:     d.Orders,
		catalog:    d.Catalog,
		profiles:   d.Profiles,
		idem:       d.Idempotency,
		ready:      d.Ready,
		logger:     logger.Named("http"),
		production: d.Production,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestLogger(h.logger), middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", h.readyz)

	r.Route("/products", func(r chi.Router) {
		r.Get("/", h.listProducts)
		r.Get("/{id}", h.getProduct)
	})

	r.Group(func(r chi.Router) {
		r.Use(d.Authenticate)

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.createOrder)
			r.Get("/", h.listAllOrders)
			r.Get("/mine", h.listMyOrders)
			r.Get("/{id}", h.getOrder)
			r.Put("/{id}/status", h.updateStatus)
		})

		r.Route("/users/me", func(r chi.Router) {
			r.Get("/impact", h.myImpact)
			r.Get("/badges", h.myBadges)
		})
	})

	return r
}

func NewServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}
}

func (h *handler) readyz(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.ready(ctx); err != nil {
			h.logger.Warn("readiness check failed", zap.Error(err))
			writeErrorCode(w, http.StatusServiceUnavailable, "NOT_READY", "dependencies unavailable")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// ReadyAll runs every check and joins their failures.
func ReadyAll(checks ...func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		var errs error
		for _, check := range checks {
			errs = errors.Join(errs, check(ctx))
		}
		return errs
	}
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
