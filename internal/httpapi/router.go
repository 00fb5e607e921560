// Package httpapi реализует HTTP API сервиса: маршруты /api/v1, извлечение вызывающего из JWT
// и перевод доменных ошибок в HTTP-ответы.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/settlement/internal/domain"
	ordersvc "github.com/vladislavdragonenkov/settlement/internal/service/order"
)

// DefaultRequestTimeout ограничивает обработку одного запроса.
const DefaultRequestTimeout = 15 * time.Second

// OrderService перечисляет методы сервиса заказов, нужные обработчикам.
type OrderService interface {
	CreateOrder(ctx context.Context, caller domain.Caller, req ordersvc.CreateOrderRequest) (domain.Order, error)
	GetOrder(ctx context.Context, caller domain.Caller, orderID string) (domain.Order, error)
	ListOrders(ctx context.Context, caller domain.Caller, filter ordersvc.ListFilter) (ordersvc.Page, error)
	TrackOrder(ctx context.Context, caller domain.Caller, number string) (ordersvc.TrackingView, error)
	UpdateStatus(ctx context.Context, caller domain.Caller, orderID string, req ordersvc.UpdateStatusRequest) (domain.Order, error)
	ProcessRefund(ctx context.Context, caller domain.Caller, orderID string, req ordersvc.RefundRequest) (domain.Order, error)
	CapturePayment(ctx context.Context, caller domain.Caller, orderID string) (domain.Order, error)
}

// AnalyticsService отдаёт аналитику магазина.
type AnalyticsService interface {
	GetOrderAnalytics(ctx context.Context, caller domain.Caller, businessID string, r domain.AnalyticsRange) (domain.Analytics, error)
}

// Config содержит зависимости роутера.
type Config struct {
	Orders         OrderService
	Analytics      AnalyticsService
	Tokens         TokenParser
	Logger         *log.Entry
	RequestTimeout time.Duration
}

// Handler обслуживает API заказов.
type Handler struct {
	orders    OrderService
	analytics AnalyticsService
	logger    *log.Entry
}

// NewRouter собирает chi-роутер с middleware и маршрутами /api/v1.
func NewRouter(cfg Config) *chi.Mux {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New().WithField("component", "http-api")
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	h := &Handler{orders: cfg.Orders, analytics: cfg.Analytics, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Authenticate(cfg.Tokens, logger))
		h.Register(r)
	})
	return r
}

// Register регистрирует маршруты на уже аутентифицированном роутере.
func (h *Handler) Register(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.createOrder)
		r.Get("/", h.listOrders)
		r.Get("/track/{number}", h.trackOrder)
		r.Get("/{id}", h.getOrder)
		r.Patch("/{id}/status", h.updateStatus)
		r.Post("/{id}/refunds", h.refund)
		r.Post("/{id}/payment/capture", h.capturePayment)
	})
	r.Get("/businesses/{id}/analytics", h.getAnalytics)
}

func requestLogger(logger *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			logger.WithFields(log.Fields{
				"request_id": middleware.GetReqID(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start).String(),
			}).Debug("http request")
		})
	}
}
