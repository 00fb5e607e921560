// Package health реализует проверки живости и готовности сервиса расчётов.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultCheckTimeout ограничивает одну проверку зависимости.
const DefaultCheckTimeout = 2 * time.Second

// Status — состояние компонента.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// Check содержит результат проверки одного компонента.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Critical   bool   `json:"critical"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Response описывает тело ответа /healthz.
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// Checker проверяет один компонент.
type Checker interface {
	Check(ctx context.Context) Check
}

// Pinger реализуют зависимости, доступность которых проверяется пингом (Postgres, Redis).
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler собирает проверки и отдаёт их по HTTP.
type Handler struct {
	mu        sync.RWMutex
	checkers  map[string]Checker
	version   string
	startTime time.Time
}

// NewHandler создаёт Handler с версией сборки в ответе.
func NewHandler(version string) *Handler {
	return &Handler{
		checkers:  make(map[string]Checker),
		version:   version,
		startTime: time.Now(),
	}
}

// RegisterChecker регистрирует проверку под именем. Повторная регистрация заменяет старую.
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = checker
}

// Names возвращает имена зарегистрированных проверок по алфавиту.
func (h *Handler) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.checkers))
	for name := range h.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run выполняет все проверки параллельно и сводит общий статус.
func (h *Handler) Run(ctx context.Context) (Status, map[string]Check) {
	h.mu.RLock()
	checkers := make(map[string]Checker, len(h.checkers))
	for k, v := range h.checkers {
		checkers[k] = v
	}
	h.mu.RUnlock()

	var (
		mu     sync.Mutex
		checks = make(map[string]Check, len(checkers))
	)
	g, gctx := errgroup.WithContext(ctx)
	for name, checker := range checkers {
		g.Go(func() error {
			check := checker.Check(gctx)
			mu.Lock()
			checks[name] = check
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	overall := StatusHealthy
	for _, check := range checks {
		switch {
		case check.Status == StatusUnhealthy && check.Critical:
			overall = StatusUnhealthy
		case check.Status != StatusHealthy && overall == StatusHealthy:
			overall = StatusDegraded
		}
	}
	return overall, checks
}

// ServeHTTP отдаёт подробный отчёт. 503 только при отказе критичного компонента.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	overall, checks := h.Run(r.Context())

	response := Response{
		Status:        overall,
		Timestamp:     time.Now().UTC(),
		Checks:        checks,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	}

	statusCode := http.StatusOK
	if overall == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

// LivenessHandler отвечает, что процесс жив. Зависимости не опрашиваются.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ReadinessHandler сообщает готовность принимать трафик, если все критичные зависимости отвечают.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	overall, _ := h.Run(r.Context())
	if overall == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// Register вешает /healthz, /readyz и /livez на mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("/healthz", h)
	mux.HandleFunc("/readyz", h.ReadinessHandler)
	mux.HandleFunc("/livez", LivenessHandler)
}

// FuncChecker выполняет проверку через функцию с таймаутом.
type FuncChecker struct {
	name     string
	critical bool
	timeout  time.Duration
	checkFn  func(ctx context.Context) error
}

// NewFuncChecker создаёт критичную проверку.
func NewFuncChecker(name string, checkFn func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, critical: true, timeout: DefaultCheckTimeout, checkFn: checkFn}
}

// NewPingChecker опрашивает Pinger. Некритичный компонент при отказе даёт degraded.
func NewPingChecker(name string, p Pinger, critical bool) *FuncChecker {
	c := NewFuncChecker(name, p.Ping)
	c.critical = critical
	return c
}

// WithTimeout меняет таймаут проверки.
func (c *FuncChecker) WithTimeout(d time.Duration) *FuncChecker {
	if d > 0 {
		c.timeout = d
	}
	return c
}

// Check выполняет проверку.
func (c *FuncChecker) Check(ctx context.Context) Check {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := c.checkFn(ctx)
	check := Check{
		Name:       c.name,
		Status:     StatusHealthy,
		Critical:   c.critical,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = err.Error()
	}
	return check
}
