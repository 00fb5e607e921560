package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/settlement/internal/domain"
	ordersvc "github.com/vladislavdragonenkov/settlement/internal/service/order"
)

const maxBodyBytes = 1 << 20

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	var req ordersvc.CreateOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	order, err := h.orders.CreateOrder(r.Context(), caller, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	order, err := h.orders.GetOrder(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	filter, err := parseListFilter(r.URL.Query())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	page, err := h.orders.ListOrders(r.Context(), caller, filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPageResponse(page))
}

func (h *Handler) trackOrder(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	view, err := h.orders.TrackOrder(r.Context(), caller, chi.URLParam(r, "number"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	var req ordersvc.UpdateStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	order, err := h.orders.UpdateStatus(r.Context(), caller, chi.URLParam(r, "id"), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) refund(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	var body refundRequest
	if err := decodeJSON(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	amount, err := decimal.NewFromString(body.Amount)
	if err != nil {
		h.writeError(w, r, domain.BadRequest("amount must be a decimal number"))
		return
	}

	order, err := h.orders.ProcessRefund(r.Context(), caller, chi.URLParam(r, "id"), ordersvc.RefundRequest{
		Amount: amount,
		Reason: body.Reason,
		Items:  body.Items,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) capturePayment(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	order, err := h.orders.CapturePayment(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) getAnalytics(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	q := r.URL.Query()

	var rng domain.AnalyticsRange
	var err error
	if rng.Start, err = parseTimeParam(q, "start", false); err != nil {
		h.writeError(w, r, err)
		return
	}
	if rng.End, err = parseTimeParam(q, "end", true); err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.analytics.GetOrderAnalytics(r.Context(), caller, chi.URLParam(r, "id"), rng)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAnalyticsResponse(result))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.BadRequest("request body is required")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return domain.BadRequest("request body too large")
		}
		return domain.BadRequest("invalid request body: %v", err)
	}
	return nil
}

func parseListFilter(q url.Values) (ordersvc.ListFilter, error) {
	filter := ordersvc.ListFilter{
		Scope:         domain.ListScope(q.Get("scope")),
		BusinessID:    q.Get("business_id"),
		Status:        domain.OrderStatus(q.Get("status")),
		PaymentStatus: domain.PaymentStatus(q.Get("payment_status")),
	}

	var err error
	if filter.From, err = parseTimeParam(q, "from", false); err != nil {
		return ordersvc.ListFilter{}, err
	}
	if filter.To, err = parseTimeParam(q, "to", true); err != nil {
		return ordersvc.ListFilter{}, err
	}
	if filter.Page, err = parseIntParam(q, "page"); err != nil {
		return ordersvc.ListFilter{}, err
	}
	if filter.Limit, err = parseIntParam(q, "limit"); err != nil {
		return ordersvc.ListFilter{}, err
	}
	return filter, nil
}

// parseTimeParam принимает RFC3339 или дату YYYY-MM-DD.
// Для верхней границы дата означает конец дня в UTC.
func parseTimeParam(q url.Values, name string, endOfDay bool) (*time.Time, error) {
	raw := q.Get(name)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		t = t.UTC()
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, domain.BadRequest("%s must be RFC3339 or YYYY-MM-DD", name)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func parseIntParam(q url.Values, name string) (int, error) {
	raw := q.Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.BadRequest("%s must be an integer", name)
	}
	return v, nil
}
