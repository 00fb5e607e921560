package httpapi

import (
	"encoding/json"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/settlement/internal/domain"
)

type errorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type errorBody struct {
	Error errorPayload `json:"error"`
}

// statusFor переводит категорию доменной ошибки в HTTP-статус.
func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindBadRequest:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict, domain.KindInvalidTransition:
		return http.StatusConflict
	case domain.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// writeError отвечает ошибкой. Текст внутренних ошибок клиенту не отдаётся.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	status := statusFor(kind)
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.WithError(err).WithFields(log.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("request failed")
		kind = domain.KindInternal
		message = "internal server error"
	}
	writeJSON(w, status, errorBody{Error: errorPayload{Kind: string(kind), Message: message}})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
