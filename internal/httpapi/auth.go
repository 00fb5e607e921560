package httpapi

import (
	"context"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/settlement/internal/auth"
	"github.com/vladislavdragonenkov/settlement/internal/domain"
)

const bearerPrefix = "Bearer "

// TokenParser проверяет токен и возвращает claims.
type TokenParser interface {
	Parse(token string) (*auth.Claims, error)
}

type callerKey struct{}

// WithCaller кладёт вызывающего в контекст.
func WithCaller(ctx context.Context, caller domain.Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom достаёт вызывающего из контекста.
func CallerFrom(ctx context.Context) (domain.Caller, bool) {
	caller, ok := ctx.Value(callerKey{}).(domain.Caller)
	return caller, ok
}

// Authenticate требует валидный Bearer-токен. Без него запрос получает 401.
func Authenticate(tokens TokenParser, logger *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, bearerPrefix) {
				writeUnauthorized(w, "missing bearer token")
				return
			}
			token := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
			if token == "" || tokens == nil {
				writeUnauthorized(w, "missing bearer token")
				return
			}

			claims, err := tokens.Parse(token)
			if err != nil {
				logger.WithError(err).WithField("path", r.URL.Path).Debug("jwt authentication failed")
				writeUnauthorized(w, err.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), claims.Caller())))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusUnauthorized, errorBody{Error: errorPayload{Kind: "unauthorized", Message: message}})
}
