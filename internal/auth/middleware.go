package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-recargo/internal/common"
)

var errNoToken = errors.New("auth: token missing")

// Middleware guards the extension API with Shopify session tokens.
type Middleware struct {
	Verifier *SessionVerifier
	Logger   zerolog.Logger
}

// RequireSession rejects requests without a valid bearer session token and
// stores the session shop and user on the request context.
func (m Middleware) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Verifier == nil {
			common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "session verifier not configured", nil)
			return
		}
		token := bearerToken(r)
		if token == "" {
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
			return
		}
		sess, err := m.Verifier.Verify(token)
		if err != nil {
			m.Logger.Debug().Err(errors.Unwrap(err)).Msg("session token rejected")
			var appErr *common.AppError
			if errors.As(err, &appErr) {
				common.JSONError(w, appErr.HTTPStatus, appErr.Code, appErr.Message, nil)
				return
			}
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
			return
		}
		ctx := common.WithShop(r.Context(), sess.Shop)
		if sess.UserID != "" {
			ctx = common.WithUserID(ctx, sess.UserID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
