package interceptors

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/osrs-friend-monitor/friend-monitor-server/infra/auth"
)

type contextKey string

const (
	// AuthUserKey is the key used to store/retrieve the authenticated user id from context
	AuthUserKey contextKey = "auth_user"
)

// NewAuthInterceptor rejects requests without a valid bearer token. Websocket clients that
// cannot set headers pass the token as the access_token query parameter.
func NewAuthInterceptor(verifier *auth.Verifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// [PRE_AUTH] Validate identity before the handler runs
			claims, err := verifier.Verify(tokenFrom(r))
			if err != nil {
				logger.Debug("AUTH_REJECTED", "path", r.URL.Path, "err", err)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			// [ENRICHMENT] Inject the identity into the context for downstream handlers
			ctx := context.WithValue(r.Context(), AuthUserKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func tokenFrom(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}

// GetAuthUser is a helper to extract the identity from context safely.
func GetAuthUser(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(AuthUserKey).(string)
	return userID, ok && userID != ""
}
