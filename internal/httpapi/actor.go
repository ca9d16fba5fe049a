package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/safar/go-marketplace/internal/apperr"
	"github.com/safar/go-marketplace/internal/authz"
)

// UserIDHeader carries the caller identity set by the authenticating proxy.
const UserIDHeader = "X-User-ID"

type actorKey struct{}

func actorFromContext(ctx context.Context) (authz.Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(authz.Actor)
	return a, ok
}

// requireActor resolves the caller's role through dir and stores the actor on
// the request context.
func requireActor(dir authz.Directory) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			raw := strings.TrimSpace(r.Header.Get(UserIDHeader))
			if raw == "" {
				writeAPIError(ctx, w, newAPIError("unauthenticated", "missing "+UserIDHeader+" header", http.StatusUnauthorized))
				return
			}
			userID, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || userID <= 0 {
				writeAPIError(ctx, w, newAPIError("unauthenticated", "invalid "+UserIDHeader+" header", http.StatusUnauthorized))
				return
			}

			actor, err := authz.Resolve(ctx, dir, userID)
			if err != nil {
				if errors.Is(err, apperr.ErrUserNotFound) {
					writeAPIError(ctx, w, newAPIError("unauthenticated", "unknown user", http.StatusUnauthorized))
					return
				}
				writeError(ctx, w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, actorKey{}, actor)))
		})
	}
}
