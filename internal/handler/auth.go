package handler

import (
	"context"
	"net/http"
	"strings"

	"mdstore/internal/svc"
	"mdstore/pkg/storage/remote"
)

type contextKey string

const permissionKey contextKey = "permission"

// AuthMiddleware resolves the bearer token into a permission set and
// attaches it to the request context. Unknown tokens simply carry no
// permissions; the per-endpoint checks produce the 403.
func AuthMiddleware(svcCtx *svc.ServiceContext) func(next http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			perm := svcCtx.PermissionFor(bearerToken(r))
			ctx := context.WithValue(r.Context(), permissionKey, perm)
			next(w, r.WithContext(ctx))
		}
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// permissionFrom reads the grants the middleware attached.
func permissionFrom(ctx context.Context) remote.Permission {
	if p, ok := ctx.Value(permissionKey).(remote.Permission); ok {
		return p
	}
	return remote.PermNone
}
