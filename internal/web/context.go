package web

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/JonMunkholm/bidlog/internal/core"
	"github.com/JonMunkholm/bidlog/internal/filestore"
)

// UserHeader carries the caller's user id. Authentication happens in front
// of this service; the header is trusted as-is.
const UserHeader = "X-User-ID"

var errMissingUser = fmt.Errorf("%w: missing %s header", core.ErrInvalidRequest, UserHeader)

type ctxKey struct{}

// withUser stores the user id for handlers behind requireUser.
func withUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// userID returns the id stored by requireUser, or "".
func userID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// requireUser rejects requests without a user id, and ids that could not
// name a user directory in the file store.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(UserHeader))
		if id == "" {
			respondError(w, r, errMissingUser, http.StatusUnauthorized)
			return
		}
		if err := filestore.ValidUserID(id); err != nil {
			respondError(w, r, fmt.Errorf("%w: %s header: %w", core.ErrInvalidRequest, UserHeader, err), http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), id)))
	})
}
