package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"salus.clinic/internal/audit"
	"salus.clinic/internal/fault"
	"salus.clinic/internal/ids"
	"salus.clinic/internal/store/pg"
	"salus.clinic/internal/tenancy"
)

const (
	authHeader      = "Authorization"
	bearer          = "Bearer "
	requestIDHeader = "X-Request-Id"
)

type sessionContextKey struct{}

func contextWithSession(ctx context.Context, sess *pg.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

func sessionFromContext(ctx context.Context) (*pg.Session, bool) {
	sess, ok := ctx.Value(sessionContextKey{}).(*pg.Session)
	return sess, ok && sess != nil
}

// authorize resolves the bearer token to a tenant scope and hands the scoped
// session to the handler through the context. The session lives exactly as
// long as the request.
func (a *API) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			respondFault(w, fault.Unauthenticated(fault.ReasonTokenMissing, err.Error()))
			return
		}

		sess, err := a.provider.Acquire(r.Context())
		if err != nil {
			respondFault(w, fault.Internal("acquire session", err))
			return
		}
		defer func() {
			if err := sess.Release(); err != nil {
				a.log.Warn().Err(err).Msg("release session")
			}
		}()

		authz, err := a.resolver.Resolve(r.Context(), sess, token)
		if err != nil {
			respondFault(w, err)
			return
		}

		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = ids.New()
		}
		w.Header().Set(requestIDHeader, requestID)

		ctx := tenancy.ContextWithAuthorization(r.Context(), authz)
		ctx = contextWithSession(ctx, sess)
		ctx = audit.WithRequestID(ctx, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestScope pulls the session and authorization a protected handler needs.
// Both are always present behind authorize; missing ones mean a wiring bug.
func requestScope(r *http.Request) (*pg.Session, tenancy.Context, error) {
	sess, ok := sessionFromContext(r.Context())
	if !ok {
		return nil, tenancy.Context{}, fault.Internal("no session on request", errors.New("handler mounted outside authorize"))
	}
	authz, ok := tenancy.AuthorizationFromContext(r.Context())
	if !ok {
		return nil, tenancy.Context{}, fault.Internal("no authorization on request", errors.New("handler mounted outside authorize"))
	}
	return sess, authz, nil
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
