package core

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"turfwatch/internal/types"
)

// authPublicPaths lists paths served without credentials. Health probes and
// the API description must stay reachable for clients that have no key yet.
var authPublicPaths = map[string]bool{
	"/health":       true,
	"/openapi.json": true,
}

// AuthMiddleware guards requests behind API key authentication. The Bearer
// value from the Authorization header is resolved to an Actor through
// Server.Authenticator, and the Actor rides the request context from there.
// Refusals are always 401 with a code the caller can dispatch on:
//
//   - auth_api_key_missing: no usable Bearer credential was presented
//   - auth_api_key_invalid: unknown key, or any internal resolution failure
//   - auth_api_key_revoked: the key existed but was retired; reissue, do
//     not retry
//
// A nil Authenticator disables the guard entirely; handler tests rely on
// that.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Authenticator == nil || authPublicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		key := extractBearerToken(r.Header.Get("Authorization"))
		if key == "" {
			s.unauthorized(w, r, types.ErrCodeAuthKeyMissing, "Bearer API key is required")
			return
		}

		actor, err := s.Authenticator.ResolveKey(r.Context(), key)
		switch {
		case err != nil:
			s.rejectKey(w, r, err)
		case actor == nil:
			s.unauthorized(w, r, types.ErrCodeAuthKeyInvalid, "Invalid API key")
		default:
			next.ServeHTTP(w, r.WithContext(types.WithActor(r.Context(), *actor)))
		}
	})
}

// extractBearerToken pulls the credential out of an Authorization header.
// The scheme comparison is case-insensitive per RFC 7235. Anything that is
// not a well-formed Bearer header comes back empty.
func extractBearerToken(header string) string {
	scheme, credential, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(credential)
}

// rejectKey writes the 401 for a failed key resolution. The two codes the
// Authenticator may surface pass through to the client; everything else is
// logged server-side and collapsed into a generic answer so database and
// bcrypt failures never leak.
func (s *Server) rejectKey(w http.ResponseWriter, r *http.Request, err error) {
	attrs := []any{slog.String("method", r.Method), slog.String("path", r.URL.Path)}

	var appErr *types.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case types.ErrCodeAuthKeyRevoked:
			s.Logger.Warn("authentication refused: key revoked", attrs...)
			s.unauthorized(w, r, appErr.Code, "API key has been revoked")
			return
		case types.ErrCodeAuthKeyInvalid:
			s.Logger.Warn("authentication refused: key invalid", attrs...)
			s.unauthorized(w, r, appErr.Code, "Invalid API key")
			return
		}
	}

	s.Logger.Error("authentication failed", append(attrs, slog.String("error", err.Error()))...)
	s.unauthorized(w, r, types.ErrCodeAuthKeyInvalid, "Authentication failed")
}

// unauthorized writes a 401 in the standard error envelope.
func (s *Server) unauthorized(w http.ResponseWriter, r *http.Request, code types.ErrorCode, message string) {
	JSON(w, r, http.StatusUnauthorized, APIErrorResponse{
		Error: ErrorDetail{
			Code:      string(code),
			Message:   message,
			RequestID: types.GetRequestID(r.Context()),
		},
	})
}
