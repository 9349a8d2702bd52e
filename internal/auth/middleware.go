package auth

import (
	"net/http"
	"strings"
)

// Middleware validates JWTs and enforces RBAC.
type Middleware struct {
	Secret      []byte
	Policy      Policy
	CommunityID string
}

// NewMiddleware constructs an auth middleware. A non-empty communityID
// rejects tokens issued for another community.
func NewMiddleware(secret []byte, policy Policy, communityID string) *Middleware {
	return &Middleware{Secret: secret, Policy: policy, CommunityID: communityID}
}

// Wrap applies auth and RBAC to the handler.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Policy.IsExempt(r) {
			next.ServeHTTP(w, r)
			return
		}

		required, ok := m.Policy.RequiredRole(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := ParseJWT(extractToken(r), m.Secret)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if m.CommunityID != "" && claims.CommunityID != m.CommunityID {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		role, _ := NormalizeRole(claims.Role)
		if !RoleAtLeast(role, required) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		ctx := WithIdentity(r.Context(), claims.CommunityID, role, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractToken reads a bearer header, falling back to the access_token query
// parameter that browsers use for websocket upgrades.
func extractToken(r *http.Request) string {
	if r == nil {
		return ""
	}
	if token := extractBearer(r); token != "" {
		return token
	}
	return r.URL.Query().Get("access_token")
}

func extractBearer(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
