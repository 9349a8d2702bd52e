package auth

import "context"

type contextKey string

const (
	contextKeyCommunity contextKey = "auth.community_id"
	contextKeyRole      contextKey = "auth.role"
	contextKeySubject   contextKey = "auth.subject"
)

// WithIdentity stores the caller identity in context.
func WithIdentity(ctx context.Context, communityID string, role Role, subject string) context.Context {
	ctx = context.WithValue(ctx, contextKeyCommunity, communityID)
	ctx = context.WithValue(ctx, contextKeyRole, role)
	ctx = context.WithValue(ctx, contextKeySubject, subject)
	return ctx
}

// CommunityIDFromContext extracts the community id from context.
func CommunityIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if communityID, ok := ctx.Value(contextKeyCommunity).(string); ok {
		return communityID
	}
	return ""
}

// RoleFromContext extracts role from context.
func RoleFromContext(ctx context.Context) Role {
	if ctx == nil {
		return ""
	}
	value := ctx.Value(contextKeyRole)
	if role, ok := value.(Role); ok {
		return role
	}
	if role, ok := value.(string); ok {
		if normalized, valid := NormalizeRole(role); valid {
			return normalized
		}
	}
	return ""
}

// SubjectFromContext extracts subject from context.
func SubjectFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if subject, ok := ctx.Value(contextKeySubject).(string); ok {
		return subject
	}
	return ""
}

// RequireRole returns ErrForbidden unless the context carries at least required.
func RequireRole(ctx context.Context, required Role) error {
	role := RoleFromContext(ctx)
	if role == "" {
		return ErrUnauthorized
	}
	if !RoleAtLeast(role, required) {
		return ErrForbidden
	}
	return nil
}

// System returns a context acting as the internal operator.
func System(ctx context.Context, communityID string) context.Context {
	return WithIdentity(ctx, communityID, RoleOperator, "system")
}
