package middleware

import "context"

type contextKey string

const (
	ctxUserID      contextKey = "user_id"
	ctxRole        contextKey = "actor_role"
	ctxWorkspaceID contextKey = "workspace_id"
)

func UserIDFromContext(ctx context.Context) string {
	return stringFromContext(ctx, ctxUserID)
}

func RoleFromContext(ctx context.Context) string {
	return stringFromContext(ctx, ctxRole)
}

func WorkspaceIDFromContext(ctx context.Context) string {
	return stringFromContext(ctx, ctxWorkspaceID)
}

func stringFromContext(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// WithUserID injects the user identifier into the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return withValue(ctx, ctxUserID, userID)
}

// WithWorkspaceID injects the workspace identifier into the context for downstream handlers.
func WithWorkspaceID(ctx context.Context, workspaceID string) context.Context {
	return withValue(ctx, ctxWorkspaceID, workspaceID)
}

// WithRole injects the caller's membership role.
func WithRole(ctx context.Context, role string) context.Context {
	return withValue(ctx, ctxRole, role)
}

func withValue(ctx context.Context, key contextKey, value string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, key, value)
}
