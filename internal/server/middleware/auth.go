// Package middleware provides HTTP middleware for the control plane API.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/devgrid/devgrid/internal/domain"
	"github.com/devgrid/devgrid/internal/services/auth"
)

// ContextKey is the type for context keys.
type ContextKey string

const (
	// ClaimsKey is the context key for JWT claims.
	ClaimsKey ContextKey = "claims"
	// UserIDKey is the context key for the authenticated user ID.
	UserIDKey ContextKey = "user_id"
	// RolesKey is the context key for the user's roles.
	RolesKey ContextKey = "roles"
)

// Authenticator verifies bearer tokens on incoming requests and attaches
// the resulting claims to the request context.
type Authenticator struct {
	jwtManager *auth.JWTManager
	logger     *zap.Logger
}

// NewAuthenticator creates a new authenticator.
func NewAuthenticator(jwtManager *auth.JWTManager, logger *zap.Logger) *Authenticator {
	return &Authenticator{
		jwtManager: jwtManager,
		logger:     logger.With(zap.String("middleware", "auth")),
	}
}

// Wrap returns a handler that requires a valid bearer token for every
// request except the public endpoints.
func (a *Authenticator) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicEndpoint(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			a.logger.Debug("Missing authorization header", zap.String("path", r.URL.Path))
			unauthorized(w, "missing authorization header")
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			unauthorized(w, "invalid authorization format, expected 'Bearer <token>'")
			return
		}

		claims, err := a.jwtManager.Verify(tokenString)
		if err != nil {
			a.logger.Debug("Token verification failed", zap.Error(err))
			unauthorized(w, "invalid or expired token")
			return
		}

		ctx := r.Context()
		ctx = context.WithValue(ctx, ClaimsKey, claims)
		ctx = context.WithValue(ctx, UserIDKey, claims.UserID)
		ctx = context.WithValue(ctx, RolesKey, claims.Roles)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, `{"code":"unauthenticated","message":%q}`, message)
}

// publicEndpoints lists path prefixes that don't require authentication.
var publicEndpoints = []string{
	"/health",
	"/healthz",
	"/ready",
	"/live",
	"/api/v1/info",
	"/api/v1/auth/login",
	"/api/v1/auth/refresh",
}

// isPublicEndpoint checks if a path is public (no auth required).
func isPublicEndpoint(path string) bool {
	for _, ep := range publicEndpoints {
		if path == ep || strings.HasPrefix(path, ep+"/") {
			return true
		}
	}
	return false
}

// GetClaims extracts JWT claims from the context.
func GetClaims(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*auth.Claims)
	return claims, ok
}

// GetUserID extracts the user ID from the context.
func GetUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok
}

// GetRoles extracts the user's roles from the context.
func GetRoles(ctx context.Context) ([]domain.Role, bool) {
	roles, ok := ctx.Value(RolesKey).([]domain.Role)
	return roles, ok
}

// RequireRole returns an error unless the user holds one of the roles.
func RequireRole(ctx context.Context, requiredRoles ...domain.Role) error {
	roles, ok := GetRoles(ctx)
	if !ok {
		return fmt.Errorf("not authenticated: %w", domain.ErrPermissionDenied)
	}

	for _, have := range roles {
		for _, want := range requiredRoles {
			if have == want {
				return nil
			}
		}
	}

	return fmt.Errorf("insufficient permissions: %w", domain.ErrPermissionDenied)
}

// RequirePermission returns an error unless the user's roles grant the
// permission.
func RequirePermission(ctx context.Context, permission domain.Permission) error {
	roles, ok := GetRoles(ctx)
	if !ok {
		return fmt.Errorf("not authenticated: %w", domain.ErrPermissionDenied)
	}

	if !domain.HasPermission(roles, permission) {
		return fmt.Errorf("insufficient permissions: %w", domain.ErrPermissionDenied)
	}

	return nil
}
