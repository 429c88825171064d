package auth

import (
	"context"
	"sort"
	"strings"
)

// Roles carried in the Firebase "role" custom claim. Buyers, artists and show owners are
// all RoleUser; ownership of an order or ticket is decided by the services.
const (
	RoleUser  = "user"
	RoleStaff = "staff"
	RoleAdmin = "admin"
)

// Identity is the marketplace user behind a verified Firebase ID token.
type Identity struct {
	UID         string
	Email       string
	DisplayName string
	Roles       []string

	// EmailVerified mirrors the token's email_verified claim.
	EmailVerified bool
}

// HasRole reports whether the identity carries role, ignoring case.
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = normaliseRole(role)
	for _, r := range i.Roles {
		if role != "" && normaliseRole(r) == role {
			return true
		}
	}
	return false
}

// IsStaff reports whether the identity may act on orders and tickets it does not own.
func (i *Identity) IsStaff() bool {
	return i.HasRole(RoleStaff) || i.HasRole(RoleAdmin)
}

// roleSet normalises and de-duplicates roles, returning them sorted.
func roleSet(roles ...string) []string {
	seen := make(map[string]struct{}, len(roles))
	out := make([]string, 0, len(roles))
	for _, role := range roles {
		role = normaliseRole(role)
		if role == "" {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	sort.Strings(out)
	return out
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

type identityKey struct{}

// WithIdentity attaches a verified identity to ctx.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the identity installed by RequireFirebaseAuth.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*Identity)
	return identity, ok && identity != nil
}
