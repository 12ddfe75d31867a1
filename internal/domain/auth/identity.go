// Package auth carries the caller identity established by the transport layer.
package auth

import "context"

// Identity is an already-authenticated caller. UserID is the canonical key
// used for every ownership check.
type Identity struct {
	UserID string
	Email  string
}

// Owns reports whether the identity is the owner recorded on a resource.
func (i Identity) Owns(ownerID string) bool {
	return i.UserID != "" && i.UserID == ownerID
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity stored in ctx, if any.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok && id.UserID != ""
}
