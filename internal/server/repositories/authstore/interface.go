// Package authstore provides the persistent key/value stores consumed by the
// authentication subsystem. State and session storage share the same shape
// but are kept as distinct capability types so callers cannot cross-use them.
package authstore

import "context"

// StateStore holds short-lived OAuth authorization state, keyed by an opaque
// state key. Values are serialized by the auth subsystem; this store does not
// interpret them.
type StateStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// SessionStore holds long-lived OAuth sessions keyed by account DID.
type SessionStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}
