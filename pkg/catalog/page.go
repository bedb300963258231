// Package catalog fetches remote object catalogs from upstream providers.
// Clients surface continuation-token pagination and classify credential
// failures so callers can pause a connector instead of retrying forever.
package catalog

import "errors"

var (
	// ErrTokenRevoked indicates the provider rejected our credentials. The
	// connector should be paused; retrying cannot help.
	ErrTokenRevoked = errors.New("oauth token revoked or invalid")

	// ErrMissingRights indicates the authenticated user lacks the privilege
	// level the connector requires.
	ErrMissingRights = errors.New("oauth user is missing required rights")

	// ErrNotReadonly indicates the warehouse connection can mutate data and
	// must not be synced.
	ErrNotReadonly = errors.New("remote database connection is not read-only")
)

// Page is one page of a paginated catalog listing. NextLink is an opaque
// continuation token passed back verbatim on the next call. Callers must
// treat an empty Items with HasMore set as exhaustion.
type Page[T any] struct {
	Items    []T
	HasMore  bool
	NextLink string
}
