package domain

import "github.com/rotisserie/eris"

// Failure kinds of the proximity subsystem. All of them are handled inside the
// subsystem; callers only ever observe a missing notification.
var (
	// ErrCatalogUnavailable means the spot catalog could not be read in time.
	ErrCatalogUnavailable = eris.New("catalog unavailable")
	// ErrInvalidPosition means a reported coordinate or radius was out of range.
	ErrInvalidPosition = eris.New("invalid position")
	// ErrSessionNotFound means the session was never registered or was already removed.
	ErrSessionNotFound = eris.New("session not found")
	// ErrTransportFailure means a discovery could not be delivered to the client.
	ErrTransportFailure = eris.New("transport failure")
	// ErrNotFound means a catalog lookup by ID matched nothing.
	ErrNotFound = eris.New("not found")
)
