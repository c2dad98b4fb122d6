// Package interfaces defines the shared structures passed between the modelrelay
// components: the worker wire types consumed by the registry, router and translator,
// and the error envelope used by the HTTP handlers.
package interfaces

// ErrorMessage encapsulates an error with an associated HTTP status code.
// Handlers build it once and hand it to the shared error writer.
type ErrorMessage struct {
	// StatusCode is the HTTP status code returned to the client.
	StatusCode int

	// Error is the underlying error that occurred.
	Error error
}
