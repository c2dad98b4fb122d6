// Package router resolves a model name to the endpoint of the worker serving it.
// It is a read-only facade over either the in-process registry or a remote
// controller reached over HTTP.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelrelay/modelrelay/internal/registry"
)

var (
	// ErrNoWorker means no registered worker serves the requested model.
	ErrNoWorker = errors.New("no worker available for model")

	// ErrControllerUnavailable means the controller could not be queried.
	ErrControllerUnavailable = errors.New("controller unavailable")
)

// Resolver answers registry lookups. An empty address means no worker.
type Resolver interface {
	GetWorkerAddress(ctx context.Context, model string) (string, error)
	ListModels(ctx context.Context) ([]string, error)
}

// Router resolves models through a Resolver.
type Router struct {
	resolver Resolver
}

// New returns a router backed by resolver.
func New(resolver Resolver) *Router {
	return &Router{resolver: resolver}
}

// Resolve returns the endpoint serving model, ErrNoWorker when there is none,
// or ErrControllerUnavailable when the lookup itself failed.
func (r *Router) Resolve(ctx context.Context, model string) (string, error) {
	address, err := r.resolver.GetWorkerAddress(ctx, model)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(address) == "" {
		return "", fmt.Errorf("%w: %s", ErrNoWorker, model)
	}
	return address, nil
}

// Models lists the model names currently served.
func (r *Router) Models(ctx context.Context) ([]string, error) {
	return r.resolver.ListModels(ctx)
}

// LocalResolver reads the in-process registry.
type LocalResolver struct {
	Registry *registry.Registry
}

// GetWorkerAddress implements Resolver.
func (l LocalResolver) GetWorkerAddress(_ context.Context, model string) (string, error) {
	return l.Registry.GetWorkerAddress(model), nil
}

// ListModels implements Resolver.
func (l LocalResolver) ListModels(context.Context) ([]string, error) {
	return l.Registry.ListModels(), nil
}
