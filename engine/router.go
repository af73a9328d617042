package engine

import (
	"context"
	"fmt"
	"net/url"
	"sync"
)

// Router is an Engine that forwards each call to the engine registered for
// the URI scheme of the table. Paths without a scheme use "file".
type Router struct {
	mu      sync.RWMutex
	engines map[string]Engine
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{engines: make(map[string]Engine)}
}

var defaultRouter = NewRouter()

// DefaultRouter returns the process-wide router that engine packages register
// themselves with.
func DefaultRouter() *Router {
	return defaultRouter
}

// Register binds scheme to e, replacing any previous registration.
func (r *Router) Register(scheme string, e Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[scheme] = e
}

// Schemes lists the registered schemes.
func (r *Router) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.engines))
	for s := range r.engines {
		out = append(out, s)
	}
	return out
}

func (r *Router) route(uri string) (Engine, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidTableLocation, uri, err)
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = "file"
	}
	r.mu.RLock()
	e, ok := r.engines[scheme]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no engine registered for scheme %q", ErrInvalidTableLocation, scheme)
	}
	return e, nil
}

func (r *Router) Load(ctx context.Context, req LoadRequest) (*Snapshot, error) {
	e, err := r.route(req.URI)
	if err != nil {
		return nil, err
	}
	return e.Load(ctx, req)
}

func (r *Router) Update(ctx context.Context, base *Snapshot, maxVersion int64) (*Snapshot, error) {
	e, err := r.route(base.URI)
	if err != nil {
		return nil, err
	}
	return e.Update(ctx, base, maxVersion)
}

func (r *Router) History(ctx context.Context, snap *Snapshot, limit int) ([]CommitInfo, error) {
	e, err := r.route(snap.URI)
	if err != nil {
		return nil, err
	}
	return e.History(ctx, snap, limit)
}

func (r *Router) Restore(ctx context.Context, snap *Snapshot, version int64) (*Snapshot, error) {
	e, err := r.route(snap.URI)
	if err != nil {
		return nil, err
	}
	return e.Restore(ctx, snap, version)
}

func (r *Router) Protocol(ctx context.Context, snap *Snapshot, version int64) (Protocol, error) {
	e, err := r.route(snap.URI)
	if err != nil {
		return Protocol{}, err
	}
	return e.Protocol(ctx, snap, version)
}

func (r *Router) Vacuum(ctx context.Context, snap *Snapshot, req VacuumRequest) ([]string, error) {
	e, err := r.route(snap.URI)
	if err != nil {
		return nil, err
	}
	return e.Vacuum(ctx, snap, req)
}

func (r *Router) Checkpoint(ctx context.Context, snap *Snapshot) error {
	e, err := r.route(snap.URI)
	if err != nil {
		return err
	}
	return e.Checkpoint(ctx, snap)
}
