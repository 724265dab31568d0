package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrTenantNotFound marks a tenant id outside the configured tenant set.
// It is fatal for that tenant's scope only; siblings are unaffected.
var ErrTenantNotFound = errors.New("tenant not found")

// Registry resolves tenant ids to their isolated task stores. Each tenant
// gets its own sqlite database file under baseDir, so one tenant's tasks can
// never observe or mutate another's data.
type Registry struct {
	baseDir string
	tenants map[string]bool
	mu      sync.Mutex
	stores  map[string]*Store
}

func NewRegistry(baseDir string, tenants []string) (*Registry, error) {
	if err := os.MkdirAll(filepath.Join(baseDir, "tenants"), 0755); err != nil {
		return nil, fmt.Errorf("create tenants dir: %w", err)
	}
	set := make(map[string]bool, len(tenants))
	for _, t := range tenants {
		set[t] = true
	}
	return &Registry{
		baseDir: baseDir,
		tenants: set,
		stores:  make(map[string]*Store),
	}, nil
}

// Tenants lists the configured tenant ids.
func (r *Registry) Tenants() []string {
	ids := make([]string, 0, len(r.tenants))
	for id := range r.tenants {
		ids = append(ids, id)
	}
	return ids
}

// Resolve returns the tenant's store, opening it on first use.
func (r *Registry) Resolve(tenantID string) (*Store, error) {
	if !r.tenants[tenantID] {
		return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.stores[tenantID]; ok {
		return s, nil
	}

	dir := filepath.Join(r.baseDir, "tenants", tenantID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create tenant dir for %s: %w", tenantID, err)
	}
	s, err := Open(filepath.Join(dir, "tasks.db"))
	if err != nil {
		return nil, fmt.Errorf("open store for tenant %s: %w", tenantID, err)
	}
	r.stores[tenantID] = s
	return s, nil
}

// Close closes every opened tenant store.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for id, s := range r.stores {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close store for tenant %s: %w", id, err)
		}
		delete(r.stores, id)
	}
	return firstErr
}
