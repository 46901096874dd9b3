// internal/templates/manager.go
package templates

import (
	"context"
	"sort"
	"sync"

	"github.com/user/deepscout/internal/types"
)

// Manager caches templates in memory in front of a TemplateStore. Edits are
// applied to the cache first and rolled back if persistence fails, so the
// caller sees the change immediately but never a change the store rejected.
type Manager struct {
	store types.TemplateStore

	mu     sync.RWMutex
	cache  map[types.TemplateID]*types.Template
	loaded bool
}

// NewManager creates a Manager over the given store. The cache is populated
// lazily on first read.
func NewManager(store types.TemplateStore) *Manager {
	return &Manager{
		store: store,
		cache: make(map[types.TemplateID]*types.Template),
	}
}

// Refresh replaces the cache with the store's current contents.
func (m *Manager) Refresh(ctx context.Context) error {
	templates, err := m.store.List(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = make(map[types.TemplateID]*types.Template, len(templates))
	for _, tpl := range templates {
		copied := *tpl
		m.cache[tpl.ID] = &copied
	}
	m.loaded = true
	return nil
}

func (m *Manager) ensureLoaded(ctx context.Context) error {
	m.mu.RLock()
	loaded := m.loaded
	m.mu.RUnlock()
	if loaded {
		return nil
	}
	return m.Refresh(ctx)
}

// List returns all templates ordered by name.
func (m *Manager) List(ctx context.Context) ([]*types.Template, error) {
	if err := m.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]*types.Template, 0, len(m.cache))
	for _, tpl := range m.cache {
		copied := *tpl
		results = append(results, &copied)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Name < results[j].Name
	})
	return results, nil
}

// Get returns the template with the given id, or ErrNotFound.
func (m *Manager) Get(ctx context.Context, id types.TemplateID) (*types.Template, error) {
	if err := m.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	tpl, ok := m.cache[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *tpl
	return &copied, nil
}

// Resolve finds a template by id, falling back to a name match.
func (m *Manager) Resolve(ctx context.Context, ref string) (*types.Template, error) {
	if tpl, err := m.Get(ctx, types.TemplateID(ref)); err == nil {
		return tpl, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, tpl := range m.cache {
		if tpl.Name == ref {
			copied := *tpl
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

// Save applies the template to the cache, then persists it. If the store
// write fails the cached copy is restored to its previous state and the
// error is returned.
func (m *Manager) Save(ctx context.Context, tpl *types.Template) error {
	if err := m.ensureLoaded(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	prev, existed := m.cache[tpl.ID]
	copied := *tpl
	m.cache[tpl.ID] = &copied
	m.mu.Unlock()

	if err := m.store.Put(ctx, tpl); err != nil {
		m.mu.Lock()
		if existed {
			m.cache[tpl.ID] = prev
		} else {
			delete(m.cache, tpl.ID)
		}
		m.mu.Unlock()
		return err
	}
	return nil
}

// Delete removes the template from the cache, then from the store. If the
// store delete fails the cached copy is restored and the error is returned.
func (m *Manager) Delete(ctx context.Context, id types.TemplateID) error {
	if err := m.ensureLoaded(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	prev, existed := m.cache[id]
	if !existed {
		m.mu.Unlock()
		return ErrNotFound
	}
	delete(m.cache, id)
	m.mu.Unlock()

	if err := m.store.Delete(ctx, id); err != nil {
		m.mu.Lock()
		m.cache[id] = prev
		m.mu.Unlock()
		return err
	}
	return nil
}
