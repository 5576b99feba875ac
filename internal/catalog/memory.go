package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Backend. Entries keep insertion order so the
// earliest-created tie-break is deterministic even when clocks collide.
type MemoryStore struct {
	mu        sync.RWMutex
	entries   []Entry
	templates map[string]MappingTemplate
	runs      []ImportRun
	audit     []AuditRecord

	now func() time.Time
}

// NewMemoryStore returns an empty store, optionally seeded with entries.
func NewMemoryStore(seed ...Entry) *MemoryStore {
	m := &MemoryStore{
		templates: make(map[string]MappingTemplate),
		now:       time.Now,
	}
	for _, e := range seed {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = m.now()
		}
		m.entries = append(m.entries, e)
	}
	m.sortEntries()
	return m
}

func (m *MemoryStore) sortEntries() {
	sort.SliceStable(m.entries, func(i, j int) bool {
		return m.entries[i].CreatedAt.Before(m.entries[j].CreatedAt)
	})
}

// FindByTitleAndComposer implements Reader.
func (m *MemoryStore) FindByTitleAndComposer(ctx context.Context, title, composer string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, e := range m.entries {
		if !containsFold(e.Title, title) {
			continue
		}
		if composer != "" && !containsFold(Deref(e.Composer), composer) {
			continue
		}
		found := e
		return &found, nil
	}
	return nil, nil
}

// ListCandidates implements Reader.
func (m *MemoryStore) ListCandidates(ctx context.Context, composer string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		if composer != "" && !containsFold(Deref(e.Composer), composer) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// List implements Reader.
func (m *MemoryStore) List(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := append([]Entry(nil), m.entries...)
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

// Get returns a copy of the entry with the given id.
func (m *MemoryStore) Get(id string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entries {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// Len returns the number of catalog entries.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Create implements Writer.
func (m *MemoryStore) Create(ctx context.Context, ne NewEntry) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	date := dateOnly(ne.LastInventoryDate)
	e := Entry{
		ID:                  uuid.NewString(),
		Title:               ne.Title,
		Composer:            ne.Composer,
		Voicing:             ne.Voicing,
		PhysicalCopiesCount: ne.PhysicalCopiesCount,
		PhysicalLocation:    ne.PhysicalLocation,
		LastInventoryDate:   &date,
		IsPublic:            ne.IsPublic,
		CreatedBy:           ne.CreatedBy,
		CreatedAt:           m.now(),
	}

	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
	return e.ID, nil
}

// Update implements Writer.
func (m *MemoryStore) Update(ctx context.Context, id string, p Patch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.entries {
		if m.entries[i].ID != id {
			continue
		}
		date := dateOnly(p.LastInventoryDate)
		m.entries[i].PhysicalCopiesCount = p.PhysicalCopiesCount
		m.entries[i].PhysicalLocation = p.PhysicalLocation
		m.entries[i].LastInventoryDate = &date
		if p.Voicing != nil {
			m.entries[i].Voicing = p.Voicing
		}
		return nil
	}
	return fmt.Errorf("update entry %s: %w", id, ErrNotFound)
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }

// SaveTemplate implements MetaStore.
func (m *MemoryStore) SaveTemplate(ctx context.Context, t MappingTemplate) (MappingTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, existing := range m.templates {
		if existing.Name == t.Name && id != t.ID {
			return MappingTemplate{}, fmt.Errorf("template %q already exists", t.Name)
		}
	}

	now := m.now()
	if t.ID == "" {
		t.ID = uuid.NewString()
		t.CreatedAt = now
	} else if prev, ok := m.templates[t.ID]; ok {
		t.CreatedAt = prev.CreatedAt
	} else {
		return MappingTemplate{}, fmt.Errorf("template %s: %w", t.ID, ErrNotFound)
	}
	t.UpdatedAt = now
	m.templates[t.ID] = t
	return t, nil
}

// GetTemplate implements MetaStore.
func (m *MemoryStore) GetTemplate(ctx context.Context, id string) (*MappingTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.templates[id]
	if !ok {
		return nil, fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	return &t, nil
}

// ListTemplates implements MetaStore.
func (m *MemoryStore) ListTemplates(ctx context.Context) ([]MappingTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]MappingTemplate, 0, len(m.templates))
	for _, t := range m.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// DeleteTemplate implements MetaStore.
func (m *MemoryStore) DeleteTemplate(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.templates[id]; !ok {
		return fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	delete(m.templates, id)
	return nil
}

// SaveRun implements MetaStore.
func (m *MemoryStore) SaveRun(ctx context.Context, run ImportRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

// GetRun implements MetaStore.
func (m *MemoryStore) GetRun(ctx context.Context, id string) (*ImportRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.runs {
		if r.ID == id {
			run := r
			return &run, nil
		}
	}
	return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
}

// ListRuns implements MetaStore, newest first.
func (m *MemoryStore) ListRuns(ctx context.Context, limit int) ([]ImportRun, error) {
	limit = normalizeLimit(limit)
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ImportRun, 0, min(limit, len(m.runs)))
	for i := len(m.runs) - 1; i >= 0 && len(out) < limit; i-- {
		r := m.runs[i]
		r.Outcomes = nil
		out = append(out, r)
	}
	return out, nil
}

// AppendAudit implements MetaStore.
func (m *MemoryStore) AppendAudit(ctx context.Context, rec AuditRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = m.now()
	}
	m.mu.Lock()
	m.audit = append(m.audit, rec)
	m.mu.Unlock()
	return nil
}

// ListAudit implements MetaStore, newest first.
func (m *MemoryStore) ListAudit(ctx context.Context, limit int) ([]AuditRecord, error) {
	limit = normalizeLimit(limit)
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]AuditRecord, 0, min(limit, len(m.audit)))
	for i := len(m.audit) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.audit[i])
	}
	return out, nil
}
