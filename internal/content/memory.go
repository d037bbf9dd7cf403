package content

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Form is a form definition plus its stored submissions.
type Form struct {
	ID         int64            `yaml:"id"`
	Definition map[string]any   `yaml:"definition"`
	Entries    []map[string]any `yaml:"entries,omitempty"`
}

// MemoryStore is a concurrency-safe Store held in memory.
type MemoryStore struct {
	mu             sync.RWMutex
	packages       map[int64]Package
	packageOrder   []int64
	posts          map[int64]Post
	snippets       map[int64]Snippet
	options        map[string]any
	forms          map[int64]Form
	formsAvailable bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		packages: make(map[int64]Package),
		posts:    make(map[int64]Post),
		snippets: make(map[int64]Snippet),
		options:  make(map[string]any),
		forms:    make(map[int64]Form),
	}
}

// PutPackage inserts or replaces a package. Plugin references and option names
// are trimmed and blank ones dropped.
func (s *MemoryStore) PutPackage(pkg Package) error {
	if pkg.ID <= 0 {
		return fmt.Errorf("package id must be positive, got %d", pkg.ID)
	}
	pkg.Plugins = cleanStrings(pkg.Plugins)
	pkg.Options = cleanStrings(pkg.Options)
	if pkg.Status == "" {
		pkg.Status = StatusDraft
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.packages[pkg.ID]; !exists {
		s.packageOrder = append(s.packageOrder, pkg.ID)
	}
	s.packages[pkg.ID] = pkg
	return nil
}

func (s *MemoryStore) PutPost(post Post) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts[post.ID] = post
}

func (s *MemoryStore) PutSnippet(snippet Snippet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snippets[snippet.ID] = snippet
}

func (s *MemoryStore) SetOption(name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.options[name] = value
}

func (s *MemoryStore) DeleteOption(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.options, name)
}

// PutForm stores a form and turns the forms capability on.
func (s *MemoryStore) PutForm(form Form) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forms[form.ID] = form
	s.formsAvailable = true
}

func (s *MemoryStore) SetFormsAvailable(available bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.formsAvailable = available
}

func (s *MemoryStore) ListPackages(_ context.Context, status Status) ([]Package, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Package
	for _, id := range s.packageOrder {
		pkg := s.packages[id]
		if status == "" || pkg.Status == status {
			out = append(out, pkg)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetPackage(_ context.Context, id int64) (Package, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pkg, ok := s.packages[id]
	if !ok {
		return Package{}, fmt.Errorf("package %d: %w", id, ErrNotFound)
	}
	return pkg, nil
}

func (s *MemoryStore) GetPost(_ context.Context, id int64) (Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	post, ok := s.posts[id]
	if !ok {
		return Post{}, fmt.Errorf("post %d: %w", id, ErrNotFound)
	}
	return post, nil
}

func (s *MemoryStore) GetSnippet(_ context.Context, id int64) (Snippet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snippet, ok := s.snippets[id]
	if !ok {
		return Snippet{}, fmt.Errorf("snippet %d: %w", id, ErrNotFound)
	}
	return snippet, nil
}

func (s *MemoryStore) GetOption(_ context.Context, name string) (any, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.options[name]
	return value, ok, nil
}

func (s *MemoryStore) Available() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.formsAvailable
}

func (s *MemoryStore) GetForm(_ context.Context, id int64) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	form, ok := s.forms[id]
	if !ok {
		return nil, fmt.Errorf("form %d: %w", id, ErrNotFound)
	}
	return form.Definition, nil
}

// RecentEntries orders entries by their "date_created" field, newest first.
// Entries with equal or missing dates keep their stored order.
func (s *MemoryStore) RecentEntries(_ context.Context, formID int64, limit int) ([]map[string]any, error) {
	s.mu.RLock()
	form, ok := s.forms[formID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("form %d: %w", formID, ErrNotFound)
	}

	entries := make([]map[string]any, len(form.Entries))
	copy(entries, form.Entries)
	sort.SliceStable(entries, func(i, j int) bool {
		return dateCreated(entries[i]) > dateCreated(entries[j])
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func dateCreated(entry map[string]any) string {
	v, _ := entry["date_created"].(string)
	return v
}

func cleanStrings(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

var _ Store = (*MemoryStore)(nil)
