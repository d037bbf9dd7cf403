// Package content defines the contracts the bundle service consumes from the
// content store: packages, posts, views, snippets, options and forms. The
// store itself lives outside this service; MemoryStore backs tests and the
// file-loaded development gateway.
package content

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("not found")

type Status string

const (
	StatusPublish Status = "publish"
	StatusDraft   Status = "draft"
)

// Package is an operator-curated set of asset references. The references are
// opaque: nothing checks that the assets still exist.
type Package struct {
	ID       int64    `yaml:"id" json:"id"`
	Title    string   `yaml:"title" json:"title"`
	Status   Status   `yaml:"status" json:"status"`
	Pages    []int64  `yaml:"pages,omitempty" json:"pages,omitempty"`
	Forms    []int64  `yaml:"forms,omitempty" json:"forms,omitempty"`
	Snippets []int64  `yaml:"snippets,omitempty" json:"snippets,omitempty"`
	Views    []int64  `yaml:"views,omitempty" json:"views,omitempty"`
	Plugins  []string `yaml:"plugins,omitempty" json:"plugins,omitempty"`
	Options  []string `yaml:"options,omitempty" json:"options,omitempty"`
}

func (p Package) Published() bool {
	return p.Status == StatusPublish
}

// Post is a page or view object with its metadata.
type Post struct {
	ID     int64          `yaml:"id"`
	Type   string         `yaml:"type"`
	Title  string         `yaml:"title"`
	Status Status         `yaml:"status"`
	Meta   map[string]any `yaml:"meta,omitempty"`
}

type Snippet struct {
	ID          int64  `yaml:"id"`
	Title       string `yaml:"title"`
	Description string `yaml:"description,omitempty"`
	Code        string `yaml:"code"`
	Scope       string `yaml:"scope"`
	Priority    int    `yaml:"priority,omitempty"`
	Active      bool   `yaml:"active"`
}

type PackageStore interface {
	// ListPackages returns packages with the given status in storage order.
	ListPackages(ctx context.Context, status Status) ([]Package, error)
	GetPackage(ctx context.Context, id int64) (Package, error)
}

type PostStore interface {
	GetPost(ctx context.Context, id int64) (Post, error)
}

type SnippetStore interface {
	GetSnippet(ctx context.Context, id int64) (Snippet, error)
}

type OptionStore interface {
	// GetOption reports ok=false when the option does not exist, which is
	// distinct from an option holding an empty or false value.
	GetOption(ctx context.Context, name string) (value any, ok bool, err error)
}

// FormProvider is the optional forms capability. When Available is false the
// other methods must not be called.
type FormProvider interface {
	Available() bool
	GetForm(ctx context.Context, id int64) (map[string]any, error)
	// RecentEntries returns up to limit submissions, newest first.
	RecentEntries(ctx context.Context, formID int64, limit int) ([]map[string]any, error)
}

// Store is everything the bundle service reads.
type Store interface {
	PackageStore
	PostStore
	SnippetStore
	OptionStore
	FormProvider
}
