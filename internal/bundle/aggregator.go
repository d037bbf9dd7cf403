// Package bundle resolves packages into the documents remote sites install
// from: the catalog of published packages, the per-package bundle and the
// global defaults.
package bundle

import (
	"context"
	"errors"
	"log/slog"

	platformerrors "github.com/jmgilman/go/errors"

	"github.com/davidahmann/wpcd/internal/codec"
	"github.com/davidahmann/wpcd/internal/content"
	"github.com/davidahmann/wpcd/internal/plugins"
	"github.com/davidahmann/wpcd/pkg/types"
)

// DefaultEntryLimit caps the submissions exported per form.
const DefaultEntryLimit = 50

// Page builder metadata keys, exported verbatim.
const (
	MetaBuilderData     = "_elementor_data"
	MetaBuilderSettings = "_elementor_page_settings"
	MetaEditMode        = "_elementor_edit_mode"
)

var ErrPackageNotFound = platformerrors.New(platformerrors.CodeNotFound, "package not found")

// Aggregator assembles bundle documents. It only reads the content store and
// builds URLs; it never touches the export root.
type Aggregator struct {
	store      content.Store
	codec      codec.Codec
	exportURL  string
	entryLimit int
	logger     *slog.Logger
}

type Option func(*Aggregator)

func WithCodec(c codec.Codec) Option {
	return func(a *Aggregator) {
		if c != nil {
			a.codec = c
		}
	}
}

// WithEntryLimit sets how many recent submissions each form carries.
// Non-positive values keep the default.
func WithEntryLimit(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.entryLimit = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func NewAggregator(store content.Store, exportURL string, opts ...Option) *Aggregator {
	a := &Aggregator{
		store:      store,
		codec:      codec.JSON{},
		exportURL:  exportURL,
		entryLimit: DefaultEntryLimit,
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble resolves the published package id. Asset classes are resolved
// independently and in the package's reference order; an asset that no longer
// resolves is left out of the document.
func (a *Aggregator) Assemble(ctx context.Context, id int64) (types.Bundle, error) {
	pkg, err := a.store.GetPackage(ctx, id)
	if errors.Is(err, content.ErrNotFound) {
		return types.Bundle{}, ErrPackageNotFound
	}
	if err != nil {
		return types.Bundle{}, platformerrors.Wrapf(err, platformerrors.CodeInternal, "load package %d", id)
	}
	if !pkg.Published() {
		return types.Bundle{}, ErrPackageNotFound
	}

	logger := a.logger.With("package_id", pkg.ID)
	return types.Bundle{
		ID:      pkg.ID,
		Title:   pkg.Title,
		Plugins: downloads(a.exportURL, pkg.Plugins, logger),
		Content: types.BundleContent{
			Pages:    a.pages(ctx, pkg.Pages, logger),
			Forms:    a.forms(ctx, pkg.Forms, logger),
			Views:    a.views(ctx, pkg.Views, logger),
			Snippets: a.snippets(ctx, pkg.Snippets, logger),
			Options:  a.options(ctx, pkg.Options, logger),
		},
	}, nil
}

func (a *Aggregator) pages(ctx context.Context, ids []int64, logger *slog.Logger) []types.Page {
	out := []types.Page{}
	for _, id := range ids {
		post, err := a.store.GetPost(ctx, id)
		if err != nil {
			skipped(logger, "page", id, err)
			continue
		}
		out = append(out, types.Page{
			ID:              post.ID,
			Title:           post.Title,
			BuilderData:     post.Meta[MetaBuilderData],
			BuilderSettings: post.Meta[MetaBuilderSettings],
			EditMode:        post.Meta[MetaEditMode],
		})
	}
	return out
}

func (a *Aggregator) forms(ctx context.Context, ids []int64, logger *slog.Logger) []types.FormExport {
	out := []types.FormExport{}
	if len(ids) == 0 {
		return out
	}
	if !a.store.Available() {
		logger.Debug("form provider unavailable, forms omitted", "forms", len(ids))
		return out
	}
	for _, id := range ids {
		form, err := a.store.GetForm(ctx, id)
		if err != nil {
			skipped(logger, "form", id, err)
			continue
		}
		entries, err := a.store.RecentEntries(ctx, id, a.entryLimit)
		if err != nil {
			logger.Warn("form entries lookup failed, exporting definition only", "id", id, "error", err)
			entries = nil
		}
		if entries == nil {
			entries = []map[string]any{}
		}
		out = append(out, types.FormExport{ID: id, Form: form, Entries: entries})
	}
	return out
}

func (a *Aggregator) views(ctx context.Context, ids []int64, logger *slog.Logger) []types.View {
	out := []types.View{}
	for _, id := range ids {
		post, err := a.store.GetPost(ctx, id)
		if err != nil {
			skipped(logger, "view", id, err)
			continue
		}
		meta := post.Meta
		if meta == nil {
			meta = map[string]any{}
		}
		out = append(out, types.View{ID: post.ID, Title: post.Title, Meta: meta})
	}
	return out
}

func (a *Aggregator) snippets(ctx context.Context, ids []int64, logger *slog.Logger) []types.Snippet {
	out := []types.Snippet{}
	for _, id := range ids {
		s, err := a.store.GetSnippet(ctx, id)
		if err != nil {
			skipped(logger, "snippet", id, err)
			continue
		}
		out = append(out, types.Snippet{
			ID:          s.ID,
			Title:       s.Title,
			Description: s.Description,
			Code:        s.Code,
			Scope:       s.Scope,
			Priority:    s.Priority,
			Active:      s.Active,
		})
	}
	return out
}

func (a *Aggregator) options(ctx context.Context, names []string, logger *slog.Logger) []types.Option {
	out := []types.Option{}
	for _, name := range names {
		value, ok, err := a.store.GetOption(ctx, name)
		if err != nil {
			logger.Warn("option lookup failed", "option", name, "error", err)
			continue
		}
		if !ok {
			logger.Debug("option missing, skipped", "option", name)
			continue
		}
		encoded, err := a.codec.Encode(value)
		if err != nil {
			logger.Warn("option could not be encoded", "option", name, "codec", a.codec.Name(), "error", err)
			continue
		}
		out = append(out, types.Option{Name: name, Codec: a.codec.Name(), Value: encoded})
	}
	return out
}

func skipped(logger *slog.Logger, kind string, id int64, err error) {
	if errors.Is(err, content.ErrNotFound) {
		logger.Debug(kind+" missing, skipped", "id", id)
		return
	}
	logger.Warn(kind+" lookup failed", "id", id, "error", err)
}

// downloads maps plugin references to archive URLs. References whose identity
// could not name an archive are dropped.
func downloads(exportURL string, refs []string, logger *slog.Logger) []types.PluginDownload {
	out := []types.PluginDownload{}
	for _, ref := range refs {
		identity := plugins.Identity(ref)
		if !plugins.ValidIdentity(identity) {
			logger.Warn("invalid plugin reference, skipped", "reference", ref)
			continue
		}
		out = append(out, types.PluginDownload{
			Slug:        ref,
			Identity:    identity,
			DownloadURL: plugins.DownloadURL(exportURL, ref),
		})
	}
	return out
}
