package bundle

import (
	"context"
	"log/slog"

	platformerrors "github.com/jmgilman/go/errors"

	"github.com/davidahmann/wpcd/internal/content"
	"github.com/davidahmann/wpcd/internal/settings"
	"github.com/davidahmann/wpcd/pkg/types"
)

// Catalog lists published packages in storage order.
type Catalog struct {
	store content.PackageStore
}

func NewCatalog(store content.PackageStore) *Catalog {
	return &Catalog{store: store}
}

func (c *Catalog) List(ctx context.Context) ([]types.PackageSummary, error) {
	pkgs, err := c.store.ListPackages(ctx, content.StatusPublish)
	if err != nil {
		return nil, platformerrors.Wrap(err, platformerrors.CodeInternal, "list packages")
	}
	out := make([]types.PackageSummary, 0, len(pkgs))
	for _, pkg := range pkgs {
		out = append(out, types.PackageSummary{ID: pkg.ID, Title: pkg.Title})
	}
	return out, nil
}

// SettingsSource is the read side of the global configuration.
type SettingsSource interface {
	Get(ctx context.Context) (settings.Settings, error)
}

// DefaultsProvider renders the global configuration for clients. The license
// blob is passed through unparsed.
type DefaultsProvider struct {
	settings  SettingsSource
	exportURL string
	logger    *slog.Logger
}

func NewDefaultsProvider(src SettingsSource, exportURL string, logger *slog.Logger) *DefaultsProvider {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &DefaultsProvider{settings: src, exportURL: exportURL, logger: logger}
}

func (p *DefaultsProvider) Get(ctx context.Context) (types.Defaults, error) {
	s, err := p.settings.Get(ctx)
	if err != nil {
		return types.Defaults{}, err
	}
	return types.Defaults{
		BrandName:   s.BrandName,
		CoreTheme:   s.CoreTheme,
		CorePlugins: downloads(p.exportURL, s.CorePlugins, p.logger),
		LicenseKeys: s.LicenseKeys,
	}, nil
}
