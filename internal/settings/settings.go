// Package settings holds the global configuration operators edit: the brand
// label, the default theme, the globally required plugins and the license blob.
package settings

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"

	platformerrors "github.com/jmgilman/go/errors"

	"github.com/davidahmann/wpcd/internal/plugins"
)

const (
	DefaultBrandName = "WP Cloud Deployer"
	DefaultCoreTheme = "astra"
)

// ErrNotStored is returned by a Repository that has never been saved to.
var ErrNotStored = errors.New("settings not stored")

type Settings struct {
	BrandName string `yaml:"brand_name" json:"brand_name"`
	CoreTheme string `yaml:"core_theme" json:"core_theme"`
	// CorePlugins are plugin references installed on every target site.
	CorePlugins []string `yaml:"core_plugins" json:"core_plugins"`
	// LicenseKeys is an opaque blob of "identifier|secret" lines.
	LicenseKeys string `yaml:"license_keys" json:"license_keys"`
}

// Defaults is what the first read returns when nothing was stored.
func Defaults() Settings {
	return Settings{
		BrandName:   DefaultBrandName,
		CoreTheme:   DefaultCoreTheme,
		CorePlugins: []string{},
	}
}

// Sanitize trims text fields, drops blank or duplicate plugin references and
// normalizes the license blob to "\n" line endings without trailing spaces.
func Sanitize(s Settings) Settings {
	out := Settings{
		BrandName:   strings.TrimSpace(s.BrandName),
		CoreTheme:   strings.TrimSpace(s.CoreTheme),
		CorePlugins: []string{},
	}
	for _, ref := range s.CorePlugins {
		ref = strings.TrimSpace(ref)
		if ref == "" || slices.Contains(out.CorePlugins, ref) {
			continue
		}
		out.CorePlugins = append(out.CorePlugins, ref)
	}

	blob := strings.ReplaceAll(s.LicenseKeys, "\r\n", "\n")
	blob = strings.ReplaceAll(blob, "\r", "\n")
	lines := strings.Split(blob, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	out.LicenseKeys = strings.Trim(strings.Join(lines, "\n"), "\n")
	return out
}

// Validate rejects core plugin references whose identity could escape the
// plugin root.
func Validate(s Settings) error {
	for _, ref := range s.CorePlugins {
		if !plugins.ValidIdentity(plugins.Identity(ref)) {
			return platformerrors.WithContext(
				platformerrors.New(platformerrors.CodeInvalidInput, "invalid core plugin reference"),
				"reference", ref,
			)
		}
	}
	return nil
}

// ParseLicenseKeys splits the license blob into identifier to secret pairs.
// Lines without a "|" separator are ignored and later lines win.
func ParseLicenseKeys(blob string) map[string]string {
	keys := make(map[string]string)
	for _, line := range strings.Split(blob, "\n") {
		id, secret, ok := strings.Cut(strings.TrimSpace(line), "|")
		id = strings.TrimSpace(id)
		if !ok || id == "" {
			continue
		}
		keys[id] = strings.TrimSpace(secret)
	}
	return keys
}

// ChangeFunc observes a committed update.
type ChangeFunc func(ctx context.Context, previous, current Settings)

// Manager serializes reads and writes of the global configuration.
type Manager struct {
	repo   Repository
	logger *slog.Logger

	mu          sync.Mutex
	subscribers []ChangeFunc
}

func NewManager(repo Repository, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{repo: repo, logger: logger}
}

// OnChange registers fn to run after every successful Update.
func (m *Manager) OnChange(fn ChangeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// Get returns the stored settings. The first read on an empty repository
// stores and returns Defaults.
func (m *Manager) Get(ctx context.Context) (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load(ctx)
}

func (m *Manager) load(ctx context.Context) (Settings, error) {
	s, err := m.repo.Load(ctx)
	if errors.Is(err, ErrNotStored) {
		s = Defaults()
		if err := m.repo.Save(ctx, s); err != nil {
			return Settings{}, platformerrors.Wrap(err, platformerrors.CodeInternal, "store default settings")
		}
		m.logger.Info("settings initialized with defaults")
		return s, nil
	}
	if err != nil {
		return Settings{}, platformerrors.Wrap(err, platformerrors.CodeInternal, "load settings")
	}
	if s.CorePlugins == nil {
		s.CorePlugins = []string{}
	}
	return s, nil
}

// Update sanitizes, validates and stores next, then notifies subscribers with
// the previous and stored values.
func (m *Manager) Update(ctx context.Context, next Settings) (Settings, error) {
	next = Sanitize(next)
	if err := Validate(next); err != nil {
		return Settings{}, err
	}

	m.mu.Lock()
	previous, err := m.load(ctx)
	if err != nil {
		m.mu.Unlock()
		return Settings{}, err
	}
	if err := m.repo.Save(ctx, next); err != nil {
		m.mu.Unlock()
		return Settings{}, platformerrors.Wrap(err, platformerrors.CodeInternal, "save settings")
	}
	subscribers := slices.Clone(m.subscribers)
	m.mu.Unlock()

	m.logger.Info("settings updated",
		"core_plugins", len(next.CorePlugins),
		"core_plugins_changed", CorePluginsChanged(previous, next),
	)
	for _, fn := range subscribers {
		fn(ctx, previous, next)
	}
	return next, nil
}

// CorePluginsChanged reports whether an update altered the required plugins.
func CorePluginsChanged(previous, current Settings) bool {
	return !slices.Equal(previous.CorePlugins, current.CorePlugins)
}
