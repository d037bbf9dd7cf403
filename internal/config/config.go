// Package config loads gateway configuration from an optional YAML file and
// WPCD_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	platformerrors "github.com/jmgilman/go/errors"
	"gopkg.in/yaml.v3"

	"github.com/davidahmann/wpcd/internal/auth"
	"github.com/davidahmann/wpcd/internal/codec"
)

const (
	DefaultListenAddr       = ":8080"
	DefaultNamespace        = "/wpcd/v1"
	DefaultExportDirName    = "wpcd-exports"
	DefaultExportsPath      = "/wpcd-exports/"
	DefaultSettingsFile     = "wpcd-settings.yaml"
	DefaultRefreshInterval  = 7 * 24 * time.Hour
	DefaultEntryLimit       = 50
	DefaultCompressionLevel = 6
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
)

type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	// PublicURL is the gateway's externally visible base URL.
	PublicURL string `yaml:"public_url"`
	// ExportURL overrides the URL clients download archives from. Empty means
	// PublicURL joined with ExportsPath.
	ExportURL   string `yaml:"export_url"`
	Namespace   string `yaml:"namespace"`
	ExportsPath string `yaml:"exports_path"`

	Paths   PathsConfig   `yaml:"paths"`
	Auth    AuthConfig    `yaml:"auth"`
	Refresh RefreshConfig `yaml:"refresh"`
	Bundle  BundleConfig  `yaml:"bundle"`
	Archive ArchiveConfig `yaml:"archive"`
	Log     LogConfig     `yaml:"log"`
}

type PathsConfig struct {
	PluginDir     string `yaml:"plugin_dir"`
	UploadsDir    string `yaml:"uploads_dir"`
	ExportDirName string `yaml:"export_dir_name"`
	// ContentPath is a YAML content snapshot. Empty serves an empty store.
	ContentPath  string `yaml:"content_path"`
	SettingsPath string `yaml:"settings_path"`
}

type AuthConfig struct {
	DevToken  string         `yaml:"dev_token"`
	JWTSecret string         `yaml:"jwt_secret"`
	Issuer    string         `yaml:"issuer"`
	Users     []auth.AppUser `yaml:"users"`
}

type RefreshConfig struct {
	Interval         time.Duration `yaml:"interval"`
	OnStart          bool          `yaml:"on_start"`
	OnSettingsChange bool          `yaml:"on_settings_change"`
}

type BundleConfig struct {
	EntryLimit  int    `yaml:"entry_limit"`
	OptionCodec string `yaml:"option_codec"`
}

type ArchiveConfig struct {
	// CompressionLevel is nil when unset so 0 (store only) stays expressible.
	CompressionLevel *int `yaml:"compression_level"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads path (or $WPCD_CONFIG when path is empty), applies environment
// overrides and defaults, and validates the result. No file at all is fine.
func Load(path string, getenv func(string) string) (Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if path == "" {
		path = getenv("WPCD_CONFIG")
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, platformerrors.Wrap(err, platformerrors.CodeInvalidConfig, "failed to read config file")
		}
		if cfg, err = Parse(data); err != nil {
			return Config{}, platformerrors.WithContext(err, "path", path)
		}
	}

	if err := cfg.applyEnv(getenv); err != nil {
		return Config{}, err
	}
	cfg.applyDefaults(path)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes a YAML document, rejecting unknown keys.
func Parse(data []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, platformerrors.Wrap(err, platformerrors.CodeInvalidConfig, "failed to parse config")
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	strs := map[string]*string{
		"WPCD_LISTEN_ADDR":   &c.ListenAddr,
		"WPCD_PUBLIC_URL":    &c.PublicURL,
		"WPCD_EXPORT_URL":    &c.ExportURL,
		"WPCD_NAMESPACE":     &c.Namespace,
		"WPCD_PLUGIN_DIR":    &c.Paths.PluginDir,
		"WPCD_UPLOADS_DIR":   &c.Paths.UploadsDir,
		"WPCD_CONTENT_PATH":  &c.Paths.ContentPath,
		"WPCD_SETTINGS_PATH": &c.Paths.SettingsPath,
		"WPCD_DEV_TOKEN":     &c.Auth.DevToken,
		"WPCD_JWT_SECRET":    &c.Auth.JWTSecret,
		"WPCD_OPTION_CODEC":  &c.Bundle.OptionCodec,
		"WPCD_LOG_LEVEL":     &c.Log.Level,
		"WPCD_LOG_FORMAT":    &c.Log.Format,
	}
	for key, dst := range strs {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}

	if v := strings.TrimSpace(getenv("WPCD_REFRESH_INTERVAL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return envError("WPCD_REFRESH_INTERVAL", err)
		}
		c.Refresh.Interval = d
	}
	if v := strings.TrimSpace(getenv("WPCD_REFRESH_ON_START")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return envError("WPCD_REFRESH_ON_START", err)
		}
		c.Refresh.OnStart = b
	}
	if v := strings.TrimSpace(getenv("WPCD_REFRESH_ON_SETTINGS_CHANGE")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return envError("WPCD_REFRESH_ON_SETTINGS_CHANGE", err)
		}
		c.Refresh.OnSettingsChange = b
	}
	if v := strings.TrimSpace(getenv("WPCD_ENTRY_LIMIT")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return envError("WPCD_ENTRY_LIMIT", err)
		}
		c.Bundle.EntryLimit = n
	}
	if v := strings.TrimSpace(getenv("WPCD_COMPRESSION_LEVEL")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return envError("WPCD_COMPRESSION_LEVEL", err)
		}
		c.Archive.CompressionLevel = &n
	}
	return nil
}

func envError(key string, err error) error {
	return platformerrors.WithContext(
		platformerrors.Wrap(err, platformerrors.CodeInvalidConfig, "invalid environment override"),
		"variable", key,
	)
}

// applyDefaults fills unset fields. configPath is the file the config came
// from, if any; the settings file defaults to its directory, then to the
// content snapshot's, then to the working directory. Never the uploads tree:
// the settings hold license keys and uploads are served to anyone.
func (c *Config) applyDefaults(configPath string) {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.Namespace == "" {
		c.Namespace = DefaultNamespace
	}
	if c.ExportsPath == "" {
		c.ExportsPath = DefaultExportsPath
	}
	if c.Paths.ExportDirName == "" {
		c.Paths.ExportDirName = DefaultExportDirName
	}
	if c.Paths.SettingsPath == "" {
		dir := "."
		switch {
		case configPath != "":
			dir = filepath.Dir(configPath)
		case c.Paths.ContentPath != "":
			dir = filepath.Dir(c.Paths.ContentPath)
		}
		c.Paths.SettingsPath = filepath.Join(dir, DefaultSettingsFile)
	}
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = auth.DefaultIssuer
	}
	if c.Refresh.Interval == 0 {
		c.Refresh.Interval = DefaultRefreshInterval
	}
	if c.Bundle.EntryLimit == 0 {
		c.Bundle.EntryLimit = DefaultEntryLimit
	}
	if c.Bundle.OptionCodec == "" {
		c.Bundle.OptionCodec = codec.Default
	}
	if c.Archive.CompressionLevel == nil {
		level := DefaultCompressionLevel
		c.Archive.CompressionLevel = &level
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

// Validate checks a defaulted configuration.
func (c Config) Validate() error {
	var problems []string
	if c.Paths.PluginDir == "" {
		problems = append(problems, "paths.plugin_dir is required")
	}
	if c.Paths.UploadsDir == "" {
		problems = append(problems, "paths.uploads_dir is required")
	}
	if c.Paths.UploadsDir != "" && c.Paths.SettingsPath != "" && within(c.Paths.UploadsDir, c.Paths.SettingsPath) {
		problems = append(problems, "paths.settings_path must be outside paths.uploads_dir, which is publicly served")
	}
	if strings.ContainsAny(c.Paths.ExportDirName, `/\`) || c.Paths.ExportDirName == ".." || c.Paths.ExportDirName == "." {
		problems = append(problems, "paths.export_dir_name must be a single directory name")
	}
	if c.ExportURL == "" && c.PublicURL == "" {
		problems = append(problems, "public_url or export_url is required")
	}
	for _, raw := range []string{c.PublicURL, c.ExportURL} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			problems = append(problems, fmt.Sprintf("%q is not an absolute http(s) URL", raw))
		}
	}
	if !strings.HasPrefix(c.Namespace, "/") {
		problems = append(problems, "namespace must start with /")
	}
	if c.Refresh.Interval < 0 {
		problems = append(problems, "refresh.interval must be positive")
	}
	if c.Bundle.EntryLimit < 0 {
		problems = append(problems, "bundle.entry_limit must be positive")
	}
	if _, err := codec.Lookup(c.Bundle.OptionCodec); err != nil {
		problems = append(problems, err.Error())
	}
	if lvl := c.Archive.CompressionLevel; lvl != nil && (*lvl < 0 || *lvl > 9) {
		problems = append(problems, "archive.compression_level must be between 0 and 9")
	}
	if len(c.Auth.JWTSecret) > 0 && len(c.Auth.JWTSecret) < 32 {
		problems = append(problems, "auth.jwt_secret must be at least 32 bytes")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("unknown log level %q", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("unknown log format %q", c.Log.Format))
	}

	if len(problems) > 0 {
		return platformerrors.New(platformerrors.CodeInvalidConfig, "invalid configuration: "+strings.Join(problems, "; "))
	}
	return nil
}

// within reports whether target is dir or lies below it.
func within(dir, target string) bool {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absDir, absTarget)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// ResolvedExportURL is the public URL of the export root.
func (c Config) ResolvedExportURL() string {
	if c.ExportURL != "" {
		return strings.TrimRight(c.ExportURL, "/")
	}
	return strings.TrimRight(c.PublicURL, "/") + "/" + strings.Trim(c.ExportsPath, "/")
}
