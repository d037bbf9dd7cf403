// Package exporter turns installed plugin directories into zip archives inside
// a web-servable export root.
package exporter

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	platformerrors "github.com/jmgilman/go/errors"
	"github.com/klauspost/compress/flate"

	"github.com/davidahmann/wpcd/internal/plugins"
)

// DefaultCompressionLevel matches the deflate default.
const DefaultCompressionLevel = 6

var (
	ErrInvalidIdentity = platformerrors.New(platformerrors.CodeInvalidInput, "invalid plugin identity")
	ErrPluginNotFound  = platformerrors.New(platformerrors.CodeNotFound, "plugin directory not found")
	ErrArchiveWrite    = platformerrors.New(platformerrors.CodeBuildFailed, "archive could not be written")
)

// Result describes an archive written by Build.
type Result struct {
	Identity  string
	Path      string
	URL       string
	Entries   int
	SizeBytes int64
}

// Builder archives directories found directly under a plugin root.
type Builder struct {
	plugins   billy.Filesystem
	exports   *Provisioner
	exportURL string
	level     int
	logger    *slog.Logger
}

type BuilderOption func(*Builder)

// WithCompressionLevel sets the deflate level (flate.NoCompression through
// flate.BestCompression). Out of range values fall back to the default.
func WithCompressionLevel(level int) BuilderOption {
	return func(b *Builder) {
		if level >= flate.NoCompression && level <= flate.BestCompression {
			b.level = level
		}
	}
}

func WithLogger(logger *slog.Logger) BuilderOption {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBuilder returns a builder reading plugin directories from pluginsFS and
// writing archives into the export root managed by exports. exportURL is the
// public URL of that root.
func NewBuilder(pluginsFS billy.Filesystem, exports *Provisioner, exportURL string, opts ...BuilderOption) *Builder {
	b := &Builder{
		plugins:   pluginsFS,
		exports:   exports,
		exportURL: exportURL,
		level:     DefaultCompressionLevel,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build writes <export-root>/<identity>.zip from the plugin directory named
// identity. Entries are stored as "<identity>/<relative path>"; directories
// are implied by entry paths, and symlinks and other non-regular files are
// skipped. An empty directory yields a valid archive with no entries.
//
// Callers pass the resolved directory name, never a "dir/entry.php" reference.
// When the source directory is missing, or is itself a symlink, nothing is
// written to the export root.
// The archive replaces any previous one atomically.
func (b *Builder) Build(identity string) (Result, error) {
	if !plugins.ValidIdentity(identity) {
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidIdentity, identity)
	}

	// Lstat so a symlinked root fails here instead of walking as empty.
	info, err := b.plugins.Lstat(identity)
	if err != nil || !info.IsDir() {
		return Result{}, fmt.Errorf("%w: %s", ErrPluginNotFound, identity)
	}

	files, err := b.collect(identity)
	if err != nil {
		return Result{}, fmt.Errorf("%w: walk %s: %w", ErrArchiveWrite, identity, err)
	}

	if _, err := b.exports.Ensure(); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrArchiveWrite, err)
	}

	target := b.exports.ArchivePath(identity)
	size, err := b.writeAtomic(target, identity, files)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %w", ErrArchiveWrite, identity, err)
	}

	b.logger.Debug("archive written", "identity", identity, "entries", len(files), "bytes", size)

	return Result{
		Identity:  identity,
		Path:      target,
		URL:       plugins.DownloadURL(b.exportURL, identity),
		Entries:   len(files),
		SizeBytes: size,
	}, nil
}

type sourceFile struct {
	path  string
	entry string
	info  os.FileInfo
}

func (b *Builder) collect(root string) ([]sourceFile, error) {
	var files []sourceFile
	err := util.Walk(b.plugins, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		files = append(files, sourceFile{
			path:  p,
			entry: root + "/" + filepath.ToSlash(rel),
			info:  info,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].entry < files[j].entry })
	return files, nil
}

func (b *Builder) writeAtomic(target string, identity string, files []sourceFile) (int64, error) {
	fs := b.exports.FS()
	tmp, err := fs.TempFile(b.exports.Root(), "."+identity+"-")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()

	if err := b.writeZip(tmp, files); err != nil {
		_ = tmp.Close()
		_ = fs.Remove(tmpName)
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		_ = fs.Remove(tmpName)
		return 0, err
	}

	info, err := fs.Stat(tmpName)
	if err != nil {
		_ = fs.Remove(tmpName)
		return 0, err
	}
	if err := fs.Rename(tmpName, target); err != nil {
		_ = fs.Remove(tmpName)
		return 0, err
	}
	return info.Size(), nil
}

func (b *Builder) writeZip(w io.Writer, files []sourceFile) error {
	writer := zip.NewWriter(w)
	level := b.level
	writer.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, level)
	})

	for _, f := range files {
		if err := b.addFile(writer, f); err != nil {
			_ = writer.Close()
			return err
		}
	}
	return writer.Close()
}

func (b *Builder) addFile(writer *zip.Writer, f sourceFile) error {
	header, err := zip.FileInfoHeader(f.info)
	if err != nil {
		return err
	}
	header.Name = f.entry
	header.Method = zip.Deflate

	entry, err := writer.CreateHeader(header)
	if err != nil {
		return err
	}

	src, err := b.plugins.Open(f.path)
	if err != nil {
		return err
	}
	defer src.Close()

	if _, err := io.Copy(entry, src); err != nil {
		return fmt.Errorf("copy %s: %w", f.entry, err)
	}
	return nil
}

// IsNotFound reports whether err means the plugin directory does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPluginNotFound)
}
