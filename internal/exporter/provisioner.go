package exporter

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/go-git/go-billy/v5"
	platformerrors "github.com/jmgilman/go/errors"

	"github.com/davidahmann/wpcd/internal/plugins"
)

const (
	// DefaultDirName is the export root's directory name under the uploads dir.
	DefaultDirName = "wpcd-exports"

	AccessFileName = ".htaccess"
	IndexFileName  = "index.php"
)

// accessRules deny directory listing while leaving *.zip fetchable by
// anonymous clients. Both Apache 2.4 and 2.2 syntaxes are emitted.
const accessRules = `# Managed by wpcd. Rewritten on every export refresh.
Options -Indexes
<IfModule mod_authz_core.c>
	<FilesMatch "\.zip$">
		Require all granted
	</FilesMatch>
</IfModule>
<IfModule !mod_authz_core.c>
	<FilesMatch "\.zip$">
		Order allow,deny
		Allow from all
	</FilesMatch>
</IfModule>
`

const indexPlaceholder = "<?php\n// Silence is golden.\n"

// Provisioner owns the export root: it creates the directory on demand and
// keeps the access sentinels in place.
type Provisioner struct {
	fs   billy.Filesystem
	root string
}

// NewProvisioner returns a provisioner for root inside fs. An empty root uses
// DefaultDirName.
func NewProvisioner(fs billy.Filesystem, root string) *Provisioner {
	if root == "" {
		root = DefaultDirName
	}
	return &Provisioner{fs: fs, root: root}
}

func (p *Provisioner) Root() string {
	return p.root
}

// FS is the filesystem the export root lives in.
func (p *Provisioner) FS() billy.Filesystem {
	return p.fs
}

// ArchivePath is the location of identity's archive inside FS.
func (p *Provisioner) ArchivePath(identity string) string {
	return p.fs.Join(p.root, plugins.ArchiveName(identity))
}

// Ensure creates the export root if needed and rewrites both sentinels when
// they are missing or differ from the managed content. It is safe to call
// concurrently: each sentinel is replaced by rename, so readers never observe
// a missing or truncated file.
func (p *Provisioner) Ensure() (string, error) {
	if err := p.fs.MkdirAll(p.root, 0o755); err != nil {
		return "", platformerrors.Wrap(err, platformerrors.CodeBuildFailed, "create export root")
	}
	if err := p.writeSentinel(AccessFileName, []byte(accessRules)); err != nil {
		return "", err
	}
	if err := p.writeSentinel(IndexFileName, []byte(indexPlaceholder)); err != nil {
		return "", err
	}
	return p.root, nil
}

func (p *Provisioner) writeSentinel(name string, want []byte) error {
	target := p.fs.Join(p.root, name)
	if current, err := readAll(p.fs, target); err == nil && bytes.Equal(current, want) {
		return nil
	}

	tmp, err := p.fs.TempFile(p.root, "."+name+"-")
	if err != nil {
		return platformerrors.Wrap(err, platformerrors.CodeBuildFailed, "create sentinel temp file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(want); err != nil {
		_ = tmp.Close()
		_ = p.fs.Remove(tmpName)
		return platformerrors.Wrapf(err, platformerrors.CodeBuildFailed, "write %s", name)
	}
	if err := tmp.Close(); err != nil {
		_ = p.fs.Remove(tmpName)
		return platformerrors.Wrapf(err, platformerrors.CodeBuildFailed, "close %s", name)
	}
	if err := p.fs.Rename(tmpName, target); err != nil {
		_ = p.fs.Remove(tmpName)
		return platformerrors.Wrapf(err, platformerrors.CodeBuildFailed, "install %s", name)
	}
	return nil
}

func readAll(fs billy.Filesystem, name string) ([]byte, error) {
	f, err := fs.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// isSentinel reports whether name is one of the managed protection files.
func isSentinel(name string) bool {
	switch path.Base(name) {
	case AccessFileName, IndexFileName:
		return true
	}
	return false
}

func statRegular(fs billy.Filesystem, name string) (os.FileInfo, error) {
	info, err := fs.Lstat(name)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s: not a regular file", name)
	}
	return info, nil
}
