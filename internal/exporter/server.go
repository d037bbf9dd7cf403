package exporter

import (
	"net/http"
	"strings"

	"github.com/davidahmann/wpcd/internal/plugins"
)

// FileServer serves archives from the export root with the same rule the
// .htaccess sentinel enforces on Apache: any "<identity>.zip" can be fetched
// without credentials, while listings, sentinels and every other file 404.
type FileServer struct {
	exports *Provisioner
}

func NewFileServer(exports *Provisioner) *FileServer {
	return &FileServer{exports: exports}
}

// ServeHTTP expects the mount prefix to be stripped already, so the request
// path is "/<name>.zip".
func (s *FileServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/")
	identity, ok := strings.CutSuffix(name, plugins.ArchiveExt)
	if !ok || isSentinel(name) || !plugins.ValidIdentity(identity) {
		http.NotFound(w, r)
		return
	}

	fs := s.exports.FS()
	target := s.exports.ArchivePath(identity)
	info, err := statRegular(fs, target)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	f, err := fs.Open(target)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeContent(w, r, name, info.ModTime(), f)
}
