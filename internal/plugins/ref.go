// Package plugins parses plugin references and derives archive names and
// download URLs from them.
//
// A reference is either "<directory>/<entry-file>" or a bare "<directory>".
// The directory segment is the plugin's identity everywhere: archive file
// names, download URLs and deduplication all key on it.
package plugins

import (
	"strings"
)

// ArchiveExt is the extension of every archive in the export root.
const ArchiveExt = ".zip"

// Identity returns everything before the first "/" of ref.
//
//	Identity("elementor-pro/elementor-pro.php") == "elementor-pro"
//	Identity("x/y/z.php") == "x"
//	Identity("x") == "x"
func Identity(ref string) string {
	if i := strings.IndexByte(ref, '/'); i >= 0 {
		return ref[:i]
	}
	return ref
}

// ArchiveName is the file name of the archive built for identity.
func ArchiveName(identity string) string {
	return identity + ArchiveExt
}

// DownloadURL joins the export root URL and the archive name of ref. It does
// not check that the archive exists.
func DownloadURL(exportURL string, ref string) string {
	return strings.TrimRight(exportURL, "/") + "/" + ArchiveName(Identity(ref))
}

// ValidIdentity reports whether identity can name a directory directly under
// the plugin root. It rejects empty names, dot segments and separators so an
// identity can never escape the plugin or export roots.
func ValidIdentity(identity string) bool {
	if identity == "" || identity == "." || identity == ".." {
		return false
	}
	if strings.ContainsAny(identity, `/\`) || strings.ContainsRune(identity, 0) {
		return false
	}
	return strings.TrimSpace(identity) == identity
}

// Union merges reference lists into distinct identities, in first-seen order.
// References that differ only in their entry file collapse into one item, and
// blank references are dropped.
func Union(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, ref := range list {
			id := Identity(strings.TrimSpace(ref))
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
