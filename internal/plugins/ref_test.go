package plugins

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentity(t *testing.T) {
	cases := map[string]string{
		"x/y":                             "x",
		"x/y/z.php":                       "x",
		"x":                               "x",
		"elementor-pro/elementor-pro.php": "elementor-pro",
		"":                                "",
		"/leading.php":                    "",
	}
	for ref, want := range cases {
		assert.Equal(t, want, Identity(ref), "ref %q", ref)
	}
}

func TestDownloadURL(t *testing.T) {
	got := DownloadURL("https://master.example/wp-content/uploads/wpcd-exports/", "gravityforms/gravityforms.php")
	assert.Equal(t, "https://master.example/wp-content/uploads/wpcd-exports/gravityforms.zip", got)

	got = DownloadURL("https://master.example/wpcd-exports", "astra-addon")
	assert.Equal(t, "https://master.example/wpcd-exports/astra-addon.zip", got)
}

func TestUnionDeduplicatesByIdentity(t *testing.T) {
	global := []string{"a/a.php", "b/b.php"}
	pkgOne := []string{"b/other.php", "c"}
	pkgTwo := []string{"a"}

	assert.Equal(t, []string{"a", "b", "c"}, Union(global, pkgOne, pkgTwo))
}

func TestUnionSkipsBlankRefs(t *testing.T) {
	assert.Equal(t, []string{"a"}, Union([]string{"", "  ", "a"}, nil))
	assert.Empty(t, Union())
}

func TestValidIdentity(t *testing.T) {
	for _, ok := range []string{"akismet", "elementor-pro", "wp_mail.smtp"} {
		assert.True(t, ValidIdentity(ok), ok)
	}
	for _, bad := range []string{"", ".", "..", "a/b", `a\b`, " padded", "nul\x00"} {
		assert.False(t, ValidIdentity(bad), "%q", bad)
	}
}
