package types

// PackageSummary is one entry of the package catalog.
type PackageSummary struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

// Bundle is the fully resolved document for one package. It is assembled per
// request and never persisted.
type Bundle struct {
	ID      int64            `json:"id"`
	Title   string           `json:"title"`
	Plugins []PluginDownload `json:"plugins"`
	Content BundleContent    `json:"content"`
}

type BundleContent struct {
	Pages    []Page       `json:"pages"`
	Forms    []FormExport `json:"forms"`
	Views    []View       `json:"views"`
	Snippets []Snippet    `json:"snippets"`
	Options  []Option     `json:"options"`
}

// PluginDownload points a client at the archive of one plugin directory. The
// URL is computed, not checked: it dangles until a refresh has built the file.
type PluginDownload struct {
	Slug        string `json:"slug"`
	Identity    string `json:"identity"`
	DownloadURL string `json:"download_url"`
}

type Page struct {
	ID              int64  `json:"id"`
	Title           string `json:"title"`
	BuilderData     any    `json:"builder_data"`
	BuilderSettings any    `json:"builder_settings"`
	EditMode        any    `json:"edit_mode,omitempty"`
}

type FormExport struct {
	ID      int64            `json:"id"`
	Form    map[string]any   `json:"form"`
	Entries []map[string]any `json:"entries"`
}

type View struct {
	ID    int64          `json:"id"`
	Title string         `json:"title"`
	Meta  map[string]any `json:"meta"`
}

type Snippet struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Code        string `json:"code"`
	Scope       string `json:"scope"`
	Priority    int    `json:"priority,omitempty"`
	Active      bool   `json:"active"`
}

// Option carries a site option encoded by the configured codec so structured
// values survive the trip to the client.
type Option struct {
	Name  string `json:"name"`
	Codec string `json:"codec"`
	Value string `json:"value"`
}
