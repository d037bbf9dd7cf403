package types

// Defaults are the operator settings every client deployment receives,
// whatever package it installs.
type Defaults struct {
	BrandName   string           `json:"brand_name,omitempty"`
	CoreTheme   string           `json:"core_theme,omitempty"`
	CorePlugins []PluginDownload `json:"core_plugins"`
	// LicenseKeys is the raw "identifier|secret" blob, one pair per line.
	LicenseKeys string `json:"license_keys"`
}

// RefreshReport summarizes one refresh cycle.
type RefreshReport struct {
	StartedAt  string          `json:"started_at"`
	FinishedAt string          `json:"finished_at"`
	Requested  int             `json:"requested"`
	Built      []BuiltArchive  `json:"built"`
	Failed     []FailedArchive `json:"failed"`
}

type BuiltArchive struct {
	Identity  string `json:"identity"`
	URL       string `json:"url"`
	Entries   int    `json:"entries"`
	SizeBytes int64  `json:"size_bytes"`
}

type FailedArchive struct {
	Identity string `json:"identity"`
	Error    string `json:"error"`
}

// ErrorResponse mirrors the error body WordPress REST clients already parse.
type ErrorResponse struct {
	Code    string        `json:"code"`
	Message string        `json:"message"`
	Data    ErrorDataBody `json:"data"`
}

type ErrorDataBody struct {
	Status    int    `json:"status"`
	RequestID string `json:"request_id,omitempty"`
}
