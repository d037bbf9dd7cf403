package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidahmann/wpcd/internal/auth"
	"github.com/davidahmann/wpcd/internal/bundle"
	"github.com/davidahmann/wpcd/internal/content"
	"github.com/davidahmann/wpcd/internal/exporter"
	"github.com/davidahmann/wpcd/internal/refresh"
	"github.com/davidahmann/wpcd/internal/settings"
	"github.com/davidahmann/wpcd/pkg/types"
)

const (
	adminToken = "admin-token"
	exportURL  = "https://master.example/wpcd-exports"
)

var tokenSecret = []byte("0123456789abcdef0123456789abcdef")

type fixture struct {
	router   http.Handler
	store    *content.MemoryStore
	settings *settings.Manager
	trigger  *refresh.Trigger
	exports  *exporter.Provisioner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := content.NewMemoryStore()
	require.NoError(t, store.PutPackage(content.Package{
		ID:       42,
		Title:    "Starter",
		Status:   content.StatusPublish,
		Pages:    []int64{10},
		Snippets: []int64{999},
		Plugins:  []string{"akismet/akismet.php"},
	}))
	require.NoError(t, store.PutPackage(content.Package{ID: 43, Title: "Hidden", Status: content.StatusDraft}))
	store.PutPost(content.Post{ID: 10, Type: "page", Title: "Home", Meta: map[string]any{bundle.MetaBuilderData: "[]"}})

	pluginsFS := memfs.New()
	require.NoError(t, util.WriteFile(pluginsFS, "akismet/akismet.php", []byte("<?php"), 0o644))
	exports := exporter.NewProvisioner(memfs.New(), "")
	builder := exporter.NewBuilder(pluginsFS, exports, exportURL)

	mgr := settings.NewManager(settings.NewMemoryRepository(), nil)
	orchestrator := refresh.NewOrchestrator(mgr, store, builder, nil)
	trigger := refresh.NewTrigger(orchestrator, nil)
	mgr.OnChange(trigger.SettingsChanged)

	h := &Handler{
		Auth: &auth.MultiAuthenticator{
			DevToken: adminToken,
			Tokens:   auth.NewTokenAuthenticator(tokenSecret),
		},
		Catalog:  bundle.NewCatalog(store),
		Bundles:  bundle.NewAggregator(store, exportURL),
		Defaults: bundle.NewDefaultsProvider(mgr, exportURL, nil),
		Refresh:  orchestrator,
		Settings: mgr,
		Exports:  exporter.NewFileServer(exports),
	}
	return &fixture{router: NewRouter(h), store: store, settings: mgr, trigger: trigger, exports: exports}
}

func editorToken(t *testing.T) string {
	t.Helper()
	token, err := auth.IssueToken(tokenSecret, "", "site-1", []string{auth.CapEditPosts}, time.Now(), time.Hour)
	require.NoError(t, err)
	return token
}

func (f *fixture) do(t *testing.T, method, path, token string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res := httptest.NewRecorder()
	f.router.ServeHTTP(res, req)
	return res
}

func decodeError(t *testing.T, res *httptest.ResponseRecorder) types.ErrorResponse {
	t.Helper()
	var body types.ErrorResponse
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body), res.Body.String())
	return body
}

func TestRoutesRequireCapability(t *testing.T) {
	f := newFixture(t)
	paths := []string{"/wpcd/v1/packages", "/wpcd/v1/package/42", "/wpcd/v1/defaults"}
	for _, path := range paths {
		res := f.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, res.Code, path)
		assert.Equal(t, "rest_forbidden", decodeError(t, res).Code)

		res = f.do(t, http.MethodGet, path, "wrong", nil)
		assert.Equal(t, http.StatusUnauthorized, res.Code, path)
	}

	lacking, err := auth.IssueToken(tokenSecret, "", "reader", []string{"read"}, time.Now(), time.Hour)
	require.NoError(t, err)
	res := f.do(t, http.MethodGet, "/wpcd/v1/packages", lacking, nil)
	assert.Equal(t, http.StatusForbidden, res.Code)
	body := decodeError(t, res)
	assert.Equal(t, http.StatusForbidden, body.Data.Status)
	assert.NotEmpty(t, body.Data.RequestID)
}

func TestPackagesListsPublished(t *testing.T) {
	f := newFixture(t)
	res := f.do(t, http.MethodGet, "/wpcd/v1/packages", editorToken(t), nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "application/json; charset=UTF-8", res.Header().Get("Content-Type"))
	assert.JSONEq(t, `[{"id":42,"title":"Starter"}]`, res.Body.String())
}

func TestPackageBundle(t *testing.T) {
	f := newFixture(t)
	res := f.do(t, http.MethodGet, "/wpcd/v1/package/42", editorToken(t), nil)
	require.Equal(t, http.StatusOK, res.Code)

	var b types.Bundle
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &b))
	assert.Equal(t, "Starter", b.Title)
	require.Len(t, b.Content.Pages, 1)
	assert.Empty(t, b.Content.Snippets)
	require.Len(t, b.Plugins, 1)
	assert.Equal(t, exportURL+"/akismet.zip", b.Plugins[0].DownloadURL)
	assert.Contains(t, res.Body.String(), `"snippets":[]`)
}

func TestPackageNotFound(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/wpcd/v1/package/999999", "/wpcd/v1/package/43"} {
		res := f.do(t, http.MethodGet, path, editorToken(t), nil)
		require.Equal(t, http.StatusNotFound, res.Code, path)
		body := decodeError(t, res)
		assert.Equal(t, "no_package", body.Code)
		assert.Equal(t, "Package not found", body.Message)
		assert.Equal(t, http.StatusNotFound, body.Data.Status)
	}
}

func TestUnknownRoutes(t *testing.T) {
	f := newFixture(t)
	paths := []string{
		"/wpcd/v1/package/abc",
		"/wpcd/v1/package/0",
		"/wpcd/v1/package/-4",
		"/wpcd/v1/package/042",
		"/wpcd/v1/package/99999999999999999999",
		"/wpcd/v1/package/42/extra",
		"/wpcd/v1/nothing",
	}
	for _, path := range paths {
		res := f.do(t, http.MethodGet, path, editorToken(t), nil)
		assert.Equal(t, http.StatusNotFound, res.Code, path)
		assert.Equal(t, "rest_no_route", decodeError(t, res).Code, path)
	}

	res := f.do(t, http.MethodPost, "/wpcd/v1/packages", editorToken(t), nil)
	assert.Equal(t, http.StatusNotFound, res.Code)
}

func TestDefaults(t *testing.T) {
	f := newFixture(t)
	res := f.do(t, http.MethodGet, "/wpcd/v1/defaults", editorToken(t), nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.JSONEq(t, `{"brand_name":"WP Cloud Deployer","core_theme":"astra","core_plugins":[],"license_keys":""}`, res.Body.String())
}

func TestAdminRoutesNeedManageOptions(t *testing.T) {
	f := newFixture(t)
	editor := editorToken(t)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/wpcd/v1/refresh", editor, nil).Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/wpcd/v1/settings", editor, nil).Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPut, "/wpcd/v1/settings", editor, []byte(`{}`)).Code)
}

func TestRefreshBuildsAndServesArchives(t *testing.T) {
	f := newFixture(t)

	res := f.do(t, http.MethodGet, "/wpcd-exports/akismet.zip", "", nil)
	assert.Equal(t, http.StatusNotFound, res.Code)

	res = f.do(t, http.MethodPost, "/wpcd/v1/refresh", adminToken, nil)
	require.Equal(t, http.StatusOK, res.Code)
	var report types.RefreshReport
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &report))
	assert.Equal(t, 1, report.Requested)
	require.Len(t, report.Built, 1)
	assert.Equal(t, exportURL+"/akismet.zip", report.Built[0].URL)

	res = f.do(t, http.MethodGet, "/wpcd-exports/akismet.zip", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "application/zip", res.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(res.Body.String(), "PK"))

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/wpcd-exports/", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/wpcd-exports/.htaccess", "", nil).Code)

	res = f.do(t, http.MethodPost, "/wpcd/v1/refresh?wait=false", adminToken, nil)
	assert.Equal(t, http.StatusOK, res.Code)
}

type busyRefresher struct{}

func (busyRefresher) RefreshAll(context.Context) (types.RefreshReport, error) {
	return types.RefreshReport{}, nil
}

func (busyRefresher) TryRefreshAll(context.Context) (types.RefreshReport, error) {
	return types.RefreshReport{}, refresh.ErrInProgress
}

func TestRefreshWithoutWaitingReportsConflict(t *testing.T) {
	h := &Handler{Auth: &auth.MultiAuthenticator{DevToken: adminToken}, Refresh: busyRefresher{}}
	req := httptest.NewRequest(http.MethodPost, "/wpcd/v1/refresh?wait=false", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	res := httptest.NewRecorder()
	NewRouter(h).ServeHTTP(res, req)

	assert.Equal(t, http.StatusConflict, res.Code)
	assert.Equal(t, "refresh_in_progress", decodeError(t, res).Code)
}

func TestSettingsRoundTripTriggersRefresh(t *testing.T) {
	f := newFixture(t)

	res := f.do(t, http.MethodGet, "/wpcd/v1/settings", adminToken, nil)
	require.Equal(t, http.StatusOK, res.Code)
	var current settings.Settings
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &current))
	assert.Equal(t, settings.DefaultCoreTheme, current.CoreTheme)

	body := []byte(`{"brand_name":"Acme","core_theme":"","core_plugins":["akismet/akismet.php"],"license_keys":"pro|ABC\r\n"}`)
	res = f.do(t, http.MethodPut, "/wpcd/v1/settings", adminToken, body)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	f.trigger.Wait()

	_, err := f.exports.FS().Stat(f.exports.ArchivePath("akismet"))
	require.NoError(t, err)

	res = f.do(t, http.MethodGet, "/wpcd/v1/defaults", editorToken(t), nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.JSONEq(t, `{"brand_name":"Acme","core_plugins":[{"slug":"akismet/akismet.php","identity":"akismet","download_url":"`+exportURL+`/akismet.zip"}],"license_keys":"pro|ABC"}`, res.Body.String())
}

func TestPutSettingsRejectsBadInput(t *testing.T) {
	f := newFixture(t)

	res := f.do(t, http.MethodPut, "/wpcd/v1/settings", adminToken, []byte(`{"brand":`))
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, "rest_invalid_json", decodeError(t, res).Code)

	res = f.do(t, http.MethodPut, "/wpcd/v1/settings", adminToken, []byte(`{"unknown":1}`))
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = f.do(t, http.MethodPut, "/wpcd/v1/settings", adminToken, []byte(`{"core_plugins":["../x/x.php"]}`))
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, "rest_invalid_param", decodeError(t, res).Code)
}

type failingCatalog struct{}

func (failingCatalog) List(context.Context) ([]types.PackageSummary, error) {
	return nil, errors.New("database is gone")
}

type panickingCatalog struct{}

func (panickingCatalog) List(context.Context) ([]types.PackageSummary, error) {
	panic("boom")
}

func TestFailuresRenderCleanJSON(t *testing.T) {
	for name, catalog := range map[string]CatalogService{"error": failingCatalog{}, "panic": panickingCatalog{}} {
		t.Run(name, func(t *testing.T) {
			h := &Handler{Auth: &auth.MultiAuthenticator{DevToken: adminToken}, Catalog: catalog}
			req := httptest.NewRequest(http.MethodGet, "/wpcd/v1/packages", nil)
			req.Header.Set("Authorization", "Bearer "+adminToken)
			res := httptest.NewRecorder()
			NewRouter(h).ServeHTTP(res, req)

			assert.Equal(t, http.StatusInternalServerError, res.Code)
			body := decodeError(t, res)
			assert.Equal(t, "internal_error", body.Code)
			assert.NotContains(t, res.Body.String(), "database is gone")
		})
	}
}

func TestWriteJSONEncodeFailure(t *testing.T) {
	res := httptest.NewRecorder()
	writeJSON(res, http.StatusOK, map[string]any{"bad": make(chan int)})
	assert.Equal(t, http.StatusInternalServerError, res.Code)
	assert.JSONEq(t, encodeFailureBody, res.Body.String())
}

func TestRequestIDEchoed(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "2f1c1e1a-7f57-4b8e-9b57-5a3f1d0e6c11")
	res := httptest.NewRecorder()
	f.router.ServeHTTP(res, req)
	assert.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "2f1c1e1a-7f57-4b8e-9b57-5a3f1d0e6c11", res.Header().Get(RequestIDHeader))

	res = f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Len(t, res.Header().Get(RequestIDHeader), 36)
}

func TestCustomNamespace(t *testing.T) {
	h := &Handler{Auth: &auth.MultiAuthenticator{DevToken: adminToken}, Catalog: bundle.NewCatalog(content.NewMemoryStore()), Namespace: "/deployer/v2/"}
	req := httptest.NewRequest(http.MethodGet, "/deployer/v2/packages", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	res := httptest.NewRecorder()
	NewRouter(h).ServeHTTP(res, req)
	assert.Equal(t, http.StatusOK, res.Code)
	assert.JSONEq(t, `[]`, res.Body.String())
}
