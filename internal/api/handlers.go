package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	platformerrors "github.com/jmgilman/go/errors"

	"github.com/davidahmann/wpcd/internal/auth"
	"github.com/davidahmann/wpcd/internal/bundle"
	"github.com/davidahmann/wpcd/internal/refresh"
	"github.com/davidahmann/wpcd/internal/settings"
	"github.com/davidahmann/wpcd/pkg/types"
)

const DefaultNamespace = "/wpcd/v1"

const maxSettingsBody = 1 << 20

type CatalogService interface {
	List(ctx context.Context) ([]types.PackageSummary, error)
}

type BundleService interface {
	Assemble(ctx context.Context, id int64) (types.Bundle, error)
}

type DefaultsService interface {
	Get(ctx context.Context) (types.Defaults, error)
}

type RefreshService interface {
	RefreshAll(ctx context.Context) (types.RefreshReport, error)
	TryRefreshAll(ctx context.Context) (types.RefreshReport, error)
}

type SettingsService interface {
	Get(ctx context.Context) (settings.Settings, error)
	Update(ctx context.Context, next settings.Settings) (settings.Settings, error)
}

type Handler struct {
	Auth     auth.Authenticator
	Catalog  CatalogService
	Bundles  BundleService
	Defaults DefaultsService
	Refresh  RefreshService
	Settings SettingsService

	// Namespace prefixes every bundle route. Empty means DefaultNamespace.
	Namespace string
	// Exports serves the export root under ExportsPath when set.
	Exports     http.Handler
	ExportsPath string

	Logger *slog.Logger
}

func (h *Handler) Packages(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.ensureCapability(w, r, auth.CapEditPosts); !ok {
		return
	}
	list, err := h.Catalog.List(r.Context())
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) Package(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r.PathValue("id"))
	if !ok {
		noRoute(w, r)
		return
	}
	if _, ok := h.ensureCapability(w, r, auth.CapEditPosts); !ok {
		return
	}

	b, err := h.Bundles.Assemble(r.Context(), id)
	if errors.Is(err, bundle.ErrPackageNotFound) {
		writeError(w, r, http.StatusNotFound, "no_package", "Package not found")
		return
	}
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handler) DefaultsDoc(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.ensureCapability(w, r, auth.CapEditPosts); !ok {
		return
	}
	d, err := h.Defaults.Get(r.Context())
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// RefreshNow runs a refresh cycle and reports it. With wait=false a request
// that finds a cycle running gets 409 instead of queueing.
func (h *Handler) RefreshNow(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.ensureCapability(w, r, auth.CapManageOptions)
	if !ok {
		return
	}
	h.logger().Info("manual refresh requested", "subject", principal.Subject)

	var report types.RefreshReport
	var err error
	if r.URL.Query().Get("wait") == "false" {
		report, err = h.Refresh.TryRefreshAll(r.Context())
	} else {
		report, err = h.Refresh.RefreshAll(r.Context())
	}
	if errors.Is(err, refresh.ErrInProgress) {
		writeError(w, r, http.StatusConflict, "refresh_in_progress", "A refresh is already running")
		return
	}
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.ensureCapability(w, r, auth.CapManageOptions); !ok {
		return
	}
	s, err := h.Settings.Get(r.Context())
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) PutSettings(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.ensureCapability(w, r, auth.CapManageOptions)
	if !ok {
		return
	}

	var next settings.Settings
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSettingsBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&next); err != nil {
		writeError(w, r, http.StatusBadRequest, "rest_invalid_json", "Invalid JSON body passed.")
		return
	}

	stored, err := h.Settings.Update(r.Context(), next)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	h.logger().Info("settings replaced", "subject", principal.Subject)
	writeJSON(w, http.StatusOK, stored)
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ensureCapability authenticates the caller and checks capability before any
// handler logic runs. Failures get the same generic body.
func (h *Handler) ensureCapability(w http.ResponseWriter, r *http.Request, capability string) (auth.Principal, bool) {
	principal, err := h.Authenticate(r)
	if err != nil {
		h.logger().Debug("authentication failed", "path", r.URL.Path, "error", err)
		writeError(w, r, http.StatusUnauthorized, "rest_forbidden", "Sorry, you are not allowed to do that.")
		return auth.Principal{}, false
	}
	if !principal.Can(capability) {
		h.logger().Debug("capability missing", "subject", principal.Subject, "capability", capability)
		writeError(w, r, http.StatusForbidden, "rest_forbidden", "Sorry, you are not allowed to do that.")
		return auth.Principal{}, false
	}
	return principal, true
}

func (h *Handler) Authenticate(r *http.Request) (auth.Principal, error) {
	if h.Auth == nil {
		return auth.Principal{}, auth.ErrMissingCredentials
	}
	return h.Auth.Authenticate(r)
}

// writeFailure maps an error category onto a status. Internal details are
// logged, never returned.
func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	switch platformerrors.GetCode(err) {
	case platformerrors.CodeNotFound:
		writeError(w, r, http.StatusNotFound, "rest_not_found", "Resource not found")
	case platformerrors.CodeInvalidInput:
		writeError(w, r, http.StatusBadRequest, "rest_invalid_param", invalidMessage(err))
	case platformerrors.CodeConflict:
		writeError(w, r, http.StatusConflict, "rest_conflict", "The request conflicts with the current state")
	case platformerrors.CodeUnavailable:
		writeError(w, r, http.StatusServiceUnavailable, "rest_unavailable", "Service temporarily unavailable")
	default:
		h.logger().Error("request failed", "path", r.URL.Path, "request_id", RequestIDFrom(r.Context()), "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}

func invalidMessage(err error) string {
	var perr platformerrors.PlatformError
	if errors.As(err, &perr) {
		return perr.Message()
	}
	return "Invalid parameter"
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return h.Logger
}

// parseID accepts a positive decimal integer without sign or padding.
func parseID(raw string) (int64, bool) {
	if raw == "" || raw[0] == '0' {
		return 0, false
	}
	for _, c := range raw {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func noRoute(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, "rest_no_route", "No route was found matching the URL and request method.")
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, types.ErrorResponse{
		Code:    code,
		Message: message,
		Data:    types.ErrorDataBody{Status: status, RequestID: RequestIDFrom(r.Context())},
	})
}

// encodeFailureBody is sent when a payload cannot be encoded.
const encodeFailureBody = `{"code":"internal_error","message":"Response could not be encoded","data":{"status":500}}` + "\n"

// writeJSON encodes payload fully before writing anything, so the body is
// either the whole document or a clean error.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	if err := enc.Encode(payload); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(encodeFailureBody))
		return
	}
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
