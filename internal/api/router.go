package api

import (
	"net/http"
	"strings"
)

const DefaultExportsPath = "/wpcd-exports/"

func NewRouter(handler *Handler) http.Handler {
	ns := strings.TrimRight(handler.Namespace, "/")
	if ns == "" {
		ns = DefaultNamespace
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET "+ns+"/packages", handler.Packages)
	mux.HandleFunc("GET "+ns+"/package/{id}", handler.Package)
	mux.HandleFunc("GET "+ns+"/defaults", handler.DefaultsDoc)
	mux.HandleFunc("POST "+ns+"/refresh", handler.RefreshNow)
	mux.HandleFunc("GET "+ns+"/settings", handler.GetSettings)
	mux.HandleFunc("PUT "+ns+"/settings", handler.PutSettings)
	mux.HandleFunc(ns+"/", noRoute)

	if handler.Exports != nil {
		prefix := handler.ExportsPath
		if prefix == "" {
			prefix = DefaultExportsPath
		}
		prefix = "/" + strings.Trim(prefix, "/") + "/"
		mux.Handle(prefix, http.StripPrefix(strings.TrimSuffix(prefix, "/"), handler.Exports))
	}

	mux.HandleFunc("GET /healthz", handler.Health)

	return withMiddleware(mux, handler.logger())
}
