package httpapi

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed static/*
var controlUI embed.FS

// newStaticHandler serves the control page. The page polls status, so it is
// never cached.
func newStaticHandler() http.Handler {
	sub, err := fs.Sub(controlUI, "static")
	if err != nil {
		return http.NotFoundHandler()
	}
	files := http.FileServer(http.FS(sub))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		files.ServeHTTP(w, r)
	})
}
