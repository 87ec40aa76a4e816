package rest

import (
	"net/http"
	"strings"
)

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// NewRouter mounts the API. When staticDir is set its contents are served
// under publicPrefix.
func NewRouter(h *Handler, staticDir, publicPrefix string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("POST /predict", h.Predict)
	mux.HandleFunc("GET /history", h.History)
	mux.HandleFunc("GET /history/detail", h.HistoryDetailQuery)
	mux.HandleFunc("GET /history/{id}", h.HistoryDetail)
	mux.HandleFunc("DELETE /history/{id}", h.DeleteHistory)
	mux.HandleFunc("GET /summary", h.Summary)

	if staticDir != "" {
		prefix := "/" + strings.Trim(publicPrefix, "/") + "/"
		mux.Handle("GET "+prefix, http.StripPrefix(prefix, http.FileServer(http.Dir(staticDir))))
	}
	return enableCORS(mux)
}
