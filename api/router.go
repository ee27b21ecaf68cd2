package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"benchflow/events"
)

// NewRouter mounts the read-only result API.
func NewRouter(store ResultStore, broker *events.EventBroker) http.Handler {
	r := chi.NewRouter()
	r.Use(cors)

	r.Route("/api", func(r chi.Router) {
		r.Get("/runs", GetRuns(store))
		r.Get("/runs/{id}", GetRun(store))
		r.Get("/pipelines", GetPipelines(store))
		r.Get("/pipelines/{key}", GetPipeline(store))
		r.Get("/modules/{name}", GetModule(store))
		r.Get("/events", SSEHandler(broker))
	})
	return r
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
