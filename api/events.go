package api

import (
	"fmt"
	"net/http"

	"benchflow/events"
)

// SSEHandler streams engine progress from broker as Server-Sent Events
func SSEHandler(broker *events.EventBroker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "Streaming unsupported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		client := make(chan string, 10)
		broker.Register(client)
		defer broker.Unregister(client)

		fmt.Fprintf(w, "event: connected\ndata: {\"message\": \"Connected to benchflow events\"}\n\n")
		flusher.Flush()

		for {
			select {
			case message := <-client:
				fmt.Fprint(w, message)
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	}
}
