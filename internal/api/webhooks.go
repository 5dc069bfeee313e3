package api

import (
	"io"
	"net/http"
)

// WebhookResponse acknowledges a delivery.
type WebhookResponse struct {
	Status    string   `json:"status"`
	Matched   int      `json:"matched"`
	Completed []string `json:"completed,omitempty"`
}

// handleWebhook verifies and ingests a provider delivery. Deliveries that
// match no run are still acknowledged.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	name := providerName(r)
	provider, ok := s.providers[name]
	if !ok {
		respondError(w, http.StatusNotFound, "unknown webhook provider: "+name)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	res, err := s.deps.Ingestor.Handle(r.Context(), provider, r.Header, body)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}

	status := "ok"
	if res.Ignored {
		status = "ignored"
	}
	respondJSON(w, http.StatusAccepted, WebhookResponse{
		Status:    status,
		Matched:   res.Matched,
		Completed: res.Completed,
	})
}
