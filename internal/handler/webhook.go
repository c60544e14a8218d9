package handler

import (
	"io"
	"net/http"
)

// maxWebhookBytes bounds webhook payloads; real gateway deliveries are a few
// kilobytes.
const maxWebhookBytes = 1 << 20

// handleWebhook accepts asynchronous gateway notifications. It acks with 2xx
// only after the event has been verified and idempotently applied, so the
// gateway's retry loop doubles as our delivery guarantee.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")

	headerName, ok := h.reconciler.SignatureHeader(provider)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{404, "not_found", "unknown webhook provider"})
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{400, "invalid_input", "unreadable payload"})
		return
	}

	if err := h.reconciler.Handle(r.Context(), provider, payload, r.Header.Get(headerName)); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
