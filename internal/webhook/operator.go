package webhook

import (
	"encoding/json"
	"net/http"

	"voicegate/internal/flow"
)

// callResponse acknowledges a manual outbound call trigger
type callResponse struct {
	SessionID string `json:"sessionId,omitempty"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// HandleCall manually triggers an outbound PSTN call.
// GET /call?number=12995551212 (E.164 without leading '+')
func (h *Handler) HandleCall(w http.ResponseWriter, r *http.Request) {
	number := r.URL.Query().Get("number")
	if !validNumber(number) {
		writeJSON(w, http.StatusBadRequest, callResponse{
			Status: "rejected",
			Error:  "number must be in E.164 format without '+', '-' or '.' characters",
		})
		return
	}

	sessionID, err := h.dispatcher.StartOutboundCall(r.Context(), number)
	if err != nil {
		h.logger.Error().Err(err).Str("number", number).Msg("outbound call failed")
		writeJSON(w, http.StatusBadGateway, callResponse{
			Status: "rejected",
			Error:  "provider rejected the call",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, callResponse{
		SessionID: sessionID,
		Status:    "accepted",
	})
}

// transferRequest is the JSON body for POST /transfer
type transferRequest struct {
	SessionID string `json:"sessionId"`
}

// HandleTransfer injects a manual transfer-to-agent request for a live
// session. It shares the event path with the escalation timer, so a real
// intent-detection trigger can post here without touching the state
// machine.
func (h *Handler) HandleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		http.Error(w, "invalid JSON body, sessionId required", http.StatusBadRequest)
		return
	}

	if h.store.FindBySessionID(req.SessionID) == nil {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	h.dispatcher.DispatchSession(r.Context(), req.SessionID, flow.Event{Kind: flow.TransferRequested})
	writeJSON(w, http.StatusOK, map[string]string{"status": "transfer requested"})
}

// validNumber accepts digits-only E.164 numbers without the leading '+'
func validNumber(number string) bool {
	if len(number) < 7 || len(number) > 15 {
		return false
	}
	for _, c := range number {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
