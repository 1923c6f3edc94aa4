// Package webhook decodes provider callbacks into orchestration events and
// exposes the operator-facing trigger endpoints.
package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"voicegate/internal/artifacts"
	"voicegate/internal/config"
	"voicegate/internal/dispatch"
	"voicegate/internal/flow"
	"voicegate/internal/metrics"
	"voicegate/internal/session"
	"voicegate/internal/vonage"
)

// Downloader fetches post-call artifacts from the provider
type Downloader interface {
	DownloadRecording(ctx context.Context, url string) (io.ReadCloser, error)
	DownloadTranscript(ctx context.Context, url string) (io.ReadCloser, error)
}

// Handler holds the webhook and operator endpoints
type Handler struct {
	dispatcher *dispatch.Dispatcher
	store      *session.Store
	downloader Downloader
	artifacts  artifacts.Store
	cfg        *config.Config
	logger     zerolog.Logger
}

// NewHandler creates the webhook handler set
func NewHandler(dispatcher *dispatch.Dispatcher, store *session.Store, downloader Downloader, artifactStore artifacts.Store, cfg *config.Config, logger zerolog.Logger) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		store:      store,
		downloader: downloader,
		artifacts:  artifactStore,
		cfg:        cfg,
		logger:     logger,
	}
}

// Routes mounts the provider webhook endpoints
func (h *Handler) Routes(r chi.Router) {
	r.Get("/answer", h.HandleAnswer)
	r.Post("/event", h.HandleEvent)
	r.Get("/processor/answer", h.HandleProcessorAnswer)
	r.Post("/processor/event", h.HandleProcessorEvent)
	r.Get("/agent/answer", h.HandleAgentAnswer)
	r.Post("/agent/event", h.HandleAgentEvent)
	r.Post("/rtc", h.HandleRTC)
	r.Post("/results", h.HandleResults)
}

// callEvent is the provider's leg status callback payload
type callEvent struct {
	UUID             string `json:"uuid"`
	ConversationUUID string `json:"conversation_uuid"`
	Status           string `json:"status"`
	Type             string `json:"type"`
	Direction        string `json:"direction"`
}

// terminalStatuses are leg statuses after which the leg no longer exists
var terminalStatuses = map[string]bool{
	"completed":  true,
	"failed":     true,
	"busy":       true,
	"cancelled":  true,
	"rejected":   true,
	"timeout":    true,
	"unanswered": true,
}

// HandleAnswer serves the answer webhook of a primary PSTN leg. The NCCO
// response greets the caller and joins the session conference.
func (h *Handler) HandleAnswer(w http.ResponseWriter, r *http.Request) {
	uuid := r.URL.Query().Get("uuid")
	if uuid == "" {
		metrics.Get().RecordEventInvalid()
		http.Error(w, "missing uuid", http.StatusBadRequest)
		return
	}

	direction := session.DirectionInbound
	if r.URL.Query().Get("direction") == "outbound" {
		direction = session.DirectionOutbound
	}

	ncco := h.dispatcher.DispatchPrimary(r.Context(), uuid, direction, flow.Event{
		Kind:  flow.LegAnswered,
		Role:  session.RolePrimary,
		LegID: uuid,
	})
	writeNCCO(w, ncco)
}

// HandleEvent serves primary-leg status callbacks. A transfer event means
// the leg effectively joined its named conference; terminal statuses tear
// the session down.
func (h *Handler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	ev, ok := h.decodeEvent(w, r)
	if !ok {
		return
	}
	w.WriteHeader(http.StatusOK)

	direction := session.DirectionInbound
	if ev.Direction == "outbound" || r.URL.Query().Get("direction") == "outbound" {
		direction = session.DirectionOutbound
	}

	switch {
	case ev.Type == "transfer":
		h.dispatcher.DispatchPrimary(r.Context(), ev.UUID, direction, flow.Event{
			Kind:  flow.LegTransferred,
			Role:  session.RolePrimary,
			LegID: ev.UUID,
		})
	case ev.Status == "ringing" || ev.Status == "started":
		h.dispatcher.DispatchPrimary(r.Context(), ev.UUID, direction, flow.Event{
			Kind:  flow.LegRinging,
			Role:  session.RolePrimary,
			LegID: ev.UUID,
		})
	case terminalStatuses[ev.Status]:
		h.dispatcher.DispatchPrimary(r.Context(), ev.UUID, direction, flow.Event{
			Kind:   flow.LegEnded,
			Role:   session.RolePrimary,
			LegID:  ev.UUID,
			Reason: ev.Status,
		})
	}
	// The answered status duplicates the answer webhook and is ignored
	// here; the state machine would drop it anyway.
}

// HandleProcessorAnswer serves the answer webhook of the processor
// media-stream leg: it joins the conference without ending it on exit.
func (h *Handler) HandleProcessorAnswer(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		metrics.Get().RecordEventInvalid()
		http.Error(w, "missing session", http.StatusBadRequest)
		return
	}

	ncco := h.dispatcher.DispatchSession(r.Context(), sessionID, flow.Event{
		Kind:  flow.LegAnswered,
		Role:  session.RoleProcessor,
		LegID: r.URL.Query().Get("uuid"),
	})
	writeNCCO(w, ncco)
}

// HandleProcessorEvent serves processor-leg status callbacks
func (h *Handler) HandleProcessorEvent(w http.ResponseWriter, r *http.Request) {
	h.legEvent(w, r, session.RoleProcessor)
}

// HandleAgentAnswer serves the answer webhook of the live-agent leg: hold
// music stops and the agent joins with endOnExit.
func (h *Handler) HandleAgentAnswer(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		metrics.Get().RecordEventInvalid()
		http.Error(w, "missing session", http.StatusBadRequest)
		return
	}

	ncco := h.dispatcher.DispatchSession(r.Context(), sessionID, flow.Event{
		Kind:  flow.LegAnswered,
		Role:  session.RoleAgent,
		LegID: r.URL.Query().Get("uuid"),
	})
	writeNCCO(w, ncco)
}

// HandleAgentEvent serves agent-leg status callbacks
func (h *Handler) HandleAgentEvent(w http.ResponseWriter, r *http.Request) {
	h.legEvent(w, r, session.RoleAgent)
}

// legEvent maps a secondary-leg status callback to an orchestration event
func (h *Handler) legEvent(w http.ResponseWriter, r *http.Request, role session.LegRole) {
	ev, ok := h.decodeEvent(w, r)
	if !ok {
		return
	}
	w.WriteHeader(http.StatusOK)

	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		metrics.Get().RecordEventInvalid()
		return
	}

	switch {
	case ev.Status == "ringing" || ev.Status == "started":
		h.dispatcher.DispatchSession(r.Context(), sessionID, flow.Event{
			Kind:  flow.LegRinging,
			Role:  role,
			LegID: ev.UUID,
		})
	case terminalStatuses[ev.Status]:
		h.dispatcher.DispatchSession(r.Context(), sessionID, flow.Event{
			Kind:   flow.LegEnded,
			Role:   role,
			LegID:  ev.UUID,
			Reason: ev.Status,
		})
	}
}

// rtcEvent is the RTC callback payload carrying post-call artifacts
type rtcEvent struct {
	Type string `json:"type"`
	Body struct {
		DestinationURL   string `json:"destination_url"`
		TranscriptionURL string `json:"transcription_url"`
		RecordingID      string `json:"recording_id"`
		Channel          struct {
			ID string `json:"id"`
		} `json:"channel"`
	} `json:"body"`
}

// HandleRTC fetches completed recordings and transcripts into the local
// artifact store
func (h *Handler) HandleRTC(w http.ResponseWriter, r *http.Request) {
	var ev rtcEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		metrics.Get().RecordEventInvalid()
		h.logger.Error().Err(err).Msg("failed to decode rtc event")
		http.Error(w, "invalid event", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)

	switch ev.Type {
	case "audio:record:done":
		h.saveRecording(r.Context(), ev)
	case "audio:transcribe:done":
		h.saveTranscript(r.Context(), ev)
	default:
		// Other RTC event types carry nothing to persist
	}
}

func (h *Handler) saveRecording(ctx context.Context, ev rtcEvent) {
	body, err := h.downloader.DownloadRecording(ctx, ev.Body.DestinationURL)
	if err != nil {
		h.logger.Error().Err(err).
			Str("recording_id", ev.Body.RecordingID).
			Msg("failed to download recording")
		return
	}
	defer body.Close()

	if _, err := h.artifacts.SaveRecording(ev.Body.RecordingID, ev.Body.Channel.ID, body); err != nil {
		h.logger.Error().Err(err).
			Str("recording_id", ev.Body.RecordingID).
			Msg("failed to save recording")
		return
	}
	metrics.Get().RecordRecordingSaved()
}

func (h *Handler) saveTranscript(ctx context.Context, ev rtcEvent) {
	body, err := h.downloader.DownloadTranscript(ctx, ev.Body.TranscriptionURL)
	if err != nil {
		h.logger.Error().Err(err).
			Str("recording_id", ev.Body.RecordingID).
			Msg("failed to download transcript")
		return
	}
	defer body.Close()

	if _, err := h.artifacts.SaveTranscript(ev.Body.RecordingID, body); err != nil {
		h.logger.Error().Err(err).
			Str("recording_id", ev.Body.RecordingID).
			Msg("failed to save transcript")
		return
	}
	metrics.Get().RecordTranscriptSaved()
}

// HandleResults receives payloads pushed by the AI processor (partial
// transcripts, detected intents). They are logged for operators; nothing
// downstream consumes them yet.
func (h *Handler) HandleResults(w http.ResponseWriter, r *http.Request) {
	var payload map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	h.logger.Info().Interface("payload", payload).Msg("processor results received")
	w.WriteHeader(http.StatusOK)
}

// decodeEvent parses a status callback, answering 400 on malformed bodies
func (h *Handler) decodeEvent(w http.ResponseWriter, r *http.Request) (callEvent, bool) {
	var ev callEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		metrics.Get().RecordEventInvalid()
		h.logger.Error().Err(err).Msg("failed to decode event")
		http.Error(w, "invalid event", http.StatusBadRequest)
		return ev, false
	}
	if ev.UUID == "" {
		metrics.Get().RecordEventInvalid()
		h.logger.Warn().Msg("event missing uuid, dropping")
		w.WriteHeader(http.StatusOK)
		return ev, false
	}
	return ev, true
}

func writeNCCO(w http.ResponseWriter, ncco vonage.NCCO) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if ncco == nil {
		ncco = vonage.NCCO{}
	}
	json.NewEncoder(w).Encode(ncco)
}
