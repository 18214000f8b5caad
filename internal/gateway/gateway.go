package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aquamarinepk/aqm"
	"github.com/aquamarinepk/aqm/telemetry"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/syncstayai/syncstay-app-main/internal/hub"
	"github.com/syncstayai/syncstay-app-main/pkg/event"
)

const MaxBodyBytes = 1 << 20

// ConnectionIDHeader routes targeted replies (order confirmations,
// session restores) back to the stream that submitted the event.
const ConnectionIDHeader = "X-Connection-ID"

// Handler is the connection gateway: it accepts inbound client events,
// serves the live event stream, and exposes the snapshot read.
type Handler struct {
	engine     *hub.Engine
	dispatcher *hub.Dispatcher
	staticDir  string
	logger     aqm.Logger
	config     *aqm.Config
	tlm        *telemetry.HTTP
}

func NewHandler(engine *hub.Engine, dispatcher *hub.Dispatcher, config *aqm.Config, logger aqm.Logger) *Handler {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	staticDir := ""
	if config != nil {
		staticDir, _ = config.GetString("web.static_dir")
	}
	if staticDir == "" {
		staticDir = "public"
	}
	return &Handler{
		engine:     engine,
		dispatcher: dispatcher,
		staticDir:  staticDir,
		logger:     logger,
		config:     config,
		tlm:        telemetry.NewHTTP(),
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/events", h.IngestEvent)
	r.Get("/stream", h.Stream)
	r.Get("/orders", h.ListOrders)
	r.Get("/ping", h.Ping)
	r.Handle("/*", http.FileServer(http.Dir(h.staticDir)))
}

func (h *Handler) log(r *http.Request) aqm.Logger {
	return h.logger.With("request_id", aqm.RequestIDFrom(r.Context()))
}

// IngestEvent accepts one inbound event envelope. Application-level
// failures (unknown order, out-of-range index) are intentionally not
// surfaced: the channel is best-effort and clients resync from
// snapshots.
func (h *Handler) IngestEvent(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.IngestEvent")
	defer finish()
	log := h.log(r)
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		aqm.RespondError(w, http.StatusBadRequest, "Could not read request body")
		return
	}

	var env event.InboundEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		aqm.RespondError(w, http.StatusBadRequest, "Invalid event envelope")
		return
	}
	if env.EventType == "" {
		aqm.RespondError(w, http.StatusBadRequest, "Missing event type")
		return
	}

	origin := r.Header.Get(ConnectionIDHeader)
	if err := h.engine.Apply(ctx, origin, env.EventType, env.Payload); err != nil {
		log.Errorf("cannot apply %s event: %v", env.EventType, err)
		aqm.RespondError(w, http.StatusInternalServerError, "Could not apply event")
		return
	}

	aqm.Respond(w, http.StatusAccepted, map[string]interface{}{
		"accepted": true,
	}, nil)
}

// Stream attaches the client to the broadcast feed over server-sent
// events. The connection id is pushed first so the client can tag its
// submissions, followed by the full snapshot, so a late joiner is
// consistent before the next mutation.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	log := h.log(r)
	ctx := r.Context()

	flusher, ok := w.(http.Flusher)
	if !ok {
		aqm.RespondError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	connID := uuid.NewString()
	sink := h.dispatcher.Attach(connID)
	defer h.dispatcher.Detach(connID)

	if err := writeSSE(w, mustEncode(event.TypeConnected, event.ConnectedPayload{ConnectionID: connID})); err != nil {
		return
	}
	if err := writeSSE(w, mustEncode(event.TypeActiveOrders, h.engine.CurrentSnapshot())); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case data, open := <-sink:
			if !open {
				return
			}
			if err := writeSSE(w, data); err != nil {
				log.Info("stream write failed, dropping connection", "conn_id", connID)
				return
			}
			flusher.Flush()
		}
	}
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ListOrders")
	defer finish()

	aqm.Respond(w, http.StatusOK, map[string]interface{}{
		"orders": h.engine.CurrentSnapshot(),
	}, nil)
}

// Ping answers the liveness probe with a timestamped acknowledgment.
func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.Ping")
	defer finish()

	aqm.Respond(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UnixMilli(),
	}, nil)
}

func writeSSE(w io.Writer, data []byte) error {
	_, err := fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

func mustEncode(eventType string, payload any) []byte {
	data, err := hub.Encode(eventType, payload)
	if err != nil {
		// Encoding our own types cannot fail at runtime.
		panic(err)
	}
	return data
}
