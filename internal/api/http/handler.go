package http

import (
	"fmt"
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/logtide/logtide/internal/event"
	"github.com/logtide/logtide/internal/metrics"
	"github.com/logtide/logtide/internal/queue"
	"github.com/logtide/logtide/internal/sanitize"
)

// IngestHandler handles POST /ingest: it validates and redacts the
// submitted events, then hands the batch to the queue. A success
// response acknowledges queueing only; persistence happens later in the
// background.
type IngestHandler struct {
	sanitizer *sanitize.Sanitizer
	queue     *queue.Queue
	metrics   *metrics.Metrics
	log       zerolog.Logger
}

// NewIngestHandler wires the ingest endpoint.
func NewIngestHandler(s *sanitize.Sanitizer, q *queue.Queue, m *metrics.Metrics, logger zerolog.Logger) *IngestHandler {
	return &IngestHandler{
		sanitizer: s,
		queue:     q,
		metrics:   m,
		log:       logger.With().Str("component", "ingest").Logger(),
	}
}

// ServeHTTP handles one batch submission.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	var events []*event.Event
	if err := json.NewDecoder(r.Body).Decode(&events); err != nil {
		writeStatus(w, http.StatusBadRequest, event.StatusFailed,
			fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if len(events) == 0 {
		writeStatus(w, http.StatusBadRequest, event.StatusFailed, "batch must not be empty")
		return
	}

	accepted, dropped := h.sanitizer.ProcessBatch(events)
	h.metrics.EventsAccepted.Add(float64(len(accepted)))
	h.metrics.EventsRejected.Add(float64(dropped))

	if len(accepted) == 0 {
		writeStatus(w, http.StatusBadRequest, event.StatusFailed, "no valid events in batch")
		return
	}

	if err := h.queue.Enqueue(r.Context(), &event.Batch{Events: accepted}); err != nil {
		h.log.Error().Err(err).
			Str("request_id", requestID).
			Int("events", len(accepted)).
			Msg("failed to enqueue batch")
		writeStatus(w, http.StatusInternalServerError, event.StatusError, "failed to queue batch")
		return
	}
	h.metrics.BatchesQueued.Inc()

	msg := fmt.Sprintf("queued %d events", len(accepted))
	if dropped > 0 {
		msg = fmt.Sprintf("queued %d events, dropped %d invalid", len(accepted), dropped)
	}
	writeStatus(w, http.StatusOK, event.StatusSuccess, msg)
}

// Health reports liveness.
func Health(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, http.StatusOK, event.StatusSuccess, "ok")
}
