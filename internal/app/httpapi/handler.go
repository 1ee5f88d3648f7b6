// Package httpapi exposes the raffle over REST plus a websocket event feed.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	app "github.com/R3E-Network/raffle_layer/internal/app"
	"github.com/R3E-Network/raffle_layer/internal/app/metrics"
	rafflesvc "github.com/R3E-Network/raffle_layer/internal/app/services/raffle"
	"github.com/R3E-Network/raffle_layer/internal/app/storage"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
)

// handler bundles HTTP endpoints for the raffle application.
type handler struct {
	app *app.Application
	log *logger.Logger
}

// Config tunes the HTTP surface.
type Config struct {
	// EntryRatePerSecond caps POST /entries per client IP. Zero disables
	// the limiter.
	EntryRatePerSecond float64
	// EntryBurst is the limiter burst size; defaults to 5 when rate limiting
	// is enabled.
	EntryBurst int
}

// NewHandler returns a router exposing the raffle REST API, the websocket
// event feed, health, and metrics.
func NewHandler(application *app.Application, cfg Config, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{app: application, log: log}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(metrics.InstrumentHandler)

	r.Group(func(r chi.Router) {
		if cfg.EntryRatePerSecond > 0 {
			r.Use(perClientLimiter(cfg.EntryRatePerSecond, cfg.EntryBurst))
		}
		r.Post("/entries", h.postEntry)
	})

	r.Get("/round", h.getRound)
	r.Get("/upkeep", h.getUpkeep)
	r.Post("/upkeep", h.postUpkeep)
	r.Post("/oracle/deliveries", h.postDelivery)
	r.Get("/rounds", h.listRounds)
	r.Get("/rounds/{roundID}", h.getRoundRecord)
	r.Get("/stats", h.getStats)
	r.Get("/events", h.events)
	r.Get("/healthz", h.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	return r
}

func (h *handler) postEntry(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Participant string `json:"participant"`
		AmountPaid  int64  `json:"amount_paid"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	entry, err := h.app.Raffle.Enter(r.Context(), payload.Participant, payload.AmountPaid)
	if err != nil {
		switch {
		case errors.Is(err, rafflesvc.ErrInsufficientFee):
			writeError(w, http.StatusPaymentRequired, err)
		case errors.Is(err, rafflesvc.ErrRoundNotOpen):
			writeError(w, http.StatusConflict, err)
		default:
			writeError(w, http.StatusBadRequest, err)
		}
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *handler) getRound(w http.ResponseWriter, r *http.Request) {
	snap := h.app.Raffle.Snapshot()
	writeJSON(w, http.StatusOK, snap)
}

func (h *handler) getUpkeep(w http.ResponseWriter, r *http.Request) {
	// The diagnostics payload already carries the needed flag.
	_, diagnostics, err := h.app.Raffle.IsUpkeepNeeded(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(diagnostics)
}

func (h *handler) postUpkeep(w http.ResponseWriter, r *http.Request) {
	requestID, err := h.app.Raffle.PerformUpkeep(r.Context())
	if err != nil {
		var notNeeded *rafflesvc.UpkeepNotNeededError
		if errors.As(err, &notNeeded) || errors.Is(err, rafflesvc.ErrStaleElapsedTime) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"request_id": requestID})
}

func (h *handler) postDelivery(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		RequestID string   `json:"request_id"`
		Values    []uint64 `json:"values"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	record, err := h.app.Raffle.Resolve(r.Context(), payload.RequestID, payload.Values)
	if err != nil {
		switch {
		case errors.Is(err, rafflesvc.ErrUnknownRequest):
			writeError(w, http.StatusNotFound, err)
		case errors.Is(err, rafflesvc.ErrTransferFailed):
			writeError(w, http.StatusBadGateway, err)
		default:
			writeError(w, http.StatusBadRequest, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *handler) listRounds(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	rounds, err := h.app.Store.ListRounds(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, rounds)
}

func (h *handler) getRoundRecord(w http.ResponseWriter, r *http.Request) {
	roundID := chi.URLParam(r, "roundID")
	round, err := h.app.Store.GetRound(r.Context(), roundID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, round)
}

func (h *handler) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.app.Store.GetStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
