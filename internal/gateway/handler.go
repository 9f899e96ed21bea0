// Package gateway implements the Ollama-compatible HTTP surface:
// "/" liveness, "/api/tags" merged model listing, "/api/show" sequential
// failover dispatch, "/api/generate" (stubbed, matching the original's
// empty-prompt-only support), and "/api/chat" racing dispatch. Routing
// and JSON-body handling follow the shape of dispatch() in
// original_source/src/handler.rs; the HTTP plumbing (request buffering,
// response streaming with a Flusher) is grounded on the teacher's own
// internal/gateway package (Srskip-shadowgate), generalized from a
// client-deception proxy handler to an inference-backend dispatcher.
package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/srskip/inferlb/internal/dispatch"
	"github.com/srskip/inferlb/internal/metrics"
	"github.com/srskip/inferlb/internal/registry"
	"github.com/srskip/inferlb/internal/selector"
)

// selectOpts mirrors the original's SelOpt{count: (3, 6), resurrect_p:
// 0.1, resurrect_n: 1} used by both handle_request_ha and
// handle_chat_parallel.
var selectOpts = selector.Options{
	Min:        3,
	Max:        6,
	ResurrectP: 0.1,
	ResurrectN: 1,
}

// RNG is re-exported so callers can supply a seeded source in tests.
type RNG = selector.RNG

// Handler routes the Ollama-compatible surface to the selector and
// dispatcher.
type Handler struct {
	Registry    *registry.Registry
	Dispatcher  *dispatch.Dispatcher
	Metrics     *metrics.Metrics
	Log         *zap.Logger
	RNG         RNG
	Timeout     time.Duration
	TimeoutFT   time.Duration
	TimeMeasure time.Duration
}

// New builds a Handler. rng is wrapped in a selector.LockedRNG so a
// single stateful source (e.g. a *rand.Rand, not safe for concurrent
// use) can be shared across the concurrent per-request goroutines
// net/http spawns — ServeHTTP calls selector.Select, and therefore
// rng.Float64, once per inbound request.
func New(reg *registry.Registry, d *dispatch.Dispatcher, m *metrics.Metrics, log *zap.Logger, rng RNG, timeout, timeoutFT, timeMeasure time.Duration) *Handler {
	return &Handler{
		Registry:    reg,
		Dispatcher:  d,
		Metrics:     m,
		Log:         log,
		RNG:         selector.NewLockedRNG(rng),
		Timeout:     timeout,
		TimeoutFT:   timeoutFT,
		TimeMeasure: timeMeasure,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.NewString()
	w.Header().Set("X-Request-Id", reqID)
	log := h.Log.With(zap.String("request_id", reqID), zap.String("remote", r.RemoteAddr), zap.String("method", r.Method), zap.String("path", r.URL.Path))

	switch r.URL.Path {
	case "/":
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Ollama is running"))
	case "/api/tags":
		h.handleTags(w, r, log)
	case "/api/show":
		h.handleShow(w, r, log)
	case "/api/generate":
		h.handleGenerate(w, r, log)
	case "/api/chat":
		h.handleChat(w, r, log)
	default:
		writeNotImplemented(w, "Endpoint "+r.URL.Path+" is not implemented")
	}
}

func (h *Handler) handleTags(w http.ResponseWriter, r *http.Request, log *zap.Logger) {
	merged := h.Registry.MergedModels()
	models := make([]json.RawMessage, 0, len(merged))
	for _, detail := range merged {
		models = append(models, detail)
	}
	log.Info("served merged model listing", zap.Int("count", len(models)))
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

func (h *Handler) handleShow(w http.ResponseWriter, r *http.Request, log *zap.Logger) {
	req, err := bufferRequest(r)
	if err != nil {
		writeBadRequest(w, "Error handling request: "+err.Error())
		return
	}
	model, err := extractModel(req.Body)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	picks := selector.Select(h.Registry.Snapshot(false), model, selectOpts, h.RNG)
	h.countPicks(picks)
	if len(picks) == 0 {
		http.Error(w, "No available servers", http.StatusServiceUnavailable)
		return
	}

	result, err := h.Dispatcher.Sequential(r.Context(), model, req, h.Timeout, h.TimeoutFT)
	if err != nil {
		log.Warn("sequential dispatch exhausted all candidates", zap.Error(err))
		http.Error(w, "All chosen backends failed", http.StatusServiceUnavailable)
		return
	}
	log.Info("chose backend for /api/show", zap.String("addr", result.Addr))
	relayResponse(w, result)
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request, log *zap.Logger) {
	req, err := bufferRequest(r)
	if err != nil {
		writeBadRequest(w, "Error handling request: "+err.Error())
		return
	}

	var body map[string]any
	if err := json.Unmarshal(req.Body, &body); err != nil {
		writeNotImplemented(w, "Request body must be a JSON object")
		return
	}

	modelRaw, hasModel := body["model"]
	promptRaw, hasPrompt := body["prompt"]
	if !hasModel || !hasPrompt {
		writeNotImplemented(w, "Request body must contain 'model' and 'prompt' fields")
		return
	}
	model, _ := modelRaw.(string)
	prompt, _ := promptRaw.(string)
	if prompt != "" {
		writeNotImplemented(w, "Non-empty 'prompt' field is not supported yet")
		return
	}

	log.Info("served stubbed generate response", zap.String("model", model))
	writeJSON(w, http.StatusOK, map[string]any{"model": model})
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request, log *zap.Logger) {
	req, err := bufferRequest(r)
	if err != nil {
		writeBadRequest(w, "Error handling request: "+err.Error())
		return
	}
	model, err := extractModel(req.Body)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	picks := selector.Select(h.Registry.Snapshot(false), model, selectOpts, h.RNG)
	h.countPicks(picks)
	if len(picks) == 0 {
		http.Error(w, "No available servers", http.StatusServiceUnavailable)
		return
	}

	opts := dispatch.RaceOptions{Timeout: h.Timeout, TimeoutFT: h.TimeoutFT, TimeMeasure: h.TimeMeasure}
	result, err := h.Dispatcher.Race(r.Context(), picks, req, opts)
	if err != nil {
		if errors.Is(err, dispatch.ErrNoServers) {
			http.Error(w, "No available servers", http.StatusServiceUnavailable)
			return
		}
		log.Warn("all racers failed", zap.Error(err))
		http.Error(w, "All parallel requests failed", http.StatusBadGateway)
		return
	}
	log.Info("chose backend for /api/chat", zap.String("addr", result.Addr))
	relayResponse(w, result)
}

func (h *Handler) countPicks(picks []selector.Pick) {
	if h.Metrics == nil {
		return
	}
	for _, p := range picks {
		h.Metrics.SelectorTierPicks.WithLabelValues(string(p.Tier)).Inc()
	}
}

func bufferRequest(r *http.Request) (dispatch.BufferedRequest, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return dispatch.BufferedRequest{}, err
	}
	return dispatch.BufferedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Header: r.Header.Clone(),
		Body:   body,
	}, nil
}

func extractModel(body []byte) (string, error) {
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", errors.New("Error parsing request body: " + err.Error())
	}
	model, ok := parsed["model"].(string)
	if !ok || model == "" {
		return "", errors.New("Request body must contain a 'model' field")
	}
	return model, nil
}

func relayResponse(w http.ResponseWriter, result *dispatch.RaceResult) {
	defer result.Body.Close()
	for k, vs := range result.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(result.Status)

	flusher, canFlush := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, err := result.Body.Read(buf)
		if n > 0 {
			w.Write(buf[:n])
			if canFlush {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	http.Error(w, msg, http.StatusBadRequest)
}

func writeNotImplemented(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusNotImplemented, map[string]string{"error": msg})
}
