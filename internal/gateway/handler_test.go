package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/srskip/inferlb/internal/dispatch"
	"github.com/srskip/inferlb/internal/inventory"
	"github.com/srskip/inferlb/internal/registry"
)

// constRNG always returns the same value, pinning the resurrection gate.
type constRNG struct{ v float64 }

func (c constRNG) Float64() float64 { return c.v }

func newHandler(t *testing.T, reg *registry.Registry) *Handler {
	t.Helper()
	d := dispatch.New(reg, nil, zap.NewNop())
	return New(reg, d, nil, zap.NewNop(), constRNG{1}, time.Second, time.Second, time.Second)
}

func TestRootIsLive(t *testing.T) {
	h := newHandler(t, registry.New())
	req := httptest.NewRequest("GET", "/", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Body.String() != "Ollama is running" {
		t.Errorf("unexpected body: %q", rr.Body.String())
	}
}

func TestUnknownRouteIs501(t *testing.T) {
	h := newHandler(t, registry.New())
	req := httptest.NewRequest("GET", "/api/nope", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", rr.Code)
	}
	var body map[string]string
	json.NewDecoder(rr.Body).Decode(&body)
	if !strings.Contains(body["error"], "/api/nope") {
		t.Errorf("expected error to name the path, got %q", body["error"])
	}
}

func TestTagsMergesAcrossBackends(t *testing.T) {
	reg := registry.New()
	reg.Add("a", "A")
	reg.SetInventory("a", map[string]json.RawMessage{"llama3": json.RawMessage(`{"name":"llama3"}`)}, nil)

	h := newHandler(t, reg)
	req := httptest.NewRequest("GET", "/api/tags", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body struct {
		Models []json.RawMessage `json:"models"`
	}
	json.NewDecoder(rr.Body).Decode(&body)
	if len(body.Models) != 1 {
		t.Fatalf("expected 1 merged model, got %d", len(body.Models))
	}
}

func TestGenerateEchoesModelOnEmptyPrompt(t *testing.T) {
	h := newHandler(t, registry.New())
	req := httptest.NewRequest("POST", "/api/generate", strings.NewReader(`{"model":"llama3","prompt":""}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body map[string]string
	json.NewDecoder(rr.Body).Decode(&body)
	if body["model"] != "llama3" {
		t.Errorf("expected model echoed back, got %q", body["model"])
	}
}

func TestGenerateRejectsNonEmptyPrompt(t *testing.T) {
	h := newHandler(t, registry.New())
	req := httptest.NewRequest("POST", "/api/generate", strings.NewReader(`{"model":"llama3","prompt":"hello"}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", rr.Code)
	}
}

func TestGenerateRequiresModelAndPrompt(t *testing.T) {
	h := newHandler(t, registry.New())
	req := httptest.NewRequest("POST", "/api/generate", strings.NewReader(`{"model":"llama3"}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", rr.Code)
	}
}

func TestChatRejectsMissingModel(t *testing.T) {
	h := newHandler(t, registry.New())
	req := httptest.NewRequest("POST", "/api/chat", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestChatReturns503WithNoServers(t *testing.T) {
	h := newHandler(t, registry.New())
	req := httptest.NewRequest("POST", "/api/chat", strings.NewReader(`{"model":"llama3"}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestChatDispatchesToRealBackend(t *testing.T) {
	backendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.Write([]byte(`{"models":[{"name":"llama3"}]}`))
		case "/api/ps":
			w.Write([]byte(`{"models":[{"name":"llama3"}]}`))
		case "/api/chat":
			w.Write([]byte(`{"message":{"content":"hi"}}`))
		}
	}))
	defer backendSrv.Close()
	addr := strings.TrimPrefix(backendSrv.URL, "http://")

	reg := registry.New()
	reg.Add(addr, "node-a")
	inventory.Sync(context.Background(), reg, addr, zap.NewNop(), nil)

	h := newHandler(t, reg)
	req := httptest.NewRequest("POST", "/api/chat", strings.NewReader(`{"model":"llama3"}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body=%s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "hi") {
		t.Errorf("expected relayed backend body, got %q", rr.Body.String())
	}
}
