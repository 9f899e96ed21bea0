package dispatch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/srskip/inferlb/internal/metrics"
	"github.com/srskip/inferlb/internal/registry"
	"github.com/srskip/inferlb/internal/selector"
)

func addr(srv *httptest.Server) string {
	return strings.TrimPrefix(srv.URL, "http://")
}

func chunkedServer(t *testing.T, chunks []string, delay time.Duration) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, _ := w.(http.Flusher)
		for _, c := range chunks {
			w.Write([]byte(c))
			if flusher != nil {
				flusher.Flush()
			}
			time.Sleep(delay)
		}
	}))
}

func TestRacePicksMostBytesInWindow(t *testing.T) {
	fast := chunkedServer(t, []string{"aaaaaaaaaa", "bbbbbbbbbb", "cccccccccc"}, 5*time.Millisecond)
	defer fast.Close()
	slow := chunkedServer(t, []string{"x"}, 5*time.Millisecond)
	defer slow.Close()

	reg := registry.New()
	reg.Add(addr(fast), "fast")
	reg.Add(addr(slow), "slow")

	d := New(reg, metrics.New(), nil)
	picks := []selector.Pick{
		{Addr: addr(fast), Tier: selector.TierActive},
		{Addr: addr(slow), Tier: selector.TierActive},
	}
	req := BufferedRequest{Method: "POST", Path: "/api/chat", Header: http.Header{}, Body: []byte(`{"model":"m1"}`)}
	opts := RaceOptions{Timeout: time.Second, TimeoutFT: time.Second, TimeMeasure: 30 * time.Millisecond}

	result, err := d.Race(context.Background(), picks, req, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Addr != addr(fast) {
		t.Fatalf("expected fast backend to win, got %s", result.Addr)
	}
	body, _ := io.ReadAll(result.Body)
	if !strings.Contains(string(body), "aaaaaaaaaa") {
		t.Fatalf("expected buffered bytes to be replayed, got %q", body)
	}
}

func TestRaceAllFailedReturnsErrAllFailed(t *testing.T) {
	reg := registry.New()
	reg.Add("127.0.0.1:1", "dead-a")
	reg.Add("127.0.0.1:2", "dead-b")
	d := New(reg, metrics.New(), nil)

	picks := []selector.Pick{
		{Addr: "127.0.0.1:1", Tier: selector.TierActive},
		{Addr: "127.0.0.1:2", Tier: selector.TierActive},
	}
	req := BufferedRequest{Method: "POST", Path: "/api/chat", Header: http.Header{}, Body: nil}
	opts := RaceOptions{Timeout: 50 * time.Millisecond, TimeoutFT: 50 * time.Millisecond, TimeMeasure: 10 * time.Millisecond}

	_, err := d.Race(context.Background(), picks, req, opts)
	if err != ErrAllFailed {
		t.Fatalf("expected ErrAllFailed, got %v", err)
	}
}

func TestRaceNoPicksReturnsErrNoServers(t *testing.T) {
	d := New(registry.New(), metrics.New(), nil)
	_, err := d.Race(context.Background(), nil, BufferedRequest{}, RaceOptions{})
	if err != ErrNoServers {
		t.Fatalf("expected ErrNoServers, got %v", err)
	}
}
