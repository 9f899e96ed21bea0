package dispatch

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/srskip/inferlb/internal/backend"
	"github.com/srskip/inferlb/internal/registry"
)

// Sequential reserves candidates for model itself, from a fresh
// registry.Snapshot each time (see reserveCandidate), trying each backend
// at most once until one answers or no untried candidate is left. It
// mirrors select_available_server's three-pass
// preference order from the original (original_source/src/handler.rs):
// Reliable first, then Unreliable, then a second-chance-cycle flip that
// resets every SecondChanceGiven backend back to Unreliable before a
// final pass, with busy backends skipped at every tier.
func (d *Dispatcher) Sequential(ctx context.Context, model string, req BufferedRequest, connectTimeout, idleTimeout time.Duration) (*RaceResult, error) {
	tried := make(map[string]bool)
	addr, ok := d.reserveCandidate(model, tried)
	if !ok {
		return nil, ErrNoServers
	}

	for {
		tried[addr] = true
		result, err := d.trySequential(ctx, addr, req, connectTimeout, idleTimeout)
		if err == nil {
			return result, nil
		}
		d.Registry.DemoteReliability(addr)
		d.Registry.SetBusy(addr, false)
		if d.Metrics != nil {
			d.Metrics.SequentialRetries.Inc()
		}

		next, ok := d.reserveCandidate(model, tried)
		if !ok {
			return nil, ErrAllFailed
		}
		addr = next
	}
}

// reserveCandidate picks the next eligible, idle backend for model in
// Reliable -> Unreliable -> (flip SecondChanceGiven -> Unreliable) ->
// Unreliable preference order, skipping addresses in tried, and
// atomically marks it busy before returning so no other caller can pick
// the same one concurrently.
func (d *Dispatcher) reserveCandidate(model string, tried map[string]bool) (string, bool) {
	snaps := d.Registry.Snapshot(false)

	if addr, ok := tryReserve(d.Registry, snaps, model, backend.Reliable, tried); ok {
		return addr, true
	}
	if addr, ok := tryReserve(d.Registry, snaps, model, backend.Unreliable, tried); ok {
		return addr, true
	}

	for _, s := range snaps {
		if s.Reliability == backend.SecondChanceGiven && !s.Busy {
			d.Registry.MarkReliability(s.Addr, backend.Unreliable)
		}
	}

	snaps = d.Registry.Snapshot(false)
	return tryReserve(d.Registry, snaps, model, backend.Unreliable, tried)
}

func tryReserve(reg *registry.Registry, snaps []registry.Snapshot, model string, want backend.Reliability, tried map[string]bool) (string, bool) {
	for _, s := range snaps {
		if s.Reliability != want || s.Busy || tried[s.Addr] {
			continue
		}
		if _, hasModel := s.Models[model]; !hasModel {
			continue
		}
		if reg.TrySetBusy(s.Addr) {
			return s.Addr, true
		}
	}
	return "", false
}

func (d *Dispatcher) trySequential(ctx context.Context, addr string, req BufferedRequest, connectTimeout, idleTimeout time.Duration) (*RaceResult, error) {
	client := NewHTTPClient(connectTimeout, idleTimeout)

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, "http://"+addr+req.Path, bytes.NewReader(req.Body))
	if err != nil {
		return nil, err
	}
	httpReq.Header = req.Header.Clone()

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}

	// Reliability is reconciled by how the body reads, not by status
	// code: the original relays whatever status the backend returned and
	// only marks Unreliable on a connection or mid-stream read failure
	// (original_source/src/handler.rs ResponseBodyWithGuard).
	return &RaceResult{
		Addr:   addr,
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   newStreamTail(d.Registry, addr, resp.Body),
	}, nil
}
