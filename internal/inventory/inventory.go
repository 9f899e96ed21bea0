// Package inventory refreshes a backend's model catalogue by calling its
// /api/tags and /api/ps endpoints, the way the teacher's
// proxy.HealthChecker polls each backend's health endpoint
// (Srskip-shadowgate, internal/proxy/health.go) — generalized from a
// boolean up/down check into the richer model-inventory sync the
// original implementation performs (original_source/src/api.rs
// api_tags/api_ps, original_source/src/state.rs sync_server).
package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/srskip/inferlb/internal/backend"
	"github.com/srskip/inferlb/internal/metrics"
	"github.com/srskip/inferlb/internal/registry"
)

// Client fetches /api/tags and /api/ps from a backend.
type Client struct {
	HTTP *http.Client
}

// NewClient builds an inventory Client with a dedicated http.Client.
func NewClient(httpClient *http.Client) *Client {
	return &Client{HTTP: httpClient}
}

type modelListResponse struct {
	Models []json.RawMessage `json:"models"`
}

// fetchModels GETs path on addr and returns the name->detail map built
// from the response's "models" array, keyed by each entry's "name"
// field.
func (c *Client) fetchModels(ctx context.Context, addr, path string) (map[string]json.RawMessage, error) {
	url := "http://" + addr + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("inventory: %s returned status %d", path, resp.StatusCode)
	}

	var decoded modelListResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("inventory: decoding %s response: %w", path, err)
	}

	out := make(map[string]json.RawMessage, len(decoded.Models))
	for _, raw := range decoded.Models {
		var named struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(raw, &named); err != nil || named.Name == "" {
			continue
		}
		out[named.Name] = raw
	}
	return out, nil
}

// Sync refreshes addr's entry in reg by calling /api/tags (full catalogue)
// and /api/ps (currently-loaded models) concurrently. On success it
// records the fetched inventory and marks the backend Healthy(1.0); on
// any failure of either call it marks the backend Dead and leaves the
// last-known catalogue untouched, so MergedModels can keep serving it.
// Both outcomes are reported to m (nil-safe) so the per-backend health
// gauge tracks the decision at the point it is made, the way the
// teacher's health checker reports into its own gauge right where it
// decides a node is up or down.
func Sync(ctx context.Context, reg *registry.Registry, addr string, log *zap.Logger, m *metrics.Metrics) backend.Health {
	client := &http.Client{}
	c := NewClient(client)

	var models, actives map[string]json.RawMessage
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := c.fetchModels(gctx, addr, "/api/tags")
		if err != nil {
			return err
		}
		models = m
		return nil
	})
	g.Go(func() error {
		a, err := c.fetchModels(gctx, addr, "/api/ps")
		if err != nil {
			return err
		}
		actives = a
		return nil
	})

	if err := g.Wait(); err != nil {
		if log != nil {
			log.Warn("inventory sync failed", zap.String("addr", addr), zap.Error(err))
		}
		dead := reg.MarkHealth(addr, backend.DeadHealth())
		if m != nil {
			m.ObserveHealth(addr, dead.Dead, dead.Score)
		}
		return dead
	}

	h := reg.SetInventory(addr, models, actives)
	if m != nil {
		m.ObserveHealth(addr, h.Dead, h.Score)
	}
	if log != nil {
		log.Info("inventory sync succeeded",
			zap.String("addr", addr),
			zap.Int("models", len(models)),
			zap.Int("actives", len(actives)),
		)
	}
	return h
}

// SyncAll runs Sync for every address in reg concurrently, used at
// startup and can be reused by a future periodic refresher.
func SyncAll(ctx context.Context, reg *registry.Registry, log *zap.Logger, m *metrics.Metrics) {
	addrs := reg.Addrs()
	g, gctx := errgroup.WithContext(ctx)
	for _, addr := range addrs {
		addr := addr
		g.Go(func() error {
			Sync(gctx, reg, addr, log, m)
			return nil
		})
	}
	_ = g.Wait()
}
