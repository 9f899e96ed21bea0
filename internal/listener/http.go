// Package listener owns the balancer's HTTP listener lifecycle,
// adapted from the teacher's internal/listener package
// (Srskip-shadowgate) — same Start/Stop/Addr shape, with fmt.Printf
// logging replaced by the ambient zap logger and TLS support dropped,
// since this balancer terminates plaintext HTTP only.
package listener

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPListener owns the bound TCP listener and http.Server serving it.
type HTTPListener struct {
	addr     string
	handler  http.Handler
	log      *zap.Logger
	server   *http.Server
	listener net.Listener
}

// HTTPListenerConfig configures the HTTP listener.
type HTTPListenerConfig struct {
	Addr    string
	Handler http.Handler
	Log     *zap.Logger
}

// NewHTTPListener creates a new HTTP listener.
func NewHTTPListener(cfg HTTPListenerConfig) *HTTPListener {
	return &HTTPListener{
		addr:    cfg.Addr,
		handler: cfg.Handler,
		log:     cfg.Log,
	}
}

// Start begins accepting HTTP connections.
func (l *HTTPListener) Start(ctx context.Context) error {
	var err error
	l.listener, err = net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("listener: failed to listen on %s: %w", l.addr, err)
	}

	l.server = &http.Server{
		Handler:           l.handler,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}

	go func() {
		if err := l.server.Serve(l.listener); err != nil && err != http.ErrServerClosed {
			if l.log != nil {
				l.log.Error("http server exited", zap.Error(err))
			}
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP listener.
func (l *HTTPListener) Stop(ctx context.Context) error {
	if l.server == nil {
		return nil
	}
	return l.server.Shutdown(ctx)
}

// Addr returns the listener address (actual bound address if available).
func (l *HTTPListener) Addr() string {
	if l.listener != nil {
		return l.listener.Addr().String()
	}
	return l.addr
}
