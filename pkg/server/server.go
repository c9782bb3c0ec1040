// Package server exposes sampler health and storage usage over a local
// HTTP endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/nicktill/procmem/pkg/config"
	"github.com/nicktill/procmem/pkg/server/monitor"
	"github.com/nicktill/procmem/pkg/storage"
)

// Version is reported by the health endpoint.
var Version = "dev"

// Server serves the status API on a loopback address.
type Server struct {
	store   storage.Store
	sampler *monitor.SamplerMonitor
	usage   *monitor.StorageMonitor
	version string
	started time.Time
	http    *http.Server
}

// New creates a status server for addr, which must resolve to a loopback
// interface.
func New(addr string, store storage.Store, sampler *monitor.SamplerMonitor, usage *monitor.StorageMonitor) (*Server, error) {
	if err := checkLoopback(addr); err != nil {
		return nil, err
	}

	s := &Server{
		store:   store,
		sampler: sampler,
		usage:   usage,
		version: Version,
		started: time.Now(),
	}

	router := mux.NewRouter()
	s.SetupRoutes(router)

	s.http = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  config.StatusRequestTimeout,
		WriteTimeout: config.StatusRequestTimeout,
	}
	return s, nil
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("status server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", ln.Addr().String()).Info("status server listening")
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.StatusShutdownTimeout)
	defer cancel()

	log.Info("shutting down status server")
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("status server shutdown")
	}
	return <-errCh
}

func checkLoopback(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid status address %q: %w", addr, err)
	}
	if host == "localhost" {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("status address %q is not a loopback address", addr)
	}
	return nil
}
