// Package app wires the ceremony service, storage, and HTTP transport into a
// runnable server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/passkeyd/passkeyd/internal/api/httpapi"
	"github.com/passkeyd/passkeyd/internal/ceremony"
	"github.com/passkeyd/passkeyd/internal/storage/sqlite"
	"github.com/passkeyd/passkeyd/internal/telemetry"
	"github.com/passkeyd/passkeyd/internal/token"
)

// sessionSweepInterval is how often expired challenge sessions are purged.
// Expiry is also enforced lazily at consume time, so the sweep only bounds
// table growth.
const sessionSweepInterval = 5 * time.Minute

// Server hosts the passkey ceremony service.
type Server struct {
	listener   net.Listener
	httpServer *http.Server
	store      *sqlite.Store
	ceremonies *ceremony.Service
	logger     *slog.Logger
}

// New creates a configured server listening on addr and backed by the SQLite
// database at dbPath.
func New(addr, dbPath string, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	store, err := openStore(dbPath)
	if err != nil {
		return nil, err
	}

	ceremonyConfig := ceremony.LoadConfigFromEnv()
	emitter := telemetry.NewEmitter(store)
	ceremonies, err := ceremony.NewService(ceremonyConfig, ceremony.Stores{
		Users:       store,
		Credentials: store,
		Challenges:  store,
	}, ceremony.WithTelemetry(emitter))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("build ceremony service: %w", err)
	}

	tokenConfig, err := token.LoadConfigFromEnv()
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	issuer, err := token.NewIssuer(tokenConfig)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("build token issuer: %w", err)
	}
	if issuer.Ephemeral() {
		logger.Warn("token signing key generated at startup; tokens will not survive a restart")
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	httpapi.NewServer(ceremonies, issuer, logger).RegisterRoutes(mux)

	return &Server{
		listener:   listener,
		httpServer: &http.Server{Handler: mux},
		store:      store,
		ceremonies: ceremonies,
		logger:     logger,
	}, nil
}

// Addr returns the listener address.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves a server until the context ends.
func Run(ctx context.Context, addr, dbPath string, logger *slog.Logger) error {
	server, err := New(addr, dbPath, logger)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts the server and blocks until it stops or the context ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.closeStore()

	s.startSessionSweep(serveCtx)

	s.logger.Info("server listening", "addr", s.listener.Addr().String(), "rp_id", s.ceremonies.RelyingPartyID())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
		err := <-serveErr
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

func (s *Server) startSessionSweep(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(sessionSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.ceremonies.SweepExpiredSessions(ctx); err != nil {
					s.logger.Error("sweep expired sessions", "error", err)
				}
			}
		}
	}()
}

func openStore(dbPath string) (*sqlite.Store, error) {
	path := strings.TrimSpace(dbPath)
	if path == "" {
		path = filepath.Join("data", "passkeyd.db")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	return store, nil
}

func (s *Server) closeStore() {
	if s == nil || s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("close store", "error", err)
	}
}
