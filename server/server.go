// Package server implements the request server (C6): the TCP accept
// loop, per-client length-framed JSON protocol, authentication gate, and
// command dispatch described here.
package server

import (
	"context"
	"errors"
	"log"
	"net"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/EricHayter/qnx-rpm-server/groups"
	"github.com/EricHayter/qnx-rpm-server/history"
	"github.com/EricHayter/qnx-rpm-server/registry"
	"github.com/EricHayter/qnx-rpm-server/telemetry"
)

// Defaults for the accept loop.
const (
	DefaultMaxClients  = 30
	DefaultPollInterval = time.Second
)

// Config controls one Server's listening behavior.
type Config struct {
	ListenAddr   string
	CredsPath    string
	MaxClients   int
	PollInterval time.Duration
}

// Server is the request server. It owns no state of its own beyond
// wiring: process state lives in the registry, history, and groups it is
// constructed with.
type Server struct {
	cfg       Config
	registry  *registry.Registry
	history   *history.Ring
	groups    *groups.Index
	telemetry *telemetry.Provider
	logger    *log.Logger
}

// New constructs a Server. tel must not be nil; use telemetry.Setup with
// an empty OTLPEndpoint to get a working provider that exports nothing.
func New(cfg Config, reg *registry.Registry, hist *history.Ring, grp *groups.Index, tel *telemetry.Provider, logger *log.Logger) *Server {
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = DefaultMaxClients
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[server] ", log.LstdFlags)
	}
	return &Server{cfg: cfg, registry: reg, history: hist, groups: grp, telemetry: tel, logger: logger}
}

// Serve binds cfg.ListenAddr and runs the accept loop until ctx is
// canceled. It returns once the listener and every accepted session have
// shut down, satisfying the daemon's shutdown contract. A failure to
// bind is returned directly; the caller treats that as Fatal per §7.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener runs the accept loop over an already-bound listener. It
// exists separately from Serve so tests can bind an ephemeral port and
// learn its address before the accept loop starts.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	// MAX_CLIENTS is enforced by wrapping the raw listener rather than
	// hand-counting connections; see DESIGN.md for the tradeoff
	// this makes against the prose's "closed immediately" wording.
	limited := netutil.LimitListener(ln, s.cfg.MaxClients)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		return limited.Close()
	})

	g.Go(func() error {
		for {
			conn, err := limited.Accept()
			if err != nil {
				select {
				case <-gctx.Done():
					return nil
				default:
					return err
				}
			}

			sessionID := uuid.NewString()
			sess := NewSession(sessionID, conn, s.cfg.CredsPath, s.registry, s.history, s.groups, s.telemetry, s.logger, s.cfg.PollInterval)
			s.logger.Printf("session %s: accepted from %s", sessionID, conn.RemoteAddr())

			g.Go(func() error {
				sess.Serve(gctx)
				return nil
			})
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
