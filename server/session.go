package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/EricHayter/qnx-rpm-server/groups"
	"github.com/EricHayter/qnx-rpm-server/history"
	"github.com/EricHayter/qnx-rpm-server/model"
	"github.com/EricHayter/qnx-rpm-server/registry"
	"github.com/EricHayter/qnx-rpm-server/telemetry"
)

// Session is one client connection's serial request/reply loop. It moves
// through Unauthenticated -> Authenticated(role) -> Closed exactly as
// this state machine describes; a session never observes another session's
// errors or state.
type Session struct {
	id   string
	conn net.Conn

	authenticated bool
	role          model.Role

	credsPath    string
	registry     *registry.Registry
	history      *history.Ring
	groups       *groups.Index
	loginLimiter *rate.Limiter

	logger       *log.Logger
	telemetry    *telemetry.Provider
	pollInterval time.Duration
}

// NewSession constructs a fresh, unauthenticated session over conn.
func NewSession(id string, conn net.Conn, credsPath string, reg *registry.Registry, hist *history.Ring, grp *groups.Index, tel *telemetry.Provider, logger *log.Logger, pollInterval time.Duration) *Session {
	return &Session{
		id:           id,
		conn:         conn,
		credsPath:    credsPath,
		registry:     reg,
		history:      hist,
		groups:       grp,
		loginLimiter: rate.NewLimiter(rate.Limit(5), 10),
		logger:       logger,
		telemetry:    tel,
		pollInterval: pollInterval,
	}
}

// Serve runs the session's request/reply loop until ctx is canceled, the
// peer disconnects, or a framing error occurs. It never returns an error
// to the caller: every terminal condition is logged here, matching
// the invariant that no error in one session affects another.
func (s *Session) Serve(ctx context.Context) {
	defer s.conn.Close()

	for {
		frame, err := readFrame(ctx, s.conn, s.pollInterval)
		if err != nil {
			switch {
			case errors.Is(err, context.Canceled):
				s.logger.Printf("session %s: shutting down", s.id)
			case errors.Is(err, io.EOF):
				s.logger.Printf("session %s: peer closed", s.id)
			default:
				s.logger.Printf("session %s: frame error: %v", s.id, err)
			}
			return
		}

		var req wireRequest
		if jsonErr := json.Unmarshal(frame, &req); jsonErr != nil || req.Command == "" {
			if writeErr := s.reply(errorReply("error", "invalid request")); writeErr != nil {
				s.logger.Printf("session %s: write error: %v", s.id, writeErr)
				return
			}
			continue
		}

		resp := s.dispatchTraced(ctx, req)

		if writeErr := s.reply(resp); writeErr != nil {
			s.logger.Printf("session %s: write error: %v", s.id, writeErr)
			return
		}
	}
}

func (s *Session) dispatchTraced(ctx context.Context, req wireRequest) payload {
	ctx, span := s.telemetry.Tracer.Start(ctx, "session.dispatch", trace.WithAttributes(
		attribute.String("command", req.Command),
		attribute.String("session.id", s.id),
	))
	defer span.End()

	start := time.Now()
	resp := s.dispatch(req)
	elapsed := time.Since(start)

	status, _ := resp["status"].(string)
	if status == "error" {
		span.SetStatus(codes.Error, "command failed")
	}

	s.telemetry.RequestCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("command", req.Command), attribute.String("status", status)))
	s.telemetry.RequestDuration.Record(ctx, float64(elapsed.Microseconds())/1000.0, metric.WithAttributes(attribute.String("command", req.Command)))

	return resp
}

func (s *Session) reply(p payload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return writeFrame(s.conn, data)
}
