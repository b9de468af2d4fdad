// Package gateway exposes a read-only WebSocket inspection endpoint:
// instance status snapshots and debug event history for external tooling.
// It is not a control surface; no mutating operations are served.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"signalmesh/internal/infra/config"
	"signalmesh/internal/runtime"
)

// Frame types sent to clients.
const (
	FrameSnapshot    = "snapshot"
	FrameDebugEvents = "debug_events"
	FrameError       = "error"
)

// Frame is the wire envelope for gateway messages.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// request is a client query. Only read-only queries exist.
type request struct {
	Type     string `json:"type"`
	Instance string `json:"instance,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// Server streams runtime snapshots and answers debug-event queries.
type Server struct {
	rt        *runtime.Runtime
	cfg       config.GatewayConfig
	logger    *slog.Logger
	httpSrv   *http.Server
	boundAddr string
}

// NewServer creates a gateway over the runtime.
func NewServer(rt *runtime.Runtime, cfg config.GatewayConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{rt: rt, cfg: cfg, logger: logger}
}

// BoundAddr returns the listen address after Start.
func (s *Server) BoundAddr() string { return s.boundAddr }

// Start begins accepting connections. Blocks until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.boundAddr = listener.Addr().String()
	s.httpSrv = &http.Server{Handler: mux, BaseContext: func(net.Listener) context.Context { return ctx }}

	s.logger.Info("gateway started", "addr", s.boundAddr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.httpSrv.Shutdown(shutdownCtx)
	}()

	if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("gateway: upgrade failed", "error", err)
		return
	}
	defer ws.Close(websocket.StatusNormalClosure, "bye")

	ctx := r.Context()
	limiter := rate.NewLimiter(rate.Limit(s.cfg.EventsPerSec), s.cfg.Burst)

	// Push periodic snapshots; answer queries in between.
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	reqCh := make(chan request)
	go func() {
		defer close(reqCh)
		for {
			var req request
			if err := wsjson.Read(ctx, ws, &req); err != nil {
				return
			}
			select {
			case reqCh <- req:
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := s.sendSnapshot(ctx, ws, limiter); err != nil {
		return
	}
	for {
		select {
		case <-ticker.C:
			if err := s.sendSnapshot(ctx, ws, limiter); err != nil {
				return
			}
		case req, ok := <-reqCh:
			if !ok {
				return
			}
			if err := s.answer(ctx, ws, limiter, req); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) sendSnapshot(ctx context.Context, ws *websocket.Conn, limiter *rate.Limiter) error {
	if !limiter.Allow() {
		return nil // drop rather than queue for slow clients
	}
	return s.writeFrame(ctx, ws, FrameSnapshot, s.rt.List(ctx))
}

func (s *Server) answer(ctx context.Context, ws *websocket.Conn, limiter *rate.Limiter, req request) error {
	if err := limiter.Wait(ctx); err != nil {
		return err
	}
	switch req.Type {
	case FrameDebugEvents:
		inst, err := s.rt.Get(req.Instance)
		if err != nil {
			return s.writeFrame(ctx, ws, FrameError, map[string]string{"error": err.Error()})
		}
		events, err := inst.DebugEvents(ctx, req.Limit)
		if err != nil {
			return s.writeFrame(ctx, ws, FrameError, map[string]string{"error": err.Error()})
		}
		return s.writeFrame(ctx, ws, FrameDebugEvents, events)
	default:
		return s.writeFrame(ctx, ws, FrameError, map[string]string{"error": "unknown request " + req.Type})
	}
}

func (s *Server) writeFrame(ctx context.Context, ws *websocket.Conn, frameType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return wsjson.Write(ctx, ws, Frame{Type: frameType, Payload: data})
}
