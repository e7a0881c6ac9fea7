package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/server"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/types"
)

const (
	levelsInterval = 33 * time.Millisecond // ~30 fps while recording
	statusInterval = 3 * time.Second       // Periodic status refresh
)

// Server is an HTTP server that exposes the recorder over WebSocket and a
// small JSON API.
type Server struct {
	app      *App
	commands *server.CommandHandler
	hub      *server.Hub
	version  *VersionChecker
}

// NewServer returns a Server for app. Controller transitions must be
// forwarded to hub by the caller.
func NewServer(ctx context.Context, app *App, hub *server.Hub, version *VersionChecker) *Server {
	return &Server{
		app: app,
		commands: server.NewCommandHandler(ctx, server.Options{
			Config:       app.config,
			Controller:   app.controller,
			Catalog:      app.catalog,
			EventLogPath: app.eventLogPath,
		}),
		hub:     hub,
		version: version,
	}
}

// handleWebSocket handles bidirectional WebSocket communication for real-time updates.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := server.UpgradeConnection(w, r)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	// Only the writer goroutine writes to the connection.
	send := make(chan any, 16)
	done := make(chan struct{})
	statusUpdate := make(chan struct{}, 1)

	changes, unsubscribe := s.hub.Subscribe()
	defer unsubscribe()

	go s.runWebSocketWriter(conn, send)
	go s.runWebSocketReader(conn, send, done, statusUpdate)

	s.runWebSocketEventLoop(send, done, statusUpdate, changes)
}

// runWebSocketWriter writes messages from the send channel to the connection.
func (s *Server) runWebSocketWriter(conn server.WebSocketConn, send <-chan any) {
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Debug("WebSocket close error", "error", err)
		}
	}()
	for msg := range send {
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// runWebSocketReader reads commands from the connection and dispatches them.
func (s *Server) runWebSocketReader(conn server.WebSocketConn, send chan<- any, done, statusUpdate chan<- struct{}) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in WebSocket reader", "panic", r)
		}
		close(done)
	}()

	for {
		var cmd server.WSCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		s.commands.Handle(cmd, send, func() {
			select {
			case statusUpdate <- struct{}{}:
			default:
			}
		})
	}
}

// runWebSocketEventLoop pushes status on every change and level frames while
// recording. It owns closing send.
func (s *Server) runWebSocketEventLoop(send chan any, done, statusUpdate, changes <-chan struct{}) {
	levelsTicker := time.NewTicker(levelsInterval)
	statusTicker := time.NewTicker(statusInterval)
	defer levelsTicker.Stop()
	defer statusTicker.Stop()
	defer close(send)

	trySend := func(msg any) bool {
		select {
		case send <- msg:
			return true
		case <-done:
			return false
		}
	}

	if !trySend(s.buildWSStatus()) {
		return
	}

	var lastSeq uint64
	for {
		select {
		case <-done:
			return
		case <-statusUpdate:
			if !trySend(s.buildWSStatus()) {
				return
			}
		case <-changes:
			if !trySend(s.buildWSStatus()) {
				return
			}
		case <-statusTicker.C:
			if !trySend(s.buildWSStatus()) {
				return
			}
		case <-levelsTicker.C:
			msg, ok := s.buildWSLevels(lastSeq)
			if !ok {
				continue
			}
			lastSeq = msg.Frame.Seq
			if !trySend(msg) {
				return
			}
		}
	}
}

// buildWSLevels returns the latest level frame if one was produced after seq
// and the recorder is still recording.
func (s *Server) buildWSLevels(seq uint64) (types.WSLevelsResponse, bool) {
	st := s.app.controller.Status()
	if st.State != types.StateRecording {
		return types.WSLevelsResponse{}, false
	}
	frame := s.app.controller.Frame()
	if frame.Seq == 0 || frame.Seq == seq {
		return types.WSLevelsResponse{}, false
	}
	return types.WSLevelsResponse{
		Type:      "levels",
		ElapsedMs: st.ElapsedMs,
		Frame:     frame,
	}, true
}

// buildWSStatus returns the current WebSocket status response.
func (s *Server) buildWSStatus() types.WSStatusResponse {
	cfg := s.app.config.Snapshot()

	return types.WSStatusResponse{
		Type:            "status",
		FFmpegAvailable: s.app.ffmpegPath != "",
		Recorder:        s.app.controller.Status(),
		MimeTypes:       s.app.registry.MimeTypes(),
		Devices:         devices(cfg.AudioBackend),
		Settings: types.WSSettings{
			AudioInput:   cfg.AudioInput,
			AudioBackend: cfg.AudioBackend,
			StorageMode:  cfg.StorageMode,
			Platform:     runtime.GOOS,
		},
		Version: s.version.Info(),
	}
}

// SetupRoutes returns an [http.Handler] configured with all application routes.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()
	auth := server.APIKeyAuth(s.app.config.GetAPIKey)

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("/ws", auth(s.handleWebSocket))

	mux.HandleFunc("GET /api/config", auth(s.handleAPIConfig))
	mux.HandleFunc("GET /api/devices", auth(s.handleAPIDevices))
	mux.HandleFunc("POST /api/settings", auth(s.handleAPISettings))
	mux.HandleFunc("GET /api/clips", auth(s.handleAPIClips))
	mux.HandleFunc("GET /api/clips/{id}", auth(s.handleAPIClip))
	mux.HandleFunc("GET /api/events", auth(s.handleAPIEvents))
	mux.HandleFunc("POST /api/test/storage", auth(s.handleAPITestStorage))
	mux.HandleFunc("POST /api/test/webhook", auth(s.handleAPITestWebhook))
	mux.HandleFunc("POST /api/key/regenerate", auth(s.handleAPIRegenerateKey))

	return securityHeaders(mux)
}

// securityHeaders returns middleware that wraps handlers with security headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// Start begins the HTTP server.
// Returns an *http.Server that can be used for graceful shutdown.
func (s *Server) Start() *http.Server {
	addr := fmt.Sprintf(":%d", s.app.config.Snapshot().WebPort)
	slog.Info("starting web server", "addr", addr)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	return srv
}
