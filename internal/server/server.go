// Package server exposes the engine over HTTP: a small JSON control
// surface and a WebSocket stream of snapshots and throttle events.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/ZerkerEOD/gpuguard/internal/auth"
	"github.com/ZerkerEOD/gpuguard/internal/hardware/types"
	"github.com/ZerkerEOD/gpuguard/internal/settings"
	"github.com/ZerkerEOD/gpuguard/internal/snapshot"
	"github.com/ZerkerEOD/gpuguard/internal/stats"
	"github.com/ZerkerEOD/gpuguard/internal/version"
	"github.com/ZerkerEOD/gpuguard/pkg/debug"
)

const shutdownTimeout = 5 * time.Second

// Engine is the subset of the monitoring engine the server drives.
type Engine interface {
	EnumerateDevices(ctx context.Context) ([]types.Device, error)
	Threshold() float64
	SetThreshold(celsius float64) error
	ResetDevice(index int) error
	ResetAll()
	SubscribeSnapshots() (<-chan snapshot.Snapshot, func())
	SubscribeEvents() (<-chan snapshot.Event, func())
}

// Server serves the control API
type Server struct {
	engine   Engine
	apiKey   string
	router   *mux.Router
	upgrader websocket.Upgrader
}

type thresholdBody struct {
	Threshold *float64 `json:"temperature_threshold"`
}

type errorBody struct {
	Error string  `json:"error"`
	Field string  `json:"field,omitempty"`
	Min   float64 `json:"min,omitempty"`
	Max   float64 `json:"max,omitempty"`
}

// New creates a server for engine. When apiKey is non-empty, requests that
// change state must present it in the X-API-Key header.
func New(engine Engine, apiKey string) *Server {
	s := &Server{
		engine: engine,
		apiKey: apiKey,
		router: mux.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  4096,
			HandshakeTimeout: writeWait,
		},
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/devices", s.handleDevices).Methods(http.MethodGet)
	api.HandleFunc("/threshold", s.handleGetThreshold).Methods(http.MethodGet)
	api.HandleFunc("/version", s.handleVersion).Methods(http.MethodGet)
	api.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)

	control := api.NewRoute().Subrouter()
	control.Use(s.requireKey)
	control.HandleFunc("/devices/reset", s.handleResetAll).Methods(http.MethodPost)
	control.HandleFunc("/devices/{index:[0-9]+}/reset", s.handleReset).Methods(http.MethodPost)
	control.HandleFunc("/threshold", s.handleSetThreshold).Methods(http.MethodPut)

	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve serves on listener until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		debug.Info("HTTP server listening on %s", listener.Addr())
		errCh <- httpServer.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		debug.Warning("HTTP server shutdown: %v", err)
		return httpServer.Close()
	}
	debug.Info("HTTP server stopped")
	return nil
}

func (s *Server) requireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" && !auth.Matches(s.apiKey, r.Header.Get(auth.HeaderName)) {
			debug.Warning("Rejected %s %s from %s: missing or invalid API key", r.Method, r.URL.Path, r.RemoteAddr)
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing or invalid API key"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.engine.EnumerateDevices(r.Context())
	if err != nil {
		debug.Error("Device enumeration failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	if devices == nil {
		devices = []types.Device{}
	}
	writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleGetThreshold(w http.ResponseWriter, _ *http.Request) {
	celsius := s.engine.Threshold()
	writeJSON(w, http.StatusOK, thresholdBody{Threshold: &celsius})
}

func (s *Server) handleSetThreshold(w http.ResponseWriter, r *http.Request) {
	var body thresholdBody
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil || body.Threshold == nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "body must be {\"temperature_threshold\": <number>}"})
		return
	}

	if err := s.engine.SetThreshold(*body.Threshold); err != nil {
		var validation *settings.ValidationError
		if errors.As(err, &validation) {
			writeJSON(w, http.StatusBadRequest, errorBody{
				Error: validation.Error(),
				Field: validation.Field,
				Min:   validation.Min,
				Max:   validation.Max,
			})
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}

	celsius := s.engine.Threshold()
	writeJSON(w, http.StatusOK, thresholdBody{Threshold: &celsius})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid device index"})
		return
	}

	if err := s.engine.ResetDevice(index); err != nil {
		if errors.Is(err, stats.ErrUnknownDevice) {
			writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResetAll(w http.ResponseWriter, _ *http.Request) {
	s.engine.ResetAll()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": version.GetVersion()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		debug.Warning("Failed to write response: %v", err)
	}
}
