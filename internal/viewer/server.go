package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/namikmesic/crewchat/internal/api"
	"github.com/namikmesic/crewchat/internal/chat"
)

const (
	writeWait       = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Controller is the part of chat.Controller the viewer needs.
type Controller interface {
	Snapshot() chat.Snapshot
	Subscribe(fn func(chat.Change)) (unsubscribe func())
	Validate(ctx context.Context, operationID string) (api.OperationResult, error)
	CancelOperation(ctx context.Context, operationID string) (api.OperationResult, error)
}

// Server serves the live transcript of one controller.
type Server struct {
	ctrl     Controller
	title    string
	upgrader websocket.Upgrader
	mux      *http.ServeMux
}

func New(ctrl Controller, title string) *Server {
	s := &Server{
		ctrl:  ctrl,
		title: title,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
		},
		mux: http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /{$}", s.handlePage)
	s.mux.HandleFunc("GET /transcript", s.handleTranscript)
	s.mux.HandleFunc("GET /ws", s.handleWebSocket)
	s.mux.HandleFunc("POST /operations/{id}/validate", s.handleOperation(ctrl.Validate))
	s.mux.HandleFunc("POST /operations/{id}/cancel", s.handleOperation(ctrl.CancelOperation))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("viewer listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("viewer shutdown error")
		return err
	}
	return nil
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := WriteDocument(w, s.title, s.ctrl.Snapshot(), true); err != nil {
		log.Error().Err(err).Msg("failed to render viewer page")
	}
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, NewView(s.ctrl.Snapshot()))
}

// handleWebSocket pushes a view on connect and after every change. Bursts
// of changes collapse into one push.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	wake := make(chan struct{}, 1)
	unsubscribe := s.ctrl.Subscribe(func(chat.Change) {
		select {
		case wake <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	// The client never sends anything; reading detects the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		if err := s.push(conn); err != nil {
			log.Debug().Err(err).Msg("websocket client gone")
			return
		}
		select {
		case <-wake:
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) push(conn *websocket.Conn) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(NewView(s.ctrl.Snapshot()))
}

func (s *Server) handleOperation(op func(context.Context, string) (api.OperationResult, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		res, err := op(r.Context(), id)
		if err != nil {
			status := http.StatusBadGateway
			if errors.Is(err, api.ErrEmptyOperationID) {
				status = http.StatusBadRequest
			}
			writeJSON(w, status, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
