// Package api serves the display-facing HTTP surface: a state snapshot and a
// WebSocket that pushes quotes and watchlist changes and receives the
// display's visibility and focus.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"vinsight/internal/domain"
	"vinsight/internal/quote"
	"vinsight/internal/util"
	"vinsight/internal/watchlist"
)

// Envelope types pushed to displays.
const (
	TypeQuote      = "quote"
	TypeWatchlists = "watchlists"
	TypeSelection  = "selection"
	TypeError      = "error"
)

// Message types accepted from displays.
const (
	TypeVisibility = "visibility"
	TypeFocus      = "focus"
)

// Envelope is one server push.
type Envelope struct {
	Type       string             `json:"type"`
	Quote      *domain.Quote      `json:"quote,omitempty"`
	Watchlists []domain.Watchlist `json:"watchlists,omitempty"`
	Selection  *domain.Selection  `json:"selection,omitempty"`
	Symbol     string             `json:"symbol,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// ClientMessage is one message read from a display.
type ClientMessage struct {
	Type    string `json:"type"`
	Visible bool   `json:"visible"`
	Symbol  string `json:"symbol"`
}

// StateResponse is the body of GET /api/state.
type StateResponse struct {
	Watchlists []domain.Watchlist `json:"watchlists"`
	Selection  domain.Selection   `json:"selection"`
	Quote      quote.State        `json:"quote"`
	QuoteError string             `json:"quoteError,omitempty"`
	Displays   int                `json:"displays"`
}

// Server hosts the HTTP endpoints and the display WebSocket.
type Server struct {
	manager   *watchlist.Manager
	scheduler *quote.Scheduler
	hub       *Hub
	upgrader  websocket.Upgrader
	log       *slog.Logger
	httpAddr  string
	srv       *http.Server
}

// NewServer creates a Server bound to addr. The scheduler's visibility is
// driven by the connected displays from here on; with no display connected
// it is hidden.
func NewServer(addr string, manager *watchlist.Manager, scheduler *quote.Scheduler, log *slog.Logger) *Server {
	if log == nil {
		log = util.Discard()
	}
	s := &Server{
		manager:   manager,
		scheduler: scheduler,
		log:       log.With("component", "api"),
		httpAddr:  addr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.hub = NewHub(scheduler.SetVisible)
	scheduler.SetVisible(false)
	return s
}

// Hub returns the display hub.
func (s *Server) Hub() *Hub { return s.hub }

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("POST /api/quote/refetch", s.handleRefetch)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

// ListenAndServe starts the HTTP listener and the event forwarder and blocks
// until the context is cancelled or the listener fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpAddr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.srv = &http.Server{Handler: s.Handler()}

	fwdCtx, stop := context.WithCancel(ctx)
	defer stop()
	go s.Forward(fwdCtx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Shutdown(shutdownCtx)
	}()

	s.log.Info("http server listening", "addr", ln.Addr().String())
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// Forward relays scheduler quotes and manager events to every display until
// ctx is done. Selection changes also move the scheduler's focus.
func (s *Server) Forward(ctx context.Context) {
	qid, quotes := s.scheduler.Subscribe(64)
	defer s.scheduler.Unsubscribe(qid)
	eid, events := s.manager.Subscribe(64)
	defer s.manager.Unsubscribe(eid)

	for {
		select {
		case <-ctx.Done():
			return
		case q, ok := <-quotes:
			if !ok {
				return
			}
			s.hub.BroadcastJSON(Envelope{Type: TypeQuote, Quote: &q})
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.scheduler.SetTicker(ev.Selection.Symbol)
			sel := ev.Selection
			s.hub.BroadcastJSON(Envelope{Type: ev.Type, Watchlists: ev.Watchlists, Selection: &sel})
		}
	}
}

// NotifyError pushes a poll failure to every display.
func (s *Server) NotifyError(symbol string, err error) {
	s.hub.BroadcastJSON(Envelope{Type: TypeError, Symbol: symbol, Error: err.Error()})
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.snapshot())
}

func (s *Server) handleRefetch(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.Refetch(r.Context()); err != nil {
		if errors.Is(err, quote.ErrNoTicker) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, s.scheduler.State())
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrading websocket", "error", err)
		return
	}
	s.hub.AddClient(conn)
	defer s.hub.RemoveClient(conn)

	sel := s.manager.Active()
	if err := s.hub.SendJSON(conn, Envelope{Type: TypeWatchlists, Watchlists: s.manager.Watchlists(), Selection: &sel}); err != nil {
		return
	}
	if st := s.scheduler.State(); st.Quote != nil {
		if err := s.hub.SendJSON(conn, Envelope{Type: TypeQuote, Quote: st.Quote}); err != nil {
			return
		}
	}

	for {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				s.log.Debug("ignoring malformed display message", "error", err)
				continue
			}
			return
		}
		s.handleMessage(conn, msg)
	}
}

func (s *Server) handleMessage(conn *websocket.Conn, msg ClientMessage) {
	switch msg.Type {
	case TypeVisibility:
		s.hub.SetVisible(conn, msg.Visible)
	case TypeFocus:
		s.manager.SelectSymbol(msg.Symbol)
		s.scheduler.SetTicker(msg.Symbol)
	default:
		s.log.Debug("ignoring display message", "type", msg.Type)
	}
}

func (s *Server) snapshot() StateResponse {
	st := s.scheduler.State()
	resp := StateResponse{
		Watchlists: s.manager.Watchlists(),
		Selection:  s.manager.Active(),
		Quote:      st,
		Displays:   s.hub.Len(),
	}
	if st.Err != nil {
		resp.QuoteError = st.Err.Error()
	}
	return resp
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
