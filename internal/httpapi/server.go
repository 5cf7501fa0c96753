// Package httpapi serves a live tail of the export run over SSE and WebSocket,
// alongside health, build info and Prometheus metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	"github.com/you/ytchat-export/internal/core"
	"github.com/you/ytchat-export/internal/export"
	"github.com/you/ytchat-export/internal/metrics"
)

const (
	transportSSE = "sse"
	transportWS  = "ws"

	clientBuffer = 256
)

type Options struct {
	Addr        string
	RateRPS     int
	RateBurst   int
	CORSOrigins []string
	Build       BuildInfo
	// Config is served verbatim on /info. It must already be redacted.
	Config  json.RawMessage
	Metrics *metrics.Metrics
}

type Server struct {
	httpServer *http.Server
	opts       Options
	metrics    *metrics.Metrics
	limiter    *visitorLimiter
	cors       *originPolicy
	started    time.Time

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool

	broadcast atomic.Int64
}

type client struct {
	ch        chan []byte
	filters   Filters
	transport string
}

func New(opts Options) *Server {
	srv := &Server{
		opts:    opts,
		metrics: opts.Metrics,
		limiter: newVisitorLimiter(opts.RateRPS, opts.RateBurst),
		cors:    newOriginPolicy(opts.CORSOrigins),
		started: time.Now(),
		clients: make(map[*client]struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.wrap("/healthz", srv.handleHealthz))
	mux.HandleFunc("/info", srv.wrap("/info", srv.handleInfo))
	mux.Handle("/metrics", srv.wrap("/metrics", srv.metrics.Handler().ServeHTTP))
	mux.HandleFunc("/stream", srv.wrap("/stream", srv.handleStream))
	mux.HandleFunc("/ws", srv.wrap("/ws", srv.handleWS))

	srv.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return srv
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) register(transport string, filters Filters) (*client, bool) {
	c := &client{ch: make(chan []byte, clientBuffer), filters: filters, transport: transport}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	s.clients[c] = struct{}{}
	s.metrics.IncLiveClients(transport, 1)
	return c, true
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		s.metrics.IncLiveClients(c.transport, -1)
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	filters, err := FiltersFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	c, ok := s.register(transportSSE, filters)
	if !ok {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.unregister(c)

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	fmt.Fprintf(w, ":ok\n\n")
	flusher.Flush()

	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()

	ctx := r.Context()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprintf(w, ":ping\n\n")
			flusher.Flush()
		case data, ok := <-c.ch:
			if !ok {
				fmt.Fprintf(w, "event: end\ndata: {}\n\n")
				flusher.Flush()
				return
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
			flusher.Flush()
			s.metrics.IncLiveSent(transportSSE)
		}
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	filters, err := FiltersFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(baseWriter(w), r, &websocket.AcceptOptions{
		OriginPatterns: s.opts.CORSOrigins,
	})
	if err != nil {
		slog.Warn("httpapi: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	c, ok := s.register(transportWS, filters)
	if !ok {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer s.unregister(c)

	// Clients only listen; CloseRead handles pings and reports disconnects.
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.ch:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "end of stream")
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
			s.metrics.IncLiveSent(transportWS)
		}
	}
}

// Broadcast hands msg to every matching client. Clients whose buffer is full
// miss the message; Broadcast never blocks.
func (s *Server) Broadcast(msg core.Message) {
	data, err := json.Marshal(export.NewRecord(msg))
	if err != nil {
		slog.Warn("httpapi: encode message", "err", err)
		return
	}
	s.broadcast.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()

	for c := range s.clients {
		if !c.filters.Matches(msg) {
			continue
		}
		select {
		case c.ch <- data:
		default:
			s.metrics.IncLiveDrops(c.transport)
		}
	}
}

// Stream yields messages until ok is false.
type Stream interface {
	Next(ctx context.Context) (msg core.Message, ok bool, err error)
}

// Tail broadcasts every message of stream. Clients stay connected across
// streams until Shutdown.
func (s *Server) Tail(ctx context.Context, stream Stream) error {
	for {
		msg, ok, err := stream.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		s.Broadcast(msg)
	}
}

func (s *Server) endStreams() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		close(c.ch)
		delete(s.clients, c)
		s.metrics.IncLiveClients(c.transport, -1)
	}
}

// Clients returns the number of connected live tail clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) Start() error {
	log.Printf("httpapi: listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
	return nil
}

// Shutdown ends every client stream, then stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.endStreams()
	return s.httpServer.Shutdown(ctx)
}
