package mirror

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const shutdownTimeout = 5 * time.Second

// Handler serves /ws from hub and /metrics from metrics, when non-nil.
func Handler(hub *Hub, metrics http.Handler) http.Handler {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/ws", func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			hub.logger.Warn("websocket upgrade", "err", err)
			return
		}

		c, ok := hub.add(conn)
		if !ok {
			_ = conn.Close()
			return
		}
		hub.logger.Info("mirror viewer connected", "remote", req.RemoteAddr)

		// Viewers are read-only; anything they send is discarded.
		go func() {
			defer func() {
				hub.remove(c)
				hub.logger.Info("mirror viewer disconnected", "remote", req.RemoteAddr)
			}()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	})
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	return r
}

// Server runs the mirror's HTTP listener.
type Server struct {
	srv    *http.Server
	ln     net.Listener
	logger *log.Logger
}

// Listen binds addr.
func Listen(addr string, handler http.Handler, logger *log.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		srv:    &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second},
		ln:     ln,
		logger: logger,
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Serve blocks until ctx is done, then shuts the server down.
func (s *Server) Serve(ctx context.Context) error {
	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("mirror listening", "addr", s.Addr())
		serverErrors <- s.srv.Serve(s.ln)
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("mirror shutdown incomplete", "err", err)
			return s.srv.Close()
		}
		return nil
	}
}
