package share

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// PingPath is the liveness endpoint.
	PingPath = "/share/ping"
	// PreparePath is the prepare-phase endpoint.
	PreparePath = "/share/prepare"
	// TransferPath is the transfer-phase endpoint.
	TransferPath = "/share/transfer"
)

// Server exposes the share endpoints of one device over HTTP.
type Server struct {
	receiver *Receiver

	listener net.Listener
	httpSrv  *http.Server

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Listen binds a TCP listener and starts serving the share endpoints.
// An empty address picks an available port.
func Listen(address string, receiver *Receiver) (*Server, error) {
	if receiver == nil {
		return nil, errors.New("receiver is required")
	}
	if address == "" {
		address = ":0"
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listen on %q: %w", address, err)
	}

	server := &Server{
		receiver: receiver,
		listener: listener,
		closed:   make(chan struct{}),
	}
	server.httpSrv = &http.Server{
		Handler:           server.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	server.wg.Add(1)
	go server.serve()

	logrus.WithFields(logrus.Fields{
		"addr": listener.Addr().String(),
	}).Info("share server listening")
	return server, nil
}

// Port returns the bound TCP port, for discovery advertisement.
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Close stops the server and waits for the serve loop to exit.
func (s *Server) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		close(s.closed)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		closeErr = s.httpSrv.Shutdown(ctx)
		s.wg.Wait()
	})
	return closeErr
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(PingPath, s.handlePing)
	mux.HandleFunc(PreparePath, requirePost(s.receiver.HandlePrepare))
	mux.HandleFunc(TransferPath, requirePost(s.receiver.HandleTransfer))
	return mux
}

func (s *Server) serve() {
	defer s.wg.Done()

	err := s.httpSrv.Serve(s.listener)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		select {
		case <-s.closed:
		default:
			logrus.WithError(err).Error("share server stopped")
		}
	}
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "pong")
}

func requirePost(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			respondReason(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		next(w, r)
	}
}
