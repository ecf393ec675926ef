// Package server implements the worker side of the backend channel: the TCP
// server running inside the spawned backend process.
//
// The serving contract mirrors the client's one-connection-per-request
// policy: per accepted connection the server reads exactly one request
// frame, resolves the named worker, executes it through the middleware
// chain, writes exactly one response frame and closes the connection.
//
//	Accept conn → handleConn (one goroutine per connection)
//	  → protocol.Read → decode envelope → Middleware Chain → worker func
//	  → encode response → protocol.Write → close
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ltfish/pyqode.core/message"
	"github.com/ltfish/pyqode.core/middleware"
	"github.com/ltfish/pyqode.core/protocol"
)

// WorkerFunc executes one unit of backend work. data is the request's
// decoded "data" value; the returned value is sent back as "results".
// A non-nil error produces a status=false response carrying the error text.
type WorkerFunc func(ctx context.Context, data any) (any, error)

// Server accepts connections from the editor and dispatches requests to
// registered workers.
type Server struct {
	workers     map[string]WorkerFunc
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc
	listener    net.Listener
	wg          sync.WaitGroup
	shutdown    atomic.Bool
	log         logrus.FieldLogger
}

// NewServer creates a server with an empty worker table.
func NewServer(log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		workers: make(map[string]WorkerFunc),
		log:     log,
	}
}

// Register makes a worker available under the given fully qualified name,
// e.g. "workers.echo". Registering a name twice is an error.
func (s *Server) Register(name string, fn WorkerFunc) error {
	if _, dup := s.workers[name]; dup {
		return fmt.Errorf("worker already registered: %s", name)
	}
	s.workers[name] = fn
	return nil
}

// Use appends a middleware. Middlewares run in registration order and must
// all be registered before Listen.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// Listen binds the loopback listening socket and returns the bound port
// (useful when port is 0). The middleware chain is built here, once.
func (s *Server) Listen(port int) (int, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return 0, err
	}
	s.listener = listener
	s.handler = middleware.Chain(s.middlewares...)(s.dispatch)
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// Serve runs the accept loop until Shutdown. It returns nil on a clean
// shutdown and the accept error otherwise.
func (s *Server) Serve() error {
	s.log.WithField("addr", s.listener.Addr().String()).Info("backend listening")
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		// Count the exchange before handing off so Shutdown's wait cannot
		// slip in between Accept and the handler starting.
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// ListenAndServe is Listen followed by Serve.
func (s *Server) ListenAndServe(port int) error {
	if _, err := s.Listen(port); err != nil {
		return err
	}
	return s.Serve()
}

// handleConn serves one request/response exchange and closes the
// connection. Blocking frame reads are fine here: the connection carries
// nothing else.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	defer s.wg.Done()

	payload, err := protocol.Read(conn)
	if err != nil {
		s.log.WithError(err).Debug("dropping connection: bad request frame")
		return
	}

	var req message.Request
	if err := json.Unmarshal(payload, &req); err != nil {
		s.log.WithError(err).Debug("dropping connection: malformed request envelope")
		return
	}

	resp := s.handler(context.Background(), &req)

	body, err := json.Marshal(resp)
	if err != nil {
		s.log.WithError(err).Error("failed to encode response")
		return
	}
	if err := protocol.Write(conn, body); err != nil {
		s.log.WithError(err).Debug("failed to write response")
	}
}

// dispatch resolves and runs the named worker. Unknown workers and worker
// errors are application failures: the response still travels, with
// status=false and a diagnostic string in results.
func (s *Server) dispatch(ctx context.Context, req *message.Request) *message.Response {
	fn, ok := s.workers[req.Worker]
	if !ok {
		return &message.Response{
			Status:  false,
			Results: fmt.Sprintf("unknown worker: %s", req.Worker),
		}
	}
	results, err := fn(ctx, req.Data)
	if err != nil {
		return &message.Response{Status: false, Results: err.Error()}
	}
	return &message.Response{Status: true, Results: results}
}

// Shutdown stops accepting connections and waits for in-flight exchanges,
// up to the given timeout.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.shutdown.Store(true)
	if s.listener != nil {
		s.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for in-flight requests")
	}
}
