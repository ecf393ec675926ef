package backend

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ltfish/pyqode.core/message"
	"github.com/ltfish/pyqode.core/protocol"
	"github.com/ltfish/pyqode.core/transport"
)

// Callback receives a worker's outcome: the status flag and the results
// value from the response envelope. On a transport or process failure the
// callback fires with (false, nil) so callers never hang on a dead request.
type Callback func(status bool, results any)

// Config tunes a Manager. The zero value is usable.
type Config struct {
	// Logger receives channel and supervision diagnostics. Defaults to the
	// logrus standard logger.
	Logger logrus.FieldLogger
	// RequestTimeout is the per-request deadline, enforced from connect to
	// response. Zero means 30s; negative disables the deadline entirely
	// (the historical indefinite-wait behavior).
	RequestTimeout time.Duration
	// DialTimeout, RetryInterval and RetryMaxElapsed tune the connect step,
	// see transport.Config.
	DialTimeout     time.Duration
	RetryInterval   time.Duration
	RetryMaxElapsed time.Duration
	// Env is extra environment passed to the worker process.
	Env []string
	// PortAllocator overrides the free-port probe, mainly for tests.
	PortAllocator func() (int, error)
}

// Manager is the public entry point of the backend channel. It owns one
// process Supervisor and the set of in-flight Connections.
//
// Usage:
//
//	m := backend.NewManager(backend.Config{})
//	m.Start("/usr/bin/mybackend")
//	m.Send("workers.echo", "hi", func(status bool, results any) { ... })
//	m.Stop()
//
// Send may be called from any goroutine; callbacks fire on the connection's
// goroutine, in no guaranteed order across requests.
type Manager struct {
	cfg Config
	log logrus.FieldLogger
	sup *Supervisor

	mu    sync.Mutex
	conns map[*transport.Connection]struct{}
}

// NewManager creates a Manager with its own Supervisor. No process is
// launched until Start.
func NewManager(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	m := &Manager{
		cfg:   cfg,
		log:   cfg.Logger,
		conns: make(map[*transport.Connection]struct{}),
	}
	m.sup = NewSupervisor(SupervisorConfig{
		Logger:        cfg.Logger,
		PortAllocator: cfg.PortAllocator,
		Env:           cfg.Env,
		OnExit:        m.onProcessExit,
	})
	return m
}

// Start launches the backend worker process from the given entry point.
// Extra args are passed through before the appended port argument.
func (m *Manager) Start(entry string, args ...string) error {
	return m.sup.Start(entry, args...)
}

// Send dispatches one request to the backend: it allocates a fresh request
// id, builds the `{request_id, worker, data}` envelope and opens a dedicated
// Connection for the exchange. The callback fires exactly once, later, on
// completion or failure; it may be nil for fire-and-forget requests.
//
// If the backend process is not running, Send returns ErrNotRunning without
// attempting a connection.
func (m *Manager) Send(worker string, data any, callback Callback) error {
	if m.sup.State() != Running {
		return ErrNotRunning
	}

	req := message.Request{
		RequestID: uuid.NewString(),
		Worker:    worker,
		Data:      data,
	}
	payload, err := req.Marshal()
	if err != nil {
		return err
	}

	log := m.log.WithFields(logrus.Fields{"request_id": req.RequestID, "worker": worker})
	log.Debug("sending request")

	timeout := m.cfg.RequestTimeout
	if timeout < 0 {
		timeout = 0
	}

	conn := transport.New(m.sup.Port(), protocol.Encode(payload), transport.Config{
		DialTimeout:     m.cfg.DialTimeout,
		RetryInterval:   m.cfg.RetryInterval,
		RetryMaxElapsed: m.cfg.RetryMaxElapsed,
		RequestTimeout:  timeout,
		Logger:          log,
	}, transport.Events{
		Completed: func(status bool, results any) {
			if callback != nil {
				callback(status, results)
			}
		},
		Failed: func(err *transport.Error) {
			log.WithField("kind", err.Kind.String()).Warn("request failed")
			if callback != nil {
				callback(false, nil)
			}
		},
		Finished: m.release,
	})

	m.mu.Lock()
	m.conns[conn] = struct{}{}
	m.mu.Unlock()
	conn.Start()
	return nil
}

// Stop tears the channel down: all open Connections are force-closed first,
// so no callback can fire against a half-dead backend, then the worker
// process is terminated.
func (m *Manager) Stop() {
	m.closeAll()
	m.sup.Stop()
	m.sup.Wait()
}

// State returns the supervisor's lifecycle state.
func (m *Manager) State() State {
	return m.sup.State()
}

// Supervisor exposes the underlying process supervisor.
func (m *Manager) Supervisor() *Supervisor {
	return m.sup
}

// onProcessExit fails out in-flight requests when the worker dies under us.
// Their sockets are about to be reset anyway; closing them promptly turns
// "hangs until timeout" into an immediate failure callback.
func (m *Manager) onProcessExit(state State, exitCode int) {
	if state != Crashed {
		return
	}
	m.log.WithField("exit_code", exitCode).Warn("backend crashed, failing in-flight requests")
	m.closeAll()
}

func (m *Manager) release(c *transport.Connection) {
	m.mu.Lock()
	delete(m.conns, c)
	m.mu.Unlock()
}

func (m *Manager) closeAll() {
	m.mu.Lock()
	open := make([]*transport.Connection, 0, len(m.conns))
	for c := range m.conns {
		open = append(open, c)
	}
	m.mu.Unlock()
	for _, c := range open {
		c.Close()
	}
}
