// Package transport implements the client side of the backend channel: one
// ephemeral TCP connection per request.
//
// A Connection dials the backend's port, writes exactly one request frame,
// incrementally reassembles exactly one response frame, decodes the envelope
// and fires its Completed event. It is then finished and must be discarded —
// a Connection is never reused for a second request.
//
//	Open ──dial──→ write frame ──read chunks──→ decoder ──→ Completed(status, results)
//	        │                          │
//	        └─refused: retry w/backoff └─any other error: Failed(kind)
//
// Because every request owns its socket, responses need no explicit
// correlation and no read-side multiplexing: the first complete frame on the
// socket is the answer.
package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/ltfish/pyqode.core/message"
	"github.com/ltfish/pyqode.core/protocol"
)

// ErrAborted is the underlying error reported when a Connection is closed
// locally before the response arrived, e.g. during backend teardown.
var ErrAborted = errors.New("connection aborted before completion")

// Events are the hooks a Connection reports through. Exactly one of
// Completed or Failed fires, exactly once; Finished always fires last and is
// the owner's cue to drop the Connection from its active set.
type Events struct {
	Completed func(status bool, results any)
	Failed    func(err *Error)
	Finished  func(c *Connection)
}

// Config tunes a Connection's dial and exchange behavior.
type Config struct {
	// DialTimeout bounds a single connect attempt. Zero means 5s.
	DialTimeout time.Duration
	// RetryInterval is the initial delay before re-dialing after a refused
	// connect, growing exponentially. Zero means 100ms.
	RetryInterval time.Duration
	// RetryMaxElapsed caps the total time spent retrying refused connects.
	// The historical client retried forever; a bounded window is a saner
	// default. Zero means 10s.
	RetryMaxElapsed time.Duration
	// RequestTimeout is a deadline on the whole exchange once connected
	// (write + response). Zero disables it.
	RequestTimeout time.Duration

	Logger logrus.FieldLogger
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.DialTimeout == 0 {
		out.DialTimeout = 5 * time.Second
	}
	if out.RetryInterval == 0 {
		out.RetryInterval = 100 * time.Millisecond
	}
	if out.RetryMaxElapsed == 0 {
		out.RetryMaxElapsed = 10 * time.Second
	}
	if out.Logger == nil {
		out.Logger = logrus.StandardLogger()
	}
	return out
}

// Connection carries one request/response exchange with the backend.
type Connection struct {
	port   int
	frame  []byte
	cfg    Config
	events Events
	log    logrus.FieldLogger

	mu     sync.Mutex
	conn   net.Conn
	closed bool

	terminal sync.Once
}

// New creates a Connection for the already-encoded request frame. Nothing
// happens until Start; that lets the owner register the Connection in its
// active set before any event can fire.
func New(port int, frame []byte, cfg Config, events Events) *Connection {
	cfg = cfg.withDefaults()
	return &Connection{
		port:   port,
		frame:  frame,
		cfg:    cfg,
		events: events,
		log:    cfg.Logger.WithField("port", port),
	}
}

// Start begins the exchange in the background. The Connection is live until
// its Finished event fires.
func (c *Connection) Start() {
	go c.run()
}

// Open is New followed by Start.
func Open(port int, frame []byte, cfg Config, events Events) *Connection {
	c := New(port, frame, cfg, events)
	c.Start()
	return c
}

// Close aborts the exchange. If the Connection already completed this is a
// no-op; otherwise the Failed event fires with ErrAborted in its chain.
func (c *Connection) Close() {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	c.fail(&Error{Kind: Unknown, Err: ErrAborted})
}

func (c *Connection) run() {
	conn, err := c.dial()
	if err != nil {
		c.fail(Classify(err))
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		c.fail(&Error{Kind: Unknown, Err: ErrAborted})
		return
	}
	c.conn = conn
	c.mu.Unlock()

	defer conn.Close()

	if c.cfg.RequestTimeout > 0 {
		conn.SetDeadline(time.Now().Add(c.cfg.RequestTimeout))
	}

	c.log.Debug("connected to backend, sending request")
	if _, err := conn.Write(c.frame); err != nil {
		c.fail(Classify(err))
		return
	}

	c.readResponse(conn)
}

// dial connects to the backend, retrying with exponential backoff while the
// connect is refused. Refusal almost always means the worker process has not
// bound its listening socket yet, so waiting is the correct reaction. Any
// other error class aborts immediately.
func (c *Connection) dial() (net.Conn, error) {
	addr := fmt.Sprintf("127.0.0.1:%d", c.port)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.RetryInterval
	policy.MaxElapsedTime = c.cfg.RetryMaxElapsed

	var conn net.Conn
	err := backoff.Retry(func() error {
		if c.isClosed() {
			return backoff.Permanent(ErrAborted)
		}
		var err error
		conn, err = net.DialTimeout("tcp", addr, c.cfg.DialTimeout)
		if err == nil {
			return nil
		}
		terr := Classify(err)
		if terr.Kind == Refused {
			c.log.WithField("kind", terr.Kind.String()).Debug("connect refused, retrying")
			return terr
		}
		return backoff.Permanent(terr)
	}, policy)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// readResponse drains the socket through the incremental decoder until one
// complete frame is available, then decodes the envelope and completes. One
// read can deliver any slice of the stream — a partial header, the header
// plus part of the payload, or the entire frame — so all reassembly is
// delegated to the decoder.
func (c *Connection) readResponse(conn net.Conn) {
	dec := protocol.NewDecoder()
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			payloads, derr := dec.Feed(buf[:n])
			if derr != nil {
				c.fail(&Error{Kind: Unknown, Err: derr})
				return
			}
			if len(payloads) > 0 {
				// One request, one response: the first frame ends the
				// exchange and anything after it is ignored.
				c.complete(payloads[0])
				return
			}
		}
		if err != nil {
			c.fail(Classify(err))
			return
		}
	}
}

func (c *Connection) complete(payload []byte) {
	resp, err := message.DecodeResponse(payload)
	if err != nil {
		c.fail(&Error{Kind: Unknown, Err: fmt.Errorf("malformed response payload: %w", err)})
		return
	}
	c.terminal.Do(func() {
		c.log.Debug("response received")
		if c.events.Completed != nil {
			c.events.Completed(resp.Status, resp.Results)
		}
		c.finish()
	})
}

func (c *Connection) fail(err *Error) {
	c.terminal.Do(func() {
		c.log.WithField("kind", err.Kind.String()).Debug(err.Error())
		if c.events.Failed != nil {
			c.events.Failed(err)
		}
		c.finish()
	})
}

func (c *Connection) finish() {
	if c.events.Finished != nil {
		c.events.Finished(c)
	}
}

func (c *Connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
