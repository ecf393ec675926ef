// Package backend starts, supervises and talks to the out-of-process worker
// that executes analysis jobs for the editor.
//
// The Supervisor owns the worker process: it picks a free loopback port,
// launches `entry args... port`, forwards the process's stdout/stderr to the
// diagnostic log line by line, and tracks lifecycle state. The Manager is
// the facade consumers use: Start the backend, Send requests, Stop.
//
//	Manager.Send ──► dispatcher (uuid, envelope) ──► transport.Connection ──► worker
//	Manager.Start ──► Supervisor ──► exec worker process, drain output, watch exit
package backend

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// State is the lifecycle state of the supervised worker process.
type State int

const (
	NotStarted State = iota
	Starting
	Running
	Stopped
	Crashed
)

var stateNames = map[State]string{
	NotStarted: "not started",
	Starting:   "starting",
	Running:    "running",
	Stopped:    "stopped",
	Crashed:    "crashed",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// SupervisorConfig tunes process supervision. The zero value is usable.
type SupervisorConfig struct {
	// Logger receives supervision events and the forwarded process output.
	// Defaults to the logrus standard logger.
	Logger logrus.FieldLogger
	// PortAllocator picks the worker's listening port. Defaults to
	// PickFreePort.
	PortAllocator func() (int, error)
	// Env is extra environment passed to the worker on top of the parent's.
	Env []string
	// OnExit is invoked once when the process exits, with the resulting
	// state (Stopped or Crashed) and the exit code. It runs on the watcher
	// goroutine; keep it short.
	OnExit func(state State, exitCode int)
}

// Supervisor launches and monitors a single worker process. At most one
// process is supervised at a time; the listening port is fixed for the
// process's whole lifetime.
type Supervisor struct {
	cfg SupervisorConfig
	log logrus.FieldLogger

	mu    sync.Mutex
	state State
	port  int
	cmd   *exec.Cmd
	code  int

	done chan struct{}
}

// NewSupervisor returns a Supervisor in the NotStarted state.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.PortAllocator == nil {
		cfg.PortAllocator = PickFreePort
	}
	return &Supervisor{
		cfg:   cfg,
		log:   cfg.Logger,
		state: NotStarted,
		done:  make(chan struct{}),
	}
}

// Start launches the worker process as `entry args... port`, where port is a
// freshly allocated free loopback port appended as the last argument.
//
// A nil return means the process was spawned and the supervisor is Running;
// the worker may still be a few milliseconds away from binding its socket,
// which the transport layer absorbs by retrying refused connects. A spawn
// failure returns a *ProcessError with kind FailedToStart and leaves the
// supervisor in NotStarted.
func (s *Supervisor) Start(entry string, args ...string) error {
	s.mu.Lock()
	if s.state == Starting || s.state == Running {
		s.mu.Unlock()
		return fmt.Errorf("backend already started (state %s)", s.state)
	}
	s.state = Starting
	s.mu.Unlock()

	port, err := s.cfg.PortAllocator()
	if err != nil {
		s.setState(NotStarted)
		return &ProcessError{Kind: FailedToStart, Err: err}
	}

	cmd := exec.Command(entry, append(args, strconv.Itoa(port))...)
	cmd.Env = append(os.Environ(), s.cfg.Env...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.setState(NotStarted)
		return &ProcessError{Kind: FailedToStart, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.setState(NotStarted)
		return &ProcessError{Kind: FailedToStart, Err: err}
	}

	s.log.WithFields(logrus.Fields{"entry": entry, "port": port}).Info("starting backend process")
	if err := cmd.Start(); err != nil {
		s.setState(NotStarted)
		return &ProcessError{Kind: FailedToStart, Err: err}
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.cmd = cmd
	s.port = port
	s.state = Running
	s.done = done
	s.mu.Unlock()
	s.log.WithField("pid", cmd.Process.Pid).Info("backend process started")

	// Drain both output streams continuously. If the pipes are left unread
	// the OS buffer fills up and the worker blocks on its next print.
	var group errgroup.Group
	group.Go(func() error { return s.forward(stdout, "stdout") })
	group.Go(func() error { return s.forward(stderr, "stderr") })

	go s.watch(cmd, &group, done)
	return nil
}

// forward copies one output stream to the diagnostic log, one line per
// entry. Worker stderr is logged at error level, stdout at debug.
func (s *Supervisor) forward(r io.Reader, stream string) error {
	log := s.log.WithField("stream", stream)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if stream == "stderr" {
			log.Error(scanner.Text())
		} else {
			log.Debug(scanner.Text())
		}
	}
	return scanner.Err()
}

// watch waits for the process to exit and records the outcome. An exit
// while the supervisor is not Stopped is a crash.
func (s *Supervisor) watch(cmd *exec.Cmd, group *errgroup.Group, done chan struct{}) {
	group.Wait()
	err := cmd.Wait()

	code := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		code = exitErr.ExitCode()
	} else if err != nil {
		code = -1
	}

	s.mu.Lock()
	if s.state != Stopped {
		s.state = Crashed
	}
	s.code = code
	state := s.state
	s.mu.Unlock()

	if state == Crashed {
		s.log.WithField("exit_code", code).Error((&ProcessError{Kind: ProcessCrashed}).Error())
	} else {
		s.log.WithField("exit_code", code).Info("backend process finished")
	}

	if s.cfg.OnExit != nil {
		s.cfg.OnExit(state, code)
	}
	close(done)
}

// Stop terminates the worker process. The state is marked Stopped before
// the kill so the exit watcher does not mistake it for a crash. Safe to call
// when the process is already gone.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.state != Running && s.state != Starting {
		s.mu.Unlock()
		return
	}
	s.state = Stopped
	cmd := s.cmd
	s.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		// The process may have exited on its own already.
		_ = cmd.Process.Kill()
	}
}

// Wait blocks until the supervised process has exited and its outcome has
// been recorded. It returns immediately if no process was ever started.
func (s *Supervisor) Wait() {
	s.mu.Lock()
	done := s.done
	started := s.cmd != nil
	s.mu.Unlock()
	if !started {
		return
	}
	<-done
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Port returns the worker's listening port, valid once Running.
func (s *Supervisor) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// Pid returns the worker's process id, or 0 if no process was started.
func (s *Supervisor) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// ExitCode returns the recorded exit code after the process has exited.
func (s *Supervisor) ExitCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}
