package backend

import (
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietSupervisorConfig() SupervisorConfig {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return SupervisorConfig{Logger: log}
}

func TestPickFreePort(t *testing.T) {
	port, err := PickFreePort()
	require.NoError(t, err)
	assert.Greater(t, port, 0)

	// The probe released the port, so binding it again works (modulo the
	// accepted race with other processes).
	l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	l.Close()
}

func TestSupervisorStartStop(t *testing.T) {
	s := NewSupervisor(quietSupervisorConfig())
	assert.Equal(t, NotStarted, s.State())

	// The port lands in $0 of the -c script; the script ignores it.
	require.NoError(t, s.Start("sh", "-c", "sleep 30"))
	assert.Equal(t, Running, s.State())
	assert.Greater(t, s.Port(), 0)
	assert.Greater(t, s.Pid(), 0)

	s.Stop()
	s.Wait()
	assert.Equal(t, Stopped, s.State())
}

func TestSupervisorStopTwice(t *testing.T) {
	s := NewSupervisor(quietSupervisorConfig())
	require.NoError(t, s.Start("sh", "-c", "sleep 30"))
	s.Stop()
	s.Stop()
	s.Wait()
	assert.Equal(t, Stopped, s.State())
}

func TestSupervisorCrashRecordsExitCode(t *testing.T) {
	exits := make(chan int, 1)
	cfg := quietSupervisorConfig()
	cfg.OnExit = func(state State, code int) {
		if state == Crashed {
			exits <- code
		}
	}
	s := NewSupervisor(cfg)
	require.NoError(t, s.Start("sh", "-c", "exit 3"))

	s.Wait()
	assert.Equal(t, Crashed, s.State())
	assert.Equal(t, 3, s.ExitCode())

	select {
	case code := <-exits:
		assert.Equal(t, 3, code)
	case <-time.After(time.Second):
		t.Fatal("OnExit hook never fired")
	}
}

func TestSupervisorSpawnFailure(t *testing.T) {
	s := NewSupervisor(quietSupervisorConfig())
	err := s.Start("/nonexistent/backend-binary")
	require.Error(t, err)

	var perr *ProcessError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, FailedToStart, perr.Kind)
	assert.Equal(t, NotStarted, s.State())
}

func TestSupervisorDoubleStart(t *testing.T) {
	s := NewSupervisor(quietSupervisorConfig())
	require.NoError(t, s.Start("sh", "-c", "sleep 30"))
	defer func() {
		s.Stop()
		s.Wait()
	}()

	assert.Error(t, s.Start("sh", "-c", "sleep 30"))
}

func TestSupervisorForwardsProcessOutput(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	s := NewSupervisor(SupervisorConfig{Logger: logger})
	require.NoError(t, s.Start("sh", "-c", "echo diagnostic-line; echo warning-line >&2"))
	s.Wait()

	var stdoutSeen, stderrSeen bool
	for _, entry := range hook.AllEntries() {
		switch {
		case entry.Message == "diagnostic-line":
			stdoutSeen = true
			assert.Equal(t, "stdout", entry.Data["stream"])
			assert.Equal(t, logrus.DebugLevel, entry.Level)
		case entry.Message == "warning-line":
			stderrSeen = true
			assert.Equal(t, "stderr", entry.Data["stream"])
			assert.Equal(t, logrus.ErrorLevel, entry.Level)
		}
	}
	assert.True(t, stdoutSeen, "stdout line was not forwarded")
	assert.True(t, stderrSeen, "stderr line was not forwarded")
}

func TestSupervisorPortAllocatorInjection(t *testing.T) {
	want, err := PickFreePort()
	require.NoError(t, err)

	cfg := quietSupervisorConfig()
	cfg.PortAllocator = func() (int, error) { return want, nil }
	s := NewSupervisor(cfg)
	require.NoError(t, s.Start("sh", "-c", "sleep 30"))
	defer func() {
		s.Stop()
		s.Wait()
	}()

	assert.Equal(t, want, s.Port())
}
