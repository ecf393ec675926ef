package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyKinds(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"refused", syscall.ECONNREFUSED, Refused},
		{"refused wrapped", &net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}, Refused},
		{"reset", syscall.ECONNRESET, RemoteClosed},
		{"eof", io.EOF, RemoteClosed},
		{"unexpected eof", io.ErrUnexpectedEOF, RemoteClosed},
		{"broken pipe", syscall.EPIPE, RemoteClosed},
		{"permission", syscall.EACCES, PermissionDenied},
		{"too many sockets", syscall.EMFILE, ResourceExhausted},
		{"datagram too large", syscall.EMSGSIZE, DatagramTooLarge},
		{"network down", syscall.ENETDOWN, NetworkError},
		{"host unreachable", syscall.EHOSTUNREACH, NetworkError},
		{"deadline", os.ErrDeadlineExceeded, Timeout},
		{"dns", &net.DNSError{Err: "no such host", Name: "nope.invalid"}, HostNotFound},
		{"other", errors.New("something else"), Unknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			terr := Classify(tc.err)
			require.NotNil(t, terr)
			assert.Equal(t, tc.want, terr.Kind, "got kind %q", terr.Kind)
		})
	}
}

func TestClassifyNil(t *testing.T) {
	assert.Nil(t, Classify(nil))
}

func TestClassifyIdempotent(t *testing.T) {
	orig := &Error{Kind: Refused, Err: syscall.ECONNREFUSED}
	wrapped := fmt.Errorf("dial backend: %w", orig)
	assert.Same(t, orig, Classify(wrapped))
}

func TestErrorUnwrap(t *testing.T) {
	terr := Classify(fmt.Errorf("read: %w", syscall.ECONNRESET))
	assert.True(t, errors.Is(terr, syscall.ECONNRESET))
	assert.Contains(t, terr.Error(), "remote host closed")
}

func TestClassifyRealRefusedDial(t *testing.T) {
	// Grab a port that nothing listens on.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	_, err = net.Dial("tcp", addr)
	require.Error(t, err)
	assert.Equal(t, Refused, Classify(err).Kind)
}
