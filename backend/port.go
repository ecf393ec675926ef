package backend

import "net"

// PickFreePort asks the OS for an ephemeral port, releases it, and returns
// the number for the worker process to bind.
//
// There is a window between closing the probe listener and the worker
// binding the port in which another process could grab it. That race is
// accepted as a rare failure (the worker exits, the supervisor reports a
// crash) rather than prevented.
func PickFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	port := l.Addr().(*net.TCPAddr).Port
	if err := l.Close(); err != nil {
		return 0, err
	}
	return port, nil
}
