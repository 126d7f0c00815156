//go:build !unix

package netloop

import "syscall"

// The runtime already enables broadcast on UDP sockets; address reuse is
// left at the platform default.
func control(_, _ string, _ syscall.RawConn) error {
	return nil
}
