//go:build unix

package contingency

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// inputReady reports whether a read from r would return without blocking.
// known is false when r is not a pollable file descriptor.
func inputReady(r io.Reader) (ready, known bool) {
	f, ok := r.(*os.File)
	if !ok {
		return false, false
	}
	rc, err := f.SyscallConn()
	if err != nil {
		return false, false
	}
	var perr error
	cerr := rc.Control(func(fd uintptr) {
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		var n int
		n, perr = unix.Poll(fds, 0)
		ready = n > 0 && fds[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0
	})
	if cerr != nil || perr != nil {
		return false, false
	}
	return ready, true
}
