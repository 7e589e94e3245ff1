//go:build darwin || linux

package nettools

import (
	"golang.org/x/sys/unix"
)

var _ = func() error { // make sure this executes before func init()
	supported[ModePoll] = pollStale
	return nil
}()

func pollStale(fd int) bool {
	s := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(s, 0) // never block, only sample the state
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return true
		}
		return n > 0 && s[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0
	}
}
