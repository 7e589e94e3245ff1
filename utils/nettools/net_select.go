//go:build linux

package nettools

import (
	"golang.org/x/sys/unix"
)

const fdSetSize = 1024

var _ = func() error { // make sure this executes before func init()
	supported[ModeSelect] = selectStale
	return nil
}()

func selectStale(fd int) bool {
	if fd >= fdSetSize {
		return false // cannot be represented, assume alive
	}
	for {
		var rset, eset unix.FdSet
		rset.Set(fd)
		eset.Set(fd)
		tv := unix.Timeval{}
		n, err := unix.Select(fd+1, &rset, nil, &eset, &tv)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return true
		}
		return n > 0
	}
}
