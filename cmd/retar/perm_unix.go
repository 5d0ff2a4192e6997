//go:build unix

package main

import (
	"io/fs"
	"sync"
	"syscall"
)

// umask is read once; syscall.Umask can only be queried by setting it.
var umask = sync.OnceValue(func() fs.FileMode {
	old := syscall.Umask(0o022)
	syscall.Umask(old)
	return fs.FileMode(old) //nolint:gosec // permission bits only
})

// newFilePerm is the mode os.Create would give a new file.
func newFilePerm() fs.FileMode {
	return 0o666 &^ umask()
}
