//go:build !unix

package main

import "io/fs"

func newFilePerm() fs.FileMode { return 0o666 }
