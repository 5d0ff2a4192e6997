// Package pathutil provides path manipulation for slash-separated archive paths.
package pathutil

import "strings"

// Base returns the last element of a slash- or backslash-separated path.
// If path is empty or ".", it returns ".".
func Base(path string) string {
	path = strings.TrimRight(strings.ReplaceAll(path, `\`, "/"), "/")
	if path == "" || path == "." {
		return "."
	}
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

// CutExt splits name before its last dot. A leading dot does not start an
// extension, so ".profile" has none.
func CutExt(name string) (stem, ext string) {
	i := strings.LastIndexByte(name, '.')
	if i <= 0 {
		return name, ""
	}
	return name[:i], name[i:]
}
