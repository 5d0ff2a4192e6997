package normalize

import (
	"fmt"
	"strings"

	"github.com/meigma/retar/internal/archtype"
	"github.com/meigma/retar/internal/pathutil"
)

// CleanName converts an entry name to a relative, slash-separated path.
//
// It performs the following transformations:
//   - Converts backslashes to slashes: `dir\file` → "dir/file"
//   - Strips trailing slashes: "dir/" → "dir"
//   - Collapses consecutive slashes: "a//b" → "a/b"
//   - Drops "." elements: "./a/./b" → "a/b"
//
// Names that are empty, absolute, carry a drive letter, contain NUL or
// contain a ".." element fail with archtype.ErrUnsafePath. A name that
// reduces to the archive root, such as "./", also fails; use isRoot to
// tell that case apart.
func CleanName(name string) (string, error) {
	cleaned, err := clean(name)
	if err != nil {
		return "", err
	}
	if cleaned == "" {
		return "", fmt.Errorf("%w: %q names the archive root", archtype.ErrUnsafePath, name)
	}
	return cleaned, nil
}

// clean is CleanName without the root check; the root cleans to "".
func clean(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty name", archtype.ErrUnsafePath)
	}
	if strings.IndexByte(name, 0) >= 0 {
		return "", fmt.Errorf("%w: %q contains NUL", archtype.ErrUnsafePath, name)
	}

	p := strings.ReplaceAll(name, `\`, "/")
	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%w: %q is absolute", archtype.ErrUnsafePath, name)
	}
	if len(p) >= 2 && p[1] == ':' && isLetter(p[0]) {
		return "", fmt.Errorf("%w: %q has a drive letter", archtype.ErrUnsafePath, name)
	}

	parts := strings.Split(p, "/")
	result := parts[:0]
	for _, part := range parts {
		switch part {
		case "", ".":
			continue
		case "..":
			return "", fmt.Errorf("%w: %q escapes the archive root", archtype.ErrUnsafePath, name)
		}
		result = append(result, part)
	}
	return strings.Join(result, "/"), nil
}

// isRoot reports whether name reduces to the archive root.
func isRoot(name string) bool {
	cleaned, err := clean(name)
	return err == nil && cleaned == ""
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// streamExts maps single-stream suffixes to their replacement.
var streamExts = map[string]string{
	".gz":   "",
	".gzip": "",
	".bz2":  "",
	".bz":   "",
	".xz":   "",
	".tgz":  ".tar",
	".tbz2": ".tar",
	".tbz":  ".tar",
	".txz":  ".tar",
}

// fallbackName names a single-stream entry when neither the input label
// nor the codec header supply one.
const fallbackName = "data"

// SyntheticName names the single entry of a single-stream input. The base
// name of label is used with its compression suffix removed ("logs.txt.gz"
// becomes "logs.txt", "src.tgz" becomes "src.tar"). An empty label or "-"
// falls back to hint, the name recorded in a GZIP header, and then to "data".
func SyntheticName(label, hint string) string {
	for _, candidate := range []string{label, hint} {
		if candidate == "" || candidate == "-" {
			continue
		}
		if name := stripStreamExt(pathutil.Base(candidate)); name != "" {
			return name
		}
	}
	return fallbackName
}

func stripStreamExt(base string) string {
	stem, ext := pathutil.CutExt(base)
	if repl, ok := streamExts[strings.ToLower(ext)]; ok {
		base = stem + repl
	}
	switch base {
	case "", ".", "..":
		return ""
	}
	return base
}
