// Package archive opens an uploaded content package in memory.
package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// MaxEntrySize caps how much of a single entry is read.
const MaxEntrySize = 64 << 20

var (
	ErrCorrupt       = errors.New("package is corrupt or not a zip archive")
	ErrNotFound      = errors.New("file not found in package")
	ErrEntryTooLarge = errors.New("package entry too large")
)

// Archive is a read-only view over a zip buffer with normalized paths.
type Archive struct {
	files map[string]*zip.File
	lower map[string]string
	names []string // archive order, files only
}

// Open parses buf as a zip archive.
func Open(buf []byte) (*Archive, error) {
	if len(buf) == 0 {
		return nil, fmt.Errorf("%w: empty upload", ErrCorrupt)
	}
	zr, err := zip.NewReader(bytes.NewReader(buf), int64(len(buf)))
	if errors.Is(err, zip.ErrInsecurePath) && zr != nil {
		err = nil // unsafe names are filtered by Normalize below
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	a := &Archive{
		files: make(map[string]*zip.File, len(zr.File)),
		lower: make(map[string]string, len(zr.File)),
	}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name, ok := Normalize(f.Name)
		if !ok {
			continue
		}
		if _, dup := a.files[name]; dup {
			continue
		}
		a.files[name] = f
		a.names = append(a.names, name)
		if _, seen := a.lower[strings.ToLower(name)]; !seen {
			a.lower[strings.ToLower(name)] = name
		}
	}
	return a, nil
}

// Normalize converts an entry name to a slash separated relative path. It
// reports false for entries that would escape the package root.
func Normalize(name string) (string, bool) {
	name = strings.ReplaceAll(name, "\\", "/")
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return "", false
		}
	}
	name = strings.TrimPrefix(path.Clean("/"+name), "/")
	if name == "" || name == "." {
		return "", false
	}
	return name, true
}

// Files lists file paths in archive order.
func (a *Archive) Files() []string {
	out := make([]string, len(a.names))
	copy(out, a.names)
	return out
}

func (a *Archive) Has(p string) bool {
	_, ok := a.lookup(p)
	return ok
}

// Lookup returns the stored path matching p exactly, or case-insensitively.
func (a *Archive) Lookup(p string) (string, bool) {
	f, ok := a.lookup(p)
	if !ok {
		return "", false
	}
	n, _ := Normalize(f.Name)
	return n, true
}

func (a *Archive) lookup(p string) (*zip.File, bool) {
	n, ok := Normalize(p)
	if !ok {
		return nil, false
	}
	if f, ok := a.files[n]; ok {
		return f, true
	}
	if real, ok := a.lower[strings.ToLower(n)]; ok {
		return a.files[real], true
	}
	return nil, false
}

func (a *Archive) Size(p string) int64 {
	f, ok := a.lookup(p)
	if !ok {
		return 0
	}
	return int64(f.UncompressedSize64)
}

// ReadBytes reads the entry at p.
func (a *Archive) ReadBytes(p string) ([]byte, error) {
	f, ok := a.lookup(p)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	if f.UncompressedSize64 > MaxEntrySize {
		return nil, fmt.Errorf("%w: %s", ErrEntryTooLarge, p)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrCorrupt, p, err)
	}
	defer rc.Close()
	b, err := io.ReadAll(io.LimitReader(rc, MaxEntrySize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrCorrupt, p, err)
	}
	if len(b) > MaxEntrySize {
		return nil, fmt.Errorf("%w: %s", ErrEntryTooLarge, p)
	}
	return b, nil
}

// ReadText reads the entry at p as text, dropping a UTF-8 byte order mark.
func (a *Archive) ReadText(p string) (string, error) {
	b, err := a.ReadBytes(p)
	if err != nil {
		return "", err
	}
	return string(bytes.TrimPrefix(b, []byte("\xef\xbb\xbf"))), nil
}
