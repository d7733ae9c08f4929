package fileformat

import (
	"bytes"
	"io"
	"os"

	"github.com/h2non/filetype"
)

// RootMIME is the MIME type registered for ROOT archive files.
const RootMIME = "application/x-root"

const sniffLen = 261

var (
	rootMagic = []byte("root")
	rootType  = filetype.NewType("root", RootMIME)
)

func init() {
	filetype.AddMatcher(rootType, func(buf []byte) bool {
		return bytes.HasPrefix(buf, rootMagic)
	})
}

// Detect returns the MIME type of the file at path using its leading bytes,
// or "unknown".
func Detect(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	buf := make([]byte, sniffLen)
	n, err := io.ReadFull(file, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", err
	}
	if n == 0 {
		return "unknown", nil
	}
	kind, err := filetype.Match(buf[:n])
	if err != nil {
		return "", err
	}
	if kind == filetype.Unknown || kind.MIME.Value == "" {
		return "unknown", nil
	}
	return kind.MIME.Value, nil
}

// IsArchive reports whether path holds a ROOT archive. The file name is not
// consulted.
func IsArchive(path string) (bool, error) {
	mime, err := Detect(path)
	if err != nil {
		return false, err
	}
	return mime == RootMIME, nil
}

// Checker adapts IsArchive to the format check collaborator interface.
type Checker struct{}

func (Checker) IsArchive(path string) (bool, error) {
	return IsArchive(path)
}
