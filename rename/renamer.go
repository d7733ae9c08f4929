package rename

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
)

// ErrCollision is returned when the destination exists and overwriting is disabled.
var ErrCollision = errors.New("destination already exists")

// IOError wraps a failed filesystem rename. The source file is left in place.
type IOError struct {
	Src, Dst string
	Err      error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("rename %s -> %s: %v", e.Src, e.Dst, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Outcome describes what Rename did.
type Outcome int

const (
	Unchanged Outcome = iota
	Renamed
	Replaced
)

func (o Outcome) String() string {
	switch o {
	case Renamed:
		return "renamed"
	case Replaced:
		return "replaced"
	default:
		return "unchanged"
	}
}

// Renamer moves finished output files to their templated names.
type Renamer struct {
	Overwrite bool
}

// Resolve places a relative destination next to src.
func Resolve(src, dst string) string {
	if filepath.IsAbs(dst) {
		return filepath.Clean(dst)
	}
	return filepath.Join(filepath.Dir(src), dst)
}

// Rename moves src to dst.
func (r Renamer) Rename(src, dst string) (Outcome, error) {
	if dst == "" {
		return Unchanged, &IOError{Src: src, Dst: dst, Err: errors.New("empty destination")}
	}
	if filepath.Clean(src) == filepath.Clean(dst) {
		return Unchanged, nil
	}
	existed := false
	if st, err := os.Stat(dst); err == nil {
		if st.IsDir() {
			return Unchanged, &IOError{Src: src, Dst: dst, Err: errors.New("destination is a directory")}
		}
		if !r.Overwrite {
			return Unchanged, fmt.Errorf("rename %s -> %s: %w", src, dst, ErrCollision)
		}
		existed = true
	} else if !errors.Is(err, os.ErrNotExist) {
		return Unchanged, &IOError{Src: src, Dst: dst, Err: err}
	}
	if err := renameOrMove(src, dst); err != nil {
		return Unchanged, &IOError{Src: src, Dst: dst, Err: err}
	}
	if existed {
		return Replaced, nil
	}
	return Renamed, nil
}

var osRename = os.Rename

// renameOrMove prefers os.Rename and falls back to copy+sync+remove when src
// and dst live on different filesystems.
func renameOrMove(src, dst string) error {
	err := osRename(src, dst)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) || !errors.Is(linkErr.Err, syscall.EXDEV) {
		return err
	}
	if err := copyFileSync(src, dst); err != nil {
		return fmt.Errorf("cross-device move: copy: %w", err)
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("cross-device move: remove %s: %w", src, err)
	}
	return nil
}

// copyFileSync copies src into a temporary file next to dst and renames it
// over dst, so an existing dst is untouched when the copy fails.
func copyFileSync(src, dst string) error {
	st, err := os.Stat(src)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	_, copyErr := io.Copy(tmp, in)
	syncErr := tmp.Sync()
	closeErr := tmp.Close()
	for _, err := range []error{copyErr, syncErr, closeErr} {
		if err != nil {
			_ = os.Remove(tmpPath)
			return err
		}
	}
	if err := os.Chmod(tmpPath, st.Mode()&os.ModePerm); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	_ = os.Chtimes(tmpPath, st.ModTime(), st.ModTime())
	if err := os.Rename(tmpPath, dst); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}
