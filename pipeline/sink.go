package pipeline

import (
	"archive/zip"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Sink receives a serialized container.
type Sink interface {
	Write(data []byte) error
}

// FileSink writes the container to a file path.
type FileSink string

func (s FileSink) Write(data []byte) error {
	return writeFile(string(s), data)
}

// ZipEntrySink stores the container as one entry of a zip archive. Other
// entries of an existing archive are copied unchanged; the archive is
// created if it does not exist.
type ZipEntrySink struct {
	Archive string
	Entry   string
}

func (s ZipEntrySink) Write(data []byte) (err error) {
	dir := filepath.Dir(s.Archive)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("pipeline: cannot create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.Archive)+".*")
	if err != nil {
		return fmt.Errorf("pipeline: cannot create archive: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	zw := zip.NewWriter(tmp)
	zr, err := zip.OpenReader(s.Archive)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return fmt.Errorf("pipeline: cannot read %s: %w", s.Archive, err)
	default:
		defer zr.Close()
		for _, f := range zr.File {
			if f.Name == s.Entry {
				continue
			}
			if err := zw.Copy(f); err != nil {
				return fmt.Errorf("pipeline: %s!%s: %w", s.Archive, f.Name, err)
			}
		}
	}

	w, err := zw.Create(s.Entry)
	if err != nil {
		return fmt.Errorf("pipeline: %s!%s: %w", s.Archive, s.Entry, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("pipeline: %s!%s: %w", s.Archive, s.Entry, err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("pipeline: %s: %w", s.Archive, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("pipeline: %s: %w", s.Archive, err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("pipeline: %s: %w", s.Archive, err)
	}
	if err := os.Rename(tmp.Name(), s.Archive); err != nil {
		return fmt.Errorf("pipeline: %s: %w", s.Archive, err)
	}
	return nil
}
