package upload

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// Source provides positioned, read-only access to the upload content.
// Distinct parts read disjoint byte ranges, so ReadAt must be safe for
// concurrent use. Implementations can read from files or memory buffers.
type Source interface {
	io.ReaderAt

	// Size returns the total content length in bytes.
	Size() int64
}

// FileSource reads upload content from a file on disk via positioned reads;
// there is no shared read cursor, so parallel part reads never contend.
type FileSource struct {
	file *os.File
	size int64
}

// OpenFileSource opens the file at path for uploading.
func OpenFileSource(path string) (*FileSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close() //nolint:errcheck
		return nil, fmt.Errorf("stat file: %w", err)
	}

	return &FileSource{file: file, size: info.Size()}, nil
}

func (s *FileSource) ReadAt(p []byte, off int64) (int, error) {
	return s.file.ReadAt(p, off)
}

func (s *FileSource) Size() int64 {
	return s.size
}

// Close closes the underlying file.
func (s *FileSource) Close() error {
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

// BytesSource serves upload content from an in-memory buffer. Useful for
// streaming scenarios where the data is already loaded, and for tests.
type BytesSource []byte

func (s BytesSource) ReadAt(p []byte, off int64) (int, error) {
	return bytes.NewReader(s).ReadAt(p, off)
}

func (s BytesSource) Size() int64 {
	return int64(len(s))
}

// readPart reads the exact byte range of spec from src.
func readPart(src Source, spec PartSpec) ([]byte, error) {
	buf := make([]byte, spec.Length)
	n, err := src.ReadAt(buf, spec.Offset)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read part %d at offset %d: %w", spec.Index, spec.Offset, err)
	}
	if int64(n) != spec.Length {
		return nil, fmt.Errorf("short read for part %d: expected %d bytes, got %d", spec.Index, spec.Length, n)
	}
	return buf, nil
}
