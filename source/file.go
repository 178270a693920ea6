package source

import (
	"fmt"
	"os"
)

// File is a DataSource backed by a local file.
type File struct {
	f    *os.File
	size int64
	name string
}

var _ DataSource = (*File)(nil)

// OpenFile opens path for random-access reads. The size is captured at open
// time; archives are write-once, so it never changes afterwards.
func OpenFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("source: %s is a directory", path)
	}
	return &File{f: f, size: info.Size(), name: path}, nil
}

// ReadAt implements io.ReaderAt.
func (s *File) ReadAt(p []byte, off int64) (int, error) {
	return s.f.ReadAt(p, off)
}

// Size returns the file length at open time.
func (s *File) Size() int64 {
	return s.size
}

// Name returns the file path.
func (s *File) Name() string {
	return s.name
}

// Close closes the underlying file.
func (s *File) Close() error {
	return s.f.Close()
}
