package source

import "io"

// Mem is an in-memory DataSource, used by tests and for archives that were
// already fetched whole.
type Mem struct {
	data []byte
	name string
}

var _ DataSource = (*Mem)(nil)

// NewMem returns a DataSource backed by data. The slice is retained, not
// copied.
func NewMem(name string, data []byte) *Mem {
	return &Mem{data: data, name: name}
}

// ReadAt implements io.ReaderAt over the backing slice.
func (s *Mem) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(s.data)) {
		return 0, io.EOF
	}
	n := copy(p, s.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Size returns the length of the backing slice.
func (s *Mem) Size() int64 {
	return int64(len(s.data))
}

// Name returns the identifier supplied at construction.
func (s *Mem) Name() string {
	return s.name
}

// Close is a no-op.
func (s *Mem) Close() error {
	return nil
}

// Bytes exposes the backing slice so tests can corrupt specific offsets.
func (s *Mem) Bytes() []byte {
	return s.data
}
