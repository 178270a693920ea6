// Package blob models tile payloads as byte buffers tagged with their
// compression scheme, and implements conversion between schemes.
//
// A Blob is immutable once constructed; recompression produces a new Blob.
// The compression tag is authoritative: it is set by whoever constructed the
// blob and is never inferred from the bytes.
package blob

// Blob is an owned byte buffer plus its compression tag.
//
// The zero value is an empty uncompressed blob.
type Blob struct {
	data        []byte
	compression Compression
}

// New creates a Blob carrying data with the given compression tag. The tag
// must match the actual encoding of data; New does not verify it.
func New(data []byte, c Compression) Blob {
	return Blob{data: data, compression: c}
}

// Raw creates an uncompressed Blob.
func Raw(data []byte) Blob {
	return Blob{data: data, compression: CompressionNone}
}

// Bytes returns the stored (possibly compressed) bytes. The returned slice
// must be treated as read-only.
func (b Blob) Bytes() []byte {
	return b.data
}

// Len returns the stored byte length.
func (b Blob) Len() int {
	return len(b.data)
}

// Compression returns the blob's compression tag.
func (b Blob) Compression() Compression {
	return b.compression
}
