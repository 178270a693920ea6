package blob

import "fmt"

// TargetSet is a set of acceptable compression schemes, e.g. the schemes a
// HTTP client advertised in Accept-Encoding.
type TargetSet uint8

// Targets builds a TargetSet from the given schemes.
func Targets(cs ...Compression) TargetSet {
	var s TargetSet
	for _, c := range cs {
		s |= 1 << c
	}
	return s
}

// Has reports whether c is in the set.
func (s TargetSet) Has(c Compression) bool {
	return s&(1<<c) != 0
}

// With returns a copy of the set that includes c.
func (s TargetSet) With(c Compression) TargetSet {
	return s | 1<<c
}

// IsEmpty reports whether the set contains no schemes.
func (s TargetSet) IsEmpty() bool {
	return s == 0
}

// Optimize converts b to the most suitable compression in targets.
//
// With best set, Optimize always picks the strongest accepted scheme
// (brotli over gzip over none), re-encoding as needed. Without best it keeps
// the stored compression whenever it is accepted, and otherwise converts
// with a preference for cheap transitions: a decompression alone beats a
// decompress-plus-recompress.
//
// An empty target set is a caller error.
func Optimize(b Blob, targets TargetSet, best bool) (Blob, error) {
	if targets.IsEmpty() {
		return Blob{}, fmt.Errorf("%w: empty target set", ErrUnsupported)
	}

	if !best && targets.Has(b.compression) {
		return b, nil
	}

	switch b.compression {
	case CompressionNone:
		if targets.Has(CompressionBrotli) {
			return Compress(b.data, CompressionBrotli)
		}
		if targets.Has(CompressionGzip) {
			return Compress(b.data, CompressionGzip)
		}
		return b, nil

	case CompressionGzip:
		if targets.Has(CompressionBrotli) {
			return recode(b, CompressionBrotli)
		}
		if targets.Has(CompressionGzip) {
			return b, nil
		}
		return recode(b, CompressionNone)

	case CompressionBrotli:
		if targets.Has(CompressionBrotli) {
			return b, nil
		}
		raw, err := Decompress(b)
		if err != nil {
			return Blob{}, err
		}
		if targets.Has(CompressionGzip) {
			return Compress(raw, CompressionGzip)
		}
		return Raw(raw), nil

	default:
		return Blob{}, fmt.Errorf("%w: %d", ErrUnsupported, b.compression)
	}
}

func recode(b Blob, target Compression) (Blob, error) {
	raw, err := Decompress(b)
	if err != nil {
		return Blob{}, err
	}
	return Compress(raw, target)
}
