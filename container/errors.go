package container

import "errors"

// Sentinel errors shared by all container formats. Callers classify
// failures with errors.Is; concrete errors wrap these with positional
// detail (coordinate, offset, path).
var (
	// ErrFormat is returned when a container signature, header, or tile
	// format is unrecognized or unsupported.
	ErrFormat = errors.New("container: unrecognized format")

	// ErrCorrupt is returned when index data is internally inconsistent,
	// e.g. an offset/length pair pointing outside the archive. Never
	// retried.
	ErrCorrupt = errors.New("container: corrupt archive")

	// ErrOrder is returned by order-sensitive writers when a tile write
	// arrives after its region of the index has already been flushed.
	ErrOrder = errors.New("container: out-of-order tile write")

	// ErrFinalized is returned when a finalized writer is used again.
	ErrFinalized = errors.New("container: writer already finalized")

	// ErrConfig is returned for invalid caller-supplied configuration:
	// zoom ranges, bboxes, format/compression combinations.
	ErrConfig = errors.New("container: invalid configuration")
)
