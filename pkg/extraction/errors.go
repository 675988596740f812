package extraction

import "errors"

var (
	// ErrInstanceUncroppable marks an instance whose bounding box sits too close
	// to an image edge to support a full crop. Callers skip it.
	ErrInstanceUncroppable = errors.New("extraction: instance bounding box cannot support a crop")

	// ErrDegenerateInstance marks an id with no matching pixels
	ErrDegenerateInstance = errors.New("extraction: instance has no pixels")

	// ErrAlignmentInvariant is raised by verify mode when a masked crop does not
	// line up with its source mask
	ErrAlignmentInvariant = errors.New("extraction: crop and mask are misaligned")

	// ErrLengthMismatch is a caller contract violation: masks and images must be
	// parallel sequences
	ErrLengthMismatch = errors.New("extraction: masks and images differ in length")

	// ErrShapeMismatch marks a field of view whose mask and image disagree in size
	ErrShapeMismatch = errors.New("extraction: mask and image differ in shape")
)
