package authi

import "errors"

var (
	// ErrEncoderUnavailable is returned while the encoder or the reference table is not yet published.
	ErrEncoderUnavailable = errors.New("encoder unavailable")
	// ErrEncoderRequired is returned when a nil encoder is passed to a constructor.
	ErrEncoderRequired = errors.New("encoder is required")
	// ErrDimensionMismatch is returned when two vectors have different lengths.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrZeroVector is returned when a vector is empty or has zero magnitude.
	ErrZeroVector = errors.New("zero vector")
	// ErrInvalidResultBounds is returned when minResults/maxResults are not 0 < min <= max.
	ErrInvalidResultBounds = errors.New("invalid result bounds")
	// ErrNoConditions is returned when a conditions file yields no usable rows.
	ErrNoConditions = errors.New("no conditions found")
)
