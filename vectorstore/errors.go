package vectorstore

import "errors"

var (
	// ErrDimensionMismatch is returned when a vector's length differs from
	// the collection's.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrEmptyVector is returned for searches or points without a vector.
	ErrEmptyVector = errors.New("empty vector")

	// ErrStoreClosed is returned after Close.
	ErrStoreClosed = errors.New("vector store closed")
)
