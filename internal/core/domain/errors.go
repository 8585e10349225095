package domain

import "errors"

var (
	// ErrClassification means a token matched none of the known IoC shapes.
	ErrClassification = errors.New("classification failure")

	// ErrNormalization means a token passed classification but has no valid
	// canonical form. Callers treat it like ErrClassification.
	ErrNormalization = errors.New("normalization failure")

	// ErrMergeConflict is returned by a store when a write was based on a stale
	// version of the record.
	ErrMergeConflict = errors.New("merge conflict")

	// ErrStoreUnavailable wraps any backend failure that is not a lookup miss
	// or a conflict. It is fatal for the source being merged.
	ErrStoreUnavailable = errors.New("store unavailable")

	ErrNotFound = errors.New("record not found")
)

// IsUnrecognized reports whether err means the token should be skipped.
func IsUnrecognized(err error) bool {
	return errors.Is(err, ErrClassification) || errors.Is(err, ErrNormalization)
}
