package bucketd

import "errors"

// Public error taxonomy. Callers match with errors.Is; the concrete error
// values carry additional context from the failing layer.
var (
	// ErrNoSuchBucket is returned when a bucket does not exist.
	ErrNoSuchBucket = errors.New("no such bucket")

	// ErrBucketAlreadyExists is returned by CreateBucket when the bucket
	// is already present.
	ErrBucketAlreadyExists = errors.New("bucket already exists")

	// ErrNoSuchObject is returned when an object key is not present in
	// its bucket.
	ErrNoSuchObject = errors.New("no such object")

	// ErrInternal is returned for any failure of the underlying store,
	// transport, or manifest machinery.
	ErrInternal = errors.New("internal error")
)
