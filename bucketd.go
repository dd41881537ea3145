/*
Package bucketd provides a bucket-scoped metadata service backed by a single
embedded ordered key-value store.

One master process owns the store and serves a small length-framed RPC
protocol on a loopback port; any number of worker processes connect to it and
see an object-storage-shaped API: buckets, bucket attributes, objects, and
S3-style prefix/delimiter and multipart-upload listings.

Master side:

	master, err := bucketd.OpenMaster("/var/lib/bucketd")
	if err != nil {
		log.Fatal(err)
	}
	defer master.Close()
	if err := master.ListenAndServe(); err != nil {
		log.Fatal(err)
	}

Worker side:

	md, err := bucketd.Dial("/var/lib/bucketd")
	if err != nil {
		log.Fatal(err)
	}
	defer md.Close()

	err = md.CreateBucket("photos", attrs)
	err = md.PutObject("photos", "cats/1.jpg", value)

Each bucket lives in its own namespace of the shared store. Namespaces are
advertised to workers through a manifest file that the master rewrites
atomically whenever a bucket is created; a worker whose cached manifest turns
out to be stale reconnects once its in-flight operations have drained.
*/
package bucketd

// Metadata is the bucket/object API exposed to worker processes.
//
// Bucket attributes and object values are opaque serialized blobs; the
// service stores and returns them without interpretation.
type Metadata interface {
	// CreateBucket creates a bucket and stores its attributes.
	// Returns ErrBucketAlreadyExists if the bucket is present.
	CreateBucket(name string, attrs []byte) error

	// GetBucketAttributes returns the stored attributes of a bucket.
	// Returns ErrNoSuchBucket if the bucket does not exist.
	GetBucketAttributes(name string) ([]byte, error)

	// PutBucketAttributes replaces the stored attributes of a bucket.
	PutBucketAttributes(name string, attrs []byte) error

	// DeleteBucket removes the bucket's metadata entry. Deleting an
	// absent bucket succeeds; residual keys in the bucket's namespace
	// are tolerated.
	DeleteBucket(name string) error

	// PutObject stores an object's serialized metadata in its bucket.
	PutObject(bucket, key string, value []byte) error

	// GetObject returns an object's serialized metadata.
	// Returns ErrNoSuchObject if the key is not present.
	GetObject(bucket, key string) ([]byte, error)

	// DeleteObject removes an object's metadata from its bucket.
	DeleteObject(bucket, key string) error

	// GetBucketAndObject returns the bucket attributes together with the
	// object's metadata if the object exists. A missing object is not an
	// error: Object is nil in the result.
	GetBucketAndObject(bucket, key string) (*BucketAndObject, error)

	// ListObjects streams the bucket's keys through the plain delimiter
	// listing and returns the accumulated page.
	ListObjects(bucket string, params ListingParams) (*ListObjectsResult, error)

	// ListMultipartUploads lists in-progress multipart uploads recorded
	// in the bucket's namespace.
	ListMultipartUploads(bucket string, params ListingParams) (*MultipartUploadsResult, error)

	// Close releases the worker's connection to the master.
	Close() error
}
