package bucketd

import (
	"encoding/json"
	"time"
)

// BucketInfo is the metadata record stored for each bucket. The core treats
// stored attributes as an opaque blob; this type exists for callers (and the
// master's own bootstrap) that serialize the conventional shape.
type BucketInfo struct {
	// Name of the bucket
	Name string `json:"name"`

	// Owner of the bucket
	Owner string `json:"owner"`

	// CreationDate in ISO-8601 UTC
	CreationDate string `json:"creationDate"`

	// ACL is an opaque access-control document
	ACL json.RawMessage `json:"acl,omitempty"`
}

// NewBucketInfo builds a BucketInfo stamped with the given creation time.
func NewBucketInfo(name, owner string, created time.Time) BucketInfo {
	return BucketInfo{
		Name:         name,
		Owner:        owner,
		CreationDate: created.UTC().Format(time.RFC3339),
	}
}

// BucketAndObject is the result of GetBucketAndObject. Object is nil when
// the requested key is not present in the bucket.
type BucketAndObject struct {
	Bucket []byte
	Object []byte
}

// ListingTypeMultipartUploads is the listing type name of the
// multipart-upload listing. ListObjects and ListMultipartUploads do not read
// ListingParams.ListingType, so setting it selects nothing.
const ListingTypeMultipartUploads = "multipartuploads"

// ListingParams controls ListObjects and ListMultipartUploads.
type ListingParams struct {
	// ListingType names a listing extension. It is ignored: ListObjects
	// always runs the plain delimiter listing and ListMultipartUploads
	// always runs the multipart-upload listing.
	ListingType string

	// Prefix restricts the listing to keys with this prefix.
	Prefix string

	// Marker starts a plain listing strictly after this key.
	Marker string

	// Delimiter groups keys sharing the segment up to and including the
	// first delimiter after the prefix into common prefixes.
	Delimiter string

	// MaxKeys bounds the number of returned keys and common prefixes.
	MaxKeys int

	// KeyMarker and UploadIDMarker resume a multipart-upload listing
	// strictly after the given (key, uploadId) pair.
	KeyMarker      string
	UploadIDMarker string

	// Splitter separates the segments of a multipart-upload overview
	// key. Defaults to the conventional "..|..".
	Splitter string

	// QueryPrefixLength bytes are stripped from each raw key before the
	// multipart extension parses it.
	QueryPrefixLength int
}

// ObjectEntry is one object in a listing page.
type ObjectEntry struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// ListObjectsResult is the page produced by the plain delimiter listing.
type ListObjectsResult struct {
	Contents       []ObjectEntry `json:"Contents"`
	CommonPrefixes []string      `json:"CommonPrefixes"`
	IsTruncated    bool          `json:"IsTruncated"`
	NextMarker     string        `json:"NextMarker,omitempty"`
}

// UploadEntry is one in-progress multipart upload in a listing page.
type UploadEntry struct {
	Key      string          `json:"key"`
	UploadID string          `json:"uploadId"`
	Value    json.RawMessage `json:"value"`
}

// MultipartUploadsResult is the page produced by the multipart-upload
// listing.
type MultipartUploadsResult struct {
	Uploads            []UploadEntry `json:"Uploads"`
	CommonPrefixes     []string      `json:"CommonPrefixes"`
	IsTruncated        bool          `json:"IsTruncated"`
	NextKeyMarker      string        `json:"NextKeyMarker,omitempty"`
	NextUploadIDMarker string        `json:"NextUploadIdMarker,omitempty"`
}
