// Package listing streams a ranged namespace scan through a pluggable
// filter extension: the plain delimiter listing and the multipart-upload
// listing.
package listing

import (
	"fmt"

	"github.com/aigotowork/bucketd/internal/keyspace"
	"github.com/aigotowork/bucketd/internal/logging"
	"github.com/aigotowork/bucketd/internal/wire"
)

// TypeMultipartUploads selects the multipart-upload range derivation in
// Range; any other listing type selects the plain one. The extension itself
// is chosen by the caller.
const TypeMultipartUploads = "multipartuploads"

// DefaultSplitter separates the segments of a multipart overview key.
const DefaultSplitter = "..|.."

// DefaultMaxKeys is applied when a caller leaves the bound unset.
const DefaultMaxKeys = 1000

// overviewTag marks the per-upload overview records in a bucket namespace.
const overviewTag = "overview"

// Params are the recognized listing options.
type Params struct {
	Type      string
	Prefix    string
	Marker    string
	Delimiter string

	// MaxKeys bounds the page size. Zero is an explicit empty page;
	// negative means unset and falls back to DefaultMaxKeys.
	MaxKeys int

	KeyMarker         string
	UploadIDMarker    string
	Splitter          string
	QueryPrefixLength int
}

func (p Params) maxKeys() int {
	if p.MaxKeys < 0 {
		return DefaultMaxKeys
	}
	return p.MaxKeys
}

func (p Params) splitter() string {
	if p.Splitter == "" {
		return DefaultSplitter
	}
	return p.Splitter
}

// Cursor is the scan stream the engine consumes.
type Cursor interface {
	Next() bool
	Key() []byte
	Value() []byte
	Err() error
	Close() error
}

// Extension filters scanned entries and accumulates the listing payload.
// Filter returning false terminates the scan early.
type Extension interface {
	Filter(key, value []byte) bool
}

// Entry is one object record accumulated by an extension.
type Entry struct {
	Key   string
	Value []byte
}

// Upload is one multipart-upload record accumulated by an extension.
type Upload struct {
	Key      string
	UploadID string
	Value    []byte
}

// ObjectsResult is the delimiter extension's payload.
type ObjectsResult struct {
	Contents       []Entry
	CommonPrefixes []string
	IsTruncated    bool
	NextMarker     string
}

// UploadsResult is the multipart extension's payload.
type UploadsResult struct {
	Uploads            []Upload
	CommonPrefixes     []string
	IsTruncated        bool
	NextKeyMarker      string
	NextUploadIDMarker string
}

// Range derives the scan bounds from the listing params. The prefix forms
// the half-open interval [prefix, advance(prefix)); markers move the lower
// bound strictly past everything they name.
func Range(p Params) wire.RangeSpec {
	if p.Type == TypeMultipartUploads {
		return uploadsRange(p)
	}

	var spec wire.RangeSpec
	if p.Prefix != "" {
		spec.Start = []byte(p.Prefix)
		if end, ok := keyspace.Advance([]byte(p.Prefix)); ok {
			spec.LT = end
		}
	}
	if p.Marker != "" {
		spec.GT = []byte(p.Marker)
	}
	return spec
}

func uploadsRange(p Params) wire.RangeSpec {
	splitter := p.splitter()

	var spec wire.RangeSpec
	base := overviewTag + splitter + p.Prefix
	spec.Start = []byte(base)
	if end, ok := keyspace.Advance([]byte(base)); ok {
		spec.LT = end
	}
	if p.KeyMarker != "" {
		mark := overviewTag + splitter + p.KeyMarker + splitter + p.UploadIDMarker
		if lower, ok := keyspace.Advance([]byte(mark)); ok {
			spec.GTE = lower
		}
	}
	return spec
}

// Run drains the cursor through the extension. The cursor is always closed:
// on early termination, on end, and on error; the caller reads the payload
// off the extension exactly once afterwards.
func Run(cur Cursor, ext Extension, log logging.Logger) error {
	defer cur.Close()

	for cur.Next() {
		if !ext.Filter(cur.Key(), cur.Value()) {
			return nil
		}
	}
	if err := cur.Err(); err != nil {
		log.Error("listing scan failed", logging.F("error", err))
		return fmt.Errorf("listing scan failed: %w", err)
	}
	return nil
}
