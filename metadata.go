package bucketd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aigotowork/bucketd/internal/client"
	"github.com/aigotowork/bucketd/internal/kv"
	"github.com/aigotowork/bucketd/internal/listing"
	"github.com/aigotowork/bucketd/internal/metastore"
)

// UsersBucket is the well-known bucket created at master startup.
const UsersBucket = metastore.UsersBucket

// Dial connects a worker to the master advertised under metadataPath and
// returns the metadata API.
func Dial(metadataPath string, opts ...Option) (Metadata, error) {
	o := applyOptions(opts)
	c, err := client.Dial(client.Config{
		MetadataPath: metadataPath,
		Addr:         o.addr,
		Log:          o.logger,
	})
	if err != nil {
		return nil, err
	}
	return &metadata{c: c, log: o.logger}, nil
}

// metadata implements Metadata over one client session.
type metadata struct {
	c   *client.Client
	log Logger
}

// internalf logs an unexpected failure and maps it to ErrInternal, keeping
// the underlying error text alongside the public one.
func (m *metadata) internalf(err error, msg string, fields ...Field) error {
	m.log.Error(msg, append(fields, F("error", err))...)
	return fmt.Errorf("%w: %v", ErrInternal, err)
}

// namespaceFor returns a handle on a namespace, reconnecting once when the
// cached manifest turns out to be stale. A second stale failure surfaces as
// ErrInternal.
func (m *metadata) namespaceFor(name string) (*client.Handle, error) {
	h, err := m.c.Namespace(name)
	if err == nil {
		return h, nil
	}
	if !errors.Is(err, client.ErrStaleManifest) {
		return nil, m.internalf(err, "namespace lookup failed", F("namespace", name))
	}
	if err := m.c.Reconnect(); err != nil {
		return nil, m.internalf(err, "reconnect failed", F("namespace", name))
	}
	h, err = m.c.Namespace(name)
	if err != nil {
		return nil, m.internalf(err, "namespace lookup failed after reconnect",
			F("namespace", name))
	}
	return h, nil
}

// nsBackend adapts a namespace handle to the metastore's synchronous view.
type nsBackend struct {
	h *client.Handle
}

func (b nsBackend) Get(key []byte) ([]byte, error) { return b.h.Get(key) }
func (b nsBackend) Put(key, value []byte) error    { return b.h.Put(key, value, true) }
func (b nsBackend) Delete(key []byte) error        { return b.h.Delete(key, true) }

// metastoreFor opens the metastore namespace. The returned handle carries
// the release obligation for the whole call.
func (m *metadata) metastoreFor() (*metastore.Store, *client.Handle, error) {
	h, err := m.namespaceFor(metastore.Namespace)
	if err != nil {
		return nil, nil, err
	}
	return metastore.New(nsBackend{h: h}), h, nil
}

func (m *metadata) CreateBucket(name string, attrs []byte) error {
	ms, h, err := m.metastoreFor()
	if err != nil {
		return err
	}
	defer h.Close()

	exists, err := ms.HasBucket(name)
	if err != nil {
		return m.internalf(err, "bucket existence check failed", F("bucket", name))
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrBucketAlreadyExists, name)
	}

	if err := m.c.CreateNamespace(name); err != nil {
		return m.internalf(err, "namespace create failed", F("bucket", name))
	}
	if err := ms.PutBucketAttrs(name, attrs); err != nil {
		return m.internalf(err, "bucket attributes write failed", F("bucket", name))
	}
	return nil
}

func (m *metadata) GetBucketAttributes(name string) ([]byte, error) {
	ms, h, err := m.metastoreFor()
	if err != nil {
		return nil, err
	}
	defer h.Close()

	attrs, err := ms.GetBucketAttrs(name)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchBucket, name)
	}
	if err != nil {
		return nil, m.internalf(err, "bucket attributes read failed", F("bucket", name))
	}
	return attrs, nil
}

func (m *metadata) PutBucketAttributes(name string, attrs []byte) error {
	ms, h, err := m.metastoreFor()
	if err != nil {
		return err
	}
	defer h.Close()

	if err := ms.PutBucketAttrs(name, attrs); err != nil {
		return m.internalf(err, "bucket attributes write failed", F("bucket", name))
	}
	return nil
}

func (m *metadata) DeleteBucket(name string) error {
	ms, h, err := m.metastoreFor()
	if err != nil {
		return err
	}
	defer h.Close()

	// Residual keys in the bucket's namespace and the manifest entry are
	// tolerated; only the metastore record goes away.
	if err := ms.DeleteBucket(name); err != nil {
		return m.internalf(err, "bucket delete failed", F("bucket", name))
	}
	return nil
}

// loadBucket checks the bucket exists and returns its namespace handle.
func (m *metadata) loadBucket(bucket string) (*client.Handle, error) {
	ms, msh, err := m.metastoreFor()
	if err != nil {
		return nil, err
	}
	defer msh.Close()

	exists, err := ms.HasBucket(bucket)
	if err != nil {
		return nil, m.internalf(err, "bucket existence check failed", F("bucket", bucket))
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchBucket, bucket)
	}
	// Release the metastore handle first: opening the bucket may reconnect,
	// and a reconnect waits for every outstanding handle.
	msh.Close()
	return m.namespaceFor(bucket)
}

func (m *metadata) PutObject(bucket, key string, value []byte) error {
	h, err := m.loadBucket(bucket)
	if err != nil {
		return err
	}
	defer h.Close()

	if err := h.Put([]byte(key), value, true); err != nil {
		return m.internalf(err, "object write failed",
			F("bucket", bucket), F("key", key))
	}
	return nil
}

func (m *metadata) GetObject(bucket, key string) ([]byte, error) {
	h, err := m.loadBucket(bucket)
	if err != nil {
		return nil, err
	}
	defer h.Close()

	value, err := h.Get([]byte(key))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNoSuchObject, bucket, key)
	}
	if err != nil {
		return nil, m.internalf(err, "object read failed",
			F("bucket", bucket), F("key", key))
	}
	return value, nil
}

func (m *metadata) DeleteObject(bucket, key string) error {
	h, err := m.loadBucket(bucket)
	if err != nil {
		return err
	}
	defer h.Close()

	if err := h.Delete([]byte(key), true); err != nil {
		return m.internalf(err, "object delete failed",
			F("bucket", bucket), F("key", key))
	}
	return nil
}

func (m *metadata) GetBucketAndObject(bucket, key string) (*BucketAndObject, error) {
	ms, msh, err := m.metastoreFor()
	if err != nil {
		return nil, err
	}
	defer msh.Close()

	attrs, err := ms.GetBucketAttrs(bucket)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchBucket, bucket)
	}
	if err != nil {
		return nil, m.internalf(err, "bucket attributes read failed", F("bucket", bucket))
	}

	// As in loadBucket, the metastore handle goes before a possible reconnect.
	msh.Close()
	h, err := m.namespaceFor(bucket)
	if err != nil {
		return nil, err
	}
	defer h.Close()

	result := &BucketAndObject{Bucket: attrs}
	value, err := h.Get([]byte(key))
	if errors.Is(err, kv.ErrNotFound) {
		// A missing object is not an error here.
		return result, nil
	}
	if err != nil {
		return nil, m.internalf(err, "object read failed",
			F("bucket", bucket), F("key", key))
	}
	result.Object = value
	return result, nil
}

func listingParams(params ListingParams) listing.Params {
	return listing.Params{
		Type:              params.ListingType,
		Prefix:            params.Prefix,
		Marker:            params.Marker,
		Delimiter:         params.Delimiter,
		MaxKeys:           params.MaxKeys,
		KeyMarker:         params.KeyMarker,
		UploadIDMarker:    params.UploadIDMarker,
		Splitter:          params.Splitter,
		QueryPrefixLength: params.QueryPrefixLength,
	}
}

func (m *metadata) ListObjects(bucket string, params ListingParams) (*ListObjectsResult, error) {
	h, err := m.loadBucket(bucket)
	if err != nil {
		return nil, err
	}
	defer h.Close()

	lp := listingParams(params)
	lp.Type = ""
	scan, err := h.Scan(listing.Range(lp))
	if err != nil {
		return nil, m.internalf(err, "listing scan open failed", F("bucket", bucket))
	}

	ext := listing.NewDelimiter(lp)
	if err := listing.Run(scan, ext, m.log); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	res := ext.Result()
	out := &ListObjectsResult{
		CommonPrefixes: res.CommonPrefixes,
		IsTruncated:    res.IsTruncated,
		NextMarker:     res.NextMarker,
	}
	for _, e := range res.Contents {
		out.Contents = append(out.Contents, ObjectEntry{
			Key:   e.Key,
			Value: json.RawMessage(e.Value),
		})
	}
	return out, nil
}

func (m *metadata) ListMultipartUploads(bucket string, params ListingParams) (*MultipartUploadsResult, error) {
	h, err := m.loadBucket(bucket)
	if err != nil {
		return nil, err
	}
	defer h.Close()

	lp := listingParams(params)
	lp.Type = listing.TypeMultipartUploads
	scan, err := h.Scan(listing.Range(lp))
	if err != nil {
		return nil, m.internalf(err, "listing scan open failed", F("bucket", bucket))
	}

	ext := listing.NewMultipartUploads(lp)
	if err := listing.Run(scan, ext, m.log); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	res := ext.Result()
	out := &MultipartUploadsResult{
		CommonPrefixes:     res.CommonPrefixes,
		IsTruncated:        res.IsTruncated,
		NextKeyMarker:      res.NextKeyMarker,
		NextUploadIDMarker: res.NextUploadIDMarker,
	}
	for _, u := range res.Uploads {
		out.Uploads = append(out.Uploads, UploadEntry{
			Key:      u.Key,
			UploadID: u.UploadID,
			Value:    json.RawMessage(u.Value),
		})
	}
	return out, nil
}

func (m *metadata) Close() error {
	return m.c.Close()
}
